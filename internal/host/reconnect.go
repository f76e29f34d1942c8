package host

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultReconnectTimeout = 30 * time.Second

// CommandReconnector runs a shell command to make the host rebind. The new
// port is passed in PORTSYNC_PORT.
type CommandReconnector struct {
	Command string
	Dir     string
	Timeout time.Duration
	Log     logrus.FieldLogger
}

// RequestReconnect runs the command and waits for it, bounded by Timeout.
func (c *CommandReconnector) RequestReconnect(ctx context.Context, port int) error {
	if strings.TrimSpace(c.Command) == "" {
		return errors.New("reconnect command is empty")
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultReconnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, shell(), "-c", c.Command)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), "PORTSYNC_PORT="+strconv.Itoa(port))
	cmd.WaitDelay = time.Second

	start := time.Now()
	out, err := cmd.CombinedOutput()
	if c.Log != nil {
		c.Log.WithFields(logrus.Fields{
			"function": "RequestReconnect",
			"command":  c.Command,
			"port":     port,
			"duration": time.Since(start).String(),
			"output":   strings.TrimSpace(string(out)),
		}).Debug("Reconnect command finished")
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("reconnect command timed out after %s", timeout)
		}
		return fmt.Errorf("reconnect command: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func shell() string {
	if _, err := exec.LookPath("bash"); err == nil {
		return "bash"
	}
	return "sh"
}

// WebhookReconnector POSTs {"port":N} to URL.
type WebhookReconnector struct {
	URL    string
	Token  string
	Client *http.Client
}

// NewWebhookReconnector returns a reconnector with its own HTTP client.
func NewWebhookReconnector(url, token string, timeout time.Duration) *WebhookReconnector {
	if timeout <= 0 {
		timeout = defaultReconnectTimeout
	}
	return &WebhookReconnector{
		URL:    url,
		Token:  token,
		Client: &http.Client{Timeout: timeout},
	}
}

// RequestReconnect sends the request; any non-2xx status is an error.
func (w *WebhookReconnector) RequestReconnect(ctx context.Context, port int) error {
	body, err := json.Marshal(map[string]int{"port": port})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build reconnect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.Token)
	}

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("reconnect webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("reconnect webhook returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Reconnector is the interface satisfied by every reconnect adapter.
type Reconnector interface {
	RequestReconnect(ctx context.Context, port int) error
}

// MultiReconnector runs every reconnector in order and joins their errors.
type MultiReconnector []Reconnector

func (m MultiReconnector) RequestReconnect(ctx context.Context, port int) error {
	var errs []error
	for _, r := range m {
		if err := r.RequestReconnect(ctx, port); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
