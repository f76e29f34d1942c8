// Command portsyncctl talks to a running portsync daemon over its HTTP API.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"reflect"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mycoool/portsync/internal/config"
)

const usage = `usage: portsyncctl [flags] <command>

commands:
  status            show the monitored port and the last reconcile outcome
  check             force a reconcile pass now
  history [action]  list recorded port events, optionally filtered by action
  logs [level]      list persisted warnings and errors
  config            show the live monitor configuration
  set key=value...  update monitor options (check_interval, log_level, ...)
  system            show host and daemon information
  login             print a fresh API token
  watch             stream reconcile events until interrupted

flags:
`

// defaultServer is where a daemon with the default configuration listens.
const defaultServer = "http://" + config.DefaultAPIListen

type runtimeConfig struct {
	Server   string
	Token    string
	User     string
	Password string
	Timeout  time.Duration
	Page     int
	PageSize int
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("portsyncctl: ")

	cfg, args := loadConfig()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, args, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func loadConfig() (runtimeConfig, []string) {
	var (
		flagServer   = flag.String("server", "", "portsync API base URL (env PORTSYNC_SERVER, default "+defaultServer+")")
		flagToken    = flag.String("token", "", "API token (env PORTSYNC_TOKEN)")
		flagUser     = flag.String("user", "", "username used to log in when no token is set (env PORTSYNC_USER)")
		flagPassword = flag.String("password", "", "password used to log in when no token is set (env PORTSYNC_PASSWORD)")
		flagEnvFile  = flag.String("env-file", "", "load env vars from a .env file (optional)")
		flagTimeout  = flag.Duration("timeout", 30*time.Second, "request timeout")
		flagPage     = flag.Int("page", 1, "page for history and logs")
		flagPageSize = flag.Int("page-size", 20, "page size for history and logs")
	)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := loadDotEnvFiles(*flagEnvFile, defaultConfigDir()); err != nil {
		log.Printf("failed to load .env: %v", err)
	}

	server := firstNonEmpty(*flagServer, os.Getenv("PORTSYNC_SERVER"))
	if server == "" {
		server = defaultServer
	}

	return runtimeConfig{
		Server:   server,
		Token:    firstNonEmpty(*flagToken, os.Getenv("PORTSYNC_TOKEN")),
		User:     firstNonEmpty(*flagUser, os.Getenv("PORTSYNC_USER")),
		Password: firstNonEmpty(*flagPassword, os.Getenv("PORTSYNC_PASSWORD")),
		Timeout:  *flagTimeout,
		Page:     *flagPage,
		PageSize: *flagPageSize,
	}, flag.Args()
}

func run(ctx context.Context, cfg runtimeConfig, args []string, out io.Writer) error {
	timeout := cfg.Timeout
	if args[0] == "watch" {
		timeout = 0
	}
	c := newAPIClient(cfg.Server, cfg.Token, timeout)

	if args[0] == "login" || c.token == "" {
		if cfg.User == "" || cfg.Password == "" {
			return fmt.Errorf("no token: set -token/PORTSYNC_TOKEN or -user and -password")
		}
		token, err := c.login(ctx, cfg.User, cfg.Password)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		if args[0] == "login" {
			_, err := fmt.Fprintln(out, token)
			return err
		}
	}

	var (
		raw json.RawMessage
		err error
	)
	switch args[0] {
	case "status":
		err = c.do(ctx, http.MethodGet, "/api/status", nil, &raw)
	case "check":
		err = c.do(ctx, http.MethodPost, "/api/check", nil, &raw)
	case "history":
		q := pageQuery(cfg)
		if len(args) > 1 {
			q.Set("action", args[1])
		}
		err = c.do(ctx, http.MethodGet, "/api/history?"+q.Encode(), nil, &raw)
	case "logs":
		q := pageQuery(cfg)
		if len(args) > 1 {
			q.Set("level", args[1])
		}
		err = c.do(ctx, http.MethodGet, "/api/logs?"+q.Encode(), nil, &raw)
	case "config":
		err = c.do(ctx, http.MethodGet, "/api/config", nil, &raw)
	case "set":
		var body map[string]interface{}
		body, err = parseAssignments(args[1:])
		if err == nil {
			err = c.do(ctx, http.MethodPut, "/api/config", body, &raw)
		}
	case "system":
		err = c.do(ctx, http.MethodGet, "/api/system", nil, &raw)
	case "watch":
		return c.watch(ctx, out)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	if err != nil {
		return err
	}
	return printJSON(out, raw)
}

func pageQuery(cfg runtimeConfig) url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(cfg.Page))
	q.Set("page_size", strconv.Itoa(cfg.PageSize))
	return q
}

// monitorFields maps the JSON names of the monitor options to their kinds.
var monitorFields = func() map[string]reflect.Kind {
	fields := map[string]reflect.Kind{}
	t := reflect.TypeOf(config.MonitorConfig{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		ft := f.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		fields[name] = ft.Kind()
	}
	return fields
}()

// parseAssignments turns key=value pairs into a JSON object, converting each
// value to the type of the monitor option it names.
func parseAssignments(args []string) (map[string]interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("set needs at least one key=value")
	}
	body := make(map[string]interface{}, len(args))
	for _, a := range args {
		key, val, ok := strings.Cut(a, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q, want key=value", a)
		}
		kind, known := monitorFields[key]
		if !known {
			return nil, fmt.Errorf("unknown monitor option %q", key)
		}
		switch kind {
		case reflect.Int, reflect.Int64:
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("%s: %q is not an integer", key, val)
			}
			body[key] = n
		case reflect.Bool:
			b, err := strconv.ParseBool(val)
			if err != nil {
				return nil, fmt.Errorf("%s: %q is not a boolean", key, val)
			}
			body[key] = b
		default:
			body[key] = val
		}
	}
	return body, nil
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, err = w.Write(raw)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
