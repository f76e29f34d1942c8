package notify

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/mycoool/portsync/internal/reconciler"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) notify(state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

func newTestNotifier(interval time.Duration) (*Notifier, *recorder) {
	logger, _ := test.NewNullLogger()
	rec := &recorder{}
	return &Notifier{
		notify:   rec.notify,
		watchdog: func() (time.Duration, error) { return interval, nil },
		log:      logger,
	}, rec
}

func TestObserve(t *testing.T) {
	n, rec := newTestNotifier(0)
	n.Observe(reconciler.Outcome{Action: reconciler.ActionNoOp})
	n.Observe(reconciler.Outcome{Action: reconciler.ActionSkipped, Reason: "bad"})
	n.Observe(reconciler.Outcome{Action: reconciler.ActionApplied, Port: 12345})
	n.Observe(reconciler.Outcome{Action: reconciler.ActionExpired, Port: 23456})
	n.Observe(reconciler.Outcome{Action: reconciler.ActionFailed, Port: 3, Reason: "read-only"})

	assert.Equal(t, []string{
		"STATUS=forwarded port 12345",
		"STATUS=forwarded port 23456 expired",
		"STATUS=failed to apply port 3: read-only",
	}, rec.got())
}

func TestWatchdog(t *testing.T) {
	n, rec := newTestNotifier(20 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Watchdog(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return len(rec.got()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, "WATCHDOG=1", rec.got()[0])

	n, rec = newTestNotifier(0)
	n.Watchdog(context.Background())
	assert.Empty(t, rec.got())
}

func TestReady_SendsToNotifySocket(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no unixgram sockets")
	}
	dir, err := os.MkdirTemp("", "sd")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	sock := filepath.Join(dir, "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: sock, Net: "unixgram"})
	require.NoError(t, err)
	defer conn.Close()
	t.Setenv("NOTIFY_SOCKET", sock)

	logger, _ := test.NewNullLogger()
	New(logger).Ready()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64)
	nr, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "READY=1", string(buf[:nr]))
}
