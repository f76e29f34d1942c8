// Package notify reports readiness and status to systemd.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/mycoool/portsync/internal/reconciler"
	"github.com/sirupsen/logrus"
)

// Notifier sends sd_notify messages. Outside systemd every call is a no-op.
type Notifier struct {
	notify   func(state string) (bool, error)
	watchdog func() (time.Duration, error)
	log      logrus.FieldLogger
}

// New returns a notifier talking to $NOTIFY_SOCKET.
func New(log logrus.FieldLogger) *Notifier {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Notifier{
		notify: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
		watchdog: func() (time.Duration, error) {
			return daemon.SdWatchdogEnabled(false)
		},
		log: log,
	}
}

func (n *Notifier) send(state string) {
	if _, err := n.notify(state); err != nil {
		n.log.WithFields(logrus.Fields{
			"function": "send",
			"state":    state,
			"error":    err.Error(),
		}).Debug("sd_notify failed")
	}
}

// Ready tells systemd that startup finished.
func (n *Notifier) Ready() { n.send(daemon.SdNotifyReady) }

// Reloading marks a configuration reload; call Ready when it is done.
func (n *Notifier) Reloading() { n.send(daemon.SdNotifyReloading) }

// Stopping tells systemd that shutdown started.
func (n *Notifier) Stopping() { n.send(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(msg string) { n.send("STATUS=" + msg) }

// Observe publishes decisive outcomes as the status line.
func (n *Notifier) Observe(o reconciler.Outcome) {
	switch o.Action {
	case reconciler.ActionApplied, reconciler.ActionAdopted:
		n.Status(fmt.Sprintf("forwarded port %d", o.Port))
	case reconciler.ActionExpired:
		n.Status(fmt.Sprintf("forwarded port %d expired", o.Port))
	case reconciler.ActionFailed:
		n.Status(fmt.Sprintf("failed to apply port %d: %s", o.Port, o.Reason))
	}
}

// Watchdog pings the systemd watchdog at half its timeout until ctx is done.
// It returns immediately when the unit has no watchdog.
func (n *Notifier) Watchdog(ctx context.Context) {
	interval, err := n.watchdog()
	if err != nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
