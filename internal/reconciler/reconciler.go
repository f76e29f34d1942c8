// Package reconciler keeps the host application's listening port in line with
// the forwarded port published in the port file.
//
// Every Tick runs one pass of check, parse, decide and apply. All failures are
// recovered inside the pass; the host keeps its last good port whenever fresh
// data is missing or unusable.
package reconciler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mycoool/portsync/internal/config"
	"github.com/mycoool/portsync/internal/portfile"
	"github.com/sirupsen/logrus"
)

// Action is the terminal decision of one reconcile pass.
type Action string

const (
	ActionNoOp    Action = "noop"
	ActionApplied Action = "applied"
	ActionAdopted Action = "adopted"
	ActionSkipped Action = "skipped"
	ActionExpired Action = "expired"
	ActionFailed  Action = "failed"
)

// Outcome describes what one pass decided.
type Outcome struct {
	Action    Action    `json:"action"`
	Port      int       `json:"port,omitempty"`
	Previous  int       `json:"previous,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	At        time.Time `json:"at"`
	Forced    bool      `json:"forced,omitempty"`
	// Reconnected is set when a reconnect was requested and succeeded.
	Reconnected bool `json:"reconnected,omitempty"`
}

// State is the monitor state carried between passes.
type State struct {
	// PortFile is the path LastModTime and LastCheck refer to.
	PortFile    string           `json:"port_file"`
	LastModTime time.Time        `json:"last_mod_time"`
	Current     *portfile.Record `json:"current,omitempty"`
	LastCheck   time.Time        `json:"last_check"`
}

// Settings is the host configuration interface.
type Settings interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Reconnector asks the host to rebind so a new port takes effect.
type Reconnector interface {
	RequestReconnect(ctx context.Context, port int) error
}

// Observer receives the outcome of every pass that reached the port file.
type Observer interface {
	Observe(Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Outcome)

func (f ObserverFunc) Observe(o Outcome) { f(o) }

// Clock supplies wall-clock time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithReader replaces the port file reader.
func WithReader(r *portfile.Reader) Option {
	return func(rc *Reconciler) { rc.reader = r }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(rc *Reconciler) { rc.clock = c }
}

// WithReconnector sets the reconnect collaborator.
func WithReconnector(r Reconnector) Option {
	return func(rc *Reconciler) { rc.reconnector = r }
}

// WithLogger sets the log sink.
func WithLogger(l logrus.FieldLogger) Option {
	return func(rc *Reconciler) { rc.log = l }
}

// WithObserver registers an outcome observer.
func WithObserver(o Observer) Option {
	return func(rc *Reconciler) { rc.observers = append(rc.observers, o) }
}

// Reconciler owns the monitor state. Tick and Force are safe for concurrent
// use; passes are serialized.
type Reconciler struct {
	cfg         config.Source
	settings    Settings
	reconnector Reconnector
	reader      *portfile.Reader
	clock       Clock
	log         logrus.FieldLogger

	mu          sync.Mutex
	state       State
	last        Outcome
	initialized bool
	observers   []Observer
}

// New builds a Reconciler reading its options from cfg on every pass.
func New(cfg config.Source, settings Settings, opts ...Option) *Reconciler {
	r := &Reconciler{
		cfg:      cfg,
		settings: settings,
		reader:   portfile.NewReader(nil),
		clock:    systemClock{},
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddObserver registers o for future outcomes.
func (r *Reconciler) AddObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Status is a point-in-time copy of the reconciler.
type Status struct {
	State State   `json:"state"`
	Last  Outcome `json:"last"`
}

// Snapshot returns a copy of the state and the last outcome.
func (r *Reconciler) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state
	if st.Current != nil {
		cur := *st.Current
		st.Current = &cur
	}
	return Status{State: st, Last: r.last}
}

// Tick runs one pass unless the configured check interval has not elapsed
// since the last active check.
func (r *Reconciler) Tick(ctx context.Context) Outcome {
	return r.run(ctx, false)
}

// Force runs one pass regardless of the check interval.
func (r *Reconciler) Force(ctx context.Context) Outcome {
	return r.run(ctx, true)
}

func (r *Reconciler) run(ctx context.Context, forced bool) Outcome {
	cfg := r.cfg.Current()
	now := r.clock.Now()

	r.mu.Lock()
	if r.state.PortFile != cfg.PortFile {
		if r.state.PortFile != "" {
			r.emit(cfg, config.LogNormal, logrus.InfoLevel, logrus.Fields{
				"previous_path": r.state.PortFile,
				"path":          cfg.PortFile,
			}, "Port file path changed")
		}
		r.state.PortFile = cfg.PortFile
		r.state.LastModTime = time.Time{}
		r.state.LastCheck = time.Time{}
	}
	if !forced && !r.state.LastCheck.IsZero() && now.Sub(r.state.LastCheck) < cfg.Interval() {
		next := r.state.LastCheck.Add(cfg.Interval())
		r.mu.Unlock()
		r.emit(cfg, config.LogVerbose, logrus.InfoLevel, logrus.Fields{
			"next_check": next,
		}, "Check interval not elapsed")
		return Outcome{Action: ActionNoOp, At: now}
	}

	if !r.initialized {
		r.initialized = true
		r.emit(cfg, config.LogNormal, logrus.InfoLevel, logrus.Fields{
			"port_file":      cfg.PortFile,
			"check_interval": cfg.CheckInterval,
			"auto_reconnect": cfg.AutoReconnect,
		}, "Port monitor initialized")
	}

	out := r.reconcile(ctx, cfg, now)
	out.Forced = forced
	r.state.LastCheck = now
	r.last = out
	observers := append([]Observer(nil), r.observers...)
	r.mu.Unlock()

	for _, o := range observers {
		o.Observe(out)
	}
	return out
}

// reconcile must be called with r.mu held.
func (r *Reconciler) reconcile(ctx context.Context, cfg config.MonitorConfig, now time.Time) Outcome {
	out := Outcome{Action: ActionNoOp, At: now}
	if r.state.Current != nil {
		out.Previous = r.state.Current.Port
	}

	check, err := r.reader.Check(cfg.PortFile, r.state.LastModTime)
	if err != nil {
		out.Reason = err.Error()
		r.emit(cfg, config.LogMinimal, logrus.WarnLevel, logrus.Fields{
			"path":  cfg.PortFile,
			"error": err.Error(),
		}, "Cannot read port file")
		return out
	}
	if !check.Changed {
		r.emit(cfg, config.LogVerbose, logrus.InfoLevel, logrus.Fields{
			"path":    cfg.PortFile,
			"current": out.Previous,
		}, "Port file unchanged")
		return out
	}

	r.state.LastModTime = check.ModTime

	rec, err := portfile.Parse(check.Raw)
	if err != nil {
		out.Action = ActionSkipped
		out.Reason = err.Error()
		r.emit(cfg, config.LogNormal, logrus.WarnLevel, logrus.Fields{
			"path":  cfg.PortFile,
			"error": err.Error(),
		}, "Ignoring port file content")
		return out
	}
	out.Port = rec.Port
	out.ExpiresAt = rec.ExpiresAt

	if rec.ExpiredAt(now) {
		out.Action = ActionExpired
		out.Reason = fmt.Sprintf("port %d expired at %s", rec.Port, rec.ExpiresAt.UTC().Format(time.RFC3339))
		r.emit(cfg, config.LogNormal, logrus.WarnLevel, logrus.Fields{
			"port":       rec.Port,
			"expires_at": rec.ExpiresAt,
		}, "Forwarded port has expired")
		return out
	}

	if rec.Port < cfg.MinPort {
		out.Action = ActionSkipped
		out.Reason = fmt.Sprintf("port %d below minimum %d", rec.Port, cfg.MinPort)
		r.emit(cfg, config.LogNormal, logrus.WarnLevel, logrus.Fields{
			"port":     rec.Port,
			"min_port": cfg.MinPort,
		}, "Forwarded port below configured minimum")
		return out
	}

	if r.state.Current != nil && r.state.Current.Port == rec.Port {
		r.state.Current = &rec
		r.emit(cfg, config.LogVerbose, logrus.InfoLevel, logrus.Fields{
			"port": rec.Port,
		}, "Port file rewritten with the current port")
		return out
	}

	value := strconv.Itoa(rec.Port)
	if existing, err := r.settings.GetSetting(ctx, cfg.SettingKey); err == nil && strings.TrimSpace(existing) == value {
		r.state.Current = &rec
		out.Action = ActionAdopted
		r.emit(cfg, config.LogMinimal, logrus.InfoLevel, logrus.Fields{
			"port": rec.Port,
			"key":  cfg.SettingKey,
		}, "Host already uses forwarded port, no reconnect needed")
		return out
	} else if err != nil {
		r.emit(cfg, config.LogVerbose, logrus.InfoLevel, logrus.Fields{
			"key":   cfg.SettingKey,
			"error": err.Error(),
		}, "Cannot read current host setting")
	}

	if err := r.settings.SetSetting(ctx, cfg.SettingKey, value); err != nil {
		// Forget the timestamp so the next active check reads the file again.
		r.state.LastModTime = time.Time{}
		out.Action = ActionFailed
		out.Reason = err.Error()
		r.emit(cfg, config.LogMinimal, logrus.ErrorLevel, logrus.Fields{
			"port":  rec.Port,
			"key":   cfg.SettingKey,
			"error": err.Error(),
		}, "Failed to update host listening port")
		return out
	}

	r.state.Current = &rec
	out.Action = ActionApplied
	r.emit(cfg, config.LogMinimal, logrus.InfoLevel, logrus.Fields{
		"port":     rec.Port,
		"previous": out.Previous,
		"key":      cfg.SettingKey,
	}, "Host listening port updated")

	if cfg.AutoReconnect && r.reconnector != nil {
		if err := r.reconnector.RequestReconnect(ctx, rec.Port); err != nil {
			r.emit(cfg, config.LogMinimal, logrus.ErrorLevel, logrus.Fields{
				"port":  rec.Port,
				"error": err.Error(),
			}, "Reconnect request failed")
		} else {
			out.Reconnected = true
			r.emit(cfg, config.LogNormal, logrus.InfoLevel, logrus.Fields{
				"port": rec.Port,
			}, "Reconnect requested")
		}
	}
	return out
}

func (r *Reconciler) emit(cfg config.MonitorConfig, tier config.LogLevel, level logrus.Level, fields logrus.Fields, msg string) {
	if !cfg.LogLevel.Allows(tier) {
		return
	}
	r.log.WithFields(fields).Log(level, msg)
}
