// Package scheduler drives the reconciler: a steady ticker plus an optional
// filesystem watch on the port file that triggers an early check.
package scheduler

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mycoool/portsync/internal/config"
	"github.com/mycoool/portsync/internal/reconciler"
	"github.com/sirupsen/logrus"
)

const (
	defaultPeriod   = time.Second
	defaultDebounce = 500 * time.Millisecond
)

// Runner is the reconciler as seen by the scheduler.
type Runner interface {
	Tick(ctx context.Context) reconciler.Outcome
	Force(ctx context.Context) reconciler.Outcome
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPeriod sets how often Tick is called. The reconciler itself enforces
// check_interval, so the period only bounds reaction latency.
func WithPeriod(d time.Duration) Option {
	return func(s *Scheduler) { s.period = d }
}

// WithDebounce sets how long file events are coalesced before a check.
func WithDebounce(d time.Duration) Option {
	return func(s *Scheduler) { s.debounce = d }
}

// WithLogger sets the log sink.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Scheduler) { s.log = l }
}

// Scheduler calls the runner until its context is done.
type Scheduler struct {
	runner   Runner
	cfg      config.Source
	period   time.Duration
	debounce time.Duration
	log      logrus.FieldLogger

	watcher    *fsnotify.Watcher
	watchedDir string
	target     string
}

// New returns a scheduler for runner reading watch options from cfg.
func New(runner Runner, cfg config.Source, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner:   runner,
		cfg:      cfg,
		period:   defaultPeriod,
		debounce: defaultDebounce,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks until ctx is done. A pass in progress always completes; the
// runner gets a context that is not cancelled with ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	passCtx := context.WithoutCancel(ctx)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"function": "Run",
			"error":    err.Error(),
		}).Warn("File watch unavailable, polling only")
	} else {
		s.watcher = watcher
		defer watcher.Close()
	}

	var events <-chan fsnotify.Event
	var watchErrors <-chan error
	if s.watcher != nil {
		events = s.watcher.Events
		watchErrors = s.watcher.Errors
	}

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	trigger := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	s.syncWatch()
	s.runner.Tick(passCtx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.syncWatch()
			s.runner.Tick(passCtx)
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if s.target == "" || filepath.Clean(event.Name) != s.target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(s.debounce, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})
		case <-trigger:
			s.runner.Force(passCtx)
		case err, ok := <-watchErrors:
			if !ok {
				watchErrors = nil
				continue
			}
			s.log.WithFields(logrus.Fields{
				"function": "Run",
				"error":    err.Error(),
			}).Warn("Port file watcher error")
		}
	}
}

// syncWatch points the watcher at the directory of the configured port file.
// The directory is watched rather than the file so that replacements by
// rename are seen.
func (s *Scheduler) syncWatch() {
	if s.watcher == nil {
		return
	}
	cfg := s.cfg.Current()

	var dir, target string
	if cfg.WatchEnabled() && cfg.PortFile != "" {
		abs, err := filepath.Abs(cfg.PortFile)
		if err == nil {
			target = filepath.Clean(abs)
			dir = filepath.Dir(target)
		}
	}
	s.target = target
	if dir == s.watchedDir {
		return
	}

	if s.watchedDir != "" {
		_ = s.watcher.Remove(s.watchedDir)
		s.watchedDir = ""
	}
	if dir == "" {
		return
	}
	if err := s.watcher.Add(dir); err != nil {
		// Retried on the next tick; the directory may not exist yet.
		s.log.WithFields(logrus.Fields{
			"function": "syncWatch",
			"dir":      dir,
			"error":    err.Error(),
		}).Debug("Cannot watch port file directory")
		return
	}
	s.watchedDir = dir
	s.log.WithFields(logrus.Fields{
		"function": "syncWatch",
		"dir":      dir,
	}).Debug("Watching port file directory")
}
