package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const reloadDebounce = 500 * time.Millisecond

// Source hands out the monitor options currently in effect.
type Source interface {
	Current() MonitorConfig
}

// Static is a Source that never changes.
type Static MonitorConfig

func (s Static) Current() MonitorConfig { return MonitorConfig(s) }

// Store holds the live configuration and swaps it atomically on reload.
type Store struct {
	path string
	log  logrus.FieldLogger
	cur  atomic.Pointer[Config]

	mu        sync.Mutex
	listeners []func(*Config)
}

// NewStore loads path and returns a Store serving it.
func NewStore(path string, log logrus.FieldLogger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	cfg, notes, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, log: log}
	s.logNotes(notes)
	s.cur.Store(cfg)
	return s, nil
}

// NewStoreFrom wraps an already loaded configuration. Reload re-reads path.
func NewStoreFrom(path string, cfg *Config, log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Store{path: path, log: log}
	s.cur.Store(cfg)
	return s
}

// Path returns the file backing the store.
func (s *Store) Path() string { return s.path }

// Current returns the monitor options in effect.
func (s *Store) Current() MonitorConfig {
	return s.cur.Load().Monitor
}

// Config returns a copy of the full configuration.
func (s *Store) Config() Config {
	return *s.cur.Load()
}

// OnReload registers fn to run after every successful reload.
func (s *Store) OnReload(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Reload re-reads the file. On error, including a deleted file, the previous
// configuration stays active.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, notes, err := Read(s.path)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"function": "Reload",
			"path":     s.path,
			"error":    err.Error(),
		}).Error("Configuration reload failed, keeping previous configuration")
		return err
	}
	s.logNotes(notes)
	s.cur.Store(cfg)

	s.log.WithFields(logrus.Fields{
		"function":       "Reload",
		"path":           s.path,
		"port_file":      cfg.Monitor.PortFile,
		"check_interval": cfg.Monitor.CheckInterval,
		"auto_reconnect": cfg.Monitor.AutoReconnect,
		"log_level":      cfg.Monitor.LogLevel,
	}).Info("Configuration reloaded")

	for _, fn := range s.listeners {
		fn(cfg)
	}
	return nil
}

func (s *Store) logNotes(notes []string) {
	for _, n := range notes {
		s.log.WithFields(logrus.Fields{"path": s.path}).Warn(n)
	}
}

// Watch reloads the configuration whenever the file changes, until ctx is
// done. The parent directory is watched so that editors replacing the file
// through a rename keep triggering reloads.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	abs, err := filepath.Abs(s.path)
	if err != nil {
		watcher.Close()
		return fmt.Errorf("resolve config path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config directory: %w", err)
	}

	go func() {
		defer watcher.Close()

		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDebounce, func() {
					_ = s.Reload()
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.WithFields(logrus.Fields{
					"function": "Watch",
					"error":    err.Error(),
				}).Warn("Config watcher error")
			}
		}
	}()
	return nil
}
