// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Options selects where and how the process logs.
type Options struct {
	File   string
	Format string // text, json
	Debug  bool
}

// New returns a logger configured by opts and the file it writes to, if any.
// The caller closes the file on shutdown.
func New(opts Options) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	switch opts.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006/01/02 15:04:05",
		})
	default:
		return nil, nil, fmt.Errorf("unsupported log format %q", opts.Format)
	}

	// Reconcile events are gated by the monitor log_level, so the logger
	// itself stays at info unless debugging.
	logger.SetLevel(logrus.InfoLevel)
	if opts.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	var closer io.Closer
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %q: %w", opts.File, err)
		}
		logger.SetOutput(f)
		closer = f
	}
	return logger, closer, nil
}

// Component returns an entry tagged with a component name.
func Component(l logrus.FieldLogger, name string) *logrus.Entry {
	return l.WithField("component", name)
}
