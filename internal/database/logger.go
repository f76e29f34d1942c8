package database

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Hook is a logrus hook that copies warnings and errors into system_logs.
type Hook struct {
	svc *LogService
}

// NewHook returns a hook writing through svc.
func NewHook(svc *LogService) *Hook {
	return &Hook{svc: svc}
}

func (h *Hook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel}
}

func (h *Hook) Fire(entry *logrus.Entry) error {
	level := LogLevelWarn
	if entry.Level <= logrus.ErrorLevel {
		level = LogLevelError
	}

	category := LogCategorySystem
	details := make(map[string]interface{}, len(entry.Data))
	for k, v := range entry.Data {
		if k == "component" {
			if s, ok := v.(string); ok && s != "" {
				category = strings.ToUpper(s)
			}
			continue
		}
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		details[k] = v
	}
	if len(details) == 0 {
		details = nil
	}
	ip, _ := entry.Data["client_ip"].(string)

	// Returning the error would make logrus print it on every failed write.
	_ = h.svc.CreateSystemLog(level, category, entry.Message, details, ip)
	return nil
}

// ScheduleLogCleanup deletes rows older than retentionDays once a day until
// ctx is done.
func ScheduleLogCleanup(ctx context.Context, svc *LogService, retentionDays int, log logrus.FieldLogger) {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	clean := func() {
		if err := svc.CleanOldLogs(retentionDays); err != nil {
			log.WithFields(logrus.Fields{
				"function": "ScheduleLogCleanup",
				"error":    err.Error(),
			}).Error("Failed to clean old logs")
			return
		}
		log.WithFields(logrus.Fields{
			"function":       "ScheduleLogCleanup",
			"retention_days": retentionDays,
		}).Debug("Cleaned old logs")
	}

	go func() {
		clean()
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				clean()
			}
		}
	}()

	log.WithFields(logrus.Fields{
		"function":       "ScheduleLogCleanup",
		"retention_days": retentionDays,
	}).Info("Started automatic log cleanup task")
}
