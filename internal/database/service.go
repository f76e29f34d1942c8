package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mycoool/portsync/internal/reconciler"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrSettingNotFound = errors.New("setting not found")

// EventService records reconcile outcomes as PortEvents.
type EventService struct {
	db  *gorm.DB
	log logrus.FieldLogger

	mu         sync.Mutex
	lastReason string
}

// NewEventService creates the port event service.
func NewEventService(db *gorm.DB, log logrus.FieldLogger) *EventService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &EventService{db: db, log: log}
}

// Record stores o unconditionally.
func (s *EventService) Record(o reconciler.Outcome) error {
	if s.db == nil {
		return ErrDatabaseNotReady
	}
	ev := &PortEvent{
		Action:      string(o.Action),
		Port:        o.Port,
		Previous:    o.Previous,
		Reason:      o.Reason,
		Forced:      o.Forced,
		Reconnected: o.Reconnected,
	}
	if !o.At.IsZero() {
		ev.CreatedAt = o.At
	}
	if !o.ExpiresAt.IsZero() {
		t := o.ExpiresAt
		ev.ExpiresAt = &t
	}
	return s.db.Create(ev).Error
}

// Observe records every outcome except plain no-ops. A no-op carrying a
// reason (the port file could not be read) is recorded once until the reason
// changes.
func (s *EventService) Observe(o reconciler.Outcome) {
	s.mu.Lock()
	if o.Action == reconciler.ActionNoOp {
		if o.Reason == "" || o.Reason == s.lastReason {
			s.mu.Unlock()
			return
		}
	}
	s.lastReason = o.Reason
	s.mu.Unlock()

	if err := s.Record(o); err != nil {
		s.log.WithFields(logrus.Fields{
			"function": "Observe",
			"action":   o.Action,
			"error":    err.Error(),
		}).Error("Failed to record port event")
	}
}

// HistoryQuery filters and pages PortEvents.
type HistoryQuery struct {
	Page     int
	PageSize int
	Action   string
	Since    *time.Time
}

// MaxPageSize caps every paged query.
const MaxPageSize = 500

func clampPageSize(n int) int {
	switch {
	case n < 1:
		return 50
	case n > MaxPageSize:
		return MaxPageSize
	}
	return n
}

// List returns one page of events, newest first, and the total match count.
func (s *EventService) List(q HistoryQuery) ([]PortEvent, int64, error) {
	if s.db == nil {
		return nil, 0, ErrDatabaseNotReady
	}
	if q.Page < 1 {
		q.Page = 1
	}
	q.PageSize = clampPageSize(q.PageSize)

	query := s.db.Model(&PortEvent{})
	if q.Action != "" {
		query = query.Where("action = ?", q.Action)
	}
	if q.Since != nil {
		query = query.Where("created_at >= ?", *q.Since)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var events []PortEvent
	offset := (q.Page - 1) * q.PageSize
	err := query.Order("created_at DESC, id DESC").Offset(offset).Limit(q.PageSize).Find(&events).Error
	return events, total, err
}

// SettingsStore keeps host settings as key/value rows.
type SettingsStore struct {
	db *gorm.DB
}

// NewSettingsStore creates a settings store on db.
func NewSettingsStore(db *gorm.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// GetSetting returns the value stored under key.
func (s *SettingsStore) GetSetting(ctx context.Context, key string) (string, error) {
	if s.db == nil {
		return "", ErrDatabaseNotReady
	}
	var row Setting
	err := s.db.WithContext(ctx).Where("name = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("%w: %s", ErrSettingNotFound, key)
	}
	if err != nil {
		return "", err
	}
	return row.Value, nil
}

// SetSetting upserts key.
func (s *SettingsStore) SetSetting(ctx context.Context, key, value string) error {
	if s.db == nil {
		return ErrDatabaseNotReady
	}
	row := Setting{Name: key, Value: value, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}

// LogService stores and prunes system logs.
type LogService struct {
	db *gorm.DB
}

// NewLogService creates the system log service.
func NewLogService(db *gorm.DB) *LogService {
	return &LogService{db: db}
}

// CreateSystemLog stores one system log row. details is JSON encoded.
func (s *LogService) CreateSystemLog(level, category, message string, details interface{}, ipAddress string) error {
	if s.db == nil {
		return ErrDatabaseNotReady
	}
	detailsJSON := ""
	if details != nil {
		data, err := json.Marshal(details)
		if err == nil {
			detailsJSON = string(data)
		}
	}
	return s.db.Create(&SystemLog{
		Level:     level,
		Category:  category,
		Message:   message,
		Details:   detailsJSON,
		IPAddress: ipAddress,
	}).Error
}

// GetSystemLogs returns one page of system logs, newest first.
func (s *LogService) GetSystemLogs(page, pageSize int, level, category string) ([]SystemLog, int64, error) {
	if s.db == nil {
		return nil, 0, ErrDatabaseNotReady
	}
	if page < 1 {
		page = 1
	}
	pageSize = clampPageSize(pageSize)
	query := s.db.Model(&SystemLog{})
	if level != "" {
		query = query.Where("level = ?", level)
	}
	if category != "" {
		query = query.Where("category = ?", category)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var logs []SystemLog
	err := query.Order("created_at DESC, id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&logs).Error
	return logs, total, err
}

// CleanOldLogs permanently deletes events and system logs older than days.
func (s *LogService) CleanOldLogs(days int) error {
	if s.db == nil {
		return ErrDatabaseNotReady
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	if err := s.db.Unscoped().Where("created_at < ?", cutoff).Delete(&PortEvent{}).Error; err != nil {
		return fmt.Errorf("failed to clean port events: %w", err)
	}
	if err := s.db.Unscoped().Where("created_at < ?", cutoff).Delete(&SystemLog{}).Error; err != nil {
		return fmt.Errorf("failed to clean system logs: %w", err)
	}
	return nil
}
