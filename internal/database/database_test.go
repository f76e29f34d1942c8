package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mycoool/portsync/internal/config"
	"github.com/mycoool/portsync/internal/reconciler"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(config.DatabaseConfig{
		Type:     "sqlite-nocgo",
		Database: filepath.Join(t.TempDir(), "data", "portsync.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })
	return db
}

func TestOpen_UnsupportedType(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Type: "postgres", Database: filepath.Join(t.TempDir(), "x.db")}, nil)
	require.Error(t, err)
}

func TestSettingsStore(t *testing.T) {
	s := NewSettingsStore(openTestDB(t))
	ctx := context.Background()

	_, err := s.GetSetting(ctx, "listen_port")
	assert.ErrorIs(t, err, ErrSettingNotFound)

	require.NoError(t, s.SetSetting(ctx, "listen_port", "12345"))
	require.NoError(t, s.SetSetting(ctx, "listen_port", "23456"))

	v, err := s.GetSetting(ctx, "listen_port")
	require.NoError(t, err)
	assert.Equal(t, "23456", v)
}

func TestSettingsStore_NoDatabase(t *testing.T) {
	s := NewSettingsStore(nil)
	_, err := s.GetSetting(context.Background(), "listen_port")
	assert.True(t, errors.Is(err, ErrDatabaseNotReady))
	assert.ErrorIs(t, s.SetSetting(context.Background(), "listen_port", "1"), ErrDatabaseNotReady)
}

func TestEventService_ObserveFiltersNoOps(t *testing.T) {
	svc := NewEventService(openTestDB(t), nil)
	base := time.Now().Add(-time.Minute)

	svc.Observe(reconciler.Outcome{Action: reconciler.ActionNoOp, At: base})
	svc.Observe(reconciler.Outcome{Action: reconciler.ActionApplied, Port: 12345, At: base.Add(time.Second), Reconnected: true})
	svc.Observe(reconciler.Outcome{Action: reconciler.ActionNoOp, Reason: "port file unreadable", At: base.Add(2 * time.Second)})
	svc.Observe(reconciler.Outcome{Action: reconciler.ActionNoOp, Reason: "port file unreadable", At: base.Add(3 * time.Second)})
	svc.Observe(reconciler.Outcome{
		Action:    reconciler.ActionExpired,
		Port:      23456,
		Previous:  12345,
		ExpiresAt: base,
		At:        base.Add(4 * time.Second),
	})

	events, total, err := svc.List(HistoryQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, events, 3)
	assert.Equal(t, "expired", events[0].Action)
	require.NotNil(t, events[0].ExpiresAt)
	assert.Equal(t, 12345, events[0].Previous)
	assert.Equal(t, "noop", events[1].Action)
	assert.Equal(t, "applied", events[2].Action)
	assert.True(t, events[2].Reconnected)
}

func TestEventService_ListPaging(t *testing.T) {
	svc := NewEventService(openTestDB(t), nil)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Record(reconciler.Outcome{
			Action: reconciler.ActionApplied,
			Port:   10000 + i,
			At:     base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, svc.Record(reconciler.Outcome{Action: reconciler.ActionSkipped, Reason: "bad", At: base}))

	page, total, err := svc.List(HistoryQuery{Page: 2, PageSize: 2, Action: "applied"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, page, 2)
	assert.Equal(t, 10002, page[0].Port)
	assert.Equal(t, 10001, page[1].Port)
}

func TestLogService_GetSystemLogsPageBounds(t *testing.T) {
	db := openTestDB(t)
	svc := NewLogService(db)
	rows := make([]SystemLog, MaxPageSize+1)
	for i := range rows {
		rows[i] = SystemLog{Level: LogLevelWarn, Category: LogCategorySystem, Message: "row"}
	}
	require.NoError(t, db.CreateInBatches(rows, 100).Error)

	page, total, err := svc.GetSystemLogs(0, 100000, "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(MaxPageSize+1), total)
	assert.Len(t, page, MaxPageSize)

	page, _, err = svc.GetSystemLogs(-3, 0, "", "")
	require.NoError(t, err)
	assert.Len(t, page, 50)
}

func TestEventService_ListCapsPageSize(t *testing.T) {
	db := openTestDB(t)
	events := make([]PortEvent, MaxPageSize+1)
	for i := range events {
		events[i] = PortEvent{Action: string(reconciler.ActionApplied), Port: i + 1}
	}
	require.NoError(t, db.CreateInBatches(events, 100).Error)

	page, total, err := NewEventService(db, nil).List(HistoryQuery{PageSize: 100000})
	require.NoError(t, err)
	assert.Equal(t, int64(MaxPageSize+1), total)
	assert.Len(t, page, MaxPageSize)
}

func TestLogService_CleanOldLogs(t *testing.T) {
	db := openTestDB(t)
	events := NewEventService(db, nil)
	logs := NewLogService(db)

	require.NoError(t, events.Record(reconciler.Outcome{Action: reconciler.ActionApplied, Port: 1, At: time.Now().AddDate(0, 0, -40)}))
	require.NoError(t, events.Record(reconciler.Outcome{Action: reconciler.ActionApplied, Port: 2, At: time.Now()}))
	require.NoError(t, logs.CreateSystemLog(LogLevelWarn, LogCategorySystem, "recent", nil, ""))

	require.NoError(t, logs.CleanOldLogs(30))

	_, total, err := events.List(HistoryQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	_, total, err = logs.GetSystemLogs(1, 10, "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestHook_StoresWarningsAndErrors(t *testing.T) {
	svc := NewLogService(openTestDB(t))
	logger, _ := test.NewNullLogger()
	logger.AddHook(NewHook(svc))

	logger.WithField("component", "reconciler").WithField("port", 1).Info("not stored")
	logger.WithFields(logrus.Fields{"component": "reconciler", "path": "/tmp/port"}).Warn("Cannot read port file")
	logger.WithError(errors.New("boom")).Error("Reconnect request failed")

	rows, total, err := svc.GetSystemLogs(1, 10, "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, LogLevelError, rows[0].Level)
	assert.Equal(t, LogCategorySystem, rows[0].Category)
	assert.Contains(t, rows[0].Details, "boom")
	assert.Equal(t, LogLevelWarn, rows[1].Level)
	assert.Equal(t, "RECONCILER", rows[1].Category)
	assert.Contains(t, rows[1].Details, "/tmp/port")
}
