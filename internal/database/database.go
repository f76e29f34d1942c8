package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mycoool/portsync/internal/config"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	_ "modernc.org/sqlite"
)

var ErrDatabaseNotReady = errors.New("database not initialized")

// Open connects to the history database and migrates its schema.
//
// "sqlite" uses the cgo driver; "sqlite-nocgo" runs the same dialect on the
// pure Go driver registered as "sqlite".
func Open(cfg config.DatabaseConfig, log logrus.FieldLogger) (*gorm.DB, error) {
	if cfg.Database == "" {
		cfg.Database = config.DefaultDatabase
	}

	if dir := filepath.Dir(cfg.Database); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	var dialector gorm.Dialector
	switch cfg.Type {
	case "", "sqlite":
		dialector = sqlite.Open(cfg.Database)
	case "sqlite-nocgo":
		dialector = sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: cfg.Database})
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	logLevel := logger.Error
	if os.Getenv("DB_DEBUG") == "true" {
		logLevel = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		_ = Close(db)
		return nil, err
	}

	if log != nil {
		log.WithFields(logrus.Fields{
			"function": "Open",
			"type":     cfg.Type,
			"database": cfg.Database,
		}).Info("Database connected")
	}
	return db, nil
}

// AutoMigrate creates or updates every table.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return ErrDatabaseNotReady
	}
	if err := db.AutoMigrate(&PortEvent{}, &Setting{}, &SystemLog{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
