package database

import (
	"time"

	"gorm.io/gorm"
)

// BaseModel base model, contains common fields
type BaseModel struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at" gorm:"index"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// PortEvent is one recorded reconcile decision.
type PortEvent struct {
	BaseModel
	Action      string     `json:"action" gorm:"size:16;index"`
	Port        int        `json:"port"`
	Previous    int        `json:"previous"`
	Reason      string     `json:"reason" gorm:"type:text"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Forced      bool       `json:"forced"`
	Reconnected bool       `json:"reconnected"`
}

// Setting is a host setting kept in the database.
type Setting struct {
	Name      string    `json:"name" gorm:"primaryKey;size:100"`
	Value     string    `json:"value" gorm:"type:text"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SystemLog system log
type SystemLog struct {
	BaseModel
	Level     string `json:"level" gorm:"size:10;index"`    // WARN, ERROR
	Category  string `json:"category" gorm:"size:50;index"` // component that logged it
	Message   string `json:"message" gorm:"type:text"`
	Details   string `json:"details" gorm:"type:text"` // JSON encoded fields
	IPAddress string `json:"ip_address" gorm:"size:45"`
}

const (
	LogLevelDebug = "DEBUG"
	LogLevelInfo  = "INFO"
	LogLevelWarn  = "WARN"
	LogLevelError = "ERROR"
)

const (
	LogCategoryReconcile = "RECONCILE"
	LogCategoryConfig    = "CONFIG"
	LogCategoryDatabase  = "DATABASE"
	LogCategoryAPI       = "API"
	LogCategorySystem    = "SYSTEM"
)
