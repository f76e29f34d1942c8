package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	DefaultPortFile      = "/var/lib/pia/forwarded_port"
	DefaultCheckInterval = 30
	// MinCheckInterval is the shortest check interval accepted; lower values
	// are raised to it.
	MinCheckInterval  = 5
	DefaultSettingKey = "listen_port"
	DefaultAPIListen  = "127.0.0.1:9400"
	DefaultDatabase   = "portsync.db"
)

// LogLevel gates which reconcile events are surfaced.
type LogLevel string

const (
	LogMinimal LogLevel = "minimal"
	LogNormal  LogLevel = "normal"
	LogVerbose LogLevel = "verbose"
)

func (l LogLevel) rank() int {
	switch l {
	case LogMinimal:
		return 0
	case LogVerbose:
		return 2
	default:
		return 1
	}
}

// Allows reports whether an event of the given tier is visible at level l.
func (l LogLevel) Allows(tier LogLevel) bool {
	return tier.rank() <= l.rank()
}

// ParseLogLevel parses a log level name, case insensitive.
func ParseLogLevel(s string) (LogLevel, error) {
	switch l := LogLevel(strings.ToLower(strings.TrimSpace(s))); l {
	case LogMinimal, LogNormal, LogVerbose:
		return l, nil
	case "":
		return LogNormal, nil
	default:
		return "", fmt.Errorf("unknown log level %q (want minimal, normal or verbose)", s)
	}
}

// MonitorConfig holds the options read by the reconciler on every tick.
type MonitorConfig struct {
	PortFile      string   `yaml:"port_file" json:"port_file"`
	CheckInterval int      `yaml:"check_interval" json:"check_interval"` // seconds
	AutoReconnect bool     `yaml:"auto_reconnect" json:"auto_reconnect"`
	LogLevel      LogLevel `yaml:"log_level" json:"log_level"`
	MinPort       int      `yaml:"min_port" json:"min_port"`
	SettingKey    string   `yaml:"setting_key" json:"setting_key"`
	Watch         *bool    `yaml:"watch,omitempty" json:"watch,omitempty"`
}

// Interval returns the check interval as a duration.
func (m MonitorConfig) Interval() time.Duration {
	return time.Duration(m.CheckInterval) * time.Second
}

// WatchEnabled reports whether filesystem events should trigger early checks.
// Unset means enabled.
func (m MonitorConfig) WatchEnabled() bool {
	if m.Watch == nil {
		return true
	}
	return *m.Watch
}

// HostConfig selects the adapters used to reach the host application.
type HostConfig struct {
	SettingsFile     string `yaml:"settings_file,omitempty" json:"settings_file,omitempty"`
	SettingsFormat   string `yaml:"settings_format,omitempty" json:"settings_format,omitempty"` // json, yaml, xml; empty = by extension
	ReconnectCommand string `yaml:"reconnect_command,omitempty" json:"reconnect_command,omitempty"`
	ReconnectURL     string `yaml:"reconnect_url,omitempty" json:"reconnect_url,omitempty"`
	ReconnectToken   string `yaml:"reconnect_token,omitempty" json:"-"`
	ReconnectTimeout int    `yaml:"reconnect_timeout" json:"reconnect_timeout"` // seconds
	ProcessName      string `yaml:"process_name,omitempty" json:"process_name,omitempty"`
}

// APIConfig configures the HTTP control surface.
type APIConfig struct {
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	Listen         string `yaml:"listen" json:"listen"`
	Socket         string `yaml:"socket,omitempty" json:"socket,omitempty"`
	JWTSecret      string `yaml:"jwt_secret" json:"-"`
	JWTExpiryHours int    `yaml:"jwt_expiry_hours" json:"jwt_expiry_hours"`
	Username       string `yaml:"username" json:"username"`
	PasswordHash   string `yaml:"password_hash" json:"-"`
}

// DatabaseConfig configures the history store.
type DatabaseConfig struct {
	Type             string `yaml:"type" json:"type"` // sqlite, sqlite-nocgo
	Database         string `yaml:"database" json:"database"`
	LogRetentionDays int    `yaml:"log_retention_days" json:"log_retention_days"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	File   string `yaml:"file,omitempty" json:"file,omitempty"`
	Format string `yaml:"format" json:"format"` // text, json
	Debug  bool   `yaml:"debug" json:"debug"`
}

// Config is the content of portsync.yaml.
type Config struct {
	Monitor  MonitorConfig  `yaml:"monitor" json:"monitor"`
	Host     HostConfig     `yaml:"host" json:"host"`
	API      APIConfig      `yaml:"api" json:"api"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Log      LogConfig      `yaml:"log" json:"log"`
}

// Default returns the configuration written when no file exists.
func Default() *Config {
	return &Config{
		Monitor: MonitorConfig{
			PortFile:      DefaultPortFile,
			CheckInterval: DefaultCheckInterval,
			AutoReconnect: true,
			LogLevel:      LogNormal,
			MinPort:       1,
			SettingKey:    DefaultSettingKey,
		},
		Host: HostConfig{
			ReconnectTimeout: 30,
		},
		API: APIConfig{
			Enabled:        true,
			Listen:         DefaultAPIListen,
			JWTExpiryHours: 24,
			Username:       "admin",
		},
		Database: DatabaseConfig{
			Type:             "sqlite",
			Database:         DefaultDatabase,
			LogRetentionDays: 30,
		},
		Log: LogConfig{
			Format: "text",
		},
	}
}

// Normalize fills defaults for empty fields and clamps out-of-range values.
// It returns a note for every value it had to change.
func (c *Config) Normalize() []string {
	var notes []string
	m := &c.Monitor
	if m.PortFile == "" {
		m.PortFile = DefaultPortFile
	}
	if m.CheckInterval <= 0 {
		m.CheckInterval = DefaultCheckInterval
	} else if m.CheckInterval < MinCheckInterval {
		notes = append(notes, fmt.Sprintf("check_interval %d raised to %d", m.CheckInterval, MinCheckInterval))
		m.CheckInterval = MinCheckInterval
	}
	if m.LogLevel == "" {
		m.LogLevel = LogNormal
	}
	if m.MinPort <= 0 {
		m.MinPort = 1
	}
	if m.SettingKey == "" {
		m.SettingKey = DefaultSettingKey
	}
	if c.Host.ReconnectTimeout <= 0 {
		c.Host.ReconnectTimeout = 30
	}
	if c.API.Listen == "" {
		c.API.Listen = DefaultAPIListen
	}
	if c.API.JWTExpiryHours <= 0 {
		c.API.JWTExpiryHours = 24
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.Database == "" {
		c.Database.Database = DefaultDatabase
	}
	if c.Database.LogRetentionDays <= 0 {
		c.Database.LogRetentionDays = 30
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	return notes
}

// Validate rejects configurations that cannot be run.
func (c *Config) Validate() error {
	var errs []error
	level, err := ParseLogLevel(string(c.Monitor.LogLevel))
	if err != nil {
		errs = append(errs, err)
	} else {
		c.Monitor.LogLevel = level
	}
	if c.Monitor.MinPort > 65535 {
		errs = append(errs, fmt.Errorf("min_port %d out of range", c.Monitor.MinPort))
	}
	switch c.Database.Type {
	case "sqlite", "sqlite-nocgo":
	default:
		errs = append(errs, fmt.Errorf("unsupported database type: %s", c.Database.Type))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unsupported log format: %s", c.Log.Format))
	}
	switch strings.ToLower(c.Host.SettingsFormat) {
	case "", "json", "yaml", "yml", "xml":
	default:
		errs = append(errs, fmt.Errorf("unsupported settings format: %s", c.Host.SettingsFormat))
	}
	return errors.Join(errs...)
}

// Load reads path. A missing file is created with the defaults.
func Load(path string) (*Config, []string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		if saveErr := Save(path, cfg); saveErr != nil {
			return cfg, []string{fmt.Sprintf("failed to save default config: %v", saveErr)}, nil
		}
		return cfg, []string{"created default configuration file " + path}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Read parses an existing file. Unlike Load it never creates one.
func Read(path string) (*Config, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, normalizes and validates YAML config content.
func Parse(data []byte) (*Config, []string, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, nil, fmt.Errorf("parse config file: %w", err)
	}
	notes := cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, notes, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, notes, nil
}

// Save writes cfg to path, keeping the previous file as path.bak.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+".bak"); err != nil {
			return fmt.Errorf("backup config file: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		if _, backupErr := os.Stat(path + ".bak"); backupErr == nil {
			_ = os.Rename(path+".bak", path)
		}
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
