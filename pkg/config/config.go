// Package config provides configuration management for errtrack.
// Supports TOML configuration files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/armorclaw/errtrack/pkg/logger"
	"github.com/armorclaw/errtrack/pkg/tracker"
)

// Helper function to validate directory exists or can be created
func validateDirectoryWritable(dir string) error {
	// Check if directory exists
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			// Try to create it
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("cannot create directory: %w", err)
			}
			return nil
		}
		return fmt.Errorf("cannot access directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("not a directory")
	}

	// Check if we can write to it
	testFile := filepath.Join(dir, ".write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("cannot write to directory: %w", err)
	}
	f.Close()
	os.Remove(testFile)

	return nil
}

var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingValue  = errors.New("missing required configuration value")
)

// Config holds all errtrack configuration
type Config struct {
	// Tracker configuration
	Tracker TrackerConfig `toml:"tracker"`

	// Store configuration
	Store StoreConfig `toml:"store"`

	// Server configuration
	Server ServerConfig `toml:"server"`

	// Notifications configuration
	Notifications NotificationsConfig `toml:"notifications"`

	// Event bus configuration
	EventBus EventBusConfig `toml:"eventbus"`

	// Cleanup scheduling
	Cleanup CleanupConfig `toml:"cleanup"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging"`
}

// TrackerConfig holds the ingestion pipeline configuration
type TrackerConfig struct {
	// Sampling holds the admission probability per level, each in [0,1]
	Sampling tracker.SamplingRates `toml:"sampling"`

	// RateLimit bounds admissions per window
	RateLimit RateLimitConfig `toml:"rate_limit"`

	// Retention is how long an idle group is kept in memory
	Retention string `toml:"retention" env:"ERRTRACK_RETENTION"`

	// RecentEvents is the number of raw events kept per group
	RecentEvents int `toml:"recent_events"`

	// AlertThreshold raises an alert at every multiple of this group count
	AlertThreshold int64 `toml:"alert_threshold" env:"ERRTRACK_ALERT_THRESHOLD"`
}

// RateLimitConfig holds rate limiter settings
type RateLimitConfig struct {
	MaxPerGroup int    `toml:"max_per_group" env:"ERRTRACK_MAX_PER_GROUP"`
	MaxTotal    int    `toml:"max_total" env:"ERRTRACK_MAX_TOTAL"`
	Window      string `toml:"window"`
}

// StoreConfig holds SQLite persistence settings
type StoreConfig struct {
	// Enabled persists admitted events to SQLite
	Enabled bool `toml:"enabled" env:"ERRTRACK_STORE_ENABLED"`

	// DBPath is the path to the SQLite database
	DBPath string `toml:"db_path" env:"ERRTRACK_STORE_DB"`

	// Retention is how long persisted events are kept
	Retention string `toml:"retention"`

	// BufferSize is the async write queue length; events beyond it are dropped
	BufferSize int `toml:"buffer_size"`

	// DrainTimeout bounds how long shutdown waits for queued writes
	DrainTimeout string `toml:"drain_timeout"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	// Enabled starts the HTTP API
	Enabled bool `toml:"enabled" env:"ERRTRACK_SERVER_ENABLED"`

	// Addr is the listen address
	Addr string `toml:"addr" env:"ERRTRACK_SERVER_ADDR"`

	// IngestRate is the sustained events per second accepted by POST /api/events
	IngestRate float64 `toml:"ingest_rate"`

	// IngestBurst is the burst size for the ingestion throttle
	IngestBurst int `toml:"ingest_burst"`

	// MaxBodyBytes caps the size of an ingestion request
	MaxBodyBytes int64 `toml:"max_body_bytes"`

	// AllowedOrigins restricts WebSocket origins (empty = same origin only)
	AllowedOrigins []string `toml:"allowed_origins"`

	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// NotificationsConfig holds alert delivery settings
type NotificationsConfig struct {
	// Enabled controls whether alerts are delivered beyond the log
	Enabled bool `toml:"enabled" env:"ERRTRACK_NOTIFICATIONS_ENABLED"`

	// WebhookURL receives alerts as JSON POST requests
	WebhookURL string `toml:"webhook_url" env:"ERRTRACK_WEBHOOK_URL"`

	// WebhookTimeout bounds each webhook request
	WebhookTimeout string `toml:"webhook_timeout"`

	// WebhookRatePerMinute paces webhook deliveries
	WebhookRatePerMinute float64 `toml:"webhook_rate_per_minute"`

	// QueueSize is the number of alerts buffered for delivery
	QueueSize int `toml:"queue_size"`
}

// EventBusConfig holds live alert stream settings
type EventBusConfig struct {
	// MaxSubscribers is the maximum concurrent subscribers
	MaxSubscribers int `toml:"max_subscribers" env:"ERRTRACK_EVENTBUS_MAX_SUBSCRIBERS"`

	// InactivityTimeout is the timeout for inactive subscribers
	InactivityTimeout string `toml:"inactivity_timeout"`
}

// CleanupConfig holds cron schedules for retention jobs
type CleanupConfig struct {
	// Schedule runs the in-memory group reaper
	Schedule string `toml:"schedule" env:"ERRTRACK_CLEANUP_SCHEDULE"`

	// StoreSchedule runs store retention
	StoreSchedule string `toml:"store_schedule"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `toml:"level" env:"ERRTRACK_LOG_LEVEL"`

	// Format is the log format (json, text)
	Format string `toml:"format" env:"ERRTRACK_LOG_FORMAT"`

	// Output is the log output (stdout, stderr, or file)
	Output string `toml:"output" env:"ERRTRACK_LOG_OUTPUT"`

	// File is the log file path when output is "file"
	File string `toml:"file" env:"ERRTRACK_LOG_FILE"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Tracker: TrackerConfig{
			Sampling: tracker.DefaultSamplingRates(),
			RateLimit: RateLimitConfig{
				MaxPerGroup: 100,
				MaxTotal:    1000,
				Window:      "1m",
			},
			Retention:      "24h",
			RecentEvents:   10,
			AlertThreshold: 10,
		},
		Store: StoreConfig{
			Enabled:      true,
			DBPath:       filepath.Join(homeDir, ".errtrack", "errtrack.db"),
			Retention:    "720h",
			BufferSize:   1024,
			DrainTimeout: "5s",
		},
		Server: ServerConfig{
			Enabled:         true,
			Addr:            "127.0.0.1:8089",
			IngestRate:      200,
			IngestBurst:     400,
			MaxBodyBytes:    1 << 20,
			AllowedOrigins:  []string{},
			ShutdownTimeout: "10s",
		},
		Notifications: NotificationsConfig{
			Enabled:              false,
			WebhookURL:           "",
			WebhookTimeout:       "5s",
			WebhookRatePerMinute: 30,
			QueueSize:            64,
		},
		EventBus: EventBusConfig{
			MaxSubscribers:    100,
			InactivityTimeout: "30m",
		},
		Cleanup: CleanupConfig{
			Schedule:      "@every 5m",
			StoreSchedule: "@daily",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
			File:   "",
		},
	}
}

// ConfigPaths returns the list of default configuration file paths to check
func ConfigPaths() []string {
	homeDir, _ := os.UserHomeDir()
	return []string{
		filepath.Join(homeDir, ".errtrack", "config.toml"),
		filepath.Join("/etc", "errtrack", "config.toml"),
		"./config.toml",
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Tracker settings are checked by the tracker itself
	tc, err := c.ToTrackerConfig()
	if err != nil {
		return err
	}
	if err := tc.Validate(); err != nil {
		return fmt.Errorf("%w: tracker: %w", ErrInvalidConfig, err)
	}

	if c.Store.Enabled {
		if c.Store.DBPath == "" {
			return fmt.Errorf("%w: store.db_path is required when store is enabled", ErrMissingValue)
		}
		storeDir := filepath.Dir(c.Store.DBPath)
		if err := validateDirectoryWritable(storeDir); err != nil {
			return fmt.Errorf("%w: store directory %s: %w", ErrInvalidConfig, storeDir, err)
		}
		if _, err := parseDuration("store.retention", c.Store.Retention); err != nil {
			return err
		}
		if _, err := parseDuration("store.drain_timeout", c.Store.DrainTimeout); err != nil {
			return err
		}
		if c.Store.BufferSize < 0 {
			return fmt.Errorf("%w: store.buffer_size cannot be negative", ErrInvalidConfig)
		}
	}

	if c.Server.Enabled {
		if c.Server.Addr == "" {
			return fmt.Errorf("%w: server.addr is required when server is enabled", ErrMissingValue)
		}
		if c.Server.IngestRate < 0 || c.Server.IngestBurst < 0 {
			return fmt.Errorf("%w: server ingest limits cannot be negative", ErrInvalidConfig)
		}
		if _, err := parseDuration("server.shutdown_timeout", c.Server.ShutdownTimeout); err != nil {
			return err
		}
	}

	if c.Notifications.Enabled && c.Notifications.WebhookURL != "" {
		if _, err := parseDuration("notifications.webhook_timeout", c.Notifications.WebhookTimeout); err != nil {
			return err
		}
		if c.Notifications.WebhookRatePerMinute < 0 {
			return fmt.Errorf("%w: notifications.webhook_rate_per_minute cannot be negative", ErrInvalidConfig)
		}
	}

	if _, err := parseDuration("eventbus.inactivity_timeout", c.EventBus.InactivityTimeout); err != nil {
		return err
	}

	// Validate cron schedules
	for name, spec := range map[string]string{
		"cleanup.schedule":       c.Cleanup.Schedule,
		"cleanup.store_schedule": c.Cleanup.StoreSchedule,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, name, err)
		}
	}

	// Validate logging configuration
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("%w: logging.level must be one of: debug, info, warn, error", ErrInvalidConfig)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("%w: logging.format must be one of: json, text", ErrInvalidConfig)
	}

	validOutputs := map[string]bool{
		"stdout": true,
		"stderr": true,
		"file":   true,
	}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("%w: logging.output must be one of: stdout, stderr, file", ErrInvalidConfig)
	}

	if c.Logging.Output == "file" && c.Logging.File == "" {
		return fmt.Errorf("%w: logging.file is required when logging.output is 'file'", ErrMissingValue)
	}

	return nil
}

// ToTrackerConfig converts the [tracker] section to tracker.Config
func (c *Config) ToTrackerConfig() (tracker.Config, error) {
	window, err := parseDuration("tracker.rate_limit.window", c.Tracker.RateLimit.Window)
	if err != nil {
		return tracker.Config{}, err
	}
	retention, err := parseDuration("tracker.retention", c.Tracker.Retention)
	if err != nil {
		return tracker.Config{}, err
	}

	return tracker.Config{
		Sampling: c.Tracker.Sampling,
		RateLimit: tracker.RateLimitConfig{
			MaxPerGroup: c.Tracker.RateLimit.MaxPerGroup,
			MaxTotal:    c.Tracker.RateLimit.MaxTotal,
			Window:      window,
		},
		Retention:      retention,
		RecentEvents:   c.Tracker.RecentEvents,
		AlertThreshold: c.Tracker.AlertThreshold,
	}, nil
}

// ToLoggerConfig converts the [logging] section to logger.Config
func (c *Config) ToLoggerConfig() logger.Config {
	output := c.Logging.Output
	if output == "file" {
		output = c.Logging.File
	}
	return logger.Config{
		Level:     c.Logging.Level,
		Format:    c.Logging.Format,
		Output:    output,
		Component: "errtrackd",
	}
}

// StoreRetention returns how long persisted events are kept
func (c *Config) StoreRetention() time.Duration {
	return durationOr(c.Store.Retention, 30*24*time.Hour)
}

// StoreDrainTimeout returns how long shutdown waits for queued writes
func (c *Config) StoreDrainTimeout() time.Duration {
	return durationOr(c.Store.DrainTimeout, 5*time.Second)
}

// ShutdownTimeout returns the graceful shutdown bound for the HTTP server
func (c *Config) ShutdownTimeout() time.Duration {
	return durationOr(c.Server.ShutdownTimeout, 10*time.Second)
}

// WebhookTimeout returns the per-request webhook timeout
func (c *Config) WebhookTimeout() time.Duration {
	return durationOr(c.Notifications.WebhookTimeout, 5*time.Second)
}

// InactivityTimeout returns the event bus subscriber inactivity timeout
func (c *Config) InactivityTimeout() time.Duration {
	return durationOr(c.EventBus.InactivityTimeout, 30*time.Minute)
}

// parseDuration parses a duration field. Empty means zero, which callers
// treat as "use the default".
func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s cannot be negative", ErrInvalidConfig, field)
	}
	return d, nil
}

func durationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
