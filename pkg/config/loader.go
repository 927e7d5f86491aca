package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Load loads configuration from a file path
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// If path is empty, search for default config files
	if path == "" {
		for _, p := range ConfigPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else {
		log.Printf("Warning: No configuration file found in default locations")
		for _, p := range ConfigPaths() {
			log.Printf("  - %s", p)
		}
		log.Printf("Using default configuration")
		log.Printf("Create a config with: errtrackd init")
	}

	// Environment overrides apply with or without a file
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadOrDie loads configuration or exits on error
func LoadOrDie(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func envBool(v string) bool {
	return v == "true" || v == "1"
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) error {
	// Tracker overrides
	if v := os.Getenv("ERRTRACK_RETENTION"); v != "" {
		cfg.Tracker.Retention = v
	}
	if v := os.Getenv("ERRTRACK_ALERT_THRESHOLD"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("ERRTRACK_ALERT_THRESHOLD: %w", err)
		}
		cfg.Tracker.AlertThreshold = n
	}
	if v := os.Getenv("ERRTRACK_MAX_PER_GROUP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ERRTRACK_MAX_PER_GROUP: %w", err)
		}
		cfg.Tracker.RateLimit.MaxPerGroup = n
	}
	if v := os.Getenv("ERRTRACK_MAX_TOTAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ERRTRACK_MAX_TOTAL: %w", err)
		}
		cfg.Tracker.RateLimit.MaxTotal = n
	}

	// Store overrides
	if v := os.Getenv("ERRTRACK_STORE_ENABLED"); v != "" {
		cfg.Store.Enabled = envBool(v)
	}
	if v := os.Getenv("ERRTRACK_STORE_DB"); v != "" {
		cfg.Store.DBPath = v
	}

	// Server overrides
	if v := os.Getenv("ERRTRACK_SERVER_ENABLED"); v != "" {
		cfg.Server.Enabled = envBool(v)
	}
	if v := os.Getenv("ERRTRACK_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}

	// Notification overrides
	if v := os.Getenv("ERRTRACK_NOTIFICATIONS_ENABLED"); v != "" {
		cfg.Notifications.Enabled = envBool(v)
	}
	if v := os.Getenv("ERRTRACK_WEBHOOK_URL"); v != "" {
		cfg.Notifications.WebhookURL = v
	}

	// Event bus overrides
	if v := os.Getenv("ERRTRACK_EVENTBUS_MAX_SUBSCRIBERS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.EventBus.MaxSubscribers = n
		}
	}

	// Cleanup overrides
	if v := os.Getenv("ERRTRACK_CLEANUP_SCHEDULE"); v != "" {
		cfg.Cleanup.Schedule = v
	}

	// Logging overrides
	if v := os.Getenv("ERRTRACK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ERRTRACK_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("ERRTRACK_LOG_OUTPUT"); v != "" {
		cfg.Logging.Output = v
	}
	if v := os.Getenv("ERRTRACK_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}

	return nil
}

// Save saves the configuration to a file
func Save(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("cannot save invalid configuration: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Forward slashes keep Windows paths from being read as TOML escapes
	cfgCopy := *cfg
	cfgCopy.Store.DBPath = filepath.ToSlash(cfg.Store.DBPath)
	if cfgCopy.Logging.File != "" {
		cfgCopy.Logging.File = filepath.ToSlash(cfgCopy.Logging.File)
	}

	data, err := toml.Marshal(&cfgCopy)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GenerateExampleConfig generates an example configuration file
func GenerateExampleConfig(path string) error {
	cfg := DefaultConfig()

	cfg.Store.DBPath = filepath.Join(filepath.Dir(path), "errtrack.db")
	cfg.Notifications.Enabled = true
	cfg.Notifications.WebhookURL = "https://hooks.example.com/errtrack"
	cfg.Logging.Format = "json"

	return Save(cfg, path)
}
