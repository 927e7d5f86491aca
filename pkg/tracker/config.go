package tracker

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned when a tracker configuration is rejected
var ErrInvalidConfig = errors.New("invalid tracker configuration")

// SamplingRates holds the admission probability for each level
type SamplingRates struct {
	Debug    float64 `toml:"debug" json:"debug"`
	Info     float64 `toml:"info" json:"info"`
	Warning  float64 `toml:"warning" json:"warning"`
	Error    float64 `toml:"error" json:"error"`
	Critical float64 `toml:"critical" json:"critical"`
}

// DefaultSamplingRates keeps every error and critical event and
// progressively less of the lower levels
func DefaultSamplingRates() SamplingRates {
	return SamplingRates{
		Debug:    0.01,
		Info:     0.1,
		Warning:  0.5,
		Error:    1.0,
		Critical: 1.0,
	}
}

// Rate returns the sampling rate for a level
func (s SamplingRates) Rate(level Level) float64 {
	switch level {
	case LevelDebug:
		return s.Debug
	case LevelInfo:
		return s.Info
	case LevelWarning:
		return s.Warning
	case LevelCritical:
		return s.Critical
	default:
		return s.Error
	}
}

// RateLimitConfig bounds how many occurrences are admitted per window
type RateLimitConfig struct {
	MaxPerGroup int           `toml:"max_per_group" json:"max_per_group"`
	MaxTotal    int           `toml:"max_total" json:"max_total"`
	Window      time.Duration `toml:"window" json:"window"`
}

// Config configures a Tracker. It is read once by New.
type Config struct {
	Sampling       SamplingRates
	RateLimit      RateLimitConfig
	Retention      time.Duration // groups idle longer than this are reaped (default 24h)
	RecentEvents   int           // raw events kept per group (default 10)
	AlertThreshold int64         // alert every time a group count reaches a multiple of this (default 10)
}

const (
	defaultMaxPerGroup    = 100
	defaultMaxTotal       = 1000
	defaultWindow         = time.Minute
	defaultRetention      = 24 * time.Hour
	defaultRecentEvents   = 10
	defaultAlertThreshold = 10
)

// DefaultConfig returns a configuration usable without further changes
func DefaultConfig() Config {
	return Config{
		Sampling: DefaultSamplingRates(),
		RateLimit: RateLimitConfig{
			MaxPerGroup: defaultMaxPerGroup,
			MaxTotal:    defaultMaxTotal,
			Window:      defaultWindow,
		},
		Retention:      defaultRetention,
		RecentEvents:   defaultRecentEvents,
		AlertThreshold: defaultAlertThreshold,
	}
}

// Validate checks that every sampling rate is a probability
func (c Config) Validate() error {
	for _, level := range Levels {
		r := c.Sampling.Rate(level)
		if r < 0 || r > 1 {
			return fmt.Errorf("%w: sampling rate for %s must be within [0,1], got %v", ErrInvalidConfig, level, r)
		}
	}
	if c.RateLimit.MaxPerGroup < 0 || c.RateLimit.MaxTotal < 0 {
		return fmt.Errorf("%w: rate limits must not be negative", ErrInvalidConfig)
	}
	if c.RateLimit.Window < 0 || c.Retention < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	return nil
}

// withDefaults fills zero limits and durations. An entirely unset sampling
// block takes the default rates; otherwise each rate is kept as given since
// zero is a meaningful rate.
func (c Config) withDefaults() Config {
	if c.Sampling == (SamplingRates{}) {
		c.Sampling = DefaultSamplingRates()
	}
	if c.RateLimit.MaxPerGroup == 0 {
		c.RateLimit.MaxPerGroup = defaultMaxPerGroup
	}
	if c.RateLimit.MaxTotal == 0 {
		c.RateLimit.MaxTotal = defaultMaxTotal
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = defaultWindow
	}
	if c.Retention == 0 {
		c.Retention = defaultRetention
	}
	if c.RecentEvents <= 0 {
		c.RecentEvents = defaultRecentEvents
	}
	if c.AlertThreshold <= 0 {
		c.AlertThreshold = defaultAlertThreshold
	}
	return c
}
