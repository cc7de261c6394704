package recovery

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultSliceSize is the granularity of coverage checking
	DefaultSliceSize = 30 * time.Minute

	// DefaultMaxCoalesce is the widest covered stretch between two gaps
	// that still merges them into a single recovery period
	DefaultMaxCoalesce = 60 * time.Minute

	// DefaultCheckDays bounds how far back outage detection scans
	DefaultCheckDays = 3

	// DefaultUnhealthyFailures flags the system when this many recovery
	// failures accumulate within a day
	DefaultUnhealthyFailures = 5
)

// EngineConfig holds the recovery engine settings.
type EngineConfig struct {
	SliceSize   time.Duration
	MaxCoalesce time.Duration
	CheckDays   int

	UnhealthyFailures int

	Logger *logrus.Logger
}

// NewEngineConfig loads recovery settings from the environment.
func NewEngineConfig(logger *logrus.Logger) (*EngineConfig, error) {
	config := &EngineConfig{
		SliceSize:         envMinutes("RECOVERY_SLICE_MINUTES", DefaultSliceSize),
		MaxCoalesce:       envMinutes("RECOVERY_MAX_COALESCE_MINUTES", DefaultMaxCoalesce),
		CheckDays:         envInt("RECOVERY_CHECK_DAYS", DefaultCheckDays),
		UnhealthyFailures: envInt("RECOVERY_UNHEALTHY_FAILURES", DefaultUnhealthyFailures),
		Logger:            logger,
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *EngineConfig) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.SliceSize <= 0 {
		return fmt.Errorf("slice size must be positive")
	}
	if c.MaxCoalesce < 0 {
		return fmt.Errorf("max coalesce must not be negative")
	}
	if c.CheckDays <= 0 {
		return fmt.Errorf("check days must be positive")
	}
	return nil
}

func envMinutes(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if minutes, err := strconv.Atoi(v); err == nil && minutes > 0 {
			return time.Duration(minutes) * time.Minute
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
