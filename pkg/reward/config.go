package reward

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultSchedule runs the calculation a few minutes past every
	// eighth hour; late runs of the same day are idempotent no-ops.
	DefaultSchedule = "5 */8 * * *"

	DefaultRegularCreditsPerPost   = 2
	DefaultMaxRegularCreditsPerDay = 20
	DefaultMinViewsForReward       = 20
	DefaultShareLinkMultiplier     = 1.1
	DefaultDailyCreditCap          = 500
	DefaultDataRetentionDays       = 5
	DefaultHistoryLimit            = 7

	DefaultRefreshBatchSize    = 50
	DefaultRefreshBatchDelay   = 2 * time.Second
	DefaultRefreshRetryBackoff = 10 * time.Second

	// DefaultRegularLookback covers the full day before the reward date.
	DefaultRegularLookback = 24 * time.Hour

	// DefaultBonusLookback reaches back far enough that the bonus window
	// sits entirely before the regular window.
	DefaultBonusLookback = 48 * time.Hour
)

// EngineConfig holds the reward calculation settings.
type EngineConfig struct {
	// Schedule is a cron expression for automatic calculation runs.
	Schedule string

	RegularCreditsPerPost   int
	MaxRegularCreditsPerDay int
	MinViewsForReward       int
	ShareLinkMultiplier     float64
	DailyCreditCap          int

	Tiers []Tier

	// RegularLookback is how far before the reward date the regular
	// window reaches. BonusLookback is how far back the bonus window
	// starts; it must exceed RegularLookback so the two windows never
	// overlap.
	RegularLookback time.Duration
	BonusLookback   time.Duration

	// Metric refresh pacing for bonus calculation.
	RefreshBatchSize    int
	RefreshBatchDelay   time.Duration
	RefreshRetryBackoff time.Duration

	DataRetentionDays int
	HistoryLimit      int

	Logger *logrus.Logger
}

// NewEngineConfig loads reward settings from the environment.
func NewEngineConfig(logger *logrus.Logger) (*EngineConfig, error) {
	config := &EngineConfig{
		Schedule:                getEnvOrDefault("REWARD_SCHEDULE", DefaultSchedule),
		RegularCreditsPerPost:   envInt("REGULAR_CREDITS_PER_POST", DefaultRegularCreditsPerPost),
		MaxRegularCreditsPerDay: envInt("MAX_REGULAR_CREDITS_PER_DAY", DefaultMaxRegularCreditsPerDay),
		MinViewsForReward:       envInt("MIN_VIEWS_FOR_REWARD", DefaultMinViewsForReward),
		ShareLinkMultiplier:     envFloat("SHARE_LINK_MULTIPLIER", DefaultShareLinkMultiplier),
		DailyCreditCap:          envInt("DAILY_CREDIT_CAP", DefaultDailyCreditCap),
		RegularLookback:         envHours("REGULAR_WINDOW_HOURS", DefaultRegularLookback),
		BonusLookback:           envHours("BONUS_LOOKBACK_HOURS", DefaultBonusLookback),
		RefreshBatchSize:        envInt("METRIC_REFRESH_BATCH_SIZE", DefaultRefreshBatchSize),
		RefreshBatchDelay:       envSeconds("METRIC_REFRESH_BATCH_DELAY_SECONDS", DefaultRefreshBatchDelay),
		RefreshRetryBackoff:     envSeconds("METRIC_REFRESH_RETRY_BACKOFF_SECONDS", DefaultRefreshRetryBackoff),
		DataRetentionDays:       envInt("DATA_RETENTION_DAYS", DefaultDataRetentionDays),
		HistoryLimit:            envInt("CALCULATION_HISTORY_LIMIT", DefaultHistoryLimit),
		Logger:                  logger,
	}

	if spec := os.Getenv("REWARD_TIERS"); spec != "" {
		tiers, err := ParseTiers(spec)
		if err != nil {
			return nil, fmt.Errorf("invalid REWARD_TIERS: %w", err)
		}
		config.Tiers = tiers
	} else {
		config.Tiers = DefaultTiers()
	}

	if config.BonusLookback <= config.RegularLookback {
		logger.WithFields(logrus.Fields{
			"regular_window_hours": config.RegularLookback.Hours(),
			"bonus_lookback_hours": config.BonusLookback.Hours(),
		}).Warn("Bonus lookback does not clear the regular window, widening it")
		config.BonusLookback = 2 * config.RegularLookback
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
	if c.RegularCreditsPerPost <= 0 || c.MaxRegularCreditsPerDay <= 0 {
		return fmt.Errorf("regular credit settings must be positive")
	}
	if c.ShareLinkMultiplier < 1.0 {
		return fmt.Errorf("share link multiplier must be at least 1.0")
	}
	if c.DailyCreditCap <= 0 {
		return fmt.Errorf("daily credit cap must be positive")
	}
	if len(c.Tiers) == 0 {
		return fmt.Errorf("at least one bonus tier is required")
	}
	if c.RefreshBatchSize <= 0 || c.RefreshBatchSize > 100 {
		return fmt.Errorf("refresh batch size must be between 1 and 100")
	}
	if c.RegularLookback <= 0 {
		return fmt.Errorf("regular lookback must be positive")
	}
	if c.BonusLookback <= c.RegularLookback {
		return fmt.Errorf("bonus lookback must exceed the regular lookback")
	}
	return nil
}

// RegularWindow returns the post window for regular rewards: the
// configured lookback span ending on the reward date.
func (c *EngineConfig) RegularWindow(date time.Time) (time.Time, time.Time) {
	day := date.UTC().Truncate(24 * time.Hour)
	return day.Add(-c.RegularLookback), day
}

// BonusWindow returns the post window for bonus rewards: the span before
// the regular window, so view counts have had time to settle. The window
// ends exactly where the regular window starts; no post can earn both in
// one run.
func (c *EngineConfig) BonusWindow(date time.Time) (time.Time, time.Time) {
	regStart, _ := c.RegularWindow(date)
	day := date.UTC().Truncate(24 * time.Hour)
	return day.Add(-c.BonusLookback), regStart
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
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

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return fallback
}

func envHours(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if hours, err := strconv.Atoi(v); err == nil && hours > 0 {
			return time.Duration(hours) * time.Hour
		}
	}
	return fallback
}

func envSeconds(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}
