package ingest

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultFetchInterval is the default duration between fetch cycles
	DefaultFetchInterval = 30 * time.Minute

	// MinFetchWindow is the smallest window worth querying; a cycle due
	// earlier than this widens its window back to the minimum
	MinFetchWindow = 2 * time.Minute

	// DefaultSubWindowSize caps a single query window
	DefaultSubWindowSize = 30 * time.Minute

	// DefaultSubWindowDelay is the safety pause after a sub-window that
	// returned results or failed
	DefaultSubWindowDelay = 15 * time.Second

	// DefaultMaxPostsPerAuthorPerDay caps intake per author per UTC day
	DefaultMaxPostsPerAuthorPerDay = 10
)

// SchedulerConfig holds the ingestion scheduler settings.
type SchedulerConfig struct {
	// CampaignHandle is the tracked handle, without the leading @.
	CampaignHandle string

	// ExcludedAuthorIDs are never ingested (the campaign's own accounts).
	ExcludedAuthorIDs []string

	FetchInterval  time.Duration
	SubWindowSize  time.Duration
	SubWindowDelay time.Duration

	MaxPostsPerAuthorPerDay int

	Logger *logrus.Logger
}

// NewSchedulerConfig loads ingestion settings from the environment.
func NewSchedulerConfig(logger *logrus.Logger) (*SchedulerConfig, error) {
	config := &SchedulerConfig{
		CampaignHandle:          strings.TrimPrefix(os.Getenv("CAMPAIGN_HANDLE"), "@"),
		FetchInterval:           envDuration("FETCH_INTERVAL_MINUTES", DefaultFetchInterval),
		SubWindowSize:           envDuration("FETCH_SUB_WINDOW_MINUTES", DefaultSubWindowSize),
		SubWindowDelay:          envSeconds("FETCH_SUB_WINDOW_DELAY_SECONDS", DefaultSubWindowDelay),
		MaxPostsPerAuthorPerDay: envInt("MAX_POSTS_PER_AUTHOR_PER_DAY", DefaultMaxPostsPerAuthorPerDay),
		Logger:                  logger,
	}

	if excluded := os.Getenv("EXCLUDED_AUTHOR_IDS"); excluded != "" {
		for _, id := range strings.Split(excluded, ",") {
			if id = strings.TrimSpace(id); id != "" {
				config.ExcludedAuthorIDs = append(config.ExcludedAuthorIDs, id)
			}
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *SchedulerConfig) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.CampaignHandle == "" {
		return fmt.Errorf("CAMPAIGN_HANDLE is required")
	}
	if c.SubWindowSize <= 0 || c.FetchInterval <= 0 {
		return fmt.Errorf("fetch interval and sub-window size must be positive")
	}
	if c.MaxPostsPerAuthorPerDay <= 0 {
		return fmt.Errorf("max posts per author per day must be positive")
	}
	return nil
}

// SearchQuery builds the recent-search query for the campaign handle.
// Retweets are excluded at the query level; replies and quotes still come
// back and are classified during filtering.
func (c *SchedulerConfig) SearchQuery() string {
	return fmt.Sprintf("@%s -is:retweet", c.CampaignHandle)
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if minutes, err := strconv.Atoi(v); err == nil && minutes > 0 {
			return time.Duration(minutes) * time.Minute
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

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
