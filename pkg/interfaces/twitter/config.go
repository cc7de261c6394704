package twitter

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type TwitterConfig struct {
	// API Authentication
	ConsumerKey       string
	ConsumerSecret    string
	AccessToken       string
	AccessTokenSecret string
	BearerToken       string

	// API Endpoints
	BaseURL        string
	TweetEndpoint  string
	UserEndpoint   string
	SearchEndpoint string

	// Rate Limiting
	RateLimit  int // requests per window
	RateWindow int // window in seconds

	// Share link validation: a post counts as carrying a valid share link
	// only when one of its expanded URLs starts with this domain.
	ShareLinkDomain string

	// MaxBatchSize bounds a single batch tweet lookup (provider-side max).
	MaxBatchSize int

	// API Fields Configuration (based on Twitter v2 data dictionary)
	TweetFields     []string
	UserFields      []string
	ExpansionFields []string

	// General Config
	Logger *logrus.Logger
}

func NewTwitterConfig() (*TwitterConfig, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	rateLimit, _ := strconv.Atoi(getEnvOrDefault("TWITTER_RATE_LIMIT", "180"))
	rateWindow, _ := strconv.Atoi(getEnvOrDefault("TWITTER_RATE_WINDOW", "900"))
	maxBatch, _ := strconv.Atoi(getEnvOrDefault("TWITTER_MAX_BATCH_SIZE", "100"))

	config := &TwitterConfig{
		ConsumerKey:       os.Getenv("TWITTER_CONSUMER_KEY"),
		ConsumerSecret:    os.Getenv("TWITTER_CONSUMER_SECRET"),
		AccessToken:       os.Getenv("TWITTER_ACCESS_TOKEN"),
		AccessTokenSecret: os.Getenv("TWITTER_ACCESS_TOKEN_SECRET"),
		BearerToken:       os.Getenv("TWITTER_BEARER_TOKEN"),

		BaseURL:        getEnvOrDefault("TWITTER_API_BASE_URL", "https://api.twitter.com/2"),
		TweetEndpoint:  "/tweets",
		UserEndpoint:   "/users",
		SearchEndpoint: "/tweets/search/recent",

		RateLimit:  rateLimit,
		RateWindow: rateWindow,

		ShareLinkDomain: getEnvOrDefault("SHARE_LINK_DOMAIN", ""),
		MaxBatchSize:    maxBatch,

		TweetFields: []string{
			"id",
			"text",
			"created_at",
			"author_id",
			"public_metrics",
			"referenced_tweets",
			"entities",
		},
		UserFields: []string{
			"id",
			"name",
			"username",
			"public_metrics",
		},
		ExpansionFields: []string{
			"author_id",
			"referenced_tweets.id",
		},

		Logger: func() *logrus.Logger {
			log := logrus.New()
			if level := os.Getenv("LOG_LEVEL"); level != "" {
				if parsedLevel, err := logrus.ParseLevel(level); err == nil {
					log.SetLevel(parsedLevel)
				}
			}
			return log
		}(),
	}

	config.Logger.WithFields(logrus.Fields{
		"bearer_token_exists": config.BearerToken != "",
		"base_url":            config.BaseURL,
		"rate_limit":          config.RateLimit,
		"share_link_domain":   config.ShareLinkDomain,
	}).Debug("Twitter config initialized")

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *TwitterConfig) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}

	// Bearer token covers every read path; OAuth 1.0a is only needed when
	// the detail endpoints must run with user context.
	if c.BearerToken == "" {
		if c.ConsumerKey == "" || c.ConsumerSecret == "" ||
			c.AccessToken == "" || c.AccessTokenSecret == "" {
			return fmt.Errorf("either a Bearer token or full OAuth 1.0a credentials must be provided")
		}
	}

	if c.RateLimit <= 0 || c.RateWindow <= 0 {
		return fmt.Errorf("rate limit and rate window must be positive")
	}
	if c.MaxBatchSize <= 0 || c.MaxBatchSize > 100 {
		return fmt.Errorf("max batch size must be between 1 and 100")
	}

	return nil
}

// GetTweetFields returns the comma-joined tweet.fields parameter value.
func (c *TwitterConfig) GetTweetFields() string {
	return strings.Join(c.TweetFields, ",")
}

// GetUserFields returns the comma-joined user.fields parameter value.
func (c *TwitterConfig) GetUserFields() string {
	return strings.Join(c.UserFields, ",")
}

// GetExpansions returns the comma-joined expansions parameter value.
func (c *TwitterConfig) GetExpansions() string {
	return strings.Join(c.ExpansionFields, ",")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
