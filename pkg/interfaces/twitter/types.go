package twitter

import (
	"fmt"
	"strings"
	"time"
)

// TweetType classifies a post by its referenced tweets.
type TweetType string

const (
	TypeOriginal TweetType = "original"
	TypeReply    TweetType = "reply"
	TypeRetweet  TweetType = "retweet"
	TypeQuote    TweetType = "quote"
)

// Tweet is the subset of the v2 tweet object this client requests.
type Tweet struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	AuthorID  string `json:"author_id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`

	PublicMetrics struct {
		RetweetCount    int `json:"retweet_count"`
		ReplyCount      int `json:"reply_count"`
		LikeCount       int `json:"like_count"`
		QuoteCount      int `json:"quote_count"`
		ImpressionCount int `json:"impression_count"`
	} `json:"public_metrics,omitempty"`

	ReferencedTweets []struct {
		Type string `json:"type"` // "retweeted", "quoted" or "replied_to"
		ID   string `json:"id"`
	} `json:"referenced_tweets,omitempty"`

	Entities struct {
		URLs []struct {
			URL         string `json:"url"`
			ExpandedURL string `json:"expanded_url"`
			DisplayURL  string `json:"display_url"`
		} `json:"urls,omitempty"`
	} `json:"entities,omitempty"`
}

// ParsedCreatedAt returns the tweet creation time in UTC.
func (t Tweet) ParsedCreatedAt() (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, t.CreatedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse tweet created_at %q: %w", t.CreatedAt, err)
	}
	return ts.UTC(), nil
}

// Classify derives the tweet type from referenced_tweets.
func (t Tweet) Classify() TweetType {
	for _, ref := range t.ReferencedTweets {
		switch ref.Type {
		case "retweeted":
			return TypeRetweet
		case "quoted":
			return TypeQuote
		case "replied_to":
			return TypeReply
		}
	}
	return TypeOriginal
}

// HasShareLink reports whether any expanded URL points at the given domain.
func (t Tweet) HasShareLink(domain string) bool {
	if domain == "" {
		return false
	}
	for _, u := range t.Entities.URLs {
		if strings.HasPrefix(u.ExpandedURL, domain) {
			return true
		}
	}
	return false
}

// User represents a Twitter user object with public metrics.
type User struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Username      string `json:"username"`
	PublicMetrics struct {
		FollowersCount int `json:"followers_count"`
		FollowingCount int `json:"following_count"`
		TweetCount     int `json:"tweet_count"`
	} `json:"public_metrics,omitempty"`
}

// Meta holds pagination info returned alongside search results.
type Meta struct {
	ResultCount int    `json:"result_count"`
	NewestID    string `json:"newest_id,omitempty"`
	OldestID    string `json:"oldest_id,omitempty"`
	NextToken   string `json:"next_token,omitempty"`
}

// SearchResponse is the recent-search response envelope.
type SearchResponse struct {
	Data     []Tweet        `json:"data"`
	Includes *Includes      `json:"includes,omitempty"`
	Errors   []TwitterError `json:"errors,omitempty"`
	Meta     *Meta          `json:"meta,omitempty"`
}

// Includes contains expanded objects in a response.
type Includes struct {
	Users  []User  `json:"users,omitempty"`
	Tweets []Tweet `json:"tweets,omitempty"`
}

// TwitterError represents an inline error returned by the Twitter API.
type TwitterError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *TwitterError) Error() string {
	return fmt.Sprintf("Twitter API error %d: %s", e.Code, e.Message)
}

// APIError is a non-2xx HTTP response from the provider. The status code
// lets callers distinguish rate limiting (429) from other failures.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twitter api error: status=%d message=%s", e.StatusCode, e.Message)
}

// IsRateLimited reports whether the error is a 429 from the provider.
func IsRateLimited(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == 429
}

// TweetDetail is the resolved per-post view the pipeline consumes:
// classification, live view count and share-link validity, plus author
// attributes when the lookup ran with author resolution.
type TweetDetail struct {
	TweetID       string
	AuthorID      string
	AuthorHandle  string
	AuthorName    string
	CreatedAt     time.Time
	Type          TweetType
	ViewCount     int
	FollowerCount int
	HasShareLink  bool
}
