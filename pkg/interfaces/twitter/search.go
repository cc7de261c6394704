package twitter

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// SearchParams holds the parameters for a recent-search request.
// StartTime and EndTime bound the window; zero values are omitted.
type SearchParams struct {
	Query      string
	MaxResults int
	StartTime  time.Time
	EndTime    time.Time
	NextToken  string
}

// SearchRecent queries the recent search endpoint for one page of results.
// Callers drive pagination through Meta.NextToken.
// Rate limit: 300/15m (app), 180/15m (user).
func (c *TwitterClient) SearchRecent(ctx context.Context, params SearchParams) (*SearchResponse, error) {
	log := c.logger.WithFields(logrus.Fields{
		"method": "SearchRecent",
		"query":  params.Query,
	})

	query := url.Values{}
	query.Set("query", params.Query)
	if params.MaxResults > 0 {
		// The endpoint rejects max_results below 10 or above 100.
		maxResults := params.MaxResults
		if maxResults < 10 {
			maxResults = 10
		}
		if maxResults > 100 {
			maxResults = 100
		}
		query.Set("max_results", strconv.Itoa(maxResults))
	}
	if !params.StartTime.IsZero() {
		query.Set("start_time", params.StartTime.UTC().Format(time.RFC3339))
	}
	if !params.EndTime.IsZero() {
		query.Set("end_time", params.EndTime.UTC().Format(time.RFC3339))
	}
	if params.NextToken != "" {
		query.Set("next_token", params.NextToken)
	}
	query.Set("tweet.fields", c.config.GetTweetFields())
	query.Set("expansions", c.config.GetExpansions())

	var searchResp SearchResponse
	if err := c.get(ctx, c.config.SearchEndpoint, query, &searchResp); err != nil {
		log.WithError(err).Error("Failed to search tweets")
		return nil, err
	}

	resultCount := 0
	if searchResp.Meta != nil {
		resultCount = searchResp.Meta.ResultCount
	}
	log.WithFields(logrus.Fields{
		"result_count": resultCount,
		"has_next":     searchResp.Meta != nil && searchResp.Meta.NextToken != "",
	}).Debug("Received search response")

	return &searchResp, nil
}

// SearchAll drains every page of a windowed search, respecting the
// client rate limiter between pages.
func (c *TwitterClient) SearchAll(ctx context.Context, params SearchParams) ([]Tweet, error) {
	var tweets []Tweet

	for {
		resp, err := c.SearchRecent(ctx, params)
		if err != nil {
			return tweets, err
		}

		tweets = append(tweets, resp.Data...)

		if resp.Meta == nil || resp.Meta.NextToken == "" {
			return tweets, nil
		}
		params.NextToken = resp.Meta.NextToken
	}
}
