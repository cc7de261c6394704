package twitter

import (
	"context"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

type batchLookupResponse struct {
	Data     []Tweet        `json:"data"`
	Includes *Includes      `json:"includes,omitempty"`
	Errors   []TwitterError `json:"errors,omitempty"`
}

// BatchGetTweetDetails resolves many tweets in as few calls as possible.
// Inputs larger than the provider's per-call cap are split into consecutive
// chunks. Tweets the provider omits (deleted, suspended author) are simply
// absent from the result; inline errors do not fail the batch.
func (c *TwitterClient) BatchGetTweetDetails(ctx context.Context, tweetIDs []string) ([]TweetDetail, error) {
	if len(tweetIDs) == 0 {
		return nil, nil
	}

	log := c.logger.WithFields(logrus.Fields{
		"method":   "BatchGetTweetDetails",
		"id_count": len(tweetIDs),
	})

	details := make([]TweetDetail, 0, len(tweetIDs))
	for start := 0; start < len(tweetIDs); start += c.config.MaxBatchSize {
		end := start + c.config.MaxBatchSize
		if end > len(tweetIDs) {
			end = len(tweetIDs)
		}

		chunk, err := c.batchLookup(ctx, tweetIDs[start:end])
		if err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"chunk_start": start,
				"chunk_end":   end,
			}).Error("Batch tweet lookup failed")
			return nil, err
		}
		details = append(details, chunk...)
	}

	log.WithField("resolved_count", len(details)).Debug("Batch tweet lookup complete")
	return details, nil
}

func (c *TwitterClient) batchLookup(ctx context.Context, tweetIDs []string) ([]TweetDetail, error) {
	params := url.Values{}
	params.Set("ids", strings.Join(tweetIDs, ","))
	params.Set("tweet.fields", c.config.GetTweetFields())
	params.Set("expansions", "author_id")
	params.Set("user.fields", c.config.GetUserFields())

	var resp batchLookupResponse
	if err := c.get(ctx, c.config.TweetEndpoint, params, &resp); err != nil {
		return nil, err
	}

	details := make([]TweetDetail, 0, len(resp.Data))
	for _, tweet := range resp.Data {
		detail, err := c.buildDetail(tweet, resp.Includes)
		if err != nil {
			c.logger.WithError(err).WithField("tweet_id", tweet.ID).
				Warn("Skipping tweet with unparseable timestamp")
			continue
		}
		details = append(details, *detail)
	}

	for _, inlineErr := range resp.Errors {
		c.logger.WithFields(logrus.Fields{
			"code":    inlineErr.Code,
			"message": inlineErr.Message,
		}).Debug("Partial error in batch lookup")
	}

	return details, nil
}
