package twitter

import (
	"context"
	"fmt"
	"net/url"

	"github.com/sirupsen/logrus"
)

type tweetLookupResponse struct {
	Data     *Tweet         `json:"data"`
	Includes *Includes      `json:"includes,omitempty"`
	Errors   []TwitterError `json:"errors,omitempty"`
}

// GetTweetDetail looks up a single tweet with author expansion and returns
// the resolved detail view, including live view count and follower count.
func (c *TwitterClient) GetTweetDetail(ctx context.Context, tweetID string) (*TweetDetail, error) {
	return c.getTweetDetail(ctx, tweetID, true)
}

// GetTweetDetailLite looks up a single tweet without resolving the author.
// FollowerCount is left zero; ingestion filtering only needs classification,
// view count and share-link state.
func (c *TwitterClient) GetTweetDetailLite(ctx context.Context, tweetID string) (*TweetDetail, error) {
	return c.getTweetDetail(ctx, tweetID, false)
}

func (c *TwitterClient) getTweetDetail(ctx context.Context, tweetID string, withAuthor bool) (*TweetDetail, error) {
	log := c.logger.WithFields(logrus.Fields{
		"method":   "GetTweetDetail",
		"tweet_id": tweetID,
	})

	params := url.Values{}
	params.Set("tweet.fields", c.config.GetTweetFields())
	if withAuthor {
		params.Set("expansions", "author_id")
		params.Set("user.fields", c.config.GetUserFields())
	}

	var resp tweetLookupResponse
	endpoint := fmt.Sprintf("%s/%s", c.config.TweetEndpoint, tweetID)
	if err := c.get(ctx, endpoint, params, &resp); err != nil {
		log.WithError(err).Error("Failed to fetch tweet detail")
		return nil, err
	}

	if resp.Data == nil {
		if len(resp.Errors) > 0 {
			return nil, &resp.Errors[0]
		}
		return nil, fmt.Errorf("tweet %s not found", tweetID)
	}

	detail, err := c.buildDetail(*resp.Data, resp.Includes)
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"tweet_type": detail.Type,
		"view_count": detail.ViewCount,
	}).Debug("Resolved tweet detail")

	return detail, nil
}

// buildDetail projects a raw tweet (plus optional expanded users) onto the
// detail view the pipeline consumes.
func (c *TwitterClient) buildDetail(tweet Tweet, includes *Includes) (*TweetDetail, error) {
	createdAt, err := tweet.ParsedCreatedAt()
	if err != nil {
		return nil, err
	}

	detail := &TweetDetail{
		TweetID:      tweet.ID,
		AuthorID:     tweet.AuthorID,
		CreatedAt:    createdAt,
		Type:         tweet.Classify(),
		ViewCount:    tweet.PublicMetrics.ImpressionCount,
		HasShareLink: tweet.HasShareLink(c.config.ShareLinkDomain),
	}

	if includes != nil {
		for _, user := range includes.Users {
			if user.ID == tweet.AuthorID {
				detail.AuthorHandle = user.Username
				detail.AuthorName = user.Name
				detail.FollowerCount = user.PublicMetrics.FollowersCount
				break
			}
		}
	}

	return detail, nil
}
