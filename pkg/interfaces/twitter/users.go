package twitter

import (
	"context"
	"fmt"
	"net/url"

	"github.com/sirupsen/logrus"
)

type userLookupResponse struct {
	Data   *User          `json:"data"`
	Errors []TwitterError `json:"errors,omitempty"`
}

// GetUser looks up one user by id, with public metrics.
func (c *TwitterClient) GetUser(ctx context.Context, userID string) (*User, error) {
	log := c.logger.WithFields(logrus.Fields{
		"method":  "GetUser",
		"user_id": userID,
	})

	params := url.Values{}
	params.Set("user.fields", c.config.GetUserFields())

	var resp userLookupResponse
	endpoint := fmt.Sprintf("%s/%s", c.config.UserEndpoint, userID)
	if err := c.get(ctx, endpoint, params, &resp); err != nil {
		log.WithError(err).Error("Failed to fetch user")
		return nil, err
	}

	if resp.Data == nil {
		if len(resp.Errors) > 0 {
			return nil, &resp.Errors[0]
		}
		return nil, fmt.Errorf("user %s not found", userID)
	}

	log.WithFields(logrus.Fields{
		"username":  resp.Data.Username,
		"followers": resp.Data.PublicMetrics.FollowersCount,
	}).Debug("Resolved user")

	return resp.Data, nil
}
