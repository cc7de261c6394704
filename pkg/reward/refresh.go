package reward

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/rewards-go/pkg/interfaces/twitter"
)

// refreshResult carries the refreshed metrics for a set of posts. Posts in
// a batch that failed twice keep their stored snapshot and their authors
// are flagged as degraded.
type refreshResult struct {
	details         map[string]twitter.TweetDetail
	degradedAuthors map[string]bool
}

// refreshMetrics re-reads live view and follower counts for the given
// posts in paced batches. A failed batch gets exactly one retry after the
// full backoff; if the retry also fails the batch falls back to stored
// snapshots rather than dropping anyone from the calculation.
func (e *Engine) refreshMetrics(ctx context.Context, postIDs []string, authorByPost map[string]string) *refreshResult {
	result := &refreshResult{
		details:         make(map[string]twitter.TweetDetail),
		degradedAuthors: make(map[string]bool),
	}

	for start := 0; start < len(postIDs); start += e.config.RefreshBatchSize {
		end := start + e.config.RefreshBatchSize
		if end > len(postIDs) {
			end = len(postIDs)
		}
		batch := postIDs[start:end]

		if start > 0 {
			select {
			case <-ctx.Done():
				e.markDegraded(result, postIDs[start:], authorByPost)
				return result
			case <-time.After(e.config.RefreshBatchDelay):
			}
		}

		details, err := e.provider.BatchGetTweetDetails(ctx, batch)
		if err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"batch_start": start,
				"batch_size":  len(batch),
			}).Warn("Metric refresh batch failed, retrying after backoff")

			select {
			case <-ctx.Done():
				e.markDegraded(result, postIDs[start:], authorByPost)
				return result
			case <-time.After(e.config.RefreshRetryBackoff):
			}

			details, err = e.provider.BatchGetTweetDetails(ctx, batch)
		}

		if err != nil {
			// Second failure: stored snapshots stand in for this batch.
			e.logger.WithError(err).WithField("batch_size", len(batch)).
				Error("Metric refresh batch failed twice, falling back to stored snapshots")
			e.markDegraded(result, batch, authorByPost)
			continue
		}

		for _, detail := range details {
			result.details[detail.TweetID] = detail
		}
	}

	return result
}

func (e *Engine) markDegraded(result *refreshResult, postIDs []string, authorByPost map[string]string) {
	for _, id := range postIDs {
		if author, ok := authorByPost[id]; ok {
			result.degradedAuthors[author] = true
		}
	}
}
