package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lisanmuaddib/rewards-go/pkg/db/models"
	"github.com/lisanmuaddib/rewards-go/pkg/interfaces/twitter"
)

// PostStore persists fetched campaign posts.
type PostStore struct {
	mu     sync.RWMutex
	logger *logrus.Logger
	db     *gorm.DB
}

func NewPostStore(logger *logrus.Logger, db *gorm.DB) *PostStore {
	return &PostStore{
		logger: logger,
		db:     db,
	}
}

// SavePost stores a resolved post, ignoring duplicates. It reports whether
// the row was newly inserted; re-fetches of a known post never overwrite
// the original metrics snapshot. The body text is stored blank.
func (s *PostStore) SavePost(detail twitter.TweetDetail) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	record := models.PostRecord{
		ID:            detail.TweetID,
		Text:          "",
		AuthorID:      detail.AuthorID,
		AuthorHandle:  detail.AuthorHandle,
		AuthorName:    detail.AuthorName,
		Type:          models.PostType(detail.Type),
		ViewCount:     detail.ViewCount,
		FollowerCount: detail.FollowerCount,
		HasShareLink:  detail.HasShareLink,
		PostedAt:      detail.CreatedAt.UTC(),
		FetchedAt:     now,
	}

	result := s.db.
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(&record)

	if result.Error != nil {
		return false, fmt.Errorf("failed to save post: %w", result.Error)
	}

	inserted := result.RowsAffected > 0
	if inserted {
		s.logger.WithFields(logrus.Fields{
			"tweet_id":  detail.TweetID,
			"author_id": detail.AuthorID,
			"type":      detail.Type,
		}).Debug("Saved new post")
	}

	return inserted, nil
}

// Exists reports whether a post id is already stored.
func (s *PostStore) Exists(tweetID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	if err := s.db.Model(&models.PostRecord{}).
		Where("id = ?", tweetID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check post existence: %w", err)
	}
	return count > 0, nil
}

// QueryByRange returns posts with posted_at in [start, end), oldest first.
func (s *PostStore) QueryByRange(start, end time.Time) ([]models.PostRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var posts []models.PostRecord
	if err := s.db.
		Where("posted_at >= ? AND posted_at < ?", start.UTC(), end.UTC()).
		Order("posted_at ASC").
		Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("failed to query posts by range: %w", err)
	}
	return posts, nil
}

// CountAuthorPostsOnDay counts an author's stored posts for the UTC day
// containing ts. The per-author daily intake quota is enforced against
// this count.
func (s *PostStore) CountAuthorPostsOnDay(authorID string, ts time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dayStart := ts.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	var count int64
	if err := s.db.Model(&models.PostRecord{}).
		Where("author_id = ? AND posted_at >= ? AND posted_at < ?", authorID, dayStart, dayEnd).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count author posts: %w", err)
	}
	return count, nil
}

// HasRecordsInRange reports whether any post falls in [start, end).
func (s *PostStore) HasRecordsInRange(start, end time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	if err := s.db.Model(&models.PostRecord{}).
		Where("posted_at >= ? AND posted_at < ?", start.UTC(), end.UTC()).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check range: %w", err)
	}
	return count > 0, nil
}

// MarkProcessed flags posts as consumed by a reward calculation.
func (s *PostStore) MarkProcessed(postIDs []string) error {
	if len(postIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	result := s.db.Model(&models.PostRecord{}).
		Where("id IN ?", postIDs).
		Updates(map[string]interface{}{
			"processed":    true,
			"processed_at": now,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to mark posts processed: %w", result.Error)
	}

	s.logger.WithFields(logrus.Fields{
		"post_count": len(postIDs),
		"updated":    result.RowsAffected,
	}).Debug("Marked posts as processed")

	return nil
}

// UpdateFollowerSnapshot refreshes the stored follower count on every post
// by the author. The snapshot is the fallback when a later metric refresh
// fails.
func (s *PostStore) UpdateFollowerSnapshot(authorID string, followerCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Model(&models.PostRecord{}).
		Where("author_id = ?", authorID).
		Update("follower_count", followerCount).Error; err != nil {
		return fmt.Errorf("failed to update follower snapshot: %w", err)
	}
	return nil
}

// UpdateViewCount refreshes the stored view count for one post.
func (s *PostStore) UpdateViewCount(postID string, viewCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Model(&models.PostRecord{}).
		Where("id = ?", postID).
		Update("view_count", viewCount).Error; err != nil {
		return fmt.Errorf("failed to update view count: %w", err)
	}
	return nil
}

// CleanupExpired removes posts older than the retention window.
func (s *PostStore) CleanupExpired(retentionDays int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	result := s.db.
		Where("posted_at < ?", cutoff).
		Delete(&models.PostRecord{})

	if result.Error != nil {
		return 0, fmt.Errorf("failed to clean up expired posts: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.logger.WithFields(logrus.Fields{
			"deleted": result.RowsAffected,
			"cutoff":  cutoff,
		}).Info("Cleaned up expired posts")
	}

	return result.RowsAffected, nil
}
