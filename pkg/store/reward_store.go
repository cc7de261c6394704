package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lisanmuaddib/rewards-go/pkg/db/models"
)

// RewardStore persists per-author daily reward records.
type RewardStore struct {
	mu     sync.RWMutex
	logger *logrus.Logger
	db     *gorm.DB
}

func NewRewardStore(logger *logrus.Logger, db *gorm.DB) *RewardStore {
	return &RewardStore{
		logger: logger,
		db:     db,
	}
}

// DayStatistics aggregates one reward day.
type DayStatistics struct {
	RewardDate     time.Time
	AuthorCount    int64
	RegularCredits int64
	BonusCredits   int64
	TotalCredits   int64
	DegradedCount  int64
}

// Save inserts a reward record, ignoring the write when a record for the
// same (author, day) already exists. It reports whether the row was newly
// inserted. This is the idempotency barrier: recalculations of an already
// rewarded day are no-ops.
func (s *RewardStore) Save(record *models.RewardRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	record.RewardDate = record.RewardDate.UTC().Truncate(24 * time.Hour)
	record.CreatedAt = now
	record.UpdatedAt = now

	result := s.db.
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "author_id"}, {Name: "reward_date"}},
			DoNothing: true,
		}).
		Create(record)

	if result.Error != nil {
		return false, fmt.Errorf("failed to save reward record: %w", result.Error)
	}

	inserted := result.RowsAffected > 0
	if inserted {
		s.logger.WithFields(logrus.Fields{
			"author_id":     record.AuthorID,
			"reward_date":   record.RewardDate.Format("2006-01-02"),
			"total_credits": record.TotalCredits,
		}).Info("Saved reward record")
	}

	return inserted, nil
}

// ExistsForDate reports whether the author already has a record for the
// given UTC day.
func (s *RewardStore) ExistsForDate(authorID string, date time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day := date.UTC().Truncate(24 * time.Hour)

	var count int64
	if err := s.db.Model(&models.RewardRecord{}).
		Where("author_id = ? AND reward_date = ?", authorID, day).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check reward existence: %w", err)
	}
	return count > 0, nil
}

// RecordsForDate returns every reward record for the given UTC day.
func (s *RewardStore) RecordsForDate(date time.Time) ([]models.RewardRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day := date.UTC().Truncate(24 * time.Hour)

	var records []models.RewardRecord
	if err := s.db.
		Where("reward_date = ?", day).
		Order("total_credits DESC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query rewards for date: %w", err)
	}
	return records, nil
}

// HistoryForAuthor returns the author's newest reward records, capped at limit.
func (s *RewardStore) HistoryForAuthor(authorID string, limit int) ([]models.RewardRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []models.RewardRecord
	if err := s.db.
		Where("author_id = ?", authorID).
		Order("reward_date DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query reward history: %w", err)
	}
	return records, nil
}

// PendingDispatch returns undispatched records for the given UTC day.
func (s *RewardStore) PendingDispatch(date time.Time) ([]models.RewardRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day := date.UTC().Truncate(24 * time.Hour)

	var records []models.RewardRecord
	if err := s.db.
		Where("reward_date = ? AND dispatched = ?", day, false).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query pending rewards: %w", err)
	}
	return records, nil
}

// MarkDispatched records a successful on-chain transfer for one record.
func (s *RewardStore) MarkDispatched(id string, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	result := s.db.Model(&models.RewardRecord{}).
		Where("id = ? AND dispatched = ?", id, false).
		Updates(map[string]interface{}{
			"dispatched":    true,
			"dispatched_at": now,
			"tx_hash":       txHash,
			"updated_at":    now,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to mark reward dispatched: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("reward %s not found or already dispatched", id)
	}

	s.logger.WithFields(logrus.Fields{
		"reward_id": id,
		"tx_hash":   txHash,
	}).Info("Marked reward as dispatched")

	return nil
}

// StatisticsForDate aggregates credit totals for one UTC day.
func (s *RewardStore) StatisticsForDate(date time.Time) (*DayStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day := date.UTC().Truncate(24 * time.Hour)

	stats := DayStatistics{RewardDate: day}
	row := s.db.Model(&models.RewardRecord{}).
		Select(
			"COUNT(*) AS author_count",
			"COALESCE(SUM(regular_credits), 0) AS regular_credits",
			"COALESCE(SUM(bonus_credits), 0) AS bonus_credits",
			"COALESCE(SUM(total_credits), 0) AS total_credits",
			"COALESCE(SUM(CASE WHEN metrics_degraded THEN 1 ELSE 0 END), 0) AS degraded_count",
		).
		Where("reward_date = ?", day).
		Row()

	if err := row.Scan(
		&stats.AuthorCount,
		&stats.RegularCredits,
		&stats.BonusCredits,
		&stats.TotalCredits,
		&stats.DegradedCount,
	); err != nil {
		return nil, fmt.Errorf("failed to aggregate reward statistics: %w", err)
	}

	return &stats, nil
}

// CleanupExpired removes reward records older than the retention window.
// Dispatched records are kept regardless of age; they are the audit trail.
func (s *RewardStore) CleanupExpired(retentionDays int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	result := s.db.
		Where("reward_date < ? AND dispatched = ?", cutoff, false).
		Delete(&models.RewardRecord{})

	if result.Error != nil {
		return 0, fmt.Errorf("failed to clean up expired rewards: %w", result.Error)
	}

	return result.RowsAffected, nil
}
