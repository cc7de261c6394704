package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/lisanmuaddib/rewards-go/pkg/db/models"
)

// fetchHistoryLimit caps the stored fetch attempts; older entries are
// trimmed on every append.
const fetchHistoryLimit = 200

// FetchHistoryStore records completed fetch attempts for gap detection.
type FetchHistoryStore struct {
	mu     sync.Mutex
	logger *logrus.Logger
	db     *gorm.DB
}

func NewFetchHistoryStore(logger *logrus.Logger, db *gorm.DB) *FetchHistoryStore {
	return &FetchHistoryStore{
		logger: logger,
		db:     db,
	}
}

// Append stores one fetch attempt and trims the history to the newest
// entries.
func (s *FetchHistoryStore) Append(record *models.FetchHistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.FetchedAt.IsZero() {
		record.FetchedAt = time.Now().UTC()
	}

	if err := s.db.Create(record).Error; err != nil {
		return fmt.Errorf("failed to append fetch history: %w", err)
	}

	// Keep only the newest entries. The subquery form works on postgres
	// where DELETE does not support ORDER BY/OFFSET directly.
	if err := s.db.Exec(`
		DELETE FROM fetch_history
		WHERE id NOT IN (
			SELECT id FROM fetch_history
			ORDER BY fetched_at DESC, id DESC
			LIMIT ?
		)
	`, fetchHistoryLimit).Error; err != nil {
		return fmt.Errorf("failed to trim fetch history: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"window_start": record.WindowStart,
		"window_end":   record.WindowEnd,
		"success":      record.Success,
		"post_count":   record.PostCount,
	}).Debug("Recorded fetch attempt")

	return nil
}

// Recent returns fetch attempts recorded after the cutoff, newest first.
func (s *FetchHistoryStore) Recent(since time.Time) ([]models.FetchHistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []models.FetchHistoryRecord
	if err := s.db.
		Where("fetched_at >= ?", since.UTC()).
		Order("fetched_at DESC, id DESC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query fetch history: %w", err)
	}
	return records, nil
}

// SuccessfulWindows returns successful fetch windows overlapping
// [since, until), ordered by window start.
func (s *FetchHistoryStore) SuccessfulWindows(since, until time.Time) ([]models.FetchHistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []models.FetchHistoryRecord
	if err := s.db.
		Where("success = ? AND window_end > ? AND window_start < ?", true, since.UTC(), until.UTC()).
		Order("window_start ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query fetch windows: %w", err)
	}
	return records, nil
}

// FailureCountSince counts failed fetch attempts recorded after the cutoff.
// The health check flags the pipeline when this climbs too high.
func (s *FetchHistoryStore) FailureCountSince(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	if err := s.db.Model(&models.FetchHistoryRecord{}).
		Where("success = ? AND fetched_at >= ?", false, cutoff.UTC()).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count fetch failures: %w", err)
	}
	return count, nil
}
