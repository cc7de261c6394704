package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/lisanmuaddib/rewards-go/pkg/db/models"
)

// StateStore persists scheduler checkpoints, one row per scheduler name.
type StateStore struct {
	mu     sync.Mutex
	logger *logrus.Logger
	db     *gorm.DB
}

func NewStateStore(logger *logrus.Logger, db *gorm.DB) *StateStore {
	return &StateStore{
		logger: logger,
		db:     db,
	}
}

// Load returns the named scheduler's checkpoint, creating a zero-value row
// on first use.
func (s *StateStore) Load(name string) (*models.SchedulerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var state models.SchedulerState
	err := s.db.Where("name = ?", name).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		state = models.SchedulerState{
			Name:      name,
			UpdatedAt: time.Now().UTC(),
		}
		if err := s.db.Create(&state).Error; err != nil {
			return nil, fmt.Errorf("failed to initialize scheduler state: %w", err)
		}
		return &state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load scheduler state: %w", err)
	}

	return &state, nil
}

// SaveCursor advances the persisted cursor. The cursor never moves
// backwards; an older value is rejected so a stale cycle cannot undo
// confirmed progress.
func (s *StateStore) SaveCursor(name string, cursor time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := s.db.Model(&models.SchedulerState{}).
		Where("name = ? AND (cursor IS NULL OR cursor <= ?)", name, cursor.UTC()).
		Updates(map[string]interface{}{
			"cursor":     cursor.UTC(),
			"updated_at": time.Now().UTC(),
		})

	if result.Error != nil {
		return fmt.Errorf("failed to save cursor: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("cursor for %s would move backwards to %s", name, cursor)
	}

	s.logger.WithFields(logrus.Fields{
		"scheduler": name,
		"cursor":    cursor.UTC(),
	}).Debug("Advanced scheduler cursor")

	return nil
}

// SetRunning persists the scheduler's intent to run.
func (s *StateStore) SetRunning(name string, running bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Model(&models.SchedulerState{}).
		Where("name = ?", name).
		Updates(map[string]interface{}{
			"running":    running,
			"updated_at": time.Now().UTC(),
		}).Error; err != nil {
		return fmt.Errorf("failed to set running flag: %w", err)
	}
	return nil
}

// TouchCycle records when a cycle last completed.
func (s *StateStore) TouchCycle(name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Model(&models.SchedulerState{}).
		Where("name = ?", name).
		Updates(map[string]interface{}{
			"last_cycle_at": at.UTC(),
			"updated_at":    time.Now().UTC(),
		}).Error; err != nil {
		return fmt.Errorf("failed to touch cycle timestamp: %w", err)
	}
	return nil
}
