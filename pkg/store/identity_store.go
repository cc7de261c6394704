package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lisanmuaddib/rewards-go/pkg/db/models"
)

// ErrIdentityNotFound is returned when an author has no wallet mapping.
var ErrIdentityNotFound = errors.New("no platform identity for author")

// IdentityStore maps platform authors to wallet addresses.
type IdentityStore struct {
	mu     sync.RWMutex
	logger *logrus.Logger
	db     *gorm.DB
}

func NewIdentityStore(logger *logrus.Logger, db *gorm.DB) *IdentityStore {
	return &IdentityStore{
		logger: logger,
		db:     db,
	}
}

// Resolve returns the wallet address bound to the author, or
// ErrIdentityNotFound when no mapping exists.
func (s *IdentityStore) Resolve(authorID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var identity models.PlatformIdentity
	err := s.db.Where("author_id = ?", authorID).First(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("%w: %s", ErrIdentityNotFound, authorID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve identity: %w", err)
	}

	return identity.WalletAddress, nil
}

// Bind upserts the author's wallet mapping.
func (s *IdentityStore) Bind(authorID, handle, walletAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	identity := models.PlatformIdentity{
		AuthorID:      authorID,
		Handle:        handle,
		WalletAddress: walletAddress,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	result := s.db.
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "author_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"handle":         handle,
				"wallet_address": walletAddress,
				"updated_at":     now,
			}),
		}).
		Create(&identity)

	if result.Error != nil {
		return fmt.Errorf("failed to bind identity: %w", result.Error)
	}

	s.logger.WithFields(logrus.Fields{
		"author_id": authorID,
		"handle":    handle,
	}).Info("Bound platform identity to wallet")

	return nil
}
