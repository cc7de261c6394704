package models

import (
	"time"
)

// PlatformIdentity maps a platform author to an on-chain wallet address.
// Rewards for authors without a mapping stay undispatched until one exists.
type PlatformIdentity struct {
	AuthorID string `gorm:"primaryKey;column:author_id"`

	Handle        string `gorm:"column:handle;index:idx_identities_handle"`
	WalletAddress string `gorm:"column:wallet_address;not null"`

	CreatedAt time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for the PlatformIdentity model
func (PlatformIdentity) TableName() string {
	return "platform_identities"
}
