package models

import (
	"time"

	"github.com/lib/pq"
)

// RewardRecord is one author's reward for one UTC day. The unique index on
// (author_id, reward_date) is what makes the calculation idempotent: a
// recalculation can never produce a second record for the same day.
type RewardRecord struct {
	ID string `gorm:"primaryKey;column:id"`

	AuthorID     string `gorm:"column:author_id;not null;uniqueIndex:idx_rewards_author_date"`
	AuthorHandle string `gorm:"column:author_handle"`

	// RewardDate is the UTC day the reward covers, stored at midnight.
	RewardDate time.Time `gorm:"column:reward_date;not null;uniqueIndex:idx_rewards_author_date;index:idx_rewards_date"`

	RegularCredits int `gorm:"column:regular_credits;default:0"`
	BonusCredits   int `gorm:"column:bonus_credits;default:0"`
	TotalCredits   int `gorm:"column:total_credits;default:0"`

	// PostIDs lists every post that contributed to this reward.
	PostIDs pq.StringArray `gorm:"column:post_ids;type:text[]"`

	// Bonus provenance
	TierViews         int  `gorm:"column:tier_views;default:0"`
	TierFollowers     int  `gorm:"column:tier_followers;default:0"`
	MultiplierApplied bool `gorm:"column:multiplier_applied;default:false"`
	MetricsDegraded   bool `gorm:"column:metrics_degraded;default:false"`

	// Dispatch tracking. A dispatched record is never recomputed.
	Dispatched   bool      `gorm:"column:dispatched;default:false"`
	DispatchedAt time.Time `gorm:"column:dispatched_at"`
	TxHash       string    `gorm:"column:tx_hash"`

	CreatedAt time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for the RewardRecord model
func (RewardRecord) TableName() string {
	return "rewards"
}
