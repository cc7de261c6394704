package models

import (
	"time"
)

// PostType classifies a fetched post. Only originals earn rewards; the
// other kinds are persisted for audit but marked processed immediately.
type PostType string

const (
	PostTypeOriginal PostType = "original"
	PostTypeReply    PostType = "reply"
	PostTypeRetweet  PostType = "retweet"
	PostTypeQuote    PostType = "quote"
)

// PostRecord is a fetched campaign post. The body text is always stored
// blank; the pipeline only needs metadata and metrics.
type PostRecord struct {
	ID   string `gorm:"primaryKey;column:id"`
	Text string `gorm:"column:text;default:''"`

	AuthorID     string `gorm:"column:author_id;not null;index:idx_posts_author_day"`
	AuthorHandle string `gorm:"column:author_handle"`
	AuthorName   string `gorm:"column:author_name"`

	Type         PostType `gorm:"column:type;type:post_type;not null"`
	ViewCount    int      `gorm:"column:view_count;default:0"`
	HasShareLink bool     `gorm:"column:has_share_link;default:false"`

	// Follower snapshot taken at fetch time. Bonus calculation refreshes
	// it and falls back to this value when the refresh fails.
	FollowerCount int `gorm:"column:follower_count;default:0"`

	PostedAt  time.Time `gorm:"column:posted_at;not null;index:idx_posts_author_day;index:idx_posts_posted_at"`
	FetchedAt time.Time `gorm:"column:fetched_at;not null"`

	Processed   bool      `gorm:"column:processed;default:false"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
}

// TableName specifies the table name for the PostRecord model
func (PostRecord) TableName() string {
	return "posts"
}
