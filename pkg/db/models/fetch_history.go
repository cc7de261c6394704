package models

import (
	"time"
)

// FetchHistoryRecord is one completed fetch attempt over a time window.
// Gap detection walks these records to find uncovered periods.
type FetchHistoryRecord struct {
	ID uint `gorm:"primaryKey;autoIncrement;column:id"`

	WindowStart time.Time `gorm:"column:window_start;not null;index:idx_fetch_history_window"`
	WindowEnd   time.Time `gorm:"column:window_end;not null;index:idx_fetch_history_window"`

	FetchedCount   int    `gorm:"column:fetched_count;default:0"`
	PostCount      int    `gorm:"column:post_count;default:0"`
	DuplicateCount int    `gorm:"column:duplicate_count;default:0"`
	FilteredCount  int    `gorm:"column:filtered_count;default:0"`
	Success        bool   `gorm:"column:success;default:false"`
	Error          string `gorm:"column:error"`

	DurationMS int64     `gorm:"column:duration_ms;default:0"`
	FetchedAt  time.Time `gorm:"column:fetched_at;not null"`
}

// TableName specifies the table name for the FetchHistoryRecord model
func (FetchHistoryRecord) TableName() string {
	return "fetch_history"
}
