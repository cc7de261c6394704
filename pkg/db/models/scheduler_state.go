package models

import (
	"time"
)

// SchedulerState is the persisted checkpoint of a scheduler, one row per
// scheduler name. The cursor only ever moves forward, past confirmed
// successful windows. Running records intent; on startup it is reconciled
// against whether a timer is actually armed.
type SchedulerState struct {
	Name string `gorm:"primaryKey;column:name"`

	Cursor  time.Time `gorm:"column:cursor"`
	Running bool      `gorm:"column:running;default:false"`

	LastCycleAt time.Time `gorm:"column:last_cycle_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for the SchedulerState model
func (SchedulerState) TableName() string {
	return "scheduler_state"
}
