package recovery

import (
	"time"
)

// Severity ranks how urgent a missing period is. Fresh gaps matter most:
// the platform's recent search index ages out.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// MissingPeriod is a time range with no confirmed fetch coverage.
type MissingPeriod struct {
	Start    time.Time
	End      time.Time
	Severity Severity
}

// Duration returns the period's length.
func (p MissingPeriod) Duration() time.Duration {
	return p.End.Sub(p.Start)
}

// OutageSummary consolidates detected gaps over a checked range.
type OutageSummary struct {
	Periods      []MissingPeriod
	Longest      *MissingPeriod
	TotalMissing time.Duration
	Plan         string
	CheckedFrom  time.Time
	CheckedTo    time.Time
}

// RecoveryAttempt records one recovery run over a missing period.
type RecoveryAttempt struct {
	Period               MissingPeriod
	StartedAt            time.Time
	CompletedAt          time.Time
	FetchDuration        time.Duration
	RecomputeDuration    time.Duration
	PostsRecovered       int
	RewardDaysRecomputed int
	Skipped              bool
	Success              bool
	Error                string
}

// IntegrityReport summarizes coverage over a checked range.
type IntegrityReport struct {
	Start          time.Time
	End            time.Time
	SlicesChecked  int
	SlicesMissing  int
	MissingPeriods []MissingPeriod
	CoveragePct    float64
	GeneratedAt    time.Time
}

// Complete reports whether the checked range has full fetch coverage.
func (r *IntegrityReport) Complete() bool {
	return len(r.MissingPeriods) == 0
}

// SystemStatus is the recovery engine's health view.
type SystemStatus struct {
	Healthy          bool
	RecentFailures   int64
	RecoveryFailures int
	LastAttempt      *RecoveryAttempt
	CheckedAt        time.Time
}
