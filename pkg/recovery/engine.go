package recovery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/rewards-go/pkg/db/models"
	"github.com/lisanmuaddib/rewards-go/pkg/reward"
)

// Fetcher refills a time window with posts.
type Fetcher interface {
	FetchNow(ctx context.Context, start, end time.Time) (int, error)
}

// Rewarder recomputes rewards for a day after posts are refilled.
// Calculation is idempotent per (author, day), so authors already rewarded
// before the gap keep their records.
type Rewarder interface {
	Calculate(ctx context.Context, date time.Time) (*reward.CalculationResult, error)
}

// HistoryStore exposes confirmed fetch coverage.
type HistoryStore interface {
	SuccessfulWindows(since, until time.Time) ([]models.FetchHistoryRecord, error)
	FailureCountSince(cutoff time.Time) (int64, error)
}

// PostStore checks whether a window already holds data.
type PostStore interface {
	HasRecordsInRange(start, end time.Time) (bool, error)
}

// Engine finds windows the ingestion scheduler never confirmed and refills
// them. Attempt history is held in memory; fetch coverage itself is the
// durable record.
type Engine struct {
	mu       sync.Mutex
	config   *EngineConfig
	fetcher  Fetcher
	rewarder Rewarder
	history  HistoryStore
	posts    PostStore
	logger   *logrus.Logger

	attempts []RecoveryAttempt
}

func NewEngine(config *EngineConfig, fetcher Fetcher, rewarder Rewarder, history HistoryStore, posts PostStore) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid recovery config: %w", err)
	}

	return &Engine{
		config:   config,
		fetcher:  fetcher,
		rewarder: rewarder,
		history:  history,
		posts:    posts,
		logger:   config.Logger,
	}, nil
}

// DetectMissingPeriods walks [start, end) in slices and reports every
// stretch with no confirmed fetch coverage. Missing slices separated by
// covered time up to MaxCoalesce merge into a single outage period, so a
// flapping outage recovers as one refill instead of many small ones.
func (e *Engine) DetectMissingPeriods(start, end time.Time) ([]MissingPeriod, error) {
	missing, err := e.missingSlices(start, end)
	if err != nil {
		return nil, err
	}

	periods := e.coalesce(missing)

	now := time.Now().UTC()
	for i := range periods {
		periods[i].Severity = e.severity(now, periods[i])
	}

	if len(periods) > 0 {
		e.logger.WithFields(logrus.Fields{
			"range_start":     start.UTC(),
			"range_end":       end.UTC(),
			"missing_periods": len(periods),
		}).Warn("Detected missing fetch coverage")
	}

	return periods, nil
}

// missingSlices returns the uncovered slices of [start, end), contiguous
// runs already merged but covered interludes kept apart.
func (e *Engine) missingSlices(start, end time.Time) ([]interval, error) {
	start = start.UTC()
	end = end.UTC()
	if !end.After(start) {
		return nil, nil
	}

	covered, err := e.coveredIntervals(start, end)
	if err != nil {
		return nil, err
	}

	var missing []interval
	for sliceStart := start; sliceStart.Before(end); sliceStart = sliceStart.Add(e.config.SliceSize) {
		sliceEnd := sliceStart.Add(e.config.SliceSize)
		if sliceEnd.After(end) {
			sliceEnd = end
		}

		if isCovered(covered, sliceStart, sliceEnd) {
			continue
		}

		if n := len(missing); n > 0 && missing[n-1].end.Equal(sliceStart) {
			missing[n-1].end = sliceEnd
			continue
		}
		missing = append(missing, interval{start: sliceStart, end: sliceEnd})
	}

	return missing, nil
}

// coalesce merges missing slices whose covered separation is within
// MaxCoalesce. A merged period spans the covered interlude; RecoverPeriod
// re-fetches it along with the gaps around it.
func (e *Engine) coalesce(missing []interval) []MissingPeriod {
	var periods []MissingPeriod
	for _, gap := range missing {
		if n := len(periods); n > 0 && gap.start.Sub(periods[n-1].End) <= e.config.MaxCoalesce {
			periods[n-1].End = gap.end
			continue
		}
		periods = append(periods, MissingPeriod{Start: gap.start, End: gap.end})
	}
	return periods
}

// DetectOutage scans the configured number of past days and consolidates
// the gaps into a summary naming the longest outage and a recovery plan.
func (e *Engine) DetectOutage() (*OutageSummary, error) {
	now := time.Now().UTC()
	since := now.AddDate(0, 0, -e.config.CheckDays)

	periods, err := e.DetectMissingPeriods(since, now)
	if err != nil {
		return nil, err
	}

	summary := &OutageSummary{
		Periods:     periods,
		CheckedFrom: since,
		CheckedTo:   now,
	}
	for i := range periods {
		summary.TotalMissing += periods[i].Duration()
		if summary.Longest == nil || periods[i].Duration() > summary.Longest.Duration() {
			summary.Longest = &periods[i]
		}
	}

	if len(periods) == 0 {
		summary.Plan = "coverage complete, nothing to recover"
	} else {
		summary.Plan = fmt.Sprintf("recover %d missing periods (%s total), longest %s starting %s",
			len(periods), summary.TotalMissing, summary.Longest.Duration(),
			summary.Longest.Start.Format(time.RFC3339))
	}

	return summary, nil
}

// RecoverPeriod refills one missing period, then recomputes rewards for
// the days whose calculation windows cover it. Unless force is set, a
// period that already holds posts is skipped; the gap was in confirmation,
// not in data.
func (e *Engine) RecoverPeriod(ctx context.Context, period MissingPeriod, force bool) (*RecoveryAttempt, error) {
	attempt := RecoveryAttempt{
		Period:    period,
		StartedAt: time.Now().UTC(),
	}

	log := e.logger.WithFields(logrus.Fields{
		"period_start": period.Start,
		"period_end":   period.End,
		"severity":     period.Severity,
	})

	if !force {
		has, err := e.posts.HasRecordsInRange(period.Start, period.End)
		if err != nil {
			return nil, fmt.Errorf("failed to check existing records: %w", err)
		}
		if has {
			attempt.Skipped = true
			attempt.Success = true
			attempt.CompletedAt = time.Now().UTC()
			e.record(attempt)
			log.Debug("Period already holds posts, skipping recovery")
			return &attempt, nil
		}
	}

	fetchBegan := time.Now()
	saved, err := e.fetcher.FetchNow(ctx, period.Start, period.End)
	attempt.FetchDuration = time.Since(fetchBegan)
	attempt.PostsRecovered = saved

	if err != nil {
		attempt.Error = err.Error()
		attempt.CompletedAt = time.Now().UTC()
		e.record(attempt)
		log.WithError(err).Error("Recovery fetch failed")
		return &attempt, fmt.Errorf("recovery fetch failed: %w", err)
	}

	if saved > 0 {
		recomputeBegan := time.Now()
		for _, day := range e.rewardDays(period, time.Now().UTC()) {
			if _, err := e.rewarder.Calculate(ctx, day); err != nil {
				attempt.Error = err.Error()
				attempt.RecomputeDuration = time.Since(recomputeBegan)
				attempt.CompletedAt = time.Now().UTC()
				e.record(attempt)
				log.WithError(err).WithField("reward_date", day.Format("2006-01-02")).
					Error("Reward recompute failed after refill")
				return &attempt, fmt.Errorf("reward recompute failed: %w", err)
			}
			attempt.RewardDaysRecomputed++
		}
		attempt.RecomputeDuration = time.Since(recomputeBegan)
	}

	attempt.Success = true
	attempt.CompletedAt = time.Now().UTC()
	e.record(attempt)
	log.WithFields(logrus.Fields{
		"posts_recovered":        saved,
		"reward_days_recomputed": attempt.RewardDaysRecomputed,
	}).Info("Recovered missing period")
	return &attempt, nil
}

// rewardDays lists the UTC reward days whose calculation windows include
// the period: posts feed the next day's regular window and the following
// day's bonus window. Days that have not arrived yet are left to the
// regular schedule.
func (e *Engine) rewardDays(period MissingPeriod, now time.Time) []time.Time {
	today := now.Truncate(24 * time.Hour)
	first := period.Start.UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)
	last := period.End.UTC().Add(-time.Nanosecond).Truncate(24 * time.Hour).AddDate(0, 0, 2)

	var days []time.Time
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		if day.After(today) {
			continue
		}
		days = append(days, day)
	}
	return days
}

// RecoverMultiple refills periods, highest severity first. Fresh gaps are
// still fully recoverable from the recent search index; old ones may not be.
func (e *Engine) RecoverMultiple(ctx context.Context, periods []MissingPeriod, force bool) ([]RecoveryAttempt, error) {
	ordered := make([]MissingPeriod, len(periods))
	copy(ordered, periods)
	sort.Slice(ordered, func(i, j int) bool {
		return severityRank(ordered[i].Severity) < severityRank(ordered[j].Severity)
	})

	var attempts []RecoveryAttempt
	var firstErr error

	for _, period := range ordered {
		attempt, err := e.RecoverPeriod(ctx, period, force)
		if attempt != nil {
			attempts = append(attempts, *attempt)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil {
			return attempts, ctx.Err()
		}
	}

	return attempts, firstErr
}

// AutoRecoverAll detects gaps over the check window and refills them.
func (e *Engine) AutoRecoverAll(ctx context.Context) ([]RecoveryAttempt, error) {
	summary, err := e.DetectOutage()
	if err != nil {
		return nil, err
	}
	if len(summary.Periods) == 0 {
		return nil, nil
	}
	return e.RecoverMultiple(ctx, summary.Periods, false)
}

// ValidateIntegrity reports coverage over [start, end). Coverage counts
// come from the raw uncovered slices; the reported periods are coalesced
// and may span covered interludes.
func (e *Engine) ValidateIntegrity(start, end time.Time) (*IntegrityReport, error) {
	gaps, err := e.missingSlices(start, end)
	if err != nil {
		return nil, err
	}

	periods := e.coalesce(gaps)
	now := time.Now().UTC()
	for i := range periods {
		periods[i].Severity = e.severity(now, periods[i])
	}

	report := &IntegrityReport{
		Start:          start.UTC(),
		End:            end.UTC(),
		MissingPeriods: periods,
		GeneratedAt:    now,
	}

	total := end.Sub(start)
	if total > 0 {
		report.SlicesChecked = int((total + e.config.SliceSize - 1) / e.config.SliceSize)
		var missing time.Duration
		for _, gap := range gaps {
			missing += gap.end.Sub(gap.start)
		}
		report.SlicesMissing = int((missing + e.config.SliceSize - 1) / e.config.SliceSize)
		report.CoveragePct = 100 * float64(total-missing) / float64(total)
	}

	return report, nil
}

// GenerateIntegrityReport validates the full check window.
func (e *Engine) GenerateIntegrityReport() (*IntegrityReport, error) {
	now := time.Now().UTC()
	return e.ValidateIntegrity(now.AddDate(0, 0, -e.config.CheckDays), now)
}

// SystemStatus reports health. The system is unhealthy when fetch or
// recovery failures pile up within a day.
func (e *Engine) SystemStatus() (*SystemStatus, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-24 * time.Hour)

	fetchFailures, err := e.history.FailureCountSince(cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to count fetch failures: %w", err)
	}

	e.mu.Lock()
	recoveryFailures := 0
	var last *RecoveryAttempt
	for i := range e.attempts {
		if !e.attempts[i].Success && e.attempts[i].StartedAt.After(cutoff) {
			recoveryFailures++
		}
	}
	if len(e.attempts) > 0 {
		copied := e.attempts[len(e.attempts)-1]
		last = &copied
	}
	e.mu.Unlock()

	return &SystemStatus{
		Healthy: fetchFailures < int64(e.config.UnhealthyFailures) &&
			recoveryFailures < e.config.UnhealthyFailures,
		RecentFailures:   fetchFailures,
		RecoveryFailures: recoveryFailures,
		LastAttempt:      last,
		CheckedAt:        now,
	}, nil
}

// Attempts returns the in-memory recovery attempt log, oldest first.
func (e *Engine) Attempts() []RecoveryAttempt {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]RecoveryAttempt, len(e.attempts))
	copy(out, e.attempts)
	return out
}

func (e *Engine) record(attempt RecoveryAttempt) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempts = append(e.attempts, attempt)
}

// severity ranks a gap by how stale it is. Gaps under a day are still
// fully recoverable from the recent search index.
func (e *Engine) severity(now time.Time, period MissingPeriod) Severity {
	age := now.Sub(period.End)
	switch {
	case age < 24*time.Hour:
		return SeverityHigh
	case age < 72*time.Hour:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func severityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 0
	case SeverityMedium:
		return 1
	default:
		return 2
	}
}

// interval is a merged covered range.
type interval struct {
	start time.Time
	end   time.Time
}

// coveredIntervals merges successful fetch windows overlapping the range
// into a sorted, non-overlapping set.
func (e *Engine) coveredIntervals(start, end time.Time) ([]interval, error) {
	windows, err := e.history.SuccessfulWindows(start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load fetch windows: %w", err)
	}

	intervals := make([]interval, 0, len(windows))
	for _, w := range windows {
		intervals = append(intervals, interval{start: w.WindowStart.UTC(), end: w.WindowEnd.UTC()})
	}

	sort.Slice(intervals, func(i, j int) bool {
		return intervals[i].start.Before(intervals[j].start)
	})

	var merged []interval
	for _, iv := range intervals {
		if n := len(merged); n > 0 && !iv.start.After(merged[n-1].end) {
			if iv.end.After(merged[n-1].end) {
				merged[n-1].end = iv.end
			}
			continue
		}
		merged = append(merged, iv)
	}

	return merged, nil
}

func isCovered(covered []interval, start, end time.Time) bool {
	for _, iv := range covered {
		if !iv.start.After(start) && !iv.end.Before(end) {
			return true
		}
	}
	return false
}
