package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/rewards-go/pkg/db/models"
	"github.com/lisanmuaddib/rewards-go/pkg/interfaces/twitter"
)

// SchedulerName keys the persisted checkpoint row.
const SchedulerName = "ingest"

// TweetProvider is the slice of the platform client the scheduler uses.
type TweetProvider interface {
	SearchRecent(ctx context.Context, params twitter.SearchParams) (*twitter.SearchResponse, error)
	GetTweetDetailLite(ctx context.Context, tweetID string) (*twitter.TweetDetail, error)
}

// PostStore persists and queries fetched posts.
type PostStore interface {
	SavePost(detail twitter.TweetDetail) (bool, error)
	Exists(tweetID string) (bool, error)
	CountAuthorPostsOnDay(authorID string, ts time.Time) (int64, error)
	QueryByRange(start, end time.Time) ([]models.PostRecord, error)
}

// HistoryStore records completed fetch attempts.
type HistoryStore interface {
	Append(record *models.FetchHistoryRecord) error
	Recent(since time.Time) ([]models.FetchHistoryRecord, error)
}

// StateStore persists the scheduler checkpoint.
type StateStore interface {
	Load(name string) (*models.SchedulerState, error)
	SaveCursor(name string, cursor time.Time) error
	SetRunning(name string, running bool) error
	TouchCycle(name string, at time.Time) error
}

// Scheduler drives periodic ingestion of campaign posts. Progress is
// tracked by a persisted cursor that only advances past sub-windows whose
// fetch confirmed success.
type Scheduler struct {
	mu       sync.Mutex
	config   *SchedulerConfig
	provider TweetProvider
	posts    PostStore
	history  HistoryStore
	state    StateStore
	logger   *logrus.Logger

	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	excluded map[string]bool
}

// subWindowResult is the outcome of fetching one sub-window.
type subWindowResult struct {
	start      time.Time
	end        time.Time
	saved      int
	fetched    int
	duplicates int
	filtered   int
	duration   time.Duration
	err        error
}

// candidateOutcome classifies what happened to one search hit.
type candidateOutcome int

const (
	outcomeSaved candidateOutcome = iota
	outcomeDuplicate
	outcomeFiltered
)

func NewScheduler(config *SchedulerConfig, provider TweetProvider, posts PostStore, history HistoryStore, state StateStore) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}

	excluded := make(map[string]bool, len(config.ExcludedAuthorIDs))
	for _, id := range config.ExcludedAuthorIDs {
		excluded[id] = true
	}

	return &Scheduler{
		config:   config,
		provider: provider,
		posts:    posts,
		history:  history,
		state:    state,
		logger:   config.Logger,
		excluded: excluded,
	}, nil
}

// Start arms the fetch timer. It is idempotent: starting a running
// scheduler is a no-op. Persisted state claiming the scheduler is running
// while no timer is armed is treated as a crash leftover and repaired.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Debug("Ingestion scheduler already running")
		return nil
	}

	persisted, err := s.state.Load(SchedulerName)
	if err != nil {
		return fmt.Errorf("failed to load scheduler state: %w", err)
	}

	if persisted.Running {
		// The flag survived a crash or unclean shutdown; no timer can be
		// armed in a fresh process.
		s.logger.WithField("scheduler", SchedulerName).
			Warn("Persisted state marked running with no timer armed, repairing")
	}

	if err := s.state.SetRunning(SchedulerName, true); err != nil {
		return fmt.Errorf("failed to persist running flag: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(runCtx)

	s.logger.WithFields(logrus.Fields{
		"campaign_handle": s.config.CampaignHandle,
		"fetch_interval":  s.config.FetchInterval.String(),
	}).Info("Ingestion scheduler started")

	return nil
}

// Stop disarms the timer and clears the persisted running flag. Stopping a
// stopped scheduler is a no-op.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done

	if err := s.state.SetRunning(SchedulerName, false); err != nil {
		return fmt.Errorf("failed to clear running flag: %w", err)
	}

	s.logger.Info("Ingestion scheduler stopped")
	return nil
}

// IsRunning reports whether the fetch timer is armed.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	// First cycle runs immediately; the ticker covers the rest.
	s.runCycle(ctx)

	ticker := time.NewTicker(s.config.FetchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle fetches everything between the cursor and now, split into
// sub-windows, and advances the cursor past the confirmed-successful
// prefix.
func (s *Scheduler) runCycle(ctx context.Context) {
	persisted, err := s.state.Load(SchedulerName)
	if err != nil {
		s.logger.WithError(err).Error("Failed to load cursor, skipping cycle")
		return
	}

	now := time.Now().UTC()
	cursor := persisted.Cursor.UTC()
	if cursor.IsZero() {
		// First ever cycle: start one sub-window back rather than
		// replaying unbounded history.
		cursor = now.Add(-s.config.SubWindowSize)
	}

	if now.Sub(cursor) < MinFetchWindow {
		// Widen to the minimum rather than skip; dedup absorbs the overlap.
		s.logger.WithFields(logrus.Fields{
			"cursor": cursor,
			"window": now.Sub(cursor).String(),
		}).Debug("Window below minimum, widening")
		cursor = now.Add(-MinFetchWindow)
	}

	results := s.fetchRange(ctx, cursor, now)

	// Advance only through the contiguous successful prefix. A failed
	// sub-window leaves the cursor behind it so the next cycle retries
	// the same range; anything fetched beyond the failure was still
	// persisted and dedup makes the retry cheap.
	advance := cursor
	for _, res := range results {
		if res.err != nil {
			break
		}
		advance = res.end
	}

	if advance.After(persisted.Cursor.UTC()) {
		if err := s.state.SaveCursor(SchedulerName, advance); err != nil {
			s.logger.WithError(err).Error("Failed to advance cursor")
		}
	}

	if err := s.state.TouchCycle(SchedulerName, now); err != nil {
		s.logger.WithError(err).Warn("Failed to record cycle timestamp")
	}
}

// FetchNow fetches an arbitrary window immediately, outside the timer.
// Recovery uses this to refill detected gaps. It returns the number of
// newly stored posts and fails if any sub-window fails.
func (s *Scheduler) FetchNow(ctx context.Context, start, end time.Time) (int, error) {
	if !end.After(start) {
		return 0, fmt.Errorf("invalid window: start %s is not before end %s", start, end)
	}

	saved := 0
	for _, res := range s.fetchRange(ctx, start.UTC(), end.UTC()) {
		saved += res.saved
		if res.err != nil {
			return saved, fmt.Errorf("fetch failed for window %s to %s: %w", res.start, res.end, res.err)
		}
	}
	return saved, nil
}

// QueryByRange exposes stored posts for a window.
func (s *Scheduler) QueryByRange(start, end time.Time) ([]models.PostRecord, error) {
	return s.posts.QueryByRange(start, end)
}

// Status is a snapshot of the scheduler's checkpoint.
type Status struct {
	Running     bool
	Cursor      time.Time
	LastCycleAt time.Time
}

// Status reports the live running flag alongside the persisted checkpoint.
func (s *Scheduler) Status() (*Status, error) {
	persisted, err := s.state.Load(SchedulerName)
	if err != nil {
		return nil, fmt.Errorf("failed to load scheduler state: %w", err)
	}
	return &Status{
		Running:     s.IsRunning(),
		Cursor:      persisted.Cursor.UTC(),
		LastCycleAt: persisted.LastCycleAt.UTC(),
	}, nil
}

// History returns fetch attempts from the last given number of days,
// newest first.
func (s *Scheduler) History(days int) ([]models.FetchHistoryRecord, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)
	return s.history.Recent(since)
}

// fetchRange splits [start, end) into sub-windows and fetches them in
// order. Each sub-window is recorded in fetch history. Pacing: a window
// that errored or returned posts is followed by the safety delay; an
// empty window moves straight on.
func (s *Scheduler) fetchRange(ctx context.Context, start, end time.Time) []subWindowResult {
	var results []subWindowResult

	for winStart := start; winStart.Before(end); {
		winEnd := winStart.Add(s.config.SubWindowSize)
		if winEnd.After(end) {
			winEnd = end
		}

		res := s.fetchSubWindow(ctx, winStart, winEnd)
		results = append(results, res)

		s.recordHistory(res)

		if ctx.Err() != nil {
			return results
		}

		winStart = winEnd
		if winStart.Before(end) && (res.err != nil || res.fetched > 0) {
			select {
			case <-ctx.Done():
				return results
			case <-time.After(s.config.SubWindowDelay):
			}
		}
	}

	return results
}

// fetchSubWindow pages through one sub-window, filters candidates and
// persists the survivors. An empty window is a success; it confirms
// nothing was posted.
func (s *Scheduler) fetchSubWindow(ctx context.Context, start, end time.Time) (res subWindowResult) {
	res = subWindowResult{start: start, end: end}
	began := time.Now()
	defer func() { res.duration = time.Since(began) }()

	log := s.logger.WithFields(logrus.Fields{
		"window_start": start,
		"window_end":   end,
	})

	params := twitter.SearchParams{
		Query:      s.config.SearchQuery(),
		MaxResults: 100,
		StartTime:  start,
		EndTime:    end,
	}

	for {
		resp, err := s.provider.SearchRecent(ctx, params)
		if err != nil {
			res.err = err
			log.WithError(err).Error("Sub-window fetch failed")
			return res
		}

		res.fetched += len(resp.Data)

		for _, tweet := range resp.Data {
			outcome, err := s.processCandidate(ctx, tweet, resp.Includes)
			if err != nil {
				log.WithError(err).WithField("tweet_id", tweet.ID).
					Warn("Skipping candidate post")
				continue
			}
			switch outcome {
			case outcomeSaved:
				res.saved++
			case outcomeDuplicate:
				res.duplicates++
			case outcomeFiltered:
				res.filtered++
			}
		}

		if resp.Meta == nil || resp.Meta.NextToken == "" {
			break
		}
		params.NextToken = resp.Meta.NextToken
	}

	log.WithFields(logrus.Fields{
		"fetched":    res.fetched,
		"saved":      res.saved,
		"duplicates": res.duplicates,
		"filtered":   res.filtered,
	}).Info("Sub-window fetch complete")

	return res
}

// processCandidate runs one search hit through the filter chain:
// dedup, excluded authors, live detail lookup, originals only, per-author
// daily quota. It classifies the hit as stored, duplicate or filtered.
func (s *Scheduler) processCandidate(ctx context.Context, tweet twitter.Tweet, includes *twitter.Includes) (candidateOutcome, error) {
	exists, err := s.posts.Exists(tweet.ID)
	if err != nil {
		return outcomeFiltered, err
	}
	if exists {
		return outcomeDuplicate, nil
	}

	if s.excluded[tweet.AuthorID] {
		return outcomeFiltered, nil
	}

	detail, err := s.provider.GetTweetDetailLite(ctx, tweet.ID)
	if err != nil {
		return outcomeFiltered, fmt.Errorf("failed to resolve post detail: %w", err)
	}

	if detail.Type != twitter.TypeOriginal {
		return outcomeFiltered, nil
	}

	count, err := s.posts.CountAuthorPostsOnDay(detail.AuthorID, detail.CreatedAt)
	if err != nil {
		return outcomeFiltered, err
	}
	if count >= int64(s.config.MaxPostsPerAuthorPerDay) {
		s.logger.WithFields(logrus.Fields{
			"author_id": detail.AuthorID,
			"tweet_id":  detail.TweetID,
		}).Debug("Author reached daily intake quota")
		return outcomeFiltered, nil
	}

	// The lite lookup skips author expansion; fill author attributes from
	// the search response includes.
	if includes != nil {
		for _, user := range includes.Users {
			if user.ID == detail.AuthorID {
				detail.AuthorHandle = user.Username
				detail.AuthorName = user.Name
				detail.FollowerCount = user.PublicMetrics.FollowersCount
				break
			}
		}
	}

	inserted, err := s.posts.SavePost(*detail)
	if err != nil {
		return outcomeFiltered, err
	}
	if !inserted {
		// Lost the race to a concurrent save.
		return outcomeDuplicate, nil
	}
	return outcomeSaved, nil
}

func (s *Scheduler) recordHistory(res subWindowResult) {
	record := &models.FetchHistoryRecord{
		WindowStart:    res.start,
		WindowEnd:      res.end,
		FetchedCount:   res.fetched,
		PostCount:      res.saved,
		DuplicateCount: res.duplicates,
		FilteredCount:  res.filtered,
		Success:        res.err == nil,
		DurationMS:     res.duration.Milliseconds(),
		FetchedAt:      time.Now().UTC(),
	}
	if res.err != nil {
		record.Error = res.err.Error()
	}

	if err := s.history.Append(record); err != nil {
		s.logger.WithError(err).Error("Failed to record fetch history")
	}
}
