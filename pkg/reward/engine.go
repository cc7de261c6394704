package reward

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/rewards-go/pkg/db/models"
	"github.com/lisanmuaddib/rewards-go/pkg/interfaces/twitter"
	"github.com/lisanmuaddib/rewards-go/pkg/store"
)

// ErrNoIdentity signals a reward that cannot be dispatched because the
// author has no wallet mapping. The record stays pending.
var ErrNoIdentity = store.ErrIdentityNotFound

// MetricsProvider refreshes live post metrics for bonus calculation.
type MetricsProvider interface {
	BatchGetTweetDetails(ctx context.Context, tweetIDs []string) ([]twitter.TweetDetail, error)
}

// PostStore is the slice of post persistence the engine uses.
type PostStore interface {
	QueryByRange(start, end time.Time) ([]models.PostRecord, error)
	MarkProcessed(postIDs []string) error
	UpdateViewCount(postID string, viewCount int) error
	UpdateFollowerSnapshot(authorID string, followerCount int) error
	CleanupExpired(retentionDays int) (int64, error)
}

// RewardStore persists per-author daily rewards.
type RewardStore interface {
	ExistsForDate(authorID string, date time.Time) (bool, error)
	Save(record *models.RewardRecord) (bool, error)
	RecordsForDate(date time.Time) ([]models.RewardRecord, error)
	HistoryForAuthor(authorID string, limit int) ([]models.RewardRecord, error)
	PendingDispatch(date time.Time) ([]models.RewardRecord, error)
	MarkDispatched(id string, txHash string) error
	StatisticsForDate(date time.Time) (*store.DayStatistics, error)
	CleanupExpired(retentionDays int) (int64, error)
}

// Ledger moves credits on chain.
type Ledger interface {
	Transfer(ctx context.Context, walletAddress string, credits int) (string, error)
}

// IdentityResolver maps authors to wallet addresses.
type IdentityResolver interface {
	Resolve(authorID string) (string, error)
}

// CalculationResult summarizes one calculation run.
type CalculationResult struct {
	RewardDate      time.Time
	StartedAt       time.Time
	CompletedAt     time.Time
	AuthorsSeen     int
	RecordsCreated  int
	RegularCredits  int
	BonusCredits    int
	TotalCredits    int
	DegradedAuthors int
	Error           string
}

// Engine computes daily rewards on a cron cadence. Calculation is
// idempotent per (author, day); reruns of an already calculated day create
// nothing new.
type Engine struct {
	mu         sync.Mutex
	config     *EngineConfig
	provider   MetricsProvider
	posts      PostStore
	rewards    RewardStore
	ledger     Ledger
	identities IdentityResolver
	logger     *logrus.Logger

	cron    *cron.Cron
	entryID cron.EntryID
	running bool

	history []CalculationResult
}

func NewEngine(config *EngineConfig, provider MetricsProvider, posts PostStore, rewards RewardStore, ledger Ledger, identities IdentityResolver) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	return &Engine{
		config:     config,
		provider:   provider,
		posts:      posts,
		rewards:    rewards,
		ledger:     ledger,
		identities: identities,
		logger:     config.Logger,
	}, nil
}

// Start arms the calculation schedule. Idempotent.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		e.logger.Debug("Reward engine already running")
		return nil
	}

	e.cron = cron.New()
	entryID, err := e.cron.AddFunc(e.config.Schedule, func() {
		now := time.Now().UTC()
		if _, err := e.Calculate(ctx, now); err != nil {
			e.logger.WithError(err).Error("Scheduled reward calculation failed")
			return
		}
		if _, err := e.Dispatch(ctx, now); err != nil {
			e.logger.WithError(err).Error("Scheduled reward dispatch failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reward schedule %q: %w", e.config.Schedule, err)
	}

	e.entryID = entryID
	e.cron.Start()
	e.running = true

	e.logger.WithField("schedule", e.config.Schedule).Info("Reward engine started")
	return nil
}

// Stop disarms the schedule. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}

	e.cron.Remove(e.entryID)
	e.cron.Stop()
	e.running = false

	e.logger.Info("Reward engine stopped")
}

// IsRunning reports whether the schedule is armed.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Calculate computes rewards for the UTC day containing date. Regular
// rewards cover the previous day's posts; bonus rewards cover the day
// before that, so view counts have settled. Authors that already have a
// record for the day are skipped.
func (e *Engine) Calculate(ctx context.Context, date time.Time) (*CalculationResult, error) {
	day := date.UTC().Truncate(24 * time.Hour)
	result := &CalculationResult{
		RewardDate: day,
		StartedAt:  time.Now().UTC(),
	}

	log := e.logger.WithField("reward_date", day.Format("2006-01-02"))
	log.Info("Starting reward calculation")

	regStart, regEnd := e.config.RegularWindow(day)
	bonusStart, bonusEnd := e.config.BonusWindow(day)

	regularPosts, err := e.posts.QueryByRange(regStart, regEnd)
	if err != nil {
		return e.finish(result, fmt.Errorf("failed to load regular window posts: %w", err))
	}
	bonusPosts, err := e.posts.QueryByRange(bonusStart, bonusEnd)
	if err != nil {
		return e.finish(result, fmt.Errorf("failed to load bonus window posts: %w", err))
	}

	// Posts already counted by an earlier run never earn twice.
	regularPosts = filterUnprocessed(regularPosts)
	bonusPosts = filterUnprocessed(bonusPosts)

	regularByAuthor := groupByAuthor(regularPosts)
	bonusByAuthor := groupByAuthor(bonusPosts)

	refresh := e.refreshBonusMetrics(ctx, bonusPosts)

	authors := unionAuthors(regularByAuthor, bonusByAuthor)
	result.AuthorsSeen = len(authors)

	for _, authorID := range authors {
		exists, err := e.rewards.ExistsForDate(authorID, day)
		if err != nil {
			log.WithError(err).WithField("author_id", authorID).
				Error("Failed to check existing reward, skipping author")
			continue
		}
		if exists {
			continue
		}

		record := e.buildRecord(authorID, day, regularByAuthor[authorID], bonusByAuthor[authorID], refresh)
		if record == nil {
			continue
		}

		inserted, err := e.rewards.Save(record)
		if err != nil {
			log.WithError(err).WithField("author_id", authorID).
				Error("Failed to save reward record")
			continue
		}
		if !inserted {
			continue
		}

		// Only bonus-window posts are done earning; regular-window posts
		// still have their bonus pass ahead and must stay eligible.
		if done := postIDs(bonusByAuthor[authorID]); len(done) > 0 {
			if err := e.posts.MarkProcessed(done); err != nil {
				log.WithError(err).WithField("author_id", authorID).
					Warn("Failed to mark posts processed")
			}
		}

		result.RecordsCreated++
		result.RegularCredits += record.RegularCredits
		result.BonusCredits += record.BonusCredits
		result.TotalCredits += record.TotalCredits
		if record.MetricsDegraded {
			result.DegradedAuthors++
		}
	}

	e.cleanup(log)

	log.WithFields(logrus.Fields{
		"authors_seen":     result.AuthorsSeen,
		"records_created":  result.RecordsCreated,
		"total_credits":    result.TotalCredits,
		"degraded_authors": result.DegradedAuthors,
	}).Info("Reward calculation complete")

	return e.finish(result, nil)
}

// refreshBonusMetrics re-reads live metrics for the bonus window and
// persists the refreshed values on the stored posts.
func (e *Engine) refreshBonusMetrics(ctx context.Context, bonusPosts []models.PostRecord) *refreshResult {
	if len(bonusPosts) == 0 {
		return &refreshResult{
			details:         map[string]twitter.TweetDetail{},
			degradedAuthors: map[string]bool{},
		}
	}

	postIDs := make([]string, 0, len(bonusPosts))
	authorByPost := make(map[string]string, len(bonusPosts))
	for _, post := range bonusPosts {
		postIDs = append(postIDs, post.ID)
		authorByPost[post.ID] = post.AuthorID
	}

	refresh := e.refreshMetrics(ctx, postIDs, authorByPost)

	for id, detail := range refresh.details {
		if err := e.posts.UpdateViewCount(id, detail.ViewCount); err != nil {
			e.logger.WithError(err).WithField("tweet_id", id).
				Warn("Failed to persist refreshed view count")
		}
		if detail.FollowerCount > 0 {
			if err := e.posts.UpdateFollowerSnapshot(detail.AuthorID, detail.FollowerCount); err != nil {
				e.logger.WithError(err).WithField("author_id", detail.AuthorID).
					Warn("Failed to persist refreshed follower count")
			}
		}
	}

	return refresh
}

// buildRecord computes one author's reward for the day. It returns nil
// when the author earns nothing.
func (e *Engine) buildRecord(authorID string, day time.Time, regular, bonus []models.PostRecord, refresh *refreshResult) *models.RewardRecord {
	record := &models.RewardRecord{
		ID:         uuid.NewString(),
		AuthorID:   authorID,
		RewardDate: day,
	}

	var postIDs []string

	// Regular rewards: flat credits per post, capped per day.
	for _, post := range regular {
		if record.AuthorHandle == "" {
			record.AuthorHandle = post.AuthorHandle
		}
		if record.RegularCredits < e.config.MaxRegularCreditsPerDay {
			record.RegularCredits += e.config.RegularCreditsPerPost
			if record.RegularCredits > e.config.MaxRegularCreditsPerDay {
				record.RegularCredits = e.config.MaxRegularCreditsPerDay
			}
		}
		postIDs = append(postIDs, post.ID)
	}

	// Bonus rewards: each post earns its own tier from its view count and
	// the author's best known follower count, with the share-link
	// multiplier applied per post. Per-post credits sum across the day.
	if len(bonus) > 0 {
		followers := 0
		for _, post := range bonus {
			if detail, ok := refresh.details[post.ID]; ok && detail.FollowerCount > followers {
				followers = detail.FollowerCount
			}
			if post.FollowerCount > followers {
				followers = post.FollowerCount
			}
		}

		for _, post := range bonus {
			if record.AuthorHandle == "" {
				record.AuthorHandle = post.AuthorHandle
			}

			views := post.ViewCount
			share := post.HasShareLink
			if detail, ok := refresh.details[post.ID]; ok {
				views = detail.ViewCount
				share = detail.HasShareLink
			}
			postIDs = append(postIDs, post.ID)

			if views < e.config.MinViewsForReward {
				continue
			}
			tier, ok := SelectTier(e.config.Tiers, views, followers)
			if !ok {
				continue
			}

			credits := tier.Credits
			if share {
				credits = ApplyMultiplier(credits, e.config.ShareLinkMultiplier)
				record.MultiplierApplied = true
			}
			record.BonusCredits += credits

			if tier.MinViews > record.TierViews {
				record.TierViews = tier.MinViews
				record.TierFollowers = tier.MinFollowers
			}
		}

		// The daily cap bounds bonus earnings only; regular credits are
		// already capped by their own per-day maximum.
		if record.BonusCredits > e.config.DailyCreditCap {
			record.BonusCredits = e.config.DailyCreditCap
		}

		record.MetricsDegraded = refresh.degradedAuthors[authorID]
	}

	record.TotalCredits = record.RegularCredits + record.BonusCredits
	if record.TotalCredits <= 0 {
		return nil
	}

	record.PostIDs = pq.StringArray(postIDs)
	return record
}

// Dispatch transfers pending rewards for the day on chain. Authors
// without a wallet mapping are skipped and stay pending; their credits
// dispatch once a mapping appears.
func (e *Engine) Dispatch(ctx context.Context, date time.Time) (int, error) {
	day := date.UTC().Truncate(24 * time.Hour)
	log := e.logger.WithField("reward_date", day.Format("2006-01-02"))

	pending, err := e.rewards.PendingDispatch(day)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending rewards: %w", err)
	}

	dispatched := 0
	for _, record := range pending {
		wallet, err := e.identities.Resolve(record.AuthorID)
		if errors.Is(err, ErrNoIdentity) {
			log.WithField("author_id", record.AuthorID).
				Debug("No wallet mapping, reward stays pending")
			continue
		}
		if err != nil {
			log.WithError(err).WithField("author_id", record.AuthorID).
				Error("Identity lookup failed")
			continue
		}

		txHash, err := e.ledger.Transfer(ctx, wallet, record.TotalCredits)
		if err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"author_id": record.AuthorID,
				"credits":   record.TotalCredits,
			}).Error("Reward transfer failed")
			continue
		}

		if err := e.rewards.MarkDispatched(record.ID, txHash); err != nil {
			log.WithError(err).WithField("reward_id", record.ID).
				Error("Failed to mark reward dispatched")
			continue
		}
		dispatched++
	}

	if dispatched > 0 {
		log.WithField("dispatched", dispatched).Info("Dispatched rewards")
	}
	return dispatched, nil
}

// History returns recent calculation results, newest first.
func (e *Engine) History() []CalculationResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]CalculationResult, len(e.history))
	copy(out, e.history)
	return out
}

// RecordsForDate returns the stored reward records for a day.
func (e *Engine) RecordsForDate(date time.Time) ([]models.RewardRecord, error) {
	return e.rewards.RecordsForDate(date)
}

// AuthorHistory returns an author's recent reward records.
func (e *Engine) AuthorHistory(authorID string) ([]models.RewardRecord, error) {
	return e.rewards.HistoryForAuthor(authorID, e.config.HistoryLimit)
}

// StatisticsForDate aggregates credit totals for a day.
func (e *Engine) StatisticsForDate(date time.Time) (*store.DayStatistics, error) {
	return e.rewards.StatisticsForDate(date)
}

func (e *Engine) finish(result *CalculationResult, err error) (*CalculationResult, error) {
	result.CompletedAt = time.Now().UTC()
	if err != nil {
		result.Error = err.Error()
	}

	e.mu.Lock()
	e.history = append([]CalculationResult{*result}, e.history...)
	if len(e.history) > e.config.HistoryLimit {
		e.history = e.history[:e.config.HistoryLimit]
	}
	e.mu.Unlock()

	return result, err
}

func (e *Engine) cleanup(log *logrus.Entry) {
	if _, err := e.posts.CleanupExpired(e.config.DataRetentionDays); err != nil {
		log.WithError(err).Warn("Post cleanup failed")
	}
	if _, err := e.rewards.CleanupExpired(e.config.DataRetentionDays); err != nil {
		log.WithError(err).Warn("Reward cleanup failed")
	}
}

func postIDs(posts []models.PostRecord) []string {
	ids := make([]string, 0, len(posts))
	for _, post := range posts {
		ids = append(ids, post.ID)
	}
	return ids
}

func filterUnprocessed(posts []models.PostRecord) []models.PostRecord {
	eligible := posts[:0]
	for _, post := range posts {
		if !post.Processed {
			eligible = append(eligible, post)
		}
	}
	return eligible
}

func groupByAuthor(posts []models.PostRecord) map[string][]models.PostRecord {
	grouped := make(map[string][]models.PostRecord)
	for _, post := range posts {
		grouped[post.AuthorID] = append(grouped[post.AuthorID], post)
	}
	return grouped
}

func unionAuthors(groups ...map[string][]models.PostRecord) []string {
	seen := make(map[string]bool)
	var authors []string
	for _, group := range groups {
		for authorID := range group {
			if !seen[authorID] {
				seen[authorID] = true
				authors = append(authors, authorID)
			}
		}
	}
	sort.Strings(authors)
	return authors
}
