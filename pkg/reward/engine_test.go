package reward

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/rewards-go/pkg/db/models"
	"github.com/lisanmuaddib/rewards-go/pkg/interfaces/twitter"
	"github.com/lisanmuaddib/rewards-go/pkg/store"
)

type fakeMetricsProvider struct {
	details  map[string]twitter.TweetDetail
	failures int
	batches  [][]string
}

func (f *fakeMetricsProvider) BatchGetTweetDetails(_ context.Context, ids []string) ([]twitter.TweetDetail, error) {
	batch := make([]string, len(ids))
	copy(batch, ids)
	f.batches = append(f.batches, batch)

	if f.failures > 0 {
		f.failures--
		return nil, fmt.Errorf("provider unavailable")
	}

	var out []twitter.TweetDetail
	for _, id := range ids {
		if detail, ok := f.details[id]; ok {
			out = append(out, detail)
		}
	}
	return out, nil
}

type fakePostStore struct {
	posts     []models.PostRecord
	processed map[string]bool
	views     map[string]int
	followers map[string]int
}

func newFakePostStore(posts ...models.PostRecord) *fakePostStore {
	return &fakePostStore{
		posts:     posts,
		processed: make(map[string]bool),
		views:     make(map[string]int),
		followers: make(map[string]int),
	}
}

func (f *fakePostStore) QueryByRange(start, end time.Time) ([]models.PostRecord, error) {
	var out []models.PostRecord
	for _, post := range f.posts {
		if !post.PostedAt.Before(start) && post.PostedAt.Before(end) {
			if f.processed[post.ID] {
				post.Processed = true
			}
			out = append(out, post)
		}
	}
	return out, nil
}

func (f *fakePostStore) MarkProcessed(ids []string) error {
	for _, id := range ids {
		f.processed[id] = true
	}
	return nil
}

func (f *fakePostStore) UpdateViewCount(id string, views int) error {
	f.views[id] = views
	return nil
}

func (f *fakePostStore) UpdateFollowerSnapshot(authorID string, followers int) error {
	f.followers[authorID] = followers
	return nil
}

func (f *fakePostStore) CleanupExpired(int) (int64, error) { return 0, nil }

type fakeRewardStore struct {
	records map[string]*models.RewardRecord
}

func newFakeRewardStore() *fakeRewardStore {
	return &fakeRewardStore{records: make(map[string]*models.RewardRecord)}
}

func rewardKey(authorID string, date time.Time) string {
	return authorID + "|" + date.UTC().Truncate(24*time.Hour).Format("2006-01-02")
}

func (f *fakeRewardStore) ExistsForDate(authorID string, date time.Time) (bool, error) {
	_, ok := f.records[rewardKey(authorID, date)]
	return ok, nil
}

func (f *fakeRewardStore) Save(record *models.RewardRecord) (bool, error) {
	key := rewardKey(record.AuthorID, record.RewardDate)
	if _, ok := f.records[key]; ok {
		return false, nil
	}
	copied := *record
	f.records[key] = &copied
	return true, nil
}

func (f *fakeRewardStore) RecordsForDate(date time.Time) ([]models.RewardRecord, error) {
	day := date.UTC().Truncate(24 * time.Hour)
	var out []models.RewardRecord
	for _, record := range f.records {
		if record.RewardDate.Equal(day) {
			out = append(out, *record)
		}
	}
	return out, nil
}

func (f *fakeRewardStore) HistoryForAuthor(authorID string, limit int) ([]models.RewardRecord, error) {
	var out []models.RewardRecord
	for _, record := range f.records {
		if record.AuthorID == authorID && len(out) < limit {
			out = append(out, *record)
		}
	}
	return out, nil
}

func (f *fakeRewardStore) PendingDispatch(date time.Time) ([]models.RewardRecord, error) {
	day := date.UTC().Truncate(24 * time.Hour)
	var out []models.RewardRecord
	for _, record := range f.records {
		if record.RewardDate.Equal(day) && !record.Dispatched {
			out = append(out, *record)
		}
	}
	return out, nil
}

func (f *fakeRewardStore) MarkDispatched(id string, txHash string) error {
	for _, record := range f.records {
		if record.ID == id {
			record.Dispatched = true
			record.TxHash = txHash
			return nil
		}
	}
	return fmt.Errorf("reward %s not found", id)
}

func (f *fakeRewardStore) StatisticsForDate(date time.Time) (*store.DayStatistics, error) {
	day := date.UTC().Truncate(24 * time.Hour)
	stats := &store.DayStatistics{RewardDate: day}
	for _, record := range f.records {
		if record.RewardDate.Equal(day) {
			stats.AuthorCount++
			stats.RegularCredits += int64(record.RegularCredits)
			stats.BonusCredits += int64(record.BonusCredits)
			stats.TotalCredits += int64(record.TotalCredits)
		}
	}
	return stats, nil
}

func (f *fakeRewardStore) CleanupExpired(int) (int64, error) { return 0, nil }

type fakeLedger struct {
	transfers map[string]int
	err       error
}

func (f *fakeLedger) Transfer(_ context.Context, wallet string, credits int) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.transfers == nil {
		f.transfers = make(map[string]int)
	}
	f.transfers[wallet] += credits
	return "0xabc123", nil
}

type fakeResolver struct {
	wallets map[string]string
}

func (f *fakeResolver) Resolve(authorID string) (string, error) {
	wallet, ok := f.wallets[authorID]
	if !ok {
		return "", fmt.Errorf("%w: %s", store.ErrIdentityNotFound, authorID)
	}
	return wallet, nil
}

func testEngineConfig() *EngineConfig {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	return &EngineConfig{
		Schedule:                DefaultSchedule,
		RegularCreditsPerPost:   2,
		MaxRegularCreditsPerDay: 20,
		MinViewsForReward:       20,
		ShareLinkMultiplier:     1.1,
		DailyCreditCap:          500,
		RegularLookback:         24 * time.Hour,
		BonusLookback:           48 * time.Hour,
		Tiers:                   DefaultTiers(),
		RefreshBatchSize:        50,
		RefreshBatchDelay:       0,
		RefreshRetryBackoff:     0,
		DataRetentionDays:       5,
		HistoryLimit:            7,
		Logger:                  logger,
	}
}

var _ = Describe("Engine", func() {
	var (
		ctx        context.Context
		config     *EngineConfig
		provider   *fakeMetricsProvider
		posts      *fakePostStore
		rewards    *fakeRewardStore
		creditBook *fakeLedger
		resolver   *fakeResolver

		rewardDate   time.Time
		regularDay   time.Time
		bonusDay     time.Time
	)

	newEngine := func() *Engine {
		engine, err := NewEngine(config, provider, posts, rewards, creditBook, resolver)
		Expect(err).NotTo(HaveOccurred())
		return engine
	}

	regularPost := func(id, author string, views int) models.PostRecord {
		return models.PostRecord{
			ID:        id,
			AuthorID:  author,
			Type:      models.PostTypeOriginal,
			ViewCount: views,
			PostedAt:  regularDay.Add(6 * time.Hour),
		}
	}

	bonusPost := func(id, author string, views, followers int, shareLink bool) models.PostRecord {
		return models.PostRecord{
			ID:            id,
			AuthorID:      author,
			Type:          models.PostTypeOriginal,
			ViewCount:     views,
			FollowerCount: followers,
			HasShareLink:  shareLink,
			PostedAt:      bonusDay.Add(6 * time.Hour),
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		config = testEngineConfig()
		provider = &fakeMetricsProvider{details: make(map[string]twitter.TweetDetail)}
		posts = newFakePostStore()
		rewards = newFakeRewardStore()
		creditBook = &fakeLedger{}
		resolver = &fakeResolver{wallets: make(map[string]string)}

		rewardDate = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
		regularDay = rewardDate.Add(-24 * time.Hour)
		bonusDay = rewardDate.Add(-48 * time.Hour)
	})

	Describe("regular rewards", func() {
		It("pays flat credits per post", func() {
			posts.posts = []models.PostRecord{
				regularPost("p1", "author-1", 100),
				regularPost("p2", "author-1", 50),
				regularPost("p3", "author-1", 30),
			}

			result, err := newEngine().Calculate(ctx, rewardDate)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.RecordsCreated).To(Equal(1))

			record := rewards.records[rewardKey("author-1", rewardDate)]
			Expect(record.RegularCredits).To(Equal(6))
			Expect(record.BonusCredits).To(Equal(0))
			Expect(record.TotalCredits).To(Equal(6))
			Expect(record.PostIDs).To(ConsistOf("p1", "p2", "p3"))
		})

		It("caps regular credits per day", func() {
			for i := 0; i < 15; i++ {
				posts.posts = append(posts.posts, regularPost(fmt.Sprintf("p%d", i), "author-1", 100))
			}

			_, err := newEngine().Calculate(ctx, rewardDate)
			Expect(err).NotTo(HaveOccurred())

			record := rewards.records[rewardKey("author-1", rewardDate)]
			Expect(record.RegularCredits).To(Equal(20))
		})

		It("pays every post regardless of view count", func() {
			for i := 0; i < 12; i++ {
				posts.posts = append(posts.posts, regularPost(fmt.Sprintf("p%d", i), "author-1", 5))
			}

			_, err := newEngine().Calculate(ctx, rewardDate)
			Expect(err).NotTo(HaveOccurred())

			record := rewards.records[rewardKey("author-1", rewardDate)]
			Expect(record.RegularCredits).To(Equal(20))
			Expect(record.PostIDs).To(HaveLen(12))
		})

		It("creates no record for authors earning nothing", func() {
			posts.posts = []models.PostRecord{
				bonusPost("b1", "author-1", 10, 5, false),
			}

			result, err := newEngine().Calculate(ctx, rewardDate)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.RecordsCreated).To(Equal(0))
			Expect(rewards.records).To(BeEmpty())
		})

		It("skips posts already counted by an earlier run", func() {
			counted := regularPost("p1", "author-1", 100)
			counted.Processed = true
			posts.posts = []models.PostRecord{
				counted,
				regularPost("p2", "author-1", 100),
			}

			_, err := newEngine().Calculate(ctx, rewardDate)
			Expect(err).NotTo(HaveOccurred())

			record := rewards.records[rewardKey("author-1", rewardDate)]
			Expect(record.RegularCredits).To(Equal(2))
			Expect(record.PostIDs).To(ConsistOf("p2"))
		})

		It("marks only bonus-window posts processed", func() {
			posts.posts = []models.PostRecord{
				regularPost("p1", "author-1", 100),
				bonusPost("b1", "author-1", 1200, 600, false),
			}
			provider.details["b1"] = twitter.TweetDetail{
				TweetID:       "b1",
				AuthorID:      "author-1",
				ViewCount:     1200,
				FollowerCount: 600,
			}

			_, err := newEngine().Calculate(ctx, rewardDate)
			Expect(err).NotTo(HaveOccurred())
			Expect(posts.processed["b1"]).To(BeTrue())
			Expect(posts.processed["p1"]).To(BeFalse())
		})

		It("lets a post earn regular credits one day and bonus the next", func() {
			post := regularPost("p1", "author-1", 1200)
			post.FollowerCount = 600
			posts.posts = []models.PostRecord{post}

			engine := newEngine()
			_, err := engine.Calculate(ctx, rewardDate)
			Expect(err).NotTo(HaveOccurred())
			Expect(rewards.records[rewardKey("author-1", rewardDate)].RegularCredits).To(Equal(2))

			provider.details["p1"] = twitter.TweetDetail{
				TweetID:       "p1",
				AuthorID:      "author-1",
				ViewCount:     1200,
				FollowerCount: 600,
			}

			nextDay := rewardDate.AddDate(0, 0, 1)
			_, err = engine.Calculate(ctx, nextDay)
			Expect(err).NotTo(HaveOccurred())
			Expect(rewards.records[rewardKey("author-1", nextDay)].BonusCredits).To(Equal(50))
			Expect(posts.processed["p1"]).To(BeTrue())
		})
	})

	Describe("bonus rewards", func() {
		It("selects a tier from refreshed metrics", func() {
			posts.posts = []models.PostRecord{
				bonusPost("b1", "author-1", 10, 5, false),
			}
			provider.details["b1"] = twitter.TweetDetail{
				TweetID:       "b1",
				AuthorID:      "author-1",
				ViewCount:     1200,
				FollowerCount: 600,
			}

			_, err := newEngine().Calculate(ctx, rewardDate)
			Expect(err).NotTo(HaveOccurred())

			record := rewards.records[rewardKey("author-1", rewardDate)]
			Expect(record.BonusCredits).To(Equal(50))
			Expect(record.MetricsDegraded).To(BeFalse())
			Expect(posts.views["b1"]).To(Equal(1200))
		})

		It("pays each qualifying post its own tier", func() {
			posts.posts = []models.PostRecord{
				bonusPost("b1", "author-1", 1500, 600, false),
				bonusPost("b2", "author-1", 1500, 600, false),
			}
			for _, id := range []string{"b1", "b2"} {
				provider.details[id] = twitter.TweetDetail{
					TweetID:       id,
					AuthorID:      "author-1",
					ViewCount:     1500,
					FollowerCount: 600,
				}
			}

			_, err := newEngine().Calculate(ctx, rewardDate)
			Expect(err).NotTo(HaveOccurred())

			record := rewards.records[rewardKey("author-1", rewardDate)]
			Expect(record.BonusCredits).To(Equal(100))
		})

		It("multiplies only the posts carrying a share link", func() {
			posts.posts = []models.PostRecord{
				bonusPost("b1", "author-1", 1200, 600, true),
				bonusPost("b2", "author-1", 1200, 600, false),
			}
			provider.details["b1"] = twitter.TweetDetail{
				TweetID:       "b1",
				AuthorID:      "author-1",
				ViewCount:     1200,
				FollowerCount: 600,
				HasShareLink:  true,
			}
			provider.details["b2"] = twitter.TweetDetail{
				TweetID:       "b2",
				AuthorID:      "author-1",
				ViewCount:     1200,
				FollowerCount: 600,
			}

			_, err := newEngine().Calculate(ctx, rewardDate)
			Expect(err).NotTo(HaveOccurred())

			record := rewards.records[rewardKey("author-1", rewardDate)]
			Expect(record.BonusCredits).To(Equal(105))
			Expect(record.MultiplierApplied).To(BeTrue())
		})

		It("ignores bonus posts already counted by an earlier run", func() {
			counted := bonusPost("b1", "author-1", 1200, 600, false)
			counted.Processed = true
			posts.posts = []models.PostRecord{counted}

			result, err := newEngine().Calculate(ctx, rewardDate)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.RecordsCreated).To(Equal(0))
			Expect(rewards.records).To(BeEmpty())
		})

		It("applies the share link multiplier with floor", func() {
			posts.posts = []models.PostRecord{
				bonusPost("b1", "author-1", 1200, 600, true),
			}
			provider.details["b1"] = twitter.TweetDetail{
				TweetID:       "b1",
				AuthorID:      "author-1",
				ViewCount:     1200,
				FollowerCount: 600,
				HasShareLink:  true,
			}

			_, err := newEngine().Calculate(ctx, rewardDate)
			Expect(err).NotTo(HaveOccurred())

			record := rewards.records[rewardKey("author-1", rewardDate)]
			Expect(record.BonusCredits).To(Equal(55))
			Expect(record.MultiplierApplied).To(BeTrue())
		})

		It("falls back to stored snapshots when the refresh fails twice", func() {
			posts.posts = []models.PostRecord{
				bonusPost("b1", "author-1", 5000, 1000, false),
			}
			provider.failures = 2

			_, err := newEngine().Calculate(ctx, rewardDate)
			Expect(err).NotTo(HaveOccurred())

			// One retry, no more.
			Expect(provider.batches).To(HaveLen(2))

			record := rewards.records[rewardKey("author-1", rewardDate)]
			Expect(record.BonusCredits).To(Equal(80))
			Expect(record.MetricsDegraded).To(BeTrue())
		})

		It("recovers on the single retry", func() {
			posts.posts = []models.PostRecord{
				bonusPost("b1", "author-1", 10, 5, false),
			}
			provider.failures = 1
			provider.details["b1"] = twitter.TweetDetail{
				TweetID:       "b1",
				AuthorID:      "author-1",
				ViewCount:     300,
				FollowerCount: 150,
			}

			_, err := newEngine().Calculate(ctx, rewardDate)
			Expect(err).NotTo(HaveOccurred())

			record := rewards.records[rewardKey("author-1", rewardDate)]
			Expect(record.BonusCredits).To(Equal(25))
			Expect(record.MetricsDegraded).To(BeFalse())
		})

		It("splits refreshes into paced batches", func() {
			config.RefreshBatchSize = 50
			for i := 0; i < 120; i++ {
				id := fmt.Sprintf("b%d", i)
				posts.posts = append(posts.posts, bonusPost(id, fmt.Sprintf("author-%d", i), 30, 20, false))
				provider.details[id] = twitter.TweetDetail{
					TweetID:       id,
					AuthorID:      fmt.Sprintf("author-%d", i),
					ViewCount:     30,
					FollowerCount: 20,
				}
			}

			_, err := newEngine().Calculate(ctx, rewardDate)
			Expect(err).NotTo(HaveOccurred())

			Expect(provider.batches).To(HaveLen(3))
			Expect(provider.batches[0]).To(HaveLen(50))
			Expect(provider.batches[1]).To(HaveLen(50))
			Expect(provider.batches[2]).To(HaveLen(20))
		})
	})

	Describe("idempotency", func() {
		It("never rewards the same author twice for one day", func() {
			posts.posts = []models.PostRecord{
				regularPost("p1", "author-1", 100),
			}

			engine := newEngine()
			first, err := engine.Calculate(ctx, rewardDate)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.RecordsCreated).To(Equal(1))

			second, err := engine.Calculate(ctx, rewardDate)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.RecordsCreated).To(Equal(0))
			Expect(rewards.records).To(HaveLen(1))
		})
	})

	Describe("daily cap", func() {
		It("caps bonus earnings only, not the regular sum", func() {
			config.DailyCreditCap = 60
			for i := 0; i < 10; i++ {
				posts.posts = append(posts.posts, regularPost(fmt.Sprintf("p%d", i), "author-1", 100))
			}
			posts.posts = append(posts.posts, bonusPost("b1", "author-1", 1000, 500, false))
			provider.details["b1"] = twitter.TweetDetail{
				TweetID:       "b1",
				AuthorID:      "author-1",
				ViewCount:     1000,
				FollowerCount: 500,
			}

			_, err := newEngine().Calculate(ctx, rewardDate)
			Expect(err).NotTo(HaveOccurred())

			record := rewards.records[rewardKey("author-1", rewardDate)]
			Expect(record.RegularCredits).To(Equal(20))
			Expect(record.BonusCredits).To(Equal(50))
			Expect(record.TotalCredits).To(Equal(70))
		})

		It("trims a bonus sum above the cap", func() {
			config.DailyCreditCap = 60
			for i := 0; i < 2; i++ {
				id := fmt.Sprintf("b%d", i)
				posts.posts = append(posts.posts, bonusPost(id, "author-1", 1000, 500, false))
				provider.details[id] = twitter.TweetDetail{
					TweetID:       id,
					AuthorID:      "author-1",
					ViewCount:     1000,
					FollowerCount: 500,
				}
			}

			_, err := newEngine().Calculate(ctx, rewardDate)
			Expect(err).NotTo(HaveOccurred())

			record := rewards.records[rewardKey("author-1", rewardDate)]
			Expect(record.BonusCredits).To(Equal(60))
			Expect(record.TotalCredits).To(Equal(60))
		})
	})

	Describe("Dispatch", func() {
		BeforeEach(func() {
			posts.posts = []models.PostRecord{
				regularPost("p1", "author-1", 100),
				regularPost("p2", "author-2", 100),
			}
			_, err := newEngine().Calculate(ctx, rewardDate)
			Expect(err).NotTo(HaveOccurred())
		})

		It("transfers resolved rewards and leaves the rest pending", func() {
			resolver.wallets["author-1"] = "0x1111111111111111111111111111111111111111"

			dispatched, err := newEngine().Dispatch(ctx, rewardDate)
			Expect(err).NotTo(HaveOccurred())
			Expect(dispatched).To(Equal(1))
			Expect(creditBook.transfers).To(HaveKeyWithValue("0x1111111111111111111111111111111111111111", 2))

			pending, err := rewards.PendingDispatch(rewardDate)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(HaveLen(1))
			Expect(pending[0].AuthorID).To(Equal("author-2"))
		})

		It("keeps records pending when the transfer fails", func() {
			resolver.wallets["author-1"] = "0x1111111111111111111111111111111111111111"
			creditBook.err = fmt.Errorf("rpc down")

			dispatched, err := newEngine().Dispatch(ctx, rewardDate)
			Expect(err).NotTo(HaveOccurred())
			Expect(dispatched).To(Equal(0))

			pending, err := rewards.PendingDispatch(rewardDate)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(HaveLen(2))
		})
	})

	Describe("calculation history", func() {
		It("trims to the configured limit, newest first", func() {
			config.HistoryLimit = 3
			engine := newEngine()

			for i := 0; i < 5; i++ {
				_, err := engine.Calculate(ctx, rewardDate.AddDate(0, 0, i))
				Expect(err).NotTo(HaveOccurred())
			}

			history := engine.History()
			Expect(history).To(HaveLen(3))
			Expect(history[0].RewardDate).To(Equal(rewardDate.AddDate(0, 0, 4)))
		})
	})
})
