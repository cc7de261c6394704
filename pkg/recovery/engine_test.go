package recovery

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/rewards-go/pkg/db/models"
	"github.com/lisanmuaddib/rewards-go/pkg/reward"
)

type fakeFetcher struct {
	fetched []MissingPeriod
	saved   int
	err     error
}

func (f *fakeFetcher) FetchNow(_ context.Context, start, end time.Time) (int, error) {
	f.fetched = append(f.fetched, MissingPeriod{Start: start, End: end})
	if f.err != nil {
		return 0, f.err
	}
	return f.saved, nil
}

type fakeRewarder struct {
	days []time.Time
	err  error
}

func (f *fakeRewarder) Calculate(_ context.Context, date time.Time) (*reward.CalculationResult, error) {
	f.days = append(f.days, date)
	if f.err != nil {
		return nil, f.err
	}
	return &reward.CalculationResult{RewardDate: date}, nil
}

type fakeHistory struct {
	windows  []models.FetchHistoryRecord
	failures int64
}

func (f *fakeHistory) SuccessfulWindows(since, until time.Time) ([]models.FetchHistoryRecord, error) {
	var out []models.FetchHistoryRecord
	for _, w := range f.windows {
		if w.WindowEnd.After(since) && w.WindowStart.Before(until) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeHistory) FailureCountSince(time.Time) (int64, error) {
	return f.failures, nil
}

type fakeGapPosts struct {
	ranges []MissingPeriod
}

func (f *fakeGapPosts) HasRecordsInRange(start, end time.Time) (bool, error) {
	for _, r := range f.ranges {
		if r.Start.Before(end) && r.End.After(start) {
			return true, nil
		}
	}
	return false, nil
}

func testRecoveryConfig() *EngineConfig {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	return &EngineConfig{
		SliceSize:         30 * time.Minute,
		MaxCoalesce:       60 * time.Minute,
		CheckDays:         3,
		UnhealthyFailures: 5,
		Logger:            logger,
	}
}

var _ = Describe("Engine", func() {
	var (
		ctx      context.Context
		config   *EngineConfig
		fetcher  *fakeFetcher
		rewarder *fakeRewarder
		history  *fakeHistory
		posts    *fakeGapPosts

		rangeStart time.Time
		rangeEnd   time.Time
	)

	newTestEngine := func() *Engine {
		engine, err := NewEngine(config, fetcher, rewarder, history, posts)
		Expect(err).NotTo(HaveOccurred())
		return engine
	}

	window := func(start, end time.Time) models.FetchHistoryRecord {
		return models.FetchHistoryRecord{WindowStart: start, WindowEnd: end, Success: true}
	}

	BeforeEach(func() {
		ctx = context.Background()
		config = testRecoveryConfig()
		fetcher = &fakeFetcher{}
		rewarder = &fakeRewarder{}
		history = &fakeHistory{}
		posts = &fakeGapPosts{}

		rangeStart = time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
		rangeEnd = rangeStart.Add(4 * time.Hour)
	})

	Describe("DetectMissingPeriods", func() {
		It("finds nothing when coverage is complete", func() {
			history.windows = []models.FetchHistoryRecord{
				window(rangeStart, rangeEnd),
			}

			periods, err := newTestEngine().DetectMissingPeriods(rangeStart, rangeEnd)
			Expect(err).NotTo(HaveOccurred())
			Expect(periods).To(BeEmpty())
		})

		It("merges fragmented coverage before checking", func() {
			mid := rangeStart.Add(2 * time.Hour)
			history.windows = []models.FetchHistoryRecord{
				window(rangeStart, mid),
				window(mid, rangeEnd),
			}

			periods, err := newTestEngine().DetectMissingPeriods(rangeStart, rangeEnd)
			Expect(err).NotTo(HaveOccurred())
			Expect(periods).To(BeEmpty())
		})

		It("coalesces a short gap into one period", func() {
			// 40 minutes uncovered in the middle.
			gapStart := rangeStart.Add(time.Hour)
			history.windows = []models.FetchHistoryRecord{
				window(rangeStart, gapStart),
				window(gapStart.Add(40*time.Minute), rangeEnd),
			}

			periods, err := newTestEngine().DetectMissingPeriods(rangeStart, rangeEnd)
			Expect(err).NotTo(HaveOccurred())
			Expect(periods).To(HaveLen(1))
			Expect(periods[0].Start).To(Equal(gapStart))
			// Slice granularity rounds the gap up to the next boundary.
			Expect(periods[0].Duration()).To(Equal(time.Hour))
		})

		It("keeps a long contiguous outage as one period", func() {
			gapStart := rangeStart.Add(time.Hour)
			gapEnd := gapStart.Add(90 * time.Minute)
			history.windows = []models.FetchHistoryRecord{
				window(rangeStart, gapStart),
				window(gapEnd, rangeEnd),
			}

			periods, err := newTestEngine().DetectMissingPeriods(rangeStart, rangeEnd)
			Expect(err).NotTo(HaveOccurred())
			Expect(periods).To(HaveLen(1))
			Expect(periods[0].Start).To(Equal(gapStart))
			Expect(periods[0].Duration()).To(Equal(90 * time.Minute))
		})

		It("merges gaps separated by a short covered stretch", func() {
			// Missing, covered for 30 minutes, missing again: one outage.
			history.windows = []models.FetchHistoryRecord{
				window(rangeStart.Add(30*time.Minute), rangeStart.Add(time.Hour)),
				window(rangeStart.Add(90*time.Minute), rangeEnd),
			}

			periods, err := newTestEngine().DetectMissingPeriods(rangeStart, rangeEnd)
			Expect(err).NotTo(HaveOccurred())
			Expect(periods).To(HaveLen(1))
			Expect(periods[0].Start).To(Equal(rangeStart))
			Expect(periods[0].End).To(Equal(rangeStart.Add(90 * time.Minute)))
		})

		It("keeps gaps separated by covered time apart", func() {
			history.windows = []models.FetchHistoryRecord{
				window(rangeStart.Add(30*time.Minute), rangeStart.Add(2*time.Hour)),
				window(rangeStart.Add(150*time.Minute), rangeEnd),
			}

			periods, err := newTestEngine().DetectMissingPeriods(rangeStart, rangeEnd)
			Expect(err).NotTo(HaveOccurred())
			Expect(periods).To(HaveLen(2))
			Expect(periods[0].Start).To(Equal(rangeStart))
			Expect(periods[1].Start).To(Equal(rangeStart.Add(2 * time.Hour)))
		})

		It("reports everything missing with no history at all", func() {
			periods, err := newTestEngine().DetectMissingPeriods(rangeStart, rangeEnd)
			Expect(err).NotTo(HaveOccurred())
			Expect(periods).To(HaveLen(1))
			Expect(periods[0].Start).To(Equal(rangeStart))
			Expect(periods[0].End).To(Equal(rangeEnd))
		})

		It("grades fresh gaps as high severity", func() {
			now := time.Now().UTC()
			history.windows = nil

			periods, err := newTestEngine().DetectMissingPeriods(now.Add(-time.Hour), now)
			Expect(err).NotTo(HaveOccurred())
			Expect(periods).NotTo(BeEmpty())
			Expect(periods[0].Severity).To(Equal(SeverityHigh))
		})
	})

	Describe("DetectOutage", func() {
		It("summarizes the gaps with the longest outage and a plan", func() {
			summary, err := newTestEngine().DetectOutage()
			Expect(err).NotTo(HaveOccurred())
			Expect(summary.Periods).NotTo(BeEmpty())
			Expect(summary.Longest).NotTo(BeNil())
			Expect(summary.TotalMissing).To(BeNumerically(">", 0))
			Expect(summary.Plan).To(ContainSubstring("recover"))
		})
	})

	Describe("RecoverPeriod", func() {
		period := MissingPeriod{
			Start:    time.Date(2026, 3, 9, 1, 0, 0, 0, time.UTC),
			End:      time.Date(2026, 3, 9, 1, 30, 0, 0, time.UTC),
			Severity: SeverityHigh,
		}

		It("refills the period through the fetcher", func() {
			fetcher.saved = 4

			attempt, err := newTestEngine().RecoverPeriod(ctx, period, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(attempt.Success).To(BeTrue())
			Expect(attempt.PostsRecovered).To(Equal(4))
			Expect(fetcher.fetched).To(HaveLen(1))
		})

		It("recomputes rewards for the days the period feeds", func() {
			fetcher.saved = 4

			attempt, err := newTestEngine().RecoverPeriod(ctx, period, false)
			Expect(err).NotTo(HaveOccurred())
			// Posts from March 9 feed the March 10 regular window and the
			// March 11 bonus window.
			Expect(rewarder.days).To(Equal([]time.Time{
				time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
				time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC),
			}))
			Expect(attempt.RewardDaysRecomputed).To(Equal(2))
		})

		It("skips the recompute when nothing was refilled", func() {
			fetcher.saved = 0

			attempt, err := newTestEngine().RecoverPeriod(ctx, period, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(attempt.Success).To(BeTrue())
			Expect(rewarder.days).To(BeEmpty())
		})

		It("marks the attempt failed when the recompute fails", func() {
			fetcher.saved = 2
			rewarder.err = fmt.Errorf("store down")

			attempt, err := newTestEngine().RecoverPeriod(ctx, period, false)
			Expect(err).To(HaveOccurred())
			Expect(attempt.Success).To(BeFalse())
			Expect(attempt.PostsRecovered).To(Equal(2))
		})

		It("skips periods that already hold posts", func() {
			posts.ranges = []MissingPeriod{period}

			attempt, err := newTestEngine().RecoverPeriod(ctx, period, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(attempt.Skipped).To(BeTrue())
			Expect(fetcher.fetched).To(BeEmpty())
			Expect(rewarder.days).To(BeEmpty())
		})

		It("refetches anyway when forced", func() {
			posts.ranges = []MissingPeriod{period}

			attempt, err := newTestEngine().RecoverPeriod(ctx, period, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(attempt.Skipped).To(BeFalse())
			Expect(fetcher.fetched).To(HaveLen(1))
		})

		It("records the failure when the fetch fails", func() {
			fetcher.err = fmt.Errorf("provider down")

			attempt, err := newTestEngine().RecoverPeriod(ctx, period, false)
			Expect(err).To(HaveOccurred())
			Expect(attempt.Success).To(BeFalse())
			Expect(attempt.Error).NotTo(BeEmpty())
		})
	})

	Describe("RecoverMultiple", func() {
		It("handles high severity periods first", func() {
			low := MissingPeriod{
				Start:    rangeStart,
				End:      rangeStart.Add(30 * time.Minute),
				Severity: SeverityLow,
			}
			high := MissingPeriod{
				Start:    rangeStart.Add(time.Hour),
				End:      rangeStart.Add(90 * time.Minute),
				Severity: SeverityHigh,
			}

			_, err := newTestEngine().RecoverMultiple(ctx, []MissingPeriod{low, high}, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(fetcher.fetched).To(HaveLen(2))
			Expect(fetcher.fetched[0].Start).To(Equal(high.Start))
		})
	})

	Describe("ValidateIntegrity", func() {
		It("computes coverage over the range", func() {
			history.windows = []models.FetchHistoryRecord{
				window(rangeStart, rangeStart.Add(3*time.Hour)),
			}

			report, err := newTestEngine().ValidateIntegrity(rangeStart, rangeEnd)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.SlicesChecked).To(Equal(8))
			Expect(report.SlicesMissing).To(Equal(2))
			Expect(report.CoveragePct).To(BeNumerically("~", 75.0, 0.01))
			Expect(report.Complete()).To(BeFalse())
		})

		It("counts only uncovered time inside a merged period", func() {
			history.windows = []models.FetchHistoryRecord{
				window(rangeStart.Add(30*time.Minute), rangeStart.Add(time.Hour)),
				window(rangeStart.Add(90*time.Minute), rangeEnd),
			}

			report, err := newTestEngine().ValidateIntegrity(rangeStart, rangeEnd)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.MissingPeriods).To(HaveLen(1))
			Expect(report.SlicesMissing).To(Equal(2))
			Expect(report.CoveragePct).To(BeNumerically("~", 75.0, 0.01))
		})

		It("reports complete coverage", func() {
			history.windows = []models.FetchHistoryRecord{
				window(rangeStart, rangeEnd),
			}

			report, err := newTestEngine().ValidateIntegrity(rangeStart, rangeEnd)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Complete()).To(BeTrue())
			Expect(report.CoveragePct).To(BeNumerically("~", 100.0, 0.01))
		})
	})

	Describe("SystemStatus", func() {
		It("is healthy with few failures", func() {
			history.failures = 2

			status, err := newTestEngine().SystemStatus()
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Healthy).To(BeTrue())
		})

		It("flags the system at the failure threshold", func() {
			history.failures = 5

			status, err := newTestEngine().SystemStatus()
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Healthy).To(BeFalse())
		})

		It("counts recent recovery failures", func() {
			fetcher.err = fmt.Errorf("provider down")
			engine := newTestEngine()

			period := MissingPeriod{Start: rangeStart, End: rangeStart.Add(30 * time.Minute)}
			for i := 0; i < 5; i++ {
				_, _ = engine.RecoverPeriod(ctx, period, true)
			}

			status, err := engine.SystemStatus()
			Expect(err).NotTo(HaveOccurred())
			Expect(status.RecoveryFailures).To(Equal(5))
			Expect(status.Healthy).To(BeFalse())
		})
	})
})
