package marketdata

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

// mockCache is an in-memory Cache for service tests. Mutex-guarded since
// prefetch fans out goroutines.
type mockCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	getErr  error
	putErr  error
	now     func() time.Time
}

func newMockCache(now func() time.Time) *mockCache {
	return &mockCache{entries: make(map[string]cacheEntry), now: now}
}

func (m *mockCache) Get(ticker string, iv Interval) (Series, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	entry, ok := m.entries[iv.Key(ticker)]
	if !ok || m.now().Sub(entry.FetchedAt) > freshnessWindow(iv) {
		return nil, false, nil
	}
	return entry.Points, true, nil
}

func (m *mockCache) Put(ticker string, iv Interval, series Series, fetchedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.entries[iv.Key(ticker)] = cacheEntry{FetchedAt: fetchedAt, Points: series}
	return nil
}

func (m *mockCache) PruneOlderThan(days int) (int, error) { return 0, nil }
func (m *mockCache) Close() error                         { return nil }

func (m *mockCache) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// mockFetcher serves canned series and counts calls
type mockFetcher struct {
	mu     sync.Mutex
	series map[string]Series // keyed by iv.Key(ticker)
	err    error
	calls  []string
}

func (m *mockFetcher) FetchSeries(ctx context.Context, ticker string, iv Interval) (Series, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, iv.Key(ticker))
	if m.err != nil {
		return nil, m.err
	}
	return m.series[iv.Key(ticker)], nil
}

func (m *mockFetcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

var _ = Describe("CAGRFromSeries", func() {
	y0 := time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC)

	When("a two-point series doubles over five years", func() {
		series := Series{
			{Date: y0, Close: 100},
			{Date: y0.AddDate(5, 0, 0), Close: 200},
		}

		It("should return a rate that compounds back to the ratio", func() {
			rate, ok := CAGRFromSeries(series)
			Expect(ok).To(BeTrue())
			Expect(math.Pow(1+rate, 5)).To(BeNumerically("~", 2.0, 0.01))
		})
	})

	When("adjusted closes are present", func() {
		series := Series{
			{Date: y0, Close: 400, AdjustedClose: 100},
			{Date: y0.AddDate(5, 0, 0), Close: 410, AdjustedClose: 200},
		}

		It("should prefer them over raw closes", func() {
			rate, ok := CAGRFromSeries(series)
			Expect(ok).To(BeTrue())
			Expect(math.Pow(1+rate, 5)).To(BeNumerically("~", 2.0, 0.01))
		})
	})

	When("the series has a single point", func() {
		It("should return no rate", func() {
			_, ok := CAGRFromSeries(Series{{Date: y0, Close: 100}})
			Expect(ok).To(BeFalse())
		})
	})

	When("the series is empty", func() {
		It("should return no rate", func() {
			_, ok := CAGRFromSeries(nil)
			Expect(ok).To(BeFalse())
		})
	})

	When("the first price is zero", func() {
		It("should return no rate", func() {
			_, ok := CAGRFromSeries(Series{
				{Date: y0, Close: 0},
				{Date: y0.AddDate(5, 0, 0), Close: 200},
			})
			Expect(ok).To(BeFalse())
		})
	})

	When("the elapsed time is zero", func() {
		It("should return no rate", func() {
			_, ok := CAGRFromSeries(Series{
				{Date: y0, Close: 100},
				{Date: y0, Close: 200},
			})
			Expect(ok).To(BeFalse())
		})
	})
})

var _ = Describe("Service", func() {
	var (
		today   time.Time
		cache   *mockCache
		fetcher *mockFetcher
		service *Service
	)

	BeforeEach(func() {
		today = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
		nowFn := func() time.Time { return today }
		cache = newMockCache(nowFn)
		fetcher = &mockFetcher{series: make(map[string]Series)}
		service = NewServiceWithDeps(cache, fetcher, nowFn)
	})

	// doubling over the five years up to today
	fiveYearDoubling := func() Series {
		return Series{
			{Date: today.AddDate(-6, 0, 0), Close: 80},
			{Date: today.AddDate(-5, 0, 0), Close: 100},
			{Date: today.AddDate(0, 0, -1), Close: 200},
		}
	}

	Describe("CAGRFromToday", func() {
		When("the fetcher has a series spanning the horizon", func() {
			BeforeEach(func() {
				fetcher.series[Daily(5).Key("AAPL")] = fiveYearDoubling()
			})

			It("should anchor at the latest entry at or before the horizon start", func() {
				rate, ok := service.CAGRFromToday(context.Background(), "AAPL", 5)
				Expect(ok).To(BeTrue())
				// The start point is the 100 close five years back, not the
				// older 80 close.
				Expect(math.Pow(1+rate, 5)).To(BeNumerically("~", 2.0, 0.02))
			})

			It("should serve the second call from the cache", func() {
				service.CAGRFromToday(context.Background(), "AAPL", 5)
				service.CAGRFromToday(context.Background(), "AAPL", 5)
				Expect(fetcher.calls).To(HaveLen(1))
			})
		})

		When("the series does not reach back to the horizon start", func() {
			BeforeEach(func() {
				fetcher.series[Daily(5).Key("IPO")] = Series{
					{Date: today.AddDate(-1, 0, 0), Close: 100},
					{Date: today.AddDate(0, 0, -1), Close: 110},
				}
			})

			It("should fall back to the earliest entry", func() {
				_, ok := service.CAGRFromToday(context.Background(), "IPO", 5)
				Expect(ok).To(BeTrue())
			})
		})

		When("a one-year request returns too little data", func() {
			BeforeEach(func() {
				fetcher.series[Daily(1).Key("THIN")] = Series{
					{Date: today.AddDate(0, 0, -1), Close: 100},
				}
				fetcher.series[Daily(2).Key("THIN")] = Series{
					{Date: today.AddDate(-1, 0, 0), Close: 100},
					{Date: today.AddDate(0, 0, -1), Close: 110},
				}
			})

			It("should retry once with a two-year request", func() {
				_, ok := service.CAGRFromToday(context.Background(), "THIN", 1)
				Expect(ok).To(BeTrue())
				Expect(fetcher.calls).To(Equal([]string{
					Daily(1).Key("THIN"),
					Daily(2).Key("THIN"),
				}))
			})
		})

		When("the fetch fails", func() {
			BeforeEach(func() {
				fetcher.err = errors.New("rate limited")
			})

			It("should return no rate", func() {
				_, ok := service.CAGRFromToday(context.Background(), "AAPL", 5)
				Expect(ok).To(BeFalse())
			})
		})

		When("the horizon is below one year", func() {
			It("should return no rate", func() {
				_, ok := service.CAGRFromToday(context.Background(), "AAPL", 0)
				Expect(ok).To(BeFalse())
			})
		})
	})

	Describe("ProjectFutureValue", func() {
		When("history is available", func() {
			BeforeEach(func() {
				fetcher.series[Daily(5).Key("AAPL")] = fiveYearDoubling()
			})

			It("should compound the principal at the historical rate", func() {
				projection := service.ProjectFutureValue(context.Background(), decimal.NewFromInt(100), "AAPL", 5)
				Expect(projection.FromPreset).To(BeFalse())
				value, _ := projection.FutureValue.Float64()
				Expect(value).To(BeNumerically("~", 200.0, 5.0))
			})
		})

		When("no history can be fetched", func() {
			BeforeEach(func() {
				fetcher.err = errors.New("offline")
			})

			It("should fall back to the preset rate for a known ticker", func() {
				projection := service.ProjectFutureValue(context.Background(), decimal.NewFromInt(100), "aapl", 5)
				Expect(projection.FromPreset).To(BeTrue())
				Expect(projection.Rate).To(Equal(0.15))
			})

			It("should use the default rate for an unknown ticker", func() {
				projection := service.ProjectFutureValue(context.Background(), decimal.NewFromInt(100), "UNKNOWNTICKER", 5)
				Expect(projection.FromPreset).To(BeTrue())
				Expect(projection.Rate).To(Equal(DefaultFallbackRate))
			})

			It("should always return a finite positive value for a positive principal", func() {
				projection := service.ProjectFutureValue(context.Background(), decimal.NewFromInt(100), "UNKNOWNTICKER", 5)
				value, _ := projection.FutureValue.Float64()
				Expect(value).To(BeNumerically(">", 0.0))
				Expect(math.IsInf(value, 0)).To(BeFalse())
			})
		})

		When("the principal is zero", func() {
			BeforeEach(func() {
				fetcher.err = errors.New("offline")
			})

			It("should project zero", func() {
				projection := service.ProjectFutureValue(context.Background(), decimal.Zero, "AAPL", 5)
				Expect(projection.FutureValue.IsZero()).To(BeTrue())
			})
		})
	})

	Describe("EnsurePrefetch", func() {
		It("should warm the cache for every preset ticker", func() {
			service.EnsurePrefetch(context.Background())
			Eventually(cache.len).Should(Equal(len(Presets())))
		})

		It("should be idempotent", func() {
			service.EnsurePrefetch(context.Background())
			Eventually(cache.len).Should(Equal(len(Presets())))
			before := fetcher.callCount()
			service.EnsurePrefetch(context.Background())
			Consistently(fetcher.callCount).Should(Equal(before))
		})

		It("should not propagate per-ticker failures", func() {
			fetcher.err = errors.New("rate limited")
			Expect(func() { service.EnsurePrefetch(context.Background()) }).NotTo(Panic())
		})
	})
})
