package marketdata

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

const daysPerYear = 365.25

// prefetchYears is the lookback warmed into the cache for the preset
// tickers at startup.
const prefetchYears = 5

// CAGRFromSeries computes the compound annual growth rate between the first
// and last points of a series, preferring adjusted closes. Returns false
// for series with fewer than two points, a non-positive elapsed time or a
// non-positive start price.
func CAGRFromSeries(s Series) (float64, bool) {
	if len(s) < 2 {
		return 0, false
	}
	first, last := s[0], s[len(s)-1]
	years := last.Date.Sub(first.Date).Hours() / (24 * daysPerYear)
	if years <= 0 || first.Price() <= 0 {
		return 0, false
	}
	return math.Pow(last.Price()/first.Price(), 1/years) - 1, true
}

// Projection is the hypothetical value a spent amount could have reached
// had it been invested in the given stock instead.
type Projection struct {
	Ticker      string          `json:"ticker"`
	Rate        float64         `json:"rate"`
	FutureValue decimal.Decimal `json:"future_value"`
	FromPreset  bool            `json:"from_preset"` // true when no history was available
}

// Service answers projection queries from cached history, falling back to
// the static preset rates so a projection is never blank.
type Service struct {
	cache       Cache
	fetcher     Fetcher
	presetRates map[string]float64
	defaultRate float64
	now         func() time.Time

	prefetched atomic.Bool
}

// NewService creates a Service over the given cache and fetcher with the
// production preset table.
func NewService(cache Cache, fetcher Fetcher) *Service {
	rates := make(map[string]float64)
	for _, p := range Presets() {
		rates[p.Ticker] = p.FallbackRate
	}
	return &Service{
		cache:       cache,
		fetcher:     fetcher,
		presetRates: rates,
		defaultRate: DefaultFallbackRate,
		now:         time.Now,
	}
}

// NewServiceWithDeps creates a Service with a custom clock for testing
func NewServiceWithDeps(cache Cache, fetcher Fetcher, now func() time.Time) *Service {
	s := NewService(cache, fetcher)
	s.now = now
	return s
}

// seriesFor returns the series for a key, serving from the cache when fresh
// and fetching at most once otherwise. Cache failures degrade to a fetch;
// they are never surfaced.
func (s *Service) seriesFor(ctx context.Context, ticker string, iv Interval) (Series, error) {
	series, ok, err := s.cache.Get(ticker, iv)
	if err != nil {
		slog.Warn("Series cache read failed", "ticker", ticker, "error", err)
	} else if ok {
		return series, nil
	}

	series, err = s.fetcher.FetchSeries(ctx, ticker, iv)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Put(ticker, iv, series, s.now()); err != nil {
		slog.Warn("Series cache write failed", "ticker", ticker, "error", err)
	}
	return series, nil
}

// CAGRFromToday computes the annualized return of a ticker over the last
// `years` years. Short horizons that come back with too little data are
// retried once with a two-year request, which has a better chance of
// covering the window. Returns false when no usable history exists.
func (s *Service) CAGRFromToday(ctx context.Context, ticker string, years int) (float64, bool) {
	if years < 1 {
		return 0, false
	}

	series, err := s.seriesFor(ctx, ticker, Daily(years))
	if err != nil {
		slog.Warn("Series fetch failed", "ticker", ticker, "error", err)
		series = nil
	}
	if len(series) < 2 && years <= 1 {
		retry, rerr := s.seriesFor(ctx, ticker, Daily(2))
		if rerr != nil {
			slog.Warn("Series retry fetch failed", "ticker", ticker, "error", rerr)
		} else {
			series = retry
		}
	}
	if len(series) < 2 {
		return 0, false
	}

	// The series may extend further back than the horizon; start from the
	// latest entry at or before today minus `years`. When the series does
	// not reach back that far, the earliest entry is the best available
	// start point.
	cutoff := s.now().AddDate(-years, 0, 0)
	start := 0
	for i := range series {
		if series[i].Date.After(cutoff) {
			break
		}
		start = i
	}
	return CAGRFromSeries(series[start:])
}

// ProjectFutureValue computes what `principal` could have become over
// `years` years invested in `ticker`, using historical CAGR when available
// and the preset rate otherwise. It always returns a finite value; upstream
// failures never surface here.
func (s *Service) ProjectFutureValue(ctx context.Context, principal decimal.Decimal, ticker string, years float64) Projection {
	horizon := int(math.Round(years))
	if horizon < 1 {
		horizon = 1
	}

	rate, ok := s.CAGRFromToday(ctx, ticker, horizon)
	fromPreset := !ok
	if !ok {
		rate = s.fallbackRate(ticker)
	}

	growth := decimal.NewFromFloat(math.Pow(1+rate, years))
	return Projection{
		Ticker:      strings.ToUpper(ticker),
		Rate:        rate,
		FutureValue: principal.Mul(growth),
		FromPreset:  fromPreset,
	}
}

// fallbackRate returns the preset rate for a ticker, or the documented
// default for tickers without one.
func (s *Service) fallbackRate(ticker string) float64 {
	if rate, ok := s.presetRates[strings.ToUpper(ticker)]; ok {
		return rate
	}
	return s.defaultRate
}

// EnsurePrefetch warms the cache for the preset tickers so interactive
// screens rarely block on a live fetch. Idempotent: only the first call
// does anything. Fire-and-forget: fetches fan out per ticker and failures
// are logged, never propagated.
func (s *Service) EnsurePrefetch(ctx context.Context) {
	if !s.prefetched.CompareAndSwap(false, true) {
		return
	}
	for _, preset := range Presets() {
		go func(ticker string) {
			if _, err := s.seriesFor(ctx, ticker, Daily(prefetchYears)); err != nil {
				slog.Warn("Prefetch failed", "ticker", ticker, "error", err)
			}
		}(preset.Ticker)
	}
}

// PruneCache removes cache entries older than the given day count. Best
// effort: failures are logged, never propagated.
func (s *Service) PruneCache(days int) {
	removed, err := s.cache.PruneOlderThan(days)
	if err != nil {
		slog.Warn("Series cache prune failed", "days", days, "error", err)
		return
	}
	slog.Info("Pruned series cache", "days", days, "removed", removed)
}
