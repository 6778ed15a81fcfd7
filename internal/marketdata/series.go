package marketdata

import (
	"fmt"
	"strings"
	"time"
)

// Point is one sample of a historical price series.
type Point struct {
	Date          time.Time `json:"date"`
	Close         float64   `json:"close"`
	AdjustedClose float64   `json:"adjusted_close,omitempty"`
}

// Price returns the adjusted close when present, since adjusted prices
// account for splits and dividends, falling back to the raw close.
func (p Point) Price() float64 {
	if p.AdjustedClose > 0 {
		return p.AdjustedClose
	}
	return p.Close
}

// Series is an ordered price history, oldest point first.
type Series []Point

// Interval describes the sampling shape of a requested series. Together
// with the ticker it forms the cache key.
type Interval struct {
	Granularity string // "d", "w" or "m"
	Params      string // extra request params, e.g. the lookback range
}

// Key returns the composite cache key for a ticker and interval.
func (iv Interval) Key(ticker string) string {
	return strings.ToUpper(ticker) + "|" + iv.Granularity + "|" + iv.Params
}

// Daily is the interval used for projection lookups: daily sampling over a
// lookback of the given number of years.
func Daily(years int) Interval {
	return Interval{Granularity: "d", Params: fmt.Sprintf("%dy", years)}
}

// Preset is static reference data for a projection ticker: its display name
// and the fallback annual return used when no historical series is
// available.
type Preset struct {
	Name         string
	Ticker       string
	FallbackRate float64
}

// DefaultFallbackRate approximates a broad-market long-run annual return.
// It is used for tickers with no preset and no fetchable history, so a
// projection always produces a number.
const DefaultFallbackRate = 0.07

// Presets returns the reference stocks offered on the projection screens.
// Rates are rough long-run annualized returns, not quotes.
func Presets() []Preset {
	return []Preset{
		{Name: "Apple", Ticker: "AAPL", FallbackRate: 0.15},
		{Name: "Microsoft", Ticker: "MSFT", FallbackRate: 0.13},
		{Name: "Alphabet", Ticker: "GOOGL", FallbackRate: 0.12},
		{Name: "Amazon", Ticker: "AMZN", FallbackRate: 0.16},
		{Name: "Tesla", Ticker: "TSLA", FallbackRate: 0.20},
		{Name: "S&P 500", Ticker: "SPY", FallbackRate: 0.10},
	}
}
