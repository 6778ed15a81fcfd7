package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Fetcher retrieves a historical price series from the external data
// source. The source is rate-limited, so callers go through the cache and
// invoke a Fetcher at most once per cache miss per key.
type Fetcher interface {
	FetchSeries(ctx context.Context, ticker string, iv Interval) (Series, error)
}

// EODHDClient fetches end-of-day price series from an EODHD-compatible API.
type EODHDClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	now     func() time.Time
}

// NewEODHDClient creates a client for the given API base URL and key.
func NewEODHDClient(baseURL, apiKey string) *EODHDClient {
	if baseURL == "" {
		baseURL = "https://eodhd.com"
	}
	return &EODHDClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
		now:     time.Now,
	}
}

// eodhdBar mirrors one element of the API's JSON array response.
type eodhdBar struct {
	Date          string  `json:"date"`
	Close         float64 `json:"close"`
	AdjustedClose float64 `json:"adjusted_close"`
}

// FetchSeries requests the series covering the interval's lookback range up
// to today. The response is ordered oldest first, which is the order Series
// requires.
func (c *EODHDClient) FetchSeries(ctx context.Context, ticker string, iv Interval) (Series, error) {
	from := c.now().AddDate(-lookbackYears(iv), 0, 0)

	addr := fmt.Sprintf("%s/api/eod/%s?fmt=json&period=%s&from=%s&api_token=%s",
		c.baseURL, url.PathEscape(strings.ToUpper(ticker)), iv.Granularity,
		from.Format("2006-01-02"), c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("building series request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching series for %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching series for %s: %s", ticker, resp.Status)
	}

	bars := make([]eodhdBar, 0)
	if err := json.NewDecoder(resp.Body).Decode(&bars); err != nil {
		return nil, fmt.Errorf("decoding series for %s: %w", ticker, err)
	}

	series := make(Series, 0, len(bars))
	for _, bar := range bars {
		date, err := time.Parse("2006-01-02", bar.Date)
		if err != nil {
			// Skip malformed rows rather than failing the whole series
			continue
		}
		series = append(series, Point{Date: date, Close: bar.Close, AdjustedClose: bar.AdjustedClose})
	}
	return series, nil
}

// lookbackYears parses the interval's "<n>y" range param.
func lookbackYears(iv Interval) int {
	years, err := strconv.Atoi(strings.TrimSuffix(iv.Params, "y"))
	if err != nil || years < 1 {
		return 2
	}
	return years
}
