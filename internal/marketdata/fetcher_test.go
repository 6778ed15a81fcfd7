package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("EODHDClient", func() {
	var (
		server  *httptest.Server
		handler http.HandlerFunc
		client  *EODHDClient
	)

	BeforeEach(func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[
				{"date": "2019-06-03", "close": 100.0, "adjusted_close": 98.5},
				{"date": "2024-05-31", "close": 200.0, "adjusted_close": 200.0}
			]`))
		}
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler(w, r)
		}))
		client = NewEODHDClient(server.URL, "test-key")
		client.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	})

	AfterEach(func() {
		server.Close()
	})

	When("the API responds with a series", func() {
		It("should decode dates and prices in order", func() {
			series, err := client.FetchSeries(context.Background(), "AAPL", Daily(5))
			Expect(err).NotTo(HaveOccurred())
			Expect(series).To(HaveLen(2))
			Expect(series[0].Date.Format("2006-01-02")).To(Equal("2019-06-03"))
			Expect(series[0].AdjustedClose).To(Equal(98.5))
			Expect(series[1].Close).To(Equal(200.0))
		})

		It("should request the ticker with the configured lookback", func() {
			var gotPath, gotQuery string
			handler = func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				gotQuery = r.URL.RawQuery
				w.Write([]byte(`[]`))
			}
			_, err := client.FetchSeries(context.Background(), "aapl", Daily(5))
			Expect(err).NotTo(HaveOccurred())
			Expect(gotPath).To(Equal("/api/eod/AAPL"))
			Expect(gotQuery).To(ContainSubstring("from=2019-06-01"))
			Expect(gotQuery).To(ContainSubstring("period=d"))
			Expect(gotQuery).To(ContainSubstring("api_token=test-key"))
		})
	})

	When("the API returns an error status", func() {
		BeforeEach(func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "limit exceeded", http.StatusTooManyRequests)
			}
		})

		It("should return an error", func() {
			_, err := client.FetchSeries(context.Background(), "AAPL", Daily(5))
			Expect(err).To(HaveOccurred())
		})
	})

	When("a row has a malformed date", func() {
		BeforeEach(func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`[
					{"date": "not-a-date", "close": 1.0},
					{"date": "2024-05-31", "close": 200.0}
				]`))
			}
		})

		It("should skip the row and keep the rest", func() {
			series, err := client.FetchSeries(context.Background(), "AAPL", Daily(5))
			Expect(err).NotTo(HaveOccurred())
			Expect(series).To(HaveLen(1))
		})
	})
})
