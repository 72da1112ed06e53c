// Package marketdata implements the market data resolution and caching
// layer: the chart, search, CSV and oracle providers, the symbol
// resolver, and the quote/history/details/batch services built on top
// of them. Every service shares the same shape: TTL cache in front,
// single-flight guard around the fetch, ordered provider fallbacks
// behind.
package marketdata

import (
	"math"
	"time"
)

// timeNow is swapped out by tests that pin the clock.
var timeNow = time.Now

// Source labels which provider produced a quote entry.
const (
	SourcePrimaryChart = "primary_chart"
	SourceCSV          = "csv"
	SourceOracle       = "llm_oracle"
)

// QuoteMeta carries display metadata alongside a quote.
type QuoteMeta struct {
	Name           string `json:"name,omitempty"`
	Type           string `json:"type,omitempty"`
	ExternalSymbol string `json:"externalSymbol,omitempty"`
}

// Candidate is a disambiguation suggestion surfaced with a quote.
type Candidate struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name,omitempty"`
	Exchange string `json:"exchange,omitempty"`
}

// QuoteEntry is the canonical in-memory price record. Price is always
// finite and positive; entries with other prices are rejected before
// construction. FetchedAt rides the monotonic clock and never leaves
// the process.
type QuoteEntry struct {
	Source        string      `json:"source"`
	Price         float64     `json:"price"`
	PreviousClose float64     `json:"previousClose,omitempty"`
	Open          float64     `json:"open,omitempty"`
	Currency      string      `json:"currency,omitempty"`
	Exchange      string      `json:"exchange,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
	Meta          QuoteMeta   `json:"meta,omitempty"`
	Candidates    []Candidate `json:"candidates,omitempty"`
	Stale         bool        `json:"stale,omitempty"`
	FetchedAt     time.Time   `json:"-"`
}

// SeriesPoint is one bar of a price series. Timestamps marshal as
// RFC3339 UTC.
type SeriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Close     float64   `json:"close"`
}

// DailyPoint is one row of a daily close series.
type DailyPoint struct {
	Date  string  `json:"date"` // YYYY-MM-DD
	Close float64 `json:"close"`
}

// dailyBarHourUTC is the hour imputed when a daily bar needs a
// timestamp for comparisons.
const dailyBarHourUTC = 16

// TimestampUTC converts the daily point's date into a comparable
// instant, imputing 16:00 UTC.
func (p DailyPoint) TimestampUTC() (time.Time, bool) {
	d, err := time.Parse("2006-01-02", p.Date)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(d.Year(), d.Month(), d.Day(), dailyBarHourUTC, 0, 0, 0, time.UTC), true
}

// SearchResult is one normalized hit from the symbol search provider.
type SearchResult struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name,omitempty"`
	Exchange string `json:"exchange,omitempty"`
	Type     string `json:"type,omitempty"`
}

// FindClosest selects the point with the greatest timestamp not
// exceeding target, walking the ascending series from the end. When
// every point is later than target the earliest point is returned.
// Empty series yield ok = false.
func FindClosest(series []SeriesPoint, target time.Time) (SeriesPoint, bool) {
	if len(series) == 0 {
		return SeriesPoint{}, false
	}
	for i := len(series) - 1; i >= 0; i-- {
		if !series[i].Timestamp.After(target) {
			return series[i], true
		}
	}
	return series[0], true
}

// DailyToSeries converts a daily close series into comparable series
// points, dropping rows whose dates do not parse.
func DailyToSeries(daily []DailyPoint) []SeriesPoint {
	out := make([]SeriesPoint, 0, len(daily))
	for _, p := range daily {
		ts, ok := p.TimestampUTC()
		if !ok {
			continue
		}
		out = append(out, SeriesPoint{Timestamp: ts, Close: p.Close})
	}
	return out
}

// validPrice reports whether a price can back a quote entry.
func validPrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}
