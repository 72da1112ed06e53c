package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliopilot/foliopilot/internal/errs"
	"github.com/foliopilot/foliopilot/internal/httpx"
)

func TestBuildTarget(t *testing.T) {
	t.Run("no date no time", func(t *testing.T) {
		target, hasTime, err := buildTarget("", "")
		require.NoError(t, err)
		assert.True(t, target.IsZero())
		assert.False(t, hasTime)
	})

	t.Run("time without date", func(t *testing.T) {
		_, _, err := buildTarget("", "14:30")
		require.Error(t, err)
		assert.True(t, errs.Is(err, errs.Validation))
	})

	t.Run("date imputes 16:00 local", func(t *testing.T) {
		target, hasTime, err := buildTarget("2024-05-01", "")
		require.NoError(t, err)
		assert.False(t, hasTime)
		assert.Equal(t, time.Date(2024, 5, 1, 16, 0, 0, 0, time.Local), target)
	})

	t.Run("date with time", func(t *testing.T) {
		target, hasTime, err := buildTarget("2024-05-01", "9:05")
		require.NoError(t, err)
		assert.True(t, hasTime)
		assert.Equal(t, time.Date(2024, 5, 1, 9, 5, 0, 0, time.Local), target)
	})

	t.Run("invalid inputs", func(t *testing.T) {
		_, _, err := buildTarget("01-05-2024", "")
		assert.True(t, errs.Is(err, errs.Validation))
		_, _, err = buildTarget("2024-05-01", "25:00")
		assert.True(t, errs.Is(err, errs.Validation))
		_, _, err = buildTarget("2024-05-01", "9:5")
		assert.True(t, errs.Is(err, errs.Validation))
	})
}

func TestSelectRange(t *testing.T) {
	const day = 24 * time.Hour
	cases := []struct {
		diff     time.Duration
		hasTime  bool
		rng, ivl string
	}{
		{2 * day, true, "5d", "5m"},
		{2 * day, false, "1mo", "1d"},
		{20 * day, true, "1mo", "1d"},
		{200 * day, false, "1y", "1d"},
		{3 * 365 * day, false, "5y", "1wk"},
		{10 * 365 * day, false, "max", "1mo"},
	}
	for _, c := range cases {
		rng, ivl := selectRange(c.diff, c.hasTime)
		assert.Equal(t, c.rng, rng, "diff %v hasTime %v", c.diff, c.hasTime)
		assert.Equal(t, c.ivl, ivl, "diff %v hasTime %v", c.diff, c.hasTime)
	}
}

// newDetailsStack wires a details service against a chart fake keyed by
// the requested range.
func newDetailsStack(t *testing.T, chartByRange func(rng string) string, csvStatus int, csvBody string) *DetailsService {
	t.Helper()

	chartSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if body := chartByRange(r.URL.Query().Get("range")); body != "" {
			fmt.Fprint(w, body)
			return
		}
		fmt.Fprint(w, softMiss)
	}))
	t.Cleanup(chartSrv.Close)

	searchSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"quotes":[]}`)
	}))
	t.Cleanup(searchSrv.Close)

	csvSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if csvStatus != http.StatusOK {
			w.WriteHeader(csvStatus)
			return
		}
		fmt.Fprint(w, csvBody)
	}))
	t.Cleanup(csvSrv.Close)

	fetcher := httpx.New()
	chart := NewChartProvider(fetcher, chartSrv.URL, time.Minute, zerolog.Nop())
	search := NewSearchProvider(fetcher, chart, searchSrv.URL, 10*time.Minute, 8, zerolog.Nop())
	csv := NewCSVProvider(fetcher, csvSrv.URL, zerolog.Nop())
	resolver := NewResolver(chart, search, zerolog.Nop())
	quotes := NewQuoteService(resolver, csv, nil, 2*time.Minute, 100, zerolog.Nop())
	history := NewHistoryService(chart, resolver, 6*time.Hour, 50, 5*time.Minute, 50, zerolog.Nop())
	return NewDetailsService(quotes, history, csv, nil, 30*24*time.Hour, zerolog.Nop())
}

func intradayBody(symbol string, price float64, points []SeriesPoint) string {
	ts := "["
	closes := "["
	for i, p := range points {
		if i > 0 {
			ts += ","
			closes += ","
		}
		ts += fmt.Sprintf("%d", p.Timestamp.Unix())
		closes += fmt.Sprintf("%g", p.Close)
	}
	ts += "]"
	closes += "]"
	return fmt.Sprintf(`{"chart":{"result":[{
		"meta":{"symbol":%q,"currency":"USD","exchangeName":"NMS","instrumentType":"EQUITY",
			"regularMarketPrice":%g,"previousClose":%g,"regularMarketTime":%d},
		"timestamp":%s,
		"indicators":{"quote":[{"close":%s,"open":%s}]}
	}],"error":null}}`, symbol, price, price-1, time.Now().Unix(), ts, closes, closes)
}

func TestGetPriceDetailsIntradayWithinLookback(t *testing.T) {
	date := time.Now().AddDate(0, 0, -1)
	target := time.Date(date.Year(), date.Month(), date.Day(), 14, 30, 0, 0, time.Local)

	intraday := []SeriesPoint{
		{Timestamp: target.Add(-5 * time.Minute), Close: 179.0},
		{Timestamp: target, Close: 180.4},
		{Timestamp: target.Add(5 * time.Minute), Close: 181.0},
	}

	svc := newDetailsStack(t, func(rng string) string {
		switch rng {
		case "1d":
			return chartBody("TSLA", 185.0, nil, nil)
		case "5d":
			return intradayBody("TSLA", 185.0, intraday)
		}
		return ""
	}, http.StatusNotFound, "")

	d, err := svc.GetPriceDetails(context.Background(), DetailsRequest{
		Symbol: "TSLA",
		Date:   date.Format("2006-01-02"),
		Time:   "14:30",
	})
	require.NoError(t, err)

	assert.Equal(t, "TSLA", d.Symbol)
	assert.Equal(t, 185.0, d.CurrentPrice)
	assert.Equal(t, 180.4, d.HistoricalPrice)
	require.NotNil(t, d.HistoricalPriceTimestamp)
	assert.True(t, d.HistoricalPriceTimestamp.Equal(target), "closest bar at or before the target wins")
}

func TestGetPriceDetailsFallsBackToCurrentPrice(t *testing.T) {
	svc := newDetailsStack(t, func(rng string) string {
		if rng == "1d" {
			return chartBody("AAPL", 150.25, nil, nil)
		}
		return ""
	}, http.StatusNotFound, "")

	d, err := svc.GetPriceDetails(context.Background(), DetailsRequest{
		Symbol: "AAPL",
		Date:   "2024-05-01",
	})
	require.NoError(t, err)

	assert.Equal(t, 150.25, d.CurrentPrice)
	assert.Equal(t, 150.25, d.HistoricalPrice, "no older bar found, current price answers")
	assert.Equal(t, "2024-05-01", d.HistoricalPriceDate)
	assert.Nil(t, d.HistoricalPriceTimestamp)
}

func TestGetPriceDetailsUnknownSymbol(t *testing.T) {
	svc := newDetailsStack(t, func(string) string { return "" }, http.StatusNotFound, "")

	_, err := svc.GetPriceDetails(context.Background(), DetailsRequest{Symbol: "NOSUCH"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestGetPriceDetailsValidation(t *testing.T) {
	svc := newDetailsStack(t, func(string) string { return "" }, http.StatusNotFound, "")

	_, err := svc.GetPriceDetails(context.Background(), DetailsRequest{Symbol: ""})
	assert.True(t, errs.Is(err, errs.Validation))

	_, err = svc.GetPriceDetails(context.Background(), DetailsRequest{Symbol: "AAPL", Time: "14:30"})
	assert.True(t, errs.Is(err, errs.Validation))
}
