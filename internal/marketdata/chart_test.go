package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliopilot/foliopilot/internal/errs"
	"github.com/foliopilot/foliopilot/internal/httpx"
)

// chartBody builds a minimal v8 chart payload for tests.
func chartBody(symbol string, price float64, ts []int64, closes []float64) string {
	tsJSON := "["
	closeJSON := "["
	for i := range ts {
		if i > 0 {
			tsJSON += ","
			closeJSON += ","
		}
		tsJSON += fmt.Sprintf("%d", ts[i])
		closeJSON += fmt.Sprintf("%g", closes[i])
	}
	tsJSON += "]"
	closeJSON += "]"
	return fmt.Sprintf(`{"chart":{"result":[{
		"meta":{"symbol":%q,"currency":"USD","exchangeName":"NMS","instrumentType":"EQUITY",
			"regularMarketPrice":%g,"previousClose":%g,"regularMarketTime":%d},
		"timestamp":%s,
		"indicators":{"quote":[{"close":%s,"open":%s}]}
	}],"error":null}}`, symbol, price, price-1, time.Now().Unix(), tsJSON, closeJSON, closeJSON)
}

func newTestChart(t *testing.T, handler http.HandlerFunc, cooldown time.Duration) (*ChartProvider, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewChartProvider(httpx.New(), srv.URL, cooldown, zerolog.Nop()), srv
}

func TestFetchChartDecodes(t *testing.T) {
	p, _ := newTestChart(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/v8/finance/chart/AAPL")
		fmt.Fprint(w, chartBody("AAPL", 150.25, []int64{1714500000, 1714503600}, []float64{149.8, 150.25}))
	}, time.Minute)

	chart, err := p.FetchChart(context.Background(), "AAPL", "1d", "1d")
	require.NoError(t, err)
	require.NotNil(t, chart)
	assert.Equal(t, "AAPL", chart.Symbol)
	assert.Equal(t, 150.25, chart.MarketPrice)
	assert.Len(t, chart.Points, 2)
	assert.True(t, chart.Points[0].Timestamp.Before(chart.Points[1].Timestamp))
}

func TestFetchChart429StartsCooldown(t *testing.T) {
	var hits atomic.Int32
	p, _ := newTestChart(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}, time.Minute)

	_, err := p.FetchChart(context.Background(), "AAPL", "1d", "1d")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.RateLimit))
	assert.True(t, p.RateLimited())

	// Subsequent calls short-circuit without touching the upstream.
	_, err = p.FetchChart(context.Background(), "MSFT", "1d", "1d")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.RateLimit))
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchChartBodyRateCodeStartsCooldown(t *testing.T) {
	p, _ := newTestChart(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart":{"result":null,"error":{"code":"Rate Limited","description":"too many"}}}`)
	}, time.Minute)

	_, err := p.FetchChart(context.Background(), "AAPL", "1d", "1d")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.RateLimit))
	assert.True(t, p.RateLimited())
}

func TestFetchChartNotFoundIsSoftMiss(t *testing.T) {
	t.Run("body code", func(t *testing.T) {
		p, _ := newTestChart(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"chart":{"result":null,"error":{"code":"Not Found","description":"no data"}}}`)
		}, time.Minute)

		chart, err := p.FetchChart(context.Background(), "NOPE", "1d", "1d")
		assert.NoError(t, err)
		assert.Nil(t, chart)
		assert.False(t, p.RateLimited())
	})

	t.Run("http 404 with body code", func(t *testing.T) {
		p, _ := newTestChart(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"chart":{"result":null,"error":{"code":"Not Found","description":"no data"}}}`)
		}, time.Minute)

		chart, err := p.FetchChart(context.Background(), "NOPE", "1d", "1d")
		assert.NoError(t, err)
		assert.Nil(t, chart)
	})
}

func TestFetchChartOtherCodeIsProviderError(t *testing.T) {
	p, _ := newTestChart(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart":{"result":null,"error":{"code":"Internal","description":"oops"}}}`)
	}, time.Minute)

	_, err := p.FetchChart(context.Background(), "AAPL", "1d", "1d")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Provider))
}

func TestMarkRateLimitedKeepsLaterDeadline(t *testing.T) {
	p := NewChartProvider(httpx.New(), "http://unused", time.Hour, zerolog.Nop())
	p.markRateLimited()
	first := p.rateLimitedUntil.Load()

	p.cooldown = time.Minute
	p.markRateLimited()
	assert.Equal(t, first, p.rateLimitedUntil.Load(), "shorter deadline must not overwrite a later one")
}
