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

func TestGetQuoteWarmCacheSkipsProviders(t *testing.T) {
	var upstreamHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits.Add(1)
		fmt.Fprint(w, `{"quotes":[]}`)
	}))
	defer srv.Close()

	fetcher := httpx.New()
	chart := NewChartProvider(fetcher, srv.URL, time.Minute, zerolog.Nop())
	search := NewSearchProvider(fetcher, chart, srv.URL, 10*time.Minute, 8, zerolog.Nop())
	csv := NewCSVProvider(fetcher, srv.URL, zerolog.Nop())
	quotes := NewQuoteService(NewResolver(chart, search, zerolog.Nop()), csv, nil, 120*time.Second, 100, zerolog.Nop())

	quotes.Cache().PutAt("AAPL", &QuoteEntry{
		Source: SourcePrimaryChart,
		Price:  150.25,
	}, time.Now().Add(-30*time.Second))

	entry, err := quotes.GetQuote(context.Background(), "aapl", QuoteOptions{})
	require.NoError(t, err)
	assert.Equal(t, 150.25, entry.Price)
	assert.Equal(t, int32(0), upstreamHits.Load(), "fresh cache hit must not issue HTTP")
}

func TestGetQuoteFallsBackToCSVWhenRateLimited(t *testing.T) {
	chartSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer chartSrv.Close()

	csvSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "Date,Open,High,Low,Close,Volume\n2024-05-01,4.00,4.20,3.95,4.05,900\n2024-05-02,4.05,4.20,4.00,4.12,1000\n")
	}))
	defer csvSrv.Close()

	fetcher := httpx.New()
	chart := NewChartProvider(fetcher, chartSrv.URL, time.Minute, zerolog.Nop())
	search := NewSearchProvider(fetcher, chart, chartSrv.URL, 10*time.Minute, 8, zerolog.Nop())
	csv := NewCSVProvider(fetcher, csvSrv.URL, zerolog.Nop())
	quotes := NewQuoteService(NewResolver(chart, search, zerolog.Nop()), csv, nil, 120*time.Second, 100, zerolog.Nop())

	entry, err := quotes.GetQuote(context.Background(), "XYZ", QuoteOptions{})
	require.NoError(t, err)
	assert.Equal(t, SourceCSV, entry.Source)
	assert.Equal(t, 4.12, entry.Price, "latest CSV close wins")
	assert.Equal(t, time.Date(2024, 5, 2, 20, 0, 0, 0, time.UTC), entry.Timestamp)
}

func TestGetQuoteRateLimitedWithNothingElse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	fetcher := httpx.New()
	chart := NewChartProvider(fetcher, srv.URL, time.Minute, zerolog.Nop())
	search := NewSearchProvider(fetcher, chart, srv.URL, 10*time.Minute, 8, zerolog.Nop())
	csv := NewCSVProvider(fetcher, srv.URL, zerolog.Nop())
	quotes := NewQuoteService(NewResolver(chart, search, zerolog.Nop()), csv, nil, 120*time.Second, 100, zerolog.Nop())

	_, err := quotes.GetQuote(context.Background(), "XYZ", QuoteOptions{})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.RateLimit))
}

func TestGetQuoteValidation(t *testing.T) {
	quotes := NewQuoteService(nil, nil, nil, time.Minute, 10, zerolog.Nop())
	_, err := quotes.GetQuote(context.Background(), "   ", QuoteOptions{})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Validation))
}
