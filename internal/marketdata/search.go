package marketdata

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/foliopilot/foliopilot/internal/cache"
	"github.com/foliopilot/foliopilot/internal/errs"
	"github.com/foliopilot/foliopilot/internal/httpx"
)

// SearchProvider calls the public symbol search endpoint. Search is
// best-effort: failures are logged and downgraded to an empty result,
// except rate limiting which respects the chart provider's shared
// cooldown flag.
type SearchProvider struct {
	client  *httpx.Client
	chart   *ChartProvider
	baseURL string
	maxHits int
	cache   *cache.Cache[[]SearchResult]
	flight  cache.Flight[[]SearchResult]
	log     zerolog.Logger
}

// NewSearchProvider creates the search provider with its own TTL cache.
func NewSearchProvider(client *httpx.Client, chart *ChartProvider, baseURL string, ttl time.Duration, maxHits int, log zerolog.Logger) *SearchProvider {
	if maxHits <= 0 {
		maxHits = 8
	}
	return &SearchProvider{
		client:  client,
		chart:   chart,
		baseURL: strings.TrimRight(baseURL, "/"),
		maxHits: maxHits,
		cache:   cache.New[[]SearchResult](ttl, 50),
		log:     log.With().Str("provider", "search").Logger(),
	}
}

type searchResponse struct {
	Quotes []struct {
		Symbol    string `json:"symbol"`
		ShortName string `json:"shortname"`
		LongName  string `json:"longname"`
		Exchange  string `json:"exchange"`
		QuoteType string `json:"quoteType"`
	} `json:"quotes"`
}

// Search returns normalized results for a query, serving the cache when
// fresh. An upstream failure yields an empty slice, never an error.
func (p *SearchProvider) Search(ctx context.Context, query string) []SearchResult {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	key := strings.ToUpper(query)
	if hit, ok := p.cache.GetFresh(key); ok {
		return hit
	}

	results, _, err := p.flight.Do(key, func() ([]SearchResult, error) {
		return p.fetch(ctx, query)
	})
	if err != nil {
		p.log.Warn().Err(err).Str("query", query).Msg("symbol search failed")
		return nil
	}
	return results
}

func (p *SearchProvider) fetch(ctx context.Context, query string) ([]SearchResult, error) {
	if p.chart != nil && p.chart.RateLimited() {
		return nil, errs.New(errs.RateLimit, "search skipped during cooldown")
	}

	u := fmt.Sprintf("%s/v1/finance/search?q=%s&quotesCount=%d&newsCount=0",
		p.baseURL, url.QueryEscape(query), p.maxHits)

	var resp searchResponse
	if err := p.client.FetchJSON(ctx, u, &resp, httpx.Options{Deadline: 8 * time.Second}); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(resp.Quotes))
	for _, q := range resp.Quotes {
		if q.Symbol == "" {
			continue
		}
		name := q.LongName
		if name == "" {
			name = q.ShortName
		}
		results = append(results, SearchResult{
			Symbol:   strings.ToUpper(q.Symbol),
			Name:     name,
			Exchange: q.Exchange,
			Type:     strings.ToLower(q.QuoteType),
		})
		if len(results) >= p.maxHits {
			break
		}
	}

	p.cache.Put(strings.ToUpper(query), results)
	return results, nil
}
