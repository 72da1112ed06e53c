package marketdata

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/foliopilot/foliopilot/internal/errs"
	"github.com/foliopilot/foliopilot/internal/httpx"
)

// ratePattern matches upstream error codes that indicate throttling.
var ratePattern = regexp.MustCompile(`(?i)rate`)

// Chart is a decoded chart response: current meta plus the close series.
type Chart struct {
	Symbol        string
	Currency      string
	Exchange      string
	InstrumentType string
	MarketPrice   float64
	PreviousClose float64
	Open          float64
	MarketTime    time.Time
	Points        []SeriesPoint
}

// ChartProvider calls the public chart endpoint. A process-wide
// rate-limit deadline short-circuits calls during cooldown; any
// goroutine may publish a later deadline.
type ChartProvider struct {
	client   *httpx.Client
	baseURL  string
	cooldown time.Duration
	limiter  *rate.Limiter
	log      zerolog.Logger

	// rateLimitedUntil holds a unix-millisecond deadline.
	rateLimitedUntil atomic.Int64
}

// NewChartProvider creates the chart provider. cooldown is how long the
// provider is skipped after a rate-limit event.
func NewChartProvider(client *httpx.Client, baseURL string, cooldown time.Duration, log zerolog.Logger) *ChartProvider {
	return &ChartProvider{
		client:   client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		cooldown: cooldown,
		limiter:  rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		log:      log.With().Str("provider", "chart").Logger(),
	}
}

// RateLimited reports whether the provider is inside a cooldown window.
func (p *ChartProvider) RateLimited() bool {
	return time.Now().UnixMilli() < p.rateLimitedUntil.Load()
}

// markRateLimited publishes a new cooldown deadline, keeping the later
// of the existing and the new one.
func (p *ChartProvider) markRateLimited() {
	deadline := time.Now().Add(p.cooldown).UnixMilli()
	for {
		cur := p.rateLimitedUntil.Load()
		if cur >= deadline || p.rateLimitedUntil.CompareAndSwap(cur, deadline) {
			return
		}
	}
}

// chart response decode types, matching the v8 chart wire shape.

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta       chartMeta `json:"meta"`
	Timestamp  []int64   `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Close []*float64 `json:"close"`
			Open  []*float64 `json:"open"`
		} `json:"quote"`
	} `json:"indicators"`
}

type chartMeta struct {
	Symbol             string  `json:"symbol"`
	Currency           string  `json:"currency"`
	ExchangeName       string  `json:"exchangeName"`
	InstrumentType     string  `json:"instrumentType"`
	RegularMarketPrice float64 `json:"regularMarketPrice"`
	ChartPreviousClose float64 `json:"chartPreviousClose"`
	PreviousClose      float64 `json:"previousClose"`
	RegularMarketTime  int64   `json:"regularMarketTime"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// FetchChart requests a ranged chart for an external symbol. A nil
// chart with nil error is a soft miss (symbol unknown upstream).
func (p *ChartProvider) FetchChart(ctx context.Context, externalSymbol, rng, interval string) (*Chart, error) {
	if p.RateLimited() {
		return nil, errs.New(errs.RateLimit, "chart provider cooling down")
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, errs.Wrap(errs.Timeout, err, "chart limiter wait")
	}

	u := fmt.Sprintf("%s/v8/finance/chart/%s?range=%s&interval=%s",
		p.baseURL, url.PathEscape(externalSymbol), url.QueryEscape(rng), url.QueryEscape(interval))

	var resp chartResponse
	err := p.client.FetchJSON(ctx, u, &resp, httpx.Options{Deadline: 10 * time.Second})
	if err != nil {
		return nil, p.classify(err, externalSymbol)
	}
	if e := resp.Chart.Error; e != nil {
		return nil, p.classifyCode(e.Code, e.Description, externalSymbol)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, nil
	}
	return decodeChart(resp.Chart.Result[0]), nil
}

// classify inspects a transport-level failure. A 429 starts the
// cooldown; a 404 whose body carries a "Not Found" code is a soft miss
// surfaced as nil (callers move to the next candidate).
func (p *ChartProvider) classify(err error, symbol string) error {
	switch errs.KindOf(err) {
	case errs.RateLimit:
		p.markRateLimited()
		p.log.Warn().Str("symbol", symbol).Dur("cooldown", p.cooldown).Msg("chart rate limited")
		return errs.New(errs.RateLimit, "chart provider rate limited")
	case errs.Provider:
		raw := errs.RawOf(err)
		if ratePattern.MatchString(extractCode(raw)) {
			p.markRateLimited()
			return errs.New(errs.RateLimit, "chart provider rate limited")
		}
		if strings.Contains(raw, "Not Found") {
			return nil
		}
	}
	return err
}

// classifyCode handles error codes delivered inside a 200 body.
func (p *ChartProvider) classifyCode(code, desc, symbol string) error {
	if ratePattern.MatchString(code) {
		p.markRateLimited()
		p.log.Warn().Str("symbol", symbol).Msg("chart rate limited via body code")
		return errs.New(errs.RateLimit, "chart provider rate limited")
	}
	if code == "Not Found" {
		return nil
	}
	return errs.New(errs.Provider, "chart error %s: %s", code, desc)
}

// extractCode pulls the "code" value out of an error body snippet.
func extractCode(raw string) string {
	const marker = `"code":"`
	i := strings.Index(raw, marker)
	if i < 0 {
		return ""
	}
	rest := raw[i+len(marker):]
	if j := strings.Index(rest, `"`); j >= 0 {
		return rest[:j]
	}
	return ""
}

// decodeChart flattens the parallel timestamp/close arrays into series
// points, dropping null closes.
func decodeChart(r chartResult) *Chart {
	c := &Chart{
		Symbol:         r.Meta.Symbol,
		Currency:       r.Meta.Currency,
		Exchange:       r.Meta.ExchangeName,
		InstrumentType: r.Meta.InstrumentType,
		MarketPrice:    r.Meta.RegularMarketPrice,
		PreviousClose:  r.Meta.PreviousClose,
	}
	if c.PreviousClose == 0 {
		c.PreviousClose = r.Meta.ChartPreviousClose
	}
	if r.Meta.RegularMarketTime > 0 {
		c.MarketTime = time.Unix(r.Meta.RegularMarketTime, 0).UTC()
	}

	if len(r.Indicators.Quote) == 0 {
		return c
	}
	q := r.Indicators.Quote[0]
	for i, ts := range r.Timestamp {
		if i >= len(q.Close) || q.Close[i] == nil {
			continue
		}
		if i < len(q.Open) && q.Open[i] != nil && c.Open == 0 {
			c.Open = *q.Open[i]
		}
		c.Points = append(c.Points, SeriesPoint{
			Timestamp: time.Unix(ts, 0).UTC(),
			Close:     *q.Close[i],
		})
	}
	return c
}
