package marketdata

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/foliopilot/foliopilot/internal/cache"
	"github.com/foliopilot/foliopilot/internal/errs"
)

// HistoryService serves daily and intraday close series from the chart
// provider, each behind its own TTL cache and single-flight guard.
type HistoryService struct {
	chart    *ChartProvider
	resolver *Resolver

	daily       *cache.Cache[[]SeriesPoint]
	dailyFlight cache.Flight[[]SeriesPoint]

	intraday       *cache.Cache[[]SeriesPoint]
	intradayFlight cache.Flight[[]SeriesPoint]

	log zerolog.Logger
}

// NewHistoryService wires the history caches.
func NewHistoryService(chart *ChartProvider, resolver *Resolver, dailyTTL time.Duration, dailyMax int, intradayTTL time.Duration, intradayMax int, log zerolog.Logger) *HistoryService {
	return &HistoryService{
		chart:    chart,
		resolver: resolver,
		daily:    cache.New[[]SeriesPoint](dailyTTL, dailyMax),
		intraday: cache.New[[]SeriesPoint](intradayTTL, intradayMax),
		log:      log.With().Str("component", "history").Logger(),
	}
}

// GetDailySeries returns the full daily close history for a ticker.
func (s *HistoryService) GetDailySeries(ctx context.Context, canonical string) ([]SeriesPoint, error) {
	return s.get(ctx, canonical, s.daily, &s.dailyFlight, "max", "1d")
}

// GetIntradaySeries returns the recent 5-minute close series.
func (s *HistoryService) GetIntradaySeries(ctx context.Context, canonical string) ([]SeriesPoint, error) {
	return s.get(ctx, canonical, s.intraday, &s.intradayFlight, "5d", "5m")
}

// RangedSeries fetches an arbitrary range/interval without caching,
// used by the details orchestrator's range-selected fallback.
func (s *HistoryService) RangedSeries(ctx context.Context, canonical, rng, interval string) ([]SeriesPoint, error) {
	external, err := s.externalSymbol(ctx, canonical)
	if err != nil {
		return nil, err
	}
	chart, err := s.chart.FetchChart(ctx, external, rng, interval)
	if err != nil {
		return nil, err
	}
	if chart == nil || len(chart.Points) == 0 {
		return nil, errs.New(errs.NotFound, "no %s/%s series for %s", rng, interval, canonical)
	}
	return sortedPoints(chart.Points), nil
}

func (s *HistoryService) get(ctx context.Context, canonical string, c *cache.Cache[[]SeriesPoint], flight *cache.Flight[[]SeriesPoint], rng, interval string) ([]SeriesPoint, error) {
	if hit, ok := c.GetFresh(canonical); ok {
		return hit, nil
	}
	series, _, err := flight.Do(canonical, func() ([]SeriesPoint, error) {
		pts, err := s.RangedSeries(ctx, canonical, rng, interval)
		if err != nil {
			return nil, err
		}
		c.Put(canonical, pts)
		return pts, nil
	})
	return series, err
}

// externalSymbol reuses the resolver's last successful mapping, falling
// back to a full resolution when the ticker has not been seen yet.
func (s *HistoryService) externalSymbol(ctx context.Context, canonical string) (string, error) {
	if mapped, ok := s.resolver.MappedSymbol(canonical); ok {
		return mapped, nil
	}
	res, err := s.resolver.Resolve(ctx, canonical, "")
	if err != nil {
		return "", err
	}
	if res.RateLimited {
		return "", errs.New(errs.RateLimit, "resolution rate limited for %s", canonical)
	}
	if res.Entry == nil || res.Entry.Meta.ExternalSymbol == "" {
		return "", errs.New(errs.NotFound, "cannot resolve %s", canonical)
	}
	return res.Entry.Meta.ExternalSymbol, nil
}

// sortedPoints enforces ascending timestamps; upstream order is usually
// correct but not guaranteed.
func sortedPoints(pts []SeriesPoint) []SeriesPoint {
	if sort.SliceIsSorted(pts, func(i, j int) bool { return pts[i].Timestamp.Before(pts[j].Timestamp) }) {
		return pts
	}
	out := make([]SeriesPoint, len(pts))
	copy(out, pts)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
