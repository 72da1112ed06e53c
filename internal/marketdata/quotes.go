package marketdata

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/foliopilot/foliopilot/internal/cache"
	"github.com/foliopilot/foliopilot/internal/errs"
	"github.com/foliopilot/foliopilot/internal/symbols"
)

// csvQuoteHourUTC is the timestamp hour imputed for quotes synthesized
// from the CSV daily series.
const csvQuoteHourUTC = 20

// QuoteOptions tunes a single quote lookup.
type QuoteOptions struct {
	PreferOracle bool
	ExpectedName string
}

// QuoteService answers latest-price lookups through the ordered
// provider chain: resolver + primary chart, CSV daily bars, then the
// oracle. Results live in a TTL cache; concurrent lookups for the same
// ticker collapse to one provider walk.
type QuoteService struct {
	resolver *Resolver
	csv      *CSVProvider
	oracle   *OracleProvider
	cache    *cache.Cache[*QuoteEntry]
	flight   cache.Flight[*QuoteEntry]
	log      zerolog.Logger
}

// NewQuoteService wires the quote service. oracle may be nil when no
// LLM provider is configured.
func NewQuoteService(resolver *Resolver, csv *CSVProvider, oracle *OracleProvider, ttl time.Duration, maxEntries int, log zerolog.Logger) *QuoteService {
	return &QuoteService{
		resolver: resolver,
		csv:      csv,
		oracle:   oracle,
		cache:    cache.New[*QuoteEntry](ttl, maxEntries),
		log:      log.With().Str("component", "quotes").Logger(),
	}
}

// Cache exposes the quote cache for the batch orchestrator's stale
// fallback and for tests that seed entries.
func (s *QuoteService) Cache() *cache.Cache[*QuoteEntry] { return s.cache }

// Resolver exposes the symbol resolver for the history service.
func (s *QuoteService) Resolver() *Resolver { return s.resolver }

// GetQuote returns the latest price entry for a canonical ticker.
// Stale cache entries are never served from here; the batch layer
// decides whether to fall back to them.
func (s *QuoteService) GetQuote(ctx context.Context, canonical string, opts QuoteOptions) (*QuoteEntry, error) {
	canonical = symbols.Normalize(canonical)
	if canonical == "" {
		return nil, errs.New(errs.Validation, "symbol is required")
	}

	if hit, ok := s.cache.GetFresh(canonical); ok {
		return hit, nil
	}

	entry, _, err := s.flight.Do(canonical, func() (*QuoteEntry, error) {
		e, err := s.fetch(ctx, canonical, opts)
		if err != nil {
			return nil, err
		}
		s.cache.Put(canonical, e)
		return e, nil
	})
	return entry, err
}

// fetch walks the provider chain in order.
func (s *QuoteService) fetch(ctx context.Context, canonical string, opts QuoteOptions) (*QuoteEntry, error) {
	res, err := s.resolver.Resolve(ctx, canonical, opts.ExpectedName)
	if err != nil {
		return nil, err
	}

	entry := res.Entry
	if entry == nil {
		entry = s.fromCSV(ctx, canonical)
	}

	if entry == nil || opts.PreferOracle {
		if oracleEntry := s.fromOracle(ctx, canonical, opts.PreferOracle, res.RateLimited, entry != nil); oracleEntry != nil {
			entry = oracleEntry
		}
	}

	if entry == nil {
		if res.RateLimited {
			return nil, errs.New(errs.RateLimit, "providers rate limited for %s", canonical)
		}
		return nil, errs.New(errs.NotFound, "no price available for %s", canonical)
	}

	if len(res.Candidates) > 0 {
		entry.Candidates = res.Candidates
	}
	return entry, nil
}

// fromCSV synthesizes an entry from the latest CSV daily close, stamped
// 20:00 UTC of the bar's day.
func (s *QuoteService) fromCSV(ctx context.Context, canonical string) *QuoteEntry {
	series, err := s.csv.FetchDailySeries(ctx, canonical)
	if err != nil || len(series) == 0 {
		if err != nil {
			s.log.Debug().Err(err).Str("symbol", canonical).Msg("csv fallback failed")
		}
		return nil
	}

	last := series[len(series)-1]
	d, err := time.Parse("2006-01-02", last.Date)
	if err != nil {
		return nil
	}
	return &QuoteEntry{
		Source:    SourceCSV,
		Price:     last.Close,
		Timestamp: time.Date(d.Year(), d.Month(), d.Day(), csvQuoteHourUTC, 0, 0, 0, time.UTC),
		Meta:      QuoteMeta{Name: symbols.DirectoryName(canonical)},
		FetchedAt: timeNow(),
	}
}

// fromOracle consults the LLM only when explicitly preferred, or when
// the chart hit a rate limit and nothing else answered.
func (s *QuoteService) fromOracle(ctx context.Context, canonical string, preferred, rateLimited, haveEntry bool) *QuoteEntry {
	if s.oracle == nil {
		return nil
	}
	if !preferred && !(rateLimited && !haveEntry) {
		return nil
	}
	entry, err := s.oracle.CurrentPrice(ctx, canonical, symbols.DirectoryName(canonical))
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", canonical).Msg("oracle price failed")
		return nil
	}
	return entry
}
