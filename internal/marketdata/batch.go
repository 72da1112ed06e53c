package marketdata

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/foliopilot/foliopilot/internal/errs"
	"github.com/foliopilot/foliopilot/internal/symbols"
)

// BatchFailure records a per-symbol error inside a batch.
type BatchFailure struct {
	Symbol string `json:"symbol"`
	Error  string `json:"error"`
}

// BatchResult is the merged outcome of a batch quote request.
type BatchResult struct {
	Data            map[string]*QuoteEntry `json:"data"`
	CacheHits       []string               `json:"cacheHits,omitempty"`
	PartialFailures []BatchFailure         `json:"partialFailures,omitempty"`
}

// BatchService fans a symbol list out over the quote service. Fresh
// cache hits are served without provider calls; failed fetches fall
// back to stale cache entries marked as such.
type BatchService struct {
	quotes     *QuoteService
	maxSymbols int
	log        zerolog.Logger
}

// NewBatchService creates the batch orchestrator. maxSymbols <= 0
// means unlimited.
func NewBatchService(quotes *QuoteService, maxSymbols int, log zerolog.Logger) *BatchService {
	return &BatchService{
		quotes:     quotes,
		maxSymbols: maxSymbols,
		log:        log.With().Str("component", "batch").Logger(),
	}
}

// NormalizeSymbols canonicalizes and deduplicates the request list,
// preserving first-seen order. The count feeds the quota pre-check.
func (s *BatchService) NormalizeSymbols(raw []string) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	for _, r := range raw {
		c := symbols.Normalize(r)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, errs.New(errs.Validation, "at least one symbol is required")
	}
	if s.maxSymbols > 0 && len(out) > s.maxSymbols {
		return nil, errs.New(errs.Validation, "too many symbols: %d exceeds limit %d", len(out), s.maxSymbols)
	}
	return out, nil
}

// GetQuoteBatch resolves each canonical symbol. Results merge by symbol
// key, never by completion order. An all-miss batch surfaces the first
// provider error, or NotFound when every symbol was simply unknown.
func (s *BatchService) GetQuoteBatch(ctx context.Context, canonicals []string) (*BatchResult, error) {
	res := &BatchResult{Data: make(map[string]*QuoteEntry, len(canonicals))}

	type pending struct {
		symbol string
		stale  *QuoteEntry
	}
	var toFetch []pending

	for _, sym := range canonicals {
		if entry, ok := s.quotes.Cache().Get(sym); ok {
			if entry.Fresh(s.quotes.Cache().TTL()) {
				res.Data[sym] = entry.Value
				res.CacheHits = append(res.CacheHits, sym)
				continue
			}
			toFetch = append(toFetch, pending{symbol: sym, stale: entry.Value})
			continue
		}
		toFetch = append(toFetch, pending{symbol: sym})
	}

	type outcome struct {
		symbol string
		entry  *QuoteEntry
		err    error
	}
	outcomes := make([]outcome, len(toFetch))

	var wg sync.WaitGroup
	for i, p := range toFetch {
		wg.Add(1)
		go func(i int, p pending) {
			defer wg.Done()
			entry, err := s.quotes.GetQuote(ctx, p.symbol, QuoteOptions{})
			outcomes[i] = outcome{symbol: p.symbol, entry: entry, err: err}
		}(i, p)
	}
	wg.Wait()

	var firstErr error
	for i, o := range outcomes {
		if o.err == nil && o.entry != nil {
			res.Data[o.symbol] = o.entry
			continue
		}
		if o.err != nil && firstErr == nil && !errs.Is(o.err, errs.NotFound) {
			firstErr = o.err
		}
		if stale := toFetch[i].stale; stale != nil {
			cp := *stale
			cp.Stale = true
			res.Data[o.symbol] = &cp
		}
		if o.err != nil {
			res.PartialFailures = append(res.PartialFailures, BatchFailure{
				Symbol: o.symbol,
				Error:  errs.Sanitize(o.err.Error()),
			})
		}
	}
	sort.Slice(res.PartialFailures, func(i, j int) bool {
		return res.PartialFailures[i].Symbol < res.PartialFailures[j].Symbol
	})

	if len(res.Data) == 0 {
		if firstErr != nil {
			return nil, errs.Wrap(errs.Provider, firstErr, "all symbols failed: %s", errs.Sanitize(firstErr.Error()))
		}
		return nil, errs.New(errs.NotFound, "no quotes found")
	}
	return res, nil
}
