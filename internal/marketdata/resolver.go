package marketdata

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/foliopilot/foliopilot/internal/cache"
	"github.com/foliopilot/foliopilot/internal/errs"
	"github.com/foliopilot/foliopilot/internal/symbols"
)

// Candidate seed scores. Directory and previous-success mappings are
// tried before search hits; name agreement boosts search results.
const (
	scoreDirectory    = 100
	scoreMappingCache = 80
	scoreVariant      = 40
	scoreSearchBase   = 60
	bonusExactName    = 80
	bonusSubstring    = 40
	bonusDirectory    = 40
	maxCandidates     = 8
)

// Resolution is the outcome of resolving a canonical ticker against
// the chart provider.
type Resolution struct {
	Entry       *QuoteEntry
	Candidates  []Candidate
	RateLimited bool
}

// Resolver maps canonical tickers to exchange-qualified external
// symbols by trying ranked candidates against the chart provider.
// Successful mappings are remembered so later lookups start there.
type Resolver struct {
	chart   *ChartProvider
	search  *SearchProvider
	mapping *cache.Cache[string]
	log     zerolog.Logger
}

// NewResolver creates the resolver with its mapping cache. Mappings
// have no TTL; they live until evicted by capacity.
func NewResolver(chart *ChartProvider, search *SearchProvider, log zerolog.Logger) *Resolver {
	return &Resolver{
		chart:   chart,
		search:  search,
		mapping: cache.New[string](0, 500),
		log:     log.With().Str("component", "resolver").Logger(),
	}
}

// MappedSymbol returns the last successful external mapping, if any.
func (r *Resolver) MappedSymbol(canonical string) (string, bool) {
	e, ok := r.mapping.Get(canonical)
	if !ok {
		return "", false
	}
	return e.Value, true
}

type scoredCandidate struct {
	symbol   string
	score    int
	order    int
	name     string
	exchange string
}

// Resolve builds the scored candidate set and walks it in descending
// score order until the chart provider yields a well-formed entry.
// Ties break on insertion order, which biases toward the directory and
// mapping cache over search results. A rate-limit stops the walk.
func (r *Resolver) Resolve(ctx context.Context, canonical, expectedName string) (Resolution, error) {
	cands := r.buildCandidates(ctx, canonical, expectedName)

	res := Resolution{Candidates: reportable(cands)}
	for _, c := range cands {
		chart, err := r.chart.FetchChart(ctx, c.symbol, "1d", "1d")
		if err != nil {
			if errs.Is(err, errs.RateLimit) {
				res.RateLimited = true
				return res, nil
			}
			r.log.Debug().Err(err).Str("candidate", c.symbol).Msg("candidate fetch failed")
			continue
		}
		if chart == nil || !validPrice(chart.MarketPrice) {
			continue
		}

		entry := entryFromChart(canonical, chart)
		r.mapping.Put(canonical, chart.Symbol)
		res.Entry = entry
		return res, nil
	}
	return res, nil
}

// buildCandidates seeds from the directory, the mapping cache, and
// syntactic variants, then merges search hits with name-match bonuses.
func (r *Resolver) buildCandidates(ctx context.Context, canonical, expectedName string) []scoredCandidate {
	var cands []scoredCandidate
	index := map[string]int{}
	order := 0

	add := func(symbol string, score int, name, exchange string) {
		symbol = strings.ToUpper(symbol)
		if symbol == "" {
			return
		}
		if i, ok := index[symbol]; ok {
			if score > cands[i].score {
				cands[i].score = score
			}
			if cands[i].name == "" {
				cands[i].name = name
			}
			if cands[i].exchange == "" {
				cands[i].exchange = exchange
			}
			return
		}
		index[symbol] = len(cands)
		cands = append(cands, scoredCandidate{symbol: symbol, score: score, order: order, name: name, exchange: exchange})
		order++
	}

	dirName := symbols.DirectoryName(canonical)
	if meta, ok := symbols.Lookup(canonical); ok {
		add(meta.External, scoreDirectory, meta.Name, "")
	}
	if mapped, ok := r.MappedSymbol(canonical); ok {
		add(mapped, scoreMappingCache, "", "")
	}
	for _, v := range symbols.Variants(canonical) {
		add(v, scoreVariant, "", "")
	}

	for rank, hit := range r.search.Search(ctx, canonical) {
		score := scoreSearchBase - rank
		if expectedName != "" {
			switch {
			case strings.EqualFold(hit.Name, expectedName):
				score += bonusExactName
			case containsFold(hit.Name, expectedName) || containsFold(expectedName, hit.Name):
				score += bonusSubstring
			}
		}
		if dirName != "" && strings.EqualFold(hit.Name, dirName) {
			score += bonusDirectory
		}
		add(hit.Symbol, score, hit.Name, hit.Exchange)
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].order < cands[j].order
	})
	return cands
}

// reportable trims the candidate set for client disambiguation.
func reportable(cands []scoredCandidate) []Candidate {
	n := len(cands)
	if n > maxCandidates {
		n = maxCandidates
	}
	out := make([]Candidate, 0, n)
	for _, c := range cands[:n] {
		out = append(out, Candidate{Symbol: c.symbol, Name: c.name, Exchange: c.exchange})
	}
	return out
}

// entryFromChart builds a quote entry from chart meta.
func entryFromChart(canonical string, chart *Chart) *QuoteEntry {
	name := symbols.DirectoryName(canonical)
	class := ""
	if meta, ok := symbols.Lookup(canonical); ok {
		class = string(meta.Class)
	} else if chart.InstrumentType != "" {
		class = strings.ToLower(chart.InstrumentType)
	}

	ts := chart.MarketTime
	if ts.IsZero() {
		ts = timeNow().UTC()
	}
	return &QuoteEntry{
		Source:        SourcePrimaryChart,
		Price:         chart.MarketPrice,
		PreviousClose: chart.PreviousClose,
		Open:          chart.Open,
		Currency:      chart.Currency,
		Exchange:      chart.Exchange,
		Timestamp:     ts,
		Meta: QuoteMeta{
			Name:           name,
			Type:           class,
			ExternalSymbol: chart.Symbol,
		},
		FetchedAt: timeNow(),
	}
}

func containsFold(haystack, needle string) bool {
	if haystack == "" || needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
