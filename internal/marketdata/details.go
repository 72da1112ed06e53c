package marketdata

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/foliopilot/foliopilot/internal/errs"
	"github.com/foliopilot/foliopilot/internal/symbols"
)

// imputedHourLocal is the local hour assumed when a date arrives
// without a time.
const imputedHourLocal = 16

var timePattern = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)

// DetailsRequest is the input to GetPriceDetails.
type DetailsRequest struct {
	Symbol       string
	Date         string // YYYY-MM-DD, optional
	Time         string // HH:MM, optional
	PreferOracle bool
	ExpectedName string
}

// Details is the combined current + historical price answer.
type Details struct {
	Symbol                   string     `json:"symbol"`
	Name                     string     `json:"name,omitempty"`
	Type                     string     `json:"type,omitempty"`
	CurrentPrice             float64    `json:"current_price"`
	CurrentPriceTimestamp    time.Time  `json:"current_price_timestamp"`
	HistoricalPrice          float64    `json:"historical_price,omitempty"`
	HistoricalPriceDate      string     `json:"historical_price_date,omitempty"`
	HistoricalPriceTimestamp *time.Time `json:"historical_price_timestamp,omitempty"`
	CurrentOpen              float64    `json:"current_open,omitempty"`
	PreviousClose            float64    `json:"previous_close,omitempty"`
	Provider                 string     `json:"provider"`
	Metadata                 QuoteMeta  `json:"metadata"`
}

// DetailsService computes current and historical prices for a
// (symbol, date, time) triple through the ordered fallback chain.
type DetailsService struct {
	quotes           *QuoteService
	history          *HistoryService
	csv              *CSVProvider
	oracle           *OracleProvider
	intradayLookback time.Duration
	log              zerolog.Logger
}

// NewDetailsService wires the orchestrator. oracle may be nil.
func NewDetailsService(quotes *QuoteService, history *HistoryService, csv *CSVProvider, oracle *OracleProvider, intradayLookback time.Duration, log zerolog.Logger) *DetailsService {
	return &DetailsService{
		quotes:           quotes,
		history:          history,
		csv:              csv,
		oracle:           oracle,
		intradayLookback: intradayLookback,
		log:              log.With().Str("component", "details").Logger(),
	}
}

// GetPriceDetails validates the request, fetches the current price, and
// when a target date is present walks the historical fallbacks until
// one yields a finite value.
func (s *DetailsService) GetPriceDetails(ctx context.Context, req DetailsRequest) (*Details, error) {
	canonical := symbols.Normalize(req.Symbol)
	if canonical == "" {
		return nil, errs.New(errs.Validation, "symbol is required")
	}

	targetDt, hasTime, err := buildTarget(req.Date, req.Time)
	if err != nil {
		return nil, err
	}

	current, err := s.quotes.GetQuote(ctx, canonical, QuoteOptions{
		PreferOracle: req.PreferOracle,
		ExpectedName: req.ExpectedName,
	})
	if err != nil && !errs.Is(err, errs.NotFound) && !errs.Is(err, errs.RateLimit) {
		return nil, err
	}
	if current == nil {
		if entry := s.csvEntry(ctx, canonical); entry != nil {
			current = entry
		}
	}
	if current == nil {
		return nil, errs.New(errs.NotFound, "no price data for %s", canonical)
	}

	d := &Details{
		Symbol:                canonical,
		Name:                  current.Meta.Name,
		Type:                  current.Meta.Type,
		CurrentPrice:          current.Price,
		CurrentPriceTimestamp: current.Timestamp,
		CurrentOpen:           current.Open,
		PreviousClose:         current.PreviousClose,
		Provider:              current.Source,
		Metadata:              current.Meta,
	}

	if !targetDt.IsZero() {
		s.fillHistorical(ctx, d, canonical, req, targetDt, hasTime, current)
	}
	return d, nil
}

// buildTarget validates date/time and constructs the target instant.
// A date without a time is imputed 16:00 local.
func buildTarget(date, hhmm string) (time.Time, bool, error) {
	if date == "" {
		if hhmm != "" {
			return time.Time{}, false, errs.New(errs.Validation, "time requires a date")
		}
		return time.Time{}, false, nil
	}
	d, err := time.ParseInLocation("2006-01-02", date, time.Local)
	if err != nil {
		return time.Time{}, false, errs.New(errs.Validation, "invalid date %q, expected YYYY-MM-DD", date)
	}

	hour, minute := imputedHourLocal, 0
	hasTime := false
	if hhmm != "" {
		m := timePattern.FindStringSubmatch(hhmm)
		if m == nil {
			return time.Time{}, false, errs.New(errs.Validation, "invalid time %q, expected HH:MM", hhmm)
		}
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
		hasTime = true
	}
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, time.Local), hasTime, nil
}

// fillHistorical tries the fallbacks of the design order until one
// yields a usable bar: intraday within the lookback, primary daily,
// CSV daily, oracle when preferred, range-selected chart, and finally
// the current price itself.
func (s *DetailsService) fillHistorical(ctx context.Context, d *Details, canonical string, req DetailsRequest, targetDt time.Time, hasTime bool, current *QuoteEntry) {
	diff := timeNow().Sub(targetDt)
	if diff < 0 {
		diff = -diff
	}

	if hasTime && diff <= s.intradayLookback {
		if series, err := s.history.GetIntradaySeries(ctx, canonical); err == nil {
			if pt, ok := FindClosest(series, targetDt); ok && validPrice(pt.Close) {
				s.setHistorical(d, pt.Close, req.Date, pt.Timestamp)
				return
			}
		} else {
			s.log.Debug().Err(err).Str("symbol", canonical).Msg("intraday lookup failed")
		}
	}

	if series, err := s.history.GetDailySeries(ctx, canonical); err == nil {
		if pt, ok := FindClosest(series, targetDt); ok && validPrice(pt.Close) {
			s.setHistorical(d, pt.Close, req.Date, pt.Timestamp)
			return
		}
	} else {
		s.log.Debug().Err(err).Str("symbol", canonical).Msg("daily lookup failed")
	}

	if daily, err := s.csv.FetchDailySeries(ctx, canonical); err == nil {
		if pt, ok := FindClosest(DailyToSeries(daily), targetDt); ok && validPrice(pt.Close) {
			s.setHistorical(d, pt.Close, req.Date, pt.Timestamp)
			return
		}
	}

	if req.PreferOracle && s.oracle != nil {
		if entry, err := s.oracle.HistoricalPrice(ctx, canonical, d.Name, req.Date); err == nil {
			s.setHistorical(d, entry.Price, req.Date, entry.Timestamp)
			return
		}
	}

	rng, interval := selectRange(diff, hasTime)
	if series, err := s.history.RangedSeries(ctx, canonical, rng, interval); err == nil {
		if pt, ok := FindClosest(series, targetDt); ok && validPrice(pt.Close) {
			s.setHistorical(d, pt.Close, req.Date, pt.Timestamp)
			return
		}
	}

	// Nothing older was found; answer with the current price so the
	// caller still gets a value for the requested date.
	d.HistoricalPrice = current.Price
	d.HistoricalPriceDate = req.Date
}

func (s *DetailsService) setHistorical(d *Details, price float64, date string, ts time.Time) {
	d.HistoricalPrice = price
	d.HistoricalPriceDate = date
	t := ts.UTC()
	d.HistoricalPriceTimestamp = &t
}

// csvEntry synthesizes a current-price entry from the CSV daily series.
func (s *DetailsService) csvEntry(ctx context.Context, canonical string) *QuoteEntry {
	return s.quotes.fromCSV(ctx, canonical)
}

// selectRange picks the chart range and interval for the distance to
// the target.
func selectRange(diff time.Duration, hasTime bool) (string, string) {
	const day = 24 * time.Hour
	switch {
	case hasTime && diff <= 5*day:
		return "5d", "5m"
	case diff <= 30*day:
		return "1mo", "1d"
	case diff <= 365*day:
		return "1y", "1d"
	case diff <= 5*365*day:
		return "5y", "1wk"
	default:
		return "max", "1mo"
	}
}
