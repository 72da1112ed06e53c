package marketdata

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/foliopilot/foliopilot/internal/errs"
	"github.com/foliopilot/foliopilot/internal/httpx"
	"github.com/foliopilot/foliopilot/internal/symbols"
)

// CSVProvider fetches daily bars from the secondary CSV source. Rows
// arrive as date,open,high,low,close,volume with a header line.
type CSVProvider struct {
	client  *httpx.Client
	baseURL string
	log     zerolog.Logger
}

// NewCSVProvider creates the CSV daily-bar provider.
func NewCSVProvider(client *httpx.Client, baseURL string, log zerolog.Logger) *CSVProvider {
	return &CSVProvider{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log.With().Str("provider", "csv").Logger(),
	}
}

// FetchDailySeries downloads and parses the daily close series for a
// canonical ticker, keeping only rows with a finite positive close.
// The result is sorted ascending by date.
func (p *CSVProvider) FetchDailySeries(ctx context.Context, canonical string) ([]DailyPoint, error) {
	sym := symbols.CSVSymbol(canonical)
	if sym == "" {
		return nil, errs.New(errs.Validation, "cannot derive CSV symbol from %q", canonical)
	}

	u := fmt.Sprintf("%s/q/d/l/?s=%s&i=d", p.baseURL, sym)
	body, err := p.client.FetchText(ctx, u, httpx.Options{Deadline: 10 * time.Second})
	if err != nil {
		return nil, err
	}

	series := parseDailyCSV(body)
	if len(series) == 0 {
		return nil, errs.New(errs.NotFound, "no daily bars for %s", canonical)
	}
	return series, nil
}

// parseDailyCSV decodes the body, discarding the header and any row
// whose close does not parse to a usable price.
func parseDailyCSV(body string) []DailyPoint {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	out := make([]DailyPoint, 0, len(lines))
	for i, line := range lines {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 5 {
			continue
		}
		date := strings.TrimSpace(fields[0])
		if _, err := time.Parse("2006-01-02", date); err != nil {
			continue
		}
		closePx, err := strconv.ParseFloat(strings.TrimSpace(fields[4]), 64)
		if err != nil || !validPrice(closePx) {
			continue
		}
		out = append(out, DailyPoint{Date: date, Close: closePx})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}
