package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/foliopilot/foliopilot/internal/errs"
	"github.com/foliopilot/foliopilot/internal/llm"
)

// oracleSchema constrains the model to a bare price answer.
var oracleSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"price": {"type": "number"},
		"currency": {"type": "string"},
		"date": {"type": "string"}
	},
	"required": ["price", "currency"],
	"additionalProperties": false
}`)

const oracleSystemPrompt = "You are a market data source. Respond with compact JSON only, no prose."

// OracleProvider asks the LLM for a price as a last resort. Answers are
// rejected unless the price is finite and positive.
type OracleProvider struct {
	invoker *llm.Invoker
	log     zerolog.Logger
}

// NewOracleProvider wraps the invocation layer for oracle queries.
func NewOracleProvider(invoker *llm.Invoker, log zerolog.Logger) *OracleProvider {
	return &OracleProvider{invoker: invoker, log: log.With().Str("provider", "oracle").Logger()}
}

type oracleAnswer struct {
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	Date     string  `json:"date"`
}

// CurrentPrice asks for the latest price of a ticker. The timestamp is
// imputed as now.
func (p *OracleProvider) CurrentPrice(ctx context.Context, canonical, name string) (*QuoteEntry, error) {
	prompt := fmt.Sprintf("What is the current market price of %s?", describeSymbol(canonical, name))
	ans, err := p.ask(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return &QuoteEntry{
		Source:    SourceOracle,
		Price:     ans.Price,
		Currency:  ans.Currency,
		Timestamp: time.Now().UTC(),
		Meta:      QuoteMeta{Name: name},
		FetchedAt: time.Now(),
	}, nil
}

// HistoricalPrice asks for the closing price on an ISO date. The
// timestamp is imputed as 16:00 UTC of that date.
func (p *OracleProvider) HistoricalPrice(ctx context.Context, canonical, name, isoDate string) (*QuoteEntry, error) {
	d, err := time.Parse("2006-01-02", isoDate)
	if err != nil {
		return nil, errs.New(errs.Validation, "invalid date %q", isoDate)
	}
	prompt := fmt.Sprintf("What was the closing market price of %s on %s?", describeSymbol(canonical, name), isoDate)
	ans, err := p.ask(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return &QuoteEntry{
		Source:    SourceOracle,
		Price:     ans.Price,
		Currency:  ans.Currency,
		Timestamp: time.Date(d.Year(), d.Month(), d.Day(), dailyBarHourUTC, 0, 0, 0, time.UTC),
		Meta:      QuoteMeta{Name: name},
		FetchedAt: time.Now(),
	}, nil
}

func (p *OracleProvider) ask(ctx context.Context, prompt string) (*oracleAnswer, error) {
	res, err := p.invoker.Invoke(ctx, llm.Request{
		Prompt:         prompt,
		Schema:         oracleSchema,
		SystemOverride: oracleSystemPrompt,
	})
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(res.Value)
	if err != nil {
		return nil, errs.Wrap(errs.BadModelOutput, err, "oracle answer not serializable")
	}
	var ans oracleAnswer
	if err := json.Unmarshal(data, &ans); err != nil {
		return nil, errs.Wrap(errs.BadModelOutput, err, "oracle answer shape mismatch")
	}
	if !validPrice(ans.Price) {
		return nil, errs.New(errs.BadModelOutput, "oracle returned unusable price")
	}
	return &ans, nil
}

func describeSymbol(canonical, name string) string {
	if name != "" {
		return fmt.Sprintf("%s (%s)", name, canonical)
	}
	return canonical
}
