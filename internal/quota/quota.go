// Package quota enforces per-user monthly usage limits. Counters are
// opaque transactional resources: reads are advisory pre-checks, and
// Consume re-validates inside the store transaction so concurrent
// consumers can never admit past the limit.
package quota

import (
	"context"
	"time"

	"github.com/foliopilot/foliopilot/internal/errs"
)

// Usage is one user's counters for a UTC-month period.
type Usage struct {
	UserID        string    `json:"userId"`
	PeriodStart   time.Time `json:"periodStart"`
	PeriodEnd     time.Time `json:"periodEnd"`
	LLMCalls      int       `json:"llmCalls"`
	PriceRequests int       `json:"priceRequests"`
	Uploads       int       `json:"uploads"`
}

// Limits caps each counter for a tier. Zero means unlimited.
type Limits struct {
	Insights int
	Quotes   int
	Uploads  int
}

// Delta is one consumption step. Deltas are never negative; counters
// only grow within a period.
type Delta struct {
	Insights int
	Quotes   int
	Uploads  int
}

// Store persists usage counters. Consume must be transactional.
type Store interface {
	Read(ctx context.Context, userID string, periodStart time.Time) (Usage, error)
	Consume(ctx context.Context, userID string, periodStart time.Time, d Delta, limits Limits) (Usage, error)
}

// TierLimits returns the caps for a subscription tier.
func TierLimits(tier string) Limits {
	switch tier {
	case "pro":
		return Limits{Insights: 1000, Quotes: 20000, Uploads: 200}
	case "plus":
		return Limits{Insights: 200, Quotes: 5000, Uploads: 50}
	default: // free
		return Limits{Insights: 25, Quotes: 500, Uploads: 10}
	}
}

// PeriodStart buckets an instant to the first of its UTC month.
func PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// PeriodEnd returns the first instant of the following UTC month.
func PeriodEnd(periodStart time.Time) time.Time {
	return periodStart.AddDate(0, 1, 0)
}

// Gate fronts a store with pre-check and consume operations for the
// current period.
type Gate struct {
	store Store
}

// NewGate wraps a store.
func NewGate(store Store) *Gate { return &Gate{store: store} }

// Check verifies that consuming d now would stay within limits. It is
// advisory; Consume re-checks transactionally.
func (g *Gate) Check(ctx context.Context, userID, tier string, d Delta) error {
	limits := TierLimits(tier)
	usage, err := g.store.Read(ctx, userID, PeriodStart(time.Now()))
	if err != nil {
		return err
	}
	return exceeds(usage, d, limits)
}

// Consume applies d against the user's current period.
func (g *Gate) Consume(ctx context.Context, userID, tier string, d Delta) (Usage, error) {
	return g.store.Consume(ctx, userID, PeriodStart(time.Now()), d, TierLimits(tier))
}

// Read returns the user's counters for the current period.
func (g *Gate) Read(ctx context.Context, userID string) (Usage, error) {
	return g.store.Read(ctx, userID, PeriodStart(time.Now()))
}

// exceeds classifies which counter a delta would break.
func exceeds(u Usage, d Delta, limits Limits) error {
	if limits.Insights > 0 && u.LLMCalls+d.Insights > limits.Insights {
		return errs.New(errs.QuotaExceeded, "AI insight quota exceeded")
	}
	if limits.Quotes > 0 && u.PriceRequests+d.Quotes > limits.Quotes {
		return errs.New(errs.QuotaExceeded, "Price data quota exceeded")
	}
	if limits.Uploads > 0 && u.Uploads+d.Uploads > limits.Uploads {
		return errs.New(errs.QuotaExceeded, "Upload quota exceeded")
	}
	return nil
}
