package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliopilot/foliopilot/internal/errs"
)

func TestPeriodBucketing(t *testing.T) {
	mid := time.Date(2024, 5, 17, 13, 45, 0, 0, time.FixedZone("CEST", 2*3600))
	start := PeriodStart(mid)

	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), PeriodEnd(start))
}

func TestTierLimits(t *testing.T) {
	assert.Equal(t, Limits{Insights: 1000, Quotes: 20000, Uploads: 200}, TierLimits("pro"))
	assert.Equal(t, Limits{Insights: 200, Quotes: 5000, Uploads: 50}, TierLimits("plus"))
	assert.Equal(t, Limits{Insights: 25, Quotes: 500, Uploads: 10}, TierLimits("free"))
	assert.Equal(t, TierLimits("free"), TierLimits("unknown-tier"))
}

func TestGateCheckAndConsume(t *testing.T) {
	g := NewGate(NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, g.Check(ctx, "u1", "free", Delta{Quotes: 500}))

	u, err := g.Consume(ctx, "u1", "free", Delta{Quotes: 499})
	require.NoError(t, err)
	assert.Equal(t, 499, u.PriceRequests)

	// One left: a three-symbol batch must be refused before any work.
	err = g.Check(ctx, "u1", "free", Delta{Quotes: 3})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.QuotaExceeded))
	assert.Equal(t, "Price data quota exceeded", err.Error())

	u, err = g.Consume(ctx, "u1", "free", Delta{Quotes: 1})
	require.NoError(t, err)
	assert.Equal(t, 500, u.PriceRequests)

	_, err = g.Consume(ctx, "u1", "free", Delta{Quotes: 1})
	assert.True(t, errs.Is(err, errs.QuotaExceeded))
}

func TestExceedsPerCounterMessages(t *testing.T) {
	limits := Limits{Insights: 1, Quotes: 1, Uploads: 1}

	err := exceeds(Usage{LLMCalls: 1}, Delta{Insights: 1}, limits)
	require.Error(t, err)
	assert.Equal(t, "AI insight quota exceeded", err.Error())

	err = exceeds(Usage{Uploads: 1}, Delta{Uploads: 1}, limits)
	require.Error(t, err)
	assert.Equal(t, "Upload quota exceeded", err.Error())
}

func TestZeroLimitMeansUnlimited(t *testing.T) {
	assert.NoError(t, exceeds(Usage{LLMCalls: 1 << 20}, Delta{Insights: 1}, Limits{}))
}

func TestConsumeNeverAdmitsPastLimitConcurrently(t *testing.T) {
	g := NewGate(NewMemoryStore())
	ctx := context.Background()

	const workers = 50
	var admitted int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Consume(ctx, "u1", "free", Delta{Insights: 1}); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(25), admitted, "free tier admits exactly its insight limit")

	u, err := g.Read(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 25, u.LLMCalls)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store, err := OpenSQLite(t.TempDir() + "/quota.db")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	start := PeriodStart(time.Now())

	u, err := store.Read(ctx, "u1", start)
	require.NoError(t, err)
	assert.Zero(t, u.PriceRequests)
	assert.Equal(t, PeriodEnd(start), u.PeriodEnd)

	u, err = store.Consume(ctx, "u1", start, Delta{Insights: 2, Quotes: 5, Uploads: 1}, TierLimits("free"))
	require.NoError(t, err)
	assert.Equal(t, 2, u.LLMCalls)
	assert.Equal(t, 5, u.PriceRequests)
	assert.Equal(t, 1, u.Uploads)

	u, err = store.Read(ctx, "u1", start)
	require.NoError(t, err)
	assert.Equal(t, 5, u.PriceRequests)

	// A different period starts from zero.
	next := PeriodEnd(start)
	u, err = store.Read(ctx, "u1", next)
	require.NoError(t, err)
	assert.Zero(t, u.LLMCalls)
}

func TestSQLiteStoreEnforcesLimitInTransaction(t *testing.T) {
	store, err := OpenSQLite(t.TempDir() + "/quota.db")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	start := PeriodStart(time.Now())
	limits := Limits{Uploads: 2}

	_, err = store.Consume(ctx, "u1", start, Delta{Uploads: 2}, limits)
	require.NoError(t, err)

	_, err = store.Consume(ctx, "u1", start, Delta{Uploads: 1}, limits)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.QuotaExceeded))

	u, err := store.Read(ctx, "u1", start)
	require.NoError(t, err)
	assert.Equal(t, 2, u.Uploads, "refused consume must not change counters")
}
