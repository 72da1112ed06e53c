package quota

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps counters in process memory. It backs tests and
// deployments that run without a database file.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[memKey]Usage
}

type memKey struct {
	userID string
	start  int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[memKey]Usage)}
}

func (s *MemoryStore) Read(_ context.Context, userID string, periodStart time.Time) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.rows[memKey{userID, periodStart.Unix()}]; ok {
		return u, nil
	}
	return Usage{
		UserID:      userID,
		PeriodStart: periodStart,
		PeriodEnd:   PeriodEnd(periodStart),
	}, nil
}

func (s *MemoryStore) Consume(_ context.Context, userID string, periodStart time.Time, d Delta, limits Limits) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memKey{userID, periodStart.Unix()}
	u, ok := s.rows[key]
	if !ok {
		u = Usage{
			UserID:      userID,
			PeriodStart: periodStart,
			PeriodEnd:   PeriodEnd(periodStart),
		}
	}
	if err := exceeds(u, d, limits); err != nil {
		return Usage{}, err
	}
	u.LLMCalls += d.Insights
	u.PriceRequests += d.Quotes
	u.Uploads += d.Uploads
	s.rows[key] = u
	return u, nil
}
