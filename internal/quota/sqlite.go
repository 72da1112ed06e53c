package quota

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists usage counters in a local sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS usage_counters (
	user_id        TEXT    NOT NULL,
	period_start   TEXT    NOT NULL,
	period_end     TEXT    NOT NULL,
	llm_calls      INTEGER NOT NULL DEFAULT 0,
	price_requests INTEGER NOT NULL DEFAULT 0,
	uploads        INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, period_start)
);`

// OpenSQLite opens (and migrates) the counter database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// Serialized writes; the counter workload is tiny.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage_counters: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Read returns the counters for a user and period, zeroed when the row
// does not exist yet.
func (s *SQLiteStore) Read(ctx context.Context, userID string, periodStart time.Time) (Usage, error) {
	u := Usage{
		UserID:      userID,
		PeriodStart: periodStart,
		PeriodEnd:   PeriodEnd(periodStart),
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT llm_calls, price_requests, uploads FROM usage_counters WHERE user_id = ? AND period_start = ?`,
		userID, periodStart.Format(time.RFC3339))
	err := row.Scan(&u.LLMCalls, &u.PriceRequests, &u.Uploads)
	if err == sql.ErrNoRows {
		return u, nil
	}
	if err != nil {
		return Usage{}, fmt.Errorf("read usage for %s: %w", userID, err)
	}
	return u, nil
}

// Consume applies the delta inside a transaction, re-checking the
// limits against the row as it exists at commit time.
func (s *SQLiteStore) Consume(ctx context.Context, userID string, periodStart time.Time, d Delta, limits Limits) (Usage, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Usage{}, fmt.Errorf("begin consume tx: %w", err)
	}
	defer tx.Rollback()

	start := periodStart.Format(time.RFC3339)
	end := PeriodEnd(periodStart).Format(time.RFC3339)

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO usage_counters (user_id, period_start, period_end) VALUES (?, ?, ?)`,
		userID, start, end); err != nil {
		return Usage{}, fmt.Errorf("init usage row: %w", err)
	}

	u := Usage{UserID: userID, PeriodStart: periodStart, PeriodEnd: PeriodEnd(periodStart)}
	row := tx.QueryRowContext(ctx,
		`SELECT llm_calls, price_requests, uploads FROM usage_counters WHERE user_id = ? AND period_start = ?`,
		userID, start)
	if err := row.Scan(&u.LLMCalls, &u.PriceRequests, &u.Uploads); err != nil {
		return Usage{}, fmt.Errorf("read usage row: %w", err)
	}

	if err := exceeds(u, d, limits); err != nil {
		return Usage{}, err
	}

	u.LLMCalls += d.Insights
	u.PriceRequests += d.Quotes
	u.Uploads += d.Uploads

	if _, err := tx.ExecContext(ctx,
		`UPDATE usage_counters SET llm_calls = ?, price_requests = ?, uploads = ? WHERE user_id = ? AND period_start = ?`,
		u.LLMCalls, u.PriceRequests, u.Uploads, userID, start); err != nil {
		return Usage{}, fmt.Errorf("update usage row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Usage{}, fmt.Errorf("commit consume tx: %w", err)
	}
	return u, nil
}
