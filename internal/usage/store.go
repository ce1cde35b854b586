package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS usage_hourly (
	key_id                TEXT    NOT NULL,
	model                 TEXT    NOT NULL,
	hour                  TEXT    NOT NULL,
	requests              INTEGER NOT NULL DEFAULT 0,
	input_tokens          INTEGER NOT NULL DEFAULT 0,
	output_tokens         INTEGER NOT NULL DEFAULT 0,
	cache_read_tokens     INTEGER NOT NULL DEFAULT 0,
	cache_creation_tokens INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (key_id, model, hour)
);
CREATE INDEX IF NOT EXISTS idx_usage_hourly_hour ON usage_hourly(hour);
`

// Store persists hourly usage aggregates in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the usage database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	// modernc sqlite is happiest with a single writer connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init usage schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Add folds one request's usage into the aggregate row for the key, model
// and current hour.
func (s *Store) Add(ctx context.Context, keyID string, rec Record, at time.Time) error {
	hour := at.UTC().Format("2006-01-02T15")
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_hourly
			(key_id, model, hour, requests, input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens)
		VALUES (?, ?, ?, 1, ?, ?, ?, ?)
		ON CONFLICT(key_id, model, hour) DO UPDATE SET
			requests              = requests + 1,
			input_tokens          = input_tokens + excluded.input_tokens,
			output_tokens         = output_tokens + excluded.output_tokens,
			cache_read_tokens     = cache_read_tokens + excluded.cache_read_tokens,
			cache_creation_tokens = cache_creation_tokens + excluded.cache_creation_tokens`,
		keyID, rec.Model, hour,
		rec.InputTokens, rec.OutputTokens, rec.CacheReadTokens, rec.CacheCreationTokens)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// HourlyRow is one aggregate row from the usage table.
type HourlyRow struct {
	KeyID               string `json:"key_id"`
	Model               string `json:"model"`
	Hour                string `json:"hour"`
	Requests            int64  `json:"requests"`
	InputTokens         int64  `json:"input_tokens"`
	OutputTokens        int64  `json:"output_tokens"`
	CacheReadTokens     int64  `json:"cache_read_tokens"`
	CacheCreationTokens int64  `json:"cache_creation_tokens"`
}

// Since returns all aggregate rows at or after the given hour, newest first.
func (s *Store) Since(ctx context.Context, from time.Time) ([]HourlyRow, error) {
	hour := from.UTC().Format("2006-01-02T15")
	rows, err := s.db.QueryContext(ctx, `
		SELECT key_id, model, hour, requests, input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens
		FROM usage_hourly WHERE hour >= ? ORDER BY hour DESC, key_id, model`, hour)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var out []HourlyRow
	for rows.Next() {
		var r HourlyRow
		if err := rows.Scan(&r.KeyID, &r.Model, &r.Hour, &r.Requests,
			&r.InputTokens, &r.OutputTokens, &r.CacheReadTokens, &r.CacheCreationTokens); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
