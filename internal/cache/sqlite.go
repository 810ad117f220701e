package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the shared cache tier: a single SQLite file multiple
// engine processes can point at. Payloads are stored as JSON, so only
// JSON-representable values survive a round trip; that is what Analyzer
// responses are.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

const cacheSchema = `
CREATE TABLE IF NOT EXISTS analyzer_cache (
	key        TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	stored_at  INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	delivered  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_analyzer_cache_expires ON analyzer_cache(expires_at);
`

// OpenSQLiteStore opens (creating if needed) the shared cache database.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure cache database: %w", err)
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(key Key) (any, bool) {
	var payload string
	var expiresAt int64
	err := s.db.QueryRow(
		"SELECT payload, expires_at FROM analyzer_cache WHERE key = ?", string(key),
	).Scan(&payload, &expiresAt)
	if err != nil {
		if err != sql.ErrNoRows {
			slog.Warn("shared cache read failed", "error", err)
		}
		return nil, false
	}
	if s.now().Unix() >= expiresAt {
		s.Invalidate(key)
		return nil, false
	}
	var value any
	if err := json.Unmarshal([]byte(payload), &value); err != nil {
		slog.Warn("shared cache entry corrupt, dropping", "key", string(key), "error", err)
		s.Invalidate(key)
		return nil, false
	}
	return value, true
}

func (s *SQLiteStore) Set(key Key, value any, ttl time.Duration) {
	payload, err := json.Marshal(value)
	if err != nil {
		slog.Warn("shared cache set skipped, payload not serializable", "error", err)
		return
	}
	now := s.now()
	_, err = s.db.Exec(`
		INSERT INTO analyzer_cache (key, payload, stored_at, expires_at, delivered)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			stored_at = excluded.stored_at,
			expires_at = excluded.expires_at,
			delivered = 0`,
		string(key), string(payload), now.Unix(), now.Add(ttl).Unix())
	if err != nil {
		slog.Warn("shared cache write failed", "error", err)
		return
	}
	s.sweep()
}

func (s *SQLiteStore) Invalidate(key Key) {
	if _, err := s.db.Exec("DELETE FROM analyzer_cache WHERE key = ?", string(key)); err != nil {
		slog.Warn("shared cache invalidate failed", "error", err)
	}
}

func (s *SQLiteStore) MarkDelivered(keys []Key) {
	for _, key := range keys {
		if _, err := s.db.Exec("UPDATE analyzer_cache SET delivered = 1 WHERE key = ?", string(key)); err != nil {
			slog.Warn("shared cache mark-delivered failed", "error", err)
		}
	}
}

// sweep drops expired rows. Delivered rows stay until expiry so other
// processes can still reuse them.
func (s *SQLiteStore) sweep() {
	if _, err := s.db.Exec("DELETE FROM analyzer_cache WHERE expires_at <= ?", s.now().Unix()); err != nil {
		slog.Warn("shared cache sweep failed", "error", err)
	}
}
