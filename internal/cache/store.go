package cache

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/database"
)

// Schema for the cache table. One row per key; data is a msgpack blob.
const Schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	cache_key  TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	cached_at  INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at);
`

// row is a raw cache entry as stored.
type row struct {
	Key      string
	Data     []byte
	CachedAt time.Time
}

// Store is the sqlite persistence layer underneath FreshnessCache.
type Store struct {
	db *database.DB
}

// NewStore creates the store and ensures the schema exists.
func NewStore(db *database.DB) (*Store, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("create cache schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Put upserts one entry. expiresAt is the hard max-stale deadline used by
// DeleteExpired, not the freshness TTL.
func (s *Store) Put(key string, data []byte, cachedAt, expiresAt time.Time) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO cache_entries (cache_key, data, cached_at, expires_at) VALUES (?, ?, ?, ?)",
		key, data, cachedAt.Unix(), expiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("store cache entry %s: %w", key, err)
	}
	return nil
}

// GetRow returns the entry regardless of age. Returns nil, nil when absent.
func (s *Store) GetRow(key string) (*row, error) {
	var data []byte
	var cachedAt int64
	err := s.db.QueryRow(
		"SELECT data, cached_at FROM cache_entries WHERE cache_key = ?", key,
	).Scan(&data, &cachedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache entry %s: %w", key, err)
	}
	return &row{Key: key, Data: data, CachedAt: time.Unix(cachedAt, 0)}, nil
}

// Delete removes one entry.
func (s *Store) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM cache_entries WHERE cache_key = ?", key); err != nil {
		return fmt.Errorf("delete cache entry %s: %w", key, err)
	}
	return nil
}

// DeleteByPrefix removes all entries whose key starts with prefix and
// returns the number removed. LIKE wildcards in the prefix are escaped so
// keys match literally.
func (s *Store) DeleteByPrefix(prefix string) (int64, error) {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	result, err := s.db.Exec(
		`DELETE FROM cache_entries WHERE cache_key LIKE ? ESCAPE '\'`, escaped+"%",
	)
	if err != nil {
		return 0, fmt.Errorf("delete cache entries by prefix %s: %w", prefix, err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected for prefix %s: %w", prefix, err)
	}
	return deleted, nil
}

// DeleteExpired removes rows past their hard max-stale deadline and
// returns the number removed.
func (s *Store) DeleteExpired() (int64, error) {
	result, err := s.db.Exec("DELETE FROM cache_entries WHERE expires_at < ?", time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("delete expired cache entries: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected for expired cleanup: %w", err)
	}
	return deleted, nil
}

// Count returns the number of entries currently stored.
func (s *Store) Count() (int64, error) {
	var n int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM cache_entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return n, nil
}
