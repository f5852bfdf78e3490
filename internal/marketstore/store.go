// Package marketstore provides durable storage for market data. Unlike the
// cache it never expires rows; it is the last fallback when both cache and
// upstream fail, and the source for staleness-driven refresh.
package marketstore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/database"
	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS order_books (
	region_id  INTEGER NOT NULL,
	type_id    INTEGER NOT NULL,
	data       BLOB NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (region_id, type_id)
);
CREATE INDEX IF NOT EXISTS idx_order_books_updated ON order_books(updated_at);

CREATE TABLE IF NOT EXISTS history_points (
	region_id   INTEGER NOT NULL,
	type_id     INTEGER NOT NULL,
	date        TEXT NOT NULL,
	highest     REAL NOT NULL,
	lowest      REAL NOT NULL,
	average     REAL NOT NULL,
	volume      INTEGER NOT NULL,
	order_count INTEGER NOT NULL,
	PRIMARY KEY (region_id, type_id, date)
);
`

// Record pairs a stored order book with its storage timestamp.
type Record struct {
	Book      *domain.OrderBook
	UpdatedAt time.Time
}

// Store is the sqlite-backed persistent market data store.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// New creates the store and ensures the schema exists.
func New(db *database.DB, log zerolog.Logger) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create market store schema: %w", err)
	}
	return &Store{
		db:  db,
		log: log.With().Str("component", "marketstore").Logger(),
	}, nil
}

// SaveOrderBook upserts the order book for its key.
func (s *Store) SaveOrderBook(book *domain.OrderBook) error {
	data, err := msgpack.Marshal(book)
	if err != nil {
		return fmt.Errorf("encode order book %s: %w", book.Key, err)
	}

	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO order_books (region_id, type_id, data, updated_at) VALUES (?, ?, ?, ?)",
		book.Key.RegionID, book.Key.TypeID, data, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save order book %s: %w", book.Key, err)
	}
	return nil
}

// GetOrderBook returns the stored order book for key, or nil, nil when the
// key has never been stored.
func (s *Store) GetOrderBook(key domain.Key) (*Record, error) {
	var data []byte
	var updatedAt int64
	err := s.db.QueryRow(
		"SELECT data, updated_at FROM order_books WHERE region_id = ? AND type_id = ?",
		key.RegionID, key.TypeID,
	).Scan(&data, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read order book %s: %w", key, err)
	}

	var book domain.OrderBook
	if err := msgpack.Unmarshal(data, &book); err != nil {
		return nil, fmt.Errorf("decode order book %s: %w", key, err)
	}
	return &Record{Book: &book, UpdatedAt: time.Unix(updatedAt, 0)}, nil
}

// SavePoints upserts history points for key, one row per day.
func (s *Store) SavePoints(key domain.Key, points []domain.HistoryPoint) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := s.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("begin history save for %s: %w", key, err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT OR REPLACE INTO history_points
		 (region_id, type_id, date, highest, lowest, average, volume, order_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare history save for %s: %w", key, err)
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.Exec(
			key.RegionID, key.TypeID, p.Date,
			p.Highest, p.Lowest, p.Average, p.Volume, p.OrderCount,
		); err != nil {
			return fmt.Errorf("save history point %s %s: %w", key, p.Date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history save for %s: %w", key, err)
	}
	return nil
}

// GetHistory returns up to days of history for key, newest first. days <= 0
// returns everything stored.
func (s *Store) GetHistory(key domain.Key, days int) ([]domain.HistoryPoint, error) {
	query := `SELECT date, highest, lowest, average, volume, order_count
		 FROM history_points WHERE region_id = ? AND type_id = ?
		 ORDER BY date DESC`
	args := []any{key.RegionID, key.TypeID}
	if days > 0 {
		query += " LIMIT ?"
		args = append(args, days)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("read history %s: %w", key, err)
	}
	defer rows.Close()

	var points []domain.HistoryPoint
	for rows.Next() {
		var p domain.HistoryPoint
		if err := rows.Scan(&p.Date, &p.Highest, &p.Lowest, &p.Average, &p.Volume, &p.OrderCount); err != nil {
			return nil, fmt.Errorf("scan history point for %s: %w", key, err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history for %s: %w", key, err)
	}
	return points, nil
}

// GetStaleKeys returns keys whose stored order book is older than
// maxAgeMinutes, oldest first. Drives the refresh scheduler.
func (s *Store) GetStaleKeys(maxAgeMinutes int) ([]domain.Key, error) {
	cutoff := time.Now().Add(-time.Duration(maxAgeMinutes) * time.Minute).Unix()

	rows, err := s.db.Query(
		"SELECT region_id, type_id FROM order_books WHERE updated_at < ? ORDER BY updated_at ASC",
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("read stale keys: %w", err)
	}
	defer rows.Close()

	var keys []domain.Key
	for rows.Next() {
		var k domain.Key
		if err := rows.Scan(&k.RegionID, &k.TypeID); err != nil {
			return nil, fmt.Errorf("scan stale key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale keys: %w", err)
	}
	return keys, nil
}

// AllKeys returns every key with a stored order book, oldest first.
func (s *Store) AllKeys() ([]domain.Key, error) {
	rows, err := s.db.Query("SELECT region_id, type_id FROM order_books ORDER BY updated_at ASC")
	if err != nil {
		return nil, fmt.Errorf("read keys: %w", err)
	}
	defer rows.Close()

	var keys []domain.Key
	for rows.Next() {
		var k domain.Key
		if err := rows.Scan(&k.RegionID, &k.TypeID); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}
