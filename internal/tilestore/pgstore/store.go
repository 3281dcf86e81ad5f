// Package pgstore keeps TileInfo records in a Postgres table and matches
// region prefixes with a POSIX regular expression.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/mohammed-shakir/quadtile-crawler/internal/core/observability"
	"github.com/mohammed-shakir/quadtile-crawler/internal/quadtree"
	"github.com/mohammed-shakir/quadtile-crawler/internal/tilestore"
)

const driver = "postgres"

const schema = `CREATE TABLE IF NOT EXISTS tile_info (
	tile_index text PRIMARY KEY,
	last_refresh_timestamp timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS tile_info_last_refresh_idx ON tile_info (last_refresh_timestamp)`

const (
	qFindStale = `SELECT tile_index FROM tile_info
WHERE tile_index ~ $1 AND last_refresh_timestamp < $2
ORDER BY last_refresh_timestamp ASC
LIMIT $3`

	qBulkUpsert = `INSERT INTO tile_info (tile_index, last_refresh_timestamp)
SELECT unnest($1::text[]), $2
ON CONFLICT (tile_index) DO NOTHING`

	qSetRefresh = `INSERT INTO tile_info (tile_index, last_refresh_timestamp) VALUES ($1, $2)
ON CONFLICT (tile_index) DO UPDATE
SET last_refresh_timestamp = GREATEST(tile_info.last_refresh_timestamp, EXCLUDED.last_refresh_timestamp)`

	qGet = `SELECT tile_index, last_refresh_timestamp FROM tile_info WHERE tile_index = $1`
)

type Store struct {
	db *sql.DB
}

var _ tilestore.Store = (*Store)(nil)

// Open connects with lib/pq and creates the table when it is missing.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)

	s := Attach(db)
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func Attach(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) EnsureSchema(ctx context.Context) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, schema)
	observability.ObserveStoreOp(driver, "schema", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("postgres create tile_info: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.db.PingContext(ctx)
	observability.ObserveStoreOp(driver, "ping", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

func (s *Store) FindStaleTiles(ctx context.Context, prefixes quadtree.PrefixSet, olderThan time.Time, limit int) ([]string, error) {
	start := time.Now()
	if len(prefixes) == 0 || limit <= 0 {
		observability.ObserveStoreOp(driver, "find_stale", nil, time.Since(start).Seconds())
		return nil, nil
	}

	out, err := s.findStale(ctx, prefixes.Pattern(), olderThan.UTC(), limit)
	observability.ObserveStoreOp(driver, "find_stale", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("postgres find stale tiles: %w", err)
	}
	return out, nil
}

func (s *Store) findStale(ctx context.Context, pattern string, olderThan time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, qFindStale, pattern, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]string, 0, limit)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, rows.Err()
}

func (s *Store) BulkUpsert(ctx context.Context, codes []string, ts time.Time) (int, error) {
	start := time.Now()
	if len(codes) == 0 {
		observability.ObserveStoreOp(driver, "bulk_upsert", nil, time.Since(start).Seconds())
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, qBulkUpsert, pq.Array(codes), ts.UTC())
	if err != nil {
		observability.ObserveStoreOp(driver, "bulk_upsert", err, time.Since(start).Seconds())
		return 0, fmt.Errorf("postgres bulk upsert %d codes: %w", len(codes), err)
	}
	n, err := res.RowsAffected()
	observability.ObserveStoreOp(driver, "bulk_upsert", err, time.Since(start).Seconds())
	if err != nil {
		return 0, fmt.Errorf("postgres bulk upsert rows affected: %w", err)
	}
	return int(n), nil
}

func (s *Store) SetRefreshTimestamp(ctx context.Context, code string, ts time.Time) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, qSetRefresh, code, ts.UTC())
	observability.ObserveStoreOp(driver, "set_refresh", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("postgres set refresh %q: %w", code, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, code string) (tilestore.TileInfo, error) {
	start := time.Now()
	var ti tilestore.TileInfo
	err := s.db.QueryRowContext(ctx, qGet, code).Scan(&ti.TileIndex, &ti.LastRefreshTimestamp)
	if errors.Is(err, sql.ErrNoRows) {
		observability.ObserveStoreOp(driver, "get", nil, time.Since(start).Seconds())
		return tilestore.TileInfo{}, fmt.Errorf("%q: %w", code, tilestore.ErrNotFound)
	}
	observability.ObserveStoreOp(driver, "get", err, time.Since(start).Seconds())
	if err != nil {
		return tilestore.TileInfo{}, fmt.Errorf("postgres get %q: %w", code, err)
	}
	ti.LastRefreshTimestamp = ti.LastRefreshTimestamp.UTC()
	return ti, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("postgres close: %w", err)
	}
	return nil
}
