// Package tilestore defines the persisted TileInfo contract used by the crawler.
package tilestore

import (
	"context"
	"errors"
	"time"

	"github.com/mohammed-shakir/quadtile-crawler/internal/quadtree"
)

// NeverRefreshed is the timestamp given to freshly seeded records. It is
// older than any staleness threshold.
var NeverRefreshed = time.Unix(0, 0).UTC()

var ErrNotFound = errors.New("tile info not found")

type TileInfo struct {
	TileIndex            string    `json:"tile_index"`
	LastRefreshTimestamp time.Time `json:"last_refresh_timestamp"`
}

// Store persists one TileInfo per tile code.
//
// FindStaleTiles returns up to limit codes matched by prefixes whose
// timestamp is strictly older than olderThan, stalest first. An empty
// prefix set matches nothing.
//
// BulkUpsert creates records that do not exist yet and leaves existing
// ones untouched; it reports how many were created.
//
// SetRefreshTimestamp never moves a record's timestamp backwards.
type Store interface {
	FindStaleTiles(ctx context.Context, prefixes quadtree.PrefixSet, olderThan time.Time, limit int) ([]string, error)
	BulkUpsert(ctx context.Context, codes []string, ts time.Time) (int, error)
	SetRefreshTimestamp(ctx context.Context, code string, ts time.Time) error
	Get(ctx context.Context, code string) (TileInfo, error)
	Ping(ctx context.Context) error
	Close() error
}
