// Package refreshrequests consumes on-demand tile refresh requests from Kafka
// and hands the tiles to the crawl schedulers ahead of their stale backlog.
package refreshrequests

import (
	"errors"
	"fmt"
	"time"

	"github.com/mohammed-shakir/quadtile-crawler/internal/quadtree"
)

// Request names tiles either directly or as an area expanded at the crawl
// zoom. Requests sharing a Key are applied only when Version increases.
type Request struct {
	Key     string    `json:"key,omitempty"`
	Version uint64    `json:"version"`
	Tiles   []string  `json:"tiles,omitempty"`
	Bounds  string    `json:"bounds,omitempty"`
	TS      time.Time `json:"ts"`
}

var ErrInvalidRequest = errors.New("invalid refresh request")

func (r Request) Validate() error {
	hasTiles := len(r.Tiles) > 0
	hasBounds := r.Bounds != ""
	if hasTiles == hasBounds {
		return fmt.Errorf("%w: exactly one of tiles or bounds is required", ErrInvalidRequest)
	}
	if r.TS.IsZero() {
		return fmt.Errorf("%w: ts is required", ErrInvalidRequest)
	}
	for _, c := range r.Tiles {
		if _, err := quadtree.TileFromCode(c); err != nil {
			return fmt.Errorf("%w: tile %q: %v", ErrInvalidRequest, c, err)
		}
	}
	if hasBounds {
		if _, err := quadtree.ParseBounds(r.Bounds); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	return nil
}

// Codes resolves the request to tile codes at zoom. Explicit tiles at another
// zoom are mapped to their ancestor or left for the scheduler to reject.
func (r Request) Codes(zoom, maxTiles int) ([]string, error) {
	if !r.hasBounds() {
		out := make([]string, 0, len(r.Tiles))
		for _, c := range r.Tiles {
			if len(c) > zoom {
				c = c[:zoom]
			}
			out = append(out, c)
		}
		return out, nil
	}
	b, err := quadtree.ParseBounds(r.Bounds)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	n, err := b.TileCount(zoom)
	if err != nil {
		return nil, err
	}
	if maxTiles > 0 && n > maxTiles {
		return nil, fmt.Errorf("%w: bounds cover %d tiles, limit is %d", ErrInvalidRequest, n, maxTiles)
	}
	return b.TileIndexes(zoom)
}

func (r Request) hasBounds() bool { return r.Bounds != "" }
