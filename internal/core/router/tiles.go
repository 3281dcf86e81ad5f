// Package router holds the HTTP handlers of the ops surface.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/quadtile-crawler/internal/mercator"
	"github.com/mohammed-shakir/quadtile-crawler/internal/quadtree"
	"github.com/mohammed-shakir/quadtile-crawler/internal/tilestore"
)

const defaultMaxTiles = 4096

// TileInfoGetter is the part of the tile store the API reads.
type TileInfoGetter interface {
	Get(ctx context.Context, code string) (tilestore.TileInfo, error)
}

type TileAPI struct {
	log      *slog.Logger
	store    TileInfoGetter
	maxSpan  float64
	maxTiles int
}

// NewTileAPI builds the tile handlers. store may be nil; maxSpanMeters <= 0
// disables request bounds clamping.
func NewTileAPI(log *slog.Logger, store TileInfoGetter, maxSpanMeters float64) *TileAPI {
	if log == nil {
		log = slog.Default()
	}
	return &TileAPI{log: log, store: store, maxSpan: maxSpanMeters, maxTiles: defaultMaxTiles}
}

type coverRequest struct {
	bounds   quadtree.Bounds
	zoom     int
	simplify bool
}

func parseCoverRequest(r *http.Request) (coverRequest, error) {
	q := r.URL.Query()
	raw := strings.TrimSpace(q.Get("bounds"))
	if raw == "" {
		return coverRequest{}, errors.New("missing required parameter: bounds")
	}
	b, err := quadtree.ParseBounds(raw)
	if err != nil {
		return coverRequest{}, err
	}
	zraw := strings.TrimSpace(q.Get("zoom"))
	if zraw == "" {
		return coverRequest{}, errors.New("missing required parameter: zoom")
	}
	zoom, err := strconv.Atoi(zraw)
	if err != nil || !mercator.ValidZoom(zoom) {
		return coverRequest{}, fmt.Errorf("%w: %q (must be 0..%d)", quadtree.ErrInvalidZoom, zraw, mercator.MaxZoom)
	}
	simplify, _ := strconv.ParseBool(q.Get("simplify"))
	return coverRequest{bounds: b, zoom: zoom, simplify: simplify}, nil
}

// Cover serves GET /v1/tiles?bounds=s,w|n,e&zoom=z[&simplify=true].
func (a *TileAPI) Cover(w http.ResponseWriter, r *http.Request) {
	req, err := parseCoverRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b := req.bounds
	if a.maxSpan > 0 {
		b = quadtree.LimitBoundsToSpan(b, a.maxSpan)
	}
	if n, _ := b.TileCount(req.zoom); n > a.maxTiles {
		http.Error(w, fmt.Sprintf("bounds cover %d tiles at zoom %d, limit is %d", n, req.zoom, a.maxTiles),
			http.StatusUnprocessableEntity)
		return
	}

	tiles := quadtree.TilesCoveringBounds(b.South(), b.West(), b.North(), b.East(), req.zoom)

	if req.simplify {
		codes := make([]string, len(tiles))
		for i, t := range tiles {
			codes[i] = t.ToIndex()
		}
		prefixes, err := quadtree.SimplifyCodes(codes)
		if err != nil {
			a.log.ErrorContext(r.Context(), "simplify covering codes", "err", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"zoom":     req.zoom,
			"bounds":   b.Array(),
			"tiles":    len(codes),
			"prefixes": prefixes,
			"pattern":  prefixes.Pattern(),
		})
		return
	}

	fc := geojson.NewFeatureCollection()
	for _, t := range tiles {
		fc.Append(tileFeature(t))
	}
	fc.ExtraMembers = geojson.Properties{"bbox_requested": req.bounds.Array(), "bbox_used": b.Array()}
	writeGeoJSON(w, fc)
}

// Tile serves GET /v1/tiles/{code}.
func (a *TileAPI) Tile(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	t, err := quadtree.TileFromCode(code)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f := tileFeature(t)

	lat, lon := t.Center()
	width, height := t.SizeInMeters()
	f.Properties["center"] = []float64{lat, lon}
	f.Properties["size_m"] = []float64{width, height}
	f.Properties["enclosing_radius_m"] = t.EnclosingRadius()
	if t.Zoom > 0 {
		f.Properties["parent"] = t.Parent().ToIndex()
	}

	if a.store != nil {
		ti, err := a.store.Get(r.Context(), t.ToIndex())
		switch {
		case err == nil:
			f.Properties["last_refresh_timestamp"] = ti.LastRefreshTimestamp.UTC().Format(time.RFC3339)
		case errors.Is(err, tilestore.ErrNotFound):
		default:
			a.log.WarnContext(r.Context(), "tile info lookup failed", "tile", code, "err", err)
		}
	}
	writeGeoJSON(w, f)
}

func tileFeature(t quadtree.Tile) *geojson.Feature {
	bb := t.ToBounds()
	bound := orb.Bound{Min: orb.Point{bb[1], bb[0]}, Max: orb.Point{bb[3], bb[2]}}
	f := geojson.NewFeature(bound.ToPolygon())
	f.ID = t.ToIndex()
	f.Properties["code"] = t.ToIndex()
	f.Properties["x"] = t.X
	f.Properties["y"] = t.Y
	f.Properties["zoom"] = t.Zoom
	return f
}

func writeGeoJSON(w http.ResponseWriter, v json.Marshaler) {
	b, err := v.MarshalJSON()
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
