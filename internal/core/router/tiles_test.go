package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/quadtile-crawler/internal/quadtree"
	"github.com/mohammed-shakir/quadtile-crawler/internal/tilestore"
)

type stubGetter map[string]time.Time

func (s stubGetter) Get(_ context.Context, code string) (tilestore.TileInfo, error) {
	ts, ok := s[code]
	if !ok {
		return tilestore.TileInfo{}, tilestore.ErrNotFound
	}
	return tilestore.TileInfo{TileIndex: code, LastRefreshTimestamp: ts}, nil
}

func newMux(api *TileAPI) http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/tiles", api.Cover)
	r.Get("/v1/tiles/{code}", api.Tile)
	return r
}

func get(t *testing.T, h http.Handler, url string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, url, nil))
	return rr
}

func TestCover_GeoJSON(t *testing.T) {
	h := newMux(NewTileAPI(nil, nil, 0))
	rr := get(t, h, "/v1/tiles?bounds=37.77,-122.42|37.78,-122.41&zoom=15")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Fatalf("content-type=%q", ct)
	}
	fc, err := geojson.UnmarshalFeatureCollection(rr.Body.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := quadtree.TilesCoveringBounds(37.77, -122.42, 37.78, -122.41, 15)
	if len(fc.Features) != len(want) {
		t.Fatalf("features=%d want %d", len(fc.Features), len(want))
	}
	for _, f := range fc.Features {
		code := f.Properties.MustString("code")
		mt := maptile.New(uint32(f.Properties.MustInt("x")), uint32(f.Properties.MustInt("y")), 15)
		qk := strconv.FormatUint(mt.Quadkey(), 4)
		qk = strings.Repeat("0", 15-len(qk)) + qk
		if qk != code {
			t.Fatalf("code=%s maptile quadkey=%s", code, qk)
		}
		poly, ok := f.Geometry.(orb.Polygon)
		if !ok {
			t.Fatalf("geometry=%T want Polygon", f.Geometry)
		}
		b, mb := poly.Bound(), mt.Bound()
		for i := range 2 {
			if abs64(b.Min[i]-mb.Min[i]) > 1e-9 || abs64(b.Max[i]-mb.Max[i]) > 1e-9 {
				t.Fatalf("tile %s bound %v want %v", code, b, mb)
			}
		}
	}
}

func abs64(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func TestCover_Simplify(t *testing.T) {
	h := newMux(NewTileAPI(nil, nil, 0))
	parent := quadtree.MustCode("0230102")
	b := parent.Bounds()
	// shrink slightly so the covering stays inside the parent tile
	inner, _ := quadtree.NewBounds(b.South()+1e-7, b.West()+1e-7, b.North()-1e-7, b.East()-1e-7)

	rr := get(t, h, "/v1/tiles?simplify=true&zoom=9&bounds="+inner.String())
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var body struct {
		Tiles    int      `json:"tiles"`
		Prefixes []string `json:"prefixes"`
		Pattern  string   `json:"pattern"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Tiles != 16 || len(body.Prefixes) != 1 || body.Prefixes[0] != "0230102" || body.Pattern != "^0230102" {
		t.Fatalf("body=%+v", body)
	}
}

func TestCover_BadRequests(t *testing.T) {
	h := newMux(NewTileAPI(nil, nil, 0))
	for _, url := range []string{
		"/v1/tiles?zoom=10",
		"/v1/tiles?bounds=1,2|3&zoom=10",
		"/v1/tiles?bounds=1,2|3,4",
		"/v1/tiles?bounds=1,2|3,4&zoom=24",
		"/v1/tiles?bounds=1,2|3,4&zoom=ten",
	} {
		if rr := get(t, h, url); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d want 400", url, rr.Code)
		}
	}
}

func TestCover_ClampsAndCapsLargeRequests(t *testing.T) {
	clamped := newMux(NewTileAPI(nil, nil, 2000))
	rr := get(t, clamped, "/v1/tiles?bounds=37,-123|38,-122&zoom=14")
	if rr.Code != http.StatusOK {
		t.Fatalf("clamped status=%d", rr.Code)
	}
	fc, err := geojson.UnmarshalFeatureCollection(rr.Body.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	// 2km square at z14 (~1.9km tiles at this latitude) touches at most 3x3 tiles
	if n := len(fc.Features); n == 0 || n > 9 {
		t.Fatalf("clamped coverage=%d tiles", n)
	}

	unclamped := newMux(NewTileAPI(nil, nil, 0))
	if rr := get(t, unclamped, "/v1/tiles?bounds=30,-130|45,-110&zoom=16"); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("oversized status=%d want 422", rr.Code)
	}
}

func TestTile_Details(t *testing.T) {
	tile, _ := quadtree.TileFromLatLon(37, -122, 18)
	code := tile.ToIndex()
	ts := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	h := newMux(NewTileAPI(nil, stubGetter{code: ts}, 0))

	rr := get(t, h, "/v1/tiles/"+code)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	f, err := geojson.UnmarshalFeature(rr.Body.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Properties.MustString("code") != code || f.Properties.MustInt("zoom") != 18 {
		t.Fatalf("properties=%v", f.Properties)
	}
	if f.Properties.MustFloat64("enclosing_radius_m") != 109 {
		t.Fatalf("radius=%v want 109", f.Properties["enclosing_radius_m"])
	}
	if f.Properties.MustString("last_refresh_timestamp") != "2024-06-01T09:30:00Z" {
		t.Fatalf("last refresh=%v", f.Properties["last_refresh_timestamp"])
	}
	if f.Properties.MustString("parent") != code[:17] {
		t.Fatalf("parent=%v", f.Properties["parent"])
	}

	rr = get(t, h, "/v1/tiles/0231")
	f, _ = geojson.UnmarshalFeature(rr.Body.Bytes())
	if _, ok := f.Properties["last_refresh_timestamp"]; ok {
		t.Fatalf("unknown tile must not report a refresh time")
	}

	if rr := get(t, h, "/v1/tiles/0x1"); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad code status=%d want 400", rr.Code)
	}
}
