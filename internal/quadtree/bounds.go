package quadtree

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/quadtile-crawler/internal/mercator"
)

// Bounds is a south-west/north-east rectangle in degrees. The zero value is
// unset: it contains no points and covers no tiles.
type Bounds struct {
	south, west, north, east float64
	set                      bool
}

func NewBounds(south, west, north, east float64) (Bounds, error) {
	for _, v := range []float64{south, west, north, east} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Bounds{}, fmt.Errorf("%w: non-finite coordinate", ErrInvalidBounds)
		}
	}
	if south < -90 || north > 90 {
		return Bounds{}, fmt.Errorf("%w: latitude outside [-90,90]", ErrInvalidBounds)
	}
	if west < -180 || west > 180 || east < -180 || east > 180 {
		return Bounds{}, fmt.Errorf("%w: longitude outside [-180,180]", ErrInvalidBounds)
	}
	if south > north {
		return Bounds{}, fmt.Errorf("%w: south %v is north of %v", ErrInvalidBounds, south, north)
	}
	return Bounds{south: south, west: west, north: north, east: east, set: true}, nil
}

// ParseBounds reads the "south,west|north,east" wire form.
func ParseBounds(s string) (Bounds, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Bounds{}, fmt.Errorf("%w: empty", ErrInvalidBounds)
	}
	corners := strings.Split(s, "|")
	if len(corners) != 2 {
		return Bounds{}, fmt.Errorf("%w: expected \"south,west|north,east\", got %q", ErrInvalidBounds, s)
	}
	sw, err := parsePair(corners[0])
	if err != nil {
		return Bounds{}, fmt.Errorf("%w: southwest: %v", ErrInvalidBounds, err)
	}
	ne, err := parsePair(corners[1])
	if err != nil {
		return Bounds{}, fmt.Errorf("%w: northeast: %v", ErrInvalidBounds, err)
	}
	return NewBounds(sw[0], sw[1], ne[0], ne[1])
}

func parsePair(s string) ([2]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return [2]float64{}, fmt.Errorf("expected \"lat,lon\", got %q", s)
	}
	var out [2]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return [2]float64{}, fmt.Errorf("parse float: %w", err)
		}
		out[i] = f
	}
	return out, nil
}

func (b Bounds) IsSet() bool    { return b.set }
func (b Bounds) South() float64 { return b.south }
func (b Bounds) West() float64  { return b.west }
func (b Bounds) North() float64 { return b.north }
func (b Bounds) East() float64  { return b.east }

// Array returns [south, west, north, east].
func (b Bounds) Array() [4]float64 {
	return [4]float64{b.south, b.west, b.north, b.east}
}

// String renders the wire form accepted by ParseBounds.
func (b Bounds) String() string {
	if !b.set {
		return ""
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return f(b.south) + "," + f(b.west) + "|" + f(b.north) + "," + f(b.east)
}

// Contains reports whether the point lies inside, edges included.
func (b Bounds) Contains(lat, lon float64) bool {
	if !b.set {
		return false
	}
	return lat >= b.south && lat <= b.north && lon >= b.west && lon <= b.east
}

func (b Bounds) Tiles(zoom int) ([]Tile, error) {
	if err := validateZoom(zoom); err != nil {
		return nil, err
	}
	if !b.set {
		return nil, nil
	}
	return TilesCoveringBounds(b.south, b.west, b.north, b.east, zoom), nil
}

// TileCount is len(b.Tiles(zoom)) without building the tiles.
func (b Bounds) TileCount(zoom int) (int, error) {
	if err := validateZoom(zoom); err != nil {
		return 0, err
	}
	if !b.set {
		return 0, nil
	}
	x0, y0 := mercator.LatLonToTile(clampLat(b.south), b.west, zoom)
	x1, y1 := mercator.LatLonToTile(clampLat(b.north), b.east, zoom)
	return (abs(x1-x0) + 1) * (abs(y1-y0) + 1), nil
}

// TileIndexes returns the codes of the tiles covering b at zoom.
func (b Bounds) TileIndexes(zoom int) ([]string, error) {
	tiles, err := b.Tiles(zoom)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(tiles))
	for i, t := range tiles {
		out[i] = t.ToIndex()
	}
	return out, nil
}
