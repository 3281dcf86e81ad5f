// Package quadtree identifies Web-Mercator tiles by quadtree codes (quadkeys)
// and provides the set operations used to turn geographic areas into compact
// prefix queries.
package quadtree

import (
	"errors"
	"fmt"
	"math"

	"github.com/mohammed-shakir/quadtile-crawler/internal/mercator"
)

var (
	ErrInvalidZoom   = errors.New("invalid zoom")
	ErrInvalidTile   = errors.New("invalid tile")
	ErrInvalidCode   = errors.New("invalid tile code")
	ErrInvalidBounds = errors.New("invalid bounds")
)

const MaxZoom = mercator.MaxZoom

// Tile is one quadtree cell. The zero value is the root tile at zoom 0.
type Tile struct {
	X    int
	Y    int
	Zoom int
}

func validateZoom(zoom int) error {
	if !mercator.ValidZoom(zoom) {
		return fmt.Errorf("%w: %d (must be 0..%d)", ErrInvalidZoom, zoom, MaxZoom)
	}
	return nil
}

// TileFromLatLon returns the tile containing the point at the given zoom.
func TileFromLatLon(lat, lon float64, zoom int) (Tile, error) {
	if err := validateZoom(zoom); err != nil {
		return Tile{}, err
	}
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Tile{}, fmt.Errorf("%w: coordinates (%v,%v) out of range", ErrInvalidTile, lat, lon)
	}
	lat = math.Max(-mercator.MaxLatitude, math.Min(mercator.MaxLatitude, lat))
	x, y := mercator.LatLonToTile(lat, lon, zoom)
	return Tile{X: x, Y: y, Zoom: zoom}, nil
}

// TileFromCode decodes a quadtree code. The empty code is the root tile.
func TileFromCode(code string) (Tile, error) {
	if len(code) > MaxZoom {
		return Tile{}, fmt.Errorf("%w: %q longer than %d digits", ErrInvalidCode, code, MaxZoom)
	}
	var x, y int
	for i := 0; i < len(code); i++ {
		d := code[i]
		if d < '0' || d > '3' {
			return Tile{}, fmt.Errorf("%w: %q has digit %q at %d", ErrInvalidCode, code, d, i)
		}
		q := int(d - '0')
		x = x<<1 | q&1
		y = y<<1 | q>>1
	}
	return Tile{X: x, Y: y, Zoom: len(code)}, nil
}

// TileFromArray accepts the [x, y, zoom] triple form.
func TileFromArray(xyz []int) (Tile, error) {
	if len(xyz) != 3 {
		return Tile{}, fmt.Errorf("%w: expected [x,y,zoom], got %d values", ErrInvalidTile, len(xyz))
	}
	return NewTile(xyz[0], xyz[1], xyz[2])
}

func NewTile(x, y, zoom int) (Tile, error) {
	if err := validateZoom(zoom); err != nil {
		return Tile{}, err
	}
	n := mercator.TilesPerAxis(zoom)
	if x < 0 || x >= n || y < 0 || y >= n {
		return Tile{}, fmt.Errorf("%w: (%d,%d) outside 0..%d at zoom %d", ErrInvalidTile, x, y, n-1, zoom)
	}
	return Tile{X: x, Y: y, Zoom: zoom}, nil
}

// MustCode decodes a code known to be valid, panicking otherwise.
func MustCode(code string) Tile {
	t, err := TileFromCode(code)
	if err != nil {
		panic(err)
	}
	return t
}

// ToIndex returns the quadtree code: one base-4 digit per zoom level,
// digit = xbit + 2*ybit, most significant level first.
func (t Tile) ToIndex() string {
	b := make([]byte, t.Zoom)
	for i := t.Zoom; i > 0; i-- {
		mask := 1 << uint(i-1)
		d := byte('0')
		if t.X&mask != 0 {
			d++
		}
		if t.Y&mask != 0 {
			d += 2
		}
		b[t.Zoom-i] = d
	}
	return string(b)
}

func (t Tile) Quadkey() string { return t.ToIndex() }

func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Zoom, t.X, t.Y)
}

// ToBounds returns [south, west, north, east].
func (t Tile) ToBounds() [4]float64 {
	return mercator.TileLatLonBounds(t.X, t.Y, t.Zoom)
}

func (t Tile) Bounds() Bounds {
	b := t.ToBounds()
	return Bounds{south: b[0], west: b[1], north: b[2], east: b[3], set: true}
}

// Center is the great-circle midpoint of the four corners.
func (t Tile) Center() (lat, lon float64) {
	b := t.ToBounds()
	return midpoint([][2]float64{
		{b[0], b[1]}, {b[0], b[3]}, {b[2], b[3]}, {b[2], b[1]},
	})
}

func (t Tile) LatLonSize() (latSpan, lonSpan float64) {
	b := t.ToBounds()
	return b[2] - b[0], b[3] - b[1]
}

// SizeInMeters returns the projected width and height, rounded up.
func (t Tile) SizeInMeters() (width, height float64) {
	minx, miny, maxx, maxy := mercator.TileMetersBounds(t.X, t.Y, t.Zoom)
	return math.Ceil(maxx - minx), math.Ceil(maxy - miny)
}

// EnclosingRadius is the radius in meters of the circle around the center
// that covers the whole tile.
func (t Tile) EnclosingRadius() float64 {
	w, h := t.SizeInMeters()
	return math.Ceil(math.Hypot(w, h) / 2)
}

func (t Tile) ContainsLatLon(lat, lon float64) bool {
	other, err := TileFromLatLon(lat, lon, t.Zoom)
	if err != nil {
		return false
	}
	return other == t
}

// Parent returns the enclosing tile one level up; the root is its own parent.
func (t Tile) Parent() Tile {
	if t.Zoom == 0 {
		return t
	}
	return Tile{X: t.X >> 1, Y: t.Y >> 1, Zoom: t.Zoom - 1}
}

// Children returns the four sub-tiles in code-digit order.
func (t Tile) Children() ([4]Tile, error) {
	if t.Zoom >= MaxZoom {
		return [4]Tile{}, fmt.Errorf("%w: no children below zoom %d", ErrInvalidZoom, MaxZoom)
	}
	x, y, z := t.X<<1, t.Y<<1, t.Zoom+1
	return [4]Tile{
		{X: x, Y: y, Zoom: z},
		{X: x + 1, Y: y, Zoom: z},
		{X: x, Y: y + 1, Zoom: z},
		{X: x + 1, Y: y + 1, Zoom: z},
	}, nil
}

// midpoint averages the points as unit vectors on the sphere.
func midpoint(points [][2]float64) (lat, lon float64) {
	var x, y, z float64
	for _, p := range points {
		la := p[0] * math.Pi / 180
		lo := p[1] * math.Pi / 180
		x += math.Cos(la) * math.Cos(lo)
		y += math.Cos(la) * math.Sin(lo)
		z += math.Sin(la)
	}
	n := float64(len(points))
	x, y, z = x/n, y/n, z/n
	lon = math.Atan2(y, x)
	lat = math.Atan2(z, math.Sqrt(x*x+y*y))
	return lat * 180 / math.Pi, lon * 180 / math.Pi
}
