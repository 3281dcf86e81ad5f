package quadtree

import (
	"math"
	"sort"

	"github.com/mohammed-shakir/quadtile-crawler/internal/mercator"
)

const meanEarthRadius = 6371000.0

// TilesCoveringBounds enumerates every tile at zoom between the south-west
// and north-east corner tiles, inclusive. Each axis walks towards the other
// corner whichever way it lies, so a point yields exactly one tile.
// An invalid zoom panics.
func TilesCoveringBounds(south, west, north, east float64, zoom int) []Tile {
	south, north = clampLat(south), clampLat(north)
	x0, y0 := mercator.LatLonToTile(south, west, zoom)
	x1, y1 := mercator.LatLonToTile(north, east, zoom)

	stepX, stepY := step(x0, x1), step(y0, y1)
	nx, ny := abs(x1-x0)+1, abs(y1-y0)+1

	out := make([]Tile, 0, nx*ny)
	for i, x := 0, x0; i < nx; i, x = i+1, x+stepX {
		for j, y := 0, y0; j < ny; j, y = j+1, y+stepY {
			out = append(out, Tile{X: x, Y: y, Zoom: zoom})
		}
	}
	return out
}

// MostSignificantCodes returns the n shortest codes. Order among codes of
// equal length is unspecified.
func MostSignificantCodes(n int, codes []string) []string {
	if n <= 0 {
		return nil
	}
	sorted := append([]string(nil), codes...)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) < len(sorted[j]) })
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

// ParentTile returns the deepest tile enclosing all tiles. ok is false when
// the set is empty or spans more than one root quadrant.
func ParentTile(tiles []Tile) (parent Tile, ok bool) {
	if len(tiles) == 0 {
		return Tile{}, false
	}
	prefix := tiles[0].ToIndex()
	for _, t := range tiles[1:] {
		code := t.ToIndex()
		n := 0
		for n < len(prefix) && n < len(code) && prefix[n] == code[n] {
			n++
		}
		prefix = prefix[:n]
		if n == 0 {
			return Tile{}, false
		}
	}
	if prefix == "" {
		return Tile{}, false
	}
	return MustCode(prefix), true
}

// BoundsFromTiles returns the smallest bounds enclosing every tile.
func BoundsFromTiles(tiles []Tile) Bounds {
	if len(tiles) == 0 {
		return Bounds{}
	}
	out := Bounds{
		south: math.Inf(1), west: math.Inf(1),
		north: math.Inf(-1), east: math.Inf(-1),
		set: true,
	}
	for _, t := range tiles {
		b := t.ToBounds()
		out.south = math.Min(out.south, b[0])
		out.west = math.Min(out.west, b[1])
		out.north = math.Max(out.north, b[2])
		out.east = math.Max(out.east, b[3])
	}
	return out
}

// BoundsFromCenterAndSpan builds a rectangle of the given projected extent
// in meters around the center.
func BoundsFromCenterAndSpan(lat, lon, latSpanMeters, lonSpanMeters float64) Bounds {
	mx, my := mercator.LatLonToMeters(clampLat(lat), lon)
	return boundsFromMeters(
		mx-lonSpanMeters/2, my-latSpanMeters/2,
		mx+lonSpanMeters/2, my+latSpanMeters/2,
	)
}

// LimitBoundsToSpan shrinks each axis of b around its center so that it is
// at most maxSpanMeters wide in projected meters. Axes already within the
// limit are left as they are.
func LimitBoundsToSpan(b Bounds, maxSpanMeters float64) Bounds {
	if !b.set {
		return b
	}
	minx, miny := mercator.LatLonToMeters(clampLat(b.south), b.west)
	maxx, maxy := mercator.LatLonToMeters(clampLat(b.north), b.east)

	cx, cy := (minx+maxx)/2, (miny+maxy)/2
	limit := maxSpanMeters / 2
	hx := math.Min(math.Abs(maxx-minx)/2, limit)
	hy := math.Min(math.Abs(maxy-miny)/2, limit)
	if hx == math.Abs(maxx-minx)/2 && hy == math.Abs(maxy-miny)/2 {
		return b
	}

	sx, ex := cx-hx, cx+hx
	if maxx < minx {
		sx, ex = ex, sx
	}
	return boundsFromMeters(sx, cy-hy, ex, cy+hy)
}

// HaversineDistance returns the great-circle distance in meters.
func HaversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * meanEarthRadius * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func boundsFromMeters(minx, miny, maxx, maxy float64) Bounds {
	south, west := mercator.MetersToLatLon(minx, miny)
	north, east := mercator.MetersToLatLon(maxx, maxy)
	return Bounds{
		south: south, west: clampLon(west),
		north: north, east: clampLon(east),
		set: true,
	}
}

func clampLat(lat float64) float64 {
	return math.Max(-mercator.MaxLatitude, math.Min(mercator.MaxLatitude, lat))
}

func clampLon(lon float64) float64 {
	return math.Max(-180, math.Min(180, lon))
}

func step(from, to int) int {
	if to < from {
		return -1
	}
	return 1
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
