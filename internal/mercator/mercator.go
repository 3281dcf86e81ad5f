// Package mercator implements the spherical Web-Mercator (EPSG:3857) tiling
// math: degrees, projected meters, pixels and tile coordinates.
//
// Pixel and tile coordinates use the XYZ convention: the origin is the
// north-west corner of the world and Y grows southwards. Latitudes must lie
// within ±MaxLatitude; that is a precondition of every function here and is
// not checked at runtime. Zoom levels outside [0, MaxZoom] are a caller bug
// and panic.
package mercator

import (
	"fmt"
	"math"
)

const (
	EarthRadius = 6378137.0
	TileSize    = 256
	MaxZoom     = 23

	// MaxLatitude is atan(sinh(pi)) in degrees, the edge of the square map.
	MaxLatitude = 85.05112877980659

	originShift       = math.Pi * EarthRadius
	initialResolution = 2 * math.Pi * EarthRadius / TileSize
)

func ValidZoom(zoom int) bool {
	return zoom >= 0 && zoom <= MaxZoom
}

func mustZoom(zoom int) {
	if !ValidZoom(zoom) {
		panic(fmt.Sprintf("mercator: zoom %d out of range 0..%d", zoom, MaxZoom))
	}
}

// TilesPerAxis returns 2^zoom.
func TilesPerAxis(zoom int) int {
	mustZoom(zoom)
	return 1 << uint(zoom)
}

// Resolution returns meters per pixel at the equator for the given zoom.
func Resolution(zoom int) float64 {
	mustZoom(zoom)
	return initialResolution / float64(uint64(1)<<uint(zoom))
}

func LatLonToMeters(lat, lon float64) (mx, my float64) {
	mx = lon * originShift / 180.0
	my = math.Log(math.Tan((90+lat)*math.Pi/360.0)) / (math.Pi / 180.0)
	my = my * originShift / 180.0
	return mx, my
}

func MetersToLatLon(mx, my float64) (lat, lon float64) {
	lon = (mx / originShift) * 180.0
	lat = (my / originShift) * 180.0
	lat = 180 / math.Pi * (2*math.Atan(math.Exp(lat*math.Pi/180.0)) - math.Pi/2.0)
	return lat, lon
}

func MetersToPixels(mx, my float64, zoom int) (px, py float64) {
	res := Resolution(zoom)
	px = (mx + originShift) / res
	py = (originShift - my) / res
	return px, py
}

func PixelsToMeters(px, py float64, zoom int) (mx, my float64) {
	res := Resolution(zoom)
	mx = px*res - originShift
	my = originShift - py*res
	return mx, my
}

// PixelsToTile returns the tile containing the pixel. The result is not
// clamped; see LatLonToTile for the clamped variant.
func PixelsToTile(px, py float64) (tx, ty int) {
	tx = int(math.Floor(px / TileSize))
	ty = int(math.Floor(py / TileSize))
	return tx, ty
}

// TileToPixels returns the pixel coordinates of the tile's north-west corner.
func TileToPixels(tx, ty int) (px, py float64) {
	return float64(tx) * TileSize, float64(ty) * TileSize
}

// LatLonToTile returns the tile containing the point, clamped to the grid so
// that lon=180 and lat=-MaxLatitude land on the last row/column.
func LatLonToTile(lat, lon float64, zoom int) (tx, ty int) {
	mx, my := LatLonToMeters(lat, lon)
	px, py := MetersToPixels(mx, my, zoom)
	tx, ty = PixelsToTile(px, py)
	n := TilesPerAxis(zoom)
	return clamp(tx, 0, n-1), clamp(ty, 0, n-1)
}

// TileMetersBounds returns minx, miny, maxx, maxy of the tile in meters.
func TileMetersBounds(tx, ty, zoom int) (minx, miny, maxx, maxy float64) {
	px0, py0 := TileToPixels(tx, ty)
	px1, py1 := TileToPixels(tx+1, ty+1)
	minx, maxy = PixelsToMeters(px0, py0, zoom)
	maxx, miny = PixelsToMeters(px1, py1, zoom)
	return minx, miny, maxx, maxy
}

// TileLatLonBounds returns [south, west, north, east] in degrees.
func TileLatLonBounds(tx, ty, zoom int) [4]float64 {
	minx, miny, maxx, maxy := TileMetersBounds(tx, ty, zoom)
	south, west := MetersToLatLon(minx, miny)
	north, east := MetersToLatLon(maxx, maxy)
	return [4]float64{south, west, north, east}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
