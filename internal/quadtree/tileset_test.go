package quadtree

import (
	"math"
	"sort"
	"testing"

	"github.com/mohammed-shakir/quadtile-crawler/internal/mercator"
)

func codesOf(tiles []Tile) map[string]struct{} {
	out := make(map[string]struct{}, len(tiles))
	for _, t := range tiles {
		out[t.ToIndex()] = struct{}{}
	}
	return out
}

func TestTilesCoveringBounds_DegenerateIsOneTile(t *testing.T) {
	tiles := TilesCoveringBounds(10, 10, 10, 10, 18)
	if len(tiles) != 1 {
		t.Fatalf("len=%d want 1", len(tiles))
	}
}

func TestTilesCoveringBounds_IncludesCorners(t *testing.T) {
	boxes := [][4]float64{
		{37.70, -122.52, 37.82, -122.35},
		{-33.95, 151.10, -33.80, 151.30},
		{-0.05, -0.05, 0.05, 0.05},
		{59.30, 17.95, 59.40, 18.15},
	}
	for _, bb := range boxes {
		for _, z := range []int{10, 13, 15} {
			got := codesOf(TilesCoveringBounds(bb[0], bb[1], bb[2], bb[3], z))
			corners := [][2]float64{{bb[0], bb[1]}, {bb[0], bb[3]}, {bb[2], bb[1]}, {bb[2], bb[3]}}
			for _, c := range corners {
				ct, _ := TileFromLatLon(c[0], c[1], z)
				if _, ok := got[ct.ToIndex()]; !ok {
					t.Fatalf("bounds %v z=%d missing corner tile %s", bb, z, ct.ToIndex())
				}
			}
		}
	}
}

func TestTilesCoveringBounds_GridSizeAndUnique(t *testing.T) {
	tiles := TilesCoveringBounds(37.70, -122.52, 37.82, -122.35, 14)
	x0, y0 := mercator.LatLonToTile(37.70, -122.52, 14)
	x1, y1 := mercator.LatLonToTile(37.82, -122.35, 14)
	want := (x1 - x0 + 1) * (y0 - y1 + 1)
	if len(tiles) != want {
		t.Fatalf("len=%d want %d", len(tiles), want)
	}
	if len(codesOf(tiles)) != len(tiles) {
		t.Fatalf("duplicate tiles in coverage")
	}
}

func TestTilesCoveringBounds_SwappedCornersSameSet(t *testing.T) {
	a := codesOf(TilesCoveringBounds(37.70, -122.52, 37.82, -122.35, 14))
	b := codesOf(TilesCoveringBounds(37.82, -122.35, 37.70, -122.52, 14))
	if len(a) != len(b) {
		t.Fatalf("len a=%d b=%d", len(a), len(b))
	}
	for c := range a {
		if _, ok := b[c]; !ok {
			t.Fatalf("%s missing from swapped coverage", c)
		}
	}
}

func TestMostSignificantCodes_FiveShortest(t *testing.T) {
	codes := []string{"0123", "01", "3", "0000000", "22", "0120", "012", "1111111111", "2", "33333"}
	got := MostSignificantCodes(5, codes)
	want := []string{"3", "2", "01", "22", "012"}
	sort.Strings(got)
	sort.Strings(want)
	if len(got) != len(want) {
		t.Fatalf("got=%v want=%v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("got=%v want=%v", got, want)
		}
	}
	if len(MostSignificantCodes(50, codes)) != len(codes) {
		t.Fatalf("n larger than input must return all codes")
	}
	if MostSignificantCodes(0, codes) != nil {
		t.Fatalf("n=0 must return nil")
	}
	if codes[0] != "0123" {
		t.Fatalf("input slice must not be reordered")
	}
}

func TestParentTile(t *testing.T) {
	tiles := []Tile{MustCode("0230"), MustCode("0231"), MustCode("02301")}
	p, ok := ParentTile(tiles)
	if !ok || p.ToIndex() != "023" {
		t.Fatalf("parent=%q ok=%v want 023", p.ToIndex(), ok)
	}
	if _, ok := ParentTile([]Tile{MustCode("01"), MustCode("10")}); ok {
		t.Fatalf("tiles in different root quadrants must have no parent")
	}
	if _, ok := ParentTile(nil); ok {
		t.Fatalf("empty set must have no parent")
	}
	single := MustCode("0312")
	if p, ok := ParentTile([]Tile{single}); !ok || p != single {
		t.Fatalf("single tile parent=%v ok=%v", p, ok)
	}
}

func TestBoundsFromTiles_ChildrenEqualParent(t *testing.T) {
	parent := MustCode("02301")
	kids, _ := parent.Children()
	got := BoundsFromTiles(kids[:])
	want := parent.ToBounds()
	for i, v := range got.Array() {
		if math.Abs(v-want[i]) > 1e-9 {
			t.Fatalf("bounds[%d]=%v want %v", i, v, want[i])
		}
	}
	if BoundsFromTiles(nil).IsSet() {
		t.Fatalf("empty tile set must give unset bounds")
	}
}

func TestBoundsFromCenterAndSpan(t *testing.T) {
	b := BoundsFromCenterAndSpan(37.7749, -122.4194, 2000, 1000)
	if !b.Contains(37.7749, -122.4194) {
		t.Fatalf("bounds %v must contain center", b.Array())
	}
	minx, miny := mercator.LatLonToMeters(b.South(), b.West())
	maxx, maxy := mercator.LatLonToMeters(b.North(), b.East())
	if math.Abs((maxy-miny)-2000) > 1e-6 || math.Abs((maxx-minx)-1000) > 1e-6 {
		t.Fatalf("span=(%v,%v) want (1000,2000)", maxx-minx, maxy-miny)
	}
}

func TestLimitBoundsToSpan_NoOpWhenSmaller(t *testing.T) {
	b, _ := NewBounds(37.77, -122.42, 37.78, -122.41)
	got := LimitBoundsToSpan(b, 100000)
	for i, v := range got.Array() {
		if math.Abs(v-b.Array()[i]) > 1e-9 {
			t.Fatalf("bounds changed: %v -> %v", b.Array(), got.Array())
		}
	}
}

func TestLimitBoundsToSpan_ClampsAroundCenter(t *testing.T) {
	b, _ := NewBounds(37.0, -123.0, 38.0, -122.0)
	got := LimitBoundsToSpan(b, 5000)

	minx, miny := mercator.LatLonToMeters(got.South(), got.West())
	maxx, maxy := mercator.LatLonToMeters(got.North(), got.East())
	if math.Abs((maxx-minx)-5000) > 1e-6 || math.Abs((maxy-miny)-5000) > 1e-6 {
		t.Fatalf("clamped span=(%v,%v) want 5000", maxx-minx, maxy-miny)
	}

	bx0, by0 := mercator.LatLonToMeters(b.South(), b.West())
	bx1, by1 := mercator.LatLonToMeters(b.North(), b.East())
	if math.Abs((minx+maxx)/2-(bx0+bx1)/2) > 1e-6 || math.Abs((miny+maxy)/2-(by0+by1)/2) > 1e-6 {
		t.Fatalf("clamped bounds not centered on original")
	}
	if LimitBoundsToSpan(Bounds{}, 10).IsSet() {
		t.Fatalf("unset bounds must stay unset")
	}
}

func TestHaversineDistance(t *testing.T) {
	if d := HaversineDistance(10, 10, 10, 10); d != 0 {
		t.Fatalf("same point distance=%v", d)
	}
	d := HaversineDistance(0, 0, 0, 1)
	if math.Abs(d-111194.93) > 0.01 {
		t.Fatalf("one degree on equator=%v want ~111194.93", d)
	}
	if math.Abs(HaversineDistance(37, -122, 38, -121)-HaversineDistance(38, -121, 37, -122)) > 1e-9 {
		t.Fatalf("distance must be symmetric")
	}
}
