package geoproc

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

func square(x, y, side float64) orb.Polygon {
	return orb.Polygon{{{x, y}, {x, y + side}, {x + side, y + side}, {x + side, y}, {x, y}}}
}

func TestBuffer(t *testing.T) {
	e := Planar{}
	site := square(151, -34, 0.01)

	if got := e.Buffer(site, 0); !orb.Equal(got, site) {
		t.Errorf("zero buffer changed geometry: %v", got)
	}
	if got := e.Buffer(site, -5); !orb.Equal(got, site) {
		t.Errorf("negative buffer changed geometry: %v", got)
	}

	buffered := e.Buffer(site, 500)
	b, sb := buffered.Bound(), site.Bound()
	if !(b.Min[0] < sb.Min[0] && b.Min[1] < sb.Min[1] && b.Max[0] > sb.Max[0] && b.Max[1] > sb.Max[1]) {
		t.Errorf("buffered bound %v does not enclose %v", b, sb)
	}
	// 500 m is roughly 0.0045 degrees of latitude.
	if pad := sb.Min[1] - b.Min[1]; pad < 0.004 || pad > 0.005 {
		t.Errorf("latitude pad = %f degrees", pad)
	}
}

func TestClip(t *testing.T) {
	e := Planar{}
	area := square(0, 0, 10)

	tests := []struct {
		name    string
		feature orb.Geometry
		wantNil bool
		maxX    float64
	}{
		{"Inside untouched", square(2, 2, 2), false, 4},
		{"Overlapping trimmed", square(8, 2, 4), false, 10},
		{"Outside dropped", square(20, 20, 1), true, 0},
		{"Line trimmed", orb.LineString{{-5, 5}, {15, 5}}, false, 10},
		{"Point outside dropped", orb.Point{11, 11}, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Clip(tt.feature, area)
			if tt.wantNil {
				if got != nil {
					t.Errorf("Clip = %v; want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("Clip returned nil")
			}
			if mx := got.Bound().Max[0]; math.Abs(mx-tt.maxX) > 1e-9 {
				t.Errorf("clipped max x = %f; want %f", mx, tt.maxX)
			}
		})
	}
}

func TestIntersectsAndWithin(t *testing.T) {
	e := Planar{}
	area := square(0, 0, 10)

	tests := []struct {
		name           string
		g              orb.Geometry
		wantIntersects bool
		wantWithin     bool
	}{
		{"Inside", square(2, 2, 2), true, true},
		{"Straddling edge", square(9, 4, 4), true, false},
		{"Crossing without shared vertices", orb.Polygon{{{-1, 4}, {-1, 6}, {11, 6}, {11, 4}, {-1, 4}}}, true, true},
		{"Enclosing", square(-5, -5, 20), true, true},
		{"Disjoint", square(20, 20, 1), false, false},
		{"Point inside", orb.Point{5, 5}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Intersects(tt.g, area); got != tt.wantIntersects {
				t.Errorf("Intersects = %v; want %v", got, tt.wantIntersects)
			}
			if got := e.Within(tt.g, area); got != tt.wantWithin {
				t.Errorf("Within = %v; want %v", got, tt.wantWithin)
			}
		})
	}
}

func TestDissolveAndArea(t *testing.T) {
	e := Planar{}
	a := square(151, -34, 0.001)
	single := e.Area(a)
	// 0.001 degrees is about 111 m north-south and 92 m east-west at 34S.
	if single < 9000 || single > 11000 {
		t.Errorf("Area = %f m2; want about 10200", single)
	}
	if e.Area(nil) != 0 {
		t.Error("Area(nil) != 0")
	}

	tests := []struct {
		name      string
		parts     []orb.Geometry
		wantParts int
		wantArea  float64
	}{
		{"Touching squares merge", []orb.Geometry{a, orb.MultiPolygon{square(151.001, -34, 0.001)}, nil, orb.Point{1, 1}}, 1, 2 * single},
		{"Overlap counted once", []orb.Geometry{a, square(151.0005, -34, 0.001)}, 1, 1.5 * single},
		{"Disjoint kept apart", []orb.Geometry{a, square(151.005, -34, 0.001)}, 2, 2 * single},
		{"Single part", []orb.Geometry{a}, 1, single},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mp := e.Dissolve(tt.parts...)
			if len(mp) != tt.wantParts {
				t.Fatalf("Dissolve parts = %d; want %d", len(mp), tt.wantParts)
			}
			if total := e.Area(mp); math.Abs(total-tt.wantArea) > 0.01*tt.wantArea {
				t.Errorf("dissolved area = %f; want %f", total, tt.wantArea)
			}
		})
	}
}

// lShape is a 10x10 square with its upper right 6x6 corner removed,
// scaled by unit and offset to origin.
func lShape(origin orb.Point, unit float64) orb.Polygon {
	pts := []orb.Point{{0, 0}, {10, 0}, {10, 4}, {4, 4}, {4, 10}, {0, 10}, {0, 0}}
	ring := make(orb.Ring, len(pts))
	for i, p := range pts {
		ring[i] = orb.Point{origin[0] + p[0]*unit, origin[1] + p[1]*unit}
	}
	return orb.Polygon{ring}
}

func TestClipLShape(t *testing.T) {
	e := Planar{}
	site := lShape(orb.Point{0, 0}, 1)

	tests := []struct {
		name     string
		feature  orb.Geometry
		wantNil  bool
		wantArea float64
	}{
		{"Inside notch dropped", square(6, 6, 3), true, 0},
		{"Straddling notch corner trimmed", square(2, 2, 4), false, 12},
		{"Inside arm untouched", square(1, 6, 2), false, 4},
		{"Covering whole site", square(-1, -1, 12), false, 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Clip(tt.feature, site)
			if tt.wantNil {
				if got != nil {
					t.Errorf("Clip = %v; want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("Clip returned nil")
			}
			if area := planar.Area(got); math.Abs(area-tt.wantArea) > 1e-6 {
				t.Errorf("clipped area = %f; want %f", area, tt.wantArea)
			}
			if got.Dimensions() != 2 {
				t.Errorf("clipped dimension = %d; want 2", got.Dimensions())
			}
		})
	}
}

func TestClipTouchingEdge(t *testing.T) {
	e := Planar{}
	// Shares only the x=10 edge with the area.
	if got := e.Clip(square(10, 2, 2), square(0, 0, 10)); got != nil {
		t.Errorf("Clip = %v; want nil for edge contact", got)
	}
}

func TestBufferLShape(t *testing.T) {
	e := Planar{}
	const u = 0.001
	origin := orb.Point{151, -34}
	site := lShape(origin, u)
	at := func(x, y float64) orb.Point { return orb.Point{origin[0] + x*u, origin[1] + y*u} }

	buffered := e.Buffer(site, 100)
	tests := []struct {
		name string
		p    orb.Point
		want bool
	}{
		{"Inside site", at(2, 2), true},
		{"Just past east edge", at(10.5, 2), true},
		{"Just past notch edge", at(5, 4.5), true},
		{"Deep in notch", at(9, 9), false},
		{"Far outside", at(20, 20), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Contains(buffered, tt.p); got != tt.want {
				t.Errorf("Contains(%v) = %v; want %v", tt.p, got, tt.want)
			}
		})
	}

	if got, bbox := e.Area(buffered), e.Area(geo.BoundPad(site.Bound(), 100).ToPolygon()); got >= bbox {
		t.Errorf("buffered area %f not below padded bound area %f", got, bbox)
	}
}

func TestIsEmpty(t *testing.T) {
	if !IsEmpty(nil) || !IsEmpty(orb.Polygon(nil)) || !IsEmpty(orb.MultiPolygon{}) {
		t.Error("empty geometries not detected")
	}
	if IsEmpty(orb.Point{0, 0}) {
		t.Error("point reported empty")
	}
}
