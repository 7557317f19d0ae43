// Package geoproc holds the geometry operations used while preparing a
// site: buffering the study area, clipping extracted features to it,
// dissolving parcels and measuring area. Engine is the seam for swapping
// in a different geometry engine.
package geoproc

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"
	"github.com/peterstace/simplefeatures/geom"
)

// Engine performs geometry operations on WGS84 geometries.
type Engine interface {
	// Buffer grows g by meters. Zero or negative distances return g.
	Buffer(g orb.Geometry, meters float64) orb.Geometry
	// Clip cuts g to the outline of area, returning nil when nothing of
	// g's dimension remains.
	Clip(g, area orb.Geometry) orb.Geometry
	// Intersects reports whether g touches area.
	Intersects(g, area orb.Geometry) bool
	// Within reports whether g's centroid lies inside area.
	Within(g, area orb.Geometry) bool
	// Dissolve unions polygonal parts into one multipart geometry.
	Dissolve(parts ...orb.Geometry) orb.MultiPolygon
	// Area is the geodesic area of g in square meters.
	Area(g orb.Geometry) float64
}

// Planar is the default Engine. Overlay operations run through
// simplefeatures; buffers are built in a local metric frame centred on
// the geometry.
type Planar struct{}

var _ Engine = Planar{}

// circleSegments is the number of sides of the polygon standing in for
// the round end of a buffered vertex.
const circleSegments = 16

// Buffer unions g with a rectangle around every edge and a circle around
// every vertex. Non-polygonal input, or an overlay failure, falls back to
// the padded bounding box, which always covers the true buffer.
func (Planar) Buffer(g orb.Geometry, meters float64) orb.Geometry {
	if g == nil || meters <= 0 {
		return g
	}
	padded := geo.BoundPad(g.Bound(), meters).ToPolygon()
	polys := polygons(g)
	if len(polys) == 0 {
		return padded
	}

	frame := newLocalFrame(g.Bound().Center())
	local := project.Geometry(orb.Clone(polys), frame.forward).(orb.MultiPolygon)

	pieces := []orb.Geometry{local}
	for _, poly := range local {
		for _, ring := range poly {
			for i := 1; i < len(ring); i++ {
				if edge := edgeRect(ring[i-1], ring[i], meters); edge != nil {
					pieces = append(pieces, edge)
				}
			}
			for _, p := range ring {
				pieces = append(pieces, circle(p, meters))
			}
		}
	}
	merged, err := unionAll(pieces)
	if err != nil {
		return padded
	}
	out := polygons(merged)
	if len(out) == 0 {
		return padded
	}
	back := project.Geometry(out, frame.inverse).(orb.MultiPolygon)
	if len(back) == 1 {
		return back[0]
	}
	return back
}

// Clip intersects g with area. Parts of a lower dimension than g, such as
// the shared edge of a polygon touching area, are discarded.
func (e Planar) Clip(g, area orb.Geometry) orb.Geometry {
	if g == nil || area == nil || !e.Intersects(g, area) {
		return nil
	}
	out, err := overlay(geom.Intersection, g, area)
	if err != nil {
		out = clip.Geometry(area.Bound(), orb.Clone(g))
	}
	return keepDimension(out, g.Dimensions())
}

func (Planar) Intersects(g, area orb.Geometry) bool {
	if g == nil || area == nil || !g.Bound().Intersects(area.Bound()) {
		return false
	}
	for _, p := range vertices(g) {
		if Contains(area, p) {
			return true
		}
	}
	for _, p := range vertices(area) {
		if Contains(g, p) {
			return true
		}
	}
	return segmentsCross(g, area)
}

func (Planar) Within(g, area orb.Geometry) bool {
	if g == nil || area == nil {
		return false
	}
	c, _ := planar.CentroidArea(g)
	return Contains(area, c)
}

// Dissolve unions the polygonal parts. Overlapping parcels are counted
// once. If the overlay fails the parts are returned side by side.
func (Planar) Dissolve(parts ...orb.Geometry) orb.MultiPolygon {
	var collected orb.MultiPolygon
	for _, p := range parts {
		collected = append(collected, polygons(p)...)
	}
	if len(collected) < 2 {
		return collected
	}
	pieces := make([]orb.Geometry, len(collected))
	for i, p := range collected {
		pieces[i] = p
	}
	merged, err := unionAll(pieces)
	if err != nil {
		return collected
	}
	if out := polygons(merged); len(out) > 0 {
		return out
	}
	return collected
}

func (Planar) Area(g orb.Geometry) float64 {
	if g == nil {
		return 0
	}
	return math.Abs(geo.Area(g))
}

// polygons collects the polygonal parts of g.
func polygons(g orb.Geometry) orb.MultiPolygon {
	var out orb.MultiPolygon
	switch v := g.(type) {
	case orb.Polygon:
		if len(v) > 0 {
			out = append(out, v)
		}
	case orb.MultiPolygon:
		for _, poly := range v {
			if len(poly) > 0 {
				out = append(out, poly)
			}
		}
	case orb.Bound:
		out = append(out, v.ToPolygon())
	case orb.Ring:
		if len(v) > 0 {
			out = append(out, orb.Polygon{v})
		}
	case orb.Collection:
		for _, child := range v {
			out = append(out, polygons(child)...)
		}
	}
	return out
}

// keepDimension drops the parts of g whose dimension is below dim and
// returns nil when nothing is left.
func keepDimension(g orb.Geometry, dim int) orb.Geometry {
	if IsEmpty(g) {
		return nil
	}
	if c, ok := g.(orb.Collection); ok {
		var kept orb.Collection
		for _, child := range c {
			if child = keepDimension(child, dim); child != nil {
				kept = append(kept, child)
			}
		}
		switch len(kept) {
		case 0:
			return nil
		case 1:
			return kept[0]
		}
		if dim == 2 {
			return polygons(kept)
		}
		return kept
	}
	if g.Dimensions() < dim {
		return nil
	}
	return g
}

// overlay runs a simplefeatures binary operation on two orb geometries.
func overlay(op func(a, b geom.Geometry) (geom.Geometry, error), a, b orb.Geometry) (orb.Geometry, error) {
	ga, err := toGeom(a)
	if err != nil {
		return nil, err
	}
	gb, err := toGeom(b)
	if err != nil {
		return nil, err
	}
	out, err := op(ga, gb)
	if err != nil {
		return nil, err
	}
	return fromGeom(out)
}

// unionAll unions pieces pairwise so each overlay works on inputs of
// similar size.
func unionAll(pieces []orb.Geometry) (orb.Geometry, error) {
	switch len(pieces) {
	case 0:
		return nil, nil
	case 1:
		return pieces[0], nil
	}
	mid := len(pieces) / 2
	left, err := unionAll(pieces[:mid])
	if err != nil {
		return nil, err
	}
	right, err := unionAll(pieces[mid:])
	if err != nil {
		return nil, err
	}
	if IsEmpty(left) {
		return right, nil
	}
	if IsEmpty(right) {
		return left, nil
	}
	return overlay(geom.Union, left, right)
}

func toGeom(g orb.Geometry) (geom.Geometry, error) {
	if b, ok := g.(orb.Bound); ok {
		g = b.ToPolygon()
	}
	if r, ok := g.(orb.Ring); ok {
		g = orb.Polygon{r}
	}
	data, err := wkb.Marshal(g)
	if err != nil {
		return geom.Geometry{}, err
	}
	return geom.UnmarshalWKB(data)
}

func fromGeom(g geom.Geometry) (orb.Geometry, error) {
	if g.IsEmpty() {
		return nil, nil
	}
	return wkb.Unmarshal(g.AsBinary())
}

// edgeRect is the rectangle covering every point within d of segment a-b.
func edgeRect(a, b orb.Point, d float64) orb.Polygon {
	dx, dy := b[0]-a[0], b[1]-a[1]
	length := math.Hypot(dx, dy)
	if length == 0 {
		return nil
	}
	nx, ny := -dy/length*d, dx/length*d
	return orb.Polygon{{
		{a[0] + nx, a[1] + ny},
		{b[0] + nx, b[1] + ny},
		{b[0] - nx, b[1] - ny},
		{a[0] - nx, a[1] - ny},
		{a[0] + nx, a[1] + ny},
	}}
}

func circle(c orb.Point, r float64) orb.Polygon {
	ring := make(orb.Ring, 0, circleSegments+1)
	for i := 0; i < circleSegments; i++ {
		a := 2 * math.Pi * float64(i) / circleSegments
		ring = append(ring, orb.Point{c[0] + r*math.Cos(a), c[1] + r*math.Sin(a)})
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}

// localFrame maps WGS84 degrees to meters east and north of an origin.
// The scale is fixed at the origin latitude, which is accurate over the
// extent of a site.
type localFrame struct {
	origin orb.Point
	kx, ky float64
}

func newLocalFrame(origin orb.Point) localFrame {
	ky := orb.EarthRadius * math.Pi / 180
	return localFrame{origin: origin, kx: ky * math.Cos(origin[1]*math.Pi/180), ky: ky}
}

func (f localFrame) forward(p orb.Point) orb.Point {
	return orb.Point{(p[0] - f.origin[0]) * f.kx, (p[1] - f.origin[1]) * f.ky}
}

func (f localFrame) inverse(p orb.Point) orb.Point {
	return orb.Point{p[0]/f.kx + f.origin[0], p[1]/f.ky + f.origin[1]}
}

// Contains reports whether p lies inside a polygonal geometry. Points and
// lines contain nothing.
func Contains(g orb.Geometry, p orb.Point) bool {
	switch a := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(a, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(a, p)
	case orb.Ring:
		return planar.RingContains(a, p)
	case orb.Bound:
		return a.Contains(p)
	case orb.Collection:
		for _, child := range a {
			if Contains(child, p) {
				return true
			}
		}
	}
	return false
}

// IsEmpty reports whether g is nil or has no coordinates.
func IsEmpty(g orb.Geometry) bool {
	if g == nil {
		return true
	}
	return len(vertices(g)) == 0
}

func vertices(g orb.Geometry) []orb.Point {
	switch v := g.(type) {
	case orb.Point:
		return []orb.Point{v}
	case orb.MultiPoint:
		return v
	case orb.LineString:
		return v
	case orb.Ring:
		return v
	case orb.MultiLineString:
		var pts []orb.Point
		for _, ls := range v {
			pts = append(pts, ls...)
		}
		return pts
	case orb.Polygon:
		var pts []orb.Point
		for _, r := range v {
			pts = append(pts, r...)
		}
		return pts
	case orb.MultiPolygon:
		var pts []orb.Point
		for _, p := range v {
			pts = append(pts, vertices(p)...)
		}
		return pts
	case orb.Bound:
		return vertices(v.ToRing())
	case orb.Collection:
		var pts []orb.Point
		for _, child := range v {
			pts = append(pts, vertices(child)...)
		}
		return pts
	}
	return nil
}

func segments(g orb.Geometry) [][2]orb.Point {
	var segs [][2]orb.Point
	add := func(pts []orb.Point) {
		for i := 1; i < len(pts); i++ {
			segs = append(segs, [2]orb.Point{pts[i-1], pts[i]})
		}
	}
	switch v := g.(type) {
	case orb.LineString:
		add(v)
	case orb.Ring:
		add(v)
	case orb.MultiLineString:
		for _, ls := range v {
			add(ls)
		}
	case orb.Polygon:
		for _, r := range v {
			add(r)
		}
	case orb.MultiPolygon:
		for _, p := range v {
			for _, r := range p {
				add(r)
			}
		}
	case orb.Bound:
		add(v.ToRing())
	case orb.Collection:
		for _, child := range v {
			segs = append(segs, segments(child)...)
		}
	}
	return segs
}

func segmentsCross(a, b orb.Geometry) bool {
	sb := segments(b)
	for _, s1 := range segments(a) {
		for _, s2 := range sb {
			if cross(s1[0], s1[1], s2[0], s2[1]) {
				return true
			}
		}
	}
	return false
}

func cross(p1, p2, p3, p4 orb.Point) bool {
	d1 := direction(p3, p4, p1)
	d2 := direction(p3, p4, p2)
	d3 := direction(p1, p2, p3)
	d4 := direction(p1, p2, p4)
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}

func direction(a, b, c orb.Point) float64 {
	return (c[0]-a[0])*(b[1]-a[1]) - (b[0]-a[0])*(c[1]-a[1])
}
