// Copyright (c) 2025 Sudo-Ivan
// Licensed under the MIT License

package convert

import (
	"fmt"

	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/arcgis"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// ToOrb converts an Esri JSON geometry to an orb geometry.
// Polygon rings are grouped using Esri orientation rules: clockwise rings
// are exteriors and counter-clockwise rings are holes of the exterior that
// contains them. A nil or empty geometry returns nil.
func ToOrb(g *arcgis.Geometry) (orb.Geometry, error) {
	if g.IsEmpty() {
		return nil, nil
	}
	switch {
	case g.X != nil && g.Y != nil:
		return orb.Point{*g.X, *g.Y}, nil
	case len(g.Points) > 0:
		mp := make(orb.MultiPoint, 0, len(g.Points))
		for _, c := range g.Points {
			if len(c) < 2 {
				return nil, fmt.Errorf("multipoint coordinate has %d values", len(c))
			}
			mp = append(mp, orb.Point{c[0], c[1]})
		}
		return mp, nil
	case len(g.Paths) > 0:
		mls := make(orb.MultiLineString, 0, len(g.Paths))
		for _, path := range g.Paths {
			ls, err := toLineString(path)
			if err != nil {
				return nil, err
			}
			mls = append(mls, ls)
		}
		if len(mls) == 1 {
			return mls[0], nil
		}
		return mls, nil
	default:
		return ringsToOrb(g.Rings)
	}
}

func toLineString(coords [][]float64) (orb.LineString, error) {
	ls := make(orb.LineString, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			return nil, fmt.Errorf("coordinate has %d values", len(c))
		}
		ls = append(ls, orb.Point{c[0], c[1]})
	}
	return ls, nil
}

func ringsToOrb(rings [][][]float64) (orb.Geometry, error) {
	var exteriors []orb.Polygon
	var holes []orb.Ring
	for _, coords := range rings {
		ls, err := toLineString(coords)
		if err != nil {
			return nil, err
		}
		ring := closeRing(orb.Ring(ls))
		if len(ring) < MinRingPoints {
			continue
		}
		if ring.Orientation() == orb.CCW {
			holes = append(holes, ring)
			continue
		}
		exteriors = append(exteriors, orb.Polygon{ring})
	}

	// Counter-clockwise-only input comes from sources that ignore Esri
	// winding; treat every ring as an exterior.
	if len(exteriors) == 0 {
		for _, h := range holes {
			exteriors = append(exteriors, orb.Polygon{reversed(h)})
		}
		holes = nil
	}
	if len(exteriors) == 0 {
		return nil, nil
	}

	for _, h := range holes {
		placed := false
		for i := range exteriors {
			if planar.RingContains(exteriors[i][0], h[0]) {
				exteriors[i] = append(exteriors[i], h)
				placed = true
				break
			}
		}
		if !placed {
			exteriors = append(exteriors, orb.Polygon{reversed(h)})
		}
	}

	if len(exteriors) == 1 {
		return exteriors[0], nil
	}
	return orb.MultiPolygon(exteriors), nil
}

// FromOrb converts an orb geometry to Esri JSON in the given spatial
// reference. Exterior rings are written clockwise and holes counter-clockwise.
func FromOrb(g orb.Geometry, wkid int) (*arcgis.Geometry, error) {
	out := &arcgis.Geometry{}
	if wkid != 0 {
		out.SpatialReference = &arcgis.SpatialReference{WKID: wkid}
	}
	switch geom := g.(type) {
	case nil:
		return nil, nil
	case orb.Point:
		x, y := geom[0], geom[1]
		out.X, out.Y = &x, &y
	case orb.MultiPoint:
		for _, p := range geom {
			out.Points = append(out.Points, []float64{p[0], p[1]})
		}
	case orb.LineString:
		out.Paths = [][][]float64{coordsOf(geom)}
	case orb.MultiLineString:
		for _, ls := range geom {
			out.Paths = append(out.Paths, coordsOf(ls))
		}
	case orb.Ring:
		out.Rings = [][][]float64{coordsOf(oriented(geom, orb.CW))}
	case orb.Polygon:
		out.Rings = polygonRings(geom)
	case orb.MultiPolygon:
		for _, p := range geom {
			out.Rings = append(out.Rings, polygonRings(p)...)
		}
	case orb.Bound:
		out.Rings = polygonRings(geom.ToPolygon())
	default:
		return nil, fmt.Errorf("unsupported geometry type %s", g.GeoJSONType())
	}
	return out, nil
}

func polygonRings(p orb.Polygon) [][][]float64 {
	rings := make([][][]float64, 0, len(p))
	for i, r := range p {
		want := orb.CCW
		if i == 0 {
			want = orb.CW
		}
		rings = append(rings, coordsOf(oriented(closeRing(r), want)))
	}
	return rings
}

func coordsOf[T ~[]orb.Point](pts T) [][]float64 {
	out := make([][]float64, len(pts))
	for i, p := range pts {
		out[i] = []float64{p[0], p[1]}
	}
	return out
}

func closeRing(r orb.Ring) orb.Ring {
	if len(r) > 0 && !r.Closed() {
		r = append(r[:len(r):len(r)], r[0])
	}
	return r
}

func oriented(r orb.Ring, want orb.Orientation) orb.Ring {
	if r.Orientation() == -want {
		return reversed(r)
	}
	return r
}

func reversed(r orb.Ring) orb.Ring {
	out := make(orb.Ring, len(r))
	for i, p := range r {
		out[len(r)-1-i] = p
	}
	return out
}
