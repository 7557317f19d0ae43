// Copyright (c) 2024 Sudo-Ivan
// Licensed under the MIT License

// Package export renders stored layers in interchange formats.
package export

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ConvertGeoJSONToGPX converts a FeatureCollection to a GPX document.
// The function handles:
//   - Point and MultiPoint geometries as waypoints
//   - LineString geometries as tracks, one segment per part
//   - Polygon geometries as boundary tracks of their exterior rings
func ConvertGeoJSONToGPX(fc *geojson.FeatureCollection, layerName string) (string, error) {
	var waypoints strings.Builder
	var tracks strings.Builder

	for _, feature := range fc.Features {
		if feature.Geometry == nil {
			continue
		}

		name := escapeXML(getFeatureName(feature))
		desc := escapeXML(formatProperties(feature.Properties, ", "))

		switch geom := feature.Geometry.(type) {
		case orb.Point:
			writeWaypoint(&waypoints, geom, name, desc)
		case orb.MultiPoint:
			for _, p := range geom {
				writeWaypoint(&waypoints, p, name, desc)
			}
		case orb.LineString:
			writeTrack(&tracks, name, desc, geom)
		case orb.MultiLineString:
			writeTrack(&tracks, name, desc, geom...)
		case orb.Polygon:
			if len(geom) > 0 {
				writeTrack(&tracks, name+" (Boundary)", desc, orb.LineString(geom[0]))
			}
		case orb.MultiPolygon:
			var rings []orb.LineString
			for _, p := range geom {
				if len(p) > 0 {
					rings = append(rings, orb.LineString(p[0]))
				}
			}
			writeTrack(&tracks, name+" (Boundary)", desc, rings...)
		default:
			slog.Warn("unsupported geometry type for GPX conversion", "type", feature.Geometry.GeoJSONType(), "layer", layerName)
		}
	}

	gpx := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="%s"
    xmlns="http://www.topografix.com/GPX/1/1"
    xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"
    xsi:schemaLocation="http://www.topografix.com/GPX/1/1 http://www.topografix.com/GPX/1/1/gpx.xsd">
    <metadata>
        <name>%s</name>
    </metadata>%s
</gpx>`, GPXCreator, escapeXML(layerName), waypoints.String()+tracks.String())

	return gpx, nil
}

func writeWaypoint(b *strings.Builder, p orb.Point, name, desc string) {
	b.WriteString(fmt.Sprintf(`
    <wpt lat="%.10f" lon="%.10f">
        <name>%s</name>
        <desc>%s</desc>
    </wpt>`, p[1], p[0], name, desc))
}

func writeTrack(b *strings.Builder, name, desc string, segments ...orb.LineString) {
	if len(segments) == 0 {
		return
	}
	b.WriteString(fmt.Sprintf(`
    <trk>
        <name>%s</name>
        <desc>%s</desc>`, name, desc))
	for _, seg := range segments {
		b.WriteString(`
        <trkseg>`)
		for _, c := range seg {
			b.WriteString(fmt.Sprintf(GPXPointFormat, c[1], c[0]))
		}
		b.WriteString(`
        </trkseg>`)
	}
	b.WriteString(`
    </trk>`)
}
