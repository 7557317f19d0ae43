package export

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ConvertGeoJSONToKML converts a FeatureCollection to a KML document.
// Multi-part geometries are written as a MultiGeometry placemark.
func ConvertGeoJSONToKML(fc *geojson.FeatureCollection, layerName string) (string, error) {
	var placemarks strings.Builder
	for _, feature := range fc.Features {
		if feature.Geometry == nil {
			continue
		}

		geometryString := kmlGeometry(feature.Geometry)
		if geometryString == "" {
			slog.Warn("unsupported geometry type for KML conversion", "type", feature.Geometry.GeoJSONType(), "layer", layerName)
			continue
		}

		placemarks.WriteString(fmt.Sprintf(`
        <Placemark>
            <name>%s</name>
            <description><![CDATA[%s]]></description>
            %s
        </Placemark>`, escapeXML(getFeatureName(feature)), formatProperties(feature.Properties), geometryString))
	}

	kml := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
    <Document>
        <name>%s</name>%s
    </Document>
</kml>`, escapeXML(layerName), placemarks.String())

	return kml, nil
}

func kmlGeometry(g orb.Geometry) string {
	switch geom := g.(type) {
	case orb.Point:
		return fmt.Sprintf("<Point><coordinates>"+KMLCoordFormat+"</coordinates></Point>", geom[0], geom[1])
	case orb.LineString:
		if len(geom) == 0 {
			return ""
		}
		return fmt.Sprintf("<LineString><coordinates>%s</coordinates></LineString>", kmlCoords(geom))
	case orb.Polygon:
		if len(geom) == 0 {
			return ""
		}
		var b strings.Builder
		b.WriteString("<Polygon>")
		b.WriteString(fmt.Sprintf("<outerBoundaryIs><LinearRing><coordinates>%s</coordinates></LinearRing></outerBoundaryIs>", kmlCoords(geom[0])))
		for _, inner := range geom[1:] {
			b.WriteString(fmt.Sprintf("<innerBoundaryIs><LinearRing><coordinates>%s</coordinates></LinearRing></innerBoundaryIs>", kmlCoords(inner)))
		}
		b.WriteString("</Polygon>")
		return b.String()
	case orb.MultiPoint:
		parts := make([]orb.Geometry, len(geom))
		for i, p := range geom {
			parts[i] = p
		}
		return kmlMulti(parts)
	case orb.MultiLineString:
		parts := make([]orb.Geometry, len(geom))
		for i, ls := range geom {
			parts[i] = ls
		}
		return kmlMulti(parts)
	case orb.MultiPolygon:
		parts := make([]orb.Geometry, len(geom))
		for i, p := range geom {
			parts[i] = p
		}
		return kmlMulti(parts)
	}
	return ""
}

func kmlMulti(parts []orb.Geometry) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(kmlGeometry(p))
	}
	if b.Len() == 0 {
		return ""
	}
	return "<MultiGeometry>" + b.String() + "</MultiGeometry>"
}

func kmlCoords[T ~[]orb.Point](pts T) string {
	coordStr := make([]string, len(pts))
	for i, c := range pts {
		coordStr[i] = fmt.Sprintf(KMLCoordFormat, c[0], c[1])
	}
	return strings.Join(coordStr, KMLSpace)
}

// getFeatureName extracts a suitable name from a feature's properties.
func getFeatureName(feature *geojson.Feature) string {
	if feature == nil {
		return DefaultName
	}
	props := feature.Properties
	for _, key := range nameKeys {
		if val, ok := props[key]; ok && val != nil {
			return fmt.Sprintf("%v", val)
		}
	}
	return DefaultName
}

// formatProperties formats properties as "<strong>key</strong>: value"
// pairs in key order.
func formatProperties(props map[string]interface{}, separator ...string) string {
	sep := HTMLSeparator
	if len(separator) > 0 {
		sep = separator[0]
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		if k == "geometry" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("<strong>%s</strong>: %v", escapeXML(k), escapeXML(fmt.Sprintf("%v", props[k]))))
	}
	return strings.Join(parts, sep)
}

// escapeXML escapes XML special characters in a string.
func escapeXML(s string) string {
	return strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&apos;",
		"/", "&#x2F;",
	).Replace(s)
}
