// Copyright (c) 2025 Sudo-Ivan
// Licensed under the MIT License

// Package convert provides functions for converting between different geospatial data formats.
package convert

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"

	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/arcgis"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
)

// ToFeatureCollection converts Esri features to a GeoJSON FeatureCollection.
// Features whose geometry is missing or cannot be converted are left out
// and counted in skipped.
func ToFeatureCollection(features []arcgis.Feature) (fc *geojson.FeatureCollection, skipped int) {
	fc = geojson.NewFeatureCollection()
	for _, feature := range features {
		geom, err := ToOrb(feature.Geometry)
		if err != nil || geom == nil {
			skipped++
			continue
		}
		f := geojson.NewFeature(geom)
		for k, v := range feature.Attributes {
			f.Properties[k] = v
		}
		fc.Append(f)
	}
	return fc, skipped
}

// FeaturesToCSV converts a FeatureCollection to a CSV string.
// The CSV includes:
//   - All unique property names as sorted columns
//   - WKT geometry representation in the last column
func FeaturesToCSV(fc *geojson.FeatureCollection) (string, error) {
	if fc == nil || len(fc.Features) == 0 {
		return "", nil
	}

	headers := propertyKeys(fc)
	headers = append(headers, WKTColumn)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(headers); err != nil {
		return "", fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, feature := range fc.Features {
		row := make([]string, len(headers))
		for i, header := range headers {
			if i == len(headers)-1 {
				row[i] = geometryToWKT(feature)
				continue
			}
			if val, ok := feature.Properties[header]; ok && val != nil {
				row[i] = fmt.Sprintf("%v", val)
			}
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("failed to write row to CSV: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("error during CSV writing: %w", err)
	}

	return buf.String(), nil
}

// FeaturesToText converts a FeatureCollection to a formatted text report
// with the layer name, feature count, sorted attributes and WKT geometry.
func FeaturesToText(fc *geojson.FeatureCollection, layerName string) (string, error) {
	if fc == nil || len(fc.Features) == 0 {
		return "", fmt.Errorf("no features to convert to text")
	}

	var output strings.Builder

	output.WriteString(fmt.Sprintf("Layer: %s\n", layerName))
	output.WriteString(fmt.Sprintf("Total Features: %d\n", len(fc.Features)))
	output.WriteString("========================================\n\n")

	for i, feature := range fc.Features {
		output.WriteString(fmt.Sprintf("--- Feature %d ---\n", i+1))

		keys := make([]string, 0, len(feature.Properties))
		for k := range feature.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		output.WriteString("Attributes:\n")
		for _, k := range keys {
			output.WriteString(fmt.Sprintf("  %s: %v\n", k, feature.Properties[k]))
		}

		output.WriteString("Geometry (WKT):\n")
		if w := geometryToWKT(feature); w == "" {
			output.WriteString("  <No Geometry>\n")
		} else {
			output.WriteString(fmt.Sprintf("  %s\n", w))
		}
		output.WriteString("\n")
	}

	return output.String(), nil
}

// Property looks up a feature property by any of the candidate names,
// ignoring case. Candidates are tried in order.
func Property(props map[string]interface{}, candidates ...string) (interface{}, bool) {
	for _, c := range candidates {
		if v, ok := props[c]; ok {
			return v, true
		}
	}
	for _, c := range candidates {
		for k, v := range props {
			if strings.EqualFold(k, c) {
				return v, true
			}
		}
	}
	return nil, false
}

// PropertyString returns the property as text, or "" when absent or null.
func PropertyString(props map[string]interface{}, candidates ...string) string {
	v, ok := Property(props, candidates...)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%v", v)
}

// PropertyFloat returns the property as a number when it is numeric.
func PropertyFloat(props map[string]interface{}, candidates ...string) (float64, bool) {
	v, ok := Property(props, candidates...)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func propertyKeys(fc *geojson.FeatureCollection) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, f := range fc.Features {
		for k := range f.Properties {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func geometryToWKT(f *geojson.Feature) string {
	if f == nil || f.Geometry == nil {
		return ""
	}
	return wkt.MarshalString(f.Geometry)
}
