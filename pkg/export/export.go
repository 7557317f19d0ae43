package export

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/convert"
	"github.com/paulmach/orb/geojson"
)

// Format is an output file format.
type Format string

const (
	FormatGeoJSON Format = "geojson"
	FormatKML     Format = "kml"
	FormatGPX     Format = "gpx"
	FormatCSV     Format = "csv"
	FormatText    Format = "txt"
)

// Formats lists the supported formats.
var Formats = []Format{FormatGeoJSON, FormatKML, FormatGPX, FormatCSV, FormatText}

// ParseFormat accepts a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case "json":
		f = FormatGeoJSON
	case "text":
		f = FormatText
	}
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// Extension is the file extension for the format, including the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// Render encodes a layer in the given format.
func Render(f Format, fc *geojson.FeatureCollection, layerName string) ([]byte, error) {
	switch f {
	case FormatGeoJSON:
		return ConvertToGeoJSON(fc)
	case FormatKML:
		s, err := ConvertGeoJSONToKML(fc, layerName)
		return []byte(s), err
	case FormatGPX:
		s, err := ConvertGeoJSONToGPX(fc, layerName)
		return []byte(s), err
	case FormatCSV:
		s, err := convert.FeaturesToCSV(fc)
		return []byte(s), err
	case FormatText:
		s, err := convert.FeaturesToText(fc, layerName)
		return []byte(s), err
	}
	return nil, fmt.Errorf("unsupported export format %q", f)
}

// ConvertToGeoJSON encodes the collection with a CRS84 crs member.
func ConvertToGeoJSON(fc *geojson.FeatureCollection) ([]byte, error) {
	out := *fc
	out.ExtraMembers = geojson.Properties{}
	for k, v := range fc.ExtraMembers {
		out.ExtraMembers[k] = v
	}
	out.ExtraMembers["crs"] = map[string]interface{}{
		"type":       "name",
		"properties": map[string]string{"name": convert.CRS84},
	}
	data, err := out.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode GeoJSON: %w", err)
	}
	var indented json.RawMessage = data
	return json.MarshalIndent(indented, "", "  ")
}
