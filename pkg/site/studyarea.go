// Copyright (c) 2025 Sudo-Ivan
// Licensed under the MIT License

// Package site manages project study areas: locating the parcel behind an
// address and publishing it as the single active study-area row of a
// project on a hosted feature layer.
package site

import (
	"fmt"
	"time"

	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/arcgis"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/convert"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/geoproc"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/sqlwhere"
	"github.com/paulmach/orb"
)

// Study-area layer fields.
const (
	FieldProjectNumber   = sqlwhere.ProjectNumberField
	FieldProjectName     = "ProjectName"
	FieldGeocodedAddress = "GeocodedAddress"
	FieldSiteArea        = "SiteArea"
	FieldAreaUnits       = "AreaUnits"
	FieldAreaHectares    = "Area_ha"
	FieldComments        = "Comments"
	FieldEndDate         = sqlwhere.EndDateField
)

const (
	UnitHectares     = "hectares"
	UnitSquareMeters = "square meters"

	squareMetersPerHectare = 10000
)

// StudyArea is one row of the study-area layer. EndDate is nil on the
// active row.
type StudyArea struct {
	ObjectID         int64
	ProjectNumber    string
	ProjectName      string
	GeocodedAddress  string
	Geometry         orb.MultiPolygon
	AreaSquareMeters float64
	AreaValue        float64
	AreaUnit         string
	AreaHectares     float64
	Comments         string
	EndDate          *time.Time
}

// Active reports whether the row is the current version.
func (a StudyArea) Active() bool { return a.EndDate == nil }

// SetArea records the geodesic area and derives the display value and unit.
func (a *StudyArea) SetArea(squareMeters float64) {
	a.AreaSquareMeters = squareMeters
	a.AreaValue, a.AreaUnit = AreaUnits(squareMeters)
	a.AreaHectares = squareMeters / squareMetersPerHectare
}

// AreaUnits expresses an area in hectares above one hectare and in square
// meters otherwise.
func AreaUnits(squareMeters float64) (float64, string) {
	if squareMeters > squareMetersPerHectare {
		return squareMeters / squareMetersPerHectare, UnitHectares
	}
	return squareMeters, UnitSquareMeters
}

// Feature encodes the study area as an Esri feature in WGS84.
func (a StudyArea) Feature() (arcgis.Feature, error) {
	geom, err := convert.FromOrb(a.Geometry, arcgis.WGS84)
	if err != nil {
		return arcgis.Feature{}, fmt.Errorf("failed to encode study area geometry: %w", err)
	}
	attrs := map[string]interface{}{
		FieldProjectNumber:   a.ProjectNumber,
		FieldProjectName:     a.ProjectName,
		FieldGeocodedAddress: a.GeocodedAddress,
		FieldSiteArea:        a.AreaValue,
		FieldAreaUnits:       a.AreaUnit,
		FieldAreaHectares:    a.AreaHectares,
		FieldComments:        a.Comments,
		FieldEndDate:         nil,
	}
	if a.EndDate != nil {
		attrs[FieldEndDate] = a.EndDate.UnixMilli()
	}
	return arcgis.Feature{Attributes: attrs, Geometry: geom}, nil
}

// FromFeature decodes a study-area row. Polygon parts are merged with
// engine and the area is measured with it.
func FromFeature(f arcgis.Feature, oidField string, engine geoproc.Engine) (StudyArea, error) {
	g, err := convert.ToOrb(f.Geometry)
	if err != nil {
		return StudyArea{}, fmt.Errorf("failed to decode study area geometry: %w", err)
	}
	a := StudyArea{
		ProjectNumber:   text(f, FieldProjectNumber),
		ProjectName:     text(f, FieldProjectName),
		GeocodedAddress: text(f, FieldGeocodedAddress),
		Comments:        text(f, FieldComments),
	}
	if g != nil {
		a.Geometry = engine.Dissolve(g)
	}
	if len(a.Geometry) == 0 {
		return StudyArea{}, fmt.Errorf("study area %s has no polygon geometry", a.ProjectNumber)
	}
	a.ObjectID, _ = f.ObjectID(oidField)
	a.SetArea(engine.Area(a.Geometry))
	if v, ok := f.Attribute(FieldEndDate); ok && v != nil {
		if ms, ok := v.(float64); ok {
			t := time.UnixMilli(int64(ms)).UTC()
			a.EndDate = &t
		}
	}
	return a, nil
}

func text(f arcgis.Feature, field string) string {
	return convert.PropertyString(f.Attributes, field)
}
