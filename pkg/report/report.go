// Package report builds the derived summary tables of a site: the lots
// inside the study area and the plant community type (PCT) coverage.
package report

import (
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/convert"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/geoproc"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/store"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

var (
	// ErrNoLotFields is returned when a lots layer has none of the lot fields.
	ErrNoLotFields = errors.New("no lot, section, plan or area fields in lots layer")
	// ErrNoPCTFields is returned when a PCT layer lacks PCTID or PCTName.
	ErrNoPCTFields = errors.New("PCTID and PCTName fields not found in PCT layer")
)

// Field name candidates, matched without regard to case.
var (
	LotFields          = []string{"lotnumber", "lot_no", "lot"}
	SectionFields      = []string{"sectionnumber", "section_no", "section"}
	PlanFields         = []string{"plannumber", "plan_number", "plan"}
	PlanLotAreaFields  = []string{"planlotarea", "plan_lot_area"}
	PlanLotUnitsFields = []string{"planlotareaunits", "plan_lot_area_units"}
	PCTIDFields        = []string{"PCTID", "pctid", "PCT_ID"}
	PCTNameFields      = []string{"PCTName", "pctname", "PCT_Name", "PCTNAME"}
)

// BuildLots lists the lots whose centroid lies inside area.
func BuildLots(projectNumber string, lots *geojson.FeatureCollection, area orb.Geometry, engine geoproc.Engine) ([]store.LotReportRow, error) {
	if !hasAny(lots, LotFields, SectionFields, PlanFields, PlanLotAreaFields, PlanLotUnitsFields) {
		return nil, ErrNoLotFields
	}
	var rows []store.LotReportRow
	for _, f := range lots.Features {
		if !engine.Within(f.Geometry, area) {
			continue
		}
		row := store.LotReportRow{
			ProjectNumber:    projectNumber,
			Lot:              convert.PropertyString(f.Properties, LotFields...),
			Section:          convert.PropertyString(f.Properties, SectionFields...),
			Plan:             convert.PropertyString(f.Properties, PlanFields...),
			PlanLotAreaUnits: convert.PropertyString(f.Properties, PlanLotUnitsFields...),
		}
		if v, ok := convert.PropertyFloat(f.Properties, PlanLotAreaFields...); ok {
			row.PlanLotArea = &v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// BuildPCT sums the geodesic area and site coverage of each plant community
// type. Coverage is a percentage of siteArea in square meters, rounded to
// one decimal place per feature and again per group.
func BuildPCT(projectNumber string, pct *geojson.FeatureCollection, siteArea float64, engine geoproc.Engine) ([]store.PCTReportRow, error) {
	if !hasAll(pct, PCTIDFields, PCTNameFields) {
		return nil, ErrNoPCTFields
	}
	type key struct{ id, name string }
	groups := make(map[key]*store.PCTReportRow)
	var order []key
	for _, f := range pct.Features {
		k := key{
			id:   convert.PropertyString(f.Properties, PCTIDFields...),
			name: convert.PropertyString(f.Properties, PCTNameFields...),
		}
		g, ok := groups[k]
		if !ok {
			g = &store.PCTReportRow{ProjectNumber: projectNumber, PCTID: k.id, PCTName: k.name}
			groups[k] = g
			order = append(order, k)
		}
		a := engine.Area(f.Geometry)
		g.SumAreaM += a
		g.SumSiteCoveragePct += Coverage(a, siteArea)
	}

	rows := make([]store.PCTReportRow, 0, len(order))
	for _, k := range order {
		g := groups[k]
		g.SumSiteCoveragePct = round1(g.SumSiteCoveragePct)
		rows = append(rows, *g)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].PCTID != rows[j].PCTID {
			return rows[i].PCTID < rows[j].PCTID
		}
		return rows[i].PCTName < rows[j].PCTName
	})
	return rows, nil
}

// Coverage is area as a percentage of siteArea, rounded to one decimal
// place. It is 0 when siteArea is not positive.
func Coverage(area, siteArea float64) float64 {
	if siteArea <= 0 {
		return 0
	}
	return round1(100 * area / siteArea)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func hasAny(fc *geojson.FeatureCollection, groups ...[]string) bool {
	for _, candidates := range groups {
		if hasField(fc, candidates) {
			return true
		}
	}
	return false
}

func hasAll(fc *geojson.FeatureCollection, groups ...[]string) bool {
	for _, candidates := range groups {
		if !hasField(fc, candidates) {
			return false
		}
	}
	return true
}

func hasField(fc *geojson.FeatureCollection, candidates []string) bool {
	if fc == nil {
		return false
	}
	for _, f := range fc.Features {
		for k := range f.Properties {
			for _, c := range candidates {
				if strings.EqualFold(k, c) {
					return true
				}
			}
		}
	}
	return false
}
