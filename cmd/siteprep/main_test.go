package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/arcgis"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/console"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/extract"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/reftable"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/store"
)

func TestPrintOutcome(t *testing.T) {
	out := &extract.Outcome{RunID: "run"}
	records := []struct {
		p extract.Partition
		r extract.RowResult
	}{
		{extract.Extracted, extract.RowResult{ShortName: "Roads", SafeName: "Roads", Dataset: "ProjectData", Features: 1200, Dropped: 2}},
		{extract.Skipped, extract.RowResult{ShortName: "Zoning", Kind: extract.KindExists, Reason: "layer exists"}},
		{extract.Failed, extract.RowResult{ShortName: "Veg", Kind: extract.KindFetch, Err: errors.New("timeout")}},
	}
	for _, rec := range records {
		if err := out.Record(rec.p, rec.r); err != nil {
			t.Fatal(err)
		}
	}

	var buf bytes.Buffer
	printOutcome(&buf, console.NewPalette(&buf, true), out)
	got := buf.String()
	for _, want := range []string{
		"Extracted (1)",
		"Roads  1,200 features, 2 dropped -> ProjectData/Roads",
		"Zoning  [exists] layer exists",
		"Veg  [fetch] timeout",
		"1 extracted, 0 replaced, 1 skipped, 1 failed.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Replaced (") {
		t.Error("empty partition printed")
	}
}

func TestFilterLayers(t *testing.T) {
	layers := []store.Layer{
		{Name: "Roads", DisplayName: "Roads", ProjectNumber: "1"},
		{Name: "Koala_Habitat", DisplayName: "Koala Habitat", ProjectNumber: "1"},
		{Name: "Roads", DisplayName: "Roads", ProjectNumber: "2"},
	}
	tests := []struct {
		name    string
		project string
		names   []string
		want    int
	}{
		{"all", "", nil, 3},
		{"by project", "1", nil, 2},
		{"by display name", "", []string{"koala habitat"}, 1},
		{"by both", "2", []string{"roads"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := filterLayers(layers, tt.project, tt.names); len(got) != tt.want {
				t.Errorf("filterLayers = %d layers; want %d", len(got), tt.want)
			}
		})
	}
}

func TestIsServiceRoot(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://h/arcgis/rest/services/A/FeatureServer", true},
		{"https://h/arcgis/rest/services/A/MapServer/", true},
		{"https://h/arcgis/rest/services/A/FeatureServer/3", false},
		{"https://h/somewhere", false},
	}
	for _, tt := range tests {
		if got := isServiceRoot(tt.url); got != tt.want {
			t.Errorf("isServiceRoot(%q) = %v; want %v", tt.url, got, tt.want)
		}
	}
}

func TestDistinctProjectTypes(t *testing.T) {
	rows := []reftable.Row{{ProjectType: "pct"}, {ProjectType: "all"}, {ProjectType: "pct"}, {}}
	if got := distinctProjectTypes(rows); !reflect.DeepEqual(got, []string{"all", "pct"}) {
		t.Errorf("distinctProjectTypes = %v", got)
	}
}

func TestExportPath(t *testing.T) {
	tests := []struct {
		name    string
		project string
		want    string
	}{
		{"Project folder", "6666", filepath.Join("out", "6666", "ProjectData", "Roads.geojson")},
		{"Other project", "7777", filepath.Join("out", "7777", "ProjectData", "Roads.geojson")},
		{"No project", "", filepath.Join("out", "unassigned", "ProjectData", "Roads.geojson")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &store.Layer{ProjectNumber: tt.project, Dataset: store.FeatureDataset{Name: "ProjectData"}, Name: "Roads"}
			if got := exportPath("out", l, ".geojson"); got != tt.want {
				t.Errorf("exportPath = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestLayerPath(t *testing.T) {
	l := arcgis.AvailableLayerInfo{Name: "Lots", ParentPath: []string{"Cadastre"}}
	if got := layerPath(l); got != "Cadastre > Lots" {
		t.Errorf("layerPath = %q", got)
	}
}
