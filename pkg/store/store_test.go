package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "project.db"), Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func collection(n int, label string) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i := 0; i < n; i++ {
		x := 151 + float64(i)*0.01
		f := geojson.NewFeature(orb.Polygon{{{x, -34}, {x, -33.99}, {x + 0.005, -33.99}, {x + 0.005, -34}, {x, -34}}})
		f.ID = int64(100 + i)
		f.Properties["label"] = label
		f.Properties["ExtractURL"] = "https://example.com/FeatureServer/0"
		fc.Append(f)
	}
	return fc
}

func TestReplaceLayer(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	in := LayerInput{
		Dataset:     "ProjectData",
		Name:        "Koala_Habitat",
		DisplayName: "Koala Habitat",
		SourceURL:   "https://example.com/FeatureServer/0",
		ExtractedAt: time.Now().UTC(),
		Features:    collection(3, "first"),
	}
	replaced, err := s.ReplaceLayer(ctx, in)
	if err != nil {
		t.Fatalf("first ReplaceLayer failed: %v", err)
	}
	if replaced {
		t.Error("first write reported replaced")
	}

	in.Features = collection(2, "second")
	replaced, err = s.ReplaceLayer(ctx, in)
	if err != nil {
		t.Fatalf("second ReplaceLayer failed: %v", err)
	}
	if !replaced {
		t.Error("second write did not report replaced")
	}

	layers, err := s.ListLayers(ctx)
	if err != nil {
		t.Fatalf("ListLayers failed: %v", err)
	}
	if len(layers) != 1 || layers[0].Name != "Koala_Habitat" || layers[0].FeatureCount != 2 {
		t.Fatalf("layers = %+v", layers)
	}
	if layers[0].Dataset.Name != "ProjectData" {
		t.Errorf("dataset = %q", layers[0].Dataset.Name)
	}

	fc, err := s.LoadFeatures(ctx, &layers[0])
	if err != nil {
		t.Fatalf("LoadFeatures failed: %v", err)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("features = %d; want 2", len(fc.Features))
	}
	f := fc.Features[0]
	if f.Properties["label"] != "second" {
		t.Errorf("label = %v; want second", f.Properties["label"])
	}
	if f.ID != int64(100) {
		t.Errorf("source oid = %v; want 100", f.ID)
	}
	if _, ok := f.Geometry.(orb.Polygon); !ok {
		t.Errorf("geometry = %T; want orb.Polygon", f.Geometry)
	}

	var count int64
	s.db.Model(&Feature{}).Count(&count)
	if count != 2 {
		t.Errorf("stored features = %d; old features not removed", count)
	}
}

func TestReplaceLayerFailureKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	in := LayerInput{Dataset: "ProjectData", Name: "Flood", Features: collection(2, "good")}
	if _, err := s.ReplaceLayer(ctx, in); err != nil {
		t.Fatalf("ReplaceLayer failed: %v", err)
	}

	bad := collection(1, "bad")
	bad.Append(&geojson.Feature{Type: "Feature", Properties: geojson.Properties{}})
	in.Features = bad
	if _, err := s.ReplaceLayer(ctx, in); err == nil {
		t.Fatal("expected error for feature without geometry")
	}

	layer, err := s.FindLayer(ctx, LayerKey{Dataset: "ProjectData", Name: "Flood"})
	if err != nil {
		t.Fatalf("FindLayer failed: %v", err)
	}
	if layer.FeatureCount != 2 {
		t.Errorf("previous layer changed: %+v", layer)
	}
	if n, err := s.CleanupStaged(ctx); err != nil || n != 0 {
		t.Errorf("CleanupStaged = %d, %v; want no staged layers", n, err)
	}
}

func TestLayerExists(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	ok, err := s.LayerExists(ctx, LayerKey{Project: "6666", Dataset: "ProjectData", Name: "Missing"})
	if err != nil || ok {
		t.Errorf("LayerExists(missing) = %v, %v", ok, err)
	}
	if _, err := s.FindLayer(ctx, LayerKey{Project: "6666", Dataset: "ProjectData", Name: "Missing"}); !errors.Is(err, ErrLayerNotFound) {
		t.Errorf("FindLayer err = %v; want ErrLayerNotFound", err)
	}

	if _, err := s.ReplaceLayer(ctx, LayerInput{ProjectNumber: "6666", Dataset: "Other Data", Name: "Lots", Features: collection(1, "x")}); err != nil {
		t.Fatalf("ReplaceLayer failed: %v", err)
	}
	ok, err = s.LayerExists(ctx, LayerKey{Project: "6666", Dataset: "Other Data", Name: "Lots"})
	if err != nil || !ok {
		t.Errorf("LayerExists = %v, %v; want true", ok, err)
	}
	ok, _ = s.LayerExists(ctx, LayerKey{Project: "6666", Dataset: "ProjectData", Name: "Lots"})
	if ok {
		t.Error("layer found in the wrong dataset")
	}
	ok, _ = s.LayerExists(ctx, LayerKey{Project: "7777", Dataset: "Other Data", Name: "Lots"})
	if ok {
		t.Error("layer found in the wrong project")
	}
}

func TestLayersScopedByProject(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	for _, in := range []LayerInput{
		{ProjectNumber: "A1", Dataset: "ProjectData", Name: "Roads", Features: collection(3, "a")},
		{ProjectNumber: "B2", Dataset: "ProjectData", Name: "Roads", Features: collection(1, "b")},
	} {
		replaced, err := s.ReplaceLayer(ctx, in)
		if err != nil {
			t.Fatalf("ReplaceLayer(%s) failed: %v", in.ProjectNumber, err)
		}
		if replaced {
			t.Errorf("ReplaceLayer(%s) replaced another project's layer", in.ProjectNumber)
		}
	}

	replaced, err := s.ReplaceLayer(ctx, LayerInput{ProjectNumber: "B2", Dataset: "ProjectData", Name: "Roads", Features: collection(2, "b2")})
	if err != nil || !replaced {
		t.Fatalf("ReplaceLayer(B2 again) = %v, %v; want replaced", replaced, err)
	}

	tests := []struct {
		project string
		count   int
		label   string
	}{
		{"A1", 3, "a"},
		{"B2", 2, "b2"},
	}
	for _, tt := range tests {
		t.Run(tt.project, func(t *testing.T) {
			layer, err := s.FindLayer(ctx, LayerKey{Project: tt.project, Dataset: "ProjectData", Name: "Roads"})
			if err != nil {
				t.Fatalf("FindLayer failed: %v", err)
			}
			if layer.ProjectNumber != tt.project || layer.FeatureCount != tt.count {
				t.Errorf("layer = project %q, %d features; want %q, %d", layer.ProjectNumber, layer.FeatureCount, tt.project, tt.count)
			}
			fc, err := s.LoadFeatures(ctx, layer)
			if err != nil {
				t.Fatalf("LoadFeatures failed: %v", err)
			}
			if fc.Features[0].Properties["label"] != tt.label {
				t.Errorf("label = %v; want %s", fc.Features[0].Properties["label"], tt.label)
			}
		})
	}

	layers, _ := s.ListLayers(ctx)
	if len(layers) != 2 {
		t.Errorf("ListLayers = %d layers; want 2", len(layers))
	}
}

func TestCleanupStaged(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	ds, err := s.EnsureDataset(ctx, "ProjectData")
	if err != nil {
		t.Fatalf("EnsureDataset failed: %v", err)
	}
	s.db.Create(&Layer{DatasetID: ds.ID, Name: "tmp_extract_Flood_deadbeef"})

	n, err := s.CleanupStaged(ctx)
	if err != nil || n != 1 {
		t.Errorf("CleanupStaged = %d, %v; want 1", n, err)
	}
	layers, _ := s.ListLayers(ctx)
	if len(layers) != 0 {
		t.Errorf("layers after cleanup = %+v", layers)
	}
}

func TestReports(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	area := 512.5

	if err := s.ReplaceLotReport(ctx, "6666", []LotReportRow{{Lot: "1", Plan: "DP1"}, {Lot: "2", Plan: "DP1", PlanLotArea: &area}}); err != nil {
		t.Fatalf("ReplaceLotReport failed: %v", err)
	}
	if err := s.ReplaceLotReport(ctx, "6666", []LotReportRow{{Lot: "3", Plan: "DP2"}}); err != nil {
		t.Fatalf("ReplaceLotReport failed: %v", err)
	}
	if err := s.ReplaceLotReport(ctx, "7777", []LotReportRow{{Lot: "9"}}); err != nil {
		t.Fatalf("ReplaceLotReport failed: %v", err)
	}
	lots, err := s.LotReport(ctx, "6666")
	if err != nil || len(lots) != 1 || lots[0].Lot != "3" {
		t.Errorf("LotReport = %+v, %v", lots, err)
	}

	if err := s.ReplacePCTReport(ctx, "6666", []PCTReportRow{{PCTID: "3320", PCTName: "Forest", SumAreaM: 100, SumSiteCoveragePct: 12.5}}); err != nil {
		t.Fatalf("ReplacePCTReport failed: %v", err)
	}
	pct, err := s.PCTReport(ctx, "6666")
	if err != nil || len(pct) != 1 || pct[0].PCTID != "3320" {
		t.Errorf("PCTReport = %+v, %v", pct, err)
	}
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	start := time.Now()
	for i, id := range []string{"a", "b"} {
		run := &Run{RunID: id, ProjectNumber: "6666", StartedAt: start.Add(time.Duration(i) * time.Minute), Extracted: i}
		if err := s.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
	}
	runs, err := s.Runs(ctx, "6666", 1)
	if err != nil || len(runs) != 1 || runs[0].RunID != "b" {
		t.Errorf("Runs = %+v, %v", runs, err)
	}
	if err := s.SaveRun(ctx, &Run{RunID: "a"}); err == nil {
		t.Error("duplicate run id accepted")
	}
}
