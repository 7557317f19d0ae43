package extract

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/arcgis"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/arcgis/arcgistest"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/fetch"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/geoproc"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/reftable"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/site"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/store"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/style"
	"github.com/paulmach/orb"
)

var extractTime = time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)

func line(attrs map[string]interface{}, coords ...[2]float64) arcgis.Feature {
	path := make([][]float64, len(coords))
	for i, c := range coords {
		path[i] = []float64{c[0], c[1]}
	}
	return arcgis.Feature{Attributes: attrs, Geometry: &arcgis.Geometry{Paths: [][][]float64{path}}}
}

type fixture struct {
	orch  *Orchestrator
	store *store.Store
	area  site.StudyArea
	rows  []reftable.Row
	url   func(name string) string
}

// serve mounts each layer under /<name>/ and returns the layer URL builder.
func serve(t *testing.T, layers map[string]*arcgistest.Layer) func(string) string {
	t.Helper()
	mux := http.NewServeMux()
	for name, l := range layers {
		mux.Handle("/"+name+"/", l)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return func(name string) string { return srv.URL + "/" + name + "/FeatureServer/0" }
}

func newOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "project.db"), store.Options{})
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := arcgis.NewClient(5 * time.Second)
	return &Orchestrator{
		IDs:        &fetch.IDFetcher{Client: client, Logger: logger},
		Downloader: &fetch.Downloader{Client: client, BatchSize: 2, Logger: logger},
		Store:      st,
		Engine:     geoproc.Planar{},
		Styles:     &style.Resolver{Metadata: client, Logger: logger},
		Metadata:   client,
		Logger:     logger,
		Now:        func() time.Time { return extractTime },
	}
}

func normalized(rows ...reftable.Row) []reftable.Row {
	for i := range rows {
		rows[i].Normalize(i+1, DefaultDataset)
	}
	return rows
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	roads := arcgistest.NewLayer("Roads",
		line(map[string]interface{}{"name": "Main Rd"}, [2]float64{151.002, -33.995}, [2]float64{151.008, -33.995}),
		line(map[string]interface{}{"name": "Edge Rd"}, [2]float64{151.0105, -33.999}, [2]float64{151.0105, -33.991}),
		line(map[string]interface{}{"name": "Far Rd"}, [2]float64{151.5, -33.5}, [2]float64{151.6, -33.5}),
	)
	roads.DrawingInfo = json.RawMessage(`{"type":"simple"}`)

	lots := arcgistest.NewLayer("Lots",
		arcgistest.Square(map[string]interface{}{"lotnumber": "1", "plannumber": "DP100"}, 151.001, -33.999, 0.002),
		arcgistest.Square(map[string]interface{}{"lotnumber": "2", "plannumber": "DP100"}, 151.004, -33.999, 0.002),
		arcgistest.Square(map[string]interface{}{"lotnumber": "3", "plannumber": "DP200"}, 151.009, -33.995, 0.004),
	)
	veg := arcgistest.NewLayer("Vegetation",
		arcgistest.Square(map[string]interface{}{"PCTID": 1281.0, "PCTName": "Red Gum Forest"}, 151.002, -33.998, 0.002),
		arcgistest.Square(map[string]interface{}{"PCTID": 1281.0, "PCTName": "Red Gum Forest"}, 151.008, -33.995, 0.004),
	)
	far := arcgistest.NewLayer("Far", arcgistest.Square(nil, 152, -33, 0.01))
	broken := arcgistest.NewLayer("Broken",
		arcgistest.Square(nil, 151.001, -33.999, 0.001),
		arcgistest.Square(nil, 151.003, -33.999, 0.001),
	)
	broken.FailIDs = map[int64]bool{1: true, 2: true}

	url := serve(t, map[string]*arcgistest.Layer{"roads": roads, "lots": lots, "veg": veg, "far": far, "broken": broken})
	orch := newOrchestrator(t)

	area := site.StudyArea{
		ProjectNumber: "6666",
		Geometry:      orb.MultiPolygon{{{{151.0, -34.0}, {151.0, -33.99}, {151.01, -33.99}, {151.01, -34.0}, {151.0, -34.0}}}},
	}
	area.SetArea(orch.Engine.Area(area.Geometry))

	rows := normalized(
		reftable.Row{ShortName: "Roads", SourceURL: url("roads"), BufferMeters: 100, ProjectType: "all", SortOrder: 1},
		reftable.Row{ShortName: "Lots", SourceURL: url("lots"), ProjectType: "all", SortOrder: 2, Role: reftable.RoleLotsSummary},
		reftable.Row{ShortName: "Vegetation", SourceURL: url("veg"), BufferAction: reftable.ActionClip, ProjectType: "all", SortOrder: 3, Role: reftable.RolePCTSummary},
		reftable.Row{ShortName: "Far Away", SourceURL: url("far"), ProjectType: "all", SortOrder: 4},
		reftable.Row{ShortName: "Broken", SourceURL: url("broken"), ProjectType: "all", SortOrder: 5},
		reftable.Row{ShortName: "No URL", ProjectType: "all", SortOrder: 6},
		reftable.Row{ShortName: "Bad Buffer", SourceURL: url("roads"), BufferMeters: -5, ProjectType: "all", SortOrder: 7},
		reftable.Row{ShortName: "Roads", SourceURL: url("far"), ProjectType: "all", SortOrder: 8},
		reftable.Row{ShortName: "PCT Only", SourceURL: url("veg"), ProjectType: "pct", SortOrder: 0},
	)

	return &fixture{orch: orch, store: orch.Store, area: area, rows: rows, url: url}
}

func names(results []RowResult) map[string]RowResult {
	m := make(map[string]RowResult, len(results))
	for _, r := range results {
		m[r.ShortName] = r
	}
	return m
}

func TestRun(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	out, err := fx.orch.Run(ctx, fx.area, fx.rows, Options{ProjectType: "ALL"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	extracted := names(out.Extracted)
	for _, name := range []string{"Roads", "Lots", "Vegetation"} {
		if _, ok := extracted[name]; !ok {
			t.Errorf("%s not extracted; outcome %+v", name, out)
		}
	}
	if got := extracted["Roads"].Features; got != 2 {
		t.Errorf("Roads features = %d; want 2", got)
	}

	skipped := names(out.Skipped)
	if skipped["Far Away"].Kind != KindNoFeatures || skipped["No URL"].Kind != KindMissingURL {
		t.Errorf("skipped = %+v", out.Skipped)
	}
	failed := names(out.Failed)
	if failed["Broken"].Kind != KindFetch || !errors.Is(failed["Broken"].Err, fetch.ErrNoFeatures) {
		t.Errorf("Broken = %+v", failed["Broken"])
	}
	if failed["Broken"].QueryURL == "" {
		t.Error("Broken has no query URL")
	}
	if failed["Bad Buffer"].Kind != KindConfig || !errors.Is(failed["Bad Buffer"].Err, reftable.ErrInvalidRow) {
		t.Errorf("Bad Buffer = %+v", failed["Bad Buffer"])
	}
	if out.Total() != 7 || !out.HasFailures() {
		t.Errorf("Total = %d, HasFailures = %v", out.Total(), out.HasFailures())
	}
	if _, ok := out.PartitionOf("PCT Only"); ok {
		t.Error("row of another project type was processed")
	}
	if len(out.ReportErrors) != 0 {
		t.Errorf("report errors: %v", out.ReportErrors)
	}

	roads, err := fx.store.FindLayer(ctx, store.LayerKey{Project: "6666", Dataset: DefaultDataset, Name: "Roads"})
	if err != nil {
		t.Fatalf("FindLayer failed: %v", err)
	}
	if roads.Renderer != `{"type":"simple"}` || roads.DisplayName != "Roads" || roads.FeatureCount != 2 {
		t.Errorf("roads layer = %+v", roads)
	}
	fc, err := fx.store.LoadFeatures(ctx, roads)
	if err != nil {
		t.Fatalf("LoadFeatures failed: %v", err)
	}
	for _, f := range fc.Features {
		if f.Properties[PropExtractDate] != "2025-05-01T09:30:00Z" || !strings.HasSuffix(f.Properties[PropExtractURL].(string), "/roads/FeatureServer/0") {
			t.Errorf("feature not stamped: %v", f.Properties)
		}
	}

	veg, err := fx.store.FindLayer(ctx, store.LayerKey{Project: "6666", Dataset: DefaultDataset, Name: "Vegetation"})
	if err != nil {
		t.Fatalf("FindLayer failed: %v", err)
	}
	vfc, err := fx.store.LoadFeatures(ctx, veg)
	if err != nil {
		t.Fatalf("LoadFeatures failed: %v", err)
	}
	for _, f := range vfc.Features {
		if b := f.Geometry.Bound(); b.Max[0] > 151.01+1e-9 {
			t.Errorf("clipped feature extends to %v", b.Max[0])
		}
	}

	lots, err := fx.store.LotReport(ctx, "6666")
	if err != nil || len(lots) != 2 {
		t.Errorf("lot report = %+v, %v; want 2 rows", lots, err)
	}
	pct, err := fx.store.PCTReport(ctx, "6666")
	if err != nil || len(pct) != 1 || pct[0].PCTID != "1281" || pct[0].SumAreaM <= 0 {
		t.Errorf("pct report = %+v, %v", pct, err)
	}

	runs, err := fx.store.Runs(ctx, "6666", 0)
	if err != nil || len(runs) != 1 || runs[0].RunID != out.RunID || runs[0].Failed != 2 {
		t.Errorf("runs = %+v, %v", runs, err)
	}
}

func TestRunExistingOutputs(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	if _, err := fx.orch.Run(ctx, fx.area, fx.rows, Options{ProjectType: "all"}); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	tests := []struct {
		name string
		opts Options
		want Partition
	}{
		{"Keep existing", Options{ProjectType: "all"}, Skipped},
		{"Overwrite", Options{ProjectType: "all", Overwrite: true}, Replaced},
		{"Refresh", Options{ProjectType: "all", Refresh: true}, Replaced},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := fx.orch.Run(ctx, fx.area, fx.rows, tt.opts)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			for _, name := range []string{"Roads", "Lots", "Vegetation"} {
				p, ok := out.PartitionOf(name)
				if !ok || p != tt.want {
					t.Errorf("%s recorded as %v; want %v", name, p, tt.want)
				}
			}
			if tt.want == Skipped && names(out.Skipped)["Roads"].Kind != KindExists {
				t.Errorf("Roads kind = %q; want %q", names(out.Skipped)["Roads"].Kind, KindExists)
			}
		})
	}

	layers, err := fx.store.ListLayers(ctx)
	if err != nil || len(layers) != 3 {
		t.Errorf("layers = %d, %v; want 3 with no staged leftovers", len(layers), err)
	}
}

func TestRunProjectsKeptApart(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// Project 7777 covers only the western half of project 6666's site.
	other := site.StudyArea{
		ProjectNumber: "7777",
		Geometry:      orb.MultiPolygon{{{{151.0, -34.0}, {151.0, -33.99}, {151.005, -33.99}, {151.005, -34.0}, {151.0, -34.0}}}},
	}
	other.SetArea(fx.orch.Engine.Area(other.Geometry))

	if _, err := fx.orch.Run(ctx, fx.area, fx.rows, Options{ProjectType: "all"}); err != nil {
		t.Fatalf("Run 6666 failed: %v", err)
	}
	first, err := fx.orch.Run(ctx, other, fx.rows, Options{ProjectType: "all"})
	if err != nil {
		t.Fatalf("Run 7777 failed: %v", err)
	}
	for _, name := range []string{"Roads", "Lots", "Vegetation"} {
		if p, _ := first.PartitionOf(name); p != Extracted {
			t.Errorf("7777 %s recorded as %v; want extracted", name, p)
		}
	}
	if _, err := fx.orch.Run(ctx, other, fx.rows, Options{ProjectType: "all", Overwrite: true}); err != nil {
		t.Fatalf("overwrite Run 7777 failed: %v", err)
	}

	tests := []struct {
		project   string
		wantRoads int
	}{
		{"6666", 2},
		{"7777", 1},
	}
	for _, tt := range tests {
		t.Run(tt.project, func(t *testing.T) {
			roads, err := fx.store.FindLayer(ctx, store.LayerKey{Project: tt.project, Dataset: DefaultDataset, Name: "Roads"})
			if err != nil {
				t.Fatalf("FindLayer failed: %v", err)
			}
			if roads.ProjectNumber != tt.project || roads.FeatureCount != tt.wantRoads {
				t.Errorf("roads = project %s with %d features; want %s with %d", roads.ProjectNumber, roads.FeatureCount, tt.project, tt.wantRoads)
			}
		})
	}

	layers, err := fx.store.ListLayers(ctx)
	if err != nil || len(layers) != 6 {
		t.Errorf("layers = %d, %v; want 6", len(layers), err)
	}

	pctA, errA := fx.store.PCTReport(ctx, "6666")
	pctB, errB := fx.store.PCTReport(ctx, "7777")
	if errA != nil || errB != nil || len(pctA) != 1 || len(pctB) != 1 {
		t.Fatalf("pct reports = %+v, %+v (%v, %v)", pctA, pctB, errA, errB)
	}
	if pctB[0].SumAreaM >= pctA[0].SumAreaM {
		t.Errorf("7777 pct area %f not below 6666 area %f; report built from the wrong layer", pctB[0].SumAreaM, pctA[0].SumAreaM)
	}
}

func TestRunSharedOutputName(t *testing.T) {
	fx := newFixture(t)
	rows := normalized(
		reftable.Row{ShortName: "Roads!", SourceURL: fx.url("roads"), ProjectType: "all", SortOrder: 1},
		reftable.Row{ShortName: "Roads?", SourceURL: fx.url("roads"), ProjectType: "all", SortOrder: 2},
		reftable.Row{ShortName: "Roads.", FeatureDatasetName: "Transport", SourceURL: fx.url("roads"), ProjectType: "all", SortOrder: 3},
	)
	out, err := fx.orch.Run(context.Background(), fx.area, rows, Options{ProjectType: "all"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for _, name := range []string{"Roads!", "Roads."} {
		if p, _ := out.PartitionOf(name); p != Extracted {
			t.Errorf("%s recorded as %v; want extracted", name, p)
		}
	}
	dup := names(out.Failed)["Roads?"]
	if dup.Kind != KindConfig || !errors.Is(dup.Err, reftable.ErrInvalidRow) || !strings.Contains(dup.Reason, `"Roads!"`) {
		t.Errorf("Roads? = %+v; want config failure naming Roads!", dup)
	}
	if out.Total() != 3 {
		t.Errorf("Total = %d; want 3", out.Total())
	}
}

// lShape is a square of ten units with its upper right six unit corner
// removed.
func lShape(x, y, unit float64) orb.Polygon {
	pts := [][2]float64{{0, 0}, {0, 10}, {4, 10}, {4, 4}, {10, 4}, {10, 0}, {0, 0}}
	ring := make(orb.Ring, len(pts))
	for i, p := range pts {
		ring[i] = orb.Point{x + p[0]*unit, y + p[1]*unit}
	}
	return orb.Polygon{ring}
}

func TestRunClipLShapedSite(t *testing.T) {
	const u = 0.001
	x, y := 151.0, -34.0
	pct := map[string]interface{}{"PCTID": 1281.0, "PCTName": "Red Gum Forest"}

	url := serve(t, map[string]*arcgistest.Layer{
		// One patch sits in the notch, the other straddles the inner corner.
		"veg": arcgistest.NewLayer("Vegetation",
			arcgistest.Square(pct, x+6*u, y+6*u, 3*u),
			arcgistest.Square(pct, x+2*u, y+2*u, 4*u),
		),
		"notch": arcgistest.NewLayer("Notch", arcgistest.Square(nil, x+6*u, y+6*u, 3*u)),
	})
	orch := newOrchestrator(t)

	area := site.StudyArea{ProjectNumber: "8888", Geometry: orb.MultiPolygon{lShape(x, y, u)}}
	area.SetArea(orch.Engine.Area(area.Geometry))

	rows := normalized(
		reftable.Row{ShortName: "Vegetation", SourceURL: url("veg"), BufferAction: reftable.ActionClip, ProjectType: "all", SortOrder: 1, Role: reftable.RolePCTSummary},
		reftable.Row{ShortName: "Notch", SourceURL: url("notch"), BufferAction: reftable.ActionClip, ProjectType: "all", SortOrder: 2},
	)
	ctx := context.Background()
	out, err := orch.Run(ctx, area, rows, Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	veg := names(out.Extracted)["Vegetation"]
	if veg.Features != 1 || veg.Dropped != 1 {
		t.Errorf("Vegetation features = %d, dropped = %d; want 1 and 1", veg.Features, veg.Dropped)
	}
	if notch := names(out.Skipped)["Notch"]; notch.Kind != KindNoFeatures {
		t.Errorf("Notch = %+v; want skipped with no features", notch)
	}

	// The straddling patch keeps 12 of its 16 square units; the site is 64.
	rep, err := orch.Store.PCTReport(ctx, "8888")
	if err != nil || len(rep) != 1 {
		t.Fatalf("pct report = %+v, %v", rep, err)
	}
	if got := rep[0].SumSiteCoveragePct; got < 18.5 || got > 19 {
		t.Errorf("site coverage = %.1f%%; want about 18.8", got)
	}
	want := orch.Engine.Area(lShape(x, y, u)) * 12 / 64
	if got := rep[0].SumAreaM; got < 0.98*want || got > 1.02*want {
		t.Errorf("pct area = %f m2; want about %f", got, want)
	}
}

func TestRunCancelled(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := fx.orch.Run(ctx, fx.area, fx.rows, Options{ProjectType: "all"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v; want context.Canceled", err)
	}
	if len(out.Failed) != 7 || out.Total() != 7 {
		t.Errorf("failed = %d, total = %d; want 7", len(out.Failed), out.Total())
	}
	for _, r := range out.Failed {
		if r.Kind != KindCancelled {
			t.Errorf("%s kind = %q; want cancelled", r.ShortName, r.Kind)
		}
	}
	runs, _ := fx.store.Runs(context.Background(), "6666", 0)
	if len(runs) != 1 {
		t.Errorf("runs recorded = %d; want 1", len(runs))
	}
}

func TestRunRequiresGeometry(t *testing.T) {
	fx := newFixture(t)
	if _, err := fx.orch.Run(context.Background(), site.StudyArea{ProjectNumber: "1"}, fx.rows, Options{}); err == nil {
		t.Error("expected error for empty study area")
	}
}

func TestOutcomeRecord(t *testing.T) {
	var out Outcome
	if err := out.Record(Extracted, RowResult{ShortName: "Roads", Features: 3}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := out.Record(Failed, RowResult{ShortName: "Roads", Kind: KindWrite}); err == nil {
		t.Error("duplicate short name accepted")
	}
	if p, _ := out.PartitionOf("Roads"); p != Extracted || len(out.Failed) != 0 {
		t.Errorf("first classification lost: %v", p)
	}
	if err := out.Record(Failed, RowResult{ShortName: "Broken", Kind: KindFetch, Err: errors.New("boom")}); err != nil {
		t.Fatal(err)
	}
	if out.Failed[0].Reason != "boom" {
		t.Errorf("Reason = %q", out.Failed[0].Reason)
	}

	out.ReportErrors = []error{errors.New("no lot fields")}
	data, err := json.Marshal(&out)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	for _, want := range []string{`"report_errors":["no lot fields"]`, `"reason":"boom"`, `"short_name":"Roads"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("JSON %s missing %s", data, want)
		}
	}
}
