package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/arcgis"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/console"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/export"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/extract"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/naming"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/reftable"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/site"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/store"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// errRowsFailed makes the process exit 1 after the summary is printed.
var errRowsFailed = errors.New("one or more layers failed to extract")

var (
	projectNumber string
	projectName   string
	address       string
	comments      string
	importLayers  bool

	projectType   string
	overwrite     bool
	refresh       bool
	referenceFile string

	exportFormat    string
	exportOut       string
	exportOverwrite bool
	exportJobs      int

	runsLimit int
)

func init() {
	suggestCmd := &cobra.Command{
		Use:   "suggest TEXT",
		Short: "Suggest addresses for partial text",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSuggest,
	}
	rootCmd.AddCommand(suggestCmd)

	createCmd := &cobra.Command{
		Use:   "create-site",
		Short: "Create or supersede a project's study area from an address",
		RunE:  runCreateSite,
	}
	createCmd.Flags().StringVarP(&projectNumber, "project", "p", "", "project number")
	createCmd.Flags().StringVar(&projectName, "name", "", "project name")
	createCmd.Flags().StringVar(&address, "address", "", "site address")
	createCmd.Flags().StringVar(&comments, "comments", "", "comments stored with the study area")
	createCmd.Flags().BoolVar(&importLayers, "import-layers", false, "import reference layers after creating the site")
	addImportFlags(createCmd)
	_ = createCmd.MarkFlagRequired("project")
	_ = createCmd.MarkFlagRequired("address")
	rootCmd.AddCommand(createCmd)

	importCmd := &cobra.Command{
		Use:   "import-layers",
		Short: "Extract reference layers for a project's active study area",
		RunE:  runImportLayers,
	}
	importCmd.Flags().StringVarP(&projectNumber, "project", "p", "", "project number")
	addImportFlags(importCmd)
	_ = importCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(importCmd)

	exportCmd := &cobra.Command{
		Use:   "export [LAYER...]",
		Short: "Write stored layers to files",
		RunE:  runExport,
	}
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", string(export.FormatGeoJSON), "output format: geojson, kml, gpx, csv or txt")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", ".", "output directory")
	exportCmd.Flags().StringVarP(&projectNumber, "project", "p", "", "only layers of this project")
	exportCmd.Flags().BoolVar(&exportOverwrite, "overwrite", false, "replace existing files")
	exportCmd.Flags().IntVarP(&exportJobs, "jobs", "j", 4, "layers written concurrently")
	rootCmd.AddCommand(exportCmd)

	inspectCmd := &cobra.Command{
		Use:   "inspect URL",
		Short: "List the layers of a service or the fields of a layer",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}
	rootCmd.AddCommand(inspectCmd)

	typesCmd := &cobra.Command{
		Use:   "project-types",
		Short: "List the project types of the reference table",
		RunE:  runProjectTypes,
	}
	typesCmd.Flags().StringVar(&referenceFile, "reference-file", "", "read the reference table from a YAML file")
	rootCmd.AddCommand(typesCmd)

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Show the lot and plant community reports of a project",
		RunE:  runReport,
	}
	reportCmd.Flags().StringVarP(&projectNumber, "project", "p", "", "project number")
	_ = reportCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(reportCmd)

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent extraction runs",
		RunE:  runRuns,
	}
	runsCmd.Flags().StringVarP(&projectNumber, "project", "p", "", "only runs of this project")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 10, "number of runs to show")
	rootCmd.AddCommand(runsCmd)
}

func addImportFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&projectType, "project-type", "", "reference rows to extract (default from config)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace layers that already exist")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "re-extract every layer")
	cmd.Flags().StringVar(&referenceFile, "reference-file", "", "read the reference table from a YAML file")
}

func runSuggest(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	suggestions := a.siteService().Suggest(cmd.Context(), strings.Join(args, " "))
	if len(suggestions) == 0 {
		a.log.Warn("no suggestions")
		return nil
	}
	for _, s := range suggestions {
		fmt.Println(s.Text)
	}
	return nil
}

func runCreateSite(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	res, err := a.siteService().Create(cmd.Context(), site.CreateRequest{
		ProjectNumber: projectNumber,
		ProjectName:   projectName,
		Address:       address,
		Comments:      comments,
	})
	if err != nil {
		return err
	}
	console.Success(a.log, "study area created",
		"project", res.StudyArea.ProjectNumber,
		"address", res.Candidate.Address,
		"parcels", res.Parcels,
		"area", console.Area(res.StudyArea.AreaSquareMeters),
		"superseded", len(res.Supersede.Archived),
	)
	if !importLayers {
		return nil
	}
	return importFor(cmd, a, res.StudyArea)
}

func runImportLayers(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	area, err := a.siteService().Active(cmd.Context(), projectNumber)
	if err != nil {
		return err
	}
	a.log.Info("using study area", "project", area.ProjectNumber, "area", console.Area(area.AreaSquareMeters))
	return importFor(cmd, a, *area)
}

func importFor(cmd *cobra.Command, a *app, area site.StudyArea) error {
	ctx := cmd.Context()
	pt := projectType
	if pt == "" {
		pt = a.cfg.Extract.ProjectType
	}
	rows, err := a.referenceSource(referenceFile).Rows(ctx, pt)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		a.log.Warn("no reference rows for project type", "project_type", pt)
		return nil
	}

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	out, runErr := a.orchestrator(st).Run(ctx, area, rows, extract.Options{
		Overwrite:      overwrite,
		Refresh:        refresh,
		DefaultDataset: a.cfg.Extract.DefaultDataset,
		ProjectType:    pt,
	})
	if out != nil {
		printOutcome(os.Stdout, a.palette, out)
	}
	if runErr != nil {
		return runErr
	}
	if out.HasFailures() {
		return errRowsFailed
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	format, err := export.ParseFormat(exportFormat)
	if err != nil {
		return err
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	layers, err := st.ListLayers(cmd.Context())
	if err != nil {
		return err
	}
	layers = filterLayers(layers, projectNumber, args)
	if len(layers) == 0 {
		a.log.Warn("no layers to export")
		return nil
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(max(exportJobs, 1))
	for i := range layers {
		layer := &layers[i]
		g.Go(func() error {
			path := exportPath(exportOut, layer, format.Extension())
			if !exportOverwrite {
				if _, err := os.Stat(path); err == nil {
					a.log.Warn("file exists, skipping", "path", path)
					return nil
				}
			}
			fc, err := st.LoadFeatures(ctx, layer)
			if err != nil {
				return err
			}
			data, err := export.Render(format, fc, layer.DisplayName)
			if err != nil {
				return fmt.Errorf("failed to export %s: %w", layer.Name, err)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0600); err != nil {
				return err
			}
			console.Success(a.log, "exported", "layer", layer.Name, "features", console.Count(len(fc.Features)), "path", path)
			return nil
		})
	}
	return g.Wait()
}

// filterLayers keeps layers of project (when set) whose name or display
// name is in names (when any are given).
func filterLayers(layers []store.Layer, project string, names []string) []store.Layer {
	var kept []store.Layer
	for _, l := range layers {
		if project != "" && l.ProjectNumber != project {
			continue
		}
		if len(names) > 0 && !matchesAny(l, names) {
			continue
		}
		kept = append(kept, l)
	}
	return kept
}

// exportPath is <dir>/<project>/<dataset>/<layer><ext>.
func exportPath(dir string, l *store.Layer, ext string) string {
	project := naming.SafeName(l.ProjectNumber)
	if project == "" {
		project = "unassigned"
	}
	return filepath.Join(dir, project, l.Dataset.Name, l.Name+ext)
}

func matchesAny(l store.Layer, names []string) bool {
	for _, n := range names {
		if strings.EqualFold(n, l.Name) || strings.EqualFold(n, l.DisplayName) {
			return true
		}
	}
	return false
}

func runInspect(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	target := arcgis.NormalizeArcGISURL(args[0])
	if !arcgis.IsValidHTTPURL(target) {
		return fmt.Errorf("invalid URL: %s", args[0])
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	if isServiceRoot(target) {
		layers, err := a.client.FetchServiceLayers(cmd.Context(), target)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tGEOMETRY\tURL")
		for _, l := range layers {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", l.ID, layerPath(l), l.Type, l.GeometryType, l.URL())
		}
		return nil
	}

	meta, err := a.client.FetchLayerMetadata(cmd.Context(), target)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Name:\t%s\n", meta.Name)
	fmt.Fprintf(w, "Type:\t%s\n", meta.Type)
	fmt.Fprintf(w, "Geometry:\t%s\n", meta.GeometryType)
	fmt.Fprintf(w, "Object ID field:\t%s\n", meta.ObjectIDField)
	fmt.Fprintf(w, "Max record count:\t%s\n", console.Count(meta.MaxRecordCount))
	fmt.Fprintf(w, "Capabilities:\t%s\n\n", meta.Capabilities)
	fmt.Fprintln(w, "FIELD\tTYPE\tALIAS")
	for _, f := range meta.Fields {
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.Name, f.Type, f.Alias)
	}
	return nil
}

func layerPath(l arcgis.AvailableLayerInfo) string {
	parts := append(append([]string(nil), l.ParentPath...), l.Name)
	return strings.Join(parts, " > ")
}

// isServiceRoot reports whether u ends at a FeatureServer or MapServer
// rather than one of its layers.
func isServiceRoot(u string) bool {
	if arcgis.ServiceType(u) == "" {
		return false
	}
	last := u[strings.LastIndex(strings.TrimRight(u, "/"), "/")+1:]
	last = strings.ToLower(strings.TrimRight(last, "/"))
	return last == "featureserver" || last == "mapserver"
}

func runProjectTypes(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	file := referenceFile
	if file == "" {
		file = a.cfg.Extract.ReferenceFile
	}

	var types []string
	if file != "" {
		rows, err := reftable.LoadFile(file, a.cfg.Extract.DefaultDataset)
		if err != nil {
			return err
		}
		types = distinctProjectTypes(rows)
	} else {
		src := a.referenceSource("").(*reftable.RemoteSource)
		if types, err = src.ProjectTypes(cmd.Context()); err != nil {
			return err
		}
	}
	for _, t := range types {
		fmt.Println(t)
	}
	return nil
}

func distinctProjectTypes(rows []reftable.Row) []string {
	seen := make(map[string]bool)
	var types []string
	for _, r := range rows {
		if r.ProjectType == "" || seen[r.ProjectType] {
			continue
		}
		seen[r.ProjectType] = true
		types = append(types, r.ProjectType)
	}
	sort.Strings(types)
	return types
}

func runReport(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	lots, err := st.LotReport(cmd.Context(), projectNumber)
	if err != nil {
		return err
	}
	pct, err := st.PCTReport(cmd.Context(), projectNumber)
	if err != nil {
		return err
	}
	printLots(os.Stdout, a.palette, lots)
	fmt.Println()
	printPCT(os.Stdout, a.palette, pct)
	return nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.Runs(cmd.Context(), projectNumber, runsLimit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "RUN\tPROJECT\tTYPE\tSTARTED\tEXTRACTED\tREPLACED\tSKIPPED\tFAILED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			r.RunID[:8], r.ProjectNumber, r.ProjectType, r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.Extracted, r.Replaced, r.Skipped, r.Failed)
	}
	return nil
}
