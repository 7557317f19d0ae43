package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/console"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/extract"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/store"
	"github.com/charmbracelet/lipgloss"
)

// printOutcome lists every partition of a run followed by a one-line total
// coloured red when anything failed, yellow when anything was skipped and
// green otherwise.
func printOutcome(w io.Writer, p *console.Palette, out *extract.Outcome) {
	section(w, p.Success, "Extracted", out.Extracted, featureDetail)
	section(w, p.Success, "Replaced", out.Replaced, featureDetail)
	section(w, p.Warn, "Skipped", out.Skipped, reasonDetail)
	section(w, p.Error, "Failed", out.Failed, reasonDetail)
	for _, err := range out.ReportErrors {
		fmt.Fprintln(w, p.Warn.Render("report: "+err.Error()))
	}

	summary := fmt.Sprintf("\nProcessing complete. %s extracted, %s replaced, %s skipped, %s failed.",
		console.Count(len(out.Extracted)), console.Count(len(out.Replaced)),
		console.Count(len(out.Skipped)), console.Count(len(out.Failed)))
	switch {
	case len(out.Failed) > 0:
		fmt.Fprintln(w, p.Error.Render(summary))
	case len(out.Skipped) > 0:
		fmt.Fprintln(w, p.Warn.Render(summary))
	default:
		fmt.Fprintln(w, p.Success.Render(summary))
	}
}

func section(w io.Writer, style lipgloss.Style, title string, rows []extract.RowResult, detail func(extract.RowResult) string) {
	if len(rows) == 0 {
		return
	}
	fmt.Fprintln(w, style.Render(fmt.Sprintf("%s (%d)", title, len(rows))))
	for _, r := range rows {
		fmt.Fprintf(w, "  %s  %s\n", r.ShortName, detail(r))
	}
}

func featureDetail(r extract.RowResult) string {
	s := console.Count(r.Features) + " features"
	if r.Dropped > 0 {
		s += fmt.Sprintf(", %s dropped", console.Count(r.Dropped))
	}
	return s + " -> " + r.Dataset + "/" + r.SafeName
}

func reasonDetail(r extract.RowResult) string {
	if r.Reason == "" {
		return string(r.Kind)
	}
	return fmt.Sprintf("[%s] %s", r.Kind, r.Reason)
}

func printLots(w io.Writer, p *console.Palette, rows []store.LotReportRow) {
	fmt.Fprintln(w, p.Header.Render("Lots"))
	if len(rows) == 0 {
		fmt.Fprintln(w, p.Faint.Render("no lots recorded"))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LOT\tSECTION\tPLAN\tAREA")
	for _, r := range rows {
		area := ""
		if r.PlanLotArea != nil {
			area = strings.TrimSpace(fmt.Sprintf("%g %s", *r.PlanLotArea, r.PlanLotAreaUnits))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Lot, r.Section, r.Plan, area)
	}
	tw.Flush()
}

func printPCT(w io.Writer, p *console.Palette, rows []store.PCTReportRow) {
	fmt.Fprintln(w, p.Header.Render("Plant community types"))
	if len(rows) == 0 {
		fmt.Fprintln(w, p.Faint.Render("no plant community types recorded"))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PCT\tNAME\tAREA\tSITE %")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f\n", r.PCTID, r.PCTName, console.Area(r.SumAreaM), r.SumSiteCoveragePct)
	}
	tw.Flush()
}
