package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/reftable"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/report"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/site"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/store"
)

// buildReports refreshes the lots and PCT reports from the first stored
// layer of each role. Failures are logged and kept in out.ReportErrors.
func (o *Orchestrator) buildReports(ctx context.Context, log *slog.Logger, area site.StudyArea, rows []reftable.Row, opts Options, out *Outcome) {
	for _, role := range []reftable.Role{reftable.RoleLotsSummary, reftable.RolePCTSummary} {
		layer, err := o.roleLayer(ctx, area.ProjectNumber, rows, role, opts)
		if err != nil {
			o.reportError(log, out, role, err)
			continue
		}
		if layer == nil {
			log.Debug("no stored layer for report", "role", role)
			continue
		}
		if err := o.buildReport(ctx, area, role, layer); err != nil {
			o.reportError(log, out, role, err)
			continue
		}
		log.Info("report updated", "role", role, "layer", layer.Name)
	}
}

func (o *Orchestrator) reportError(log *slog.Logger, out *Outcome, role reftable.Role, err error) {
	err = fmt.Errorf("%s report: %w", role, err)
	log.Warn("report not built", "role", role, "error", err)
	out.ReportErrors = append(out.ReportErrors, err)
}

// roleLayer finds the project's first stored layer tagged with role.
func (o *Orchestrator) roleLayer(ctx context.Context, project string, rows []reftable.Row, role reftable.Role, opts Options) (*store.Layer, error) {
	for _, row := range rows {
		if row.Role != role {
			continue
		}
		layer, err := o.Store.FindLayer(ctx, outputKey(project, row, opts.DefaultDataset))
		if errors.Is(err, store.ErrLayerNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return layer, nil
	}
	return nil, nil
}

func (o *Orchestrator) buildReport(ctx context.Context, area site.StudyArea, role reftable.Role, layer *store.Layer) error {
	fc, err := o.Store.LoadFeatures(ctx, layer)
	if err != nil {
		return err
	}
	switch role {
	case reftable.RoleLotsSummary:
		rows, err := report.BuildLots(area.ProjectNumber, fc, area.Geometry, o.Engine)
		if err != nil {
			return err
		}
		return o.Store.ReplaceLotReport(ctx, area.ProjectNumber, rows)
	case reftable.RolePCTSummary:
		rows, err := report.BuildPCT(area.ProjectNumber, fc, area.AreaSquareMeters, o.Engine)
		if err != nil {
			return err
		}
		return o.Store.ReplacePCTReport(ctx, area.ProjectNumber, rows)
	}
	return fmt.Errorf("unknown report role %q", role)
}
