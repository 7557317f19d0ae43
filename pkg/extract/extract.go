// Copyright (c) 2025 Sudo-Ivan
// Licensed under the MIT License

// Package extract copies the features of the standard reference layers
// that fall within a study area into the project datastore.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/arcgis"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/convert"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/fetch"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/geoproc"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/naming"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/reftable"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/site"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/store"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/style"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Properties stamped on every extracted feature.
const (
	PropExtractDate = "ExtractDate"
	PropExtractURL  = "ExtractURL"
)

// DefaultDataset receives rows that name no feature dataset.
const DefaultDataset = "ProjectData"

// IDResolver finds the object ids intersecting an envelope.
type IDResolver interface {
	Fetch(ctx context.Context, layerURL string, envelope orb.Bound) fetch.IDSet
}

// Downloader fetches features by object id.
type Downloader interface {
	Download(ctx context.Context, layerURL string, access fetch.Access, oidField string, ids []int64) (*fetch.Download, error)
}

// StyleResolver finds the symbology recorded with a layer.
type StyleResolver interface {
	Resolve(ctx context.Context, stylePath, layerURL string) style.Style
}

// Options control a run.
type Options struct {
	// Overwrite replaces layers that already exist.
	Overwrite bool
	// Refresh re-extracts existing layers; it implies Overwrite.
	Refresh        bool
	DefaultDataset string
	// ProjectType selects the reference rows; empty keeps all rows.
	ProjectType string
}

// Orchestrator runs the reference rows against a study area, one row at a
// time in sort order.
type Orchestrator struct {
	IDs        IDResolver
	Downloader Downloader
	Store      *store.Store
	Engine     geoproc.Engine
	// Styles is optional.
	Styles StyleResolver
	// Metadata is optional and used for failure diagnostics only.
	Metadata style.MetadataFetcher
	Logger   *slog.Logger
	Now      func() time.Time
}

// Run extracts every selected row. Row errors are classified into the
// outcome and never stop the run. When ctx is cancelled the remaining rows
// are recorded as cancelled and ctx.Err() is returned with the outcome.
func (o *Orchestrator) Run(ctx context.Context, area site.StudyArea, rows []reftable.Row, opts Options) (*Outcome, error) {
	if len(area.Geometry) == 0 {
		return nil, fmt.Errorf("study area %s has no geometry", area.ProjectNumber)
	}
	if opts.DefaultDataset == "" {
		opts.DefaultDataset = DefaultDataset
	}
	started := o.now()
	out := &Outcome{RunID: uuid.NewString()}
	log := o.logger().With("run", out.RunID[:8], "project", area.ProjectNumber)

	if n, err := o.Store.CleanupStaged(ctx); err != nil {
		log.Warn("could not remove staged layers", "error", err)
	} else if n > 0 {
		log.Info("removed staged layers from an interrupted run", "count", n)
	}

	selected := reftable.Select(rows, opts.ProjectType)
	log.Info("extracting reference layers", "rows", len(selected), "project_type", opts.ProjectType)

	slots := make(map[store.LayerKey]string)
	var runErr error
	for i, row := range selected {
		if err := ctx.Err(); err != nil {
			runErr = err
			for _, rest := range selected[i:] {
				if _, seen := out.PartitionOf(rest.ShortName); seen {
					continue
				}
				o.record(log, out, Failed, RowResult{
					ShortName: rest.ShortName,
					SafeName:  naming.SafeName(rest.ShortName),
					Kind:      KindCancelled,
					Err:       err,
				})
			}
			break
		}
		if _, seen := out.PartitionOf(row.ShortName); seen {
			log.Warn("duplicate short name in reference table, row ignored", "row", row.ShortName)
			continue
		}
		if row.Validate() == nil && row.Processable() {
			key := outputKey(area.ProjectNumber, row, opts.DefaultDataset)
			if owner, taken := slots[key]; taken {
				o.record(log, out, Failed, RowResult{
					ShortName: row.ShortName,
					SafeName:  key.Name,
					Dataset:   key.Dataset,
					Kind:      KindConfig,
					Err:       fmt.Errorf("%w: output %s/%s is already written by row %q", reftable.ErrInvalidRow, key.Dataset, key.Name, owner),
				})
				continue
			}
			slots[key] = row.ShortName
		}
		p, res := o.processRow(ctx, log, area, row, opts)
		o.record(log, out, p, res)
	}

	if runErr == nil {
		o.buildReports(ctx, log, area, selected, opts, out)
	}

	if err := o.saveRun(context.WithoutCancel(ctx), area, opts, started, out); err != nil {
		log.Warn("could not record run", "error", err)
	}
	return out, runErr
}

func (o *Orchestrator) record(log *slog.Logger, out *Outcome, p Partition, r RowResult) {
	if err := out.Record(p, r); err != nil {
		log.Error("row not recorded", "error", err)
		return
	}
	attrs := []any{"row", r.ShortName, "outcome", p.String()}
	if r.Kind != "" {
		attrs = append(attrs, "kind", r.Kind)
	}
	switch p {
	case Failed:
		log.Error("row failed", append(attrs, "reason", r.Reason)...)
	case Skipped:
		log.Info("row skipped", append(attrs, "reason", r.Reason)...)
	default:
		log.Info("row extracted", append(attrs, "features", r.Features)...)
	}
}

func (o *Orchestrator) processRow(ctx context.Context, log *slog.Logger, area site.StudyArea, row reftable.Row, opts Options) (Partition, RowResult) {
	res := RowResult{ShortName: row.ShortName, SafeName: naming.SafeName(row.ShortName)}
	log = log.With("row", row.ShortName)

	if err := row.Validate(); err != nil {
		res.Kind, res.Err = KindConfig, err
		return Failed, res
	}
	if !row.Processable() {
		res.Kind, res.Reason = KindMissingURL, "no source URL"
		return Skipped, res
	}

	key := outputKey(area.ProjectNumber, row, opts.DefaultDataset)
	res.Dataset = key.Dataset

	exists, err := o.Store.LayerExists(ctx, key)
	if err != nil {
		return o.failure(ctx, res, KindWrite, fmt.Errorf("failed to check existing output: %w", err))
	}
	if exists && !opts.Overwrite && !opts.Refresh {
		res.Kind, res.Reason = KindExists, fmt.Sprintf("%s/%s exists; use overwrite to replace it", res.Dataset, res.SafeName)
		return Skipped, res
	}

	layerURL := arcgis.NormalizeArcGISURL(row.SourceURL)
	queryGeom := o.Engine.Buffer(area.Geometry, row.BufferMeters)

	ids := o.IDs.Fetch(ctx, layerURL, queryGeom.Bound())
	res.QueryURL = ids.QueryURL
	if ctx.Err() != nil {
		return o.failure(ctx, res, KindCancelled, ctx.Err())
	}
	if len(ids.IDs) == 0 {
		res.Kind, res.Reason = KindNoFeatures, "no features intersect the study area"
		if ids.Warning != nil {
			res.Reason += ": " + ids.Warning.Error()
		}
		return Skipped, res
	}

	dl, err := o.Downloader.Download(ctx, layerURL, ids.Access, ids.ObjectIDField, ids.IDs)
	if err != nil {
		o.diagnose(ctx, log, layerURL)
		return o.failure(ctx, res, KindFetch, err)
	}
	res.Dropped = dl.Stats.Dropped

	fc, discarded := o.shape(dl.Features, ids.ObjectIDField, queryGeom, row.BufferAction)
	res.Dropped += discarded
	if len(fc.Features) == 0 {
		res.Kind, res.Reason = KindNoFeatures, fmt.Sprintf("all %d downloaded features fell outside the study area", len(dl.Features))
		return Skipped, res
	}

	extractedAt := o.now().UTC()
	for _, f := range fc.Features {
		f.Properties[PropExtractDate] = extractedAt.Format(time.RFC3339)
		f.Properties[PropExtractURL] = layerURL
	}

	var st style.Style
	if o.Styles != nil {
		st = o.Styles.Resolve(ctx, row.Style, layerURL)
	}

	replaced, err := o.Store.ReplaceLayer(ctx, store.LayerInput{
		Dataset:       res.Dataset,
		Name:          res.SafeName,
		DisplayName:   row.ShortName,
		SourceURL:     layerURL,
		ProjectNumber: area.ProjectNumber,
		BufferMeters:  row.BufferMeters,
		BufferAction:  string(row.BufferAction),
		GeometryType:  dl.GeometryType,
		Style:         st.Path,
		Renderer:      st.Renderer,
		ExtractedAt:   extractedAt,
		Features:      fc,
	})
	if err != nil {
		return o.failure(ctx, res, KindWrite, err)
	}
	res.Features = len(fc.Features)
	if replaced {
		return Replaced, res
	}
	return Extracted, res
}

// outputKey is the store slot a row writes to. Rows whose names sanitize
// to the same slot would overwrite each other.
func outputKey(project string, row reftable.Row, defaultDataset string) store.LayerKey {
	dataset := row.FeatureDatasetName
	if dataset == "" {
		dataset = defaultDataset
	}
	return store.LayerKey{
		Project: project,
		Dataset: naming.SafeName(dataset),
		Name:    naming.SafeName(row.ShortName),
	}
}

// shape converts downloaded features and applies the row's buffer action.
// CLIP trims each feature to the query geometry; INTERSECT keeps features
// whole but drops those the envelope query over-selected.
func (o *Orchestrator) shape(features []arcgis.Feature, oidField string, queryGeom orb.Geometry, action reftable.BufferAction) (*geojson.FeatureCollection, int) {
	fc := geojson.NewFeatureCollection()
	dropped := 0
	for _, src := range features {
		g, err := convert.ToOrb(src.Geometry)
		if err != nil || g == nil {
			dropped++
			continue
		}
		if action == reftable.ActionClip {
			g = o.Engine.Clip(g, queryGeom)
		} else if !o.Engine.Intersects(g, queryGeom) {
			g = nil
		}
		if g == nil {
			dropped++
			continue
		}
		f := geojson.NewFeature(g)
		if oid, ok := src.ObjectID(oidField); ok {
			f.ID = oid
		}
		for k, v := range src.Attributes {
			f.Properties[k] = v
		}
		fc.Append(f)
	}
	return fc, dropped
}

func (o *Orchestrator) failure(ctx context.Context, res RowResult, kind Kind, err error) (Partition, RowResult) {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || kind == KindCancelled) {
		kind = KindCancelled
	}
	res.Kind, res.Err = kind, err
	return Failed, res
}

// diagnose logs what the service says about itself after a failed download.
func (o *Orchestrator) diagnose(ctx context.Context, log *slog.Logger, layerURL string) {
	if o.Metadata == nil || ctx.Err() != nil {
		return
	}
	meta, err := o.Metadata.FetchLayerMetadata(ctx, layerURL)
	if err != nil {
		log.Debug("layer metadata unavailable", "url", layerURL, "error", err)
		return
	}
	log.Debug("layer metadata",
		"name", meta.Name,
		"type", meta.Type,
		"capabilities", meta.Capabilities,
		"max_record_count", meta.MaxRecordCount,
	)
}

func (o *Orchestrator) saveRun(ctx context.Context, area site.StudyArea, opts Options, started time.Time, out *Outcome) error {
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return o.Store.SaveRun(ctx, &store.Run{
		RunID:         out.RunID,
		ProjectNumber: area.ProjectNumber,
		ProjectType:   opts.ProjectType,
		StartedAt:     started,
		FinishedAt:    o.now(),
		Extracted:     len(out.Extracted),
		Replaced:      len(out.Replaced),
		Skipped:       len(out.Skipped),
		Failed:        len(out.Failed),
		Outcome:       string(data),
	})
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}
