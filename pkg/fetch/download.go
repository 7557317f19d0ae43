package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/arcgis"
)

// DefaultBatchSize is the number of object ids requested per query.
const DefaultBatchSize = 20

// ErrNoFeatures is returned when a download produced no features at all.
var ErrNoFeatures = errors.New("no features downloaded")

// Stats counts what happened during a download.
type Stats struct {
	Requested     int
	Batches       int
	FailedBatches int
	Rescued       int
	Dropped       int
}

// Download is the merged result of a chunked download.
type Download struct {
	Features     []arcgis.Feature
	GeometryType string
	Stats        Stats
}

// Downloader fetches features by object id in fixed-size batches. A failed
// batch is retried one id at a time; ids that still fail are dropped.
type Downloader struct {
	Client    *arcgis.Client
	BatchSize int
	Logger    *slog.Logger
}

// Batches splits ids into consecutive slices of at most size ids.
func Batches(ids []int64, size int) [][]int64 {
	if size <= 0 {
		size = DefaultBatchSize
	}
	batches := make([][]int64, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[start:end])
	}
	return batches
}

// Download fetches the features for ids using the access mode that
// resolved them. Only requested ids are returned, each at most once.
func (d *Downloader) Download(ctx context.Context, layerURL string, access Access, oidField string, ids []int64) (*Download, error) {
	if oidField == "" {
		oidField = arcgis.DefaultObjectIDField
	}
	if access.Method == "" {
		access.Method = http.MethodGet
	}
	requested := make(map[int64]bool, len(ids))
	for _, id := range ids {
		requested[id] = true
	}
	out := &Download{Stats: Stats{Requested: len(requested)}}
	seen := make(map[int64]bool, len(ids))

	merge := func(fs *arcgis.FeatureSet) int {
		added := 0
		if out.GeometryType == "" {
			out.GeometryType = fs.GeometryType
		}
		for _, f := range fs.Features {
			oid, ok := f.ObjectID(oidField)
			if !ok || !requested[oid] || seen[oid] {
				continue
			}
			seen[oid] = true
			out.Features = append(out.Features, f)
			added++
		}
		return added
	}

	for i, batch := range Batches(ids, d.BatchSize) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out.Stats.Batches++
		fs, err := d.query(ctx, layerURL, access, batch)
		if err == nil {
			merge(fs)
			continue
		}

		out.Stats.FailedBatches++
		d.logger().Warn("batch failed, retrying ids individually", "url", layerURL, "batch", i+1, "size", len(batch), "error", err)
		for _, id := range batch {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			fs, err := d.query(ctx, layerURL, access, []int64{id})
			if err != nil {
				d.logger().Debug("dropping feature", "url", layerURL, "oid", id, "error", err)
				continue
			}
			out.Stats.Rescued += merge(fs)
		}
	}

	out.Stats.Dropped = out.Stats.Requested - len(out.Features)
	if len(out.Features) == 0 {
		return out, fmt.Errorf("%s: %w", layerURL, ErrNoFeatures)
	}
	return out, nil
}

func (d *Downloader) query(ctx context.Context, layerURL string, access Access, ids []int64) (*arcgis.FeatureSet, error) {
	return d.Client.QueryFeatures(ctx, access.Method, layerURL, arcgis.Query{
		ObjectIDs:      ids,
		OutFields:      []string{"*"},
		ReturnGeometry: true,
		OutSR:          arcgis.WGS84,
		Token:          access.Token,
	})
}

func (d *Downloader) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
