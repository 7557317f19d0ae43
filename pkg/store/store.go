// Package store is the local project datastore: a SQLite database holding
// feature datasets, extracted layers, derived reports and run history.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/naming"
	"github.com/google/uuid"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrLayerNotFound is returned when a layer does not exist.
var ErrLayerNotFound = errors.New("layer not found")

const (
	insertBatchSize = 200
	tempPrefix      = "tmp_extract_"

	// legacyLayerIndex keyed layers without the project number.
	legacyLayerIndex = "idx_dataset_layer"
)

// Options configures Open.
type Options struct {
	// Verbose logs every SQL statement.
	Verbose bool
}

// Store wraps the project database.
type Store struct {
	db   *gorm.DB
	path string
}

// Open opens or creates the database at path and migrates its schema.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, errors.New("store path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	level := logger.Silent
	if opts.Verbose {
		level = logger.Info
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}
	if db.Migrator().HasIndex(&Layer{}, legacyLayerIndex) {
		if err := db.Migrator().DropIndex(&Layer{}, legacyLayerIndex); err != nil {
			return nil, fmt.Errorf("failed to migrate store %s: %w", path, err)
		}
	}
	if err := db.AutoMigrate(&FeatureDataset{}, &Layer{}, &Feature{}, &LotReportRow{}, &PCTReportRow{}, &Run{}); err != nil {
		return nil, fmt.Errorf("failed to migrate store %s: %w", path, err)
	}
	return &Store{db: db, path: path}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Path is the database file location.
func (s *Store) Path() string { return s.path }

// EnsureDataset returns the named dataset, creating it if needed.
func (s *Store) EnsureDataset(ctx context.Context, name string) (*FeatureDataset, error) {
	ds := FeatureDataset{Name: naming.SafeName(name)}
	if err := s.db.WithContext(ctx).Where(FeatureDataset{Name: ds.Name}).FirstOrCreate(&ds).Error; err != nil {
		return nil, fmt.Errorf("failed to ensure dataset %s: %w", ds.Name, err)
	}
	return &ds, nil
}

// LayerKey identifies one output slot: a layer name inside a project's
// dataset.
type LayerKey struct {
	Project string
	Dataset string
	Name    string
}

func (k LayerKey) String() string {
	return k.Project + ":" + naming.SafeName(k.Dataset) + "/" + k.Name
}

// LayerExists reports whether key holds an extracted layer.
func (s *Store) LayerExists(ctx context.Context, key LayerKey) (bool, error) {
	_, err := s.FindLayer(ctx, key)
	if errors.Is(err, ErrLayerNotFound) {
		return false, nil
	}
	return err == nil, err
}

// FindLayer loads the layer metadata stored under key.
func (s *Store) FindLayer(ctx context.Context, key LayerKey) (*Layer, error) {
	var layer Layer
	res := s.db.WithContext(ctx).
		Joins("Dataset").
		Where("layers.project_number = ? AND Dataset.name = ? AND layers.name = ?", key.Project, naming.SafeName(key.Dataset), key.Name).
		Limit(1).
		Find(&layer)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to look up layer %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%s: %w", key, ErrLayerNotFound)
	}
	return &layer, nil
}

// ListLayers returns every committed layer ordered by project, dataset and name.
func (s *Store) ListLayers(ctx context.Context) ([]Layer, error) {
	var layers []Layer
	err := s.db.WithContext(ctx).
		Joins("Dataset").
		Where("layers.name NOT LIKE ?", tempPrefix+"%").
		Order("layers.project_number, Dataset.name, layers.name").
		Find(&layers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list layers: %w", err)
	}
	return layers, nil
}

// LayerInput describes a layer to write.
type LayerInput struct {
	Dataset       string
	Name          string
	DisplayName   string
	SourceURL     string
	ProjectNumber string
	BufferMeters  float64
	BufferAction  string
	GeometryType  string
	Style         string
	Renderer      string
	ExtractedAt   time.Time
	// Features carry their source object id in Feature.ID.
	Features *geojson.FeatureCollection
}

// ReplaceLayer writes the layer under a temporary name and then, in one
// transaction, removes the project's previous layer of the same name and renames the
// new one into place. On failure the previous layer is left untouched.
// It reports whether a previous layer was replaced.
func (s *Store) ReplaceLayer(ctx context.Context, in LayerInput) (replaced bool, err error) {
	rows, err := encodeFeatures(in.Features)
	if err != nil {
		return false, fmt.Errorf("failed to encode %s: %w", in.Name, err)
	}
	ds, err := s.EnsureDataset(ctx, in.Dataset)
	if err != nil {
		return false, err
	}

	db := s.db.WithContext(ctx)
	staged := &Layer{
		DatasetID:     ds.ID,
		Name:          naming.TempName(in.Name, uuid.NewString()[:8]),
		DisplayName:   in.DisplayName,
		SourceURL:     in.SourceURL,
		ProjectNumber: in.ProjectNumber,
		BufferMeters:  in.BufferMeters,
		BufferAction:  in.BufferAction,
		GeometryType:  in.GeometryType,
		Style:         in.Style,
		Renderer:      in.Renderer,
		FeatureCount:  len(rows),
		ExtractedAt:   in.ExtractedAt,
	}
	if err := db.Create(staged).Error; err != nil {
		return false, fmt.Errorf("failed to stage %s: %w", in.Name, err)
	}
	defer func() {
		if err != nil {
			s.dropLayer(context.WithoutCancel(ctx), staged.ID)
		}
	}()

	for i := range rows {
		rows[i].LayerID = staged.ID
	}
	if len(rows) > 0 {
		if err := db.CreateInBatches(rows, insertBatchSize).Error; err != nil {
			return false, fmt.Errorf("failed to write features of %s: %w", in.Name, err)
		}
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		var old Layer
		res := tx.Where("project_number = ? AND dataset_id = ? AND name = ?", in.ProjectNumber, ds.ID, in.Name).Limit(1).Find(&old)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			replaced = true
			if err := deleteLayer(tx, old.ID); err != nil {
				return err
			}
		}
		return tx.Model(staged).Update("name", in.Name).Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to swap %s into place: %w", in.Name, err)
	}
	return replaced, nil
}

// LoadFeatures decodes the stored features of a layer.
func (s *Store) LoadFeatures(ctx context.Context, layer *Layer) (*geojson.FeatureCollection, error) {
	var rows []Feature
	if err := s.db.WithContext(ctx).Where("layer_id = ?", layer.ID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load features of %s: %w", layer.Name, err)
	}
	fc := geojson.NewFeatureCollection()
	for _, row := range rows {
		geom, err := wkb.Unmarshal(row.Geometry)
		if err != nil {
			return nil, fmt.Errorf("failed to decode geometry of %s feature %d: %w", layer.Name, row.SourceOID, err)
		}
		f := geojson.NewFeature(geom)
		f.ID = row.SourceOID
		if row.Properties != "" {
			if err := json.Unmarshal([]byte(row.Properties), &f.Properties); err != nil {
				return nil, fmt.Errorf("failed to decode properties of %s feature %d: %w", layer.Name, row.SourceOID, err)
			}
		}
		fc.Append(f)
	}
	return fc, nil
}

// CleanupStaged removes staging layers left behind by interrupted runs.
func (s *Store) CleanupStaged(ctx context.Context) (int, error) {
	var staged []Layer
	if err := s.db.WithContext(ctx).Where("name LIKE ?", tempPrefix+"%").Find(&staged).Error; err != nil {
		return 0, err
	}
	for _, l := range staged {
		if err := deleteLayer(s.db.WithContext(ctx), l.ID); err != nil {
			return 0, err
		}
	}
	return len(staged), nil
}

func (s *Store) dropLayer(ctx context.Context, id uint) {
	_ = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteLayer(tx, id)
	})
}

func deleteLayer(tx *gorm.DB, id uint) error {
	if err := tx.Where("layer_id = ?", id).Delete(&Feature{}).Error; err != nil {
		return err
	}
	return tx.Delete(&Layer{}, id).Error
}

func encodeFeatures(fc *geojson.FeatureCollection) ([]Feature, error) {
	if fc == nil {
		return nil, nil
	}
	rows := make([]Feature, 0, len(fc.Features))
	for i, f := range fc.Features {
		if f.Geometry == nil {
			return nil, fmt.Errorf("feature %d has no geometry", i)
		}
		geom, err := wkb.Marshal(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		props, err := json.Marshal(f.Properties)
		if err != nil {
			return nil, fmt.Errorf("feature %d properties: %w", i, err)
		}
		rows = append(rows, Feature{
			SourceOID:  sourceOID(f.ID),
			Geometry:   geom,
			Properties: string(props),
		})
	}
	return rows, nil
}

func sourceOID(id interface{}) int64 {
	switch v := id.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}
