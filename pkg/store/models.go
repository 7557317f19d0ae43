package store

import "time"

// FeatureDataset groups extracted layers, mirroring a geodatabase feature dataset.
type FeatureDataset struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;size:63;not null"`
	CreatedAt time.Time
}

// Layer is one extracted reference layer. Each project has its own copy
// of a dataset/name slot.
type Layer struct {
	ID            uint           `gorm:"primaryKey"`
	ProjectNumber string         `gorm:"uniqueIndex:idx_project_dataset_layer,priority:1"`
	DatasetID     uint           `gorm:"uniqueIndex:idx_project_dataset_layer,priority:2;not null"`
	Dataset       FeatureDataset `gorm:"constraint:OnDelete:CASCADE"`
	Name          string         `gorm:"uniqueIndex:idx_project_dataset_layer,priority:3;size:63;not null"`
	DisplayName   string
	SourceURL     string
	BufferMeters  float64
	BufferAction  string
	GeometryType  string
	Style         string
	Renderer      string
	FeatureCount  int
	ExtractedAt   time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Feature is a stored feature: WKB geometry and JSON properties.
type Feature struct {
	ID         uint  `gorm:"primaryKey"`
	LayerID    uint  `gorm:"index;not null"`
	SourceOID  int64 `gorm:"index"`
	Geometry   []byte
	Properties string
}

// LotReportRow is one lot inside the study area.
type LotReportRow struct {
	ID               uint   `gorm:"primaryKey"`
	ProjectNumber    string `gorm:"index"`
	Lot              string
	Section          string
	Plan             string
	PlanLotArea      *float64
	PlanLotAreaUnits string
	CreatedAt        time.Time
}

func (LotReportRow) TableName() string { return "site_lots_report" }

// PCTReportRow summarises one plant community type within the study area.
type PCTReportRow struct {
	ID                 uint   `gorm:"primaryKey"`
	ProjectNumber      string `gorm:"index"`
	PCTID              string `gorm:"column:pct_id"`
	PCTName            string `gorm:"column:pct_name"`
	SumAreaM           float64
	SumSiteCoveragePct float64
	CreatedAt          time.Time
}

func (PCTReportRow) TableName() string { return "pct_report" }

// Run records one extraction run and its outcome.
type Run struct {
	ID            uint   `gorm:"primaryKey"`
	RunID         string `gorm:"uniqueIndex;size:36"`
	ProjectNumber string `gorm:"index"`
	ProjectType   string
	StartedAt     time.Time
	FinishedAt    time.Time
	Extracted     int
	Replaced      int
	Skipped       int
	Failed        int
	Outcome       string
}
