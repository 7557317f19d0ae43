package reftable

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"

	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/arcgis"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/sqlwhere"
	"gopkg.in/yaml.v3"
)

// Source provides reference rows for a project type.
type Source interface {
	Rows(ctx context.Context, projectType string) ([]Row, error)
}

// RemoteSource reads rows from a hosted reference table.
type RemoteSource struct {
	Client         *arcgis.Client
	URL            string
	Token          string
	DefaultDataset string
}

// Rows queries the table for projectType ordered by SortOrder.
func (s *RemoteSource) Rows(ctx context.Context, projectType string) ([]Row, error) {
	q := arcgis.Query{
		Where:         "ProjectType=" + sqlwhere.Quote(projectType),
		OutFields:     []string{"*"},
		OrderByFields: "SortOrder ASC",
		Token:         s.Token,
	}
	fs, err := s.Client.QueryFeatures(ctx, http.MethodGet, s.URL, q)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference table: %w", err)
	}
	rows := make([]Row, 0, len(fs.Features))
	for i, f := range fs.Features {
		rows = append(rows, FromAttributes(f.Attributes, i+1, s.DefaultDataset))
	}
	return Select(rows, projectType), nil
}

// ProjectTypes lists the distinct project types in the table.
func (s *RemoteSource) ProjectTypes(ctx context.Context) ([]string, error) {
	values, err := s.Client.DistinctValues(ctx, s.URL, "ProjectType", arcgis.Query{Where: "1=1", Token: s.Token})
	if err != nil {
		return nil, fmt.Errorf("failed to read project types: %w", err)
	}
	sort.Strings(values)
	return values, nil
}

// File is the YAML layout of an offline reference table.
type File struct {
	Rows []Row `yaml:"rows"`
}

// FileSource reads rows from a YAML file.
type FileSource struct {
	Path           string
	DefaultDataset string
}

// Rows loads the file and selects projectType.
func (s FileSource) Rows(_ context.Context, projectType string) ([]Row, error) {
	rows, err := LoadFile(s.Path, s.DefaultDataset)
	if err != nil {
		return nil, err
	}
	return Select(rows, projectType), nil
}

// LoadFile parses a YAML reference table.
func LoadFile(path, defaultDataset string) ([]Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse reference file %s: %w", path, err)
	}
	for i := range f.Rows {
		f.Rows[i].Normalize(i+1, defaultDataset)
	}
	return f.Rows, nil
}
