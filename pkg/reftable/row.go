// Package reftable reads the reference table that lists which standard
// layers to extract for a project, and how.
package reftable

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// BufferAction decides how extracted features relate to the study area.
type BufferAction string

const (
	// ActionIntersect keeps intersecting features whole.
	ActionIntersect BufferAction = "INTERSECT"
	// ActionClip trims features to the buffered study area.
	ActionClip BufferAction = "CLIP"
)

// Role tags a row as the input of a derived report.
type Role string

const (
	RoleNone        Role = ""
	RoleLotsSummary Role = "lots-summary-source"
	RolePCTSummary  Role = "pct-summary-source"
)

// ErrInvalidRow marks configuration errors in a reference row.
var ErrInvalidRow = errors.New("invalid reference row")

// Row is one entry of the reference table.
type Row struct {
	ShortName          string       `yaml:"short_name"`
	SourceURL          string       `yaml:"url"`
	BufferMeters       float64      `yaml:"buffer_meters"`
	BufferAction       BufferAction `yaml:"buffer_action"`
	FeatureDatasetName string       `yaml:"feature_dataset"`
	ProjectType        string       `yaml:"project_type"`
	SortOrder          int          `yaml:"sort_order"`
	Style              string       `yaml:"style"`
	Role               Role         `yaml:"role"`

	problems []string
}

// Processable reports whether the row names a source to extract.
func (r Row) Processable() bool {
	return strings.TrimSpace(r.SourceURL) != ""
}

// Validate reports configuration errors, wrapping ErrInvalidRow.
func (r Row) Validate() error {
	problems := append([]string(nil), r.problems...)
	if r.BufferMeters < 0 || math.IsNaN(r.BufferMeters) || math.IsInf(r.BufferMeters, 0) {
		problems = append(problems, fmt.Sprintf("buffer %v must be a non-negative distance", r.BufferMeters))
	}
	switch r.BufferAction {
	case ActionIntersect, ActionClip:
	default:
		problems = append(problems, fmt.Sprintf("unknown buffer action %q", r.BufferAction))
	}
	switch r.Role {
	case RoleNone, RoleLotsSummary, RolePCTSummary:
	default:
		problems = append(problems, fmt.Sprintf("unknown role %q", r.Role))
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%s: %w: %s", r.ShortName, ErrInvalidRow, strings.Join(problems, "; "))
}

// Normalize fills defaults. position is the 1-based row number used to
// name rows without a short name.
func (r *Row) Normalize(position int, defaultDataset string) {
	r.ShortName = strings.TrimSpace(r.ShortName)
	if r.ShortName == "" {
		r.ShortName = fmt.Sprintf("Layer_%d", position)
	}
	r.SourceURL = strings.TrimSpace(r.SourceURL)
	r.BufferAction = BufferAction(strings.ToUpper(strings.TrimSpace(string(r.BufferAction))))
	if r.BufferAction == "" {
		r.BufferAction = ActionIntersect
	}
	r.FeatureDatasetName = strings.TrimSpace(r.FeatureDatasetName)
	if r.FeatureDatasetName == "" {
		r.FeatureDatasetName = defaultDataset
	}
	r.Style = strings.Trim(strings.TrimSpace(r.Style), `"'`)
	r.Role = Role(strings.ToLower(strings.TrimSpace(string(r.Role))))
	r.ProjectType = strings.TrimSpace(r.ProjectType)
}

// FromAttributes builds a row from reference-table attributes. Names are
// matched without regard to case. position is the 1-based row number.
func FromAttributes(attrs map[string]interface{}, position int, defaultDataset string) Row {
	lookup := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		lookup[strings.ToLower(k)] = v
	}
	text := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := lookup[k]; ok && v != nil {
				return strings.TrimSpace(fmt.Sprint(v))
			}
		}
		return ""
	}

	r := Row{
		ShortName:          text("shortname", "short_name"),
		SourceURL:          text("url", "sourceurl"),
		BufferAction:       BufferAction(text("bufferaction", "buffer_action")),
		FeatureDatasetName: text("featuredatasetname", "featuredataset", "feature_dataset"),
		ProjectType:        text("projecttype", "project_type"),
		Style:              text("style", "layerfile", "lyrx"),
		Role:               Role(text("role")),
	}
	var err error
	if r.BufferMeters, err = number(lookup["sitebuffer"]); err != nil {
		r.problems = append(r.problems, "SiteBuffer: "+err.Error())
	}
	if r.SortOrder, err = integer(lookup["sortorder"]); err != nil {
		r.problems = append(r.problems, "SortOrder: "+err.Error())
	}
	r.Normalize(position, defaultDataset)
	return r
}

func number(v interface{}) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("unsupported value %v", v)
}

// integer parses a whole number and rejects fractional values.
func integer(v interface{}) (int, error) {
	f, err := number(v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("%v is not a whole number", v)
	}
	return int(f), nil
}

// Select keeps the rows of a project type, matched without regard to case,
// ordered by SortOrder. Rows with equal SortOrder keep their order.
func Select(rows []Row, projectType string) []Row {
	projectType = strings.TrimSpace(projectType)
	var out []Row
	for _, r := range rows {
		if projectType == "" || strings.EqualFold(r.ProjectType, projectType) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out
}
