package arcgis

import (
	"encoding/json"
	"strings"
)

// SpatialReference identifies a coordinate system by well-known id.
type SpatialReference struct {
	WKID       int `json:"wkid,omitempty"`
	LatestWKID int `json:"latestWkid,omitempty"`
}

// Geometry is an Esri JSON geometry. Exactly one of the point coordinates,
// Points, Paths or Rings is populated for a given geometry type.
type Geometry struct {
	X                *float64          `json:"x,omitempty"`
	Y                *float64          `json:"y,omitempty"`
	Points           [][]float64       `json:"points,omitempty"`
	Paths            [][][]float64     `json:"paths,omitempty"`
	Rings            [][][]float64     `json:"rings,omitempty"`
	SpatialReference *SpatialReference `json:"spatialReference,omitempty"`
}

// IsEmpty reports whether the geometry carries no coordinates.
func (g *Geometry) IsEmpty() bool {
	if g == nil {
		return true
	}
	return (g.X == nil || g.Y == nil) && len(g.Points) == 0 && len(g.Paths) == 0 && len(g.Rings) == 0
}

// Feature represents a geographic feature with attributes and geometry.
type Feature struct {
	Attributes map[string]interface{} `json:"attributes"`
	Geometry   *Geometry              `json:"geometry,omitempty"`
}

// Attribute looks up an attribute by name, ignoring case.
func (f Feature) Attribute(name string) (interface{}, bool) {
	if v, ok := f.Attributes[name]; ok {
		return v, true
	}
	for k, v := range f.Attributes {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// ObjectID returns the feature's object id read from field.
func (f Feature) ObjectID(field string) (int64, bool) {
	v, ok := f.Attribute(field)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), n == float64(int64(n))
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		id, err := n.Int64()
		return id, err == nil
	}
	return 0, false
}

// Field describes one attribute column of a layer.
type Field struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Alias  string `json:"alias"`
	Length int    `json:"length,omitempty"`
}

// FeatureSet is the response of a feature query.
type FeatureSet struct {
	ObjectIDFieldName     string            `json:"objectIdFieldName"`
	GeometryType          string            `json:"geometryType"`
	SpatialReference      *SpatialReference `json:"spatialReference"`
	Fields                []Field           `json:"fields"`
	Features              []Feature         `json:"features"`
	ExceededTransferLimit bool              `json:"exceededTransferLimit"`
}

// IDResponse is the response of a returnIdsOnly query.
type IDResponse struct {
	ObjectIDFieldName string  `json:"objectIdFieldName"`
	ObjectIDs         []int64 `json:"objectIds"`
}

// OIDField is the object id field the service reported, or fallback when
// the response named none.
func (r *IDResponse) OIDField(fallback string) string {
	if r.ObjectIDFieldName == "" {
		return fallback
	}
	return r.ObjectIDFieldName
}

// CountResponse is the response of a returnCountOnly query.
type CountResponse struct {
	Count int `json:"count"`
}

// EditResult is the outcome of one feature in an edit request.
type EditResult struct {
	ObjectID int64 `json:"objectId"`
	Success  bool  `json:"success"`
	Error    *struct {
		Code        int    `json:"code"`
		Description string `json:"description"`
	} `json:"error,omitempty"`
}

// LayerMetadata is the JSON description of a single layer or table.
type LayerMetadata struct {
	ID             int          `json:"id"`
	Name           string       `json:"name"`
	Type           string       `json:"type"`
	GeometryType   string       `json:"geometryType"`
	Description    string       `json:"description"`
	ObjectIDField  string       `json:"objectIdField"`
	MaxRecordCount int          `json:"maxRecordCount"`
	Capabilities   string       `json:"capabilities"`
	Fields         []Field      `json:"fields"`
	DrawingInfo    *DrawingInfo `json:"drawingInfo"`
}

// FieldByName finds a field ignoring case.
func (m *LayerMetadata) FieldByName(name string) (Field, bool) {
	for _, f := range m.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return Field{}, false
}

// DrawingInfo represents drawing information for a layer. The renderer is
// kept verbatim so it can be stored and replayed.
type DrawingInfo struct {
	Renderer     json.RawMessage `json:"renderer"`
	Transparency int             `json:"transparency"`
}

// ParseRenderer decodes the summary fields of the renderer.
func (d *DrawingInfo) ParseRenderer() (*Renderer, error) {
	if d == nil || len(d.Renderer) == 0 {
		return nil, nil
	}
	var r Renderer
	if err := json.Unmarshal(d.Renderer, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Renderer represents the renderer for a layer.
type Renderer struct {
	Type             string             `json:"type"`
	Field1           string             `json:"field1"`
	DefaultSymbol    *Symbol            `json:"defaultSymbol"`
	DefaultLabel     string             `json:"defaultLabel"`
	UniqueValueInfos []UniqueValueClass `json:"uniqueValueInfos"`
}

// Symbol represents a symbol used for rendering features.
type Symbol struct {
	Type        string  `json:"type"`
	URL         string  `json:"url"`
	ContentType string  `json:"contentType"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Angle       float64 `json:"angle"`
}

// UniqueValueClass represents a class of unique values for rendering.
type UniqueValueClass struct {
	Value  string  `json:"value"`
	Label  string  `json:"label"`
	Symbol *Symbol `json:"symbol"`
}

// LayerRef is a layer or table entry in service metadata.
type LayerRef struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	GeometryType  string `json:"geometryType"`
	ParentLayerID *int   `json:"parentLayerId"`
}

// ServiceMetadata represents the metadata for a FeatureServer or MapServer.
type ServiceMetadata struct {
	CurrentVersion json.Number `json:"currentVersion"`
	Description    string      `json:"description"`
	Layers         []LayerRef  `json:"layers"`
	Tables         []LayerRef  `json:"tables"`
}

// AvailableLayerInfo stores information about a layer available for extraction.
type AvailableLayerInfo struct {
	ID           int
	Name         string
	Type         string
	GeometryType string
	ServiceURL   string
	ParentPath   []string
	IsTable      bool
}

// URL returns the layer's own endpoint.
func (l AvailableLayerInfo) URL() string {
	return LayerEndpoint(l.ServiceURL, itoa(l.ID))
}

// AddressCandidate is one geocoding match.
type AddressCandidate struct {
	Address    string                 `json:"address"`
	Location   Geometry               `json:"location"`
	Score      float64                `json:"score"`
	Attributes map[string]interface{} `json:"attributes"`
}

// Suggestion is one address autocomplete entry.
type Suggestion struct {
	Text         string `json:"text"`
	MagicKey     string `json:"magicKey"`
	IsCollection bool   `json:"isCollection"`
}
