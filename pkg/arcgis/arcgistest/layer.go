// Package arcgistest provides an in-memory feature layer served over HTTP
// for tests of code that talks to ArcGIS REST services.
package arcgistest

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/arcgis"
)

// Request is a recorded call against the layer.
type Request struct {
	Method    string
	Operation string
	Params    url.Values
}

// Layer is a fake feature layer. Zero values of the knob fields mean
// "behave like a healthy public service".
type Layer struct {
	Name          string
	ObjectIDField string
	Fields        []arcgis.Field
	DrawingInfo   json.RawMessage

	// RequireToken rejects requests whose token differs with Esri code 498.
	RequireToken string
	// RejectGET answers every GET with HTTP 405.
	RejectGET bool
	// MaxBatch fails objectIds queries listing more ids than this.
	MaxBatch int
	// FailIDs fails any objectIds query that includes one of these ids.
	FailIDs map[int64]bool
	// FailQueries fails every query with HTTP 500.
	FailQueries bool
	// FailAdd makes addFeatures report failure for every feature.
	FailAdd bool
	// FailUpdateAfter fails updateFeatures calls after this many succeed; -1 never fails.
	FailUpdateAfter int
	// DuplicateResults returns every matched feature twice.
	DuplicateResults bool
	// ExtraResults appends this feature to every objectIds query result.
	ExtraResults *arcgis.Feature
	// OmitIDFieldName leaves objectIdFieldName out of returnIdsOnly answers.
	OmitIDFieldName bool

	mu       sync.Mutex
	features []arcgis.Feature
	nextOID  int64
	updates  int
	requests []Request
}

// NewLayer returns a layer holding features. Features without an object id
// are numbered from 1.
func NewLayer(name string, features ...arcgis.Feature) *Layer {
	l := &Layer{
		Name:            name,
		ObjectIDField:   arcgis.DefaultObjectIDField,
		FailUpdateAfter: -1,
	}
	for _, f := range features {
		l.Add(f)
	}
	return l
}

// Add stores a feature, assigning an object id when it has none.
func (l *Layer) Add(f arcgis.Feature) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addLocked(f)
}

func (l *Layer) addLocked(f arcgis.Feature) int64 {
	attrs := make(map[string]interface{}, len(f.Attributes)+1)
	for k, v := range f.Attributes {
		attrs[k] = v
	}
	f.Attributes = attrs
	oid, ok := f.ObjectID(l.ObjectIDField)
	if !ok {
		l.nextOID++
		oid = l.nextOID
	} else if oid > l.nextOID {
		l.nextOID = oid
	}
	f.Attributes[l.ObjectIDField] = float64(oid)
	l.features = append(l.features, f)
	return oid
}

// Features returns a copy of the stored features.
func (l *Layer) Features() []arcgis.Feature {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]arcgis.Feature(nil), l.features...)
}

// Requests returns the calls received so far.
func (l *Layer) Requests() []Request {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Request(nil), l.requests...)
}

// ServeHTTP implements http.Handler. The layer answers at any path; the
// operation is taken from the last path element.
func (l *Layer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, 400, err.Error())
		return
	}
	op := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	switch op {
	case "query", "addFeatures", "updateFeatures":
	default:
		op = "metadata"
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, Request{Method: r.Method, Operation: op, Params: r.Form})

	if r.Method == http.MethodGet && l.RejectGET {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if l.RequireToken != "" && r.Form.Get("token") != l.RequireToken {
		writeError(w, http.StatusOK, 498, "Invalid token.")
		return
	}

	switch op {
	case "query":
		l.query(w, r.Form)
	case "addFeatures":
		l.addFeatures(w, r.Form)
	case "updateFeatures":
		l.updateFeatures(w, r.Form)
	default:
		writeJSON(w, map[string]interface{}{
			"id":             0,
			"name":           l.Name,
			"type":           arcgis.FeatureLayerType,
			"geometryType":   arcgis.GeometryPolygon,
			"objectIdField":  l.ObjectIDField,
			"maxRecordCount": 2000,
			"capabilities":   "Query",
			"fields":         l.Fields,
			"drawingInfo":    map[string]json.RawMessage{"renderer": l.DrawingInfo},
		})
	}
}

func (l *Layer) query(w http.ResponseWriter, form url.Values) {
	if l.FailQueries {
		writeError(w, http.StatusInternalServerError, 500, "Unable to complete operation.")
		return
	}

	var requested map[int64]bool
	if raw := form.Get("objectIds"); raw != "" {
		requested = make(map[int64]bool)
		parts := strings.Split(raw, ",")
		if l.MaxBatch > 0 && len(parts) > l.MaxBatch {
			writeError(w, http.StatusOK, 400, "Too many object ids.")
			return
		}
		for _, p := range parts {
			id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
			if err != nil {
				writeError(w, http.StatusOK, 400, "Invalid objectIds.")
				return
			}
			if l.FailIDs[id] {
				writeError(w, http.StatusOK, 500, fmt.Sprintf("Failed to read feature %d.", id))
				return
			}
			requested[id] = true
		}
	}

	var bound *[4]float64
	if g := form.Get("geometry"); g != "" {
		b, err := parseGeometryParam(g, form.Get("geometryType"))
		if err != nil {
			writeError(w, http.StatusOK, 400, err.Error())
			return
		}
		bound = &b
	}

	var matched []arcgis.Feature
	for _, f := range l.features {
		oid, _ := f.ObjectID(l.ObjectIDField)
		if requested != nil && !requested[oid] {
			continue
		}
		if !matchWhere(f, form.Get("where")) {
			continue
		}
		if bound != nil && !intersects(f.Geometry, *bound) {
			continue
		}
		matched = append(matched, f)
	}
	sortFeatures(matched, form.Get("orderByFields"))

	switch {
	case form.Get("returnIdsOnly") == "true":
		ids := make([]int64, 0, len(matched))
		for _, f := range matched {
			oid, _ := f.ObjectID(l.ObjectIDField)
			ids = append(ids, oid)
		}
		resp := map[string]interface{}{"objectIds": ids}
		if !l.OmitIDFieldName {
			resp["objectIdFieldName"] = l.ObjectIDField
		}
		writeJSON(w, resp)
	case form.Get("returnCountOnly") == "true":
		writeJSON(w, map[string]interface{}{"count": len(matched)})
	default:
		if form.Get("returnDistinctValues") == "true" {
			matched = distinct(matched, form.Get("outFields"))
		}
		if l.DuplicateResults {
			matched = append(matched, matched...)
		}
		if requested != nil && l.ExtraResults != nil {
			matched = append(matched, *l.ExtraResults)
		}
		writeJSON(w, map[string]interface{}{
			"objectIdFieldName": l.ObjectIDField,
			"geometryType":      arcgis.GeometryPolygon,
			"features":          matched,
		})
	}
}

func (l *Layer) addFeatures(w http.ResponseWriter, form url.Values) {
	var incoming []arcgis.Feature
	if err := json.Unmarshal([]byte(form.Get("features")), &incoming); err != nil {
		writeError(w, http.StatusOK, 400, "Invalid features.")
		return
	}
	results := make([]arcgis.EditResult, 0, len(incoming))
	for _, f := range incoming {
		if l.FailAdd {
			results = append(results, failedResult("Append rejected."))
			continue
		}
		delete(f.Attributes, l.ObjectIDField)
		oid := l.addLocked(f)
		results = append(results, arcgis.EditResult{ObjectID: oid, Success: true})
	}
	writeJSON(w, map[string]interface{}{"addResults": results})
}

func (l *Layer) updateFeatures(w http.ResponseWriter, form url.Values) {
	var incoming []arcgis.Feature
	if err := json.Unmarshal([]byte(form.Get("features")), &incoming); err != nil {
		writeError(w, http.StatusOK, 400, "Invalid features.")
		return
	}
	if l.FailUpdateAfter >= 0 && l.updates >= l.FailUpdateAfter {
		writeError(w, http.StatusOK, 500, "Update failed.")
		return
	}
	l.updates++
	results := make([]arcgis.EditResult, 0, len(incoming))
	for _, f := range incoming {
		oid, ok := f.ObjectID(l.ObjectIDField)
		idx := l.indexOf(oid)
		if !ok || idx < 0 {
			results = append(results, failedResult("Feature not found."))
			continue
		}
		for k, v := range f.Attributes {
			l.features[idx].Attributes[k] = v
		}
		results = append(results, arcgis.EditResult{ObjectID: oid, Success: true})
	}
	writeJSON(w, map[string]interface{}{"updateResults": results})
}

func (l *Layer) indexOf(oid int64) int {
	for i, f := range l.features {
		if id, _ := f.ObjectID(l.ObjectIDField); id == oid {
			return i
		}
	}
	return -1
}

func failedResult(description string) arcgis.EditResult {
	r := arcgis.EditResult{Success: false}
	r.Error = &struct {
		Code        int    `json:"code"`
		Description string `json:"description"`
	}{Code: 1000, Description: description}
	return r
}

// matchWhere understands the clauses this module sends: 1=1,
// "<field> IS NULL" and "<field> = <literal>" joined by AND.
func matchWhere(f arcgis.Feature, where string) bool {
	where = strings.TrimSpace(where)
	if where == "" || where == "1=1" {
		return true
	}
	for _, clause := range strings.Split(where, " AND ") {
		clause = strings.TrimSpace(clause)
		if clause == "1=1" {
			continue
		}
		if strings.HasSuffix(strings.ToUpper(clause), " IS NULL") {
			field := strings.TrimSpace(clause[:len(clause)-len(" IS NULL")])
			if v, ok := f.Attribute(field); ok && v != nil {
				return false
			}
			continue
		}
		parts := strings.SplitN(clause, "=", 2)
		if len(parts) != 2 {
			return false
		}
		field := strings.TrimSpace(parts[0])
		literal := strings.TrimSpace(parts[1])
		if strings.HasPrefix(literal, "'") && strings.HasSuffix(literal, "'") && len(literal) >= 2 {
			literal = strings.ReplaceAll(literal[1:len(literal)-1], "''", "'")
		}
		v, ok := f.Attribute(field)
		if !ok || v == nil || !strings.EqualFold(formatValue(v), literal) {
			return false
		}
	}
	return true
}

func formatValue(v interface{}) string {
	if n, ok := v.(float64); ok {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func sortFeatures(features []arcgis.Feature, orderBy string) {
	fields := strings.Fields(orderBy)
	if len(fields) == 0 {
		return
	}
	field := fields[0]
	desc := len(fields) > 1 && strings.EqualFold(fields[1], "DESC")
	sort.SliceStable(features, func(i, j int) bool {
		a, _ := features[i].Attribute(field)
		b, _ := features[j].Attribute(field)
		less := compare(a, b) < 0
		if desc {
			return compare(a, b) > 0
		}
		return less
	})
}

func compare(a, b interface{}) int {
	fa, aok := a.(float64)
	fb, bok := b.(float64)
	if aok && bok {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func distinct(features []arcgis.Feature, outFields string) []arcgis.Feature {
	field := strings.Split(outFields, ",")[0]
	seen := make(map[string]bool)
	var out []arcgis.Feature
	for _, f := range features {
		v, _ := f.Attribute(field)
		key := fmt.Sprint(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, arcgis.Feature{Attributes: map[string]interface{}{field: v}})
	}
	return out
}

func parseGeometryParam(raw, geometryType string) ([4]float64, error) {
	parts := strings.Split(raw, ",")
	nums := make([]float64, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return [4]float64{}, fmt.Errorf("invalid geometry %q", raw)
		}
		nums[i] = n
	}
	switch {
	case geometryType == arcgis.GeometryPoint && len(nums) == 2:
		return [4]float64{nums[0], nums[1], nums[0], nums[1]}, nil
	case len(nums) == 4:
		return [4]float64{nums[0], nums[1], nums[2], nums[3]}, nil
	}
	return [4]float64{}, fmt.Errorf("invalid geometry %q", raw)
}

// intersects compares the feature's bounding box with b.
func intersects(g *arcgis.Geometry, b [4]float64) bool {
	if g.IsEmpty() {
		return false
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	extend := func(c []float64) {
		if len(c) < 2 {
			return
		}
		minX, maxX = math.Min(minX, c[0]), math.Max(maxX, c[0])
		minY, maxY = math.Min(minY, c[1]), math.Max(maxY, c[1])
	}
	if g.X != nil && g.Y != nil {
		extend([]float64{*g.X, *g.Y})
	}
	for _, p := range g.Points {
		extend(p)
	}
	for _, set := range [][][][]float64{g.Paths, g.Rings} {
		for _, part := range set {
			for _, c := range part {
				extend(c)
			}
		}
	}
	return minX <= b[2] && maxX >= b[0] && minY <= b[3] && maxY >= b[1]
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{"code": code, "message": message, "details": []string{}},
	})
}

// Polygon builds an Esri polygon feature from a closed ring of lon/lat pairs.
func Polygon(attrs map[string]interface{}, ring ...[2]float64) arcgis.Feature {
	coords := make([][]float64, len(ring))
	for i, c := range ring {
		coords[i] = []float64{c[0], c[1]}
	}
	return arcgis.Feature{
		Attributes: attrs,
		Geometry: &arcgis.Geometry{
			Rings:            [][][]float64{coords},
			SpatialReference: &arcgis.SpatialReference{WKID: arcgis.WGS84},
		},
	}
}

// Square builds a clockwise square polygon feature with lower-left corner
// (x, y) and the given side length in degrees.
func Square(attrs map[string]interface{}, x, y, side float64) arcgis.Feature {
	return Polygon(attrs,
		[2]float64{x, y},
		[2]float64{x, y + side},
		[2]float64{x + side, y + side},
		[2]float64{x + side, y},
		[2]float64{x, y},
	)
}
