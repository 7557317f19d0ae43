package arcgis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// Query holds the parameters of a layer query request.
type Query struct {
	Where             string
	Geometry          string
	GeometryType      string
	InSR              int
	SpatialRel        string
	OutFields         []string
	ReturnGeometry    bool
	ReturnIDsOnly     bool
	ReturnCountOnly   bool
	ReturnDistinct    bool
	ObjectIDs         []int64
	OutSR             int
	OrderByFields     string
	ResultRecordCount int
	Token             string
}

// EnvelopeQuery returns a query for features intersecting a WGS84 bound.
func EnvelopeQuery(b orb.Bound) Query {
	return Query{
		Where:        "1=1",
		Geometry:     EnvelopeParam(b),
		GeometryType: GeometryEnvelope,
		InSR:         WGS84,
		SpatialRel:   SpatialRelIntersects,
	}
}

// PointQuery returns a query for features related to a WGS84 point.
func PointQuery(p orb.Point, spatialRel string) Query {
	return Query{
		Where:        "1=1",
		Geometry:     fmt.Sprintf("%s,%s", formatCoord(p[0]), formatCoord(p[1])),
		GeometryType: GeometryPoint,
		InSR:         WGS84,
		SpatialRel:   spatialRel,
	}
}

// EnvelopeParam formats a bound as an xmin,ymin,xmax,ymax geometry parameter.
func EnvelopeParam(b orb.Bound) string {
	return strings.Join([]string{
		formatCoord(b.Min[0]), formatCoord(b.Min[1]),
		formatCoord(b.Max[0]), formatCoord(b.Max[1]),
	}, ",")
}

// Values encodes the query as request parameters.
func (q Query) Values() url.Values {
	v := url.Values{}
	where := q.Where
	if where == "" && len(q.ObjectIDs) == 0 {
		where = "1=1"
	}
	if where != "" {
		v.Set("where", where)
	}
	if q.Geometry != "" {
		v.Set("geometry", q.Geometry)
		v.Set("geometryType", q.GeometryType)
		if q.SpatialRel != "" {
			v.Set("spatialRel", q.SpatialRel)
		}
		if q.InSR != 0 {
			v.Set("inSR", strconv.Itoa(q.InSR))
		}
	}
	if len(q.OutFields) > 0 {
		v.Set("outFields", strings.Join(q.OutFields, ","))
	}
	switch {
	case q.ReturnIDsOnly:
		v.Set("returnIdsOnly", "true")
	case q.ReturnCountOnly:
		v.Set("returnCountOnly", "true")
	default:
		v.Set("returnGeometry", strconv.FormatBool(q.ReturnGeometry))
	}
	if q.ReturnDistinct {
		v.Set("returnDistinctValues", "true")
	}
	if len(q.ObjectIDs) > 0 {
		ids := make([]string, len(q.ObjectIDs))
		for i, id := range q.ObjectIDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		v.Set("objectIds", strings.Join(ids, ","))
	}
	if q.OutSR != 0 {
		v.Set("outSR", strconv.Itoa(q.OutSR))
	}
	if q.OrderByFields != "" {
		v.Set("orderByFields", q.OrderByFields)
	}
	if q.ResultRecordCount > 0 {
		v.Set("resultRecordCount", strconv.Itoa(q.ResultRecordCount))
	}
	if q.Token != "" {
		v.Set("token", q.Token)
	}
	return v
}

// QueryURL renders the full GET URL of a query, for diagnostics.
func QueryURL(layerURL string, q Query) string {
	v := q.Values()
	v.Del("token")
	v.Set("f", "json")
	return LayerEndpoint(layerURL, "query") + "?" + v.Encode()
}

// QueryIDs runs a returnIdsOnly query using the given HTTP method. The
// object id field name is left empty when the service omits it; see
// IDResponse.OIDField.
func (c *Client) QueryIDs(ctx context.Context, method, layerURL string, q Query) (*IDResponse, error) {
	q.ReturnIDsOnly = true
	var resp IDResponse
	if err := c.Do(ctx, method, LayerEndpoint(layerURL, "query"), q.Values(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueryFeatures runs a feature query using the given HTTP method.
func (c *Client) QueryFeatures(ctx context.Context, method, layerURL string, q Query) (*FeatureSet, error) {
	var fs FeatureSet
	if err := c.Do(ctx, method, LayerEndpoint(layerURL, "query"), q.Values(), &fs); err != nil {
		return nil, err
	}
	return &fs, nil
}

// QueryCount runs a returnCountOnly query.
func (c *Client) QueryCount(ctx context.Context, layerURL string, q Query) (int, error) {
	q.ReturnCountOnly = true
	var resp CountResponse
	if err := c.Do(ctx, http.MethodGet, LayerEndpoint(layerURL, "query"), q.Values(), &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// DistinctValues returns the distinct non-empty values of field.
func (c *Client) DistinctValues(ctx context.Context, layerURL, field string, q Query) ([]string, error) {
	q.OutFields = []string{field}
	q.ReturnDistinct = true
	q.ReturnGeometry = false
	fs, err := c.QueryFeatures(ctx, http.MethodGet, layerURL, q)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var values []string
	for _, f := range fs.Features {
		v, ok := f.Attribute(field)
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		values = append(values, s)
	}
	return values, nil
}

// AddFeatures appends features to a layer. All edits are rolled back by
// the service if any fails.
func (c *Client) AddFeatures(ctx context.Context, layerURL string, features []Feature) ([]EditResult, error) {
	var resp struct {
		AddResults []EditResult `json:"addResults"`
	}
	if err := c.edit(ctx, layerURL, "addFeatures", features, &resp); err != nil {
		return nil, err
	}
	return resp.AddResults, checkEditResults("addFeatures", resp.AddResults)
}

// UpdateFeatures updates existing features, matched by object id attribute.
func (c *Client) UpdateFeatures(ctx context.Context, layerURL string, features []Feature) ([]EditResult, error) {
	var resp struct {
		UpdateResults []EditResult `json:"updateResults"`
	}
	if err := c.edit(ctx, layerURL, "updateFeatures", features, &resp); err != nil {
		return nil, err
	}
	return resp.UpdateResults, checkEditResults("updateFeatures", resp.UpdateResults)
}

func (c *Client) edit(ctx context.Context, layerURL, operation string, features []Feature, target interface{}) error {
	payload, err := json.Marshal(features)
	if err != nil {
		return fmt.Errorf("failed to encode features for %s: %w", operation, err)
	}
	params := c.tokenParams()
	params.Set("features", string(payload))
	params.Set("rollbackOnFailure", "true")
	return c.Do(ctx, http.MethodPost, LayerEndpoint(layerURL, operation), params, target)
}

func checkEditResults(operation string, results []EditResult) error {
	failed := 0
	var first string
	for _, r := range results {
		if r.Success {
			continue
		}
		failed++
		if first == "" && r.Error != nil {
			first = r.Error.Description
		}
	}
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%s: %d of %d edits failed: %s", operation, failed, len(results), first)
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
