package site

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/arcgis"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/convert"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/geoproc"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/sqlwhere"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

var (
	// ErrNoCandidates is returned when an address cannot be geocoded.
	ErrNoCandidates = errors.New("address could not be geocoded")
	// ErrNoParcel is returned when no parcel lies at the geocoded location.
	ErrNoParcel = errors.New("no parcel found at location")
	// ErrNoActiveStudyArea is returned when a project has no active row.
	ErrNoActiveStudyArea = errors.New("no active study area for project")
)

// DefaultParcelFallbackMeters pads the geocoded point when it misses every
// parcel, which happens for addresses placed on a boundary or road.
const DefaultParcelFallbackMeters = 2

// Endpoints are the services a Service talks to.
type Endpoints struct {
	// GeocodeServer is the root of a GeocodeServer.
	GeocodeServer string
	// Parcels is the cadastral parcel layer.
	Parcels string
	// StudyAreas is the hosted study-area layer.
	StudyAreas string
}

// Service creates and looks up study areas.
type Service struct {
	Client    *arcgis.Client
	Engine    geoproc.Engine
	Endpoints Endpoints
	Geocode   arcgis.GeocodeOptions
	// SuggestTimeout bounds address suggestions; zero means no extra bound.
	SuggestTimeout       time.Duration
	ParcelFallbackMeters float64
	Logger               *slog.Logger
	// Now is the clock used for EndDate; time.Now when nil.
	Now func() time.Time
}

// Suggest returns address suggestions for partial text. Failures are
// logged and give no suggestions.
func (s *Service) Suggest(ctx context.Context, text string) []arcgis.Suggestion {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if s.SuggestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.SuggestTimeout)
		defer cancel()
	}
	suggestions, err := s.Client.Suggest(ctx, arcgis.LayerEndpoint(s.Endpoints.GeocodeServer, "suggest"), text, s.Geocode)
	if err != nil {
		s.logger().Warn("address suggestions unavailable", "error", err)
		return nil
	}
	return suggestions
}

// GeocodeAddress returns the best candidate for a single-line address.
func (s *Service) GeocodeAddress(ctx context.Context, address string) (*arcgis.AddressCandidate, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("%w: empty address", ErrNoCandidates)
	}
	opts := s.Geocode
	opts.MaxLocations = 1
	candidates, err := s.Client.FindAddressCandidates(ctx, arcgis.LayerEndpoint(s.Endpoints.GeocodeServer, "findAddressCandidates"), address, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to geocode %q: %w", address, err)
	}
	for i := range candidates {
		loc := candidates[i].Location
		if loc.X != nil && loc.Y != nil {
			return &candidates[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoCandidates, address)
}

// SelectParcels returns the parcels at p. When the point intersects none,
// a small padded envelope around it is tried once.
func (s *Service) SelectParcels(ctx context.Context, p orb.Point) ([]orb.Geometry, error) {
	q := arcgis.PointQuery(p, arcgis.SpatialRelIntersects)
	parcels, err := s.queryParcels(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(parcels) > 0 {
		return parcels, nil
	}

	pad := s.ParcelFallbackMeters
	if pad <= 0 {
		pad = DefaultParcelFallbackMeters
	}
	s.logger().Info("no parcel at point, retrying with padded envelope", "meters", pad)
	q = arcgis.EnvelopeQuery(geo.BoundPad(orb.Bound{Min: p, Max: p}, pad))
	if parcels, err = s.queryParcels(ctx, q); err != nil {
		return nil, err
	}
	if len(parcels) == 0 {
		return nil, fmt.Errorf("%w: %.6f, %.6f", ErrNoParcel, p[0], p[1])
	}
	return parcels, nil
}

func (s *Service) queryParcels(ctx context.Context, q arcgis.Query) ([]orb.Geometry, error) {
	q.OutFields = []string{"*"}
	q.ReturnGeometry = true
	q.OutSR = arcgis.WGS84
	q.Token = s.Client.Token
	fs, err := s.Client.QueryFeatures(ctx, http.MethodGet, s.Endpoints.Parcels, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query parcels: %w", err)
	}
	var parcels []orb.Geometry
	for _, f := range fs.Features {
		g, err := convert.ToOrb(f.Geometry)
		if err != nil {
			s.logger().Warn("skipping parcel with invalid geometry", "error", err)
			continue
		}
		if g != nil {
			parcels = append(parcels, g)
		}
	}
	return parcels, nil
}

// CreateRequest describes a new study area.
type CreateRequest struct {
	ProjectNumber string
	ProjectName   string
	Address       string
	Comments      string
}

// CreateResult is the outcome of Create.
type CreateResult struct {
	StudyArea StudyArea
	Candidate arcgis.AddressCandidate
	Parcels   int
	Supersede *SupersedeResult
}

// Create geocodes the address, merges the parcels found there into one
// multipart study area and publishes it as the project's active row.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if strings.TrimSpace(req.ProjectNumber) == "" {
		return nil, errors.New("project number is required")
	}
	candidate, err := s.GeocodeAddress(ctx, req.Address)
	if err != nil {
		return nil, err
	}
	point := orb.Point{*candidate.Location.X, *candidate.Location.Y}
	s.logger().Info("geocoded address", "address", candidate.Address, "score", candidate.Score)

	parcels, err := s.SelectParcels(ctx, point)
	if err != nil {
		return nil, err
	}

	area := StudyArea{
		ProjectNumber:   strings.TrimSpace(req.ProjectNumber),
		ProjectName:     req.ProjectName,
		GeocodedAddress: candidate.Address,
		Comments:        req.Comments,
		Geometry:        s.Engine.Dissolve(parcels...),
	}
	if len(area.Geometry) == 0 {
		return nil, fmt.Errorf("%w: parcels at %q have no polygon geometry", ErrNoParcel, candidate.Address)
	}
	area.SetArea(s.Engine.Area(area.Geometry))

	res, err := s.Supersede(ctx, area)
	if err != nil {
		return nil, err
	}
	area.ObjectID = res.ObjectID
	return &CreateResult{StudyArea: area, Candidate: *candidate, Parcels: len(parcels), Supersede: res}, nil
}

// Active returns the active study area of a project. The filter follows the
// declared type of the project number field; when it matches nothing the
// other literal forms are tried.
func (s *Service) Active(ctx context.Context, projectNumber string) (*StudyArea, error) {
	projectNumber = strings.TrimSpace(projectNumber)
	if projectNumber == "" {
		return nil, errors.New("project number is required")
	}
	kind, oidField := s.projectField(ctx)

	tried := make(map[string]bool)
	for _, k := range []sqlwhere.FieldKind{kind, sqlwhere.FieldNumeric, sqlwhere.FieldText} {
		where := sqlwhere.ProjectFilter(projectNumber, k)
		if tried[where] {
			continue
		}
		tried[where] = true

		fs, err := s.Client.QueryFeatures(ctx, http.MethodGet, s.Endpoints.StudyAreas, arcgis.Query{
			Where:          where,
			OutFields:      []string{"*"},
			ReturnGeometry: true,
			OutSR:          arcgis.WGS84,
			Token:          s.Client.Token,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query study area for %s: %w", projectNumber, err)
		}
		if len(fs.Features) == 0 {
			s.logger().Debug("no study area for filter", "where", where)
			continue
		}
		if len(fs.Features) > 1 {
			s.logger().Warn("project has more than one active study area; using the first", "project", projectNumber, "count", len(fs.Features))
		}
		if fs.ObjectIDFieldName != "" {
			oidField = fs.ObjectIDFieldName
		}
		area, err := FromFeature(fs.Features[0], oidField, s.Engine)
		if err != nil {
			return nil, err
		}
		return &area, nil
	}
	return nil, fmt.Errorf("%w %s", ErrNoActiveStudyArea, projectNumber)
}

// projectField reads the declared type of the project number field and the
// layer's object id field. Metadata failures fall back to defaults.
func (s *Service) projectField(ctx context.Context) (sqlwhere.FieldKind, string) {
	meta, err := s.Client.FetchLayerMetadata(ctx, s.Endpoints.StudyAreas)
	if err != nil {
		s.logger().Debug("study area metadata unavailable", "error", err)
		return sqlwhere.FieldUnknown, arcgis.DefaultObjectIDField
	}
	oidField := meta.ObjectIDField
	if oidField == "" {
		oidField = arcgis.DefaultObjectIDField
	}
	f, ok := meta.FieldByName(FieldProjectNumber)
	if !ok {
		return sqlwhere.FieldUnknown, oidField
	}
	return sqlwhere.FieldKindFromEsri(f.Type), oidField
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
