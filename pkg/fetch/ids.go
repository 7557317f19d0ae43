// Package fetch retrieves the features of a remote layer that intersect an
// area: first the matching object ids, then the features in batches.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/arcgis"
	"github.com/paulmach/orb"
)

// Access records how a service accepted a request.
type Access struct {
	Method string
	Token  string
}

// Authenticated reports whether requests carry a token.
func (a Access) Authenticated() bool { return a.Token != "" }

func (a Access) String() string {
	if a.Authenticated() {
		return a.Method + "+token"
	}
	return a.Method
}

// Attempt is one request of the id query chain.
type Attempt struct {
	Access Access
	Err    error
}

// IDSet is the result of an id query.
type IDSet struct {
	ObjectIDField string
	IDs           []int64
	Access        Access
	Attempts      []Attempt
	// Warning is set when every attempt failed; IDs is then empty.
	Warning  error
	QueryURL string
}

// IDFetcher resolves the object ids intersecting an envelope.
type IDFetcher struct {
	Client *arcgis.Client
	Token  string
	Logger *slog.Logger
}

// Fetch queries ids with anonymous GET first. An auth error retries with
// the token; a rejected method moves on to POST. It never returns an error:
// failures are reported in IDSet.Warning and logged once.
func (f *IDFetcher) Fetch(ctx context.Context, layerURL string, envelope orb.Bound) IDSet {
	q := arcgis.EnvelopeQuery(envelope)
	result := IDSet{
		ObjectIDField: arcgis.DefaultObjectIDField,
		QueryURL:      arcgis.QueryURL(layerURL, q),
	}

	try := func(access Access) (*arcgis.IDResponse, error) {
		q.Token = access.Token
		resp, err := f.Client.QueryIDs(ctx, access.Method, layerURL, q)
		result.Attempts = append(result.Attempts, Attempt{Access: access, Err: err})
		return resp, err
	}

	var lastErr error
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		access := Access{Method: method}
		resp, err := try(access)
		if err != nil && arcgis.IsAuthError(err) && f.Token != "" && ctx.Err() == nil {
			access.Token = f.Token
			resp, err = try(access)
		}
		if err == nil {
			result.ObjectIDField = resp.OIDField(arcgis.DefaultObjectIDField)
			result.IDs = resp.ObjectIDs
			result.Access = access
			f.logger().Debug("resolved object ids", "url", layerURL, "count", len(resp.ObjectIDs), "access", access.String())
			return result
		}
		lastErr = err
		if !arcgis.IsMethodRejected(err) || ctx.Err() != nil {
			break
		}
	}

	result.Warning = fmt.Errorf("id query failed after %d attempts: %w", len(result.Attempts), lastErr)
	f.logger().Warn("could not resolve object ids", "url", layerURL, "attempts", len(result.Attempts), "error", lastErr)
	return result
}

func (f *IDFetcher) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}
