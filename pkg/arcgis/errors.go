package arcgis

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ServiceError is an error reported by an ArcGIS endpoint, either as an
// HTTP status or as an Esri {"error": {...}} envelope.
type ServiceError struct {
	Method     string
	URL        string
	StatusCode int
	Code       int
	Message    string
	Details    []string
}

func (e *ServiceError) Error() string {
	code := e.Code
	if code == 0 {
		code = e.StatusCode
	}
	msg := fmt.Sprintf("arcgis %s %s: error %d: %s", e.Method, e.URL, code, e.Message)
	if len(e.Details) > 0 {
		msg += " (" + strings.Join(e.Details, "; ") + ")"
	}
	return msg
}

// IsAuth reports whether the service rejected the request for lack of a
// valid token.
func (e *ServiceError) IsAuth() bool {
	switch e.Code {
	case 401, 403, 498, 499:
		return true
	}
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsMethodRejected reports whether the service refused the HTTP method or
// the request was too large for a GET.
func (e *ServiceError) IsMethodRejected() bool {
	if e.Code == http.StatusMethodNotAllowed {
		return true
	}
	switch e.StatusCode {
	case http.StatusMethodNotAllowed, http.StatusRequestURITooLong, http.StatusNotImplemented:
		return true
	}
	return false
}

// IsAuthError reports whether err wraps an authentication ServiceError.
func IsAuthError(err error) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr) && svcErr.IsAuth()
}

// IsMethodRejected reports whether err wraps a ServiceError refusing the
// request method.
func IsMethodRejected(err error) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr) && svcErr.IsMethodRejected()
}
