// Copyright (c) 2025 Sudo-Ivan
// Licensed under the MIT License

// Package arcgis is a small client for the ArcGIS REST feature-service,
// map-service and geocoding APIs.
package arcgis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client represents an ArcGIS client with configuration.
// Token is sent with metadata, edit and geocode requests. Queries carry
// their own token so callers can choose when to authenticate.
type Client struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	Token      string
}

// NewClient creates a new ArcGIS client with the specified timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		Timeout: timeout,
	}
}

// WithToken returns a shallow copy of the client that sends token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.Token = token
	return &cp
}

// NormalizeArcGISURL normalizes an ArcGIS URL.
func NormalizeArcGISURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	lowerURL := strings.ToLower(rawURL)
	isArcGISService := strings.Contains(lowerURL, "/rest/services") || strings.Contains(lowerURL, "/arcgis/rest")

	if !isArcGISService {
		u, err := url.Parse(rawURL)
		if err == nil && u.Scheme == "" {
			if strings.Contains(rawURL, ".") && !strings.Contains(rawURL, " ") && !strings.HasPrefix(rawURL, "/") {
				return "https://" + rawURL
			}
		}
		return rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if u.Scheme == "" {
		// "host/path" parses as a relative path; reparse with a scheme.
		if reparsed, err := url.Parse("https://" + rawURL); err == nil {
			u = reparsed
		} else {
			u.Scheme = "https"
		}
	}

	pathParts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range pathParts {
		switch strings.ToLower(part) {
		case "arcgis":
			pathParts[i] = "ArcGIS"
		case "rest":
			pathParts[i] = "rest"
		case "services":
			pathParts[i] = "services"
		case "featureserver":
			pathParts[i] = "FeatureServer"
		case "mapserver":
			pathParts[i] = "MapServer"
		}
	}
	u.Path = "/" + strings.Join(pathParts, "/")

	last := strings.ToLower(pathParts[len(pathParts)-1])
	if last == "mapserver" || last == "featureserver" {
		u.Path += "/"
	}

	q := u.Query()
	q.Del("f")
	u.RawQuery = q.Encode()

	return u.String()
}

// IsValidHTTPURL checks if a URL is a valid HTTP or HTTPS URL.
func IsValidHTTPURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// ServiceType reports whether serviceURL points at a FeatureServer or a
// MapServer, or "" when it is neither.
func ServiceType(serviceURL string) string {
	lower := strings.ToLower(serviceURL)
	switch {
	case strings.Contains(lower, "/featureserver"):
		return ServiceFeatureServer
	case strings.Contains(lower, "/mapserver"):
		return ServiceMapServer
	default:
		return ""
	}
}

// Do sends a request to endpoint and decodes the JSON response into target.
// GET requests carry params in the query string; POST requests send them
// form-encoded. Esri error envelopes are returned as *ServiceError even
// when the HTTP status is 200.
func (c *Client) Do(ctx context.Context, method, endpoint string, params url.Values, target interface{}) error {
	form := url.Values{}
	for k, v := range params {
		form[k] = append([]string(nil), v...)
	}
	form.Set("f", "json")

	var (
		req *http.Request
		err error
	)
	switch method {
	case http.MethodGet:
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint+sep+form.Encode(), nil)
	case http.MethodPost:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	default:
		return fmt.Errorf("unsupported method %q", method)
	}
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		if urlErr, ok := err.(*url.Error); ok && urlErr.Timeout() {
			return fmt.Errorf("request timed out fetching data from %s: %w", endpoint, err)
		}
		return fmt.Errorf("failed to fetch data from %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", endpoint, err)
	}

	if svcErr := parseServiceError(body); svcErr != nil {
		svcErr.StatusCode = resp.StatusCode
		svcErr.Method = method
		svcErr.URL = endpoint
		return svcErr
	}
	if resp.StatusCode != http.StatusOK {
		return &ServiceError{
			Method:     method,
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(http.StatusText(resp.StatusCode)),
		}
	}

	if target == nil {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to parse JSON from %s: %w", endpoint, err)
	}
	return nil
}

// FetchAndDecode fetches data from a URL and decodes it into the target interface.
func (c *Client) FetchAndDecode(ctx context.Context, urlStr string, target interface{}) error {
	return c.Do(ctx, http.MethodGet, urlStr, c.tokenParams(), target)
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) tokenParams() url.Values {
	params := url.Values{}
	if c.Token != "" {
		params.Set("token", c.Token)
	}
	return params
}

func parseServiceError(body []byte) *ServiceError {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' || !bytes.Contains(trimmed, []byte(`"error"`)) {
		return nil
	}
	var envelope struct {
		Error *struct {
			Code    int      `json:"code"`
			Message string   `json:"message"`
			Details []string `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil || envelope.Error == nil {
		return nil
	}
	return &ServiceError{
		Code:    envelope.Error.Code,
		Message: envelope.Error.Message,
		Details: envelope.Error.Details,
	}
}

// LayerEndpoint joins a layer URL and an operation such as "query".
func LayerEndpoint(layerURL, operation string) string {
	return strings.TrimRight(layerURL, "/") + "/" + operation
}
