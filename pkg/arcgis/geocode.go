package arcgis

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// GeocodeOptions narrows geocoding requests.
type GeocodeOptions struct {
	CountryCode    string
	MaxLocations   int
	MaxSuggestions int
}

// FindAddressCandidates geocodes a single-line address to WGS84 candidates.
func (c *Client) FindAddressCandidates(ctx context.Context, endpoint, address string, opts GeocodeOptions) ([]AddressCandidate, error) {
	params := c.tokenParams()
	params.Set("SingleLine", address)
	params.Set("outSR", strconv.Itoa(WGS84))
	params.Set("outFields", "*")
	if opts.MaxLocations > 0 {
		params.Set("maxLocations", strconv.Itoa(opts.MaxLocations))
	}
	setCountry(params, opts.CountryCode)

	var resp struct {
		Candidates []AddressCandidate `json:"candidates"`
	}
	if err := c.Do(ctx, http.MethodGet, endpoint, params, &resp); err != nil {
		return nil, err
	}
	return resp.Candidates, nil
}

// Suggest returns autocomplete suggestions for partial address text.
func (c *Client) Suggest(ctx context.Context, endpoint, text string, opts GeocodeOptions) ([]Suggestion, error) {
	params := c.tokenParams()
	params.Set("text", text)
	if opts.MaxSuggestions > 0 {
		params.Set("maxSuggestions", strconv.Itoa(opts.MaxSuggestions))
	}
	setCountry(params, opts.CountryCode)

	var resp struct {
		Suggestions []Suggestion `json:"suggestions"`
	}
	if err := c.Do(ctx, http.MethodGet, endpoint, params, &resp); err != nil {
		return nil, err
	}
	return resp.Suggestions, nil
}

func setCountry(params url.Values, code string) {
	if code != "" {
		params.Set("countryCode", code)
	}
}
