package here

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/upb/market-routes/models"
	"github.com/upb/market-routes/services/providers"
)

const defaultBaseURL = "https://router.hereapi.com"

// HereAdapter implements the Provider interface for HERE Routing v8
type HereAdapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
}

// NewHereAdapter creates a new HERE adapter
func NewHereAdapter(config providers.ProviderConfig) (*HereAdapter, error) {
	if config.APIKey == "" {
		return nil, errors.New("here: api key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}

	return &HereAdapter{
		config:     config,
		httpClient: config.Client(),
	}, nil
}

// Name returns the provider name
func (a *HereAdapter) Name() string {
	return "here"
}

// Route requests a car route summary. A route may span several sections,
// whose lengths and durations are summed.
func (a *HereAdapter) Route(ctx context.Context, query models.RouteQuery) (*providers.Estimate, error) {
	params := url.Values{}
	params.Set("transportMode", "car")
	params.Set("origin", latLng(query.Origin))
	params.Set("destination", latLng(query.Destination))
	params.Set("return", "summary")
	params.Set("apiKey", a.config.APIKey)

	var resp routesResponse
	raw, err := providers.DoJSON(ctx, a.httpClient, providers.JSONRequest{
		Provider: a.Name(),
		Method:   http.MethodGet,
		URL:      a.config.BaseURL + "/v8/routes?" + params.Encode(),
		Headers:  a.config.RequestHeaders(nil),
	}, &resp)
	if err != nil {
		return nil, err
	}

	if len(resp.Routes) == 0 || len(resp.Routes[0].Sections) == 0 {
		msg := "no routes returned"
		if len(resp.Notices) > 0 {
			msg = resp.Notices[0].Title
		}
		return nil, providers.NoRoute(a.Name(), msg)
	}

	estimate := &providers.Estimate{Raw: raw}
	for _, section := range resp.Routes[0].Sections {
		estimate.DistanceMeters += section.Summary.Length
		estimate.DurationSeconds += section.Summary.Duration
	}
	return estimate, nil
}

func latLng(c models.Coordinate) string {
	return providers.FormatDegrees(c.Lat) + "," + providers.FormatDegrees(c.Lng)
}

// HERE-specific response types

type routesResponse struct {
	Routes []struct {
		Sections []struct {
			Summary struct {
				Length   float64 `json:"length"`
				Duration float64 `json:"duration"`
			} `json:"summary"`
		} `json:"sections"`
	} `json:"routes"`
	Notices []struct {
		Title string `json:"title"`
		Code  string `json:"code"`
	} `json:"notices"`
}
