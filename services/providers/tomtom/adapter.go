package tomtom

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/upb/market-routes/models"
	"github.com/upb/market-routes/services/providers"
)

const defaultBaseURL = "https://api.tomtom.com"

// TomTomAdapter implements the Provider interface for the TomTom Routing API
type TomTomAdapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
}

// NewTomTomAdapter creates a new TomTom adapter
func NewTomTomAdapter(config providers.ProviderConfig) (*TomTomAdapter, error) {
	if config.APIKey == "" {
		return nil, errors.New("tomtom: api key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}

	return &TomTomAdapter{
		config:     config,
		httpClient: config.Client(),
	}, nil
}

// Name returns the provider name
func (a *TomTomAdapter) Name() string {
	return "tomtom"
}

// Route requests a car route
func (a *TomTomAdapter) Route(ctx context.Context, query models.RouteQuery) (*providers.Estimate, error) {
	locations := fmt.Sprintf("%s,%s:%s,%s",
		providers.FormatDegrees(query.Origin.Lat), providers.FormatDegrees(query.Origin.Lng),
		providers.FormatDegrees(query.Destination.Lat), providers.FormatDegrees(query.Destination.Lng))

	params := url.Values{}
	params.Set("key", a.config.APIKey)
	params.Set("travelMode", "car")
	params.Set("routeRepresentation", "summaryOnly")

	var resp calculateRouteResponse
	raw, err := providers.DoJSON(ctx, a.httpClient, providers.JSONRequest{
		Provider: a.Name(),
		Method:   http.MethodGet,
		URL:      a.config.BaseURL + "/routing/1/calculateRoute/" + locations + "/json?" + params.Encode(),
		Headers:  a.config.RequestHeaders(nil),
	}, &resp)
	if err != nil {
		return nil, err
	}

	if len(resp.Routes) == 0 {
		return nil, providers.NoRoute(a.Name(), "no routes returned")
	}

	summary := resp.Routes[0].Summary
	return &providers.Estimate{
		DistanceMeters:  summary.LengthInMeters,
		DurationSeconds: summary.TravelTimeInSeconds,
		Raw:             raw,
	}, nil
}

// TomTom-specific response types

type calculateRouteResponse struct {
	Routes []struct {
		Summary struct {
			LengthInMeters      float64 `json:"lengthInMeters"`
			TravelTimeInSeconds float64 `json:"travelTimeInSeconds"`
		} `json:"summary"`
	} `json:"routes"`
}
