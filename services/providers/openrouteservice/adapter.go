package openrouteservice

import (
	"context"
	"errors"
	"net/http"

	"github.com/upb/market-routes/models"
	"github.com/upb/market-routes/services/providers"
)

const defaultBaseURL = "https://api.openrouteservice.org"

// ORSAdapter implements the Provider interface for openrouteservice
type ORSAdapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
}

// NewORSAdapter creates a new openrouteservice adapter
func NewORSAdapter(config providers.ProviderConfig) (*ORSAdapter, error) {
	if config.APIKey == "" {
		return nil, errors.New("openrouteservice: api key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}

	return &ORSAdapter{
		config:     config,
		httpClient: config.Client(),
	}, nil
}

// Name returns the provider name
func (a *ORSAdapter) Name() string {
	return "openrouteservice"
}

// Route requests a driving-car route. Coordinates go as [lng, lat] pairs.
func (a *ORSAdapter) Route(ctx context.Context, query models.RouteQuery) (*providers.Estimate, error) {
	req := directionsRequest{
		Coordinates: [][2]float64{
			{query.Origin.Lng, query.Origin.Lat},
			{query.Destination.Lng, query.Destination.Lat},
		},
	}

	var resp directionsResponse
	raw, err := providers.DoJSON(ctx, a.httpClient, providers.JSONRequest{
		Provider: a.Name(),
		Method:   http.MethodPost,
		URL:      a.config.BaseURL + "/v2/directions/driving-car",
		Body:     req,
		Headers: a.config.RequestHeaders(map[string]string{
			"Authorization": a.config.APIKey,
		}),
	}, &resp)
	if err != nil {
		return nil, err
	}

	if len(resp.Routes) == 0 {
		return nil, providers.NoRoute(a.Name(), "no routes returned")
	}

	// identical endpoints come back with an empty summary, i.e. zero
	summary := resp.Routes[0].Summary
	return &providers.Estimate{
		DistanceMeters:  summary.Distance,
		DurationSeconds: summary.Duration,
		Raw:             raw,
	}, nil
}

// openrouteservice-specific request/response types

type directionsRequest struct {
	Coordinates [][2]float64 `json:"coordinates"`
}

type directionsResponse struct {
	Routes []struct {
		Summary struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
		} `json:"summary"`
	} `json:"routes"`
}
