package valhalla

import (
	"context"
	"net/http"

	"github.com/upb/market-routes/models"
	"github.com/upb/market-routes/services/providers"
)

const defaultBaseURL = "https://valhalla1.openstreetmap.de"

// ValhallaAdapter implements the Provider interface for a Valhalla server.
// Public and self-hosted instances need no key.
type ValhallaAdapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
}

// NewValhallaAdapter creates a new Valhalla adapter
func NewValhallaAdapter(config providers.ProviderConfig) *ValhallaAdapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}

	return &ValhallaAdapter{
		config:     config,
		httpClient: config.Client(),
	}
}

// Name returns the provider name
func (a *ValhallaAdapter) Name() string {
	return "valhalla"
}

// Route requests an auto route in kilometers
func (a *ValhallaAdapter) Route(ctx context.Context, query models.RouteQuery) (*providers.Estimate, error) {
	req := routeRequest{
		Locations: []location{
			{Lat: query.Origin.Lat, Lon: query.Origin.Lng},
			{Lat: query.Destination.Lat, Lon: query.Destination.Lng},
		},
		Costing:          "auto",
		DirectionsOption: directionsOptions{Units: "kilometers", DirectionsType: "none"},
	}

	var resp routeResponse
	raw, err := providers.DoJSON(ctx, a.httpClient, providers.JSONRequest{
		Provider: a.Name(),
		Method:   http.MethodPost,
		URL:      a.config.BaseURL + "/route",
		Body:     req,
		Headers:  a.config.RequestHeaders(nil),
	}, &resp)
	if err != nil {
		return nil, err
	}

	if resp.Trip == nil || resp.Trip.Status != 0 {
		msg := "no trip returned"
		if resp.Trip != nil && resp.Trip.StatusMessage != "" {
			msg = resp.Trip.StatusMessage
		}
		return nil, providers.NoRoute(a.Name(), msg)
	}

	return &providers.Estimate{
		DistanceMeters:  resp.Trip.Summary.Length * 1000,
		DurationSeconds: resp.Trip.Summary.Time,
		Raw:             raw,
	}, nil
}

// Valhalla-specific request/response types

type routeRequest struct {
	Locations        []location        `json:"locations"`
	Costing          string            `json:"costing"`
	DirectionsOption directionsOptions `json:"directions_options"`
}

type location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type directionsOptions struct {
	Units          string `json:"units"`
	DirectionsType string `json:"directions_type"`
}

type routeResponse struct {
	Trip *struct {
		Status        int    `json:"status"`
		StatusMessage string `json:"status_message"`
		Summary       struct {
			Length float64 `json:"length"`
			Time   float64 `json:"time"`
		} `json:"summary"`
	} `json:"trip"`
}
