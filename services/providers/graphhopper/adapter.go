package graphhopper

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/upb/market-routes/models"
	"github.com/upb/market-routes/services/providers"
)

const defaultBaseURL = "https://graphhopper.com"

// GraphHopperAdapter implements the Provider interface for the GraphHopper Routing API
type GraphHopperAdapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
}

// NewGraphHopperAdapter creates a new GraphHopper adapter
func NewGraphHopperAdapter(config providers.ProviderConfig) (*GraphHopperAdapter, error) {
	if config.APIKey == "" {
		return nil, errors.New("graphhopper: api key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}

	return &GraphHopperAdapter{
		config:     config,
		httpClient: config.Client(),
	}, nil
}

// Name returns the provider name
func (a *GraphHopperAdapter) Name() string {
	return "graphhopper"
}

// Route requests a car route without geometry
func (a *GraphHopperAdapter) Route(ctx context.Context, query models.RouteQuery) (*providers.Estimate, error) {
	params := url.Values{}
	params.Add("point", latLng(query.Origin))
	params.Add("point", latLng(query.Destination))
	params.Set("profile", "car")
	params.Set("calc_points", "false")
	params.Set("key", a.config.APIKey)

	var resp routeResponse
	raw, err := providers.DoJSON(ctx, a.httpClient, providers.JSONRequest{
		Provider: a.Name(),
		Method:   http.MethodGet,
		URL:      a.config.BaseURL + "/api/1/route?" + params.Encode(),
		Headers:  a.config.RequestHeaders(nil),
	}, &resp)
	if err != nil {
		return nil, err
	}

	if len(resp.Paths) == 0 {
		return nil, providers.NoRoute(a.Name(), "no paths returned")
	}

	// time is reported in milliseconds
	return &providers.Estimate{
		DistanceMeters:  resp.Paths[0].Distance,
		DurationSeconds: resp.Paths[0].Time / 1000,
		Raw:             raw,
	}, nil
}

func latLng(c models.Coordinate) string {
	return providers.FormatDegrees(c.Lat) + "," + providers.FormatDegrees(c.Lng)
}

// GraphHopper-specific response types

type routeResponse struct {
	Paths []struct {
		Distance float64 `json:"distance"`
		Time     float64 `json:"time"`
	} `json:"paths"`
}
