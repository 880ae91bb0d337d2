package osrm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/upb/market-routes/models"
	"github.com/upb/market-routes/services/providers"
)

const defaultBaseURL = "https://router.project-osrm.org"

// OSRMAdapter implements the Provider interface for an OSRM server
type OSRMAdapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
}

// NewOSRMAdapter creates a new OSRM adapter
func NewOSRMAdapter(config providers.ProviderConfig) *OSRMAdapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}

	return &OSRMAdapter{
		config:     config,
		httpClient: config.Client(),
	}
}

// Name returns the provider name
func (a *OSRMAdapter) Name() string {
	return "osrm"
}

// Route requests a driving route without geometry
func (a *OSRMAdapter) Route(ctx context.Context, query models.RouteQuery) (*providers.Estimate, error) {
	coords := fmt.Sprintf("%s,%s;%s,%s",
		providers.FormatDegrees(query.Origin.Lng), providers.FormatDegrees(query.Origin.Lat),
		providers.FormatDegrees(query.Destination.Lng), providers.FormatDegrees(query.Destination.Lat))

	var resp routeResponse
	raw, err := providers.DoJSON(ctx, a.httpClient, providers.JSONRequest{
		Provider: a.Name(),
		Method:   http.MethodGet,
		URL:      a.config.BaseURL + "/route/v1/driving/" + coords + "?overview=false",
		Headers:  a.config.RequestHeaders(nil),
	}, &resp)
	if err != nil {
		return nil, err
	}

	if resp.Code != "Ok" || len(resp.Routes) == 0 {
		return nil, providers.NoRoute(a.Name(), fmt.Sprintf("code=%s message=%s", resp.Code, resp.Message))
	}

	return &providers.Estimate{
		DistanceMeters:  resp.Routes[0].Distance,
		DurationSeconds: resp.Routes[0].Duration,
		Raw:             raw,
	}, nil
}

// OSRM-specific response types

type routeResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
	} `json:"routes"`
}
