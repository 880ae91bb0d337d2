package mapbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/upb/market-routes/models"
	"github.com/upb/market-routes/services/providers"
)

const defaultBaseURL = "https://api.mapbox.com"

// MapboxAdapter implements the Provider interface for Mapbox Directions v5
type MapboxAdapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
}

// NewMapboxAdapter creates a new Mapbox adapter. APIKey holds the access token.
func NewMapboxAdapter(config providers.ProviderConfig) (*MapboxAdapter, error) {
	if config.APIKey == "" {
		return nil, errors.New("mapbox: access token is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}

	return &MapboxAdapter{
		config:     config,
		httpClient: config.Client(),
	}, nil
}

// Name returns the provider name
func (a *MapboxAdapter) Name() string {
	return "mapbox"
}

// Route requests a driving route
func (a *MapboxAdapter) Route(ctx context.Context, query models.RouteQuery) (*providers.Estimate, error) {
	var resp directionsResponse
	raw, err := providers.DoJSON(ctx, a.httpClient, providers.JSONRequest{
		Provider: a.Name(),
		Method:   http.MethodGet,
		URL:      a.buildURL(query),
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

func (a *MapboxAdapter) buildURL(query models.RouteQuery) string {
	coords := fmt.Sprintf("%s,%s;%s,%s",
		providers.FormatDegrees(query.Origin.Lng), providers.FormatDegrees(query.Origin.Lat),
		providers.FormatDegrees(query.Destination.Lng), providers.FormatDegrees(query.Destination.Lat))

	params := url.Values{}
	params.Set("access_token", a.config.APIKey)
	params.Set("overview", "false")
	params.Set("alternatives", "false")

	return a.config.BaseURL + "/directions/v5/mapbox/driving/" + coords + "?" + params.Encode()
}

// Mapbox-specific response types

type directionsResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
	} `json:"routes"`
}
