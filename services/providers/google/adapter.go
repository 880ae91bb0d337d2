package google

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/upb/market-routes/models"
	"github.com/upb/market-routes/services/providers"
)

const (
	defaultBaseURL = "https://routes.googleapis.com"
	fieldMask      = "routes.distanceMeters,routes.duration"
)

// GoogleAdapter implements the Provider interface for the Google Routes API
type GoogleAdapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
}

// NewGoogleAdapter creates a new Google Routes adapter
func NewGoogleAdapter(config providers.ProviderConfig) (*GoogleAdapter, error) {
	if config.APIKey == "" {
		return nil, errors.New("google: api key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}

	return &GoogleAdapter{
		config:     config,
		httpClient: config.Client(),
	}, nil
}

// Name returns the provider name
func (a *GoogleAdapter) Name() string {
	return "google"
}

// Route calls computeRoutes for a driving route without traffic
func (a *GoogleAdapter) Route(ctx context.Context, query models.RouteQuery) (*providers.Estimate, error) {
	req := computeRoutesRequest{
		Origin:            waypointFor(query.Origin),
		Destination:       waypointFor(query.Destination),
		TravelMode:        "DRIVE",
		RoutingPreference: "TRAFFIC_UNAWARE",
	}

	var resp computeRoutesResponse
	raw, err := providers.DoJSON(ctx, a.httpClient, providers.JSONRequest{
		Provider: a.Name(),
		Method:   http.MethodPost,
		URL:      a.config.BaseURL + "/directions/v2:computeRoutes",
		Body:     req,
		Headers: a.config.RequestHeaders(map[string]string{
			"X-Goog-Api-Key":   a.config.APIKey,
			"X-Goog-FieldMask": fieldMask,
		}),
	}, &resp)
	if err != nil {
		return nil, err
	}

	if len(resp.Routes) == 0 {
		return nil, providers.NoRoute(a.Name(), "no routes returned")
	}

	route := resp.Routes[0]
	if route.Duration == "" && route.DistanceMeters != 0 {
		return nil, providers.NoRoute(a.Name(), "route has a distance but no duration")
	}
	duration, err := parseDuration(route.Duration)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), providers.CodeUnmarshal, "invalid duration "+route.Duration, http.StatusOK, false, err)
	}

	return &providers.Estimate{
		DistanceMeters:  float64(route.DistanceMeters),
		DurationSeconds: duration.Seconds(),
		Raw:             raw,
	}, nil
}

// parseDuration reads protobuf JSON durations such as "754s" or "3.5s".
// An omitted duration means zero; callers only accept that for zero-length routes.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func waypointFor(c models.Coordinate) waypoint {
	return waypoint{Location: location{LatLng: latLng{Latitude: c.Lat, Longitude: c.Lng}}}
}

// Google-specific request/response types

type computeRoutesRequest struct {
	Origin            waypoint `json:"origin"`
	Destination       waypoint `json:"destination"`
	TravelMode        string   `json:"travelMode"`
	RoutingPreference string   `json:"routingPreference"`
}

type waypoint struct {
	Location location `json:"location"`
}

type location struct {
	LatLng latLng `json:"latLng"`
}

type latLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type computeRoutesResponse struct {
	Routes []struct {
		DistanceMeters int64  `json:"distanceMeters"`
		Duration       string `json:"duration"`
	} `json:"routes"`
}
