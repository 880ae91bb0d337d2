package models

import (
	"encoding/json"
	"fmt"
	"math"
)

// FallbackService is the service name attached to results produced by the
// straight-line estimator instead of a routing provider.
const FallbackService = "computed"

// Coordinate is a WGS84 point in decimal degrees
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate reports whether the coordinate is finite and within range
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) {
		return fmt.Errorf("latitude must be a finite number")
	}
	if math.IsNaN(c.Lng) || math.IsInf(c.Lng, 0) {
		return fmt.Errorf("longitude must be a finite number")
	}
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", c.Lat)
	}
	if c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", c.Lng)
	}
	return nil
}

// Equal reports whether both coordinates denote the same point
func (c Coordinate) Equal(other Coordinate) bool {
	return c.Lat == other.Lat && c.Lng == other.Lng
}

// String formats the coordinate as "lat,lng"
func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

// RouteQuery asks for the route between two coordinates.
// Label is only used for logging and correlation.
type RouteQuery struct {
	Origin      Coordinate
	Destination Coordinate
	Label       string
}

// NewRouteQuery builds a RouteQuery
func NewRouteQuery(origin, destination Coordinate, label string) RouteQuery {
	return RouteQuery{
		Origin:      origin,
		Destination: destination,
		Label:       label,
	}
}

// Validate checks both endpoints of the query
func (q RouteQuery) Validate() error {
	if err := q.Origin.Validate(); err != nil {
		return fmt.Errorf("origin: %w", err)
	}
	if err := q.Destination.Validate(); err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	return nil
}

// RouteResult is a normalized distance/duration estimate.
// Accuracy is the precision tier (integer percent) of the service that produced it.
type RouteResult struct {
	DistanceMeters  float64         `json:"distance"`
	DurationSeconds float64         `json:"estimatedTime"`
	Accuracy        int             `json:"accuracy"`
	Service         string          `json:"service"`
	Raw             json.RawMessage `json:"-"`
}

// IsFallback reports whether the result was computed locally
func (r *RouteResult) IsFallback() bool {
	return r != nil && r.Service == FallbackService
}

// BatchItem pairs a destination identifier with its query
type BatchItem struct {
	ID    string
	Query RouteQuery
}

// BatchRequest is an ordered list of items with unique identifiers
type BatchRequest struct {
	Items []BatchItem
}

// Validate rejects empty and duplicate identifiers
func (r BatchRequest) Validate() error {
	seen := make(map[string]struct{}, len(r.Items))
	for i, item := range r.Items {
		if item.ID == "" {
			return fmt.Errorf("item %d has an empty identifier", i)
		}
		if _, dup := seen[item.ID]; dup {
			return fmt.Errorf("duplicate identifier %q", item.ID)
		}
		seen[item.ID] = struct{}{}
	}
	return nil
}

// BatchOutcome holds either a result or the error recorded for one item
type BatchOutcome struct {
	Result *RouteResult
	Err    error
}

// MarshalJSON renders {"data": ...} or {"error": "..."}
func (o BatchOutcome) MarshalJSON() ([]byte, error) {
	if o.Err != nil {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{Error: o.Err.Error()})
	}
	return json.Marshal(struct {
		Data *RouteResult `json:"data"`
	}{Data: o.Result})
}

// BatchResult maps every input identifier to its outcome
type BatchResult map[string]BatchOutcome
