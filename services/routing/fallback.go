package routing

import (
	"fmt"
	"math"

	"github.com/upb/market-routes/models"
	"github.com/upb/market-routes/services"
)

const (
	// EarthRadiusMeters is the mean earth radius used by the haversine formula
	EarthRadiusMeters = 6371000.0

	DefaultFallbackSpeedKmh = 30.0
	DefaultFallbackTier     = 70
	DefaultDetourFactor     = 1.0
)

// Estimator computes a straight-line estimate when every provider failed.
// It is read-only after construction and safe for concurrent use.
type Estimator struct {
	speedKmh     float64
	detourFactor float64
}

// NewEstimator creates an estimator for the given average speed.
// detourFactor scales the great-circle distance; 1.0 keeps pure haversine.
func NewEstimator(speedKmh, detourFactor float64) *Estimator {
	return &Estimator{
		speedKmh:     speedKmh,
		detourFactor: detourFactor,
	}
}

// SpeedKmh returns the assumed average speed
func (e *Estimator) SpeedKmh() float64 {
	return e.speedKmh
}

// Estimate returns the distance in meters and duration in seconds between two points
func (e *Estimator) Estimate(origin, destination models.Coordinate) (float64, float64, error) {
	if e.speedKmh <= 0 || math.IsNaN(e.speedKmh) || math.IsInf(e.speedKmh, 0) {
		return 0, 0, services.ErrFallbackFailed.Wrap(fmt.Errorf("speed must be positive, got %v", e.speedKmh))
	}
	if e.detourFactor <= 0 || !isFinite(e.detourFactor) {
		return 0, 0, services.ErrFallbackFailed.Wrap(fmt.Errorf("detour factor must be positive, got %v", e.detourFactor))
	}
	if origin.Equal(destination) {
		return 0, 0, nil
	}

	distance := Haversine(origin, destination) * e.detourFactor
	duration := distance / (e.speedKmh / 3.6)

	if !isFinite(distance) || !isFinite(duration) || distance < 0 {
		return 0, 0, services.ErrFallbackFailed.Wrap(fmt.Errorf("non-finite estimate distance=%v duration=%v", distance, duration))
	}

	return distance, duration, nil
}

// Haversine returns the great-circle distance in meters
func Haversine(a, b models.Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)

	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
