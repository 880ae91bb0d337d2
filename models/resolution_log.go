package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ResolutionLog records how a single route resolution was answered
type ResolutionLog struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	RequestID       string          `json:"request_id" db:"request_id"`
	Label           string          `json:"label" db:"label"`
	OriginLat       float64         `json:"origin_lat" db:"origin_lat"`
	OriginLng       float64         `json:"origin_lng" db:"origin_lng"`
	DestinationLat  float64         `json:"destination_lat" db:"destination_lat"`
	DestinationLng  float64         `json:"destination_lng" db:"destination_lng"`
	Service         string          `json:"service" db:"service"`
	Accuracy        int             `json:"accuracy" db:"accuracy"`
	Fallback        bool            `json:"fallback" db:"fallback"`
	DistanceMeters  float64         `json:"distance_meters" db:"distance_meters"`
	DurationSeconds float64         `json:"duration_seconds" db:"duration_seconds"`
	FailedProviders json.RawMessage `json:"failed_providers" db:"failed_providers"` // JSONB: {"provider": "reason"}
	LatencyMs       int             `json:"latency_ms" db:"latency_ms"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the ResolutionLog model
func (ResolutionLog) TableName() string {
	return "route_resolutions"
}

// NewResolutionLog creates a log entry for a query and the result that answered it
func NewResolutionLog(query RouteQuery, result *RouteResult) *ResolutionLog {
	log := &ResolutionLog{
		ID:             uuid.New(),
		Label:          query.Label,
		OriginLat:      query.Origin.Lat,
		OriginLng:      query.Origin.Lng,
		DestinationLat: query.Destination.Lat,
		DestinationLng: query.Destination.Lng,
		CreatedAt:      time.Now(),
	}
	if result != nil {
		log.Service = result.Service
		log.Accuracy = result.Accuracy
		log.Fallback = result.IsFallback()
		log.DistanceMeters = result.DistanceMeters
		log.DurationSeconds = result.DurationSeconds
	}
	return log
}

// WithRequest sets the HTTP request id the resolution belongs to
func (l *ResolutionLog) WithRequest(requestID string) *ResolutionLog {
	l.RequestID = requestID
	return l
}

// WithFailures records the providers that failed before the answer
func (l *ResolutionLog) WithFailures(failures map[string]string) *ResolutionLog {
	if len(failures) == 0 {
		l.FailedProviders = json.RawMessage(`{}`)
		return l
	}
	if data, err := json.Marshal(failures); err == nil {
		l.FailedProviders = data
	}
	return l
}

// WithLatency sets the wall-clock time spent resolving
func (l *ResolutionLog) WithLatency(d time.Duration) *ResolutionLog {
	l.LatencyMs = int(d.Milliseconds())
	return l
}
