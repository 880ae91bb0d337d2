package routing

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/upb/market-routes/middleware"
	"github.com/upb/market-routes/models"
	"github.com/upb/market-routes/services"
	"github.com/upb/market-routes/services/providers"
)

// RouteResolver resolves a single route query
type RouteResolver interface {
	Resolve(ctx context.Context, query models.RouteQuery) (*models.RouteResult, error)
}

// Recorder receives one log entry per completed resolution.
// Implementations must not block.
type Recorder interface {
	Record(entry *models.ResolutionLog)
}

// Resolver tries providers in descending tier order and falls back to the
// estimator when all of them fail. It holds no mutable state, so a single
// instance can serve any number of concurrent resolutions.
type Resolver struct {
	descriptors  []providers.Descriptor
	estimator    *Estimator
	fallbackTier int
	logger       *zap.Logger
	recorder     Recorder
	clock        Clock
}

// ResolverOption customizes a Resolver
type ResolverOption func(*Resolver)

// WithRecorder attaches a resolution log recorder
func WithRecorder(recorder Recorder) ResolverOption {
	return func(r *Resolver) {
		r.recorder = recorder
	}
}

// WithClock overrides the clock used to measure latency
func WithClock(clock Clock) ResolverOption {
	return func(r *Resolver) {
		r.clock = clock
	}
}

// NewResolver creates a resolver over the given descriptors. They are
// attempted in descending tier order; equal tiers keep their input order.
func NewResolver(descriptors []providers.Descriptor, estimator *Estimator, fallbackTier int, logger *zap.Logger, opts ...ResolverOption) *Resolver {
	ordered := make([]providers.Descriptor, len(descriptors))
	copy(ordered, descriptors)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Tier > ordered[j].Tier
	})

	r := &Resolver{
		descriptors:  ordered,
		estimator:    estimator,
		fallbackTier: fallbackTier,
		logger:       logger,
		clock:        SystemClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the first successful provider answer, or a computed
// estimate when every provider failed. Only invalid coordinates and a
// failing estimator produce an error.
func (r *Resolver) Resolve(ctx context.Context, query models.RouteQuery) (*models.RouteResult, error) {
	if err := query.Validate(); err != nil {
		return nil, services.ErrInvalidCoordinates.Wrap(err)
	}

	start := r.clock.Now()
	failures := make(map[string]string)

	for _, d := range r.descriptors {
		result, err := d.Invoke(ctx, query)
		if err == nil {
			r.logger.Debug("route resolved",
				zap.String("provider", d.Name()),
				zap.String("label", query.Label),
				zap.Float64("distance_m", result.DistanceMeters),
				zap.Float64("duration_s", result.DurationSeconds),
			)
			r.record(ctx, query, result, failures, start)
			return result, nil
		}

		failures[d.Name()] = err.Error()
		fields := []zap.Field{
			zap.String("provider", d.Name()),
			zap.String("label", query.Label),
			zap.Error(err),
		}
		var provErr *providers.ProviderError
		if errors.As(err, &provErr) {
			fields = append(fields, zap.String("code", provErr.Code), zap.Int("status", provErr.StatusCode))
		}
		r.logger.Warn("routing provider failed, trying next", fields...)
	}

	distance, duration, err := r.estimator.Estimate(query.Origin, query.Destination)
	if err != nil {
		r.logger.Error("fallback estimate failed", zap.String("label", query.Label), zap.Error(err))
		return nil, err
	}

	result := &models.RouteResult{
		DistanceMeters:  distance,
		DurationSeconds: duration,
		Accuracy:        r.fallbackTier,
		Service:         models.FallbackService,
	}

	r.logger.Info("all routing providers failed, using computed estimate",
		zap.String("label", query.Label),
		zap.Int("providers_tried", len(r.descriptors)),
		zap.Float64("distance_m", distance),
	)
	r.record(ctx, query, result, failures, start)

	return result, nil
}

// Descriptors returns a copy of the providers in attempt order
func (r *Resolver) Descriptors() []providers.Descriptor {
	out := make([]providers.Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// FallbackTier returns the tier attached to computed estimates
func (r *Resolver) FallbackTier() int {
	return r.fallbackTier
}

// FallbackSpeedKmh returns the speed assumed by computed estimates
func (r *Resolver) FallbackSpeedKmh() float64 {
	return r.estimator.SpeedKmh()
}

func (r *Resolver) record(ctx context.Context, query models.RouteQuery, result *models.RouteResult, failures map[string]string, start time.Time) {
	if r.recorder == nil {
		return
	}

	entry := models.NewResolutionLog(query, result).
		WithRequest(middleware.GetRequestIDFromContext(ctx)).
		WithFailures(failures).
		WithLatency(r.clock.Now().Sub(start))
	r.recorder.Record(entry)
}
