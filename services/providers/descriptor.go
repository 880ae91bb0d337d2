package providers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/upb/market-routes/models"
)

// Descriptor pairs an adapter with its precision tier and per-call timeout.
// Descriptors are built once at startup and never mutated afterwards.
type Descriptor struct {
	Provider Provider
	Tier     int
	Timeout  time.Duration
}

// Name returns the adapter name
func (d Descriptor) Name() string {
	return d.Provider.Name()
}

// Invoke calls the adapter under its own deadline and tags the answer with
// the descriptor's tier and name. Every failure comes back as *ProviderError.
func (d Descriptor) Invoke(ctx context.Context, query models.RouteQuery) (*models.RouteResult, error) {
	name := d.Name()

	callCtx := ctx
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	estimate, err := d.Provider.Route(callCtx, query)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, NewProviderError(name, CodeTimeout, fmt.Sprintf("no answer within %s", d.Timeout), 0, true, err)
		}
		return nil, AsProviderError(name, err)
	}
	if estimate == nil {
		return nil, NoRoute(name, "empty estimate")
	}
	if !finiteNonNegative(estimate.DistanceMeters) || !finiteNonNegative(estimate.DurationSeconds) {
		return nil, NoRoute(name, fmt.Sprintf("unusable estimate distance=%v duration=%v",
			estimate.DistanceMeters, estimate.DurationSeconds))
	}

	return &models.RouteResult{
		DistanceMeters:  estimate.DistanceMeters,
		DurationSeconds: estimate.DurationSeconds,
		Accuracy:        d.Tier,
		Service:         name,
		Raw:             estimate.Raw,
	}, nil
}

func finiteNonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
