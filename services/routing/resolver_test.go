package routing

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/upb/market-routes/models"
	"github.com/upb/market-routes/services"
	"github.com/upb/market-routes/services/providers"
)

func newTestResolver(t *testing.T, descriptors []providers.Descriptor, opts ...ResolverOption) *Resolver {
	return NewResolver(descriptors, NewEstimator(DefaultFallbackSpeedKmh, DefaultDetourFactor), DefaultFallbackTier, zaptest.NewLogger(t), opts...)
}

func TestResolver_PriorityOrder(t *testing.T) {
	google := failingProvider("google")
	here := fixedProvider("here", 6100, 650)
	osrm := fixedProvider("osrm", 6300, 590)

	resolver := newTestResolver(t, []providers.Descriptor{
		descriptor(google, 95),
		descriptor(here, 90),
		descriptor(osrm, 75),
	})

	result, err := resolver.Resolve(context.Background(), models.NewRouteQuery(brasiliaOrigin, brasiliaDestination, "m1"))
	require.NoError(t, err)

	assert.Equal(t, "here", result.Service)
	assert.Equal(t, 90, result.Accuracy)
	assert.Equal(t, 6100.0, result.DistanceMeters)
	assert.EqualValues(t, 1, google.calls.Load())
	assert.EqualValues(t, 1, here.calls.Load())
	assert.EqualValues(t, 0, osrm.calls.Load(), "lower tiers must not be attempted after a success")
}

func TestResolver_FirstProviderWins(t *testing.T) {
	tests := []struct {
		name  string
		lower func(name string) *stubProvider
	}{
		{name: "lower tiers available", lower: func(name string) *stubProvider { return fixedProvider(name, 6300, 590) }},
		{name: "lower tiers failing", lower: failingProvider},
	}

	results := make([]*models.RouteResult, len(tests))
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			google := fixedProvider("google", 6000, 700)
			here := tt.lower("here")
			osrm := tt.lower("osrm")

			resolver := newTestResolver(t, []providers.Descriptor{
				descriptor(google, 95),
				descriptor(here, 90),
				descriptor(osrm, 75),
			})

			result, err := resolver.Resolve(context.Background(), models.NewRouteQuery(brasiliaOrigin, brasiliaDestination, ""))
			require.NoError(t, err)
			assert.Equal(t, "google", result.Service)
			assert.Equal(t, 95, result.Accuracy)
			assert.EqualValues(t, 0, here.calls.Load())
			assert.EqualValues(t, 0, osrm.calls.Load())
			results[i] = result
		})
	}

	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.Equal(t, *results[0], *results[1])
}

func TestResolver_OrdersDescriptorsByTier(t *testing.T) {
	google := fixedProvider("google", 6000, 700)
	osrm := fixedProvider("osrm", 6300, 590)
	input := []providers.Descriptor{descriptor(osrm, 75), descriptor(google, 95)}

	resolver := newTestResolver(t, input)

	result, err := resolver.Resolve(context.Background(), models.NewRouteQuery(brasiliaOrigin, brasiliaDestination, ""))
	require.NoError(t, err)
	assert.Equal(t, "google", result.Service)
	assert.Equal(t, 95, result.Accuracy)
	assert.EqualValues(t, 1, google.calls.Load())
	assert.EqualValues(t, 0, osrm.calls.Load())

	require.Len(t, resolver.Descriptors(), 2)
	assert.Equal(t, "google", resolver.Descriptors()[0].Name())
	assert.Equal(t, "osrm", input[0].Name(), "caller slice is not reordered")
}

func TestResolver_ExhaustionFallsBack(t *testing.T) {
	names := []string{"google", "mapbox", "here", "tomtom", "openrouteservice", "graphhopper", "valhalla", "osrm"}
	tiers := []int{95, 92, 90, 88, 85, 82, 78, 75}

	var stubs []*stubProvider
	var descriptors []providers.Descriptor
	for i, name := range names {
		stub := failingProvider(name)
		stubs = append(stubs, stub)
		descriptors = append(descriptors, descriptor(stub, tiers[i]))
	}

	resolver := newTestResolver(t, descriptors)
	result, err := resolver.Resolve(context.Background(), models.NewRouteQuery(brasiliaOrigin, brasiliaDestination, "feira"))
	require.NoError(t, err)

	assert.Equal(t, models.FallbackService, result.Service)
	assert.Equal(t, DefaultFallbackTier, result.Accuracy)
	assert.InDelta(t, 5267.76, result.DistanceMeters, 1.0)
	assert.InDelta(t, 632.13, result.DurationSeconds, 0.5)
	assert.True(t, result.IsFallback())
	for _, stub := range stubs {
		assert.EqualValues(t, 1, stub.calls.Load(), stub.name)
	}
}

func TestResolver_NoProvidersConfigured(t *testing.T) {
	resolver := newTestResolver(t, nil)

	result, err := resolver.Resolve(context.Background(), models.NewRouteQuery(brasiliaOrigin, brasiliaDestination, ""))
	require.NoError(t, err)
	assert.Equal(t, models.FallbackService, result.Service)
}

func TestResolver_InvalidCoordinatesFailFast(t *testing.T) {
	google := fixedProvider("google", 1, 1)
	resolver := newTestResolver(t, []providers.Descriptor{descriptor(google, 95)})

	queries := []models.RouteQuery{
		models.NewRouteQuery(models.Coordinate{Lat: 91, Lng: 0}, brasiliaDestination, ""),
		models.NewRouteQuery(brasiliaOrigin, models.Coordinate{Lat: 0, Lng: math.NaN()}, ""),
		models.NewRouteQuery(brasiliaOrigin, models.Coordinate{Lat: 0, Lng: -181}, ""),
	}

	for _, q := range queries {
		result, err := resolver.Resolve(context.Background(), q)
		assert.Nil(t, result)
		assert.ErrorIs(t, err, services.ErrInvalidCoordinates)
		assert.True(t, services.IsValidationError(err))
	}
	assert.EqualValues(t, 0, google.calls.Load())
}

func TestResolver_SlowProviderTimesOut(t *testing.T) {
	slow := &stubProvider{
		name: "google",
		fn: func(ctx context.Context, query models.RouteQuery) (*providers.Estimate, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	osrm := fixedProvider("osrm", 6300, 590)

	resolver := newTestResolver(t, []providers.Descriptor{
		{Provider: slow, Tier: 95, Timeout: 20 * time.Millisecond},
		descriptor(osrm, 75),
	})

	start := time.Now()
	result, err := resolver.Resolve(context.Background(), models.NewRouteQuery(brasiliaOrigin, brasiliaDestination, ""))
	require.NoError(t, err)
	assert.Equal(t, "osrm", result.Service)
	assert.Less(t, time.Since(start), time.Second)
}

func TestResolver_FallbackFailureIsFatal(t *testing.T) {
	resolver := NewResolver(
		[]providers.Descriptor{descriptor(failingProvider("osrm"), 75)},
		NewEstimator(0, 1),
		DefaultFallbackTier,
		zap.NewNop(),
	)

	result, err := resolver.Resolve(context.Background(), models.NewRouteQuery(brasiliaOrigin, brasiliaDestination, ""))
	assert.Nil(t, result)
	assert.ErrorIs(t, err, services.ErrFallbackFailed)
}

func TestResolver_RecordsResolution(t *testing.T) {
	clock := newFakeClock()
	recorder := new(MockRecorder)
	recorder.On("Record", mock.MatchedBy(func(entry *models.ResolutionLog) bool {
		return entry.Service == "osrm" &&
			entry.Label == "feira" &&
			entry.RequestID == "req-42" &&
			!entry.Fallback &&
			string(entry.FailedProviders) != "{}"
	})).Return().Once()

	resolver := newTestResolver(t,
		[]providers.Descriptor{descriptor(failingProvider("google"), 95), descriptor(fixedProvider("osrm", 10, 1), 75)},
		WithRecorder(recorder),
		WithClock(clock),
	)

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	_, err := resolver.Resolve(ctx, models.NewRouteQuery(brasiliaOrigin, brasiliaDestination, "feira"))
	require.NoError(t, err)

	recorder.AssertExpectations(t)
}

func TestResolver_InvalidQueryIsNotRecorded(t *testing.T) {
	recorder := new(MockRecorder)
	resolver := newTestResolver(t, nil, WithRecorder(recorder))

	_, err := resolver.Resolve(context.Background(), models.NewRouteQuery(models.Coordinate{Lat: 100}, brasiliaDestination, ""))
	require.Error(t, err)

	recorder.AssertNotCalled(t, "Record", mock.Anything)
}

func TestResolver_ParallelResolutionsAreIsolated(t *testing.T) {
	// fails every other call, so concurrent resolutions interleave
	// successes and fallthroughs on the same descriptor list
	var counter atomic.Int64
	flaky := &stubProvider{
		name: "google",
		fn: func(ctx context.Context, query models.RouteQuery) (*providers.Estimate, error) {
			if counter.Add(1)%2 == 0 {
				return nil, fmt.Errorf("transient")
			}
			return &providers.Estimate{DistanceMeters: query.Destination.Lat * 1000, DurationSeconds: 60}, nil
		},
	}
	steady := &stubProvider{
		name: "osrm",
		fn: func(ctx context.Context, query models.RouteQuery) (*providers.Estimate, error) {
			return &providers.Estimate{DistanceMeters: query.Destination.Lat * 1000, DurationSeconds: 90}, nil
		},
	}

	resolver := newTestResolver(t, []providers.Descriptor{descriptor(flaky, 95), descriptor(steady, 75)})

	const n = 64
	var wg sync.WaitGroup
	results := make([]*models.RouteResult, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dest := models.Coordinate{Lat: float64(i%10 + 1), Lng: 10}
			results[i], errs[i] = resolver.Resolve(context.Background(), models.NewRouteQuery(brasiliaOrigin, dest, ""))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, float64(i%10+1)*1000, results[i].DistanceMeters)
		switch results[i].Service {
		case "google":
			assert.Equal(t, 95, results[i].Accuracy)
			assert.Equal(t, 60.0, results[i].DurationSeconds)
		case "osrm":
			assert.Equal(t, 75, results[i].Accuracy)
			assert.Equal(t, 90.0, results[i].DurationSeconds)
		default:
			t.Errorf("unexpected service %s", results[i].Service)
		}
	}
	assert.EqualValues(t, n, flaky.calls.Load())
}

func TestResolver_Accessors(t *testing.T) {
	resolver := newTestResolver(t, []providers.Descriptor{descriptor(fixedProvider("osrm", 1, 1), 75)})

	descriptors := resolver.Descriptors()
	require.Len(t, descriptors, 1)
	descriptors[0].Tier = 1

	assert.Equal(t, 75, resolver.Descriptors()[0].Tier)
	assert.Equal(t, DefaultFallbackTier, resolver.FallbackTier())
	assert.Equal(t, DefaultFallbackSpeedKmh, resolver.FallbackSpeedKmh())
}
