package routing

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/market-routes/models"
	"github.com/upb/market-routes/services"
)

func batchOf(n int) models.BatchRequest {
	items := make([]models.BatchItem, n)
	for i := range items {
		items[i] = models.BatchItem{
			ID:    fmt.Sprintf("market-%d", i),
			Query: models.NewRouteQuery(brasiliaOrigin, models.Coordinate{Lat: -15.7 - float64(i)/100, Lng: -47.9}, ""),
		}
	}
	return models.BatchRequest{Items: items}
}

func okResolver(service string) funcResolver {
	return func(ctx context.Context, query models.RouteQuery) (*models.RouteResult, error) {
		return &models.RouteResult{DistanceMeters: 100, DurationSeconds: 10, Accuracy: 75, Service: service}, nil
	}
}

func TestScheduler_ChunkPacing(t *testing.T) {
	clock := newFakeClock()

	// the number of pauses taken so far identifies the chunk an item ran in
	var mu sync.Mutex
	chunkSizes := map[int]int{}
	resolver := funcResolver(func(ctx context.Context, query models.RouteQuery) (*models.RouteResult, error) {
		mu.Lock()
		chunkSizes[clock.SleepCount()]++
		mu.Unlock()
		return &models.RouteResult{Service: "osrm", Accuracy: 75}, nil
	})

	scheduler := NewScheduler(resolver, clock, zap.NewNop(), DefaultChunkSize, DefaultInterChunkDelay)
	results, err := scheduler.ResolveBatch(context.Background(), batchOf(10), 3, 1000*time.Millisecond)
	require.NoError(t, err)

	assert.Len(t, results, 10)
	assert.Equal(t, map[int]int{0: 3, 1: 3, 2: 3, 3: 1}, chunkSizes)
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, clock.Sleeps())
}

func TestScheduler_Bijection(t *testing.T) {
	req := batchOf(7)
	// one item with an invalid destination keeps its error entry
	req.Items[4].Query.Destination = models.Coordinate{Lat: 200}

	resolver := NewResolver(nil, NewEstimator(30, 1), 70, zap.NewNop())
	scheduler := NewScheduler(resolver, newFakeClock(), zap.NewNop(), 3, 0)

	results, err := scheduler.Run(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, results, len(req.Items))
	for _, item := range req.Items {
		outcome, ok := results[item.ID]
		require.True(t, ok, "missing %s", item.ID)
		if item.ID == "market-4" {
			assert.ErrorIs(t, outcome.Err, services.ErrInvalidCoordinates)
			assert.Nil(t, outcome.Result)
			continue
		}
		require.NoError(t, outcome.Err)
		assert.Equal(t, models.FallbackService, outcome.Result.Service)
	}
}

func TestScheduler_EmptyBatch(t *testing.T) {
	clock := newFakeClock()
	scheduler := NewScheduler(okResolver("osrm"), clock, zap.NewNop(), 3, time.Second)

	results, err := scheduler.Run(context.Background(), models.BatchRequest{})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, clock.Sleeps())
}

func TestScheduler_ZeroDelayNeverPauses(t *testing.T) {
	clock := newFakeClock()
	scheduler := NewScheduler(okResolver("osrm"), clock, zap.NewNop(), 3, time.Second)

	results, err := scheduler.ResolveBatch(context.Background(), batchOf(9), 2, 0)
	require.NoError(t, err)
	assert.Len(t, results, 9)
	assert.Empty(t, clock.Sleeps())
}

func TestScheduler_DefaultChunkSize(t *testing.T) {
	clock := newFakeClock()
	scheduler := NewScheduler(okResolver("osrm"), clock, zap.NewNop(), 0, -1)

	assert.Equal(t, DefaultChunkSize, scheduler.ChunkSize())
	assert.Equal(t, DefaultInterChunkDelay, scheduler.InterChunkDelay())

	_, err := scheduler.ResolveBatch(context.Background(), batchOf(7), 0, 10*time.Millisecond)
	require.NoError(t, err)
	// 7 items in chunks of 3 => 3 chunks, 2 pauses
	assert.Len(t, clock.Sleeps(), 2)
}

func TestScheduler_RequestValidation(t *testing.T) {
	var calls atomic.Int32
	resolver := funcResolver(func(ctx context.Context, query models.RouteQuery) (*models.RouteResult, error) {
		calls.Add(1)
		return &models.RouteResult{}, nil
	})
	scheduler := NewScheduler(resolver, newFakeClock(), zap.NewNop(), 3, 0)

	duplicate := batchOf(3)
	duplicate.Items[2].ID = duplicate.Items[0].ID

	empty := batchOf(2)
	empty.Items[1].ID = ""

	tests := []struct {
		name  string
		req   models.BatchRequest
		delay time.Duration
	}{
		{"duplicate ids", duplicate, 0},
		{"empty id", empty, 0},
		{"negative delay", batchOf(2), -time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := scheduler.ResolveBatch(context.Background(), tt.req, 3, tt.delay)
			assert.Nil(t, results)
			assert.ErrorIs(t, err, services.ErrInvalidBatch)
			assert.True(t, services.IsValidationError(err))
		})
	}
	assert.EqualValues(t, 0, calls.Load())
}

func TestScheduler_ItemsInChunkRunConcurrently(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	resolver := funcResolver(func(ctx context.Context, query models.RouteQuery) (*models.RouteResult, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
		return &models.RouteResult{Service: "osrm"}, nil
	})

	scheduler := NewScheduler(resolver, newFakeClock(), zap.NewNop(), 3, 0)
	_, err := scheduler.ResolveBatch(context.Background(), batchOf(6), 3, 0)
	require.NoError(t, err)

	assert.EqualValues(t, 3, maxInFlight.Load(), "a chunk runs all of its items at once and never overlaps the next")
}

func TestScheduler_ItemErrorsAreIsolated(t *testing.T) {
	resolver := funcResolver(func(ctx context.Context, query models.RouteQuery) (*models.RouteResult, error) {
		if query.Destination.Lat < -15.725 {
			return nil, services.ErrFallbackFailed.Wrap(errBoom)
		}
		return &models.RouteResult{Service: "osrm"}, nil
	})

	scheduler := NewScheduler(resolver, newFakeClock(), zap.NewNop(), 2, 0)
	results, err := scheduler.Run(context.Background(), batchOf(4))
	require.NoError(t, err)

	assert.NoError(t, results["market-0"].Err)
	assert.NoError(t, results["market-1"].Err)
	assert.NoError(t, results["market-2"].Err)
	assert.ErrorIs(t, results["market-3"].Err, services.ErrFallbackFailed)
}

func TestScheduler_CancellationSkipsRemainingChunks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := newFakeClock()
	clock.onSleep = func(n int) {
		if n == 1 {
			cancel()
		}
	}

	var calls atomic.Int32
	resolver := funcResolver(func(ctx context.Context, query models.RouteQuery) (*models.RouteResult, error) {
		calls.Add(1)
		return &models.RouteResult{Service: "osrm"}, nil
	})

	scheduler := NewScheduler(resolver, clock, zap.NewNop(), 3, time.Second)
	results, err := scheduler.Run(ctx, batchOf(8))
	require.NoError(t, err)

	require.Len(t, results, 8)
	assert.EqualValues(t, 3, calls.Load())
	for i := 0; i < 8; i++ {
		outcome := results[fmt.Sprintf("market-%d", i)]
		if i < 3 {
			assert.NoError(t, outcome.Err)
			assert.False(t, IsCancelled(outcome))
		} else {
			assert.True(t, IsCancelled(outcome), "item %d", i)
			assert.True(t, services.IsCancelledError(outcome.Err))
			assert.ErrorIs(t, outcome.Err, context.Canceled)
		}
	}
}

func TestScheduler_InFlightChunkFinishesAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sawCancelled atomic.Bool
	var calls atomic.Int32
	resolver := funcResolver(func(rctx context.Context, query models.RouteQuery) (*models.RouteResult, error) {
		calls.Add(1)
		cancel()
		if rctx.Err() != nil {
			sawCancelled.Store(true)
		}
		return &models.RouteResult{Service: "osrm"}, nil
	})

	scheduler := NewScheduler(resolver, newFakeClock(), zap.NewNop(), 2, 0)
	results, err := scheduler.Run(ctx, batchOf(5))
	require.NoError(t, err)

	assert.False(t, sawCancelled.Load(), "items of a started chunk must not observe cancellation")
	assert.EqualValues(t, 2, calls.Load())
	assert.NoError(t, results["market-0"].Err)
	assert.NoError(t, results["market-1"].Err)
	assert.True(t, IsCancelled(results["market-2"]))
	assert.True(t, IsCancelled(results["market-4"]))
	assert.Len(t, results, 5)
}

func TestPartition(t *testing.T) {
	chunks := partition(batchOf(10).Items, 3)

	sizes := make([]int, len(chunks))
	for i, c := range chunks {
		sizes[i] = len(c)
	}
	assert.Equal(t, []int{3, 3, 3, 1}, sizes)
	assert.Equal(t, "market-9", chunks[3][0].ID)

	assert.Empty(t, partition(nil, 3))
}
