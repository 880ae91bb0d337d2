package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/upb/market-routes/models"
	"github.com/upb/market-routes/services"
)

type recordingClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (c *recordingClock) Now() time.Time { return time.Now() }

func (c *recordingClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return ctx.Err()
}

var origin = models.Coordinate{Lat: -15.7942, Lng: -47.8822}

// fakeAPI answers /route/crawl with distance = 1000 * marketLat magnitude
func fakeAPI(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/route/crawl", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req crawlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		if req.MarketName == "Broken" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"success":false,"error":"route could not be computed","code":"internal_error"}`))
			return
		}
		_, _ = fmt.Fprintf(w, `{"success":true,"data":{"distance":%v,"estimatedTime":600,"accuracy":90,"service":"here"}}`,
			-req.MarketLat*1000)
	})
	mux.HandleFunc("/route/providers", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"providers":[{"name":"here","accuracy":90,"timeoutMs":5000}],` +
			`"fallback":{"service":"computed","accuracy":50,"speedKmh":30},"cache":{"size":1,"maxSize":10,"hits":2,"misses":1,"hitRate":0.66}}}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Resolve(t *testing.T) {
	var calls int32
	srv := fakeAPI(t, &calls)
	c := New(srv.URL+"/", WithLogger(zaptest.NewLogger(t)))

	result, err := c.Resolve(context.Background(), models.NewRouteQuery(origin, models.Coordinate{Lat: -15.7801, Lng: -47.9292}, "Feira da Torre"))
	require.NoError(t, err)

	assert.InDelta(t, 15780.1, result.DistanceMeters, 0.01)
	assert.Equal(t, 600.0, result.DurationSeconds)
	assert.Equal(t, 90, result.Accuracy)
	assert.Equal(t, "here", result.Service)
	assert.Equal(t, int32(1), calls)
}

func TestClient_ResolveErrors(t *testing.T) {
	var calls int32
	srv := fakeAPI(t, &calls)
	c := New(srv.URL)

	t.Run("invalid coordinates never reach the server", func(t *testing.T) {
		_, err := c.Resolve(context.Background(), models.NewRouteQuery(origin, models.Coordinate{Lat: 91}, "x"))
		assert.ErrorIs(t, err, services.ErrInvalidCoordinates)
		assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	})

	t.Run("api error is decoded", func(t *testing.T) {
		_, err := c.Resolve(context.Background(), models.NewRouteQuery(origin, models.Coordinate{Lat: -15.7, Lng: -47.9}, "Broken"))

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
		assert.Equal(t, "internal_error", apiErr.Code)
		assert.Equal(t, "route could not be computed", apiErr.Message)
	})

	t.Run("unreachable server", func(t *testing.T) {
		down := New("http://127.0.0.1:1")
		_, err := down.Resolve(context.Background(), models.NewRouteQuery(origin, models.Coordinate{Lat: -15.7, Lng: -47.9}, "x"))
		assert.Error(t, err)
	})
}

func TestClient_CrawlMarkets(t *testing.T) {
	var calls int32
	srv := fakeAPI(t, &calls)
	clock := &recordingClock{}
	c := New(srv.URL, WithClock(clock))

	markets := make([]models.Market, 0, 7)
	for i := 1; i <= 6; i++ {
		markets = append(markets, models.Market{
			ID:       fmt.Sprintf("m%d", i),
			Name:     fmt.Sprintf("Market %d", i),
			Location: models.Coordinate{Lat: -float64(i), Lng: -47.9},
		})
	}
	markets = append(markets, models.Market{ID: "broken", Name: "Broken", Location: models.Coordinate{Lat: -1, Lng: -1}})

	results, err := c.CrawlMarkets(context.Background(), origin, markets)
	require.NoError(t, err)

	// one outcome per market; 7 markets in chunks of 3 pause twice
	require.Len(t, results, 7)
	assert.Equal(t, int32(7), atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{time.Second, time.Second}, clock.sleeps)

	assert.Equal(t, 3000.0, results["m3"].Result.DistanceMeters)
	assert.Error(t, results["broken"].Err)
	assert.Nil(t, results["broken"].Result)
}

func TestClient_CrawlMarketsCustomPacing(t *testing.T) {
	var calls int32
	srv := fakeAPI(t, &calls)
	clock := &recordingClock{}
	c := New(srv.URL, WithClock(clock), WithPacing(2, 250*time.Millisecond))

	markets := []models.Market{
		{ID: "a", Location: models.Coordinate{Lat: -1, Lng: -1}},
		{ID: "b", Location: models.Coordinate{Lat: -2, Lng: -1}},
		{ID: "c", Location: models.Coordinate{Lat: -3, Lng: -1}},
	}

	results, err := c.CrawlMarkets(context.Background(), origin, markets)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Equal(t, []time.Duration{250 * time.Millisecond}, clock.sleeps)
}

func TestClient_CrawlMarketsDuplicateIDs(t *testing.T) {
	var calls int32
	srv := fakeAPI(t, &calls)
	c := New(srv.URL, WithClock(&recordingClock{}))

	markets := []models.Market{
		{ID: "a", Location: models.Coordinate{Lat: -1, Lng: -1}},
		{ID: "a", Location: models.Coordinate{Lat: -2, Lng: -1}},
	}

	_, err := c.CrawlMarkets(context.Background(), origin, markets)
	assert.ErrorIs(t, err, services.ErrInvalidBatch)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestClient_Providers(t *testing.T) {
	var calls int32
	srv := fakeAPI(t, &calls)

	info, err := New(srv.URL).Providers(context.Background())
	require.NoError(t, err)

	require.Len(t, info.Providers, 1)
	assert.Equal(t, "here", info.Providers[0].Name)
	assert.Equal(t, "computed", info.Fallback.Service)
	assert.Equal(t, 30.0, info.Fallback.SpeedKmh)
	require.NotNil(t, info.Cache)
	assert.Equal(t, uint64(2), info.Cache.Hits)
}
