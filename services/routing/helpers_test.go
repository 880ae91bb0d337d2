package routing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/upb/market-routes/models"
	"github.com/upb/market-routes/services/providers"
)

var (
	brasiliaOrigin      = models.Coordinate{Lat: -15.7942, Lng: -47.8822}
	brasiliaDestination = models.Coordinate{Lat: -15.7801, Lng: -47.9292}
)

// stubProvider counts calls and delegates to fn
type stubProvider struct {
	name  string
	fn    func(ctx context.Context, query models.RouteQuery) (*providers.Estimate, error)
	calls atomic.Int32
}

func (p *stubProvider) Name() string {
	return p.name
}

func (p *stubProvider) Route(ctx context.Context, query models.RouteQuery) (*providers.Estimate, error) {
	p.calls.Add(1)
	return p.fn(ctx, query)
}

func failingProvider(name string) *stubProvider {
	return &stubProvider{
		name: name,
		fn: func(ctx context.Context, query models.RouteQuery) (*providers.Estimate, error) {
			return nil, providers.NewProviderError(name, providers.CodeStatus, "unexpected status 503", 503, true, nil)
		},
	}
}

func fixedProvider(name string, distance, duration float64) *stubProvider {
	return &stubProvider{
		name: name,
		fn: func(ctx context.Context, query models.RouteQuery) (*providers.Estimate, error) {
			return &providers.Estimate{DistanceMeters: distance, DurationSeconds: duration}, nil
		},
	}
}

func descriptor(p providers.Provider, tier int) providers.Descriptor {
	return providers.Descriptor{Provider: p, Tier: tier, Timeout: time.Second}
}

// fakeClock records sleeps instead of waiting
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	onSleep func(n int)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	n := len(c.sleeps)
	hook := c.onSleep
	c.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

func (c *fakeClock) SleepCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sleeps)
}

// funcResolver adapts a function to RouteResolver
type funcResolver func(ctx context.Context, query models.RouteQuery) (*models.RouteResult, error)

func (f funcResolver) Resolve(ctx context.Context, query models.RouteQuery) (*models.RouteResult, error) {
	return f(ctx, query)
}

// MockRecorder is a mock implementation of Recorder
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Record(entry *models.ResolutionLog) {
	m.Called(entry)
}

var errBoom = errors.New("boom")
