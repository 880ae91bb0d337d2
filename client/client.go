// Package client talks to a running route-api over HTTP.
//
// Client satisfies routing.RouteResolver, so the same Scheduler that paces
// server-side batches paces crawls issued from the client side.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/upb/market-routes/models"
	"github.com/upb/market-routes/services"
	"github.com/upb/market-routes/services/routing"
)

const (
	defaultTimeout  = 30 * time.Second
	maxErrorBodyLen = 4096
)

// APIError is a non-2xx answer from the route API
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("route api: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("route api: %d: %s", e.StatusCode, e.Message)
}

// Client calls the route API
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	clock      routing.Clock
	chunkSize  int
	chunkDelay time.Duration
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithLogger attaches a logger
func WithLogger(logger *zap.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// WithClock overrides the clock used to pace crawls
func WithClock(clock routing.Clock) Option {
	return func(cl *Client) {
		cl.clock = clock
	}
}

// WithPacing sets the crawl chunk size and the pause between chunks
func WithPacing(chunkSize int, delay time.Duration) Option {
	return func(cl *Client) {
		cl.chunkSize = chunkSize
		cl.chunkDelay = delay
	}
}

// New creates a client for the API rooted at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     zap.NewNop(),
		clock:      routing.SystemClock{},
		chunkSize:  routing.DefaultChunkSize,
		chunkDelay: routing.DefaultInterChunkDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type crawlRequest struct {
	UserLat    float64 `json:"userLat"`
	UserLng    float64 `json:"userLng"`
	MarketLat  float64 `json:"marketLat"`
	MarketLng  float64 `json:"marketLng"`
	MarketName string  `json:"marketName,omitempty"`
}

// Resolve asks the API for one route through POST /route/crawl.
// Invalid coordinates fail locally without a request.
func (c *Client) Resolve(ctx context.Context, query models.RouteQuery) (*models.RouteResult, error) {
	if err := query.Validate(); err != nil {
		return nil, services.ErrInvalidCoordinates.Wrap(err)
	}

	var result models.RouteResult
	err := c.do(ctx, http.MethodPost, "/route/crawl", crawlRequest{
		UserLat:    query.Origin.Lat,
		UserLng:    query.Origin.Lng,
		MarketLat:  query.Destination.Lat,
		MarketLng:  query.Destination.Lng,
		MarketName: query.Label,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// CrawlMarkets resolves the route to every market, a few at a time, and
// returns one outcome per market id
func (c *Client) CrawlMarkets(ctx context.Context, origin models.Coordinate, markets []models.Market) (models.BatchResult, error) {
	req := models.BatchRequest{Items: make([]models.BatchItem, len(markets))}
	for i, m := range markets {
		req.Items[i] = models.BatchItem{
			ID:    m.ID,
			Query: models.NewRouteQuery(origin, m.Location, m.Name),
		}
	}

	scheduler := routing.NewScheduler(c, c.clock, c.logger, c.chunkSize, c.chunkDelay)
	return scheduler.Run(ctx, req)
}

// ProviderInfo mirrors one entry of GET /route/providers
type ProviderInfo struct {
	Name      string `json:"name"`
	Accuracy  int    `json:"accuracy"`
	TimeoutMs int64  `json:"timeoutMs"`
}

// ProvidersInfo is the body of GET /route/providers
type ProvidersInfo struct {
	Providers []ProviderInfo `json:"providers"`
	Fallback  struct {
		Service  string  `json:"service"`
		Accuracy int     `json:"accuracy"`
		SpeedKmh float64 `json:"speedKmh"`
	} `json:"fallback"`
	Cache *routing.CacheStats `json:"cache,omitempty"`
}

// Providers lists the resolution chain configured on the server
func (c *Client) Providers(ctx context.Context) (*ProvidersInfo, error) {
	var info ProvidersInfo
	if err := c.do(ctx, http.MethodGet, "/route/providers", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var env envelope
		if json.Unmarshal(raw, &env) == nil && env.Error != "" {
			apiErr.Message = env.Error
			apiErr.Code = env.Code
		}
		c.logger.Debug("route api error",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("code", apiErr.Code))
		return apiErr
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}
