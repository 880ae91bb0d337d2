package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/market-routes/models"
	"github.com/upb/market-routes/services/providers"
	"github.com/upb/market-routes/services/routing"
	"github.com/upb/market-routes/utils"
	"go.uber.org/zap"
)

const maxResolutionLog = 500

// BatchResolver resolves many queries with chunk pacing
type BatchResolver interface {
	ResolveBatch(ctx context.Context, req models.BatchRequest, chunkSize int, interChunkDelay time.Duration) (models.BatchResult, error)
	ChunkSize() int
	InterChunkDelay() time.Duration
}

// MarketRanker orders markets by route distance
type MarketRanker interface {
	RankWithin(ctx context.Context, origin models.Coordinate, markets []models.Market, radiusMeters float64, limit int) ([]models.RankedMarket, error)
}

// ProviderCatalog exposes the configured resolution chain
type ProviderCatalog interface {
	Descriptors() []providers.Descriptor
	FallbackTier() int
	FallbackSpeedKmh() float64
}

// CacheReporter exposes route cache statistics
type CacheReporter interface {
	Stats() routing.CacheStats
}

// ResolutionLog reads back persisted resolutions
type ResolutionLog interface {
	Recent(ctx context.Context, limit, offset int) ([]*models.ResolutionLog, error)
	Get(ctx context.Context, id uuid.UUID) (*models.ResolutionLog, error)
	ServiceCounts(ctx context.Context, since time.Time) (map[string]int, error)
}

// RouteServices groups what the route endpoints depend on.
// Cache and Log are optional.
type RouteServices struct {
	Resolver routing.RouteResolver
	Batches  BatchResolver
	Ranker   MarketRanker
	Catalog  ProviderCatalog
	Cache    CacheReporter
	Log      ResolutionLog
}

// RouteHandler handles route resolution HTTP requests
type RouteHandler struct {
	svc    RouteServices
	logger *zap.Logger
}

// NewRouteHandler creates a new RouteHandler
func NewRouteHandler(svc RouteServices, logger *zap.Logger) *RouteHandler {
	return &RouteHandler{svc: svc, logger: logger}
}

// CrawlRequest is the body of POST /route/crawl
type CrawlRequest struct {
	UserLat    *float64 `json:"userLat" validate:"required,latitude"`
	UserLng    *float64 `json:"userLng" validate:"required,longitude"`
	MarketLat  *float64 `json:"marketLat" validate:"required,latitude"`
	MarketLng  *float64 `json:"marketLng" validate:"required,longitude"`
	MarketName string   `json:"marketName" validate:"max=200"`
}

// Query converts the request into a route query
func (r CrawlRequest) Query() models.RouteQuery {
	return models.NewRouteQuery(
		models.Coordinate{Lat: *r.UserLat, Lng: *r.UserLng},
		models.Coordinate{Lat: *r.MarketLat, Lng: *r.MarketLng},
		r.MarketName,
	)
}

// MarketPayload is one market in batch and nearby requests.
// Coordinate ranges are checked per item by the resolver, not here.
type MarketPayload struct {
	ID   string   `json:"id" validate:"required"`
	Name string   `json:"name"`
	Lat  *float64 `json:"lat" validate:"required"`
	Lng  *float64 `json:"lng" validate:"required"`
}

func (m MarketPayload) market() models.Market {
	return models.Market{
		ID:       m.ID,
		Name:     m.Name,
		Location: models.Coordinate{Lat: *m.Lat, Lng: *m.Lng},
	}
}

// BatchRouteRequest is the body of POST /route/batch
type BatchRouteRequest struct {
	UserLat           *float64        `json:"userLat" validate:"required,latitude"`
	UserLng           *float64        `json:"userLng" validate:"required,longitude"`
	Markets           []MarketPayload `json:"markets" validate:"required,min=1,max=200,dive"`
	ChunkSize         *int            `json:"chunkSize,omitempty" validate:"omitempty,gte=1,lte=50"`
	InterChunkDelayMs *int            `json:"interChunkDelayMs,omitempty" validate:"omitempty,gte=0,lte=60000"`
}

// NearbyRequest is the body of POST /route/nearby
type NearbyRequest struct {
	UserLat      *float64        `json:"userLat" validate:"required,latitude"`
	UserLng      *float64        `json:"userLng" validate:"required,longitude"`
	Limit        int             `json:"limit,omitempty" validate:"gte=0,lte=100"`
	RadiusMeters float64         `json:"radiusMeters,omitempty" validate:"gte=0"`
	Markets      []MarketPayload `json:"markets" validate:"max=1000,dive"`
}

// HandleCrawl handles POST /route/crawl
func (h *RouteHandler) HandleCrawl(w http.ResponseWriter, r *http.Request) {
	var req CrawlRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	h.crawl(w, r, req)
}

// HandleCrawlQuery handles GET /route/crawl with the same fields as query parameters
func (h *RouteHandler) HandleCrawlQuery(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()

	var req CrawlRequest
	var err error
	for _, p := range []struct {
		name string
		dst  **float64
	}{
		{"userLat", &req.UserLat},
		{"userLng", &req.UserLng},
		{"marketLat", &req.MarketLat},
		{"marketLng", &req.MarketLng},
	} {
		if *p.dst, err = utils.ParseFloatParam(values, p.name); err != nil {
			HandleValidationError(w, err, h.logger)
			return
		}
	}
	req.MarketName = values.Get("marketName")

	h.crawl(w, r, req)
}

func (h *RouteHandler) crawl(w http.ResponseWriter, r *http.Request, req CrawlRequest) {
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	result, err := h.svc.Resolver.Resolve(r.Context(), req.Query())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, result)
}

// HandleBatch handles POST /route/batch
func (h *RouteHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRouteRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	origin := models.Coordinate{Lat: *req.UserLat, Lng: *req.UserLng}
	batch := models.BatchRequest{Items: make([]models.BatchItem, len(req.Markets))}
	for i, m := range req.Markets {
		market := m.market()
		batch.Items[i] = models.BatchItem{
			ID:    market.ID,
			Query: models.NewRouteQuery(origin, market.Location, market.Name),
		}
	}

	chunkSize := h.svc.Batches.ChunkSize()
	if req.ChunkSize != nil {
		chunkSize = *req.ChunkSize
	}
	delay := h.svc.Batches.InterChunkDelay()
	if req.InterChunkDelayMs != nil {
		delay = time.Duration(*req.InterChunkDelayMs) * time.Millisecond
	}

	results, err := h.svc.Batches.ResolveBatch(r.Context(), batch, chunkSize, delay)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, results)
}

// HandleNearby handles POST /route/nearby
func (h *RouteHandler) HandleNearby(w http.ResponseWriter, r *http.Request) {
	var req NearbyRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	markets := make([]models.Market, len(req.Markets))
	for i, m := range req.Markets {
		markets[i] = m.market()
	}

	origin := models.Coordinate{Lat: *req.UserLat, Lng: *req.UserLng}
	ranked, err := h.svc.Ranker.RankWithin(r.Context(), origin, markets, req.RadiusMeters, req.Limit)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, ranked)
}

// ProviderInfo describes one entry of the resolution chain
type ProviderInfo struct {
	Name      string `json:"name"`
	Accuracy  int    `json:"accuracy"`
	TimeoutMs int64  `json:"timeoutMs"`
}

// FallbackInfo describes the local estimator
type FallbackInfo struct {
	Service  string  `json:"service"`
	Accuracy int     `json:"accuracy"`
	SpeedKmh float64 `json:"speedKmh"`
}

// ProvidersResponse is the body of GET /route/providers
type ProvidersResponse struct {
	Providers []ProviderInfo      `json:"providers"`
	Fallback  FallbackInfo        `json:"fallback"`
	Cache     *routing.CacheStats `json:"cache,omitempty"`
	Batch     map[string]int64    `json:"batch"`
}

// HandleProviders handles GET /route/providers
func (h *RouteHandler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	descriptors := h.svc.Catalog.Descriptors()

	response := ProvidersResponse{
		Providers: make([]ProviderInfo, len(descriptors)),
		Fallback: FallbackInfo{
			Service:  models.FallbackService,
			Accuracy: h.svc.Catalog.FallbackTier(),
			SpeedKmh: h.svc.Catalog.FallbackSpeedKmh(),
		},
		Batch: map[string]int64{
			"chunkSize":         int64(h.svc.Batches.ChunkSize()),
			"interChunkDelayMs": h.svc.Batches.InterChunkDelay().Milliseconds(),
		},
	}
	for i, d := range descriptors {
		response.Providers[i] = ProviderInfo{
			Name:      d.Name(),
			Accuracy:  d.Tier,
			TimeoutMs: d.Timeout.Milliseconds(),
		}
	}
	if h.svc.Cache != nil {
		stats := h.svc.Cache.Stats()
		response.Cache = &stats
	}

	_ = utils.WriteOK(w, response)
}

// HandleResolutions handles GET /route/resolutions?limit=&offset=
func (h *RouteHandler) HandleResolutions(w http.ResponseWriter, r *http.Request) {
	if h.svc.Log == nil {
		_ = utils.WriteNotFound(w, "resolution log is disabled")
		return
	}

	values := r.URL.Query()
	limit, err := utils.ParseIntParam(values, "limit", 50)
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	offset, err := utils.ParseIntParam(values, "offset", 0)
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if limit < 1 || limit > maxResolutionLog || offset < 0 {
		_ = utils.WriteBadRequest(w, "limit must be in [1, 500] and offset must not be negative", nil)
		return
	}

	logs, err := h.svc.Log.Recent(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list resolutions", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "failed to list resolutions")
		return
	}

	_ = utils.WriteOK(w, logs)
}

// HandleResolution handles GET /route/resolutions/{id}
func (h *RouteHandler) HandleResolution(w http.ResponseWriter, r *http.Request) {
	if h.svc.Log == nil {
		_ = utils.WriteNotFound(w, "resolution log is disabled")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "id must be a UUID", nil)
		return
	}

	entry, err := h.svc.Log.Get(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, entry)
}

// HandleResolutionStats handles GET /route/resolutions/stats?window=24h
func (h *RouteHandler) HandleResolutionStats(w http.ResponseWriter, r *http.Request) {
	if h.svc.Log == nil {
		_ = utils.WriteNotFound(w, "resolution log is disabled")
		return
	}

	window := 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			_ = utils.WriteBadRequest(w, "window must be a positive duration such as 24h", nil)
			return
		}
		window = parsed
	}

	counts, err := h.svc.Log.ServiceCounts(r.Context(), time.Now().Add(-window))
	if err != nil {
		h.logger.Error("failed to count resolutions", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "failed to count resolutions")
		return
	}

	_ = utils.WriteOK(w, map[string]interface{}{
		"window":   window.String(),
		"services": counts,
	})
}
