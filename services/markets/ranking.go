package markets

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/upb/market-routes/models"
	"github.com/upb/market-routes/services"
)

// BatchRunner resolves a batch of route queries; routing.Scheduler satisfies it
type BatchRunner interface {
	Run(ctx context.Context, req models.BatchRequest) (models.BatchResult, error)
}

// Ranker orders markets by route distance from a user
type Ranker struct {
	batches BatchRunner
	logger  *zap.Logger
}

// NewRanker creates a ranker over the given batch runner
func NewRanker(batches BatchRunner, logger *zap.Logger) *Ranker {
	return &Ranker{batches: batches, logger: logger}
}

// Rank resolves routes to the limit nearest markets (all of them when limit <= 0)
// and returns them sorted by route distance, unresolved markets last.
func (r *Ranker) Rank(ctx context.Context, origin models.Coordinate, markets []models.Market, limit int) ([]models.RankedMarket, error) {
	return r.RankWithin(ctx, origin, markets, 0, limit)
}

// RankWithin is Rank restricted to markets within radiusMeters straight-line
// distance; a radius <= 0 disables the restriction.
func (r *Ranker) RankWithin(ctx context.Context, origin models.Coordinate, markets []models.Market, radiusMeters float64, limit int) ([]models.RankedMarket, error) {
	if err := origin.Validate(); err != nil {
		return nil, services.ErrInvalidCoordinates.Wrap(err)
	}

	idx, err := BuildIndex(markets)
	if err != nil {
		return nil, services.ErrInvalidBatch.Wrap(err)
	}

	candidates := markets
	if radiusMeters > 0 {
		if candidates, err = idx.Within(origin, radiusMeters); err != nil {
			return nil, services.WrapValidation("invalid search radius", err)
		}
		if limit > 0 && len(candidates) > limit {
			candidates = candidates[:limit]
		}
	} else if limit > 0 && limit < len(markets) {
		candidates = idx.Nearest(origin, limit)
	}

	if len(candidates) == 0 {
		return []models.RankedMarket{}, nil
	}

	req := models.BatchRequest{Items: make([]models.BatchItem, len(candidates))}
	for i, m := range candidates {
		req.Items[i] = models.BatchItem{
			ID:    m.ID,
			Query: models.NewRouteQuery(origin, m.Location, m.Name),
		}
	}

	results, err := r.batches.Run(ctx, req)
	if err != nil {
		return nil, err
	}

	ranked := make([]models.RankedMarket, len(candidates))
	for i, m := range candidates {
		ranked[i] = models.RankedMarket{Market: m}
		outcome := results[m.ID]
		if outcome.Err != nil {
			ranked[i].Error = outcome.Err.Error()
			continue
		}
		ranked[i].Route = outcome.Result
	}

	sortRanked(ranked)

	r.logger.Debug("ranked markets",
		zap.Int("candidates", len(candidates)),
		zap.Int("total", len(markets)))

	return ranked, nil
}

func sortRanked(ranked []models.RankedMarket) {
	sort.SliceStable(ranked, func(a, b int) bool {
		ra, rb := ranked[a].Route, ranked[b].Route
		switch {
		case ra == nil && rb == nil:
			return ranked[a].ID < ranked[b].ID
		case ra == nil:
			return false
		case rb == nil:
			return true
		case ra.DistanceMeters != rb.DistanceMeters:
			return ra.DistanceMeters < rb.DistanceMeters
		case ra.DurationSeconds != rb.DurationSeconds:
			return ra.DurationSeconds < rb.DurationSeconds
		default:
			return ranked[a].ID < ranked[b].ID
		}
	})
}
