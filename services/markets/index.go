// Package markets ranks caller-supplied markets by route distance from a user.
package markets

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/dhconnelly/rtreego"

	"github.com/upb/market-routes/models"
	"github.com/upb/market-routes/services/routing"
)

const (
	tolerance   = 1e-6
	minChildren = 25
	maxChildren = 50
	dimensions  = 2

	metersPerDegree = 111320.0
)

// spatialMarket wraps a market for R-tree indexing
type spatialMarket struct {
	market models.Market
	rect   *rtreego.Rect
}

func (s *spatialMarket) Bounds() *rtreego.Rect {
	return s.rect
}

// Index is a thread-safe R-tree over market locations (lat, lng axes)
type Index struct {
	tree  *rtreego.Rtree
	items map[string]*spatialMarket
	mu    sync.RWMutex
}

// NewIndex creates an empty index
func NewIndex() *Index {
	return &Index{
		tree:  rtreego.NewTree(dimensions, minChildren, maxChildren),
		items: make(map[string]*spatialMarket),
	}
}

// BuildIndex indexes all markets, rejecting invalid locations and duplicate ids
func BuildIndex(markets []models.Market) (*Index, error) {
	idx := NewIndex()
	for _, m := range markets {
		if err := idx.Insert(m); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// Insert adds a market to the index
func (i *Index) Insert(m models.Market) error {
	if m.ID == "" {
		return fmt.Errorf("market %q has an empty identifier", m.Name)
	}
	if err := m.Location.Validate(); err != nil {
		return fmt.Errorf("market %s: %w", m.ID, err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if _, exists := i.items[m.ID]; exists {
		return fmt.Errorf("duplicate market identifier %q", m.ID)
	}

	item := &spatialMarket{
		market: m,
		rect:   rtreego.Point{m.Location.Lat, m.Location.Lng}.ToRect(tolerance),
	}
	i.tree.Insert(item)
	i.items[m.ID] = item
	return nil
}

// Remove deletes a market by id and reports whether it was present
func (i *Index) Remove(id string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	item, ok := i.items[id]
	if !ok {
		return false
	}
	i.tree.Delete(item)
	delete(i.items, id)
	return true
}

// Len returns the number of indexed markets
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.items)
}

// Nearest returns up to k markets closest to origin, nearest first.
// The tree preselects in degree space; the final order uses great-circle distance.
func (i *Index) Nearest(origin models.Coordinate, k int) []models.Market {
	if k <= 0 {
		return nil
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	if len(i.items) == 0 {
		return nil
	}

	// widen the candidate set a little so the degree-space metric does not
	// cut off markets that are closer on the sphere
	want := k * 2
	if want > len(i.items) {
		want = len(i.items)
	}

	results := i.tree.NearestNeighbors(want, rtreego.Point{origin.Lat, origin.Lng})
	candidates := make([]models.Market, 0, len(results))
	for _, r := range results {
		if item, ok := r.(*spatialMarket); ok && item != nil {
			candidates = append(candidates, item.market)
		}
	}

	sortByDistance(origin, candidates)
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}

// Within returns all markets inside radiusMeters of origin, nearest first
func (i *Index) Within(origin models.Coordinate, radiusMeters float64) ([]models.Market, error) {
	if radiusMeters <= 0 || math.IsNaN(radiusMeters) || math.IsInf(radiusMeters, 0) {
		return nil, fmt.Errorf("radius must be a positive number, got %v", radiusMeters)
	}

	dLat := radiusMeters / metersPerDegree
	var results []rtreego.Spatial

	i.mu.RLock()
	for _, span := range longitudeSpans(origin, dLat, radiusMeters) {
		bounds, err := rtreego.NewRect(
			rtreego.Point{origin.Lat - dLat, span[0]},
			[]float64{2 * dLat, span[1] - span[0]},
		)
		if err != nil {
			i.mu.RUnlock()
			return nil, fmt.Errorf("invalid radius search: %w", err)
		}
		results = append(results, i.tree.SearchIntersect(bounds)...)
	}
	i.mu.RUnlock()

	seen := make(map[string]struct{}, len(results))
	markets := make([]models.Market, 0, len(results))
	for _, r := range results {
		item, ok := r.(*spatialMarket)
		if !ok || item == nil {
			continue
		}
		if _, dup := seen[item.market.ID]; dup {
			continue
		}
		seen[item.market.ID] = struct{}{}
		if routing.Haversine(origin, item.market.Location) <= radiusMeters {
			markets = append(markets, item.market)
		}
	}

	sortByDistance(origin, markets)
	return markets, nil
}

// longitudeSpans returns the [min, max] longitude ranges covering radiusMeters
// around origin. A window crossing the antimeridian is split in two; one
// reaching a pole covers every longitude.
func longitudeSpans(origin models.Coordinate, dLat, radiusMeters float64) [][2]float64 {
	full := [][2]float64{{-180 - tolerance, 180 + tolerance}}
	if origin.Lat+dLat >= 90 || origin.Lat-dLat <= -90 {
		return full
	}
	cos := math.Cos(origin.Lat * math.Pi / 180)
	if cos <= 1e-9 {
		return full
	}
	dLng := radiusMeters / (metersPerDegree * cos)
	if dLng >= 180 {
		return full
	}

	lo, hi := origin.Lng-dLng, origin.Lng+dLng
	switch {
	case lo < -180:
		return [][2]float64{{lo + 360, 180 + tolerance}, {-180 - tolerance, hi}}
	case hi > 180:
		return [][2]float64{{lo, 180 + tolerance}, {-180 - tolerance, hi - 360}}
	default:
		return [][2]float64{{lo, hi}}
	}
}

func sortByDistance(origin models.Coordinate, markets []models.Market) {
	sort.SliceStable(markets, func(a, b int) bool {
		da := routing.Haversine(origin, markets[a].Location)
		db := routing.Haversine(origin, markets[b].Location)
		if da != db {
			return da < db
		}
		return markets[a].ID < markets[b].ID
	})
}
