package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/market-routes/models"
)

// ErrResolutionNotFound is returned by GetByID when no row matches
var ErrResolutionNotFound = errors.New("resolution log not found")

// ResolutionRepository handles route resolution log operations
type ResolutionRepository interface {
	// Insert inserts a new resolution log entry
	Insert(ctx context.Context, log *models.ResolutionLog) error

	// GetByID retrieves a resolution log by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.ResolutionLog, error)

	// ListRecent retrieves the newest resolution logs with pagination
	ListRecent(ctx context.Context, limit, offset int) ([]*models.ResolutionLog, error)

	// CountByService counts resolutions per answering service since the given time
	CountByService(ctx context.Context, since time.Time) (map[string]int, error)

	// DeleteOlderThan removes entries created before the cutoff and returns how many were removed
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Resolutions ResolutionRepository
}
