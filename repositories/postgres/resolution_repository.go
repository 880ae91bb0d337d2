package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/market-routes/models"
	"github.com/upb/market-routes/repositories"
	"go.uber.org/zap"
)

const resolutionColumns = `id, request_id, label, origin_lat, origin_lng, destination_lat, destination_lng,
		service, accuracy, fallback, distance_meters, duration_seconds, failed_providers, latency_ms, created_at`

// ResolutionRepository implements the repositories.ResolutionRepository interface
type ResolutionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewResolutionRepository creates a new resolution log repository
func NewResolutionRepository(db *DB, logger *zap.Logger) repositories.ResolutionRepository {
	return &ResolutionRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new resolution log entry
func (r *ResolutionRepository) Insert(ctx context.Context, log *models.ResolutionLog) error {
	query := `
		INSERT INTO route_resolutions (` + resolutionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	failed := log.FailedProviders
	if len(failed) == 0 {
		failed = json.RawMessage(`{}`)
	}

	_, err := r.db.ExecContext(ctx, query,
		log.ID,
		log.RequestID,
		log.Label,
		log.OriginLat,
		log.OriginLng,
		log.DestinationLat,
		log.DestinationLng,
		log.Service,
		log.Accuracy,
		log.Fallback,
		log.DistanceMeters,
		log.DurationSeconds,
		string(failed),
		log.LatencyMs,
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert resolution log: %w", err)
	}

	r.logger.Debug("resolution log inserted",
		zap.String("id", log.ID.String()),
		zap.String("service", log.Service))
	return nil
}

// GetByID retrieves a resolution log by ID
func (r *ResolutionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ResolutionLog, error) {
	query := `SELECT ` + resolutionColumns + ` FROM route_resolutions WHERE id = $1`

	log, err := scanResolution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", repositories.ErrResolutionNotFound, id)
		}
		return nil, fmt.Errorf("failed to get resolution log: %w", err)
	}
	return log, nil
}

// ListRecent retrieves the newest resolution logs with pagination
func (r *ResolutionRepository) ListRecent(ctx context.Context, limit, offset int) ([]*models.ResolutionLog, error) {
	query := `
		SELECT ` + resolutionColumns + `
		FROM route_resolutions
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list resolution logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*models.ResolutionLog, 0, limit)
	for rows.Next() {
		log, err := scanResolution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resolution log: %w", err)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resolution logs: %w", err)
	}

	return logs, nil
}

// CountByService counts resolutions per answering service since the given time
func (r *ResolutionRepository) CountByService(ctx context.Context, since time.Time) (map[string]int, error) {
	query := `
		SELECT service, COUNT(*)
		FROM route_resolutions
		WHERE created_at >= $1
		GROUP BY service
	`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count resolutions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var service string
		var count int
		if err := rows.Scan(&service, &count); err != nil {
			return nil, fmt.Errorf("failed to scan resolution count: %w", err)
		}
		counts[service] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resolution counts: %w", err)
	}

	return counts, nil
}

// DeleteOlderThan removes entries created before the cutoff
func (r *ResolutionRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM route_resolutions WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune resolution logs: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	r.logger.Info("pruned resolution logs", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResolution(row rowScanner) (*models.ResolutionLog, error) {
	var (
		log       models.ResolutionLog
		requestID sql.NullString
		label     sql.NullString
		failed    []byte
		latency   sql.NullInt64
	)

	err := row.Scan(
		&log.ID,
		&requestID,
		&label,
		&log.OriginLat,
		&log.OriginLng,
		&log.DestinationLat,
		&log.DestinationLng,
		&log.Service,
		&log.Accuracy,
		&log.Fallback,
		&log.DistanceMeters,
		&log.DurationSeconds,
		&failed,
		&latency,
		&log.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	log.RequestID = requestID.String
	log.Label = label.String
	log.LatencyMs = int(latency.Int64)
	if len(failed) > 0 {
		log.FailedProviders = append(json.RawMessage(nil), failed...)
	}
	return &log, nil
}
