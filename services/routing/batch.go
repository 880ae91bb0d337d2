package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/upb/market-routes/models"
	"github.com/upb/market-routes/services"
)

const (
	DefaultChunkSize       = 3
	DefaultInterChunkDelay = time.Second
)

// Scheduler resolves many queries in sequential chunks. Items inside a
// chunk run concurrently and a pause separates consecutive chunks.
type Scheduler struct {
	resolver   RouteResolver
	clock      Clock
	logger     *zap.Logger
	chunkSize  int
	chunkDelay time.Duration
}

// NewScheduler creates a scheduler. chunkSize and chunkDelay are the
// defaults used by Run; ResolveBatch takes them per call.
func NewScheduler(resolver RouteResolver, clock Clock, logger *zap.Logger, chunkSize int, chunkDelay time.Duration) *Scheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkDelay < 0 {
		chunkDelay = DefaultInterChunkDelay
	}
	return &Scheduler{
		resolver:   resolver,
		clock:      clock,
		logger:     logger,
		chunkSize:  chunkSize,
		chunkDelay: chunkDelay,
	}
}

// ChunkSize returns the default chunk size
func (s *Scheduler) ChunkSize() int {
	return s.chunkSize
}

// InterChunkDelay returns the default pause between chunks
func (s *Scheduler) InterChunkDelay() time.Duration {
	return s.chunkDelay
}

// Run resolves the batch with the scheduler defaults
func (s *Scheduler) Run(ctx context.Context, req models.BatchRequest) (models.BatchResult, error) {
	return s.ResolveBatch(ctx, req, s.chunkSize, s.chunkDelay)
}

// ResolveBatch resolves every item and returns exactly one outcome per
// identifier. chunkSize <= 0 selects DefaultChunkSize; a zero delay
// disables pacing and a negative one is rejected.
//
// When ctx is cancelled, chunks that have not started are skipped and their
// items are recorded with services.ErrBatchCancelled. A chunk that already
// started runs to completion.
func (s *Scheduler) ResolveBatch(ctx context.Context, req models.BatchRequest, chunkSize int, interChunkDelay time.Duration) (models.BatchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, services.ErrInvalidBatch.Wrap(err)
	}
	if interChunkDelay < 0 {
		return nil, services.ErrInvalidBatch.Wrap(fmt.Errorf("inter-chunk delay cannot be negative: %s", interChunkDelay))
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	chunks := partition(req.Items, chunkSize)
	results := make(models.BatchResult, len(req.Items))
	var mu sync.Mutex

	for i, chunk := range chunks {
		if i > 0 && interChunkDelay > 0 {
			if err := s.clock.Sleep(ctx, interChunkDelay); err != nil && ctx.Err() == nil {
				return nil, services.WrapInternal("inter-chunk pause failed", err)
			}
		}

		if ctx.Err() != nil {
			skipped := markCancelled(results, chunks[i:], ctx.Err())
			s.logger.Info("batch cancelled",
				zap.Int("chunks_done", i),
				zap.Int("chunks_total", len(chunks)),
				zap.Int("items_skipped", skipped),
			)
			break
		}

		s.logger.Debug("resolving chunk",
			zap.Int("chunk", i+1),
			zap.Int("chunks_total", len(chunks)),
			zap.Int("size", len(chunk)),
		)
		s.runChunk(context.WithoutCancel(ctx), chunk, results, &mu)
	}

	return results, nil
}

func (s *Scheduler) runChunk(ctx context.Context, chunk []models.BatchItem, results models.BatchResult, mu *sync.Mutex) {
	var wg sync.WaitGroup
	for _, item := range chunk {
		wg.Add(1)
		go func(item models.BatchItem) {
			defer wg.Done()

			result, err := s.resolver.Resolve(ctx, item.Query)
			if err != nil {
				s.logger.Warn("batch item failed", zap.String("id", item.ID), zap.Error(err))
			}

			mu.Lock()
			results[item.ID] = models.BatchOutcome{Result: result, Err: err}
			mu.Unlock()
		}(item)
	}
	wg.Wait()
}

func partition(items []models.BatchItem, size int) [][]models.BatchItem {
	chunks := make([][]models.BatchItem, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

func markCancelled(results models.BatchResult, chunks [][]models.BatchItem, cause error) int {
	err := services.ErrBatchCancelled.Wrap(cause)
	skipped := 0
	for _, chunk := range chunks {
		for _, item := range chunk {
			results[item.ID] = models.BatchOutcome{Err: err}
			skipped++
		}
	}
	return skipped
}

// IsCancelled reports whether an outcome was skipped by cancellation
func IsCancelled(outcome models.BatchOutcome) bool {
	return errors.Is(outcome.Err, services.ErrBatchCancelled)
}
