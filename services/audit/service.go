package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/upb/market-routes/models"
	"github.com/upb/market-routes/repositories"
	"github.com/upb/market-routes/services"
	"go.uber.org/zap"
)

var (
	// ErrNotStarted is returned when logging before Start or after Stop
	ErrNotStarted = errors.New("resolution log not started")

	// ErrBufferFull is returned when the event was dropped
	ErrBufferFull = errors.New("resolution log buffer full")
)

// Service persists resolution logs asynchronously through a worker pool.
// It satisfies routing.Recorder.
type Service struct {
	repo        repositories.ResolutionRepository
	logger      *zap.Logger
	eventChan   chan *models.ResolutionLog
	workerCount int
	bufferSize  int
	timeout     time.Duration
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc

	// mu guards started/stopped; senders hold it for reading so Stop can
	// close eventChan safely
	mu      sync.RWMutex
	started bool
	stopped bool

	written atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// Config holds configuration for the Service
type Config struct {
	BufferSize   int           // Size of the event buffer channel
	WorkerCount  int           // Number of concurrent workers
	WriteTimeout time.Duration // Per-insert timeout
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:   1000,
		WorkerCount:  2,
		WriteTimeout: 5 * time.Second,
	}
}

// NewService creates a new Service instance
func NewService(repo repositories.ResolutionRepository, logger *zap.Logger, config Config) *Service {
	defaults := DefaultConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		repo:        repo,
		logger:      logger,
		eventChan:   make(chan *models.ResolutionLog, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		timeout:     config.WriteTimeout,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the background workers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("resolution log already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started resolution log",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop gracefully stops the service.
// Waits for pending entries to be written or for the timeout to elapse.
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.stopped = true
	s.logger.Info("stopping resolution log", zap.Int("pending_events", len(s.eventChan)))
	close(s.eventChan)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("resolution log stopped gracefully")
		s.cancel()
		return nil
	case <-time.After(timeout):
		s.cancel()
		return fmt.Errorf("resolution log stop timeout after %v", timeout)
	}
}

// Record queues an entry without blocking; a full buffer drops it.
func (s *Service) Record(entry *models.ResolutionLog) {
	_ = s.LogEvent(entry)
}

// LogEvent logs an entry asynchronously (non-blocking)
func (s *Service) LogEvent(entry *models.ResolutionLog) error {
	if entry == nil {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.stopped {
		return ErrNotStarted
	}

	select {
	case s.eventChan <- entry:
		return nil
	default:
		s.dropped.Add(1)
		s.logger.Warn("resolution log channel full, dropping entry",
			zap.String("service", entry.Service),
			zap.String("request_id", entry.RequestID))
		return ErrBufferFull
	}
}

// LogEventBlocking waits until the entry is queued or ctx is done
func (s *Service) LogEventBlocking(ctx context.Context, entry *models.ResolutionLog) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.stopped {
		return ErrNotStarted
	}

	select {
	case s.eventChan <- entry:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrNotStarted
	}
}

func (s *Service) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("resolution log worker started", zap.Int("worker_id", id))

	for entry := range s.eventChan {
		if err := s.processEvent(entry); err != nil {
			s.failed.Add(1)
			s.logger.Error("failed to write resolution log",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("id", entry.ID.String()),
				zap.String("service", entry.Service))
			continue
		}
		s.written.Add(1)
	}

	s.logger.Debug("resolution log worker stopped", zap.Int("worker_id", id))
}

func (s *Service) processEvent(entry *models.ResolutionLog) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.repo.Insert(ctx, entry); err != nil {
		return fmt.Errorf("failed to insert resolution log: %w", err)
	}
	return nil
}

// Prune deletes entries older than the retention window
func (s *Service) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %v", retention)
	}
	return s.repo.DeleteOlderThan(ctx, time.Now().Add(-retention))
}

// Recent returns the newest persisted entries
func (s *Service) Recent(ctx context.Context, limit, offset int) ([]*models.ResolutionLog, error) {
	return s.repo.ListRecent(ctx, limit, offset)
}

// Get returns one persisted entry
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.ResolutionLog, error) {
	log, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repositories.ErrResolutionNotFound) {
		return nil, services.ErrResolutionNotFound.Wrap(err)
	}
	return log, err
}

// ServiceCounts returns how many resolutions each service answered since the given time
func (s *Service) ServiceCounts(ctx context.Context, since time.Time) (map[string]int, error) {
	return s.repo.CountByService(ctx, since)
}

// GetStats returns statistics about the service
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started && !s.stopped,
		Written:       s.written.Load(),
		Failed:        s.failed.Load(),
		Dropped:       s.dropped.Load(),
	}
}

// Stats represents resolution log statistics
type Stats struct {
	BufferSize    int   `json:"buffer_size"`
	PendingEvents int   `json:"pending_events"`
	WorkerCount   int   `json:"worker_count"`
	Started       bool  `json:"started"`
	Written       int64 `json:"written"`
	Failed        int64 `json:"failed"`
	Dropped       int64 `json:"dropped"`
}
