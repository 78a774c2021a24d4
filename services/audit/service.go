package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/upb/auth0-gateway/models"
	"github.com/upb/auth0-gateway/repositories"
	"go.uber.org/zap"
)

// Recorder accepts authentication events. Record never blocks the request path.
type Recorder interface {
	Record(event *models.AuthEvent)
}

// NopRecorder discards events. Used when the audit trail is disabled.
type NopRecorder struct{}

// Record implements Recorder
func (NopRecorder) Record(*models.AuthEvent) {}

// Service writes authentication events asynchronously through a worker pool
type Service struct {
	repo        repositories.AuthEventRepository
	logger      *zap.Logger
	eventChan   chan *models.AuthEvent
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool

	dropped   atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
}

// Config holds configuration for the Service
type Config struct {
	BufferSize  int
	WorkerCount int
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1000,
		WorkerCount: 4,
	}
}

// NewService creates a new Service instance
func NewService(repo repositories.AuthEventRepository, logger *zap.Logger, config Config) *Service {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}

	return &Service{
		repo:        repo,
		logger:      logger,
		eventChan:   make(chan *models.AuthEvent, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
	}
}

// Start starts the background workers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop stops accepting events and waits for queued events to be written
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// Record queues an event. When the buffer is full, or the service is not
// running, the event is dropped and logged.
func (s *Service) Record(event *models.AuthEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.stopped {
		s.drop(event, "audit service not running")
		return
	}

	select {
	case s.eventChan <- event:
	default:
		s.drop(event, "audit event channel full, dropping event")
	}
}

func (s *Service) drop(event *models.AuthEvent, msg string) {
	s.dropped.Add(1)
	s.logger.Warn(msg,
		zap.String("request_id", event.RequestID),
		zap.String("reason", event.Reason))
}

func (s *Service) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for event := range s.eventChan {
		if err := s.processEvent(event); err != nil {
			s.failed.Add(1)
			s.logger.Error("failed to process audit event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("request_id", event.RequestID),
				zap.String("reason", event.Reason))
			continue
		}
		s.processed.Add(1)
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

func (s *Service) processEvent(event *models.AuthEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.repo.Insert(ctx, event); err != nil {
		return fmt.Errorf("failed to insert auth event: %w", err)
	}
	return nil
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize      int   `json:"buffer_size"`
	PendingEvents   int   `json:"pending_events"`
	WorkerCount     int   `json:"worker_count"`
	Started         bool  `json:"started"`
	ProcessedEvents int64 `json:"processed_events"`
	FailedEvents    int64 `json:"failed_events"`
	DroppedEvents   int64 `json:"dropped_events"`
}

// GetStats returns statistics about the audit service
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	started := s.started && !s.stopped
	s.mu.RUnlock()

	return Stats{
		BufferSize:      s.bufferSize,
		PendingEvents:   len(s.eventChan),
		WorkerCount:     s.workerCount,
		Started:         started,
		ProcessedEvents: s.processed.Load(),
		FailedEvents:    s.failed.Load(),
		DroppedEvents:   s.dropped.Load(),
	}
}
