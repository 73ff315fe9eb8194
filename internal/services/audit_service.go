package services

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sentra-auth/sentra/internal/models"
)

// EventStore is the persistence surface the audit service needs.
type EventStore interface {
	Append(ctx context.Context, event *models.SecurityEvent) error
	Query(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error)
}

// AuditService records security events without blocking the request
// path. Events go through a buffered channel to a single writer
// goroutine; when the buffer is full the event is dropped, counted,
// and still emitted to slog so the trail survives in log storage.
type AuditService struct {
	store  EventStore
	logger *slog.Logger

	ch        chan *models.SecurityEvent
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closeOnce sync.Once
}

const auditBufferSize = 256

// NewAuditService creates the service and starts its writer goroutine.
func NewAuditService(store EventStore, logger *slog.Logger) *AuditService {
	s := &AuditService{
		store:  store,
		logger: logger,
		ch:     make(chan *models.SecurityEvent, auditBufferSize),
		done:   make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run()

	return s
}

func (s *AuditService) run() {
	defer s.wg.Done()

	for {
		select {
		case event := <-s.ch:
			s.persist(event)
		case <-s.done:
			// Drain what is already buffered before exiting.
			for {
				select {
				case event := <-s.ch:
					s.persist(event)
				default:
					return
				}
			}
		}
	}
}

func (s *AuditService) persist(event *models.SecurityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.store.Append(ctx, event)
	if err == nil {
		return
	}

	// One retry for transient failures, then fall back to slog so the
	// event is not lost entirely.
	if err = s.store.Append(ctx, event); err != nil {
		s.logger.Error("failed to persist security event, logging only",
			slog.String("event_type", event.EventType),
			slog.Any("account_id", event.AccountID),
			slog.String("ip", event.IPAddress),
			slog.Any("detail", event.Detail),
			slog.Any("error", err))
	}
}

// Record enqueues a security event. It never blocks and never returns
// an error; audit failure must not fail the operation being audited.
func (s *AuditService) Record(event *models.SecurityEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = models.SeverityInfo
	}

	// Dual-write: the log line is immediate, the row is async.
	s.logger.Info("security event",
		slog.String("event_type", event.EventType),
		slog.Any("account_id", event.AccountID),
		slog.String("ip", event.IPAddress),
		slog.String("severity", event.Severity))

	select {
	case s.ch <- event:
	case <-s.done:
	default:
		s.dropped.Add(1)
		s.logger.Warn("audit buffer full, event dropped",
			slog.String("event_type", event.EventType),
			slog.Uint64("dropped_total", s.dropped.Load()))
	}
}

// RecordAuth is a convenience wrapper for the common login-path shape.
func (s *AuditService) RecordAuth(eventType string, accountID *string, ip, userAgent, severity string, detail models.EventDetail) {
	s.Record(&models.SecurityEvent{
		EventType: eventType,
		AccountID: accountID,
		IPAddress: ip,
		UserAgent: userAgent,
		Severity:  severity,
		Detail:    detail,
	})
}

// Query reads events back for reporting. Reads go straight to the
// store; only writes are buffered.
func (s *AuditService) Query(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	return s.store.Query(ctx, filter)
}

// Dropped reports how many events were discarded due to a full buffer.
func (s *AuditService) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops the writer after draining buffered events. Record calls
// after Close are logged but not persisted.
func (s *AuditService) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}
