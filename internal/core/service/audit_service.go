package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/99minutos/portal-auth/internal/api/metrics"
	"github.com/99minutos/portal-auth/internal/core/domain"
	"github.com/99minutos/portal-auth/internal/core/ports"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 200
)

// DedupChecker abstracts the idempotency store (Redis).
type DedupChecker interface {
	IsDuplicate(ctx context.Context, in ports.AuthEventInput) (bool, error)
	Mark(ctx context.Context, in ports.AuthEventInput) error
}

type auditService struct {
	repo  ports.AuditRepository
	dedup DedupChecker
	log   zerolog.Logger
	now   func() time.Time
}

// NewAuditService returns an AuditService implementation.
func NewAuditService(repo ports.AuditRepository, dedup DedupChecker, log zerolog.Logger) ports.AuditService {
	return &auditService{
		repo:  repo,
		dedup: dedup,
		log:   log.With().Str("component", "audit").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Process deduplicates and persists a single auth transition. The auth state
// may report the same transition twice (notification plus initial pull); the
// second report is skipped.
func (s *auditService) Process(ctx context.Context, in ports.AuthEventInput) error {
	if in.Event == "" {
		metrics.AuditErrorsTotal.WithLabelValues("invalid_event").Inc()
		return fmt.Errorf("process auth event: empty event name")
	}

	// 1. Idempotency check: duplicates are skipped.
	isDup, err := s.dedup.IsDuplicate(ctx, in)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", in.UserID).Msg("dedup check failed, recording anyway")
	} else if isDup {
		metrics.AuditDedupTotal.WithLabelValues("hit").Inc()
		s.log.Debug().Str("user_id", in.UserID).Str("event", string(in.Event)).Msg("duplicate auth event skipped")
		return nil
	}
	metrics.AuditDedupTotal.WithLabelValues("miss").Inc()

	// 2. Mark before writing so a concurrent duplicate is skipped.
	if markErr := s.dedup.Mark(ctx, in); markErr != nil {
		s.log.Warn().Err(markErr).Str("user_id", in.UserID).Msg("failed to set dedup key")
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	event := &domain.AuthAuditEvent{
		ID:         uuid.NewString(),
		UserID:     in.UserID,
		Email:      in.Email,
		Event:      in.Event,
		SessionID:  in.SessionID,
		OccurredAt: ts.UTC(),
	}
	if err := s.repo.InsertEvent(ctx, event); err != nil {
		metrics.AuditErrorsTotal.WithLabelValues("insert_failed").Inc()
		return fmt.Errorf("process auth event: insert: %w", err)
	}

	metrics.AuditEventsRecordedTotal.WithLabelValues(string(in.Event)).Inc()
	s.log.Info().
		Str("user_id", in.UserID).
		Str("event", string(in.Event)).
		Msg("auth event recorded")

	return nil
}

// Recent lists the newest audit events, optionally for a single user.
func (s *auditService) Recent(ctx context.Context, userID string, limit int) ([]*domain.AuthAuditEvent, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	events, err := s.repo.ListRecent(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list auth events: %w", err)
	}
	return events, nil
}
