package ports

import (
	"context"
	"time"

	"github.com/99minutos/portal-auth/internal/core/domain"
)

// AuthEventInput is the DTO passed from the session listener to AuditService.
type AuthEventInput struct {
	Event     domain.AuthChangeEvent
	UserID    string
	Email     string
	SessionID string
	Timestamp time.Time
}

// AuditRepository persists auth transitions.
type AuditRepository interface {
	InsertEvent(ctx context.Context, event *domain.AuthAuditEvent) error
	// ListRecent returns up to limit events, newest first. An empty userID
	// means all users.
	ListRecent(ctx context.Context, userID string, limit int) ([]*domain.AuthAuditEvent, error)
}

// AuditService records auth transitions.
type AuditService interface {
	Process(ctx context.Context, event AuthEventInput) error
	Recent(ctx context.Context, userID string, limit int) ([]*domain.AuthAuditEvent, error)
}
