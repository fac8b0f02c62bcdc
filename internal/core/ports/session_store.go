package ports

import (
	"context"

	"github.com/99minutos/portal-auth/internal/core/domain"
)

// SessionStore persists the current session between process restarts.
// Load returns (nil, nil) when nothing is stored.
type SessionStore interface {
	Save(ctx context.Context, key string, session *domain.Session) error
	Load(ctx context.Context, key string) (*domain.Session, error)
	Delete(ctx context.Context, key string) error
}
