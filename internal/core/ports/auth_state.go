package ports

import (
	"context"

	"github.com/99minutos/portal-auth/internal/core/domain"
)

// AuthStateReader is the read accessor handed to UI consumers.
type AuthStateReader interface {
	Snapshot() domain.State
	// Subscribe calls fn with a fresh snapshot after every change.
	Subscribe(fn func(domain.State)) (unsubscribe func())
	// WaitContext blocks until pending role/profile/department fetches settle.
	WaitContext(ctx context.Context) error
	SignOut(ctx context.Context) error
}
