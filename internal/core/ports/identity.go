package ports

import (
	"context"

	"github.com/99minutos/portal-auth/internal/core/domain"
)

// SessionListener receives every session transition reported by the backend.
// A nil session means signed out.
type SessionListener func(event domain.AuthChangeEvent, session *domain.Session)

// IdentityProvider is the auth half of the managed backend.
type IdentityProvider interface {
	// OnAuthStateChange registers listener and returns a func that removes it.
	OnAuthStateChange(listener SessionListener) (unsubscribe func())
	GetSession(ctx context.Context) (*domain.Session, error)
	// GetUser fetches the current user, including its metadata, from the backend.
	GetUser(ctx context.Context) (*domain.User, error)
	SignOut(ctx context.Context) error
}

// UserDataSource reads the auxiliary per-user data kept in the backend database.
type UserDataSource interface {
	FetchRole(ctx context.Context, userID string) (domain.Role, error)
	FetchProfile(ctx context.Context, userID string) (*domain.Profile, error)
}

// Backend is everything the auth state needs from the managed backend.
type Backend interface {
	IdentityProvider
	UserDataSource
}

// Authenticator covers the interactive session operations exposed to the UI.
type Authenticator interface {
	SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error)
	RefreshSession(ctx context.Context) (*domain.Session, error)
}
