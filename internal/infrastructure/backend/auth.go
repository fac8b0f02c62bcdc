package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/99minutos/portal-auth/internal/api/metrics"
	"github.com/99minutos/portal-auth/internal/core/domain"
	"github.com/99minutos/portal-auth/internal/core/ports"
)

type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         *userResponse `json:"user"`
}

type userResponse struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

func (u *userResponse) toDomain() *domain.User {
	if u == nil {
		return nil
	}
	return &domain.User{ID: u.ID, Email: u.Email, Metadata: u.UserMetadata}
}

// OnAuthStateChange registers listener for every session transition.
// Listeners run synchronously on the goroutine that caused the transition.
func (c *Client) OnAuthStateChange(listener ports.SessionListener) func() {
	c.lmu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = listener
	c.lmu.Unlock()

	return func() {
		c.lmu.Lock()
		delete(c.listeners, id)
		c.lmu.Unlock()
	}
}

func (c *Client) emit(event domain.AuthChangeEvent, session *domain.Session) {
	c.lmu.Lock()
	fns := make([]ports.SessionListener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.lmu.Unlock()

	for _, fn := range fns {
		fn(event, session)
	}
}

// GetSession returns the current session, restoring it from the store on
// first use. A session about to expire is refreshed before being returned.
// (nil, nil) means signed out.
func (c *Client) GetSession(ctx context.Context) (*domain.Session, error) {
	session, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil || !session.ExpiresWithin(c.now(), c.cfg.RefreshMargin) {
		return session, nil
	}
	if session.RefreshToken == "" {
		return session, nil
	}
	return c.RefreshSession(ctx)
}

// current returns the in-memory session, restoring it once from the store.
func (c *Client) current(ctx context.Context) (*domain.Session, error) {
	c.mu.Lock()
	if c.restored || c.store == nil {
		c.restored = true
		s := c.session
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	stored, err := c.store.Load(ctx, c.cfg.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("restore session: %w", err)
	}
	if stored != nil && c.cfg.JWTSecret != "" {
		if _, err := parseAccessToken(stored.AccessToken, c.cfg.JWTSecret); err != nil {
			c.log.Warn().Err(err).Msg("discarding persisted session with invalid access token")
			c.forget(ctx)
			stored = nil
		}
	}
	if stored != nil && !stored.HasUser() {
		stored = nil
	}

	c.mu.Lock()
	if c.restored {
		// Another caller restored or replaced the session meanwhile.
		s := c.session
		c.mu.Unlock()
		return s, nil
	}
	c.restored = true
	c.session = stored
	c.mu.Unlock()

	if stored != nil {
		c.emit(domain.EventInitialSession, stored)
	}
	return stored, nil
}

// SignInWithPassword exchanges e-mail and password for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	var tr tokenResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"password"}},
		body:   map[string]string{"email": email, "password": password},
	}, &tr)
	if err != nil {
		if codeOf(err) == "invalid_grant" || codeOf(err) == "invalid_credentials" {
			return nil, fmt.Errorf("sign in: %w", domain.ErrInvalidCredentials)
		}
		return nil, fmt.Errorf("sign in: %w", err)
	}

	session := c.sessionFromToken(tr)
	if !session.HasUser() {
		return nil, errors.New("sign in: backend returned a session without a user")
	}
	c.replace(ctx, session)
	c.emit(domain.EventSignedIn, session)
	return session, nil
}

// RefreshSession trades the refresh token for a new session. When the
// backend rejects the refresh token the session is dropped and SIGNED_OUT is
// emitted.
func (c *Client) RefreshSession(ctx context.Context) (*domain.Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	current, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil || current.RefreshToken == "" {
		return nil, fmt.Errorf("refresh session: %w", domain.ErrNoSession)
	}
	var tr tokenResponse
	err = c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"refresh_token"}},
		body:   map[string]string{"refresh_token": current.RefreshToken},
	}, &tr)
	if err != nil {
		status := statusOf(err)
		if status == http.StatusBadRequest || status == http.StatusUnauthorized {
			metrics.TokenRefreshTotal.WithLabelValues("rejected").Inc()
			c.log.Info().Err(err).Msg("refresh token rejected, signing out locally")
			c.replace(ctx, nil)
			c.emit(domain.EventSignedOut, nil)
			return nil, fmt.Errorf("refresh session: %w", domain.ErrSessionExpired)
		}
		metrics.TokenRefreshTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("refresh session: %w", err)
	}

	session := c.sessionFromToken(tr)
	if session.User == nil {
		session.User = current.User
	}
	c.replace(ctx, session)
	metrics.TokenRefreshTotal.WithLabelValues("ok").Inc()
	c.emit(domain.EventTokenRefreshed, session)
	return session, nil
}

// GetUser fetches the current user from the auth API.
func (c *Client) GetUser(ctx context.Context) (*domain.User, error) {
	session, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("get user: %w", domain.ErrNoSession)
	}

	var ur userResponse
	if err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/auth/v1/user",
		bearer: session.AccessToken,
	}, &ur); err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return ur.toDomain(), nil
}

// SignOut revokes the session on the backend and always drops it locally.
// A session the backend no longer knows counts as signed out.
func (c *Client) SignOut(ctx context.Context) error {
	session, err := c.current(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("sign out without restorable session")
	}

	var callErr error
	if session != nil {
		callErr = c.do(ctx, request{
			method: http.MethodPost,
			path:   "/auth/v1/logout",
			bearer: session.AccessToken,
		}, nil)
		switch statusOf(callErr) {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			callErr = nil
		}
	}

	c.replace(ctx, nil)
	c.emit(domain.EventSignedOut, nil)

	if callErr != nil {
		return fmt.Errorf("sign out: %w", callErr)
	}
	return nil
}

// Session returns the in-memory session without touching the network.
func (c *Client) Session() *domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// replace swaps the in-memory session and mirrors it to the store.
func (c *Client) replace(ctx context.Context, session *domain.Session) {
	c.mu.Lock()
	c.session = session
	c.restored = true
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	if session == nil {
		c.forget(ctx)
		return
	}
	if err := c.store.Save(ctx, c.cfg.StorageKey, session); err != nil {
		c.log.Warn().Err(err).Msg("failed to persist session")
	}
}

func (c *Client) forget(ctx context.Context) {
	if c.store == nil {
		return
	}
	if err := c.store.Delete(ctx, c.cfg.StorageKey); err != nil {
		c.log.Warn().Err(err).Msg("failed to delete persisted session")
	}
}

func (c *Client) sessionFromToken(tr tokenResponse) *domain.Session {
	session := &domain.Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
		User:         tr.User.toDomain(),
	}

	claims, err := parseAccessToken(tr.AccessToken, "")
	if err != nil {
		c.log.Debug().Err(err).Msg("access token is not a readable JWT")
	}

	switch {
	case tr.ExpiresAt > 0:
		session.ExpiresAt = time.Unix(tr.ExpiresAt, 0).UTC()
	case tr.ExpiresIn > 0:
		session.ExpiresAt = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second).UTC()
	case claims != nil && claims.ExpiresAt != nil:
		session.ExpiresAt = claims.ExpiresAt.UTC()
	}

	if claims != nil {
		session.ID = claims.SessionID
		if session.User == nil && claims.Subject != "" {
			session.User = &domain.User{ID: claims.Subject, Email: claims.Email, Metadata: claims.UserMetadata}
		}
	}
	return session
}
