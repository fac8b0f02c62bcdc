package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/99minutos/portal-auth/internal/core/domain"
)

const testSecret = "super-secret-jwt-key"

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type memStore struct {
	mu      sync.Mutex
	data    map[string]*domain.Session
	deletes int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]*domain.Session)}
}

func (m *memStore) Save(_ context.Context, key string, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = s
	return nil
}

func (m *memStore) Load(_ context.Context, key string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	m.deletes++
	return nil
}

type recordedEvent struct {
	event   domain.AuthChangeEvent
	session *domain.Session
}

type eventLog struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (l *eventLog) listen(event domain.AuthChangeEvent, s *domain.Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, recordedEvent{event, s})
}

func (l *eventLog) last(t *testing.T) recordedEvent {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		t.Fatal("expected at least one auth event")
	}
	return l.events[len(l.events)-1]
}

func signToken(t *testing.T, secret, sub, sessionID string, exp time.Time) string {
	t.Helper()
	claims := accessClaims{
		SessionID: sessionID,
		Email:     sub + "@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	c, err := New(Config{URL: srv.URL, AnonKey: "anon"}, zerolog.Nop(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestNew_RequiresURLAndKey(t *testing.T) {
	if _, err := New(Config{AnonKey: "k"}, zerolog.Nop()); err == nil {
		t.Error("expected error without URL")
	}
	if _, err := New(Config{URL: "http://x"}, zerolog.Nop()); err == nil {
		t.Error("expected error without anon key")
	}
}

func TestSignInWithPassword_StoresSessionAndEmits(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	access := signToken(t, testSecret, "u1", "sess-1", exp)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/token" || r.URL.Query().Get("grant_type") != "password" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL)
		}
		if r.Header.Get("apikey") != "anon" {
			t.Errorf("apikey header = %q", r.Header.Get("apikey"))
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "u1@example.com" || body["password"] != "pw" {
			t.Errorf("unexpected body %v", body)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  access,
			"refresh_token": "r1",
			"token_type":    "bearer",
			"expires_in":    3600,
			"user":          map[string]any{"id": "u1", "email": "u1@example.com"},
		})
	}))
	defer srv.Close()

	store := newMemStore()
	c := newTestClient(t, srv, WithSessionStore(store))
	events := &eventLog{}
	c.OnAuthStateChange(events.listen)

	session, err := c.SignInWithPassword(context.Background(), "u1@example.com", "pw")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.ID != "sess-1" {
		t.Errorf("session id = %q, want sess-1", session.ID)
	}
	if session.User.ID != "u1" {
		t.Errorf("user id = %q, want u1", session.User.ID)
	}
	if got := events.last(t); got.event != domain.EventSignedIn || got.session != session {
		t.Errorf("last event = %v, want SIGNED_IN with the new session", got.event)
	}
	if stored, _ := store.Load(context.Background(), defaultStorageKey); stored != session {
		t.Error("expected session to be persisted")
	}
}

func TestSignInWithPassword_InvalidCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "Invalid login credentials",
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.SignInWithPassword(context.Background(), "a@b.c", "bad")
	if !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestFetchRole(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rest/v1/rpc/get_user_role" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["user_id"] != "u1" {
			t.Errorf("user_id = %q", body["user_id"])
		}
		writeJSON(w, http.StatusOK, " Admin ")
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	role, err := c.FetchRole(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if role != domain.RoleAdmin {
		t.Errorf("role = %q, want admin", role)
	}
}

func TestFetchRole_NullMeansNoRole(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, nil)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	role, err := c.FetchRole(context.Background(), "u1")
	if err != nil || role != "" {
		t.Errorf("got (%q, %v), want empty role and no error", role, err)
	}
}

func TestFetchProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/profiles" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("id"); got != "eq.u1" {
			t.Errorf("id filter = %q", got)
		}
		if got := r.Header.Get("Accept"); got != "application/vnd.pgrst.object+json" {
			t.Errorf("accept = %q", got)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"display_name": "Alice",
			"avatar_url":   "https://cdn.example.com/a.png",
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	profile, err := c.FetchProfile(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.DisplayName != "Alice" {
		t.Errorf("display name = %q", profile.DisplayName)
	}
	if profile.AvatarURL == nil || *profile.AvatarURL != "https://cdn.example.com/a.png" {
		t.Errorf("avatar = %v", profile.AvatarURL)
	}
}

func TestFetchProfile_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotAcceptable, map[string]string{
			"code":    "PGRST116",
			"message": "JSON object requested, multiple (or no) rows returned",
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.FetchProfile(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrProfileNotFound) {
		t.Errorf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestFetchProfile_KeepsStoredColumns(t *testing.T) {
	tests := []struct {
		name       string
		row        map[string]any
		wantName   string
		wantAvatar *string
	}{
		{
			name:       "relative avatar path",
			row:        map[string]any{"display_name": "Bob", "avatar_url": "avatars/bob.png"},
			wantName:   "Bob",
			wantAvatar: strPtr("avatars/bob.png"),
		},
		{
			name:     "null display name",
			row:      map[string]any{"display_name": nil, "avatar_url": nil},
			wantName: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, tt.row)
			}))
			defer srv.Close()

			c := newTestClient(t, srv)
			profile, err := c.FetchProfile(context.Background(), "u2")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if profile.DisplayName != tt.wantName {
				t.Errorf("display name = %q, want %q", profile.DisplayName, tt.wantName)
			}
			switch {
			case tt.wantAvatar == nil && profile.AvatarURL != nil:
				t.Errorf("avatar = %q, want nil", *profile.AvatarURL)
			case tt.wantAvatar != nil && (profile.AvatarURL == nil || *profile.AvatarURL != *tt.wantAvatar):
				t.Errorf("avatar = %v, want %q", profile.AvatarURL, *tt.wantAvatar)
			}
		})
	}
}

func TestGetSession_RestoresFromStore(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	stored := &domain.Session{
		AccessToken:  signToken(t, testSecret, "u1", "s1", time.Now().Add(time.Hour)),
		RefreshToken: "r1",
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         &domain.User{ID: "u1"},
	}
	store := newMemStore()
	_ = store.Save(context.Background(), defaultStorageKey, stored)

	c, err := New(Config{URL: srv.URL, AnonKey: "anon", JWTSecret: testSecret}, zerolog.Nop(), WithSessionStore(store))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	events := &eventLog{}
	c.OnAuthStateChange(events.listen)

	got, err := c.GetSession(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != stored {
		t.Fatal("expected the stored session")
	}
	if ev := events.last(t); ev.event != domain.EventInitialSession {
		t.Errorf("event = %s, want INITIAL_SESSION", ev.event)
	}

	// Restoring happens once.
	_, _ = c.GetSession(context.Background())
	events.mu.Lock()
	n := len(events.events)
	events.mu.Unlock()
	if n != 1 {
		t.Errorf("expected 1 event, got %d", n)
	}
}

func TestGetSession_DiscardsTamperedToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	store := newMemStore()
	_ = store.Save(context.Background(), defaultStorageKey, &domain.Session{
		AccessToken: signToken(t, "some-other-key", "u1", "s1", time.Now().Add(time.Hour)),
		User:        &domain.User{ID: "u1"},
	})

	c, _ := New(Config{URL: srv.URL, AnonKey: "anon", JWTSecret: testSecret}, zerolog.Nop(), WithSessionStore(store))
	got, err := c.GetSession(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expected tampered session to be discarded")
	}
	if store.deletes != 1 {
		t.Errorf("expected persisted session to be deleted, deletes=%d", store.deletes)
	}
}

func TestGetSession_RefreshesNearExpiry(t *testing.T) {
	fresh := signToken(t, testSecret, "u1", "s2", time.Now().Add(time.Hour))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("grant_type") != "refresh_token" {
			t.Errorf("unexpected grant %q", r.URL.Query().Get("grant_type"))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  fresh,
			"refresh_token": "r2",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	store := newMemStore()
	_ = store.Save(context.Background(), defaultStorageKey, &domain.Session{
		AccessToken:  "old",
		RefreshToken: "r1",
		ExpiresAt:    time.Now().Add(10 * time.Second),
		User:         &domain.User{ID: "u1"},
	})

	c := newTestClient(t, srv, WithSessionStore(store))
	events := &eventLog{}
	c.OnAuthStateChange(events.listen)

	got, err := c.GetSession(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.RefreshToken != "r2" || got.ID != "s2" {
		t.Errorf("expected refreshed session, got %+v", got)
	}
	if got.User == nil || got.User.ID != "u1" {
		t.Error("expected user to carry over from the previous session")
	}
	if ev := events.last(t); ev.event != domain.EventTokenRefreshed {
		t.Errorf("event = %s, want TOKEN_REFRESHED", ev.event)
	}
}

func TestRefreshSession_RejectedSignsOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "Invalid Refresh Token",
		})
	}))
	defer srv.Close()

	store := newMemStore()
	_ = store.Save(context.Background(), defaultStorageKey, &domain.Session{
		AccessToken: "a", RefreshToken: "r1", User: &domain.User{ID: "u1"},
	})
	c := newTestClient(t, srv, WithSessionStore(store))
	events := &eventLog{}
	c.OnAuthStateChange(events.listen)

	_, err := c.RefreshSession(context.Background())
	if !errors.Is(err, domain.ErrSessionExpired) {
		t.Errorf("expected ErrSessionExpired, got %v", err)
	}
	if c.Session() != nil {
		t.Error("expected session to be dropped")
	}
	if ev := events.last(t); ev.event != domain.EventSignedOut || ev.session != nil {
		t.Errorf("expected SIGNED_OUT with nil session, got %s", ev.event)
	}
}

func TestRefreshSession_NoSession(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := newTestClient(t, srv)
	if _, err := c.RefreshSession(context.Background()); !errors.Is(err, domain.ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
}

func TestGetUser_UsesAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer access-1" {
			t.Errorf("authorization = %q", got)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":            "u1",
			"user_metadata": map[string]any{"department": "eng"},
		})
	}))
	defer srv.Close()

	store := newMemStore()
	_ = store.Save(context.Background(), defaultStorageKey, &domain.Session{
		AccessToken: "access-1", User: &domain.User{ID: "u1"},
	})
	c := newTestClient(t, srv, WithSessionStore(store))

	user, err := c.GetUser(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dept, ok := user.Department(); !ok || dept != "eng" {
		t.Errorf("department = %q, %v", dept, ok)
	}
}

func TestSignOut_ClearsEvenWhenBackendForgotSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/logout" {
			t.Errorf("path = %s", r.URL.Path)
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "invalid JWT"})
	}))
	defer srv.Close()

	store := newMemStore()
	_ = store.Save(context.Background(), defaultStorageKey, &domain.Session{
		AccessToken: "a", User: &domain.User{ID: "u1"},
	})
	c := newTestClient(t, srv, WithSessionStore(store))
	events := &eventLog{}
	c.OnAuthStateChange(events.listen)

	if err := c.SignOut(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Session() != nil {
		t.Error("expected local session cleared")
	}
	if s, _ := store.Load(context.Background(), defaultStorageKey); s != nil {
		t.Error("expected persisted session deleted")
	}
	if ev := events.last(t); ev.event != domain.EventSignedOut {
		t.Errorf("event = %s, want SIGNED_OUT", ev.event)
	}
}

func TestSignOut_ServerErrorStillClears(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := newMemStore()
	_ = store.Save(context.Background(), defaultStorageKey, &domain.Session{
		AccessToken: "a", User: &domain.User{ID: "u1"},
	})
	c := newTestClient(t, srv, WithSessionStore(store))

	err := c.SignOut(context.Background())
	if statusOf(err) != http.StatusInternalServerError {
		t.Errorf("expected 500 APIError, got %v", err)
	}
	if c.Session() != nil {
		t.Error("expected local session cleared")
	}
}

func TestRefreshIfDue(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	callCount := func() int {
		mu.Lock()
		defer mu.Unlock()
		return calls
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "new",
			"refresh_token": "r2",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	_ = store.Save(context.Background(), defaultStorageKey, &domain.Session{
		AccessToken: "a", RefreshToken: "r1", ExpiresAt: now.Add(2 * time.Hour), User: &domain.User{ID: "u1"},
	})
	c := newTestClient(t, srv, WithSessionStore(store), WithClock(func() time.Time { return now }))
	if _, err := c.GetSession(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}

	c.refreshIfDue(context.Background())
	if n := callCount(); n != 0 {
		t.Fatalf("expected no refresh two hours before expiry, got %d calls", n)
	}

	now = now.Add(2*time.Hour - 30*time.Second)
	c.refreshIfDue(context.Background())
	if n := callCount(); n != 1 {
		t.Errorf("expected one refresh inside the margin, got %d", n)
	}
	if c.Session().RefreshToken != "r2" {
		t.Error("expected refreshed session to be current")
	}
}

func TestParseAccessToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signToken(t, testSecret, "u9", "s9", exp)

	claims, err := parseAccessToken(token, "")
	if err != nil {
		t.Fatalf("unverified parse: %v", err)
	}
	if claims.Subject != "u9" || claims.SessionID != "s9" || !claims.ExpiresAt.Time.Equal(exp) {
		t.Errorf("unexpected claims %+v", claims)
	}

	if _, err := parseAccessToken(token, testSecret); err != nil {
		t.Errorf("verified parse: %v", err)
	}
	if _, err := parseAccessToken(token, "wrong"); err == nil {
		t.Error("expected signature error with the wrong secret")
	}
	if _, err := parseAccessToken("not-a-jwt", ""); err == nil {
		t.Error("expected error for garbage token")
	}
}

func strPtr(s string) *string { return &s }
