package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/99minutos/portal-auth/internal/core/domain"
	"github.com/99minutos/portal-auth/internal/pkg/sealer"
)

const (
	defaultKeyPrefix  = "portal-auth:session:"
	defaultSessionTTL = 30 * 24 * time.Hour
)

// SessionStore persists the current session in Redis, sealed at rest.
type SessionStore struct {
	client *redis.Client
	sealer *sealer.Sealer
	prefix string
	ttl    time.Duration
}

// SessionStoreOption configures SessionStore behaviour.
type SessionStoreOption func(*SessionStore)

// WithKeyPrefix sets the key prefix for stored sessions.
func WithKeyPrefix(prefix string) SessionStoreOption {
	return func(s *SessionStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithTTL sets how long a stored session survives without being rewritten.
func WithTTL(ttl time.Duration) SessionStoreOption {
	return func(s *SessionStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewSessionStore creates a SessionStore. A nil sealer stores plaintext JSON.
func NewSessionStore(client *redis.Client, sl *sealer.Sealer, opts ...SessionStoreOption) *SessionStore {
	s := &SessionStore{
		client: client,
		sealer: sl,
		prefix: defaultKeyPrefix,
		ttl:    defaultSessionTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save stores session under key, replacing any previous value.
func (s *SessionStore) Save(ctx context.Context, key string, session *domain.Session) error {
	if session == nil {
		return s.Delete(ctx, key)
	}

	payload, err := encodeSession(s.sealer, session)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.prefix+key, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Load returns the stored session, or (nil, nil) when none exists.
func (s *SessionStore) Load(ctx context.Context, key string) (*domain.Session, error) {
	payload, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	return decodeSession(s.sealer, payload)
}

// Delete removes the stored session.
func (s *SessionStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func encodeSession(sl *sealer.Sealer, session *domain.Session) ([]byte, error) {
	raw, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	sealed, err := sl.Seal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return sealed, nil
}

func decodeSession(sl *sealer.Sealer, payload []byte) (*domain.Session, error) {
	raw, err := sl.Open(payload)
	if err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}
