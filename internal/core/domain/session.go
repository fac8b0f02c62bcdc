package domain

import "time"

// AuthChangeEvent names a transition reported by the backend's auth client.
type AuthChangeEvent string

const (
	EventInitialSession AuthChangeEvent = "INITIAL_SESSION"
	EventSignedIn       AuthChangeEvent = "SIGNED_IN"
	EventSignedOut      AuthChangeEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthChangeEvent = "TOKEN_REFRESHED"
)

// Session is the token bundle issued by the backend. It is treated as
// immutable once built: transitions replace the pointer, never the fields.
type Session struct {
	ID           string    `json:"id,omitempty"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         *User     `json:"user,omitempty"`
}

// HasUser reports whether the session carries an identity.
func (s *Session) HasUser() bool {
	return s != nil && s.User != nil && s.User.ID != ""
}

// ExpiresWithin reports whether the access token expires before now+margin.
// A zero expiry is treated as never expiring.
func (s *Session) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(margin).Before(s.ExpiresAt)
}
