// Package backend is the client for the managed auth/database backend: a
// GoTrue-compatible auth API under /auth/v1 and a PostgREST-compatible data
// API under /rest/v1.
//
// The client owns the current session. It restores it from a SessionStore,
// keeps it fresh, and reports every transition to listeners registered with
// OnAuthStateChange.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/99minutos/portal-auth/internal/core/domain"
	"github.com/99minutos/portal-auth/internal/core/ports"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultRefreshMargin = time.Minute
	defaultRoleRPC       = "get_user_role"
	defaultProfilesTable = "profiles"
	defaultStorageKey    = "default"

	maxErrorBody = 64 << 10
)

// Config holds the backend endpoint and the names of the objects read from it.
type Config struct {
	URL     string
	AnonKey string
	// JWTSecret, when set, is used to check the signature of restored access tokens.
	JWTSecret     string
	RoleRPC       string
	ProfilesTable string
	Timeout       time.Duration
	// RefreshMargin is how long before expiry an access token is refreshed.
	RefreshMargin time.Duration
	// StorageKey names the persisted session in the SessionStore.
	StorageKey string
}

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend: %d: %s", e.Status, e.Message)
}

// Client implements ports.Backend and ports.Authenticator over HTTP.
type Client struct {
	cfg     Config
	baseURL *url.URL
	http    *http.Client
	store   ports.SessionStore
	log     zerolog.Logger
	now     func() time.Time

	mu       sync.Mutex
	session  *domain.Session
	restored bool

	lmu       sync.Mutex
	listeners map[uint64]ports.SessionListener
	nextID    uint64

	refreshMu sync.Mutex
}

var (
	_ ports.Backend       = (*Client)(nil)
	_ ports.Authenticator = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithSessionStore enables session persistence.
func WithSessionStore(store ports.SessionStore) Option {
	return func(c *Client) {
		c.store = store
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a Client for cfg.
func New(cfg Config, log zerolog.Logger, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("backend: URL is required")
	}
	if cfg.AnonKey == "" {
		return nil, errors.New("backend: anon key is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("backend: parse URL: %w", err)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = defaultRefreshMargin
	}
	if cfg.RoleRPC == "" {
		cfg.RoleRPC = defaultRoleRPC
	}
	if cfg.ProfilesTable == "" {
		cfg.ProfilesTable = defaultProfilesTable
	}
	if cfg.StorageKey == "" {
		cfg.StorageKey = defaultStorageKey
	}

	c := &Client{
		cfg:       cfg,
		baseURL:   base,
		http:      &http.Client{Timeout: cfg.Timeout},
		log:       log.With().Str("component", "backend").Logger(),
		now:       time.Now,
		listeners: make(map[uint64]ports.SessionListener),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type request struct {
	method string
	path   string
	query  url.Values
	body   any
	// bearer overrides the anon key in the Authorization header.
	bearer string
	accept string
}

// do performs req and decodes a 2xx JSON answer into out (when non-nil).
func (c *Client) do(ctx context.Context, req request, out any) error {
	u := *c.baseURL
	u.Path = c.baseURL.Path + req.path
	if req.query != nil {
		u.RawQuery = req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		raw, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("backend: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u.String(), body)
	if err != nil {
		return fmt.Errorf("backend: build request: %w", err)
	}

	bearer := req.bearer
	if bearer == "" {
		bearer = c.cfg.AnonKey
	}
	httpReq.Header.Set("apikey", c.cfg.AnonKey)
	httpReq.Header.Set("Authorization", "Bearer "+bearer)
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	accept := req.accept
	if accept == "" {
		accept = "application/json"
	}
	httpReq.Header.Set("Accept", accept)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", req.method, req.path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: decode %s: %w", req.path, err)
	}
	return nil
}

// errorBody covers the error shapes of both the auth and data APIs.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Code             any    `json:"code"`
	Message          string `json:"message"`
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	var eb errorBody
	if json.Unmarshal(raw, &eb) != nil {
		return apiErr
	}

	switch {
	case eb.Error != "":
		apiErr.Code = eb.Error
	case eb.ErrorCode != "":
		apiErr.Code = eb.ErrorCode
	default:
		if code, ok := eb.Code.(string); ok {
			apiErr.Code = code
		}
	}
	for _, msg := range []string{eb.ErrorDescription, eb.Msg, eb.Message} {
		if msg != "" {
			apiErr.Message = msg
			break
		}
	}
	return apiErr
}

func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

func codeOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}
