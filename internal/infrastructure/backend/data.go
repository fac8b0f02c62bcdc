package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/99minutos/portal-auth/internal/core/domain"
)

// pgrstNoRows is returned by the data API when a single object was requested
// and no row matched.
const pgrstNoRows = "PGRST116"

type profileRow struct {
	DisplayName string  `json:"display_name"`
	AvatarURL   *string `json:"avatar_url"`
}

// bearer returns the access token of the current session, or "" to fall back
// to the anon key.
func (c *Client) bearer(ctx context.Context) string {
	session, err := c.current(ctx)
	if err != nil || session == nil {
		return ""
	}
	return session.AccessToken
}

// FetchRole calls the role RPC for userID. An empty role means the backend
// has none on record.
func (c *Client) FetchRole(ctx context.Context, userID string) (domain.Role, error) {
	var raw *string
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/rest/v1/rpc/" + url.PathEscape(c.cfg.RoleRPC),
		body:   map[string]string{"user_id": userID},
		bearer: c.bearer(ctx),
	}, &raw)
	if err != nil {
		return "", fmt.Errorf("fetch role: %w", err)
	}
	if raw == nil {
		return "", nil
	}
	role, _ := domain.ParseRole(*raw)
	return role, nil
}

// FetchProfile reads display name and avatar for userID from the profiles table.
// Columns are passed through as stored; a null display name reads as "".
func (c *Client) FetchProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	var row profileRow
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/rest/v1/" + url.PathEscape(c.cfg.ProfilesTable),
		query: url.Values{
			"select": {"display_name,avatar_url"},
			"id":     {"eq." + userID},
		},
		bearer: c.bearer(ctx),
		accept: "application/vnd.pgrst.object+json",
	}, &row)
	if err != nil {
		if codeOf(err) == pgrstNoRows {
			return nil, fmt.Errorf("fetch profile: %w", domain.ErrProfileNotFound)
		}
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	return &domain.Profile{DisplayName: row.DisplayName, AvatarURL: row.AvatarURL}, nil
}
