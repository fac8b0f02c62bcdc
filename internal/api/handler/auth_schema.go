package handler

import (
	"time"

	"github.com/99minutos/portal-auth/internal/core/domain"
)

type signInRequest struct {
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type userView struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

type profileView struct {
	DisplayName string  `json:"display_name"`
	AvatarURL   *string `json:"avatar_url"`
}

// stateResponse is the read accessor as served to the UI. Tokens never leave
// the process.
type stateResponse struct {
	Authenticated bool         `json:"authenticated"`
	Loading       bool         `json:"loading"`
	Version       uint64       `json:"version"`
	User          *userView    `json:"user"`
	Role          *string      `json:"role"`
	Profile       *profileView `json:"profile"`
	Department    *string      `json:"department"`
	ExpiresAt     *time.Time   `json:"expires_at,omitempty"`
}

type meResponse struct {
	ID          string       `json:"id"`
	Email       string       `json:"email,omitempty"`
	Role        *string      `json:"role"`
	Profile     *profileView `json:"profile"`
	Department  *string      `json:"department"`
	DisplayName string       `json:"display_name"`
}

func toStateResponse(st domain.State) stateResponse {
	resp := stateResponse{
		Authenticated: st.Authenticated(),
		Loading:       st.Loading,
		Version:       st.Version,
		Role:          roleString(st.Role),
		Profile:       toProfileView(st.Profile),
		Department:    st.Department,
	}
	if st.User != nil {
		resp.User = &userView{ID: st.User.ID, Email: st.User.Email}
	}
	if st.Session != nil && !st.Session.ExpiresAt.IsZero() {
		exp := st.Session.ExpiresAt
		resp.ExpiresAt = &exp
	}
	return resp
}

func toMeResponse(st domain.State) meResponse {
	resp := meResponse{
		ID:         st.User.ID,
		Email:      st.User.Email,
		Role:       roleString(st.Role),
		Profile:    toProfileView(st.Profile),
		Department: st.Department,
	}
	switch {
	case st.Profile != nil && st.Profile.DisplayName != "":
		resp.DisplayName = st.Profile.DisplayName
	default:
		resp.DisplayName = st.User.Email
	}
	return resp
}

func roleString(r *domain.Role) *string {
	if r == nil {
		return nil
	}
	s := string(*r)
	return &s
}

func toProfileView(p *domain.Profile) *profileView {
	if p == nil {
		return nil
	}
	return &profileView{DisplayName: p.DisplayName, AvatarURL: p.AvatarURL}
}
