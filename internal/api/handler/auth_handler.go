package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/99minutos/portal-auth/internal/core/ports"
)

// settleTimeout bounds how long sign-in waits for role/profile/department
// before answering with whatever has arrived.
const settleTimeout = 3 * time.Second

// AuthHandler exposes the auth state and the interactive session operations.
type AuthHandler struct {
	state ports.AuthStateReader
	auth  ports.Authenticator
	log   zerolog.Logger
}

func NewAuthHandler(state ports.AuthStateReader, auth ports.Authenticator, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{state: state, auth: auth, log: log}
}

// State returns the current auth state.
//
// @Summary      Current auth state
// @Tags         auth
// @Produce      json
// @Success      200  {object}  stateResponse
// @Router       /v1/auth/state [get]
func (h *AuthHandler) State(c echo.Context) error {
	return c.JSON(http.StatusOK, toStateResponse(h.state.Snapshot()))
}

// SignIn exchanges e-mail and password for a session.
//
// @Summary      Sign in with e-mail and password
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      signInRequest  true  "Credentials"
// @Success      200   {object}  stateResponse
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      422   {object}  map[string]string
// @Failure      502   {object}  map[string]string
// @Router       /v1/auth/signin [post]
func (h *AuthHandler) SignIn(c echo.Context) error {
	var req signInRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	ctx := c.Request().Context()
	if _, err := h.auth.SignInWithPassword(ctx, req.Email, req.Password); err != nil {
		return err
	}
	h.settle(ctx)

	return c.JSON(http.StatusOK, toStateResponse(h.state.Snapshot()))
}

// SignOut ends the session. Local state is cleared even when the backend call
// fails, so this always answers with the cleared state.
//
// @Summary      Sign out
// @Tags         auth
// @Produce      json
// @Success      200  {object}  stateResponse
// @Router       /v1/auth/signout [post]
func (h *AuthHandler) SignOut(c echo.Context) error {
	if err := h.state.SignOut(c.Request().Context()); err != nil {
		h.log.Warn().Err(err).Msg("backend sign-out failed")
	}
	return c.JSON(http.StatusOK, toStateResponse(h.state.Snapshot()))
}

// Refresh forces a token refresh.
//
// @Summary      Refresh the session tokens
// @Tags         auth
// @Produce      json
// @Success      200  {object}  stateResponse
// @Failure      401  {object}  map[string]string
// @Failure      502  {object}  map[string]string
// @Router       /v1/auth/refresh [post]
func (h *AuthHandler) Refresh(c echo.Context) error {
	if _, err := h.auth.RefreshSession(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toStateResponse(h.state.Snapshot()))
}

// Me returns the signed-in user with its role, profile and department.
//
// @Summary      Current user
// @Tags         auth
// @Produce      json
// @Success      200  {object}  meResponse
// @Failure      401  {object}  map[string]string
// @Router       /v1/me [get]
func (h *AuthHandler) Me(c echo.Context) error {
	st, err := ctxState(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toMeResponse(st))
}

func (h *AuthHandler) settle(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()
	if err := h.state.WaitContext(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		h.log.Debug().Err(err).Msg("stopped waiting for enrichment")
	}
}
