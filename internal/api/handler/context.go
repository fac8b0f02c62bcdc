package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/portal-auth/internal/core/domain"
)

// ctxState extracts the snapshot injected by the RequireSession middleware and
// fails fast when it is missing or carries no user.
func ctxState(c echo.Context) (domain.State, error) {
	st, ok := c.Get("auth_state").(domain.State)
	if !ok || !st.Authenticated() || st.User == nil {
		return domain.State{}, echo.NewHTTPError(http.StatusUnauthorized, "missing authentication state")
	}
	return st, nil
}
