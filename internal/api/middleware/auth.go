package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/portal-auth/internal/core/ports"
)

// RequireSession rejects requests while no session is held and injects the
// current snapshot into the context as "auth_state", together with "user_id"
// and "role" ("" until the role has been fetched).
func RequireSession(reader ports.AuthStateReader) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			st := reader.Snapshot()
			if !st.Authenticated() || st.User == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}

			role := ""
			if st.Role != nil {
				role = string(*st.Role)
			}

			c.Set("auth_state", st)
			c.Set("user_id", st.User.ID)
			c.Set("role", role)

			return next(c)
		}
	}
}
