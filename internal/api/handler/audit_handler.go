package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/portal-auth/internal/core/domain"
	"github.com/99minutos/portal-auth/internal/core/ports"
)

// AuditHandler serves the auth audit trail to admins.
type AuditHandler struct {
	service ports.AuditService
}

func NewAuditHandler(service ports.AuditService) *AuditHandler {
	return &AuditHandler{service: service}
}

type auditListResponse struct {
	Events []*domain.AuthAuditEvent `json:"events"`
	Count  int                      `json:"count"`
}

// List returns the most recent auth transitions.
//
// @Summary      Recent auth transitions
// @Tags         admin
// @Produce      json
// @Param        user_id  query     string  false  "Only events of this user"
// @Param        limit    query     int     false  "Maximum number of events (default 50, max 200)"
// @Success      200      {object}  auditListResponse
// @Failure      400      {object}  map[string]string
// @Failure      401      {object}  map[string]string
// @Failure      403      {object}  map[string]string
// @Router       /v1/admin/audit [get]
func (h *AuditHandler) List(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}

	events, err := h.service.Recent(c.Request().Context(), c.QueryParam("user_id"), limit)
	if err != nil {
		return err
	}
	if events == nil {
		events = []*domain.AuthAuditEvent{}
	}
	return c.JSON(http.StatusOK, auditListResponse{Events: events, Count: len(events)})
}
