package audit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/surgicenter/emr/internal/platform/auth"
	"github.com/surgicenter/emr/internal/platform/db"
	"github.com/surgicenter/emr/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// The ledger itself is read-only over HTTP; entries are only ever
	// appended server-side.
	readGroup := api.Group("", auth.RequireRole("admin", "compliance"))
	readGroup.GET("/audit-entries", h.ListEntries)
	readGroup.GET("/audit-entries/verify", h.VerifyChain)

	// Any authenticated role may ask for its own recent activity.
	api.GET("/audit-entries/recent", h.RecentResources)
}

func (h *Handler) ListEntries(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := db.TenantFromContext(ctx)
	if tenantID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant not resolved")
	}

	p := SearchParams{
		ActorID:      c.QueryParam("actor_id"),
		Action:       ActionKind(c.QueryParam("action")),
		ResourceType: c.QueryParam("resource_type"),
		ResourceID:   c.QueryParam("resource_id"),
	}
	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid from timestamp")
		}
		p.From = t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid to timestamp")
		}
		p.To = t
	}
	page := pagination.FromContext(c)
	p.Limit = page.Limit
	p.Offset = page.Offset

	entries, total, err := h.svc.Search(ctx, tenantID, p)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if entries == nil {
		entries = []*Entry{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, page.Limit, page.Offset))
}

func (h *Handler) VerifyChain(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := db.TenantFromContext(ctx)
	if tenantID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant not resolved")
	}
	fromID, _ := strconv.ParseInt(c.QueryParam("from_id"), 10, 64)
	toID, _ := strconv.ParseInt(c.QueryParam("to_id"), 10, 64)

	report, err := h.svc.VerifyChain(ctx, tenantID, fromID, toID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) RecentResources(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := db.TenantFromContext(ctx)
	if tenantID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant not resolved")
	}
	actorID := auth.UserIDFromContext(ctx)
	if actorID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	resourceType := c.QueryParam("resource_type")
	if resourceType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "resource_type is required")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	ids, err := h.svc.RecentResourceIDs(ctx, tenantID, actorID, resourceType, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"resource_type": resourceType,
		"resource_ids":  ids,
	})
}
