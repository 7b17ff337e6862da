package operative

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/surgicenter/emr/internal/platform/auth"
	"github.com/surgicenter/emr/internal/platform/signing"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "physician", "nurse"))

	g.POST("/history-physicals", h.CreateHP)
	g.GET("/history-physicals/by-checkin", h.GetHPByCheckin)
	g.GET("/history-physicals/:id", h.GetHP)
	g.PUT("/history-physicals/:id", h.UpdateHP)
	g.POST("/history-physicals/:id/sign", h.SignHP)
	g.GET("/history-physicals/:id/verify", h.VerifyHP)

	g.POST("/operative-records", h.CreateRecord)
	g.GET("/operative-records/by-checkin", h.GetRecordByCheckin)
	g.GET("/operative-records/:id", h.GetRecord)
	g.PUT("/operative-records/:id", h.UpdateRecord)
	g.POST("/operative-records/:id/sign", h.SignRecord)
	g.GET("/operative-records/:id/verify", h.VerifyRecord)
}

type signRequest struct {
	SignatureDataURL string `json:"signature_data_url"`
}

func requestMeta(c echo.Context) RequestMeta {
	return RequestMeta{
		OriginAddress: c.RealIP(),
		OriginAgent:   c.Request().UserAgent(),
	}
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "operative form not found")
	case errors.Is(err, signing.ErrAlreadySigned):
		return echo.NewHTTPError(http.StatusConflict, "document is already signed")
	case errors.Is(err, signing.ErrDocumentLocked):
		return echo.NewHTTPError(http.StatusConflict, "document is signed and locked; edits are not allowed")
	case errors.Is(err, signing.ErrInvalidArtifact):
		return echo.NewHTTPError(http.StatusBadRequest, "signature_data_url must be a data: URL")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateHP(c echo.Context) error {
	var in HistoryPhysical
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if in.CheckinID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "checkin_id is required")
	}
	out, err := h.svc.CreateHistoryPhysical(c.Request().Context(), &in, requestMeta(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) GetHP(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	out, err := h.svc.GetHistoryPhysical(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) GetHPByCheckin(c echo.Context) error {
	checkinID, err := uuid.Parse(c.QueryParam("checkin"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "checkin is required")
	}
	out, err := h.svc.GetHistoryPhysicalByCheckin(c.Request().Context(), checkinID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) UpdateHP(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in HistoryPhysical
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.UpdateHistoryPhysical(c.Request().Context(), id, &in, requestMeta(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) SignHP(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req signRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.SignHistoryPhysical(c.Request().Context(), id, req.SignatureDataURL, requestMeta(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) VerifyHP(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	valid, err := h.svc.VerifyHistoryPhysical(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "valid": valid})
}

func (h *Handler) CreateRecord(c echo.Context) error {
	var in OperativeRecord
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if in.CheckinID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "checkin_id is required")
	}
	out, err := h.svc.CreateOperativeRecord(c.Request().Context(), &in, requestMeta(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) GetRecord(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	out, err := h.svc.GetOperativeRecord(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) GetRecordByCheckin(c echo.Context) error {
	checkinID, err := uuid.Parse(c.QueryParam("checkin"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "checkin is required")
	}
	out, err := h.svc.GetOperativeRecordByCheckin(c.Request().Context(), checkinID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) UpdateRecord(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in OperativeRecord
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.UpdateOperativeRecord(c.Request().Context(), id, &in, requestMeta(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) SignRecord(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req signRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.SignOperativeRecord(c.Request().Context(), id, req.SignatureDataURL, requestMeta(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) VerifyRecord(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	valid, err := h.svc.VerifyOperativeRecord(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "valid": valid})
}
