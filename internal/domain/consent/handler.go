package consent

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
	g := api.Group("", auth.RequireRole("admin", "physician", "anesthesiologist", "nurse"))

	g.POST("/surgical-consents", h.CreateSurgical)
	g.GET("/surgical-consents/by-checkin", h.GetSurgicalByCheckin)
	g.GET("/surgical-consents/:id", h.GetSurgical)
	g.PUT("/surgical-consents/:id", h.UpdateSurgical)
	g.POST("/surgical-consents/:id/sign", h.SignSurgical)
	g.GET("/surgical-consents/:id/verify", h.VerifySurgical)

	g.POST("/anesthesia-consents", h.CreateAnesthesia)
	g.GET("/anesthesia-consents/by-checkin", h.GetAnesthesiaByCheckin)
	g.GET("/anesthesia-consents/:id", h.GetAnesthesia)
	g.PUT("/anesthesia-consents/:id", h.UpdateAnesthesia)
	g.POST("/anesthesia-consents/:id/sign", h.SignAnesthesia)
	g.GET("/anesthesia-consents/:id/verify", h.VerifyAnesthesia)
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
		return echo.NewHTTPError(http.StatusNotFound, "consent form not found")
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

// -- Surgical consent --

func (h *Handler) CreateSurgical(c echo.Context) error {
	var in SurgicalConsent
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if in.CheckinID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "checkin_id is required")
	}
	out, err := h.svc.CreateSurgicalConsent(c.Request().Context(), &in, requestMeta(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) GetSurgical(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	out, err := h.svc.GetSurgicalConsent(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) GetSurgicalByCheckin(c echo.Context) error {
	checkinID, err := uuid.Parse(c.QueryParam("checkin"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "checkin is required")
	}
	out, err := h.svc.GetSurgicalConsentByCheckin(c.Request().Context(), checkinID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) UpdateSurgical(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in SurgicalConsent
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.UpdateSurgicalConsent(c.Request().Context(), id, &in, requestMeta(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) SignSurgical(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req signRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.SignSurgicalConsent(c.Request().Context(), id, req.SignatureDataURL, requestMeta(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) VerifySurgical(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	valid, err := h.svc.VerifySurgicalConsent(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "valid": valid})
}

// -- Anesthesia consent --

func (h *Handler) CreateAnesthesia(c echo.Context) error {
	var in AnesthesiaConsent
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if in.CheckinID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "checkin_id is required")
	}
	out, err := h.svc.CreateAnesthesiaConsent(c.Request().Context(), &in, requestMeta(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) GetAnesthesia(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	out, err := h.svc.GetAnesthesiaConsent(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) GetAnesthesiaByCheckin(c echo.Context) error {
	checkinID, err := uuid.Parse(c.QueryParam("checkin"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "checkin is required")
	}
	out, err := h.svc.GetAnesthesiaConsentByCheckin(c.Request().Context(), checkinID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) UpdateAnesthesia(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in AnesthesiaConsent
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.UpdateAnesthesiaConsent(c.Request().Context(), id, &in, requestMeta(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) SignAnesthesia(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req signRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.SignAnesthesiaConsent(c.Request().Context(), id, req.SignatureDataURL, requestMeta(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) VerifyAnesthesia(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	valid, err := h.svc.VerifyAnesthesiaConsent(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "valid": valid})
}
