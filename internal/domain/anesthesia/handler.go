package anesthesia

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
	g := api.Group("", auth.RequireRole("admin", "anesthesiologist", "crna", "nurse"))

	g.POST("/pre-anesthesia-assessments", h.CreateAssessment)
	g.GET("/pre-anesthesia-assessments/by-checkin", h.GetAssessmentByCheckin)
	g.GET("/pre-anesthesia-assessments/:id", h.GetAssessment)
	g.PUT("/pre-anesthesia-assessments/:id", h.UpdateAssessment)
	g.POST("/pre-anesthesia-assessments/:id/sign", h.SignAssessment)
	g.GET("/pre-anesthesia-assessments/:id/verify", h.VerifyAssessment)

	g.POST("/anesthesia-records", h.CreateRecord)
	g.GET("/anesthesia-records/by-checkin", h.GetRecordByCheckin)
	g.GET("/anesthesia-records/:id", h.GetRecord)
	g.PUT("/anesthesia-records/:id", h.UpdateRecord)
	g.POST("/anesthesia-records/:id/sign", h.SignRecord)
	g.GET("/anesthesia-records/:id/verify", h.VerifyRecord)
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
		return echo.NewHTTPError(http.StatusNotFound, "anesthesia form not found")
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

func (h *Handler) CreateAssessment(c echo.Context) error {
	var in PreAnesthesiaAssessment
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if in.CheckinID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "checkin_id is required")
	}
	out, err := h.svc.CreateAssessment(c.Request().Context(), &in, requestMeta(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) GetAssessment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	out, err := h.svc.GetAssessment(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) GetAssessmentByCheckin(c echo.Context) error {
	checkinID, err := uuid.Parse(c.QueryParam("checkin"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "checkin is required")
	}
	out, err := h.svc.GetAssessmentByCheckin(c.Request().Context(), checkinID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) UpdateAssessment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in PreAnesthesiaAssessment
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.UpdateAssessment(c.Request().Context(), id, &in, requestMeta(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) SignAssessment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req signRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.SignAssessment(c.Request().Context(), id, req.SignatureDataURL, requestMeta(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) VerifyAssessment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	valid, err := h.svc.VerifyAssessment(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "valid": valid})
}

func (h *Handler) CreateRecord(c echo.Context) error {
	var in Record
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if in.CheckinID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "checkin_id is required")
	}
	out, err := h.svc.CreateRecord(c.Request().Context(), &in, requestMeta(c))
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
	out, err := h.svc.GetRecord(c.Request().Context(), id)
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
	out, err := h.svc.GetRecordByCheckin(c.Request().Context(), checkinID)
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
	var in Record
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.UpdateRecord(c.Request().Context(), id, &in, requestMeta(c))
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
	out, err := h.svc.SignRecord(c.Request().Context(), id, req.SignatureDataURL, requestMeta(c))
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
	valid, err := h.svc.VerifyRecord(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "valid": valid})
}
