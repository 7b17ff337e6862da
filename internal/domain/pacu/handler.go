package pacu

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
	g := api.Group("", auth.RequireRole("admin", "nurse", "crna", "anesthesiologist", "physician"))

	g.POST("/pacu-records", h.CreateRecord)
	g.GET("/pacu-records/by-checkin", h.GetRecordByCheckin)
	g.GET("/pacu-records/:id", h.GetRecord)
	g.PUT("/pacu-records/:id", h.UpdateRecord)
	g.POST("/pacu-records/:id/sign", h.SignRecord)
	g.GET("/pacu-records/:id/verify", h.VerifyRecord)

	g.POST("/pacu-progress-notes", h.CreateProgressNotes)
	g.GET("/pacu-progress-notes/by-checkin", h.GetProgressNotesByCheckin)
	g.GET("/pacu-progress-notes/:id", h.GetProgressNotes)
	g.PUT("/pacu-progress-notes/:id", h.UpdateProgressNotes)
	g.POST("/pacu-progress-notes/:id/sign", h.SignProgressNotes)
	g.POST("/pacu-progress-notes/:id/cosign", h.CoSignProgressNotes)
	g.GET("/pacu-progress-notes/:id/verify", h.VerifyProgressNotes)

	g.POST("/pacu-additional-nursing-notes", h.CreateAdditionalNotes)
	g.GET("/pacu-additional-nursing-notes/by-checkin", h.GetAdditionalNotesByCheckin)
	g.GET("/pacu-additional-nursing-notes/:id", h.GetAdditionalNotes)
	g.PUT("/pacu-additional-nursing-notes/:id", h.UpdateAdditionalNotes)
	g.POST("/pacu-additional-nursing-notes/:id/sign", h.SignAdditionalNotes)
	g.POST("/pacu-additional-nursing-notes/:id/lock", h.LockAdditionalNotes)
	g.GET("/pacu-additional-nursing-notes/:id/verify", h.VerifyAdditionalNotes)
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
		return echo.NewHTTPError(http.StatusNotFound, "pacu form not found")
	case errors.Is(err, signing.ErrAlreadySigned):
		return echo.NewHTTPError(http.StatusConflict, "document is already signed")
	case errors.Is(err, signing.ErrDocumentLocked):
		return echo.NewHTTPError(http.StatusConflict, "document is locked; edits are not allowed")
	case errors.Is(err, signing.ErrNoSignatures):
		return echo.NewHTTPError(http.StatusConflict, "document has no signatures yet")
	case errors.Is(err, signing.ErrAllSlotsFilled):
		return echo.NewHTTPError(http.StatusConflict, "all signature slots are filled")
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

// -- PACU record --

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

// -- Progress notes --

func (h *Handler) CreateProgressNotes(c echo.Context) error {
	var in ProgressNotes
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if in.CheckinID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "checkin_id is required")
	}
	out, err := h.svc.CreateProgressNotes(c.Request().Context(), &in, requestMeta(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) GetProgressNotes(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	out, err := h.svc.GetProgressNotes(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) GetProgressNotesByCheckin(c echo.Context) error {
	checkinID, err := uuid.Parse(c.QueryParam("checkin"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "checkin is required")
	}
	out, err := h.svc.GetProgressNotesByCheckin(c.Request().Context(), checkinID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) UpdateProgressNotes(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in ProgressNotes
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.UpdateProgressNotes(c.Request().Context(), id, &in, requestMeta(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) SignProgressNotes(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req signRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.SignProgressNotes(c.Request().Context(), id, req.SignatureDataURL, requestMeta(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) CoSignProgressNotes(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req signRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.CoSignProgressNotes(c.Request().Context(), id, req.SignatureDataURL, requestMeta(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) VerifyProgressNotes(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	valid, err := h.svc.VerifyProgressNotes(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "valid": valid})
}

// -- Additional nursing notes --

func (h *Handler) CreateAdditionalNotes(c echo.Context) error {
	var in AdditionalNotes
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if in.CheckinID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "checkin_id is required")
	}
	out, err := h.svc.CreateAdditionalNotes(c.Request().Context(), &in, requestMeta(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) GetAdditionalNotes(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	out, err := h.svc.GetAdditionalNotes(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) GetAdditionalNotesByCheckin(c echo.Context) error {
	checkinID, err := uuid.Parse(c.QueryParam("checkin"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "checkin is required")
	}
	out, err := h.svc.GetAdditionalNotesByCheckin(c.Request().Context(), checkinID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) UpdateAdditionalNotes(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in AdditionalNotes
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.UpdateAdditionalNotes(c.Request().Context(), id, &in, requestMeta(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) SignAdditionalNotes(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req signRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.SignAdditionalNotes(c.Request().Context(), id, req.SignatureDataURL, requestMeta(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) LockAdditionalNotes(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	out, err := h.svc.LockAdditionalNotes(c.Request().Context(), id, requestMeta(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) VerifyAdditionalNotes(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	valid, err := h.svc.VerifyAdditionalNotes(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "valid": valid})
}
