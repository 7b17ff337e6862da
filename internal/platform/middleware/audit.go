package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/surgicenter/emr/internal/platform/auth"
)

// Access describes one authenticated interaction with a protected resource,
// as seen by the HTTP layer. The recorder turns it into a ledger entry.
type Access struct {
	ActorID      string
	ActorName    string
	ActorRole    string
	TenantID     string
	Action       string // create, read, update, delete
	ResourceType string
	ResourceID   string
	IPAddress    string
	UserAgent    string
	Path         string
	Method       string
	RequestID    string
	StatusCode   int
}

// Recorder persists access records. Decoupled from the ledger service so the
// middleware stays testable; the recorder must be best-effort, a recording
// failure never fails the request.
type Recorder interface {
	RecordAccess(ctx context.Context, a Access) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, a Access) error

func (f RecorderFunc) RecordAccess(ctx context.Context, a Access) error {
	return f(ctx, a)
}

// Audit appends one ledger entry per authenticated request under /api/v1.
// Signature endpoints are skipped: the signing service writes its own entry
// inside the document transaction, and a second middleware entry would
// double-count the action.
func Audit(logger zerolog.Logger, recorder Recorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			if !auditablePath(path) {
				return next(c)
			}

			err := next(c)

			ctx := req.Context()
			actorID := auth.UserIDFromContext(ctx)
			if actorID == "" {
				return err
			}

			a := Access{
				ActorID:      actorID,
				ActorName:    auth.DisplayNameFromContext(ctx),
				ActorRole:    auth.PrimaryRole(ctx),
				Action:       methodToAction(req.Method),
				ResourceType: resourceTypeFromPath(path),
				ResourceID:   resourceIDFromPath(path),
				IPAddress:    c.RealIP(),
				UserAgent:    req.UserAgent(),
				Path:         path,
				Method:       req.Method,
				StatusCode:   c.Response().Status,
			}
			if tid, ok := c.Get("tenant_id").(string); ok {
				a.TenantID = tid
			}
			if rid, ok := c.Get("request_id").(string); ok {
				a.RequestID = rid
			}

			if recorder != nil {
				if recErr := recorder.RecordAccess(ctx, a); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", a.RequestID).
						Str("path", a.Path).
						Msg("failed to record access")
				}
			}

			return err
		}
	}
}

func auditablePath(path string) bool {
	if !strings.HasPrefix(path, "/api/v1/") {
		return false
	}
	// The ledger's own read endpoints, and the transactional sign path.
	if strings.HasPrefix(path, "/api/v1/audit-entries") {
		return false
	}
	if strings.HasSuffix(path, "/sign") || strings.HasSuffix(path, "/cosign") || strings.HasSuffix(path, "/lock") {
		return false
	}
	return true
}

func methodToAction(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return "read"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// resourceTags maps route collection segments to the resource type tags the
// services write, so middleware and service entries share one vocabulary
// and recent-for-actor queries match either source.
var resourceTags = map[string]string{
	"surgical-consents":             "surgical_consent",
	"anesthesia-consents":           "anesthesia_consent",
	"pre-anesthesia-assessments":    "pre_anesthesia_assessment",
	"anesthesia-records":            "anesthesia_record",
	"history-physicals":             "history_physical",
	"operative-records":             "operative_record",
	"pacu-records":                  "pacu_record",
	"pacu-progress-notes":           "pacu_progress_notes",
	"pacu-additional-nursing-notes": "pacu_additional_nursing_notes",
}

// resourceTypeFromPath maps /api/v1/pacu-records/42 to "pacu_record".
func resourceTypeFromPath(path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/api/v1/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return "unknown"
	}
	if tag, ok := resourceTags[segments[0]]; ok {
		return tag
	}
	return strings.ReplaceAll(segments[0], "-", "_")
}

// resourceIDFromPath maps /api/v1/pacu-records/42 to "42", empty for
// collection paths.
func resourceIDFromPath(path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/api/v1/"), "/")
	if len(segments) > 1 && segments[1] != "" {
		return segments[1]
	}
	return ""
}
