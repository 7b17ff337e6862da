package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/surgicenter/emr/internal/platform/auth"
)

func TestRequestID_Generated(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := RequestID()(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}

	rid, _ := c.Get("request_id").(string)
	if rid == "" {
		t.Error("request_id not set")
	}
	if got := rec.Header().Get("X-Request-ID"); got != rid {
		t.Errorf("response header = %q, want %q", got, rid)
	}
}

func TestRequestID_Propagated(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := RequestID()(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rid, _ := c.Get("request_id").(string); rid != "upstream-id" {
		t.Errorf("request_id = %q, want upstream-id", rid)
	}
}

func TestRecovery(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	h := Recovery(zerolog.Nop())(func(c echo.Context) error { panic("boom") })
	err := h(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %v", err)
	}
}

func TestRateLimit_Exhaustion(t *testing.T) {
	e := echo.New()
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 2})
	handler := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		c := e.NewContext(req, httptest.NewRecorder())
		if err := handler(c); err != nil {
			t.Fatalf("request %d should pass: %v", i, err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := handler(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header not set")
	}
}

func TestAudit_RecordsAuthenticatedAccess(t *testing.T) {
	e := echo.New()
	var got *Access
	recorder := RecorderFunc(func(_ context.Context, a Access) error {
		got = &a
		return nil
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/pacu-records/42", nil)
	ctx := context.WithValue(req.Context(), auth.UserIDKey, "u-9")
	ctx = context.WithValue(ctx, auth.DisplayNameKey, "Dr. Reyes")
	ctx = context.WithValue(ctx, auth.UserRolesKey, []string{"physician"})
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("tenant_id", "lakeside")

	h := Audit(zerolog.Nop(), recorder)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}

	if got == nil {
		t.Fatal("access not recorded")
	}
	if got.Action != "read" || got.ResourceType != "pacu_record" || got.ResourceID != "42" {
		t.Errorf("unexpected access: %+v", got)
	}
	if got.ActorName != "Dr. Reyes" || got.ActorRole != "physician" {
		t.Errorf("actor snapshot wrong: %+v", got)
	}
	if got.TenantID != "lakeside" {
		t.Errorf("tenant = %q, want lakeside", got.TenantID)
	}
}

func TestAudit_SkipsUnauthenticatedAndNonAPI(t *testing.T) {
	e := echo.New()
	calls := 0
	recorder := RecorderFunc(func(_ context.Context, a Access) error {
		calls++
		return nil
	})
	h := Audit(zerolog.Nop(), recorder)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	// No authenticated user.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/pacu-records", nil)
	if err := h(e.NewContext(req, httptest.NewRecorder())); err != nil {
		t.Fatalf("handler: %v", err)
	}

	// Outside the API prefix.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	if err := h(e.NewContext(req, httptest.NewRecorder())); err != nil {
		t.Fatalf("handler: %v", err)
	}

	// Ledger's own endpoint.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/audit-entries", nil)
	if err := h(e.NewContext(req, httptest.NewRecorder())); err != nil {
		t.Fatalf("handler: %v", err)
	}

	// Sign endpoints write their own transactional entries.
	for _, p := range []string{
		"/api/v1/pacu-records/42/sign",
		"/api/v1/pacu-progress-notes/42/cosign",
		"/api/v1/pacu-additional-nursing-notes/42/lock",
	} {
		req = httptest.NewRequest(http.MethodPost, p, nil)
		if err := h(e.NewContext(req, httptest.NewRecorder())); err != nil {
			t.Fatalf("handler %s: %v", p, err)
		}
	}

	if calls != 0 {
		t.Errorf("recorder called %d times, want 0", calls)
	}
}

func TestAudit_RecorderFailureDoesNotFailRequest(t *testing.T) {
	e := echo.New()
	recorder := RecorderFunc(func(_ context.Context, a Access) error {
		return context.DeadlineExceeded
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/consents", nil)
	ctx := context.WithValue(req.Context(), auth.UserIDKey, "u-1")
	req = req.WithContext(ctx)
	c := e.NewContext(req, httptest.NewRecorder())

	h := Audit(zerolog.Nop(), recorder)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("request must not fail on recorder error, got %v", err)
	}
}

func TestResourceTypeFromPathMatchesServiceTags(t *testing.T) {
	cases := []struct{ path, want string }{
		{"/api/v1/surgical-consents/42", "surgical_consent"},
		{"/api/v1/pre-anesthesia-assessments", "pre_anesthesia_assessment"},
		{"/api/v1/pacu-records/42", "pacu_record"},
		{"/api/v1/pacu-progress-notes/42", "pacu_progress_notes"},
		{"/api/v1/pacu-additional-nursing-notes", "pacu_additional_nursing_notes"},
		{"/api/v1/future-things/1", "future_things"},
		{"/api/v1/", "unknown"},
	}
	for _, tc := range cases {
		if got := resourceTypeFromPath(tc.path); got != tc.want {
			t.Errorf("resourceTypeFromPath(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}
