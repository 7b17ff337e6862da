package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testKey = []byte("unit-test-signing-key")

func signToken(t *testing.T, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(testKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func runMiddleware(mw echo.MiddlewareFunc, req *http.Request) (echo.Context, error) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	handler := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	return c, handler(c)
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-77",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID:    "lakeside",
		Username:    "rn.wallace",
		DisplayName: "Dana Wallace, RN",
		Roles:       []string{"nurse"},
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, claims))

	c, err := runMiddleware(JWTMiddleware(JWTConfig{SigningKey: testKey}), req)
	if err != nil {
		t.Fatalf("middleware returned error: %v", err)
	}

	ctx := c.Request().Context()
	if got := UserIDFromContext(ctx); got != "u-77" {
		t.Errorf("user id = %q, want u-77", got)
	}
	if got := DisplayNameFromContext(ctx); got != "Dana Wallace, RN" {
		t.Errorf("display name = %q", got)
	}
	if got := PrimaryRole(ctx); got != "nurse" {
		t.Errorf("primary role = %q, want nurse", got)
	}
	if got, _ := c.Get("jwt_tenant_id").(string); got != "lakeside" {
		t.Errorf("jwt_tenant_id = %q, want lakeside", got)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := runMiddleware(JWTMiddleware(JWTConfig{SigningKey: testKey}), req)

	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestJWTMiddleware_BadSignature(t *testing.T) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, _ := token.SignedString([]byte("some-other-key"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+s)

	_, err := runMiddleware(JWTMiddleware(JWTConfig{SigningKey: testKey}), req)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestDevAuthMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c, err := runMiddleware(DevAuthMiddleware(), req)
	if err != nil {
		t.Fatalf("middleware returned error: %v", err)
	}
	if got := PrimaryRole(c.Request().Context()); got != "admin" {
		t.Errorf("dev role = %q, want admin", got)
	}
}

func TestRequireRole(t *testing.T) {
	makeReq := func(roles []string) error {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		ctx := context.WithValue(req.Context(), UserRolesKey, roles)
		req = req.WithContext(ctx)
		_, err := runMiddleware(RequireRole("physician", "nurse"), req)
		return err
	}

	if err := makeReq([]string{"nurse"}); err != nil {
		t.Errorf("nurse should pass: %v", err)
	}
	if err := makeReq([]string{"admin"}); err != nil {
		t.Errorf("admin should pass: %v", err)
	}
	err := makeReq([]string{"registrar"})
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Errorf("registrar should be forbidden, got %v", err)
	}
}

func TestDisplayNameFallbacks(t *testing.T) {
	ctx := context.Background()
	if got := DisplayNameFromContext(ctx); got != "anonymous" {
		t.Errorf("empty context display name = %q, want anonymous", got)
	}
	ctx = context.WithValue(ctx, UserNameKey, "crna.ortiz")
	if got := DisplayNameFromContext(ctx); got != "crna.ortiz" {
		t.Errorf("display name = %q, want crna.ortiz", got)
	}
	if got := PrimaryRole(context.Background()); got != "unknown" {
		t.Errorf("empty context role = %q, want unknown", got)
	}
}
