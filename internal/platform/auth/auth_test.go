package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var testKey = []byte("test-signing-key")

func signToken(t *testing.T, sub, role string, expiry time.Duration) string {
	t.Helper()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
		},
		Role: role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(testKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	userID := uuid.New()
	token := signToken(t, userID.String(), "patient", time.Hour)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		if got := UserID(c); got != userID {
			t.Errorf("expected user %s, got %s", userID, got)
		}
		if role, _ := c.Get("user_role").(string); role != "patient" {
			t.Errorf("expected role patient, got %s", role)
		}
		if got := UserIDFromContext(c.Request().Context()); got != userID {
			t.Errorf("expected user %s in request context, got %s", userID, got)
		}
		return c.NoContent(http.StatusOK)
	}

	mw := JWTMiddleware(JWTConfig{SigningKey: testKey})
	if err := mw(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestJWTMiddleware_MissingToken(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	mw := JWTMiddleware(JWTConfig{SigningKey: testKey})
	err := mw(func(c echo.Context) error { return nil })(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	token := signToken(t, uuid.NewString(), "patient", -time.Hour)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	mw := JWTMiddleware(JWTConfig{SigningKey: testKey})
	err := mw(func(c echo.Context) error { return nil })(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %v", err)
	}
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: "patient",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, _ := token.SignedString([]byte("some-other-key"))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	mw := JWTMiddleware(JWTConfig{SigningKey: testKey})
	err := mw(func(c echo.Context) error { return nil })(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong key, got %v", err)
	}
}

func TestDevAuthMiddleware_DefaultsToAdmin(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	mw := DevAuthMiddleware()
	err := mw(func(c echo.Context) error {
		if role, _ := c.Get("user_role").(string); role != "admin" {
			t.Errorf("expected admin role, got %s", role)
		}
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDevAuthMiddleware_DebugHeaders(t *testing.T) {
	userID := uuid.New()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Debug-User", userID.String())
	req.Header.Set("X-Debug-Role", "patient")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	mw := DevAuthMiddleware()
	err := mw(func(c echo.Context) error {
		if got := UserID(c); got != userID {
			t.Errorf("expected user %s, got %s", userID, got)
		}
		if role, _ := c.Get("user_role").(string); role != "patient" {
			t.Errorf("expected role patient, got %s", role)
		}
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequireRole(t *testing.T) {
	e := echo.New()

	cases := []struct {
		role     string
		allowed  []string
		wantCode int
	}{
		{"admin", []string{"admin", "billing"}, http.StatusOK},
		{"billing", []string{"admin", "billing"}, http.StatusOK},
		{"patient", []string{"admin", "billing"}, http.StatusForbidden},
		{"", []string{"admin"}, http.StatusUnauthorized},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		if tc.role != "" {
			c.Set("user_role", tc.role)
		}

		mw := RequireRole(tc.allowed...)
		err := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c)

		code := http.StatusOK
		if httpErr, ok := err.(*echo.HTTPError); ok {
			code = httpErr.Code
		}
		if code != tc.wantCode {
			t.Errorf("role %q allowed %v: expected %d, got %d", tc.role, tc.allowed, tc.wantCode, code)
		}
	}
}
