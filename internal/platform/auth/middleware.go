package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey   contextKey = "user_id"
	UserRoleKey contextKey = "user_role"
)

// Claims are the JWT claims issued by the identity service. Subject carries
// the user's UUID.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
}

type JWTConfig struct {
	SigningKey []byte
}

// JWTMiddleware validates a Bearer token signed with the shared HMAC key and
// places the caller's identity in both the echo and request contexts.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			tokenStr := strings.TrimPrefix(header, "Bearer ")

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return cfg.SigningKey, nil
			})
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			userID, err := uuid.Parse(claims.Subject)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token subject")
			}

			setIdentity(c, userID, claims.Role)
			return next(c)
		}
	}
}

// DevAuthMiddleware grants every request admin access, or the identity given
// in X-Debug-User / X-Debug-Role headers. Development only.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
			role := "admin"
			if v := c.Request().Header.Get("X-Debug-User"); v != "" {
				if id, err := uuid.Parse(v); err == nil {
					userID = id
				}
			}
			if v := c.Request().Header.Get("X-Debug-Role"); v != "" {
				role = v
			}
			setIdentity(c, userID, role)
			return next(c)
		}
	}
}

func setIdentity(c echo.Context, userID uuid.UUID, role string) {
	c.Set("user_id", userID.String())
	c.Set("user_role", role)
	ctx := c.Request().Context()
	ctx = context.WithValue(ctx, UserIDKey, userID)
	ctx = context.WithValue(ctx, UserRoleKey, role)
	c.SetRequest(c.Request().WithContext(ctx))
}

// UserID returns the authenticated caller's ID, or uuid.Nil when the request
// is unauthenticated.
func UserID(c echo.Context) uuid.UUID {
	if v, ok := c.Get("user_id").(string); ok {
		if id, err := uuid.Parse(v); err == nil {
			return id
		}
	}
	return uuid.Nil
}

// UserIDFromContext returns the caller's ID from a request context.
func UserIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(UserIDKey).(uuid.UUID)
	return id
}

// RoleFromContext returns the caller's role from a request context.
func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(UserRoleKey).(string)
	return role
}
