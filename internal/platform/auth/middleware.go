// Package auth carries the staff session through the service. The
// external queue service owns authentication; this layer validates the
// staff JWT locally for role gating and passes the raw bearer token
// through to outbound backend calls.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	tokenKey contextKey = "bearer_token"

	// Echo context keys.
	UserIDKey    = "user_id"
	UserRolesKey = "user_roles"
)

// Claims are the staff token claims this service cares about.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// WithToken returns a context carrying the staff bearer token for
// outbound pass-through.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// TokenFromContext returns the pass-through bearer token, if any.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey).(string)
	return token
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// BearerPassthrough stashes the request's bearer token into the request
// context so the backend client can forward it unchanged. Requests
// without a token still proceed; role gating decides access.
func BearerPassthrough() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if token := bearerToken(c); token != "" {
				req := c.Request()
				c.SetRequest(req.WithContext(WithToken(req.Context(), token)))
			}
			return next(c)
		}
	}
}

// JWTMiddleware validates the staff token with the shared HS256 key and
// exposes the subject and roles on the echo context.
func JWTMiddleware(signingKey []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := bearerToken(c)
			if raw == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return signingKey, nil
			})
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.Set(UserIDKey, claims.Subject)
			c.Set(UserRolesKey, claims.Roles)
			return next(c)
		}
	}
}

// DevAuthMiddleware grants every request staff access. Development only.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(UserIDKey, "dev-user")
			c.Set(UserRolesKey, []string{"admin", "staff"})
			return next(c)
		}
	}
}

// RequireRole rejects requests whose token carries none of the given
// roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles, _ := c.Get(UserRolesKey).([]string)
			for _, have := range userRoles {
				for _, want := range roles {
					if have == want {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, "insufficient role")
		}
	}
}
