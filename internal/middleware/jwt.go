package middleware // middleware provides reusable HTTP middleware for the API

import (
	"net/http" // HTTP status codes for responses
	"strings"  // prefix checking and trimming of the Authorization header

	"github.com/golang-jwt/jwt/v5" // JWT parsing and validation
	"github.com/labstack/echo/v4"  // Echo framework middleware plumbing
)

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// injects the token's subject and role claims into the request context.  The
// provided secret must match the one used when issuing tokens.  Protected
// routes wrapped by this middleware can read the authenticated identity via
// `c.Get("email")` and `c.Get("role")`.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// A valid header is "Bearer <token>"; anything else is rejected
			// before we bother parsing.
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			// Parse with HS256 and our secret.  The key callback doubles as
			// an algorithm check: tokens signed with anything but HMAC are
			// rejected outright.
			tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, echo.ErrUnauthorized
				}
				return []byte(secret), nil
			})
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}

			// Tokens issued by this service carry the user's email in the
			// subject claim.  Downstream consumers do their own assertions.
			c.Set("email", claims["sub"])
			c.Set("role", claims["role"])
			return next(c)
		}
	}
}
