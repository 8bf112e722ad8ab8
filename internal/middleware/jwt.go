package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-arbiter/internal/model"
)

// Context keys set by JWTAuth.
const (
	ContextUserID = "user_id"
	ContextRole   = "role"
	ContextCaller = "caller"
)

// JWTAuth returns an Echo middleware that validates an HS256 Bearer access
// token issued by the identity service and stores the caller in the
// request context.  The token's "sub" claim is the user id; it may be a
// string or a number.  A missing role claim means RoleUser.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, echo.ErrUnauthorized
				}
				return []byte(secret), nil
			})
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "invalid token"})
			}
			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "invalid claims"})
			}
			sub := subject(claims["sub"])
			if sub == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "token has no subject"})
			}
			role, _ := claims["role"].(string)
			if role == "" {
				role = model.RoleUser
			}

			c.Set(ContextUserID, sub)
			c.Set(ContextRole, role)
			c.Set(ContextCaller, model.Caller{UserID: sub, Role: role})
			return next(c)
		}
	}
}

// subject normalises the sub claim; JSON numbers decode as float64.
func subject(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t <= 0 || t != float64(uint64(t)) {
			return ""
		}
		return strconv.FormatUint(uint64(t), 10)
	}
	return ""
}
