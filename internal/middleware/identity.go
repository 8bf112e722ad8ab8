package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-arbiter/internal/model"
)

// CallerFrom returns the caller stored by JWTAuth.
func CallerFrom(c echo.Context) (model.Caller, bool) {
	caller, ok := c.Get(ContextCaller).(model.Caller)
	return caller, ok && caller.UserID != ""
}

// userID returns the authenticated user id, or "anon" on public routes.
func userID(c echo.Context) string {
	if caller, ok := CallerFrom(c); ok {
		return caller.UserID
	}
	return "anon"
}
