// Package router registers the HTTP routes.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-arbiter/internal/handler"
	"github.com/iliyamo/seat-arbiter/internal/middleware"
	"github.com/iliyamo/seat-arbiter/internal/model"
)

// Deps bundles what the routes need.
type Deps struct {
	Bookings  *handler.BookingHandler
	Realtime  *handler.RealtimeHandler
	Health    echo.HandlerFunc
	JWTSecret string
	RateLimit echo.MiddlewareFunc
}

// Register mounts every route on e.  Seat snapshots and the real-time
// channel are public; everything else needs a valid access token.  The
// mutating routes also pass through the rate limiter.
func Register(e *echo.Echo, d Deps) {
	e.GET("/healthz", d.Health)

	pub := e.Group("/v1")
	pub.GET("/events/:id/seats", d.Bookings.Seats)
	pub.GET("/events/:id/ws", d.Realtime.Serve)

	limit := d.RateLimit
	if limit == nil {
		limit = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	auth := e.Group("/v1", middleware.JWTAuth(d.JWTSecret), middleware.RequireRole(model.RoleUser, model.RoleAdmin))
	auth.POST("/seats/:id/hold", d.Bookings.Hold, limit)
	auth.POST("/seats/:id/confirm", d.Bookings.Confirm, limit)
	auth.POST("/bookings/:id/cancel", d.Bookings.Cancel, limit)
	auth.GET("/bookings/:id", d.Bookings.GetBooking)
	auth.GET("/my-bookings", d.Bookings.MyBookings)
	auth.GET("/events/:id/my-holds", d.Bookings.MyHolds)

	admin := e.Group("/v1/admin", middleware.JWTAuth(d.JWTSecret), middleware.RequireRole(model.RoleAdmin))
	admin.POST("/events/:id/seats", d.Bookings.Provision, limit)
}
