package router // package router defines how HTTP routes are registered for the API

import (
	"context"

	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/ticket-booking/internal/handler"    // import the handlers that implement business logic
	"github.com/iliyamo/ticket-booking/internal/middleware" // import middleware for JWT authentication and role enforcement
)

// RegisterRoutes registers the unauthenticated operational endpoints:
// liveness, readiness and Prometheus metrics.
func RegisterRoutes(e *echo.Echo, ready func(context.Context) error) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(ready))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterPublic registers the unauthenticated event reads.  Only the
// event detail goes through the event cache; the seat ledger is always
// read fresh.
func RegisterPublic(e *echo.Echo, h *handler.EventHandler, cache echo.MiddlewareFunc) {
	e.GET("/v1/events/:id", h.Get, cache)
	e.GET("/v1/events/:id/seats", h.Seats)
}

// RegisterBookings registers the booking endpoints under /v1/bookings.  All
// routes require a valid JWT; any role may hold bookings.  Writes go
// through the rate limiter.  Confirm and cancel accept POST and PUT.
func RegisterBookings(e *echo.Echo, h *handler.BookingHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	g := e.Group("/v1/bookings", middleware.JWTAuth(jwtSecret))
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("", h.Create, limit)
	g.POST("/:id/confirm", h.Confirm, limit)
	g.PUT("/:id/confirm", h.Confirm, limit)
	g.POST("/:id/cancel", h.Cancel, limit)
	g.PUT("/:id/cancel", h.Cancel, limit)
}

// RegisterAdmin registers the catalog management endpoints under
// /v1/admin.  They require the ADMIN or VENUE_MANAGER role.
func RegisterAdmin(e *echo.Echo, h *handler.EventHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleAdmin, middleware.RoleVenueManager),
	)
	g.POST("/events", h.Create)
	g.PATCH("/events/:id/status", h.UpdateStatus)
	g.GET("/events/:id/bookings", h.Bookings)
	g.POST("/events/:id/reconcile", h.Reconcile)
}
