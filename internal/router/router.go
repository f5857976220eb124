package router // router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // Echo web framework used for routing

	"github.com/iliyamo/event-registration/internal/handler" // handlers implementing the business logic
)

// RegisterRoutes registers routes that do not require authentication and are
// not part of any feature group.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	// Load balancers and uptime monitors hit this endpoint to verify the
	// service is running.
	e.GET("/healthz", handler.Health)
}

// RegisterPublic registers the unauthenticated browse endpoints for sessions
// and speakers.  The optional cache middleware wraps the list endpoints so
// repeated catalogue reads are served from Redis; handlers behind it must
// only ever return public data.
func RegisterPublic(e *echo.Echo, s *handler.SessionHandler, sp *handler.SpeakerHandler, cache echo.MiddlewareFunc) {
	e.GET("/api/session", s.List, cache)
	e.GET("/api/session/:id", s.Get, cache)
	e.GET("/api/speaker", sp.List, cache)
}
