package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-registration/internal/handler"
	"github.com/iliyamo/event-registration/internal/middleware"
)

// RegisterAdmin registers the admin code flow and the ADMIN-scoped content
// management endpoints.  Requesting and confirming a code is open (the
// allow-list check happens in the handler); the create endpoints require a
// valid JWT carrying the ADMIN role.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, s *handler.SessionHandler, sp *handler.SpeakerHandler, jwtSecret string) {
	g := e.Group("/api/admin")
	g.POST("/request", a.Request)
	g.POST("/confirm", a.Confirm)

	auth := e.Group(
		"/api",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole("ADMIN"),
	)
	auth.POST("/session", s.Create)
	auth.POST("/speaker", sp.Create)
}
