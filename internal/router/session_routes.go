package router

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/rentdesk-portal/internal/handler"
	"github.com/iliyamo/rentdesk-portal/internal/middleware"
)

// RegisterSession mounts the JSON session actions under /session.  They sit
// outside the route guard.  Login and the password flows take the rate
// limiter when one is given; refresh and profile need a logged-in session.
func RegisterSession(e *echo.Echo, h *handler.SessionHandler, sess echo.MiddlewareFunc, wait time.Duration, limiter echo.MiddlewareFunc) {
	g := e.Group("/session", sess)

	var limited []echo.MiddlewareFunc
	if limiter != nil {
		limited = append(limited, limiter)
	}

	g.GET("", h.Current)
	g.POST("/login", h.Login, limited...)
	g.POST("/logout", h.Logout)

	// Password reset is open to anonymous sessions.
	g.POST("/forgot-password", h.ForgotPassword, limited...)
	g.POST("/update-password", h.UpdatePassword, limited...)

	authed := middleware.RequireRole(wait)
	g.POST("/refresh", h.Refresh, authed)
	g.PATCH("/profile", h.UpdateProfile, authed)
}
