package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/rentdesk-portal/internal/handler"
)

// RegisterPages mounts every page behind guard.  The guard decides whether
// a page renders; the routes here only pick the view.  Unknown paths fall
// into the group's not-found route and get the same redirects.
func RegisterPages(e *echo.Echo, h *handler.PageHandler, sess, guard echo.MiddlewareFunc) {
	g := e.Group("", sess, guard)

	// ---- Public ----
	g.GET("/", h.Render("login", "Sign in"))
	g.GET("/forgot-password", h.Render("forgot-password", "Forgot password"))
	g.GET("/update-password", h.Render("update-password", "Choose a new password"))
	g.GET("/unauthorized", h.Render("unauthorized", "Access denied"))

	// ---- Super admin ----
	g.GET("/super", h.Render("super.dashboard", "Dashboard"))
	g.GET("/super/admin", h.Render("super.admins", "Admins"))
	g.GET("/super/payments", h.Render("super.payments", "Payments"))
	g.GET("/super/property", h.Render("super.properties", "Properties"))
	g.GET("/super/property/:id", h.Render("super.property", "Property", "id"))

	// ---- Admin ----
	g.GET("/admin", h.Render("admin.dashboard", "Dashboard"))
	g.GET("/admin/due-rents", h.Render("admin.due-rents", "Due rents"))
	g.GET("/admin/payments", h.Render("admin.payments", "Payments"))
	g.GET("/admin/property", h.Render("admin.properties", "Properties"))
	g.GET("/admin/property/:id", h.Render("admin.property", "Property", "id"))
	g.GET("/admin/property/notification/:id", h.Render("admin.notification", "Notification", "id"))

	// ---- Tenant ----
	g.GET("/tenant", h.Render("tenant.dashboard", "Dashboard"))
}
