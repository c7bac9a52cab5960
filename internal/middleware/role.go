package middleware // middleware provides shared request processing for handlers

import (
	"context"  // bounded wait for hydration
	"net/http" // http package defines standard HTTP status codes
	"time"

	"github.com/labstack/echo/v4" // echo provides middleware chaining and context

	"github.com/iliyamo/rentdesk-portal/internal/model" // role names
)

// RequireRole returns a middleware that lets a session action through only
// when the request's session is authenticated and, if roles are given, holds
// one of them.  It is meant for the JSON session endpoints; pages are
// protected by the route guard instead.  An unauthenticated session gets 401
// and a role outside the set gets 403.  The store is given up to wait to
// finish hydrating first.
func RequireRole(wait time.Duration, roles ...model.Role) echo.MiddlewareFunc {
	// Build a set of allowed roles for constant-time lookups.
	allowed := make(map[model.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			st := SessionFrom(c)
			if st == nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
			}
			ctx, cancel := context.WithTimeout(c.Request().Context(), wait)
			_ = st.WaitSettled(ctx)
			cancel()

			snap := st.Snapshot()
			if !snap.Authenticated {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
			}
			if len(allowed) > 0 && !allowed[snap.Role()] {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}
