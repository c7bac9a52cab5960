// Package router assembles the portal's echo instance.
package router

import (
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/iliyamo/rentdesk-portal/internal/guard"
	"github.com/iliyamo/rentdesk-portal/internal/handler"
	"github.com/iliyamo/rentdesk-portal/internal/middleware"
	"github.com/iliyamo/rentdesk-portal/internal/session"
)

// Deps is everything New needs.  Limiter and Health may be nil.
type Deps struct {
	Manager       *session.Manager
	Policy        *guard.Policy
	API           handler.AuthAPI
	Cookie        middleware.SessionCookieConfig
	HydrationWait time.Duration
	Limiter       echo.MiddlewareFunc
	Health        map[string]handler.Pinger
	Logger        zerolog.Logger
}

// New builds the echo instance with every route registered.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// "/admin/" and "/admin" are the same page.
	e.Pre(echomw.RemoveTrailingSlash())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(d.Logger))

	e.GET("/healthz", handler.Health(d.Health))

	sess := middleware.SessionCookie(d.Manager, d.Cookie)
	RegisterSession(e, handler.NewSessionHandler(d.API, d.Policy, d.HydrationWait, d.Logger), sess, d.HydrationWait, d.Limiter)
	RegisterPages(e, handler.NewPageHandler(d.Policy), sess, guard.Middleware(guard.MiddlewareConfig{
		Policy:        d.Policy,
		Store:         middleware.SessionFrom,
		HydrationWait: d.HydrationWait,
		Logger:        d.Logger,
	}))
	return e
}
