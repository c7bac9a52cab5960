package guard

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/rentdesk-portal/internal/session"
)

// MiddlewareConfig wires Middleware.  Policy and Store are required.
type MiddlewareConfig struct {
	Policy *Policy

	// Store resolves the request's session store.  A nil result is treated
	// as an empty, hydrated session.
	Store func(c echo.Context) *session.Store

	// HydrationWait bounds how long a request waits for the store to finish
	// hydrating or refreshing before the loading view is served.
	HydrationWait time.Duration

	// Loading renders the neutral loading view.  The default answers 202
	// with Retry-After and {"status":"loading"}.
	Loading echo.HandlerFunc

	Logger zerolog.Logger
}

// Middleware evaluates the policy for each request and either calls the
// page handler, redirects with 302 Found, or serves the loading view.
func Middleware(cfg MiddlewareConfig) echo.MiddlewareFunc {
	if cfg.Policy == nil || cfg.Store == nil {
		panic("guard: MiddlewareConfig needs a Policy and a Store resolver")
	}
	if cfg.Loading == nil {
		cfg.Loading = defaultLoading(cfg.HydrationWait)
	}
	log := cfg.Logger.With().Str("component", "guard").Logger()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			snap := session.Snapshot{Hydrated: true}
			st := cfg.Store(c)
			if st != nil {
				if cfg.HydrationWait > 0 {
					ctx, cancel := context.WithTimeout(c.Request().Context(), cfg.HydrationWait)
					_ = st.WaitSettled(ctx) // on timeout the snapshot says not ready
					cancel()
				}
				snap = st.Snapshot()
			}

			path := c.Request().URL.Path
			d := cfg.Policy.Evaluate(snap, path)
			log.Debug().
				Str("path", path).
				Str("action", d.Action.String()).
				Str("target", d.Target).
				Str("reason", d.Reason).
				Msg("route decision")

			if d.ClearSession && st != nil {
				if err := st.Logout(c.Request().Context()); err != nil {
					log.Warn().Err(err).Msg("clear unroutable session")
				}
				log.Info().Str("role", string(snap.Role())).Msg("unroutable session cleared")
			}

			switch d.Action {
			case Render:
				return next(c)
			case Redirect:
				return c.Redirect(http.StatusFound, d.Target)
			default:
				return cfg.Loading(c)
			}
		}
	}
}

func defaultLoading(wait time.Duration) echo.HandlerFunc {
	retry := int(wait / time.Second)
	if retry < 1 {
		retry = 1
	}
	return func(c echo.Context) error {
		c.Response().Header().Set("Retry-After", strconv.Itoa(retry))
		c.Response().Header().Set("Cache-Control", "no-store")
		return c.JSON(http.StatusAccepted, echo.Map{"status": "loading"})
	}
}
