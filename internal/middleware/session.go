package middleware // middleware holds the portal's shared request processing

import (
	"net/http" // cookie attributes
	"time"     // cookie lifetime

	"github.com/google/uuid"      // session ids
	"github.com/labstack/echo/v4" // echo middleware types

	"github.com/iliyamo/rentdesk-portal/internal/session" // per-browser session stores
)

// Context keys set by SessionCookie.
const (
	sessionKey = "session"
	rotateKey  = "session.rotate"
)

// SessionCookieConfig controls the browser session cookie.
type SessionCookieConfig struct {
	Name   string
	Secure bool
	MaxAge time.Duration // zero means a browser-session cookie
}

// SessionCookie resolves the browser's session store.  A request without a
// valid session id cookie gets a fresh random id and a Set-Cookie header.  The
// store is available to later handlers through SessionFrom.
func SessionCookie(m *session.Manager, cfg SessionCookieConfig) echo.MiddlewareFunc {
	if cfg.Name == "" {
		cfg.Name = "rentdesk_sid"
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := ""
			if ck, err := c.Cookie(cfg.Name); err == nil {
				if _, err := uuid.Parse(ck.Value); err == nil {
					id = ck.Value
				}
			}
			if id == "" {
				id = uuid.NewString()
				c.SetCookie(cfg.cookie(id))
			}
			c.Set(sessionKey, m.Open(id))
			c.Set(rotateKey, func() (*session.Store, error) {
				newID := uuid.NewString()
				st, err := m.Rotate(c.Request().Context(), SessionFrom(c), newID)
				if st == nil {
					return nil, err
				}
				c.SetCookie(cfg.cookie(newID))
				c.Set(sessionKey, st)
				return st, err
			})
			return next(c)
		}
	}
}

func (cfg SessionCookieConfig) cookie(id string) *http.Cookie {
	ck := &http.Cookie{
		Name:     cfg.Name,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if cfg.MaxAge > 0 {
		ck.MaxAge = int(cfg.MaxAge / time.Second)
	}
	return ck
}

// RotateSession gives the request a fresh session id and a new Set-Cookie,
// closing the session under the old id.  Call it before Login.  Without
// SessionCookie in the chain it returns the current store unchanged.  A
// non-nil store comes back even when closing the old session failed.
func RotateSession(c echo.Context) (*session.Store, error) {
	rotate, ok := c.Get(rotateKey).(func() (*session.Store, error))
	if !ok {
		return SessionFrom(c), nil
	}
	return rotate()
}

// SessionFrom returns the store set by SessionCookie, or nil.
func SessionFrom(c echo.Context) *session.Store {
	st, _ := c.Get(sessionKey).(*session.Store)
	return st
}
