package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/rentdesk-portal/internal/apiclient"
	"github.com/iliyamo/rentdesk-portal/internal/guard"
	"github.com/iliyamo/rentdesk-portal/internal/middleware"
	"github.com/iliyamo/rentdesk-portal/internal/model"
	"github.com/iliyamo/rentdesk-portal/internal/session"
)

// AuthAPI is the part of the REST API the session actions call.
type AuthAPI interface {
	Login(ctx context.Context, email, password string) (model.User, string, error)
	UpdateProfile(ctx context.Context, token string, patch model.UserPatch) (model.User, error)
	ForgotPassword(ctx context.Context, email string) error
	UpdatePassword(ctx context.Context, resetToken, password string) error
}

// SessionHandler serves the JSON session actions used by the login,
// password and profile forms.
type SessionHandler struct {
	API    AuthAPI
	Policy *guard.Policy
	Wait   time.Duration // hydration wait before reading the session
	Log    zerolog.Logger
}

func NewSessionHandler(api AuthAPI, policy *guard.Policy, wait time.Duration, log zerolog.Logger) *SessionHandler {
	if api == nil || policy == nil {
		panic("nil dependency passed to NewSessionHandler")
	}
	return &SessionHandler{API: api, Policy: policy, Wait: wait, Log: log}
}

// ----- DTOs -----

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotReq struct {
	Email string `json:"email"`
}

type updatePasswordReq struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type sessionResp struct {
	IsAuthenticated bool        `json:"isAuthenticated"`
	IsLoading       bool        `json:"isLoading"`
	Hydrated        bool        `json:"hydrated"`
	User            *model.User `json:"user"`
	Role            model.Role  `json:"role,omitempty"`
	FullName        string      `json:"fullName,omitempty"`
	Redirect        string      `json:"redirect,omitempty"`
}

func (h *SessionHandler) describe(snap session.Snapshot) sessionResp {
	resp := sessionResp{
		IsAuthenticated: snap.Authenticated,
		IsLoading:       snap.Loading,
		Hydrated:        snap.Hydrated,
		User:            snap.User,
		Role:            snap.Role(),
		FullName:        snap.FullName(),
	}
	if landing, ok := h.Policy.LandingFor(snap.Role()); ok && snap.Authenticated {
		resp.Redirect = landing
	}
	return resp
}

// store returns the request's session after giving it h.Wait to hydrate.
func (h *SessionHandler) store(c echo.Context) (*session.Store, error) {
	st := middleware.SessionFrom(c)
	if st == nil {
		return nil, c.JSON(http.StatusInternalServerError, echo.Map{"error": "no session"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Wait)
	defer cancel()
	if err := st.WaitSettled(ctx); err != nil {
		return nil, c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "session loading"})
	}
	return st, nil
}

// Current reports the session state the browser should render.
func (h *SessionHandler) Current(c echo.Context) error {
	st, err := h.store(c)
	if st == nil {
		return err
	}
	return c.JSON(http.StatusOK, h.describe(st.Snapshot()))
}

// Login verifies credentials with the API and starts the session.
func (h *SessionHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/password required"})
	}
	st, err := h.store(c)
	if st == nil {
		return err
	}

	user, token, err := h.API.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, apiclient.ErrUnauthorized) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
		}
		return h.upstreamError(c, err)
	}
	// A role the route table cannot place would only bounce between pages.
	if _, ok := h.Policy.LandingFor(user.UserType); !ok {
		h.Log.Warn().Str("user_id", user.ID).Str("role", string(user.UserType)).Msg("login: unsupported role")
		return c.JSON(http.StatusForbidden, echo.Map{"error": "account type not supported"})
	}

	// A fresh id per login: an id planted before authentication never
	// becomes an authenticated session.
	st, err = middleware.RotateSession(c)
	if st == nil {
		h.Log.Error().Err(err).Msg("login: rotate session id")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "session unavailable"})
	}
	if err != nil {
		h.Log.Warn().Err(err).Msg("login: close previous session")
	}

	if err := st.Login(c.Request().Context(), user, token); err != nil {
		// The session works for this process even if it is not persisted.
		h.Log.Error().Err(err).Msg("login: persist session")
	}
	return c.JSON(http.StatusOK, h.describe(st.Snapshot()))
}

// Logout ends the session.  It always succeeds from the browser's view.
func (h *SessionHandler) Logout(c echo.Context) error {
	st, err := h.store(c)
	if st == nil {
		return err
	}
	if err := st.Logout(c.Request().Context()); err != nil {
		h.Log.Error().Err(err).Msg("logout: delete persisted session")
	}
	return c.JSON(http.StatusOK, sessionResp{Hydrated: true, Redirect: h.Policy.LoginPath})
}

// Refresh re-fetches the user from the API.
func (h *SessionHandler) Refresh(c echo.Context) error {
	st, err := h.store(c)
	if st == nil {
		return err
	}
	if err := st.RefreshUser(c.Request().Context()); err != nil {
		if errors.Is(err, apiclient.ErrUnauthorized) || errors.Is(err, session.ErrUnknownRole) {
			return c.JSON(http.StatusUnauthorized, sessionResp{Hydrated: true, Redirect: h.Policy.LoginPath})
		}
		return h.upstreamError(c, err)
	}
	return c.JSON(http.StatusOK, h.describe(st.Snapshot()))
}

// UpdateProfile saves a partial profile through the API and merges it into
// the session.
func (h *SessionHandler) UpdateProfile(c echo.Context) error {
	var patch model.UserPatch
	if err := c.Bind(&patch); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if patch.UserType != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "userType cannot be changed"})
	}
	if patch.Empty() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "nothing to update"})
	}
	st, err := h.store(c)
	if st == nil {
		return err
	}

	ctx := c.Request().Context()
	if _, err := h.API.UpdateProfile(ctx, st.Token(), patch); err != nil {
		if errors.Is(err, apiclient.ErrUnauthorized) {
			_ = st.Logout(ctx)
			return c.JSON(http.StatusUnauthorized, sessionResp{Hydrated: true, Redirect: h.Policy.LoginPath})
		}
		return h.upstreamError(c, err)
	}
	if err := st.UpdateUser(ctx, patch); err != nil {
		h.Log.Error().Err(err).Msg("profile: persist session")
	}
	return c.JSON(http.StatusOK, h.describe(st.Snapshot()))
}

// ForgotPassword starts a password reset.  The answer does not reveal
// whether the address exists.
func (h *SessionHandler) ForgotPassword(c echo.Context) error {
	var req forgotReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email required"})
	}
	err := h.API.ForgotPassword(c.Request().Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	var apiErr *apiclient.APIError
	if err != nil && !(errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound) {
		return h.upstreamError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// UpdatePassword completes a reset with the token from the reset mail.
func (h *SessionHandler) UpdatePassword(c echo.Context) error {
	var req updatePasswordReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if strings.TrimSpace(req.Token) == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token/password required"})
	}
	if err := h.API.UpdatePassword(c.Request().Context(), strings.TrimSpace(req.Token), req.Password); err != nil {
		if errors.Is(err, apiclient.ErrUnauthorized) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "reset link expired"})
		}
		return h.upstreamError(c, err)
	}
	return c.JSON(http.StatusOK, sessionResp{Hydrated: true, Redirect: h.Policy.LoginPath})
}

// upstreamError passes API client errors (4xx) through and reports
// everything else as a bad gateway.
func (h *SessionHandler) upstreamError(c echo.Context, err error) error {
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.Status)
		}
		return c.JSON(apiErr.Status, echo.Map{"error": msg})
	}
	h.Log.Warn().Err(err).Str("path", c.Path()).Msg("rest api call failed")
	return c.JSON(http.StatusBadGateway, echo.Map{"error": "upstream unavailable"})
}
