// Package apiclient talks to the remote REST API that owns users, properties,
// leases and payments.  The portal only needs the authentication and profile
// endpoints; everything else is fetched by the browser directly.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iliyamo/rentdesk-portal/internal/model"
)

// ErrUnauthorized is returned when the API answers 401.  For calls made with
// a session token it means the credential itself was rejected.
var ErrUnauthorized = errors.New("api: unauthorized")

// APIError is any other non-2xx answer.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

// Client is safe for concurrent use.
type Client struct {
	base string
	http *http.Client
}

// New returns a client for the API rooted at baseURL.  A nil httpClient gets
// a default one with the given timeout.
func New(baseURL string, timeout time.Duration, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: httpClient}
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResp struct {
	User  model.User `json:"user"`
	Token string     `json:"token"`
}

// Login exchanges credentials for a user record and a session token.
func (c *Client) Login(ctx context.Context, email, password string) (model.User, string, error) {
	var out loginResp
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", loginReq{Email: email, Password: password}, &out); err != nil {
		return model.User{}, "", err
	}
	if out.Token == "" {
		return model.User{}, "", errors.New("api: login response without token")
	}
	return out.User, out.Token, nil
}

// CurrentUser re-fetches the profile behind token.
func (c *Client) CurrentUser(ctx context.Context, token string) (model.User, error) {
	var u model.User
	if err := c.do(ctx, http.MethodGet, "/auth/me", token, nil, &u); err != nil {
		return model.User{}, err
	}
	return u, nil
}

// UpdateProfile sends a partial profile update and returns the stored user.
func (c *Client) UpdateProfile(ctx context.Context, token string, patch model.UserPatch) (model.User, error) {
	var u model.User
	if err := c.do(ctx, http.MethodPatch, "/users/me", token, patch, &u); err != nil {
		return model.User{}, err
	}
	return u, nil
}

// ForgotPassword asks the API to mail a reset link.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/auth/forgot-password", "", map[string]string{"email": email}, nil)
}

// UpdatePassword completes a reset started by ForgotPassword.
func (c *Client) UpdatePassword(ctx context.Context, resetToken, password string) error {
	body := map[string]string{"token": resetToken, "password": password}
	return c.do(ctx, http.MethodPost, "/auth/update-password", "", body, nil)
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("api: build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s %s: %w", method, path, err)
	}
	return nil
}

// errorMessage pulls "message" or "error" out of a JSON error body.
func errorMessage(r io.Reader) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 64<<10)).Decode(&payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}
