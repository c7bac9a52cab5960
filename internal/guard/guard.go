package guard

import (
	"strings"

	"github.com/iliyamo/rentdesk-portal/internal/model"
	"github.com/iliyamo/rentdesk-portal/internal/session"
)

// Action is what the guard wants done with a request.
type Action int

const (
	Wait     Action = iota // session not ready; show the loading view
	Render                 // serve the requested page
	Redirect               // send the browser to Decision.Target
)

func (a Action) String() string {
	switch a {
	case Wait:
		return "wait"
	case Render:
		return "render"
	case Redirect:
		return "redirect"
	}
	return "unknown"
}

// Decision is the outcome of one evaluation.  Reason is a short label for
// logs.  ClearSession is set when the session is authenticated but cannot be
// routed; the caller must log it out before acting, after which the page is
// served as to an anonymous visitor.
type Decision struct {
	Action       Action
	Target       string
	Reason       string
	ClearSession bool
}

// Evaluate decides what to do with a request for path given the session.
// It never fails: every state maps to a render, a redirect or a wait.  A
// trailing slash is ignored.
func (p *Policy) Evaluate(s session.Snapshot, path string) Decision {
	path = normalizePath(path)
	if !s.Hydrated || s.Loading {
		return Decision{Action: Wait, Reason: "session not ready"}
	}

	if !s.Authenticated {
		if p.IsPublic(path) {
			return Decision{Action: Render, Reason: "public"}
		}
		return Decision{Action: Redirect, Target: p.LoginPath, Reason: "not authenticated"}
	}

	role := s.Role()
	landing, ok := p.LandingFor(role)
	if role == "" || !ok {
		if p.IsPublic(path) {
			return Decision{Action: Render, Reason: "unknown role", ClearSession: true}
		}
		return Decision{Action: Redirect, Target: p.LoginPath, Reason: "unknown role", ClearSession: true}
	}

	if p.IsPublic(path) {
		if path == p.UnauthorizedPath {
			return Decision{Action: Render, Reason: "unauthorized page"}
		}
		return Decision{Action: Redirect, Target: landing, Reason: "authenticated on public page"}
	}

	if p.Allowed(role, path) {
		return Decision{Action: Render, Reason: "allowed"}
	}
	return Decision{Action: Redirect, Target: p.UnauthorizedPath, Reason: "role " + string(role) + " not allowed"}
}

// Check is Evaluate for callers that only know the role, such as navigation
// builders.  The session is assumed hydrated and authenticated.
func (p *Policy) Check(role model.Role, path string) Decision {
	return p.Evaluate(session.Snapshot{
		User:          &model.User{UserType: role},
		Token:         "-",
		Authenticated: true,
		Hydrated:      true,
	}, path)
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if trimmed := strings.TrimRight(path, "/"); trimmed != "" {
		return trimmed
	}
	return "/"
}
