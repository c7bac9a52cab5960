// Package guard decides, for every page request, whether the current session
// may see the page.  Policy holds the static route table; Evaluate turns a
// session snapshot and a path into a Decision; Middleware applies decisions
// to echo requests.
package guard

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/iliyamo/rentdesk-portal/internal/model"
)

// MatcherKind tags the two kinds of route matcher.
type MatcherKind int

const (
	KindExact   MatcherKind = iota // path equal, or path below it
	KindPattern                    // regular expression
)

// Matcher is one entry of a role's route list.  Build it with Exact or
// Pattern.
type Matcher struct {
	kind MatcherKind
	path string
	re   *regexp.Regexp
}

// Exact matches p itself and every path below it.  "/admin/property" matches
// "/admin/property/42" but not "/admin/propertyx".
func Exact(p string) Matcher { return Matcher{kind: KindExact, path: p} }

// Pattern matches paths accepted by the regular expression expr.  It panics
// on an invalid expression; route tables are compiled at startup.
func Pattern(expr string) Matcher {
	return Matcher{kind: KindPattern, re: regexp.MustCompile(expr)}
}

func (m Matcher) Kind() MatcherKind { return m.kind }

func (m Matcher) String() string {
	if m.Kind() == KindPattern {
		return "pattern(" + m.re.String() + ")"
	}
	return "exact(" + m.path + ")"
}

// Match reports whether path is covered by the matcher.
func (m Matcher) Match(path string) bool {
	switch m.kind {
	case KindExact:
		return path == m.path || strings.HasPrefix(path, m.path+"/")
	case KindPattern:
		return m.re != nil && m.re.MatchString(path)
	}
	return false
}

// Policy is the route table.  It is read-only once built.
type Policy struct {
	Public           map[string]bool
	Roles            map[model.Role][]Matcher
	Landing          map[model.Role]string
	LoginPath        string
	UnauthorizedPath string
}

// segment is a single non-empty path segment.
const segment = `[^/]+`

// DefaultPolicy returns the portal's route table.  The super and admin
// dashboard roots are anchored patterns: as Exact they would grant every
// section beneath them, including ones the table never lists.
func DefaultPolicy() *Policy {
	return &Policy{
		Public: map[string]bool{
			"/":                true,
			"/forgot-password": true,
			"/update-password": true,
			"/unauthorized":    true,
		},
		Roles: map[model.Role][]Matcher{
			model.RoleSuperAdmin: {
				Pattern(`^/super$`),
				Exact("/super/admin"),
				Exact("/super/payments"),
				Exact("/super/property"),
				Pattern(`^/super/property/` + segment + `$`),
			},
			model.RoleAdmin: {
				Pattern(`^/admin$`),
				Exact("/admin/due-rents"),
				Exact("/admin/payments"),
				Exact("/admin/property"),
				Pattern(`^/admin/property/` + segment + `$`),
				Pattern(`^/admin/property/notification/` + segment + `$`),
			},
			model.RoleTenant: {
				Exact("/tenant"),
			},
		},
		Landing: map[model.Role]string{
			model.RoleSuperAdmin: "/super",
			model.RoleAdmin:      "/admin",
			model.RoleTenant:     "/tenant",
		},
		LoginPath:        "/",
		UnauthorizedPath: "/unauthorized",
	}
}

// IsPublic reports whether path is reachable without a session.
func (p *Policy) IsPublic(path string) bool { return p.Public[path] }

// LandingFor returns the role's landing page.  ok is false for a role the
// table cannot route: one missing from either Roles or Landing.
func (p *Policy) LandingFor(r model.Role) (string, bool) {
	landing, ok := p.Landing[r]
	if !ok || landing == "" {
		return "", false
	}
	if _, ok := p.Roles[r]; !ok {
		return "", false
	}
	return landing, true
}

// Allowed reports whether role r may open path.
func (p *Policy) Allowed(r model.Role, path string) bool {
	for _, m := range p.Roles[r] {
		if m.Match(path) {
			return true
		}
	}
	return false
}

// Validate checks the table for roles that only half exist, landings the
// role itself may not open, and missing login or unauthorized pages.
func (p *Policy) Validate() error {
	var problems []string
	if !p.IsPublic(p.LoginPath) {
		problems = append(problems, fmt.Sprintf("login path %q is not public", p.LoginPath))
	}
	if !p.IsPublic(p.UnauthorizedPath) {
		problems = append(problems, fmt.Sprintf("unauthorized path %q is not public", p.UnauthorizedPath))
	}
	for _, r := range model.Roles {
		_, routed := p.Roles[r]
		landing, landed := p.Landing[r]
		switch {
		case routed && !landed:
			problems = append(problems, fmt.Sprintf("role %s has routes but no landing", r))
		case landed && !routed:
			problems = append(problems, fmt.Sprintf("role %s has a landing but no routes", r))
		case landed && !p.Allowed(r, landing):
			problems = append(problems, fmt.Sprintf("role %s may not open its landing %q", r, landing))
		}
	}
	for r := range p.Roles {
		if !r.Valid() {
			problems = append(problems, fmt.Sprintf("unknown role %q in route table", r))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("guard: invalid policy: %s", strings.Join(problems, "; "))
}
