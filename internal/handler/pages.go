package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/rentdesk-portal/internal/guard"
	"github.com/iliyamo/rentdesk-portal/internal/middleware"
	"github.com/iliyamo/rentdesk-portal/internal/model"
)

// NavLink is one entry of a page's navigation menu.
type NavLink struct {
	Label string `json:"label"`
	Path  string `json:"path"`
}

// Page is the model behind every rendered view.  The front end picks the
// template by View.
type Page struct {
	View     string            `json:"view"`
	Title    string            `json:"title"`
	User     *model.User       `json:"user"`
	Role     model.Role        `json:"role,omitempty"`
	FullName string            `json:"fullName,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
	Nav      []NavLink         `json:"nav"`
}

// menus holds every section link a role might see.  Links the policy does
// not grant are dropped when the menu is built.
var menus = map[model.Role][]NavLink{
	model.RoleSuperAdmin: {
		{Label: "Dashboard", Path: "/super"},
		{Label: "Admins", Path: "/super/admin"},
		{Label: "Payments", Path: "/super/payments"},
		{Label: "Properties", Path: "/super/property"},
	},
	model.RoleAdmin: {
		{Label: "Dashboard", Path: "/admin"},
		{Label: "Due rents", Path: "/admin/due-rents"},
		{Label: "Payments", Path: "/admin/payments"},
		{Label: "Properties", Path: "/admin/property"},
	},
	model.RoleTenant: {
		{Label: "Dashboard", Path: "/tenant"},
	},
}

// PageHandler renders page models for requests the guard let through.
type PageHandler struct {
	Policy *guard.Policy
}

func NewPageHandler(policy *guard.Policy) *PageHandler {
	if policy == nil {
		panic("nil policy passed to NewPageHandler")
	}
	return &PageHandler{Policy: policy}
}

// Nav returns the links role may open, landing first.
func (h *PageHandler) Nav(role model.Role) []NavLink {
	links := []NavLink{}
	for _, l := range menus[role] {
		if h.Policy.Check(role, l.Path).Action == guard.Render {
			links = append(links, l)
		}
	}
	return links
}

// Render returns a handler for the named view.  Route parameters listed in
// params are copied into the model.
func (h *PageHandler) Render(view, title string, params ...string) echo.HandlerFunc {
	return func(c echo.Context) error {
		page := Page{View: view, Title: title, Nav: []NavLink{}}
		if st := middleware.SessionFrom(c); st != nil {
			snap := st.Snapshot()
			if snap.Authenticated {
				page.User = snap.User
				page.Role = snap.Role()
				page.FullName = snap.FullName()
				page.Nav = h.Nav(page.Role)
			}
		}
		if len(params) > 0 {
			page.Params = make(map[string]string, len(params))
			for _, name := range params {
				page.Params[name] = c.Param(name)
			}
		}
		return c.JSON(http.StatusOK, page)
	}
}
