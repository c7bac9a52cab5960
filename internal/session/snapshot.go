package session

import "github.com/iliyamo/rentdesk-portal/internal/model"

// Snapshot is an immutable copy of a store's state.  The zero value is the
// logged-out, not yet hydrated session.  Queries on it return neutral values
// when no user is present.
type Snapshot struct {
	User          *model.User `json:"user"`
	Token         string      `json:"-"`
	Authenticated bool        `json:"isAuthenticated"`
	Loading       bool        `json:"isLoading"`
	Hydrated      bool        `json:"hydrated"`
}

// Role returns the user's role, or "" without a user.
func (s Snapshot) Role() model.Role {
	if s.User == nil {
		return ""
	}
	return s.User.UserType
}

// FullName returns "first last", or "" without a user.
func (s Snapshot) FullName() string {
	if s.User == nil {
		return ""
	}
	return s.User.FullName()
}

func (s Snapshot) IsSuperAdmin() bool { return s.HasRole(model.RoleSuperAdmin) }
func (s Snapshot) IsAdmin() bool      { return s.HasRole(model.RoleAdmin) }
func (s Snapshot) IsTenant() bool     { return s.HasRole(model.RoleTenant) }

// HasRole is false for the empty role and without a user.
func (s Snapshot) HasRole(r model.Role) bool {
	return r != "" && s.User != nil && s.User.UserType == r
}
