package model

import "strings"

// Role is the userType of a portal user.  It decides which dashboard the
// user lands on and which pages the route guard lets them open.
type Role string

const (
	RoleSuperAdmin Role = "superAdmin" // platform operator, manages admins and properties
	RoleAdmin      Role = "admin"      // property manager
	RoleTenant     Role = "tenant"     // renter
)

// Roles lists every role the portal knows about.
var Roles = []Role{RoleSuperAdmin, RoleAdmin, RoleTenant}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// User is the profile record returned by the REST API and cached in the
// session.  The json names match the API payload and the persisted
// auth-storage record.
type User struct {
	ID          string `json:"id"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	UserType    Role   `json:"userType"`
	PhotoURL    string `json:"photoUrl"`
}

// FullName joins first and last name, skipping whichever is empty.
func (u User) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
}

// UserPatch carries a partial profile update.  Nil fields are left alone.
type UserPatch struct {
	FirstName   *string `json:"firstName,omitempty"`
	LastName    *string `json:"lastName,omitempty"`
	Email       *string `json:"email,omitempty"`
	PhoneNumber *string `json:"phoneNumber,omitempty"`
	UserType    *Role   `json:"userType,omitempty"`
	PhotoURL    *string `json:"photoUrl,omitempty"`
}

// Empty reports whether the patch would change nothing.
func (p UserPatch) Empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Email == nil &&
		p.PhoneNumber == nil && p.UserType == nil && p.PhotoURL == nil
}

// Apply returns a copy of u with every non-nil patch field written over it.
func (p UserPatch) Apply(u User) User {
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.PhoneNumber != nil {
		u.PhoneNumber = *p.PhoneNumber
	}
	if p.UserType != nil {
		u.UserType = *p.UserType
	}
	if p.PhotoURL != nil {
		u.PhotoURL = *p.PhotoURL
	}
	return u
}
