package auth

import (
	"strings"
)

// Role is a console role token.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleOwner        Role = "owner"
	RoleTenant       Role = "tenant"
	RoleSocietyAdmin Role = "societyAdmin"
	RoleSecurity     Role = "security"
	RoleVendor       Role = "vendor"
	RolePublicUser   Role = "publicUser"
)

// RoleOption describes a role for administration screens.
type RoleOption struct {
	Value       Role   `json:"value"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

var roleOptions = []RoleOption{
	{RoleAdmin, "Admin", "Full platform-level management rights."},
	{RoleOwner, "Owner", "Manages owned properties, tenants, and payments."},
	{RoleTenant, "Tenant", "Views own tenancy, dues, and communications."},
	{RoleSocietyAdmin, "Society Admin", "Runs society operations, billing, and members."},
	{RoleSecurity, "Security", "Handles gate, visitor, and safety workflows."},
	{RoleVendor, "Vendor", "Works assigned maintenance and service tasks."},
	{RolePublicUser, "Public User", "Limited access for prospective residents."},
}

// AvailableRoles lists every role in display order.
func AvailableRoles() []RoleOption {
	out := make([]RoleOption, len(roleOptions))
	copy(out, roleOptions)
	return out
}

// ParseRole reports whether s names a known role.
func ParseRole(s string) (Role, bool) {
	s = strings.TrimSpace(s)
	for _, o := range roleOptions {
		if string(o.Value) == s {
			return o.Value, true
		}
	}
	return "", false
}

// NormalizeRoles drops unknown tokens and duplicates, preserving first
// occurrence order. An empty result becomes [publicUser].
func NormalizeRoles[S ~string](roles []S) []Role {
	seen := make(map[Role]struct{}, len(roles))
	out := make([]Role, 0, len(roles))
	for _, raw := range roles {
		r, ok := ParseRole(string(raw))
		if !ok {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	if len(out) == 0 {
		return []Role{RolePublicUser}
	}
	return out
}

// Currency is a display currency code.
type Currency string

const (
	USD Currency = "USD"
	INR Currency = "INR"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
	AED Currency = "AED"
)

func (c Currency) Valid() bool {
	switch c {
	case USD, INR, EUR, GBP, AED:
		return true
	}
	return false
}

// User is the identity snapshot carried by a session.
type User struct {
	ID           int64    `json:"id"`
	FullName     string   `json:"fullName"`
	Email        string   `json:"email"`
	MobileNumber string   `json:"mobileNumber"`
	Address      string   `json:"address"`
	Currency     Currency `json:"currency"`
	Roles        []Role   `json:"roles"`
}

// HasRole reports whether the user holds role.
func (u User) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole is true for an empty list, otherwise when any role is held.
func (u User) HasAnyRole(roles ...Role) bool {
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if u.HasRole(r) {
			return true
		}
	}
	return false
}

// NormalizeEmail is the case-insensitive identity of an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func cloneUser(u User) User {
	u.Roles = append([]Role(nil), u.Roles...)
	return u
}
