// Package insights derives role-scoped analytics from the property
// collection. Every function is pure: the same snapshot and identity give
// the same result.
package insights

import (
	"math"
	"strings"
	"unicode/utf16"

	"rent360.org/internal/auth"
	"rent360.org/internal/properties"
)

type Persona string

const (
	PersonaOwner        Persona = "owner"
	PersonaTenant       Persona = "tenant"
	PersonaSocietyAdmin Persona = "societyAdmin"
)

// Personas lists the dashboard views available to user, defaulting to owner.
func Personas(user auth.User) []Persona {
	var out []Persona
	for _, p := range []Persona{PersonaOwner, PersonaTenant, PersonaSocietyAdmin} {
		if user.HasRole(auth.Role(p)) {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = []Persona{PersonaOwner}
	}
	return out
}

// ParsePersona maps unknown values to owner.
func ParsePersona(s string) Persona {
	switch Persona(strings.TrimSpace(s)) {
	case PersonaTenant:
		return PersonaTenant
	case PersonaSocietyAdmin:
		return PersonaSocietyAdmin
	}
	return PersonaOwner
}

func displayName(user auth.User) string {
	return strings.ToLower(strings.TrimSpace(user.FullName))
}

// ownedBy reports whether name appears in the comma separated owner list.
func ownedBy(p properties.Property, name string) bool {
	if name == "" {
		return false
	}
	for _, owner := range strings.Split(strings.ToLower(p.OwnerName), ",") {
		if strings.TrimSpace(owner) == name {
			return true
		}
	}
	return false
}

// scopeOwner keeps the properties owned by user. When none match the full
// set is returned, since missing ownership data means global figures.
func scopeOwner(props []properties.Property, user auth.User) []properties.Property {
	name := displayName(user)
	var out []properties.Property
	for _, p := range props {
		if ownedBy(p, name) {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return props
	}
	return out
}

func tenantOf(u properties.Unit, name string) bool {
	return name != "" && strings.ToLower(strings.TrimSpace(u.TenantName)) == name
}

// hashCode is the 32-bit string hash used to seed illustrative figures.
// It walks UTF-16 code units so seeds stay stable across clients.
func hashCode(s string) int32 {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + int32(c)
	}
	return h
}

func absMod(seed int32, n int32) int {
	m := seed % n
	if m < 0 {
		m = -m
	}
	return int(m)
}

// round rounds half up, matching the console's percentage arithmetic.
func round(x float64) float64 {
	return math.Floor(x + 0.5)
}

func roundCents(x float64) float64 {
	return round(x*100) / 100
}

func percentOf(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(round(float64(part) / float64(total) * 100))
}
