package httpapi

import (
	"net/http"
	"sort"

	"rent360.org/internal/audit"
	"rent360.org/internal/auth"
	"rent360.org/internal/authz"
)

type overrideRequest struct {
	Key   string  `json:"key"`
	Level *string `json:"level"`
}

type userRolesRequest struct {
	Roles []string `json:"roles"`
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"catalog":     a.Engine.EnabledPermissions(),
		"permissions": a.authorizer(r).Permissions(r.Context()),
	})
}

func (a *API) handleGetOverrides(w http.ResponseWriter, r *http.Request) {
	email := pathEmail(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"email":     email,
		"enabled":   a.Engine.OverridesEnabled(),
		"overrides": a.Engine.UserOverrides(r.Context(), email),
	})
}

// handlePutOverride sets one override; a null level clears it.
func (a *API) handlePutOverride(w http.ResponseWriter, r *http.Request) {
	if !a.Engine.OverridesEnabled() {
		writeError(w, r, http.StatusConflict, "permission overrides are disabled")
		return
	}
	var req overrideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := authz.Lookup(req.Key); !ok {
		writeError(w, r, http.StatusBadRequest, "unknown permission")
		return
	}
	var level *authz.Level
	if req.Level != nil {
		parsed, err := authz.ParseLevel(*req.Level)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		level = &parsed
	}
	email := pathEmail(r)
	if err := a.Engine.SetUserOverride(r.Context(), email, req.Key, level); err != nil {
		handleDomainError(w, r, err)
		return
	}
	fields := map[string]any{"target": email, "permission": req.Key, "level": nil}
	if level != nil {
		fields["level"] = string(*level)
	}
	_ = audit.LogEvent(r.Context(), "authz.override.set", fields)
	writeJSON(w, http.StatusOK, map[string]any{
		"email":     email,
		"overrides": a.Engine.UserOverrides(r.Context(), email),
	})
}

func (a *API) handleClearOverrides(w http.ResponseWriter, r *http.Request) {
	email := pathEmail(r)
	if err := a.Engine.ClearUserOverrides(r.Context(), email); err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "authz.override.clear", map[string]any{"target": email})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"roles":   a.RoleOverrides.AvailableRoles(),
		"enabled": a.RoleOverrides.Enabled(),
	})
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.Directory.ListUsers(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	overridden := a.RoleOverrides.All(r.Context())
	type row struct {
		auth.User
		RolesOverridden bool     `json:"rolesOverridden"`
		Permissions     []string `json:"overriddenPermissions"`
	}
	out := make([]row, 0, len(users))
	for _, u := range users {
		_, ok := overridden[auth.NormalizeEmail(u.Email)]
		keys := []string{}
		for k := range a.Engine.UserOverrides(r.Context(), u.Email) {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out = append(out, row{User: u, RolesOverridden: ok, Permissions: keys})
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

// handleSetUserRoles goes through the caller's session so a self-edit
// refreshes the caller's own identity.
func (a *API) handleSetUserRoles(w http.ResponseWriter, r *http.Request) {
	if !a.RoleOverrides.Enabled() {
		writeError(w, r, http.StatusConflict, "role management is disabled")
		return
	}
	var req userRolesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := pathEmail(r)
	if email == "" {
		writeError(w, r, http.StatusBadRequest, "email is required")
		return
	}
	sess, _ := currentUser(r)
	roles, err := sess.SetUserRoles(r.Context(), email, auth.NormalizeRoles(req.Roles))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.roles.set", map[string]any{"target": email, "roles": roles})
	writeJSON(w, http.StatusOK, map[string]any{"email": email, "roles": roles})
}

func (a *API) handleClearUserRoles(w http.ResponseWriter, r *http.Request) {
	email := pathEmail(r)
	sess, _ := currentUser(r)
	if err := sess.ClearUserRoleOverride(r.Context(), email); err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.roles.clear", map[string]any{"target": email})
	w.WriteHeader(http.StatusNoContent)
}
