package httpapi

import (
	"net/http"
	"time"

	"rent360.org/internal/audit"
	"rent360.org/internal/auth"
	"rent360.org/internal/authz"
	"rent360.org/internal/insights"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      auth.User `json:"user"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sess := a.Sessions.New()
	user, err := sess.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{"email": auth.NormalizeEmail(req.Email)})
		handleDomainError(w, r, err)
		return
	}
	a.startSession(w, r, sess, user, http.StatusOK, "auth.login")
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.Registration
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sess := a.Sessions.New()
	user, err := sess.Register(r.Context(), req)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.startSession(w, r, sess, user, http.StatusCreated, "auth.register")
}

func (a *API) startSession(w http.ResponseWriter, r *http.Request, sess *auth.Session, user auth.User, code int, event string) {
	expiresAt, ok := sess.ExpiresAt(r.Context())
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "session not started")
		return
	}
	token, err := a.Tokens.Issue(sess.ID(), user.Email, expiresAt)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}
	ctx := auth.ContextWithSession(r.Context(), sess)
	_ = audit.LogEvent(ctx, event, map[string]any{
		"roles":      user.Roles,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
	writeJSON(w, code, sessionResponse{Token: token, ExpiresAt: expiresAt.UTC(), User: user})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, _ := currentUser(r)
	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	sess.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	sess, user := currentUser(r)
	expiresAt, _ := sess.ExpiresAt(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user":       user,
		"expires_at": expiresAt.UTC(),
		"personas":   insights.Personas(user),
	})
}

// handleNavigation lists the routes the caller may open. With ?route= it
// also returns the guard decision for that route.
func (a *API) handleNavigation(w http.ResponseWriter, r *http.Request) {
	sess, _ := currentUser(r)
	guard := authz.NewGuard(a.Flags, sess)
	resp := map[string]any{"routes": guard.Accessible(r.Context())}
	if id := r.URL.Query().Get("route"); id != "" {
		resp["decision"] = guard.Check(r.Context(), authz.RouteID(id), r.URL.Query().Get("returnUrl"))
	}
	writeJSON(w, http.StatusOK, resp)
}
