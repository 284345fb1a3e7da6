package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"rent360.org/internal/auth"
	"rent360.org/internal/authz"
	"rent360.org/internal/config"
	"rent360.org/internal/datasource"
	"rent360.org/internal/features"
	"rent360.org/internal/kv"
	"rent360.org/internal/obs"
	"rent360.org/internal/properties"
)

const serviceName = "rent360-api"

// ReadyProbe reports whether the key-value store answers.
type ReadyProbe struct {
	Store kv.Store
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return kv.Ping(ctx, rp.Store)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Deps wires the domain services into the HTTP layer.
type Deps struct {
	Readiness     readinessChecker
	Sessions      *auth.Sessions
	Tokens        *auth.Tokens
	Directory     *auth.Directory
	RoleOverrides *auth.RoleOverrides
	Engine        *authz.Engine
	Flags         features.Resolver
	Properties    *properties.Repository
	Source        datasource.Source
	RateLimit     config.RateLimitConfig
	Version       string
}

// API is the HTTP layer.
type API struct {
	Deps
	router chi.Router
	now    func() time.Time
}

func New(d Deps) *API {
	if d.Readiness == nil {
		d.Readiness = ReadyProbe{}
	}
	if d.RateLimit.PerSecond <= 0 {
		d.RateLimit.PerSecond = 20
	}
	if d.RateLimit.Burst <= 0 {
		d.RateLimit.Burst = 40
	}
	a := &API{Deps: d, now: time.Now}
	a.router = a.routes()
	return a
}

// Handler returns the root handler with the full middleware chain.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(LoggingJSON)
	r.Use(obs.Instrument(routePattern))
	r.Use(SecurityHeaders)
	r.Use(CORS)
	r.Use(NewRateLimiter(a.RateLimit.Burst, a.RateLimit.PerSecond).Middleware)
	r.Use(MaxBodyBytes(1 << 20))
	r.Use(a.withAuth)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/info", a.Info)
		r.Post("/auth/login", a.handleLogin)
		r.Post("/auth/register", a.handleRegister)

		r.Group(func(r chi.Router) {
			r.Use(a.requireSession)
			r.Post("/auth/logout", a.handleLogout)
			r.Get("/me", a.handleMe)
			r.Get("/navigation", a.handleNavigation)
			r.Get("/authz/permissions", a.handlePermissions)

			r.With(a.requirePermission(authz.PermAuthorizationManage, authz.Read)).Group(func(r chi.Router) {
				r.Get("/authz/overrides/{email}", a.handleGetOverrides)
				r.Get("/roles", a.handleRoles)
				r.Get("/users", a.handleUsers)
			})
			r.With(a.requirePermission(authz.PermAuthorizationManage, authz.Write)).Group(func(r chi.Router) {
				r.Put("/authz/overrides/{email}", a.handlePutOverride)
				r.Delete("/authz/overrides/{email}", a.handleClearOverrides)
				r.Put("/users/{email}/roles", a.handleSetUserRoles)
				r.Delete("/users/{email}/roles", a.handleClearUserRoles)
			})

			r.With(a.requirePermission(authz.PermPropertiesView, authz.Read)).Get("/properties", a.handleListProperties)
			r.With(a.requirePermission(authz.PermPropertiesView, authz.Read)).Get("/stream/properties", a.StreamProperties)
			r.With(a.requirePermission(authz.PermPropertiesWrite, authz.Write)).Group(func(r chi.Router) {
				r.Post("/properties", a.handleCreateProperty)
				r.Put("/properties/{id}", a.handleUpdateProperty)
				r.Put("/properties/{id}/units", a.handleUpsertUnit)
			})
			r.With(a.requirePermission(authz.PermDashboardView, authz.Read)).Get("/dashboard", a.handleDashboard)
			r.With(a.requirePermission(authz.PermMarketplaceView, authz.Read)).Get("/marketplace/summary", a.handleMarketplace)
			r.With(a.requirePermission(authz.PermTenantsView, authz.Read)).Get("/tenants", a.handleTenants)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// routePattern labels metrics with the matched chi route.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.Readiness.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	mode := "api"
	if a.Source != nil && a.Source.Mock() {
		mode = "mock"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":       serviceName,
		"time":       a.now().UTC().Format(time.RFC3339),
		"version":    a.Version,
		"dataSource": mode,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleDomainError maps sentinel errors of the domain packages to statuses.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, properties.ErrInvalidInput),
		errors.Is(err, authz.ErrInvalidLevel), errors.Is(err, authz.ErrInvalidOverride):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, properties.ErrDuplicateProperty), errors.Is(err, properties.ErrDuplicateUnitCode):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, properties.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, datasource.ErrUnavailable):
		writeError(w, r, http.StatusBadGateway, "backend unavailable")
	case errors.Is(err, kv.ErrUnavailable):
		obs.Logger().WithError(err).Warn("storage unavailable")
		writeError(w, r, http.StatusServiceUnavailable, "storage unavailable")
	default:
		obs.Logger().WithError(err).Error("request failed")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func pathEmail(r *http.Request) string {
	return auth.NormalizeEmail(chi.URLParam(r, "email"))
}
