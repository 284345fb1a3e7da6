package authz

import (
	"context"
	"net/url"

	"rent360.org/internal/auth"
	"rent360.org/internal/features"
)

type RouteID string

const (
	RouteLogin       RouteID = "login"
	RouteMarketplace RouteID = "marketplace"
	RouteDashboard   RouteID = "dashboard"
	RoutePayments    RouteID = "payments"
	RouteProperties  RouteID = "properties"
	RouteTenants     RouteID = "tenants"
	RouteSociety     RouteID = "society"
	RouteReports     RouteID = "reports"
	RouteSettings    RouteID = "settings"
)

const (
	LoginPath     = "/login"
	DashboardPath = "/dashboard"
)

// Route is one navigable console screen. A route with no RequiredRoles is
// open to every signed-in user.
type Route struct {
	ID              RouteID      `json:"id"`
	Path            string       `json:"path"`
	Public          bool         `json:"public,omitempty"`
	RequiredFeature features.Key `json:"requiredFeature,omitempty"`
	RequiredRoles   []auth.Role  `json:"requiredRoles,omitempty"`
}

// Routes is the navigation table in menu order.
var Routes = []Route{
	{ID: RouteLogin, Path: LoginPath, Public: true},
	{ID: RouteMarketplace, Path: "/marketplace", RequiredFeature: features.Marketplace},
	{ID: RouteDashboard, Path: DashboardPath},
	{ID: RoutePayments, Path: "/payments", RequiredRoles: []auth.Role{auth.RoleOwner, auth.RoleTenant}},
	{ID: RouteProperties, Path: "/properties", RequiredRoles: []auth.Role{auth.RoleOwner, auth.RoleSocietyAdmin}},
	{ID: RouteTenants, Path: "/tenants", RequiredRoles: []auth.Role{auth.RoleOwner, auth.RoleSocietyAdmin, auth.RoleTenant}},
	{
		ID: RouteSociety, Path: "/society", RequiredFeature: features.SocietyModule,
		RequiredRoles: []auth.Role{auth.RoleOwner, auth.RoleSocietyAdmin, auth.RoleTenant, auth.RoleSecurity, auth.RoleVendor},
	},
	{ID: RouteReports, Path: "/reports", RequiredRoles: []auth.Role{auth.RoleOwner, auth.RoleSocietyAdmin}},
	{ID: RouteSettings, Path: "/settings"},
}

// RouteByID looks up a route in the navigation table.
func RouteByID(id RouteID) (Route, bool) {
	for _, r := range Routes {
		if r.ID == id {
			return r, true
		}
	}
	return Route{}, false
}

// Decision is the outcome of a navigation check. Redirect is set when the
// navigation is refused.
type Decision struct {
	Allowed  bool   `json:"allowed"`
	Redirect string `json:"redirect,omitempty"`
}

// Guard decides whether the current identity may open a route.
type Guard struct {
	flags    features.Resolver
	identity Identity
}

func NewGuard(flags features.Resolver, identity Identity) *Guard {
	return &Guard{flags: flags, identity: identity}
}

// Check evaluates route id. Unknown ids redirect to the dashboard; returnURL
// is carried on the login redirect.
func (g *Guard) Check(ctx context.Context, id RouteID, returnURL string) Decision {
	route, ok := RouteByID(id)
	if !ok {
		return Decision{Redirect: DashboardPath}
	}
	if route.Public {
		return Decision{Allowed: true}
	}
	user, ok := g.currentUser(ctx)
	if !ok {
		if returnURL == "" {
			returnURL = route.Path
		}
		return Decision{Redirect: LoginPath + "?" + url.Values{"returnUrl": {returnURL}}.Encode()}
	}
	return g.decide(route, user)
}

// Accessible lists the non-public routes the current identity may open.
func (g *Guard) Accessible(ctx context.Context) []Route {
	user, ok := g.currentUser(ctx)
	if !ok {
		return nil
	}
	var out []Route
	for _, r := range Routes {
		if r.Public {
			continue
		}
		if g.decide(r, user).Allowed {
			out = append(out, r)
		}
	}
	return out
}

func (g *Guard) decide(route Route, user auth.User) Decision {
	if route.RequiredFeature != "" && (g.flags == nil || !g.flags.IsEnabled(route.RequiredFeature)) {
		return Decision{Redirect: DashboardPath}
	}
	if len(route.RequiredRoles) == 0 || user.HasAnyRole(route.RequiredRoles...) {
		return Decision{Allowed: true}
	}
	return Decision{Redirect: DashboardPath}
}

func (g *Guard) currentUser(ctx context.Context) (auth.User, bool) {
	if g.identity == nil {
		return auth.User{}, false
	}
	return g.identity.CurrentIdentity(ctx)
}
