package authz

import (
	"rent360.org/internal/auth"
	"rent360.org/internal/features"
)

const (
	PermAuthorizationManage = "authorization.manage"
	PermDashboardView       = "dashboard.view"
	PermPaymentsView        = "payments.view"
	PermPaymentsWrite       = "payments.write"
	PermPropertiesView      = "properties.view"
	PermPropertiesWrite     = "properties.write"
	PermTenantsView         = "tenants.view"
	PermTenantsWrite        = "tenants.write"
	PermSocietyView         = "society.view"
	PermSocietyWrite        = "society.write"
	PermCommunicationsView  = "communications.view"
	PermTasksView           = "tasks.view"
	PermReportsView         = "reports.view"
	PermSettingsView        = "settings.view"
	PermSettingsWrite       = "settings.write"
	PermMarketplaceView     = "marketplace.view"
)

// FallbackAccess applies to permissions without a default.
const FallbackAccess = Hidden

// Definition describes one permission. Feature, when set, gates it.
type Definition struct {
	Key     string       `json:"key"`
	Label   string       `json:"label"`
	Group   string       `json:"group"`
	Feature features.Key `json:"feature,omitempty"`
	Default Level        `json:"defaultAccess"`
}

// Catalog lists every permission in display order.
var Catalog = []Definition{
	{Key: PermAuthorizationManage, Label: "Manage Authorization", Group: "Admin", Default: Hidden},
	{Key: PermDashboardView, Label: "View Dashboard", Group: "Dashboard", Default: Hidden},
	{Key: PermPaymentsView, Label: "View Payments", Group: "Payments", Default: Hidden},
	{Key: PermPaymentsWrite, Label: "Manage Payments", Group: "Payments", Default: Hidden},
	{Key: PermPropertiesView, Label: "View Properties", Group: "Properties", Default: Hidden},
	{Key: PermPropertiesWrite, Label: "Edit Properties", Group: "Properties", Default: Hidden},
	{Key: PermTenantsView, Label: "View Tenants", Group: "Tenants", Default: Hidden},
	{Key: PermTenantsWrite, Label: "Manage Tenants", Group: "Tenants", Default: Hidden},
	{Key: PermSocietyView, Label: "View Society Module", Group: "Society", Feature: features.SocietyModule, Default: Hidden},
	{Key: PermSocietyWrite, Label: "Edit Society Module", Group: "Society", Feature: features.SocietyModule, Default: Hidden},
	{Key: PermCommunicationsView, Label: "View Communications", Group: "Communications", Default: Hidden},
	{Key: PermTasksView, Label: "View Tasks", Group: "Tasks", Default: Hidden},
	{Key: PermReportsView, Label: "View Reports", Group: "Reports", Default: Hidden},
	{Key: PermSettingsView, Label: "View Settings", Group: "Settings", Default: Hidden},
	{Key: PermSettingsWrite, Label: "Edit Settings", Group: "Settings", Default: Hidden},
	{Key: PermMarketplaceView, Label: "View Marketplace", Group: "Marketplace", Feature: features.Marketplace, Default: Hidden},
}

var catalogIndex = func() map[string]Definition {
	m := make(map[string]Definition, len(Catalog))
	for _, d := range Catalog {
		m[d.Key] = d
	}
	return m
}()

// Lookup returns the definition for key.
func Lookup(key string) (Definition, bool) {
	d, ok := catalogIndex[key]
	return d, ok
}

// Template maps permission keys to the level a role grants.
type Template map[string]Level

var adminTemplate = Template{
	PermAuthorizationManage: Write,
	PermDashboardView:       Read,
	PermPaymentsView:        Read,
	PermPaymentsWrite:       Write,
	PermPropertiesView:      Read,
	PermPropertiesWrite:     Write,
	PermTenantsView:         Read,
	PermTenantsWrite:        Write,
	PermSocietyView:         Read,
	PermSocietyWrite:        Write,
	PermCommunicationsView:  Read,
	PermTasksView:           Read,
	PermReportsView:         Read,
	PermSettingsView:        Read,
	PermSettingsWrite:       Write,
	PermMarketplaceView:     Read,
}

func without(t Template, keys ...string) Template {
	out := make(Template, len(t))
	for k, v := range t {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// Templates holds the baseline grants of each role.
var Templates = map[auth.Role]Template{
	auth.RoleAdmin:        adminTemplate,
	auth.RoleOwner:        without(adminTemplate, PermSocietyView, PermSocietyWrite, PermMarketplaceView),
	auth.RoleSocietyAdmin: without(adminTemplate, PermMarketplaceView),
	auth.RoleTenant: {
		PermDashboardView:      Read,
		PermPaymentsView:       Read,
		PermCommunicationsView: Read,
		PermTasksView:          Read,
		PermSettingsView:       Read,
	},
	auth.RoleSecurity: {
		PermDashboardView:      Read,
		PermPaymentsView:       Read,
		PermCommunicationsView: Read,
		PermSettingsView:       Read,
	},
	auth.RoleVendor: {
		PermDashboardView:      Read,
		PermCommunicationsView: Read,
		PermTasksView:          Read,
		PermSettingsView:       Read,
	},
	auth.RolePublicUser: {
		PermDashboardView:      Read,
		PermPaymentsView:       Read,
		PermCommunicationsView: Read,
		PermSettingsView:       Read,
	},
}
