package authz

import (
	"context"
	"errors"
	"sync"
	"testing"

	"rent360.org/internal/auth"
	"rent360.org/internal/features"
	"rent360.org/internal/kv"
)

var allOn = features.Flags{features.Marketplace: true, features.SocietyModule: true}

func user(email string, roles ...auth.Role) auth.User {
	return auth.User{Email: email, Roles: roles}
}

func lvl(l Level) *Level { return &l }

func TestRoleTemplatesResolve(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(allOn, kv.NewMemory())
	cases := []struct {
		roles []auth.Role
		key   string
		want  Level
	}{
		{[]auth.Role{auth.RoleAdmin}, PermAuthorizationManage, Write},
		{[]auth.Role{auth.RoleOwner}, PermMarketplaceView, Hidden},
		{[]auth.Role{auth.RoleOwner}, PermSocietyView, Hidden},
		{[]auth.Role{auth.RoleSocietyAdmin}, PermSocietyWrite, Write},
		{[]auth.Role{auth.RoleTenant}, PermPaymentsView, Read},
		{[]auth.Role{auth.RoleTenant}, PermPaymentsWrite, Hidden},
		{[]auth.Role{auth.RoleTenant, auth.RoleOwner}, PermPaymentsWrite, Write},
		{[]auth.Role{auth.RoleVendor}, PermTasksView, Read},
		{[]auth.Role{auth.RoleSecurity}, PermTasksView, Hidden},
		{nil, PermDashboardView, Hidden},
		{[]auth.Role{auth.RoleAdmin}, "unknown.permission", Hidden},
	}
	for _, tc := range cases {
		if got := e.AccessLevelForUser(ctx, user("u@x.io", tc.roles...), tc.key); got != tc.want {
			t.Fatalf("%v %s: want %s, got %s", tc.roles, tc.key, tc.want, got)
		}
	}
}

func TestFeatureGateShortCircuits(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	e := NewEngine(features.Flags{}, kv.Durable(store))
	if err := e.SetUserOverride(ctx, "admin@rent360.com", PermMarketplaceView, lvl(Write)); err != nil {
		t.Fatal(err)
	}
	if got := e.AccessLevelForUser(ctx, user("admin@rent360.com", auth.RoleAdmin), PermMarketplaceView); got != Hidden {
		t.Fatalf("disabled feature must hide, got %s", got)
	}
	for _, d := range e.EnabledPermissions() {
		if d.Feature != "" {
			t.Fatalf("gated permission %s listed while feature off", d.Key)
		}
	}
	if n := len(NewEngine(allOn, store).EnabledPermissions()); n != len(Catalog) {
		t.Fatalf("expected full catalog, got %d", n)
	}
}

func TestOverrideReplacesRoleLevel(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	e := NewEngine(allOn, kv.Durable(store))
	owner := user("Owner@Rent360.com", auth.RoleOwner)

	if err := e.SetUserOverride(ctx, "owner@rent360.com", PermPropertiesWrite, lvl(Hidden)); err != nil {
		t.Fatal(err)
	}
	if got := e.AccessLevelForUser(ctx, owner, PermPropertiesWrite); got != Hidden {
		t.Fatalf("override must win even when lower, got %s", got)
	}
	if err := e.SetUserOverride(ctx, "owner@rent360.com", PermSocietyView, lvl(Write)); err != nil {
		t.Fatal(err)
	}
	if got := e.AccessLevelForUser(ctx, owner, PermSocietyView); got != Write {
		t.Fatalf("override must raise too, got %s", got)
	}

	reloaded := NewEngine(allOn, kv.Durable(store))
	if got, ok := reloaded.UserOverride(ctx, "OWNER@rent360.com", PermPropertiesWrite); !ok || got != Hidden {
		t.Fatalf("override not persisted: %s %v", got, ok)
	}

	if err := e.SetUserOverride(ctx, "owner@rent360.com", PermPropertiesWrite, nil); err != nil {
		t.Fatal(err)
	}
	if got := e.AccessLevelForUser(ctx, owner, PermPropertiesWrite); got != Write {
		t.Fatalf("clearing must restore role level, got %s", got)
	}
	if err := e.SetUserOverride(ctx, "owner@rent360.com", PermSocietyView, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := kv.Durable(store).Get(ctx, OverridesKey); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("empty override map should be pruned from storage, got %v", err)
	}
	if users := e.OverriddenUsers(ctx); len(users) != 0 {
		t.Fatalf("expected no overridden users, got %v", users)
	}
}

func TestInvalidOverrideInput(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(allOn, kv.NewMemory())
	if err := e.SetUserOverride(ctx, "a@b.c", PermDashboardView, lvl("admin")); !errors.Is(err, ErrInvalidLevel) {
		t.Fatalf("expected ErrInvalidLevel, got %v", err)
	}
	if err := e.SetUserOverride(ctx, " ", PermDashboardView, lvl(Read)); !errors.Is(err, ErrInvalidOverride) {
		t.Fatalf("expected ErrInvalidOverride, got %v", err)
	}
}

func TestOverridesDisabled(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	seed := NewEngine(allOn, store)
	if err := seed.SetUserOverride(ctx, "tenant@rent360.com", PermReportsView, lvl(Read)); err != nil {
		t.Fatal(err)
	}

	e := NewEngine(allOn, store, WithOverrides(false),
		WithStaticOverrides(map[string]map[string]string{"tenant@rent360.com": {PermTasksView: "hidden"}}))
	tenant := user("tenant@rent360.com", auth.RoleTenant)
	if got := e.AccessLevelForUser(ctx, tenant, PermReportsView); got != Hidden {
		t.Fatalf("stored override must be ignored, got %s", got)
	}
	if got := e.AccessLevelForUser(ctx, tenant, PermTasksView); got != Read {
		t.Fatalf("static override must be ignored, got %s", got)
	}
	if err := e.SetUserOverride(ctx, "tenant@rent360.com", PermTasksView, lvl(Write)); err != nil {
		t.Fatal(err)
	}
	if _, ok := e.UserOverride(ctx, "tenant@rent360.com", PermTasksView); ok {
		t.Fatal("disabled engine must report no override")
	}
}

func TestStaticOverridesMergeUnderStored(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	if err := store.Set(ctx, OverridesKey, []byte(`{"vendor@rent360.com":{"tasks.view":"write"}}`)); err != nil {
		t.Fatal(err)
	}
	e := NewEngine(allOn, store, WithStaticOverrides(map[string]map[string]string{
		"Vendor@rent360.com": {PermTasksView: "hidden", PermReportsView: "read", PermDashboardView: "bogus"},
	}))
	got := e.UserOverrides(ctx, "vendor@rent360.com")
	if got[PermTasksView] != Write || got[PermReportsView] != Read {
		t.Fatalf("unexpected merged overrides %v", got)
	}
	if _, ok := got[PermDashboardView]; ok {
		t.Fatal("invalid static level should be skipped")
	}
}

func TestMalformedOverridesAreIgnored(t *testing.T) {
	ctx := context.Background()
	for _, raw := range []string{`not json`, `[]`, `{"a@b.c":{"tasks.view":"root"}}`, `{"a@b.c":"write"}`} {
		store := kv.NewMemory()
		if err := store.Set(ctx, OverridesKey, []byte(raw)); err != nil {
			t.Fatal(err)
		}
		e := NewEngine(allOn, store)
		if got := e.AccessLevelForUser(ctx, user("a@b.c", auth.RoleVendor), PermTasksView); got != Read {
			t.Fatalf("%s: expected role level, got %s", raw, got)
		}
	}
}

func TestSubscribeOverridesReceivesChanges(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(allOn, kv.NewMemory())
	var seen []Overrides
	stop := e.SubscribeOverrides(func(o Overrides) { seen = append(seen, o) })
	defer stop()

	_ = e.SetUserOverride(ctx, "a@b.c", PermTasksView, lvl(Write))
	_ = e.ClearUserOverrides(ctx, "a@b.c")
	_ = e.ClearUserOverrides(ctx, "a@b.c")

	if len(seen) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(seen))
	}
	if seen[0]["a@b.c"][PermTasksView] != Write || len(seen[1]) != 0 {
		t.Fatalf("unexpected notifications %v", seen)
	}
}

type staticIdentity struct {
	user *auth.User
}

func (s staticIdentity) CurrentIdentity(context.Context) (auth.User, bool) {
	if s.user == nil {
		return auth.User{}, false
	}
	return *s.user, true
}

func TestAuthorizer(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(allOn, kv.NewMemory())

	anon := NewAuthorizer(e, staticIdentity{})
	if anon.AccessLevel(ctx, PermDashboardView) != Hidden || anon.CanView(ctx, PermDashboardView) {
		t.Fatal("no identity must resolve hidden")
	}

	u := user("owner@rent360.com", auth.RoleOwner)
	a := NewAuthorizer(e, staticIdentity{user: &u})
	if !a.CanWrite(ctx, PermPropertiesWrite) || !a.CanView(ctx, PermPropertiesView) {
		t.Fatal("owner should manage properties")
	}
	_ = e.SetUserOverride(ctx, u.Email, PermPropertiesWrite, lvl(Hidden))
	if a.CanWrite(ctx, PermPropertiesWrite) || a.CanView(ctx, PermPropertiesWrite) {
		t.Fatal("hidden override must remove view and write")
	}
	if !a.CanAccess(ctx, PermDashboardView, Hidden) {
		t.Fatal("everything grants at least hidden")
	}
	perms := a.Permissions(ctx)
	if perms[PermPropertiesWrite] != Hidden || perms[PermTenantsWrite] != Write {
		t.Fatalf("unexpected permission map %v", perms)
	}
}

func TestParseLevel(t *testing.T) {
	if l, err := ParseLevel(" Write "); err != nil || l != Write {
		t.Fatalf("unexpected %s %v", l, err)
	}
	if _, err := ParseLevel("admin"); !errors.Is(err, ErrInvalidLevel) {
		t.Fatalf("expected ErrInvalidLevel, got %v", err)
	}
	if Level("x").AtLeast(Hidden) {
		t.Fatal("unknown level grants nothing")
	}
}

type flakyStore struct {
	kv.Store
	mu       sync.Mutex
	failures int
}

func (s *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return nil, kv.ErrUnavailable
	}
	s.mu.Unlock()
	return s.Store.Get(ctx, key)
}

func TestStoredOverridesSurviveUnreadableStore(t *testing.T) {
	ctx := context.Background()
	base := kv.NewMemory()
	if err := NewEngine(allOn, base).SetUserOverride(ctx, "a@x.io", PermPaymentsWrite, lvl(Write)); err != nil {
		t.Fatal(err)
	}

	e := NewEngine(allOn, &flakyStore{Store: base, failures: 1})
	if err := e.SetUserOverride(ctx, "b@x.io", PermTasksView, lvl(Read)); !errors.Is(err, kv.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable while the store is down, got %v", err)
	}
	if err := e.SetUserOverride(ctx, "b@x.io", PermTasksView, lvl(Read)); err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}

	reloaded := NewEngine(allOn, base)
	if got, ok := reloaded.UserOverride(ctx, "a@x.io", PermPaymentsWrite); !ok || got != Write {
		t.Fatalf("stored override lost: %q %v", got, ok)
	}
	if got, ok := reloaded.UserOverride(ctx, "b@x.io", PermTasksView); !ok || got != Read {
		t.Fatalf("new override missing: %q %v", got, ok)
	}
}

func TestUnreadableStoreFallsBackToStaticOverrides(t *testing.T) {
	ctx := context.Background()
	base := kv.NewMemory()
	if err := NewEngine(allOn, base).SetUserOverride(ctx, "a@x.io", PermTasksView, lvl(Write)); err != nil {
		t.Fatal(err)
	}

	e := NewEngine(allOn, &flakyStore{Store: base, failures: 1},
		WithStaticOverrides(map[string]map[string]string{"c@x.io": {PermTasksView: "read"}}))
	if _, ok := e.UserOverride(ctx, "a@x.io", PermTasksView); ok {
		t.Fatal("stored overrides cannot be known while the store is down")
	}
	if got, ok := e.UserOverride(ctx, "c@x.io", PermTasksView); !ok || got != Read {
		t.Fatalf("static override should still answer, got %q %v", got, ok)
	}
	if got, ok := e.UserOverride(ctx, "a@x.io", PermTasksView); !ok || got != Write {
		t.Fatalf("stored override should load on the next call, got %q %v", got, ok)
	}
	if err := e.ClearUserOverrides(ctx, "a@x.io"); err != nil {
		t.Fatal(err)
	}
}
