package properties

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"rent360.org/internal/config"
	"rent360.org/internal/datasource"
	"rent360.org/internal/kv"
)

func mockSource() datasource.Source {
	return datasource.New(config.APIConfig{UseMockAPI: true, MockAPIBaseURL: "embedded"})
}

type countingSource struct {
	datasource.Source
	mu    sync.Mutex
	gets  int
	fail  error
	empty bool
}

func (c *countingSource) Get(ctx context.Context, req datasource.Request, dst any) error {
	c.mu.Lock()
	c.gets++
	fail, empty := c.fail, c.empty
	c.mu.Unlock()
	if fail != nil {
		return fail
	}
	if empty {
		return json.Unmarshal([]byte(`{"properties":[]}`), dst)
	}
	return c.Source.Get(ctx, req, dst)
}

func TestHydratesFromFixturesOnce(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{Source: mockSource()}
	store := kv.NewMemory()
	repo := NewRepository(src, store)
	require.False(t, repo.Initialized())

	var pings int
	repo.SubscribeChanged(func() { pings++ })

	props, err := repo.Properties(ctx)
	require.NoError(t, err)
	require.Len(t, props, 3)
	require.True(t, repo.Initialized())
	require.Equal(t, 1, pings)

	again, err := repo.Properties(ctx)
	require.NoError(t, err)
	require.Equal(t, props, again)
	require.Equal(t, 1, src.gets)

	_, err = store.Get(ctx, StoreKey)
	require.NoError(t, err, "hydrated collection is persisted in mock mode")
}

func TestLegacyUnitsAreBackfilled(t *testing.T) {
	repo := NewRepository(mockSource(), kv.NewMemory())
	p, err := repo.Property(context.Background(), "prop-1003")
	require.NoError(t, err)
	require.Equal(t, "", p.Address)
	require.Len(t, p.Units, 2)

	g1 := p.Units[0]
	require.Equal(t, "2BHK", g1.Configuration)
	require.Empty(t, g1.LegacyType)
	require.Equal(t, DefaultFurnishing, g1.Furnishing)
	require.Equal(t, Parking{}, g1.Parking)
	require.Equal(t, GasNo, g1.Utilities.GasLine)
	require.Equal(t, WaterCorporation, g1.Utilities.WaterSupply)
	require.NotNil(t, g1.Media)
}

func TestMalformedStoreFallsBackToSource(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	require.NoError(t, store.Set(ctx, StoreKey, []byte(`{"not":"a list"}`)))
	src := &countingSource{Source: mockSource()}

	props, err := NewRepository(src, store).Properties(ctx)
	require.NoError(t, err)
	require.Len(t, props, 3)
	require.Equal(t, 1, src.gets)
}

func TestHydrationFailureLeavesRepositoryUninitialized(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{Source: mockSource(), fail: datasource.ErrUnavailable}
	repo := NewRepository(src, kv.NewMemory())

	_, err := repo.Properties(ctx)
	require.ErrorIs(t, err, datasource.ErrUnavailable)
	require.False(t, repo.Initialized())

	src.mu.Lock()
	src.fail = nil
	src.mu.Unlock()
	props, err := repo.Properties(ctx)
	require.NoError(t, err)
	require.Len(t, props, 3)
}

func TestConcurrentFirstCallersShareHydration(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{Source: mockSource()}
	repo := NewRepository(src, kv.NewMemory())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Properties(ctx); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, src.gets)
}

func TestCreatePropertyRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(mockSource(), kv.NewMemory())

	in := PropertyInput{Name: "A", City: "X", Address: "1 St", OwnerName: " Rohan Mehta "}
	created, err := repo.CreateProperty(ctx, in)
	require.NoError(t, err)
	require.Regexp(t, `^prop-[0-9a-z]{26}$`, created.ID)
	require.Equal(t, StatusActive, created.Status)
	require.Equal(t, "Rohan Mehta", created.OwnerName)
	require.Empty(t, created.Units)

	_, err = repo.CreateProperty(ctx, in)
	require.ErrorIs(t, err, ErrDuplicateProperty)

	_, err = repo.CreateProperty(ctx, PropertyInput{Name: "  a ", City: "x", Address: "1   st"})
	require.ErrorIs(t, err, ErrDuplicateProperty)

	_, err = repo.CreateProperty(ctx, PropertyInput{Name: "Lakeview Residency", City: "Pune", Address: "Survey 42,  Baner Road"})
	require.ErrorIs(t, err, ErrDuplicateProperty)

	_, err = repo.CreateProperty(ctx, PropertyInput{Name: " ", City: "X"})
	require.ErrorIs(t, err, ErrInvalidInput)

	props, err := repo.Properties(ctx)
	require.NoError(t, err)
	require.Len(t, props, 4)
	require.Equal(t, created.ID, props[0].ID, "new properties are prepended")
}

func TestUpdateProperty(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(mockSource(), kv.NewMemory())

	_, err := repo.UpdateProperty(ctx, PropertyUpdate{ID: "prop-missing", PropertyInput: PropertyInput{Name: "N", City: "C"}})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = repo.UpdateProperty(ctx, PropertyUpdate{ID: "prop-1002", PropertyInput: PropertyInput{
		Name: "lakeview residency", City: "PUNE", Address: "survey 42, baner road",
	}})
	require.ErrorIs(t, err, ErrDuplicateProperty)

	updated, err := repo.UpdateProperty(ctx, PropertyUpdate{ID: "prop-1001", PropertyInput: PropertyInput{
		Name: "Lakeview Residency", City: "Pune", Address: "Survey 42, Baner Road", Status: StatusInactive,
	}})
	require.NoError(t, err, "a property is not a duplicate of itself")
	require.Equal(t, StatusInactive, updated.Status)
	require.Len(t, updated.Units, 3, "units are preserved")

	props, _ := repo.Properties(ctx)
	require.Equal(t, "prop-1001", props[0].ID, "updates keep position")
}

func TestUpsertUnitCodeUniqueness(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(mockSource(), kv.NewMemory())
	p, err := repo.CreateProperty(ctx, PropertyInput{Name: "P", City: "X", Address: "1 St"})
	require.NoError(t, err)

	u1, err := repo.UpsertUnit(ctx, UnitInput{PropertyID: p.ID, UnitCode: "U1", Rent: 1000})
	require.NoError(t, err)
	require.Regexp(t, `^unit-`, u1.ID)
	require.Equal(t, Vacant, u1.OccupancyStatus)

	_, err = repo.UpsertUnit(ctx, UnitInput{PropertyID: p.ID, UnitCode: "u1"})
	require.ErrorIs(t, err, ErrDuplicateUnitCode)

	_, err = repo.UpsertUnit(ctx, UnitInput{PropertyID: p.ID, ID: "unit-other", UnitCode: " u1 "})
	require.ErrorIs(t, err, ErrDuplicateUnitCode)

	edited, err := repo.UpsertUnit(ctx, UnitInput{PropertyID: p.ID, ID: u1.ID, UnitCode: "u1", Rent: 1200, OccupancyStatus: Occupied, TenantName: "Priya Sharma"})
	require.NoError(t, err, "editing a unit is not a duplicate of itself")
	require.Equal(t, 1200.0, edited.Rent)

	_, err = repo.UpsertUnit(ctx, UnitInput{PropertyID: p.ID, ID: "unit-ghost", UnitCode: "U9"})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = repo.UpsertUnit(ctx, UnitInput{PropertyID: "prop-ghost", UnitCode: "U9"})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = repo.UpsertUnit(ctx, UnitInput{PropertyID: p.ID, UnitCode: "  "})
	require.ErrorIs(t, err, ErrInvalidInput)

	got, err := repo.Property(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Units, 1)
	require.Equal(t, Occupied, got.Units[0].OccupancyStatus)
}

func TestUpsertUnitNormalizes(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(mockSource(), kv.NewMemory())

	u, err := repo.UpsertUnit(ctx, UnitInput{
		PropertyID:     "prop-1002",
		UnitCode:       "1301",
		Rent:           -50,
		CarpetAreaSqFt: -1,
		Parking:        &Parking{TwoWheelerSlots: -2, FourWheelerSlots: 1},
		Utilities:      &Utilities{GasLine: "YES", WaterSupply: "river"},
		Media: []Media{
			{Type: "image", URL: " "},
			{Type: "panorama", URL: "https://cdn.rent360.com/x.jpg", Title: " Hall "},
			{ID: "media-keep", Type: "video", URL: "https://cdn.rent360.com/x.mp4"},
		},
	})
	require.NoError(t, err)
	require.Zero(t, u.Rent)
	require.Zero(t, u.CarpetAreaSqFt)
	require.Equal(t, Parking{TwoWheelerSlots: 0, FourWheelerSlots: 1}, u.Parking)
	require.Equal(t, GasYes, u.Utilities.GasLine)
	require.Equal(t, WaterCorporation, u.Utilities.WaterSupply)
	require.Equal(t, DefaultConfiguration, u.Configuration)
	require.Len(t, u.Media, 2)
	require.Equal(t, MediaImage, u.Media[0].Type)
	require.Equal(t, "Hall", u.Media[0].Title)
	require.Regexp(t, `^media-`, u.Media[0].ID)
	require.Equal(t, "media-keep", u.Media[1].ID)

	p, _ := repo.Property(ctx, "prop-1002")
	require.Equal(t, "1301", p.Units[len(p.Units)-1].UnitCode, "new units are appended")
}

func TestRestartRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	repo := NewRepository(mockSource(), store)

	p, err := repo.CreateProperty(ctx, PropertyInput{Name: "A", City: "X", Address: "1 St"})
	require.NoError(t, err)
	_, err = repo.UpsertUnit(ctx, UnitInput{PropertyID: p.ID, UnitCode: "U1", Media: []Media{{URL: "https://cdn.rent360.com/a.jpg"}}})
	require.NoError(t, err)
	want, err := repo.Properties(ctx)
	require.NoError(t, err)

	src := &countingSource{Source: mockSource()}
	restarted := NewRepository(src, store)
	got, err := restarted.Properties(ctx)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Zero(t, src.gets, "rehydration reads the store, not the source")
}

func TestSubscribersSeeEveryMutation(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(mockSource(), kv.NewMemory())
	_, err := repo.Properties(ctx)
	require.NoError(t, err)

	var sizes []int
	stop := repo.Subscribe(func(props []Property) { sizes = append(sizes, len(props)) })
	_, err = repo.CreateProperty(ctx, PropertyInput{Name: "B", City: "Y"})
	require.NoError(t, err)
	_, err = repo.CreateProperty(ctx, PropertyInput{Name: "B", City: "Y"})
	require.Error(t, err)
	stop()
	_, err = repo.CreateProperty(ctx, PropertyInput{Name: "C", City: "Y"})
	require.NoError(t, err)

	require.Equal(t, []int{3, 4}, sizes, "replay then one value per successful mutation")
}

func TestReturnedValuesAreDetached(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(mockSource(), kv.NewMemory())
	props, err := repo.Properties(ctx)
	require.NoError(t, err)
	props[0].Name = "mutated"
	props[0].Units[0].UnitCode = "mutated"

	again, _ := repo.Properties(ctx)
	require.Equal(t, "Lakeview Residency", again[0].Name)
	require.Equal(t, "A-101", again[0].Units[0].UnitCode)
}

func TestAPIModeSendsMutationsToBackend(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/properties/units":
			_, _ = w.Write([]byte(`{"properties":[{"id":"p1","name":"Remote","city":"Pune","status":"active","units":[]}]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/properties":
			var in PropertyInput
			_ = json.NewDecoder(r.Body).Decode(&in)
			_ = json.NewEncoder(w).Encode(Property{ID: "p2", Name: in.Name, City: in.City, Status: in.Status})
		case r.Method == http.MethodPut && r.URL.Path == "/properties/p1":
			_, _ = w.Write([]byte(`{"id":"p1","name":"Remote 2","city":"Pune","status":"inactive"}`))
		case r.Method == http.MethodPut && r.URL.Path == "/properties/p1/units":
			_, _ = w.Write([]byte(`{"id":"u-remote","unitCode":"R1","rent":900}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	store := kv.NewMemory()
	repo := NewRepository(datasource.New(config.APIConfig{APIBaseURL: srv.URL + "/"}), store)

	created, err := repo.CreateProperty(ctx, PropertyInput{Name: "New", City: "Goa"})
	require.NoError(t, err)
	require.Equal(t, "p2", created.ID)

	updated, err := repo.UpdateProperty(ctx, PropertyUpdate{ID: "p1", PropertyInput: PropertyInput{Name: "Remote 2", City: "Pune"}})
	require.NoError(t, err)
	require.Equal(t, StatusInactive, updated.Status)

	unit, err := repo.UpsertUnit(ctx, UnitInput{PropertyID: "p1", UnitCode: "R1"})
	require.NoError(t, err)
	require.Equal(t, "u-remote", unit.ID)

	props, err := repo.Properties(ctx)
	require.NoError(t, err)
	require.Len(t, props, 2)
	require.Equal(t, "u-remote", props[1].Units[0].ID)

	_, err = store.Get(ctx, StoreKey)
	require.True(t, errors.Is(err, kv.ErrNotFound), "api mode never writes the mock store")
	require.Equal(t, []string{
		"GET /properties/units", "POST /properties", "PUT /properties/p1", "PUT /properties/p1/units",
	}, calls)
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

func TestUnreadableStoreKeepsSavedCollection(t *testing.T) {
	ctx := context.Background()
	base := kv.NewMemory()
	created, err := NewRepository(mockSource(), base).CreateProperty(ctx, PropertyInput{Name: "Saved Court", City: "Pune"})
	require.NoError(t, err)

	repo := NewRepository(mockSource(), &flakyStore{Store: base, failures: 1})
	props, err := repo.Properties(ctx)
	require.NoError(t, err)
	require.Len(t, props, 3)
	require.False(t, repo.Initialized())

	var stored []Property
	raw, err := base.Get(ctx, StoreKey)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &stored))
	require.Len(t, stored, 4)
	require.Equal(t, created.ID, stored[0].ID)

	props, err = repo.Properties(ctx)
	require.NoError(t, err)
	require.True(t, repo.Initialized())
	require.Len(t, props, 4)
	require.Equal(t, "Saved Court", props[0].Name)
}

func TestMutationRefusedWhileStoreUnreadable(t *testing.T) {
	ctx := context.Background()
	base := kv.NewMemory()
	_, err := NewRepository(mockSource(), base).CreateProperty(ctx, PropertyInput{Name: "Saved Court", City: "Pune"})
	require.NoError(t, err)

	repo := NewRepository(mockSource(), &flakyStore{Store: base, failures: 1})
	_, err = repo.CreateProperty(ctx, PropertyInput{Name: "Blip Tower", City: "Goa"})
	require.ErrorIs(t, err, kv.ErrUnavailable)

	created, err := repo.CreateProperty(ctx, PropertyInput{Name: "Blip Tower", City: "Goa"})
	require.NoError(t, err)

	props, err := NewRepository(mockSource(), base).Properties(ctx)
	require.NoError(t, err)
	require.Len(t, props, 5)
	require.Equal(t, created.ID, props[0].ID)
	require.Equal(t, "Saved Court", props[1].Name)
}
