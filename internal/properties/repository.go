package properties

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"rent360.org/internal/datasource"
	"rent360.org/internal/ids"
	"rent360.org/internal/kv"
	"rent360.org/internal/obs"
	"rent360.org/internal/persist"
	"rent360.org/internal/stream"
)

// StoreKey is the durable key of the mock property collection.
const StoreKey = "r360_mock_properties"

var collectionSchema = persist.MustCompile("properties", `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["id", "name"],
    "properties": {
      "id": {"type": "string", "minLength": 1},
      "name": {"type": "string"},
      "units": {
        "type": "array",
        "items": {
          "type": "object",
          "required": ["id", "unitCode"],
          "properties": {
            "id": {"type": "string", "minLength": 1},
            "unitCode": {"type": "string"},
            "rent": {"type": "number"}
          }
        }
      }
    }
  }
}`)

var listRequest = datasource.Request{Endpoint: "properties/units", MockPath: "properties/units.json"}

type listResponse struct {
	Properties []Property `json:"properties"`
}

// Repository is the single source of truth for properties and units. It
// hydrates once, from the store in mock mode or from the data source, and
// serializes every mutation.
type Repository struct {
	src   datasource.Source
	store kv.Store

	// write serializes mutations together with their notifications.
	write  sync.Mutex
	loadMu sync.Mutex

	mu          sync.RWMutex
	initialized bool
	props       []Property

	list    *stream.Topic[[]Property]
	changed *stream.Topic[struct{}]
}

// NewRepository reads fixtures or the API through src and persists the
// collection in store, normally the durable scope.
func NewRepository(src datasource.Source, store kv.Store) *Repository {
	return &Repository{
		src:     src,
		store:   store,
		list:    stream.NewLatest[[]Property](),
		changed: stream.NewSubject[struct{}](),
	}
}

// Initialized reports whether the collection has been hydrated.
func (r *Repository) Initialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialized
}

// Properties returns the current collection, hydrating it on first use.
// Concurrent first callers wait for the same hydration.
func (r *Repository) Properties(ctx context.Context) ([]Property, error) {
	r.mu.RLock()
	if r.initialized {
		out := cloneAll(r.props)
		r.mu.RUnlock()
		return out, nil
	}
	r.mu.RUnlock()

	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	r.mu.RLock()
	if r.initialized {
		out := cloneAll(r.props)
		r.mu.RUnlock()
		return out, nil
	}
	r.mu.RUnlock()

	if r.src.Mock() {
		var saved []Property
		found, err := persist.Load(ctx, r.store, StoreKey, collectionSchema, &saved)
		if err != nil {
			return r.fixtures(ctx, err)
		}
		if found {
			props := normalizeAll(saved)
			r.commit(props)
			r.list.Publish(cloneAll(props))
			return cloneAll(props), nil
		}
	}

	var res listResponse
	if err := r.src.Get(ctx, listRequest, &res); err != nil {
		obs.Logger().WithFields(logrus.Fields{"endpoint": listRequest.Endpoint, "error": err.Error()}).Warn("property hydration failed")
		return nil, fmt.Errorf("load properties: %w", err)
	}
	props := normalizeAll(res.Properties)
	r.commit(props)
	r.save(ctx, props)
	r.list.Publish(cloneAll(props))
	r.changed.Publish(struct{}{})
	return cloneAll(props), nil
}

// fixtures answers from the data source while the store cannot be read. The
// result is neither committed nor saved, so the next call retries the store
// and the persisted collection is never replaced by fixtures.
func (r *Repository) fixtures(ctx context.Context, storeErr error) ([]Property, error) {
	obs.Logger().WithFields(logrus.Fields{"key": StoreKey, "error": storeErr.Error()}).Warn("property store unavailable, serving fixtures")
	var res listResponse
	if err := r.src.Get(ctx, listRequest, &res); err != nil {
		return nil, fmt.Errorf("load properties: %w", storeErr)
	}
	return normalizeAll(res.Properties), nil
}

// ensureLoaded hydrates the collection for a mutation. Mutations need the
// stored collection itself, not the fixture fallback.
func (r *Repository) ensureLoaded(ctx context.Context) error {
	if _, err := r.Properties(ctx); err != nil {
		return err
	}
	if !r.Initialized() {
		return fmt.Errorf("load properties: %w", kv.ErrUnavailable)
	}
	return nil
}

// Property returns one property by id.
func (r *Repository) Property(ctx context.Context, id string) (Property, error) {
	props, err := r.Properties(ctx)
	if err != nil {
		return Property{}, err
	}
	for _, p := range props {
		if p.ID == id {
			return p, nil
		}
	}
	return Property{}, ErrNotFound
}

// CreateProperty prepends a new property. A property matching the trimmed,
// case- and whitespace-folded (name, city, address) of another fails with
// ErrDuplicateProperty.
func (r *Repository) CreateProperty(ctx context.Context, in PropertyInput) (created Property, err error) {
	defer func() { obs.ObserveMutation("create_property", resultLabel(err)) }()
	in = in.trimmed()
	if err := in.validate(); err != nil {
		return Property{}, err
	}
	if err := r.ensureLoaded(ctx); err != nil {
		return Property{}, err
	}

	r.write.Lock()
	defer r.write.Unlock()

	current := r.snapshot()
	if indexOfIdentity(current, in, "") >= 0 {
		return Property{}, ErrDuplicateProperty
	}

	if r.src.Mock() {
		created = Property{
			ID:          ids.Prefixed("prop"),
			Name:        in.Name,
			City:        in.City,
			Address:     in.Address,
			Description: in.Description,
			OwnerName:   in.OwnerName,
			Status:      in.Status,
			Units:       []Unit{},
		}
	} else {
		if err := r.src.Post(ctx, "properties", in, &created); err != nil {
			return Property{}, fmt.Errorf("create property: %w", err)
		}
		created = normalizeProperty(created)
		if created.ID == "" {
			return Property{}, fmt.Errorf("create property: backend returned no id")
		}
	}

	next := append([]Property{created}, current...)
	r.apply(ctx, next)
	return cloneProperty(created), nil
}

// UpdateProperty replaces the descriptive fields of an existing property and
// keeps its units.
func (r *Repository) UpdateProperty(ctx context.Context, in PropertyUpdate) (updated Property, err error) {
	defer func() { obs.ObserveMutation("update_property", resultLabel(err)) }()
	in.PropertyInput = in.PropertyInput.trimmed()
	if err := in.validate(); err != nil {
		return Property{}, err
	}
	if err := r.ensureLoaded(ctx); err != nil {
		return Property{}, err
	}

	r.write.Lock()
	defer r.write.Unlock()

	current := r.snapshot()
	idx := indexOfID(current, in.ID)
	if idx < 0 {
		return Property{}, ErrNotFound
	}
	if indexOfIdentity(current, in.PropertyInput, in.ID) >= 0 {
		return Property{}, ErrDuplicateProperty
	}

	updated = current[idx]
	updated.Name = in.Name
	updated.City = in.City
	updated.Address = in.Address
	updated.Description = in.Description
	updated.OwnerName = in.OwnerName
	updated.Status = in.Status

	if !r.src.Mock() {
		var remote Property
		if err := r.src.Put(ctx, "properties/"+url.PathEscape(in.ID), in, &remote); err != nil {
			return Property{}, fmt.Errorf("update property: %w", err)
		}
		if remote.ID != "" {
			units := updated.Units
			updated = normalizeProperty(remote)
			if remote.Units == nil {
				updated.Units = units
			}
		}
	}

	next := append([]Property(nil), current...)
	next[idx] = updated
	r.apply(ctx, next)
	return cloneProperty(updated), nil
}

// UpsertUnit inserts a unit when in.ID is empty and replaces the unit with
// that id otherwise. Unit codes are unique per property, ignoring case.
func (r *Repository) UpsertUnit(ctx context.Context, in UnitInput) (saved Unit, err error) {
	defer func() { obs.ObserveMutation("upsert_unit", resultLabel(err)) }()
	if strings.TrimSpace(in.UnitCode) == "" {
		return Unit{}, ErrInvalidInput
	}
	if err := r.ensureLoaded(ctx); err != nil {
		return Unit{}, err
	}

	r.write.Lock()
	defer r.write.Unlock()

	current := r.snapshot()
	pidx := indexOfID(current, in.PropertyID)
	if pidx < 0 {
		return Unit{}, ErrNotFound
	}
	prop := current[pidx]

	uidx := -1
	code := unitCodeKey(in.UnitCode)
	for i, u := range prop.Units {
		if in.ID != "" && u.ID == in.ID {
			uidx = i
			continue
		}
		if unitCodeKey(u.UnitCode) == code {
			return Unit{}, ErrDuplicateUnitCode
		}
	}
	if in.ID != "" && uidx < 0 {
		return Unit{}, ErrNotFound
	}

	id := in.ID
	if id == "" {
		id = ids.Prefixed("unit")
	}
	saved = in.unit(id)

	if !r.src.Mock() {
		var remote Unit
		if err := r.src.Put(ctx, "properties/"+url.PathEscape(in.PropertyID)+"/units", in, &remote); err != nil {
			return Unit{}, fmt.Errorf("upsert unit: %w", err)
		}
		if remote.ID != "" {
			saved = normalizeUnit(remote)
		}
	}

	units := append([]Unit(nil), prop.Units...)
	if uidx >= 0 {
		units[uidx] = saved
	} else {
		units = append(units, saved)
	}
	prop.Units = units
	next := append([]Property(nil), current...)
	next[pidx] = prop
	r.apply(ctx, next)
	return cloneUnit(saved), nil
}

// Subscribe receives the collection after hydration and every mutation.
func (r *Repository) Subscribe(fn func([]Property)) func() {
	return r.list.Subscribe(fn)
}

// SubscribeChanged receives a ping after every change; there is no replay.
func (r *Repository) SubscribeChanged(fn func()) func() {
	return r.changed.Subscribe(func(struct{}) { fn() })
}

// Watch streams the collection until ctx ends.
func (r *Repository) Watch(ctx context.Context) <-chan []Property {
	return r.list.Watch(ctx)
}

func (r *Repository) snapshot() []Property {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneAll(r.props)
}

func (r *Repository) commit(props []Property) {
	r.mu.Lock()
	r.props = props
	r.initialized = true
	r.mu.Unlock()
}

// apply commits next, persists it in mock mode and notifies subscribers.
// Callers hold r.write.
func (r *Repository) apply(ctx context.Context, next []Property) {
	r.commit(next)
	r.save(ctx, next)
	r.list.Publish(cloneAll(next))
	r.changed.Publish(struct{}{})
}

func (r *Repository) save(ctx context.Context, props []Property) {
	if !r.src.Mock() {
		return
	}
	persist.Save(ctx, r.store, StoreKey, props)
}

func indexOfID(props []Property, id string) int {
	for i, p := range props {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// indexOfIdentity finds a property other than ignoreID with the same
// identity as in.
func indexOfIdentity(props []Property, in PropertyInput, ignoreID string) int {
	want := identityKey(in.Name, in.City, in.Address)
	for i, p := range props {
		if ignoreID != "" && p.ID == ignoreID {
			continue
		}
		if identityKey(p.Name, p.City, p.Address) == want {
			return i
		}
	}
	return -1
}
