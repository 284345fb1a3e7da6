// Package persist reads and writes JSON snapshots in a kv.Store. A missing
// or malformed value is reported as absent so callers fall back to defaults;
// a store that cannot be read is reported as an error wrapping
// kv.ErrUnavailable, and callers must not treat it as absent.
package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sirupsen/logrus"

	"rent360.org/internal/kv"
	"rent360.org/internal/obs"
)

// ErrMalformed marks a stored value that failed to parse or to match its schema.
var ErrMalformed = errors.New("persist: malformed state")

// Schema is a compiled JSON Schema for one persisted document.
type Schema struct {
	name     string
	compiled *jsonschema.Schema
}

// Compile compiles a Draft 2020-12 schema document.
func Compile(name, src string) (*Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://rent360.schemas.local/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("schema %s load failed: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema %s compile failed: %w", name, err)
	}
	return &Schema{name: name, compiled: compiled}, nil
}

// MustCompile is Compile for package-level schema variables.
func MustCompile(name, src string) *Schema {
	s, err := Compile(name, src)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) Name() string { return s.name }

// Decode parses raw, validates it against schema (when non-nil) and
// unmarshals it into dst.
func Decode(raw []byte, schema *Schema, dst any) error {
	if schema != nil {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var doc any
		if err := dec.Decode(&doc); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if err := schema.compiled.Validate(doc); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformed, schema.name, err)
		}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Load reads key into dst and reports whether a valid value was found. The
// error is non-nil only when the store itself failed.
func Load(ctx context.Context, store kv.Store, key string, schema *Schema, dst any) (bool, error) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		storageFailure("load", key, err)
		if !errors.Is(err, kv.ErrUnavailable) {
			err = fmt.Errorf("%w: %v", kv.ErrUnavailable, err)
		}
		return false, err
	}
	if err := Decode(raw, schema, dst); err != nil {
		obs.Logger().WithFields(logrus.Fields{"key": key, "error": err.Error()}).Debug("persisted state ignored")
		return false, nil
	}
	return true, nil
}

// Save writes v under key. Failures are logged and counted, never returned.
func Save(ctx context.Context, store kv.Store, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		storageFailure("encode", key, err)
		return
	}
	if err := store.Set(ctx, key, raw); err != nil {
		storageFailure("save", key, err)
	}
}

// Remove deletes key. Failures are logged and counted, never returned.
func Remove(ctx context.Context, store kv.Store, key string) {
	if err := store.Delete(ctx, key); err != nil {
		storageFailure("remove", key, err)
	}
}

func storageFailure(op, key string, err error) {
	obs.ObserveStorageFailure(op)
	obs.Logger().WithFields(logrus.Fields{"op": op, "key": key, "error": err.Error()}).Warn("storage failure")
}
