// Package state gives typed access to the records kept in the key-value store.
package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"timez/internal/storage"
)

var (
	ErrNoKeys       = errors.New("state: no keys given")
	ErrReservedKey  = errors.New("state: key is managed by the daemon")
	ErrInvalidValue = errors.New("state: invalid value")
)

// Store is the state access the router depends on.
type Store interface {
	Alarms(ctx context.Context) ([]Alarm, error)
	Cities(ctx context.Context) ([]City, error)
	EnsureDefaults(ctx context.Context) ([]string, error)
}

// Repo implements Store (and trigger persistence) on top of a storage.Store.
type Repo struct {
	kv storage.Store
}

func New(kv storage.Store) *Repo {
	return &Repo{kv: kv}
}

// Alarms returns the stored alarm list. A missing key yields an empty list.
func (r *Repo) Alarms(ctx context.Context) ([]Alarm, error) {
	var out []Alarm
	if _, err := r.load(ctx, KeyAlarms, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Cities returns the stored world-clock list.
func (r *Repo) Cities(ctx context.Context) ([]City, error) {
	var out []City
	if _, err := r.load(ctx, KeyCities, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) SaveAlarms(ctx context.Context, alarms []Alarm) error {
	if alarms == nil {
		alarms = []Alarm{}
	}
	return r.save(ctx, map[string]any{KeyAlarms: alarms})
}

func (r *Repo) SaveCities(ctx context.Context, cities []City) error {
	if cities == nil {
		cities = []City{}
	}
	return r.save(ctx, map[string]any{KeyCities: cities})
}

// EnsureDefaults writes the default value of every key that is absent or null
// and leaves present values alone, even empty lists. It returns the keys written.
func (r *Repo) EnsureDefaults(ctx context.Context) ([]string, error) {
	got, err := r.kv.Get(ctx, KeyAlarms, KeyCities)
	if err != nil {
		return nil, fmt.Errorf("read defaults: %w", err)
	}
	updates := map[string]any{}
	if isAbsent(got[KeyAlarms]) {
		updates[KeyAlarms] = []Alarm{}
	}
	if isAbsent(got[KeyCities]) {
		updates[KeyCities] = DefaultCities()
	}
	if len(updates) == 0 {
		return nil, nil
	}
	if err := r.save(ctx, updates); err != nil {
		return nil, fmt.Errorf("write defaults: %w", err)
	}
	written := make([]string, 0, len(updates))
	for _, k := range []string{KeyAlarms, KeyCities} {
		if _, ok := updates[k]; ok {
			written = append(written, k)
		}
	}
	return written, nil
}

// Values returns the raw values of keys the way storage.local.get does:
// absent keys are left out of the result.
func (r *Repo) Values(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	got, err := r.kv.Get(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("read values: %w", err)
	}
	return got, nil
}

// SetValues writes client-owned keys. Alarm and city lists must decode into
// their record types; the trigger table belongs to the scheduler and is
// refused. Nothing is written unless every value passes.
func (r *Repo) SetValues(ctx context.Context, values map[string]json.RawMessage) error {
	if len(values) == 0 {
		return ErrNoKeys
	}
	for k, v := range values {
		if err := checkValue(k, v); err != nil {
			return err
		}
	}
	if err := r.kv.Set(ctx, values); err != nil {
		return fmt.Errorf("write values: %w", err)
	}
	return nil
}

func checkValue(key string, raw json.RawMessage) error {
	switch {
	case strings.TrimSpace(key) == "":
		return fmt.Errorf("%w: empty key", ErrInvalidValue)
	case key == KeyTriggers:
		return fmt.Errorf("%s: %w", key, ErrReservedKey)
	case !json.Valid(raw):
		return fmt.Errorf("%s: %w: not JSON", key, ErrInvalidValue)
	}
	var err error
	switch key {
	case KeyAlarms:
		var v []Alarm
		err = json.Unmarshal(raw, &v)
	case KeyCities:
		var v []City
		err = json.Unmarshal(raw, &v)
	}
	if err != nil {
		return fmt.Errorf("%s: %w: %v", key, ErrInvalidValue, err)
	}
	return nil
}

// LoadTriggers returns persisted trigger deadlines (name -> unix ms).
func (r *Repo) LoadTriggers(ctx context.Context) (map[string]int64, error) {
	out := map[string]int64{}
	if _, err := r.load(ctx, KeyTriggers, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveTriggers replaces the persisted trigger deadlines.
func (r *Repo) SaveTriggers(ctx context.Context, triggers map[string]int64) error {
	if triggers == nil {
		triggers = map[string]int64{}
	}
	return r.save(ctx, map[string]any{KeyTriggers: triggers})
}

// FindAlarm matches by the string form of the id, the way trigger names carry it.
func FindAlarm(alarms []Alarm, id string) (Alarm, bool) {
	for _, a := range alarms {
		if strconv.FormatInt(a.ID, 10) == id {
			return a, true
		}
	}
	return Alarm{}, false
}

func (r *Repo) load(ctx context.Context, key string, out any) (bool, error) {
	got, err := r.kv.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	raw := got[key]
	if isAbsent(raw) {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (r *Repo) save(ctx context.Context, values map[string]any) error {
	raw := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", k, err)
		}
		raw[k] = b
	}
	return r.kv.Set(ctx, raw)
}

func isAbsent(raw json.RawMessage) bool {
	b := bytes.TrimSpace(raw)
	return len(b) == 0 || bytes.Equal(b, []byte("null"))
}
