package state

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timez/internal/storage"
)

func TestEnsureDefaultsFirstInstall(t *testing.T) {
	ctx := context.Background()
	r := New(storage.NewMemory())

	written, err := r.EnsureDefaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{KeyAlarms, KeyCities}, written)

	alarms, err := r.Alarms(ctx)
	require.NoError(t, err)
	assert.NotNil(t, alarms)
	assert.Empty(t, alarms)

	cities, err := r.Cities(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultCities(), cities)

	written, err = r.EnsureDefaults(ctx)
	require.NoError(t, err)
	assert.Empty(t, written)
}

func TestEnsureDefaultsKeepsExisting(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	r := New(kv)

	mine := []City{{ID: 9, Name: "Jakarta", Timezone: "Asia/Jakarta"}}
	require.NoError(t, r.SaveCities(ctx, mine))

	written, err := r.EnsureDefaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{KeyAlarms}, written)

	cities, err := r.Cities(ctx)
	require.NoError(t, err)
	assert.Equal(t, mine, cities)
}

func TestEnsureDefaultsTreatsNullAsAbsent(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	require.NoError(t, kv.Set(ctx, map[string]json.RawMessage{
		KeyAlarms: json.RawMessage(`null`),
		KeyCities: json.RawMessage(`[]`),
	}))

	written, err := New(kv).EnsureDefaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{KeyAlarms}, written)

	got, err := kv.Get(ctx, KeyCities)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(got[KeyCities]))
}

func TestFindAlarmComparesStrings(t *testing.T) {
	alarms := []Alarm{{ID: 1, Label: "one"}, {ID: 12, Label: "twelve"}}

	a, ok := FindAlarm(alarms, "12")
	require.True(t, ok)
	assert.Equal(t, "twelve", a.Label)

	_, ok = FindAlarm(alarms, "012")
	assert.False(t, ok)
	_, ok = FindAlarm(alarms, "3")
	assert.False(t, ok)
}

func TestTriggersRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := New(storage.NewMemory())

	got, err := r.LoadTriggers(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, r.SaveTriggers(ctx, map[string]int64{"timer": 1700000000000}))
	got, err = r.LoadTriggers(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"timer": 1700000000000}, got)
}

func TestAlarmsDecodeError(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	require.NoError(t, kv.Set(ctx, map[string]json.RawMessage{KeyAlarms: json.RawMessage(`{"bad":true}`)}))
	_, err := New(kv).Alarms(ctx)
	assert.Error(t, err)
}

func TestSetValuesWritesClientKeys(t *testing.T) {
	ctx := context.Background()
	r := New(storage.NewMemory())

	require.NoError(t, r.SetValues(ctx, map[string]json.RawMessage{
		KeyAlarms: json.RawMessage(`[{"id":7,"label":"Standup","time":"09:15","enabled":true}]`),
		"theme":   json.RawMessage(`"dark"`),
	}))

	alarms, err := r.Alarms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Alarm{{ID: 7, Label: "Standup", Time: "09:15", Enabled: true}}, alarms)

	got, err := r.Values(ctx, "theme", "missing")
	require.NoError(t, err)
	assert.JSONEq(t, `"dark"`, string(got["theme"]))
	assert.NotContains(t, got, "missing")
}

func TestSetValuesRejects(t *testing.T) {
	ctx := context.Background()
	r := New(storage.NewMemory())
	require.NoError(t, r.SetValues(ctx, map[string]json.RawMessage{"theme": json.RawMessage(`"light"`)}))

	cases := []struct {
		name   string
		values map[string]json.RawMessage
		want   error
	}{
		{"empty", nil, ErrNoKeys},
		{"triggers", map[string]json.RawMessage{KeyTriggers: json.RawMessage(`{}`)}, ErrReservedKey},
		{"alarm shape", map[string]json.RawMessage{KeyAlarms: json.RawMessage(`{"id":1}`)}, ErrInvalidValue},
		{"city shape", map[string]json.RawMessage{KeyCities: json.RawMessage(`[{"id":"x"}]`)}, ErrInvalidValue},
		{"not json", map[string]json.RawMessage{"theme": json.RawMessage(`{`)}, ErrInvalidValue},
		{"blank key", map[string]json.RawMessage{" ": json.RawMessage(`1`)}, ErrInvalidValue},
		// One bad key blocks the whole write.
		{"mixed", map[string]json.RawMessage{"theme": json.RawMessage(`"dark"`), KeyTriggers: json.RawMessage(`{}`)}, ErrReservedKey},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.ErrorIs(t, r.SetValues(ctx, c.values), c.want)
		})
	}

	got, err := r.Values(ctx, "theme")
	require.NoError(t, err)
	assert.JSONEq(t, `"light"`, string(got["theme"]))

	_, err = r.Values(ctx)
	assert.ErrorIs(t, err, ErrNoKeys)
}
