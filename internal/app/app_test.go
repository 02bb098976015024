package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timez/internal/config"
	"timez/internal/router"
	"timez/internal/state"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "timez.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const testConfig = `
logging:
  level: error
  console: true
storage:
  driver: file
  path: %s
notifier:
  enabled: true
  log: true
http:
  enabled: false
`

func TestAppLifecycle(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, "store.json")
	path := writeConfig(t, fmt.Sprintf(testConfig, store))

	a, err := New(Options{ConfigPath: path})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	delay := 10.0
	resp, err := a.Router().Dispatch(ctx, router.Message{Type: router.TypeCreateTimer, DelayInMinutes: &delay})
	require.NoError(t, err)
	assert.Equal(t, router.ResponseSuccess, resp.Kind)

	resp, err = a.Router().Dispatch(ctx, router.Message{Type: router.TypeGetTimerState})
	require.NoError(t, err)
	require.NotNil(t, resp.Alarm)
	assert.Equal(t, "timer", resp.Alarm.Name)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx))

	// Defaults were seeded and the armed timer persisted.
	b, err := os.ReadFile(store)
	require.NoError(t, err)
	assert.Contains(t, string(b), state.KeyCities)
	assert.Contains(t, string(b), `"timer"`)
}

const memConfig = `
logging: {level: error, console: true}
storage: {driver: memory}
`

func TestAppInstall(t *testing.T) {
	a, err := New(Options{ConfigPath: writeConfig(t, memConfig), Native: true})
	require.NoError(t, err)
	defer func() { _ = a.store.Close() }()

	require.NoError(t, a.Install(context.Background()))
	cities, err := a.repo.Cities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, state.DefaultCities(), cities)
	// Native mode never serves HTTP.
	assert.Nil(t, a.http)
}

func TestMapNotifierConfigDefaults(t *testing.T) {
	cfg := config.Default()
	n, err := mapNotifierConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, n.RetryBase)
	assert.Equal(t, 10*time.Second, n.SendTimeout)
	assert.True(t, n.Enabled)

	cfg.Notifier.RetryBase = "nope"
	_, err = mapNotifierConfig(cfg)
	assert.Error(t, err)
}

func TestBuildSinks(t *testing.T) {
	cfg := config.Default()
	a, err := New(Options{ConfigPath: writeConfig(t, memConfig)})
	require.NoError(t, err)
	defer func() { _ = a.store.Close() }()

	sinks := buildSinks(cfg, a.log, a.bus)
	require.Len(t, sinks, 2)
	assert.Equal(t, "log", sinks[0].Name())
	assert.Equal(t, "client", sinks[1].Name())

	// No bus, no client sink.
	assert.Len(t, buildSinks(cfg, a.log, nil), 1)

	// A broken Telegram config is skipped, not fatal.
	cfg.Notifier.Telegram = config.TelegramConfig{Enabled: true, ChatID: 1}
	assert.Len(t, buildSinks(cfg, a.log, a.bus), 2)
}
