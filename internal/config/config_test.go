package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "timez/pkg/logx"
)

func TestDecodeYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := Decode("timez.yaml", []byte(`
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./timez.db
  busy_timeout: 3s
scheduler:
  timezone: Europe/London
notifier:
  enabled: true
  rate_per_sec: 2
  telegram:
    enabled: true
    token: "123:abc"
    chat_id: -100123
http:
  enabled: true
  addr: 127.0.0.1:9000
  allowed_origins: ["moz-extension://*"]
`))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "Europe/London", cfg.Scheduler.Timezone)
	assert.Equal(t, 2, cfg.Notifier.RatePerSec)
	assert.Equal(t, int64(-100123), cfg.Notifier.Telegram.ChatID)
	// Omitted keys keep their defaults.
	assert.Equal(t, 64, cfg.Notifier.QueueSize)
	assert.True(t, cfg.Notifier.Log)
	assert.True(t, cfg.Notifier.Client)
	assert.Equal(t, []string{"moz-extension://*"}, cfg.HTTP.AllowedOrigins)
	require.NoError(t, Validate(cfg))
}

func TestDecodeRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field": `{"logging":{"colour":true}}`,
		"trailing data": `{}{}`,
		"bad json":      `{`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode("timez.json", []byte(body))
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "redis" }},
		{"file without path", func(c *Config) { c.Storage.Path = "" }},
		{"bad busy timeout", func(c *Config) { c.Storage.BusyTimeout = "soon" }},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }},
		{"negative workers", func(c *Config) { c.Notifier.Workers = -1 }},
		{"telegram without token", func(c *Config) { c.Notifier.Telegram = TelegramConfig{Enabled: true, ChatID: 1} }},
		{"http without addr", func(c *Config) { c.HTTP.Addr = "" }},
		{"negative duration", func(c *Config) { c.Notifier.RetryBase = "-1s" }},
	}
	require.NoError(t, Validate(Default()))
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "nope.json"), logx.Nop())
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Same(t, cfg, m.Get())
}

func TestLoadInvalidFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timez.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"storage":{"driver":"tape"}}`), 0o644))
	_, err := NewManager(path, logx.Nop()).Load()
	assert.Error(t, err)
}

func TestChanges(t *testing.T) {
	a := Default()
	b := Default()
	changed, _ := Changes(a, b)
	assert.Empty(t, changed)

	b.Logging.Level = "debug"
	b.Notifier.RatePerSec = 1
	changed, fields := Changes(a, b)
	assert.Equal(t, []string{SectionLogging, SectionNotifier}, changed)
	assert.NotEmpty(t, fields)
	assert.False(t, RestartRequired(changed))

	b.HTTP.Addr = "127.0.0.1:1"
	changed, _ = Changes(a, b)
	assert.True(t, RestartRequired(changed))
}

func TestWatchPublishesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timez.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"info","console":true}}`), 0o644))

	m := NewManager(path, logx.Nop())
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"debug","console":true}}`), 0o644))

	select {
	case cfg := <-ch:
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "debug", m.Get().Logging.Level)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload published")
	}

	cancel()
	<-done
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	d, err = ParseDurationOrDefault("x", "250ms", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	_, err = ParseDurationOrDefault("x", "abc", time.Second)
	assert.Error(t, err)
}
