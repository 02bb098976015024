package config

// Config is the daemon configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Omitted fields keep the values from Default().
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Notifier  NotifierConfig  `json:"notifier"`
	HTTP      HTTPConfig      `json:"http"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the key-value backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./timez.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Driver      string `json:"driver"` // memory | file | sqlite
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type SchedulerConfig struct {
	// Timezone is where alarm HH:MM times are interpreted. Empty means the
	// host's local zone.
	Timezone string `json:"timezone,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`

	// Icon is the iconUrl put on every notification.
	Icon string `json:"icon,omitempty"`
	// Log enables the log sink.
	Log bool `json:"log"`
	// Client pushes notifications to connected popup clients.
	Client   bool           `json:"client"`
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig enables the Telegram sink. The token is never logged.
type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token,omitempty"`
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// HTTPConfig controls the local HTTP API.
//
// Prefer a loopback address: the API has no authentication.
type HTTPConfig struct {
	Enabled        bool     `json:"enabled"`
	Addr           string   `json:"addr,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	// Pprof exposes /debug/pprof on the same listener.
	Pprof bool `json:"pprof,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Storage: StorageConfig{Driver: "file", Path: "./timez_store.json"},
		Notifier: NotifierConfig{
			Enabled:    true,
			Workers:    1,
			QueueSize:  64,
			RatePerSec: 5,
			Log:        true,
			Client:     true,
		},
		HTTP: HTTPConfig{Enabled: true, Addr: "127.0.0.1:7421"},
	}
}
