package app

import (
	"strings"
	"time"

	"timez/internal/config"
	"timez/internal/notifier"
	"timez/internal/storage"
	logx "timez/pkg/logx"
)

func mapLogConfig(cfg *config.Config, stderr bool) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Stderr: stderr,
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	retryBase, err := config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	sendTimeout, err := config.ParseDurationOrDefault("notifier.send_timeout", n.SendTimeout, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:       n.Enabled,
		Workers:       n.Workers,
		QueueSize:     n.QueueSize,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMaxDelay,
		SendTimeout:   sendTimeout,
	}, nil
}

// buildSinks returns the configured delivery targets. A Telegram sink that
// cannot be built is logged and skipped so local notifications keep working.
func buildSinks(cfg *config.Config, log logx.Logger, bus notifier.Publisher) []notifier.Sink {
	var sinks []notifier.Sink
	if cfg.Notifier.Log {
		sinks = append(sinks, notifier.LogSink{Log: log.With(logx.String("sink", "log"))})
	}
	if cfg.Notifier.Client && bus != nil {
		sinks = append(sinks, notifier.ClientSink{Bus: bus})
	}
	if tg := cfg.Notifier.Telegram; tg.Enabled {
		s, err := notifier.NewTelegramSink(notifier.TelegramConfig{
			Token:    tg.Token,
			ChatID:   tg.ChatID,
			ThreadID: tg.ThreadID,
		})
		if err != nil {
			log.Warn("telegram sink disabled", logx.Err(err))
		} else {
			sinks = append(sinks, s)
		}
	}
	return sinks
}
