package config

import (
	"reflect"
	"strings"

	logx "timez/pkg/logx"
)

// Sections that can be applied without a restart.
const (
	SectionLogging  = "logging"
	SectionNotifier = "notifier"
)

// Changes lists the top-level sections that differ between two configs,
// plus log fields describing them. Secrets are never included.
func Changes(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		fields  []logx.Field
	)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, SectionLogging)
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		fields = append(fields, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		fields = append(fields, logx.String("scheduler.timezone", newCfg.Scheduler.Timezone))
	}
	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, SectionNotifier)
		fields = append(fields,
			logx.Bool("notifier.enabled", newCfg.Notifier.Enabled),
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
			logx.Bool("notifier.telegram", newCfg.Notifier.Telegram.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		fields = append(fields, logx.String("http.addr", newCfg.HTTP.Addr))
	}
	return changed, fields
}

// RestartRequired reports whether any changed section needs a restart to apply.
func RestartRequired(changed []string) bool {
	for _, s := range changed {
		if s != SectionLogging && s != SectionNotifier {
			return true
		}
	}
	return false
}
