package app

import (
	"context"
	"strings"

	"timez/internal/config"
	logx "timez/pkg/logx"
)

// reloadLoop applies hot-reloadable sections (logging, notifier) and warns
// about the rest.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.apply(last, cfg)
			last = cfg
		}
	}
}

func (a *App) apply(prev, cfg *config.Config) {
	changed, fields := config.Changes(prev, cfg)
	if len(changed) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.log.Info("config changed", append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, fields...)...)

	for _, s := range changed {
		switch s {
		case config.SectionLogging:
			a.logs.Apply(mapLogConfig(cfg, a.opts.Native))
		case config.SectionNotifier:
			ncfg, err := mapNotifierConfig(cfg)
			if err != nil {
				a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
				continue
			}
			a.notif.Apply(ncfg)
			a.notif.SetSinks(buildSinks(cfg, a.log, a.bus)...)
			if ncfg.Enabled {
				a.notif.Start(context.Background())
			}
		}
	}
	if config.RestartRequired(changed) {
		a.log.Warn("config changes need a restart to take effect", logx.String("changed", strings.Join(changed, ",")))
	}
}
