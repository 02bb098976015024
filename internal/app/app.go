// Package app wires the daemon: config, logging, storage, scheduler,
// notifier, router and transports, under one supervisor.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"timez/internal/config"
	"timez/internal/eventbus"
	"timez/internal/notifier"
	"timez/internal/router"
	"timez/internal/runtime/supervisor"
	"timez/internal/state"
	"timez/internal/storage"
	"timez/internal/transport/httpapi"
	"timez/internal/trigger"
	logx "timez/pkg/logx"
)

type Options struct {
	ConfigPath string
	// Native runs as a browser native messaging host: logs go to stderr and
	// the HTTP API stays off since stdio is the client transport.
	Native bool
}

type App struct {
	opts Options

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store  storage.Store
	repo   *state.Repo
	bus    eventbus.Bus
	sched  *trigger.Scheduler
	notif  *notifier.Service
	router *router.Router
	http   *httpapi.Server
}

func New(opts Options) (*App, error) {
	boot := logx.NewConsole("INFO")
	if opts.Native {
		boot = logx.NewWriter(logx.Stderr(), "INFO")
	}
	cfgm := config.NewManager(opts.ConfigPath, boot)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogConfig(cfg, opts.Native))
	cfgm.SetLogger(log)

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	repo := state.New(store)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	bus := eventbus.New()
	notif := notifier.New(ncfg, log.With(logx.String("comp", "notifier")), buildSinks(cfg, log, bus)...)

	sched := trigger.New(trigger.Config{Timezone: cfg.Scheduler.Timezone}, repo, log.With(logx.String("comp", "scheduler")))
	rt := router.New(router.Deps{
		Store:     repo,
		Scheduler: sched,
		Notifier:  notif,
		Bus:       bus,
		Log:       log,
		Location:  sched.Location(),
		Icon:      cfg.Notifier.Icon,
	})

	a := &App{
		opts:   opts,
		cfgm:   cfgm,
		log:    log.With(logx.String("comp", "app")),
		logs:   logs,
		store:  store,
		repo:   repo,
		bus:    bus,
		sched:  sched,
		notif:  notif,
		router: rt,
	}
	if cfg.HTTP.Enabled && !opts.Native {
		h := httpapi.NewHandler(httpapi.Deps{
			Dispatcher:     rt,
			Events:         bus,
			Cities:         repo,
			Storage:        repo,
			History:        notif,
			Log:            log,
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			Pprof:          cfg.HTTP.Pprof,
		})
		a.http = httpapi.NewServer(cfg.HTTP.Addr, h, log)
	}
	return a, nil
}

func (a *App) Router() *router.Router { return a.router }
func (a *App) Repo() *state.Repo      { return a.repo }
func (a *App) Bus() eventbus.Bus      { return a.bus }
func (a *App) Logger() logx.Logger    { return a.log }

// Install seeds default state and returns; used by the install command.
func (a *App) Install(ctx context.Context) error {
	return a.router.Install(ctx, "install")
}

// Start brings every component up. Fires and messages flow once it returns.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	if err := a.router.Install(ctx, "startup"); err != nil {
		return err
	}

	// The notifier outlives the supervisor so Stop can drain its queue.
	a.notif.Start(context.WithoutCancel(ctx))
	a.sched.Start(a.sup.Context())

	a.sup.Go("router", func(c context.Context) error {
		return a.router.Run(c, a.sched.Fired())
	})
	if a.http != nil {
		a.sup.Go("httpapi", a.http.Run)
	}

	if _, err := os.Stat(a.cfgm.Path()); err == nil {
		a.sup.GoRestart("config.watch", a.cfgm.Watch)
	}
	sub := a.cfgm.Subscribe(4)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})

	a.log.Info("started", logx.Bool("native", a.opts.Native), logx.Bool("http", a.http != nil))
	return nil
}

// Done is closed when the supervisor stops, e.g. after a fatal component error.
func (a *App) Done() <-chan struct{} {
	return a.sup.Context().Done()
}

// Err reports the first fatal component error.
func (a *App) Err() error { return a.sup.Err() }

// Stop shuts components down in dependency order, each step bounded.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")
	if a.sup != nil {
		a.sup.Cancel()
	}

	step := func(name string, d time.Duration, fn func(c context.Context) error) {
		c, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		start := time.Now()
		done := make(chan error, 1)
		go func() { done <- fn(c) }()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-c.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	if a.sup != nil {
		step("supervisor", 6*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	}
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
