package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/urfave/cli"

	"timez/internal/app"
	"timez/internal/bundle"
	"timez/internal/transport/native"
	logx "timez/pkg/logx"
	"timez/pkg/systemd"
)

var configFlag = cli.StringFlag{
	Name:   "config, c",
	Usage:  "path to config file (json or yaml)",
	Value:  "./config.yaml",
	EnvVar: "TIMEZ_CONFIG",
}

func newApp() *cli.App {
	a := cli.NewApp()
	a.Name = "timez"
	a.HelpName = "timez"
	a.Usage = "timer, daily alarm and world clock daemon"
	a.UsageText = "timez <command> [arguments...]"
	a.Version = version
	a.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "run the daemon with the local HTTP API",
			Flags:  []cli.Flag{configFlag},
			Action: serve,
		},
		{
			Name:   "native",
			Usage:  "run as a browser native messaging host on stdio",
			Flags:  []cli.Flag{configFlag},
			Action: runNative,
		},
		{
			Name:   "install",
			Usage:  "seed default alarms and world clock cities, then exit",
			Flags:  []cli.Flag{configFlag},
			Action: install,
		},
		{
			Name:  "bundle",
			Usage: "copy extension assets into a loadable directory",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "root", Value: ".", Usage: "project root holding manifest.json and public/"},
				cli.StringFlag{Name: "out", Usage: "output directory (default: <root>/dist)"},
			},
			Action: buildBundle,
		},
	}
	return a
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func stop(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = a.Stop(ctx)
}

func serve(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := app.New(app.Options{ConfigPath: c.String("config")})
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stop(a)
		return err
	}
	if _, err := systemd.Ready(); err != nil {
		a.Logger().Warn("sd_notify ready failed", logx.Err(err))
	}
	go systemd.Watchdog(ctx)

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	_, _ = systemd.Stopping()
	stop(a)
	return a.Err()
}

func runNative(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := app.New(app.Options{ConfigPath: c.String("config"), Native: true})
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stop(a)
		return err
	}
	host := native.NewHost(a.Router(), a.Repo(), a.Bus(), a.Logger())
	errCh := make(chan error, 1)
	go func() { errCh <- host.Run(ctx) }()

	select {
	case err = <-errCh:
	case <-ctx.Done():
	case <-a.Done():
	}
	stop(a)
	if err != nil {
		return err
	}
	return a.Err()
}

func install(c *cli.Context) error {
	a, err := app.New(app.Options{ConfigPath: c.String("config")})
	if err != nil {
		return err
	}
	defer stop(a)
	return a.Install(context.Background())
}

func buildBundle(c *cli.Context) error {
	res, err := bundle.Build(afero.NewOsFs(), bundle.Options{
		Root: c.String("root"),
		Out:  c.String("out"),
	}, logx.NewConsole("INFO"))
	if err != nil {
		return err
	}
	fmt.Printf("bundle written to %s (%d files)\n", res.Out, len(res.Files))
	return nil
}
