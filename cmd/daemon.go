package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/Coolhgg/alarmd/internal/config"
	"github.com/Coolhgg/alarmd/pkg/logger"
)

var daemonFlags = []cli.Flag{
	cli.StringFlag{
		Name:   "config, c",
		Usage:  "path to the TOML config file",
		EnvVar: "ALARMD_CONFIG",
	},
	cli.StringFlag{
		Name:  "addr, a",
		Usage: "listen address override",
	},
	cli.StringFlag{
		Name:  "shell-dir",
		Usage: "directory holding the built app shell to precache",
	},
}

const shutdownTimeout = 5 * time.Second

func daemon(cctx *cli.Context) error {
	cfg, err := config.Load(cctx.String("config"))
	if err != nil {
		return err
	}
	if addr := cctx.String("addr"); addr != "" {
		cfg.Addr = addr
	}
	if dir := cctx.String("shell-dir"); dir != "" {
		cfg.ShellDir = dir
	}

	l := logger.NewStandardLogger(log.Default())
	defer l.Close()

	comps, err := initDaemonComponents(l, cfg)
	if err != nil {
		return err
	}
	defer comps.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := comps.Activate(ctx); err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() {
		errc <- comps.Server.Start()
	}()

	select {
	case <-ctx.Done():
		l.Info("signal received")
	case err := <-errc:
		if err != nil {
			return err
		}
		return nil
	}

	shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := comps.Server.Shutdown(shCtx); err != nil {
		l.Warning("server shutdown: %v", err)
	}
	return <-errc
}
