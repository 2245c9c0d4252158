package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/emberworks/consoled/config"
	"github.com/emberworks/consoled/daemon"
)

func main() {
	app := &cli.App{
		Name:  "consoled",
		Usage: "manage a game server and bridge its console to clients",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to the config file. Defaults to searching upward for consoled.yaml.",
			},
			&cli.StringFlag{
				Name:  "listen-addr",
				Usage: "The address for the HTTP server to listen on. Overrides the config.",
			},
			&cli.StringFlag{
				Name:  "root-dir",
				Usage: "The server root directory. Overrides the config.",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging.",
			},
		},
		Action: func(ctx *cli.Context) error {
			var cfg *config.Config
			var err error
			if path := ctx.String("config"); path != "" {
				cfg, err = config.Load(path)
			} else {
				cfg, err = config.LoadOrDefault()
			}
			if err != nil {
				return err
			}
			if addr := ctx.String("listen-addr"); addr != "" {
				cfg.ListenAddr = addr
			}
			if root := ctx.String("root-dir"); root != "" {
				cfg.RootDir = root
			}

			var logger *zap.Logger
			if ctx.Bool("debug") {
				logger, err = zap.NewDevelopment()
			} else {
				logger, err = zap.NewProduction()
			}
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}

			d, err := daemon.New(cfg, daemon.WithLogger(logger))
			if err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigCh
				logger.Sugar().Info("shutting down")
				if err := d.Stop(); err != nil {
					logger.Sugar().Errorf("stopping daemon: %s", err)
				}
			}()

			return d.Run()
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
