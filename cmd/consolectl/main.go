package main

import (
	"fmt"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/emberworks/consoled/console"
	"github.com/emberworks/consoled/favorites"
	"github.com/emberworks/consoled/openurl"
	"github.com/emberworks/consoled/tui"
)

func main() {
	app := &cli.App{
		Name:  "consolectl",
		Usage: "watch and drive a consoled-managed server from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Base URL of the consoled daemon.",
				Value: "http://127.0.0.1:8321",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "File for client logs. Logging is off when empty, since the terminal belongs to the UI.",
			},
		},
		Action: func(ctx *cli.Context) error {
			logger := zap.NewNop()
			if path := ctx.String("log-file"); path != "" {
				cfg := zap.NewProductionConfig()
				cfg.OutputPaths = []string{path}
				var err error
				logger, err = cfg.Build()
				if err != nil {
					return fmt.Errorf("building logger: %w", err)
				}
			}
			slog := logger.Sugar()

			client := console.NewClient(slog, ctx.String("addr"))
			opener := openurl.NewOpener()

			updates := make(chan tea.Msg, 64)
			opts := append(tui.Observers(updates),
				console.WithSender(client.SendCommand),
				console.WithURLOpener(opener.Open),
				console.WithInvalidate(client.InvalidateStatus),
			)
			ctrl := console.NewController(slog, opts...)

			var favs favorites.Store
			if path, err := favorites.DefaultPath(); err == nil {
				favs = favorites.NewFileStore(path)
			} else {
				slog.Debugf("favorites disabled: %s", err)
			}

			program := tea.NewProgram(
				tui.New(client, ctrl, favs, updates),
				tea.WithAltScreen(),
			)
			_, err := program.Run()
			return err
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
