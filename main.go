package main

import (
	"log/slog"
	"os"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/feednode/cmd"
	"github.com/smazurov/feednode/internal/config"
	"github.com/smazurov/feednode/internal/logging"
	"github.com/smazurov/feednode/internal/version"
)

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *config.Options) {
		// Flags given on the command line win over the config file
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(opts.LoggingConfig())
		logger := logging.GetLogger("main")

		service := cmd.NewService(opts)

		hooks.OnStart(func() {
			logger.Info("Starting feednode", "version", version.String(), "mode", opts.FeedMode, "branches", opts.Branches)
			if startErr := service.Start(); startErr != nil {
				logger.Error("Feed stopped with error", "error", startErr)
				os.Exit(1)
			}
			logger.Info("Feed finished")
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			service.Stop()
		})
	})

	cli.Root().Use = "feednode"
	cli.Root().Version = version.String()

	cli.Root().AddCommand(cmd.CreateRenderCmd())
	cli.Root().AddCommand(cmd.CreateLayoutCmd())

	cli.Run()
}
