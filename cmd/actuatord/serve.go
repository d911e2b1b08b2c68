package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yasunorioi/uecs-actuatord/internal/app"
	"github.com/yasunorioi/uecs-actuatord/internal/config"
)

// NewServeCommand runs the daemon in the foreground.
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the actuator control daemon in the foreground",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(configPath)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to load configuration")
			}

			setupLogging(cfg.Log.GetLevel(), cfg.Log.UseJSON, cfg.Log.Colors)

			log.Info().Str("config", configPath).Msg("Starting actuatord")

			application, err := app.New(cfg)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to create application")
			}

			ctx := app.SignalContext()
			if err := application.Start(ctx); err != nil {
				log.Fatal().Err(err).Msg("Failed to start application")
			}

			application.Wait()

			if err := application.Stop(); err != nil {
				log.Error().Err(err).Msg("Error during shutdown")
			}
		},
	}
}
