package main

import (
	"fmt"
	"os"

	"github.com/gigwork-dev/gigwork/internal/config"
	"github.com/gigwork-dev/gigwork/internal/logger"
	"github.com/gigwork-dev/gigwork/internal/server"
)

var version = "dev" // Will be set during build with -ldflags

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.GetLogger()

	srv, err := server.New(cfg, log, version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create dev backend")
	}

	log.Info().Str("version", version).Str("address", cfg.Backend.ListenAddress).Msg("Starting Gigwork dev backend...")

	// Blocks until SIGINT or SIGTERM
	if err := srv.Start(); err != nil {
		log.Error().Err(err).Msg("Dev backend stopped")
		os.Exit(1)
	}
}
