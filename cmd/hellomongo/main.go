// Command hellomongo serves a static greeting and holds one MongoDB connection.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/0xReLogic/hellomongo/internal/config"
	"github.com/0xReLogic/hellomongo/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger := logging.L()
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg)
	stop()

	if err != nil {
		logger := logging.L()
		logger.Error().Err(err).Msg("hellomongo stopped")
		os.Exit(1)
	}
}
