package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/lsst-live/rubintv/internal/config"
	"github.com/lsst-live/rubintv/internal/logging"
	"github.com/lsst-live/rubintv/internal/supervisor"
)

func main() {
	cfg := config.FromEnv()
	logger := logging.New(cfg.LogLevel)

	sup, err := supervisor.New(cfg, logger)
	if err != nil {
		log.Fatalf("startup error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sup.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
	} else {
		logger.Info().Msg("server stopped gracefully")
	}
}
