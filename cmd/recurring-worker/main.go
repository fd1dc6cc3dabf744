package main

import (
	"context"
	"errors"
	"os"
	"time"

	"bilancio/internal/cli"
	"bilancio/internal/clock"
	"bilancio/internal/log"
	"bilancio/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.MustLoadConfig()
	logger := cli.SetupLogger(cfg, log.ComponentWorker)

	logger.Info("Starting recurring-worker")

	be, err := cli.InitBackend(context.Background(), logger, cfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	if be.Publisher == nil {
		logger.Info("AMQP disabled - posted schedules will not be announced")
	}

	logger.Info("Recurring processor configured",
		"interval", cfg.RecurringProcessorInterval,
		"workers", cfg.ProcessWorkers,
		"max_catch_up", cfg.MaxCatchUp,
		"date_policy", cfg.PostDatePolicy)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		if err := be.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	runner := worker.NewRecurringRunner(be.Scheduler, cfg.RecurringProcessorInterval, clock.System{}, logger)
	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Recurring runner stopped", log.FieldError, err)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Recurring-worker shutdown complete")
}
