package main

import (
	"context"
	"errors"
	"os"
	"time"

	"bilancio/internal/amqp"
	"bilancio/internal/cli"
	"bilancio/internal/log"
	"bilancio/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.MustLoadConfig()
	logger := cli.SetupLogger(cfg, log.ComponentWorker)

	logger.Info("Starting ledger-audit")

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required by the audit worker")
		os.Exit(1)
	}

	be, err := cli.InitBackend(context.Background(), logger, cfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	// The backend publisher is optional; the consumer is not.
	consumer, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		be.Cleanup()
		os.Exit(1)
	}

	audit := worker.NewAuditWorker(be.Ledger, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		checked, drifted := audit.Stats()
		logger.Info("Audit totals", "checked", checked, "drifted", drifted)
		if err := consumer.Close(); err != nil {
			logger.Error("AMQP close error", log.FieldError, err)
		}
		if err := be.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	if err := consumer.ConsumeEvents(ctx, audit.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Event consumption failed", log.FieldError, err)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Ledger-audit shutdown complete")
}
