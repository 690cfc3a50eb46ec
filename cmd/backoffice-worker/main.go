package main

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"backoffice/internal/cli"
	"backoffice/internal/config"
	applog "backoffice/internal/log"
	"backoffice/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	cfg := config.Load()
	logger := cli.SetupLogger(cfg.SlogLevel(), applog.ComponentWorker)
	cli.LoadAndValidateConfig(logger, cfg)

	logger.Info("Starting backoffice-worker")

	app, err := cli.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}

	notifier := worker.NewNotifyWorker(app.Exporter, app.Store, cfg.SweepLookback)

	var wg sync.WaitGroup
	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		wg.Wait()
		if err := app.Close(ctx); err != nil {
			logger.Error("Failed to release resources", "error", err)
		}
	})

	if app.AMQP != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := app.AMQP.ConsumeOwnerNotifications(ctx, notifier.HandleOwnerNotification)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Message consumption failed", "error", err)
			}
		}()
	} else {
		logger.Info("Skipping AMQP message consumption - no AMQP_URL provided")
	}

	// The sweep also catches notifications whose message was lost.
	wg.Add(1)
	go func() {
		defer wg.Done()
		notifier.Run(ctx, cfg.SweepInterval)
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped")
}
