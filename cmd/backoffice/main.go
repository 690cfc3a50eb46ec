package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"backoffice/internal/cli"
	"backoffice/internal/config"
	apphttp "backoffice/internal/http"
	applog "backoffice/internal/log"
)

func main() {
	cli.LoadEnvFile()

	cfg := config.Load()
	logger := cli.SetupLogger(cfg.SlogLevel(), applog.ComponentApp)
	cli.LoadAndValidateConfig(logger, cfg)

	app, err := cli.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}

	srv := apphttp.NewServer(":"+cfg.Port, app.ServerDeps())
	srv.MaxHeaderBytes = 1 << 16

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if err := app.Close(ctx); err != nil {
			logger.Error("Failed to release resources", "error", err)
		}
	})

	logger.Info("Starting backoffice server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"google", cfg.GoogleEnabled(),
		"limiter_min_interval", cfg.LimiterMinInterval,
		"limiter_strategy", cfg.LimiterStrategy)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		_ = app.Close(context.Background())
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
