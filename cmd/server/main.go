package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voucher_backend/internal/app"
	"voucher_backend/internal/config"
	httpd "voucher_backend/internal/delivery/http"
	"voucher_backend/internal/logging"
	"voucher_backend/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build service", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing resources failed", "error", err)
		}
	}()

	dispatcher := usecase.NewDispatcher(a.Service, cfg.Worker.Concurrency, cfg.Worker.QueueSize, logger)
	// workers drain the queue on Stop instead of following ctx
	dispatcher.Start(context.Background())

	sweep(ctx, logger, a.Service, dispatcher, cfg.Worker.StaleThreshold)
	go runSweeper(ctx, logger, a.Service, dispatcher, cfg.Worker)

	h := httpd.NewHandler(a.Service, dispatcher, a.Repo, logger)
	router := h.Routes(httpd.SigConfig{
		Secret:        cfg.HTTP.HMACSecret,
		MaxAgeSeconds: cfg.HTTP.SigMaxAgeSeconds,
	}, cfg.HTTP.AllowedOrigins)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.Error("server stopped unexpectedly", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	stop()
	dispatcher.Stop()
	logger.Info("http server stopped")
}

func runSweeper(ctx context.Context, logger *slog.Logger, svc *usecase.Service, d *usecase.Dispatcher, cfg config.WorkerConfig) {
	if cfg.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx, logger, svc, d, cfg.StaleThreshold)
		}
	}
}

func sweep(ctx context.Context, logger *slog.Logger, svc *usecase.Service, d *usecase.Dispatcher, threshold time.Duration) {
	if _, err := svc.Sweep(ctx, threshold, d.Enqueue); err != nil {
		logger.Error("recovery sweep failed", "error", err)
	}
}
