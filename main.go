package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feedtriage/api"
	"feedtriage/app"
	"feedtriage/config"
	"feedtriage/logging"

	"github.com/charmbracelet/log"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "YAML config file (default feedtriage.yaml when present)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logging.New(config.DefaultLogLevel, os.Stderr).Error("server stopped", "err", err)
		os.Exit(1)
	}
}

// run owns every resource it opens and releases them before returning.
func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger := logging.New(cfg.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{}, logger)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("close error", "err", err)
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(api.NewServer(a.Dedup, a.Runner, a.Store, cfg.Dedup.BatchThreshold, logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serve(ctx, srv, logger, a.Store.Driver())
}

// serve runs srv until it fails or ctx is cancelled, then shuts it down.
func serve(ctx context.Context, srv *http.Server, logger *log.Logger, driver string) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting API server", "addr", srv.Addr, "database", driver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}
