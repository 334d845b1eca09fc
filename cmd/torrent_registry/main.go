package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/torrent_registry/internal/config"
	"github.com/italolelis/torrent_registry/internal/engine"
	"github.com/italolelis/torrent_registry/internal/engine/native"
	"github.com/italolelis/torrent_registry/internal/engine/putio"
	"github.com/italolelis/torrent_registry/internal/engine/qbittorrent"
	"github.com/italolelis/torrent_registry/internal/http/rest"
	"github.com/italolelis/torrent_registry/internal/logctx"
	"github.com/italolelis/torrent_registry/internal/registry"
	"github.com/italolelis/torrent_registry/internal/storage/sqlite"
	"github.com/italolelis/torrent_registry/internal/telemetry"
	"github.com/italolelis/torrent_registry/internal/trackers"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("torrent registry starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	journal := sqlite.NewTorrentRepository(database)

	// =========================================================================
	// Start Torrent Adapter
	adapter, err := buildAdapter(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build torrent adapter: %w", err)
	}

	// =========================================================================
	// Start Registry
	reg, err := registry.New(ctx, registry.Config{
		DownloadDir:       cfg.DownloadDir,
		AutocleanInterval: cfg.AutocleanInterval,
	}, adapter, trackers.NewHTTPLoader(cfg.TrackersURL, nil),
		registry.WithJournal(journal),
		registry.WithTelemetry(tel),
	)
	if err != nil {
		return fmt.Errorf("failed to create registry: %w", err)
	}

	if err := reg.Resume(ctx); err != nil {
		logger.Warn("failed to resume journaled torrents", "err", err)
	}

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, reg, tel, cfg)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("registry ready",
		"download_dir", cfg.DownloadDir,
		"autoclean_interval", cfg.AutocleanInterval.String(),
		"adapter", cfg.Adapter,
	)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

// This is an abstract factory for the torrent adapter.
func buildAdapter(ctx context.Context, cfg *config.Config) (engine.Adapter, error) {
	switch cfg.Adapter {
	case "native":
		return native.NewAdapter(cfg.DownloadDir)
	case "putio":
		return putio.NewAdapter(cfg.PutioToken), nil
	case "qbittorrent":
		return qbittorrent.NewAdapter(ctx, cfg.QbitHost, cfg.QbitUsername, cfg.QbitPassword)
	}

	return nil, fmt.Errorf("invalid torrent adapter: %s", cfg.Adapter)
}

// setupServer prepares the handlers and middleware to create the http rest server.
func setupServer(ctx context.Context, reg *registry.Registry, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	rHandler := rest.NewRegistryHandler(cfg.API.Username, cfg.API.Password, reg)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/", rHandler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
