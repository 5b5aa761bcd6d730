// Package main is the entry point for the WhatsApp service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/config"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/dispatch"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/health"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/hub"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/lifecycle"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/service"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/store"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/whatsapp"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/pkg/api"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath = flag.String("config", "config.yaml", "Path to config file")
	envFile    = flag.String("env", ".env", "Path to .env file")
	logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("WhatsApp service failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("WhatsApp service starting",
		"port", cfg.Port,
		"hub_url", cfg.HubURL,
		"log_level", cfg.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	storeDB, err := store.NewSQLiteStore(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer storeDB.Close()

	session, err := whatsapp.OpenSession(ctx, cfg.SessionPath, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	hm := health.NewMonitor(cfg)
	hm.Start()
	defer hm.Stop()

	conn := hub.NewConn(hub.Options{
		URL:                cfg.HubURL,
		InsecureSkipVerify: cfg.HubInsecureSkipVerify,
		ReconnectDelay:     cfg.HubReconnectDelay,
	}, logger)
	forwarder := hub.NewForwarder(conn, logger)

	lcOpts, err := lifecycle.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	lcOpts.States = storeDB.State
	lcOpts.Counter = hm
	lcOpts.Logger = logger

	factory := session.Factory(whatsapp.Cache{Messages: storeDB.Messages, Chats: storeDB.Chats})
	controller := lifecycle.NewController(factory, forwarder, hm, lcOpts)

	svcOpts := service.OptionsFromConfig(cfg)
	svcOpts.History = storeDB.State
	svcOpts.Monitor = hm
	svcOpts.Logger = logger
	svc := service.New(controller, dispatch.NewDispatcher(controller.Builder(), logger), svcOpts)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           api.NewRouter(api.NewHandler(svc, logger), cfg.MaxBodyBytes),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	for _, fn := range []func(context.Context){conn.Run, forwarder.Run, controller.Run} {
		wg.Add(1)
		go func(fn func(context.Context)) {
			defer wg.Done()
			fn(ctx)
		}(fn)
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case serveErr = <-errChan:
		logger.Error("HTTP server error", "error", serveErr)
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	wg.Wait()
	logger.Info("WhatsApp service stopped")
	return serveErr
}
