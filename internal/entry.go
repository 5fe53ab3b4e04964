// Package internal provides the main application initialization and runtime logic.
package internal

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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/voicebridge/voicebridge/internal/api"
	"github.com/voicebridge/voicebridge/internal/artifact"
	"github.com/voicebridge/voicebridge/internal/capture"
	"github.com/voicebridge/voicebridge/internal/coordinator"
	"github.com/voicebridge/voicebridge/internal/events"
	"github.com/voicebridge/voicebridge/internal/ingest"
	"github.com/voicebridge/voicebridge/internal/link"
	"github.com/voicebridge/voicebridge/internal/mcpserver"
	"github.com/voicebridge/voicebridge/internal/permission"
	"github.com/voicebridge/voicebridge/internal/playback"
	"github.com/voicebridge/voicebridge/internal/store"
	"github.com/voicebridge/voicebridge/internal/syncer"
	"github.com/voicebridge/voicebridge/internal/transcribe"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("device", cfg.Device.Name),
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.Store.SQLitePath),
		slog.String("audio_dir", cfg.Store.AudioDir),
		slog.String("peer_url", cfg.Link.PeerURL),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Audio artifact directory.
	artifacts, err := artifact.NewDir(cfg.Store.AudioDir)
	if err != nil {
		return fmt.Errorf("init audio dir: %w", err)
	}

	// Record store.
	records, err := store.Open(cfg.Store.SQLitePath, artifacts, logger)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer records.Close()

	// Move any audio bytes left inline by a previous run out to files.
	records.FlushInline()

	// Permission authority.
	prompter := app.prompter
	if prompter == nil {
		answer := permission.Denied
		if cfg.Permissions.AutoGrant {
			answer = permission.Granted
		}
		prompter = permission.StaticPrompter(answer)
	}
	auth, err := permission.NewAuthority(cfg.Permissions.GrantsPath, prompter)
	if err != nil {
		return fmt.Errorf("init permissions: %w", err)
	}

	// Event broker.
	broker := events.NewBroker()
	defer broker.Close()

	// Capture, playback, and transcription engines.
	encoder := app.encoder
	if encoder == nil {
		encoder = capture.NewDeviceEncoder(cfg.Capture.DevicePath)
	}
	capEngine := capture.NewEngine(encoder, auth, records, artifacts, broker, logger)

	device := app.device
	if device == nil {
		device = playback.NewCommandDevice(cfg.Playback.Command, cfg.Playback.Args...)
	}
	playEngine := playback.NewEngine(device, records, broker, logger)

	recognizer := app.recognizer
	if recognizer == nil && cfg.Transcribe.Command != "" {
		recognizer = transcribe.NewCommandRecognizer(cfg.Transcribe.Command, cfg.Transcribe.Args...)
	}
	transEngine := transcribe.NewEngine(recognizer, auth, records, broker, logger)

	// Device link and sync manager.
	spoolDir, err := artifacts.SpoolDir()
	if err != nil {
		return fmt.Errorf("init spool dir: %w", err)
	}
	sync := syncer.NewManager(records, artifacts, transEngine, broker, logger)
	session := link.NewWSSession(cfg.Link.PeerURL, spoolDir, sync.Handler(), logger)
	defer session.Close()

	coord := coordinator.New(records, capEngine, playEngine, transEngine, sync, broker, logger)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Companion connections arrive here.
	r.Get("/link", session.HTTPHandler())

	// Mount API routes under /api.
	r.Mount("/api", api.NewRouter(coord, artifacts, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker))

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Bring up the device link.
	if err := sync.Start(gCtx, session); err != nil {
		return fmt.Errorf("start sync: %w", err)
	}

	// Watch the ingest drop directory if configured.
	if cfg.Capture.IngestDir != "" {
		g.Go(func() error {
			if err := ingest.Watch(gCtx, cfg.Capture.IngestDir, records, artifacts, broker, logger); err != nil {
				logger.Error("ingest watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Serve MCP tools over stdio when requested.
	if app.mcpStdio {
		g.Go(func() error {
			if err := mcpserver.New(coord).ServeStdio(); err != nil {
				logger.Error("MCP server stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		playEngine.Stop()
		transEngine.Cancel()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
