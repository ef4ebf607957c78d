package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docqa-ai/internal/app"
	"docqa-ai/internal/config"
	"docqa-ai/internal/http"
)

//go:generate swagger generate spec -o swagger.json

// General API information
//
// This API answers questions about uploaded documents with page-level citations.
//
// swagger:meta
//
// ---
// swagger: '2.0'
// info:
//   title: DocQA API
//   description: |
//     Document question answering. Upload text or markdown documents, then ask
//     single questions or hold a conversation grounded in their content.
//     Every /api/v1 request must carry the caller's identity in the X-User-ID header.
//   version: 1.0.0
// schemes:
//   - http
//   - https
// consumes:
//   - application/json
// produces:
//   - application/json

func main() {
	// Load configuration first (needed for log level)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := app.SetupLogging(os.Stdout, cfg.LogLevel, cfg.LogFormat); err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer func() {
		_ = a.Close()
	}()

	// The server still starts when the embedding service is down; the health
	// endpoint reports it and uploads fail with 502 until it is back.
	if err := a.ValidateEmbeddings(ctx); err != nil {
		slog.Error("Embedding client validation failed", "error", err)
	} else {
		slog.Info("Embedding client validated", "vector_size", cfg.VectorSize)
	}

	go a.RunSessionEviction(ctx)

	if w := a.Watcher(); w != nil {
		go func() {
			slog.Info("Watching inbox", "path", cfg.InboxPath, "user_id", cfg.InboxUserID)
			if err := w.Run(ctx); err != nil {
				slog.Error("Inbox watcher stopped", "error", err)
			}
		}()
	}

	srv := &nethttp.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           http.NewRouter(a.RouterDeps()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown failed", "error", err)
		}
	}()

	slog.Info("Starting API server", "addr", srv.Addr, "backend", cfg.VectorBackend)
	slog.Debug("LLM configuration", "base_url", cfg.LLMBaseURL, "model", cfg.LLMModelName)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		slog.Error("API server failed", "error", err)
		return
	}
	slog.Info("API server stopped")
}
