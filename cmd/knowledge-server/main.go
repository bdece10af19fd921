package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Lllllllleong/knowledgeflow/internal/services"
)

const shutdownTimeout = 30 * time.Second

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
}

func main() {
	_ = godotenv.Load()

	if err := run(); err != nil {
		slog.Error("Knowledge server stopped with an error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	withModels := os.Getenv("PROJECT_ID") != ""
	app, err := services.NewLocalApp(ctx, withModels)
	if err != nil {
		return err
	}
	defer app.Close()
	if !withModels {
		slog.Warn("PROJECT_ID is not set. Search and ingestion are disabled.")
	}

	var manager *services.IngestionManager
	if app.Ingestor != nil {
		manager = services.NewIngestionManager(app.Ingestor, slog.Default())
	}

	srv := &http.Server{
		Addr:         ":" + app.Config.Port,
		Handler:      app.Router(manager),
		ReadTimeout:  time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("Knowledge server listening.", "addr", srv.Addr, "database", app.Config.SQLitePath)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-shutdown:
		slog.Info("Shutdown signal received.", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
		if err := srv.Close(); err != nil {
			slog.Error("Forced shutdown failed", "error", err)
		}
	}
	if manager != nil {
		if err := manager.Shutdown(shutdownCtx); err != nil {
			slog.Error("Ingestion runs did not stop in time", "error", err)
		}
	}

	slog.Info("Knowledge server stopped.")
	return nil
}
