package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"canvaschat/infrastructure/config"
	"canvaschat/infrastructure/di"
	"canvaschat/infrastructure/persistence/memory"
)

const janitorInterval = time.Minute

func main() {
	// Initialize context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	loader := config.NewLoader(os.Getenv("CONFIG_DIR"), config.EnvironmentFromEnv())
	cfg, err := loader.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize dependency container
	container, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	logger := container.Logger
	logger.Info("Configuration loaded", zap.Strings("sources", cfg.LoadedFrom))

	if store, ok := container.Store.(*memory.SessionStore); ok {
		go store.RunJanitor(ctx, janitorInterval)
	}

	if cfg.Features.HotReload {
		watchConfig(ctx, loader, container)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      container.Handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting server",
			zap.String("address", cfg.Server.Address),
			zap.String("environment", string(cfg.Environment)),
			zap.String("session_backend", cfg.Sessions.Backend),
		)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown
	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}
	if err := container.Shutdown(shutdownCtx); err != nil {
		logger.Error("Resource cleanup error", zap.Error(err))
	}

	// Clean up resources
	if err := logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	log.Println("Server stopped")
}

// watchConfig pushes reloaded domain tunables into the live sessions. Server,
// storage and provider settings need a restart.
func watchConfig(ctx context.Context, loader *config.Loader, container *di.Container) {
	watcher, err := config.NewWatcher(loader, container.Config, container.Logger)
	if err != nil {
		container.Logger.Warn("Configuration hot reload unavailable", zap.Error(err))
		return
	}
	watcher.OnChange(func(next *config.Config) {
		if err := container.Sessions.UpdateConfig(next.Domain); err != nil {
			container.Logger.Error("Rejected reloaded domain config", zap.Error(err))
		}
	})
	go watcher.Run(ctx)
}
