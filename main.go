// photoproc/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"photoproc/api"
	"photoproc/config"
	"photoproc/logger"
	"photoproc/processor"
	"photoproc/storage"
	"photoproc/task"
	"photoproc/transform"
)

func main() {
	if err := run(); err != nil {
		slog.Error("photoproc exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log := logger.New(cfg.LogLevel, os.Stdout)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Open the task store
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}

	// 3. Build the processors behind one shared limiter
	processors, err := buildProcessors(ctx, cfg, log)
	if err != nil {
		return err
	}

	// 4. Initialize the task manager
	taskManager, err := task.NewManager(cfg, store, processors, log)
	if err != nil {
		return fmt.Errorf("failed to initialize task manager: %w", err)
	}
	taskManager.Start(ctx)

	// 5. Set up router and server
	router := api.SetupRouter(taskManager, processors, cfg, log)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting", "port", cfg.Port, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// 6. Wait for interrupt signal for graceful shutdown
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}
	stop()
	log.Info("shutting down gracefully, press Ctrl+C again to force", "timeout", cfg.ShutdownTimeout.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	if err := taskManager.Shutdown(shutdownCtx); err != nil {
		log.Error("running tasks aborted", "error", err)
	}

	log.Info("server exiting")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (task.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		return task.NewMemoryStore(), nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
		return storage.OpenSQL(ctx, storage.DriverSQLite, cfg.SQLitePath, log)
	case "postgres":
		return storage.OpenSQL(ctx, storage.DriverPostgres, cfg.DatabaseURL, log)
	case "redis":
		return storage.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// buildProcessors returns one processor per configured mode. Interior mode is
// left out when no Gemini key is set; requests for it then get 503.
func buildProcessors(ctx context.Context, cfg *config.Config, log *slog.Logger) (map[task.Mode]task.ItemProcessor, error) {
	limiter := processor.NewLimiter(cfg.MaxConcurrency)
	processors := make(map[task.Mode]task.ItemProcessor, 2)

	pixian, err := transform.NewPixian(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pixian client: %w", err)
	}
	processors[task.ModeWhite] = processor.NewWhite(cfg, pixian, limiter, log)

	if cfg.GeminiAPIKey == "" {
		log.Warn("GEMINI_API_KEY is not set, interior mode disabled")
		return processors, nil
	}
	gemini, err := transform.NewGemini(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gemini client: %w", err)
	}
	processors[task.ModeInterior] = processor.NewInterior(cfg, gemini, limiter, log)
	return processors, nil
}
