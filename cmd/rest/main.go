package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"watermark-gateway/internal/bootstrap"
	"watermark-gateway/internal/config"
	"watermark-gateway/internal/pkg/logger"
	"watermark-gateway/internal/server"
	"watermark-gateway/internal/tracer"
)

const drainTimeout = 2 * time.Minute

func main() {
	// 1. Load Configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] %v", err)
	}

	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	defer sysLogger.Sync()

	// 2. Initialize Tracer
	shutdownTracer := tracer.InitTracer(sysLogger)

	// 3. Bootstrap Dependencies (Container)
	container, err := bootstrap.NewContainer(cfg, sysLogger)
	if err != nil {
		log.Fatalf("[FATAL] Failed to build container: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Start Background Services
	if err := container.ConsumerService.Consume(ctx); err != nil {
		sysLogger.Error(logger.ModuleEvents, "Background consumer failed to start", map[string]interface{}{"error": err.Error()})
	}
	go container.WebSocketHub.Run(ctx)

	// 5. Initialize Server
	srv := server.New(cfg, container)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Run()
	}()

	// 6. Wait for a signal or a listener failure
	select {
	case err := <-serverErr:
		if err != nil {
			sysLogger.Error(logger.ModuleHTTP, "Server stopped", map[string]interface{}{"error": err.Error()})
		}
	case <-ctx.Done():
		sysLogger.Info(logger.ModuleHTTP, "Shutdown signal received", nil)
	}

	// 7. Drain: stop HTTP, let dispatched sessions finish, then release resources
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	if err := srv.Shutdown(drainCtx); err != nil {
		sysLogger.Warn(logger.ModuleHTTP, "HTTP shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
	if err := container.IngestionService.Wait(drainCtx); err != nil {
		sysLogger.Warn(logger.ModuleIngest, "In-flight sessions abandoned at shutdown", map[string]interface{}{"error": err.Error()})
	}
	container.Close()

	if err := shutdownTracer(drainCtx); err != nil {
		sysLogger.Warn(logger.ModuleHTTP, "Tracer shutdown failed", map[string]interface{}{"error": err.Error()})
	}
}
