package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/samirrijal/geoincidence/internal/adapters/http"
	"github.com/samirrijal/geoincidence/internal/bootstrap"
	"github.com/samirrijal/geoincidence/internal/pkg/config"
	"github.com/samirrijal/geoincidence/internal/pkg/logging"
	"github.com/samirrijal/geoincidence/internal/pkg/telemetry"
)

func main() {
	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load("geoincidence-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Structured logging
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown(context.Background())
		}
	}

	// Registry, clients, token cache, publisher
	stack, err := bootstrap.Build(cfg, bootstrap.Options{Publish: true})
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer stack.Close()

	deps := &http.Dependencies{
		Incidence:    stack.Incidence,
		RoundTimeout: time.Duration(cfg.Server.RoundTimeout) * time.Second,
	}
	if stack.Valkey != nil {
		deps.Cache = stack.Valkey
	}
	if stack.Publisher != nil {
		deps.NATS = stack.Publisher
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    64 * 1024,
		AppName:      "Geoincidence API",
	})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr, "services", stack.Registry.Len())
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	// Give in-flight rounds up to 10s to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}
