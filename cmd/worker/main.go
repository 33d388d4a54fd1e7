package main

import (
	"log"
	"log/slog"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/samirrijal/geoincidence/internal/bootstrap"
	"github.com/samirrijal/geoincidence/internal/pkg/config"
	"github.com/samirrijal/geoincidence/internal/pkg/logging"
	"github.com/samirrijal/geoincidence/internal/workflows"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("geoincidence-worker")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	stack, err := bootstrap.Build(cfg, bootstrap.Options{Publish: true})
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer stack.Close()

	// Connect to Temporal
	c, err := client.Dial(client.Options{
		HostPort: cfg.Temporal.HostPort,
		Logger:   slog.Default(),
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	// One round at a time per worker keeps the upstream load predictable.
	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: 1,
	})

	w.RegisterWorkflow(workflows.BatchIncidenceWorkflow)
	w.RegisterActivity(&workflows.IncidenceActivities{Rounds: stack.Incidence})

	slog.Info("batch worker started", "task_queue", cfg.Temporal.TaskQueue, "services", stack.Registry.Len())
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}
