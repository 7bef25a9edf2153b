package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/omriozer/ludora-scheduler/internal/core"
	"github.com/omriozer/ludora-scheduler/internal/events"
	"github.com/omriozer/ludora-scheduler/internal/registry"
	"github.com/omriozer/ludora-scheduler/internal/scheduler"
	"github.com/omriozer/ludora-scheduler/internal/server"
	"github.com/omriozer/ludora-scheduler/internal/store"
	"github.com/omriozer/ludora-scheduler/internal/store/natsstore"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := server.LoadConfig()

	reg := registry.New()
	var sched *scheduler.Scheduler
	registerBuiltins(reg, &sched)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	sink := events.Multi{
		events.NewSlogSink(slog.Default()),
		events.NewPromSink(promReg),
	}

	connect := func(ctx context.Context) (store.Store, error) {
		return natsstore.New(cfg.NatsURL,
			natsstore.WithVisibility(cfg.Visibility),
			natsstore.WithMaxStalls(cfg.MaxStalls),
		)
	}

	sched = scheduler.New(reg, connect, sink, slog.Default(), scheduler.Config{
		Concurrency:            cfg.Concurrency,
		PollInterval:           cfg.PollInterval,
		MaintenanceInterval:    cfg.MaintenanceInterval,
		Visibility:             cfg.Visibility,
		FailOnStoreUnavailable: cfg.FailOnStoreUnavailable,
		StoreConfigured:        cfg.StoreConfigured,
	})

	ctx := context.Background()
	if err := sched.Initialize(ctx); err != nil {
		slog.Error("scheduler initialization failed", "error", err)
		os.Exit(1)
	}

	// Hourly per-queue audit. A nil handle means degraded mode; the daemon
	// still serves its ops surface.
	if _, err := sched.ScheduleRecurring(ctx, "system.queue_audit", nil, "@hourly"); err != nil {
		slog.Warn("registering queue audit", "error", err)
	}

	router := server.NewRouter(sched, promReg)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		slog.Info("ops server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("ops server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	if err := sched.Shutdown(cfg.ShutdownTimeout); err != nil {
		slog.Error("scheduler shutdown error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("ops server shutdown error", "error", err)
	}

	slog.Info("stopped")
}

// registerBuiltins adds the daemon's housekeeping job types. sched is a
// pointer because handlers run only after Initialize, when it is set.
func registerBuiltins(reg *registry.Registry, sched **scheduler.Scheduler) {
	reg.Register(registry.JobTypeDefinition{
		Name:        "system.queue_audit",
		Queue:       core.QueueLow,
		MaxAttempts: 1,
	})
	reg.RegisterHandler("system.queue_audit", func(ctx context.Context, payload json.RawMessage) (registry.Result, error) {
		report, err := (*sched).GetStats(ctx)
		if err != nil {
			return registry.Result{}, err
		}
		for _, class := range core.QueueClasses {
			stats := report.Queues[class]
			slog.Info("queue audit",
				"queue", string(class),
				"waiting", stats.Waiting,
				"active", stats.Active,
				"completed", stats.Completed,
				"failed", stats.Failed,
				"worker_slots", report.Workers[class].Slots,
			)
		}
		return registry.Completed(nil), nil
	})
}
