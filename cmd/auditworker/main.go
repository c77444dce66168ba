package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"workforce/internal/audit/dedup"
	auditpg "workforce/internal/audit/store/postgres"
	"workforce/internal/audit/worker"
	"workforce/internal/platform/config"
	"workforce/internal/platform/httpserver"
	"workforce/internal/platform/kafka"
	"workforce/internal/platform/logger"
	"workforce/internal/platform/postgres"
	httptransport "workforce/internal/transport/http"
)

// main wires the audit consumer worker: broker subscription, audit
// store, dedup cache, and the HTTP surface (health, metrics, query
// API). Setup failures are fatal so process supervision sees them;
// once consuming, only an external stop signal ends the process.
func main() {
	log := logger.New("auditworker")
	if err := run(log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker exited", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorker()
	if err != nil {
		// Malformed configuration is the Faulted path: unrecoverable.
		return err
	}

	db, err := postgres.Open(ctx, cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	st := auditpg.New(db)
	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}

	cache, err := dedup.Open(ctx, cfg.Store.RedisURL, cfg.DedupTTL)
	if err != nil {
		return err
	}
	defer cache.Close()

	consumer, err := kafka.NewConsumer(cfg.Broker, log)
	if err != nil {
		return err
	}
	defer consumer.Close()

	w := worker.New(consumer, st, log,
		worker.WithDedup(cache),
		worker.WithMetrics(worker.NewMetrics()),
		worker.WithStartBackoffMax(cfg.StartBackoffMax),
	)

	handler := httptransport.New(st, log, map[string]httptransport.HealthChecker{
		"worker_health": w,
	})
	srv := httpserver.New(cfg.Server.Addr, handler.Router())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(gctx)
	})
	g.Go(func() error {
		log.Info("audit worker http listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
