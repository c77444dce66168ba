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

	"golang.org/x/sync/errgroup"

	"workforce/internal/audit/outbox"
	"workforce/internal/audit/publisher"
	"workforce/internal/platform/config"
	"workforce/internal/platform/httpserver"
	"workforce/internal/platform/kafka"
	"workforce/internal/platform/logger"
	"workforce/internal/platform/postgres"
	httptransport "workforce/internal/transport/http"
)

// main hosts the transactional-service side of the pipeline: the
// broker producer, the embedded publisher the business services call,
// and the outbox relay that drains transactionally-queued events. The
// HR CRUD services themselves plug in as callers of
// publisher.Publisher and outbox.Outbox; they are not wired here.
func main() {
	log := logger.New("server")
	if err := run(log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadService()
	if err != nil {
		return err
	}

	db, err := postgres.Open(ctx, cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	ob := outbox.New(db)
	if err := ob.EnsureSchema(ctx); err != nil {
		return err
	}

	producer, err := kafka.NewProducer(ctx, cfg.Broker, log)
	if err != nil {
		return err
	}
	defer producer.Close()

	pub := publisher.New(producer,
		publisher.WithLogger(log),
		publisher.WithMetrics(publisher.NewMetrics()),
	)

	relay := outbox.NewRelay(ob, producer, log, cfg.RelayInterval, cfg.RelayBatch)

	handler := httptransport.New(nil, log,
		map[string]httptransport.HealthChecker{
			"broker": brokerCheck{producer: producer},
		},
		httptransport.WithPublisher(pub),
	)
	srv := httpserver.New(cfg.Server.Addr, handler.Router())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		log.Info("server http listening", "addr", cfg.Server.Addr)
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

// brokerCheck reports broker reachability on the health endpoint.
type brokerCheck struct {
	producer *kafka.Producer
}

func (c brokerCheck) Healthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.producer.Ping(ctx) == nil
}
