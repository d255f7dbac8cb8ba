package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/pharmacy-backend/internal/analytics/router"
	"github.com/angelmondragon/pharmacy-backend/internal/analytics/worker"
	"github.com/angelmondragon/pharmacy-backend/internal/analytics/writer"
	"github.com/angelmondragon/pharmacy-backend/pkg/bigquery"
	"github.com/angelmondragon/pharmacy-backend/pkg/config"
	"github.com/angelmondragon/pharmacy-backend/pkg/instance"
	"github.com/angelmondragon/pharmacy-backend/pkg/logger"
	"github.com/angelmondragon/pharmacy-backend/pkg/metrics"
	"github.com/angelmondragon/pharmacy-backend/pkg/outbox/processed"
	"github.com/angelmondragon/pharmacy-backend/pkg/pubsub"
	"github.com/angelmondragon/pharmacy-backend/pkg/redis"
)

const serviceName = "analytics-worker"

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "failed to close pubsub client", err)
		}
	}()

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	requireResource(ctx, logg, "bigquery", err)
	defer func() {
		if err := bqClient.Close(); err != nil {
			logg.Error(ctx, "failed to close bigquery client", err)
		}
	}()

	subscriber := pubsubClient.DomainSubscriber()
	if subscriber == nil {
		requireResource(ctx, logg, "domain subscription", errors.New("subscription not configured"))
	}

	tracker, err := processed.NewTracker(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	requireResource(ctx, logg, "event tracker", err)

	factWriter, err := writer.New(bqClient, writer.DefaultRetryPolicy)
	requireResource(ctx, logg, "bigquery writer", err)

	factRouter, err := router.NewRouter(factWriter, logg)
	requireResource(ctx, logg, "analytics router", err)

	service, err := worker.NewService(subscriber, factRouter, tracker, logg)
	requireResource(ctx, logg, "analytics worker", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":          cfg.App.Env,
		"instance":     instance.GetID(serviceName),
		"subscription": cfg.PubSub.DomainSubscription,
	})
	logg.Info(runCtx, "analytics worker ready")

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return metrics.Serve(gctx, cfg.App.WorkerMetricsAddr, prometheus.DefaultGatherer, logg)
	})
	g.Go(func() error { return service.Run(gctx) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "analytics worker failed", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "analytics worker shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
