package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/tidecrate/storefront/internal/cart"
	"github.com/tidecrate/storefront/internal/housekeeping"
	"github.com/tidecrate/storefront/pkg/config"
	"github.com/tidecrate/storefront/pkg/db"
	"github.com/tidecrate/storefront/pkg/logger"
	"github.com/tidecrate/storefront/pkg/metrics"
	"github.com/tidecrate/storefront/pkg/outbox"
	"github.com/tidecrate/storefront/pkg/redis"
)

const serviceName = "housekeeper"

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: serviceName})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithField(ctx, "env", cfg.App.Env)

	if err := run(ctx, cfg, logg, *once); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "housekeeper stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "housekeeper shut down")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, once bool) (err error) {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer func() { err = multierr.Append(err, redisClient.Close()) }()

	hk := cfg.Housekeeping
	lock, err := housekeeping.NewRedisLock(redisClient, redis.Key("housekeeping", "lock", envOrLocal(cfg.App.Env)), hk.LockTTL)
	if err != nil {
		return err
	}
	outboxJob, err := housekeeping.NewOutboxRetentionJob(outbox.NewRepository(dbClient.DB()), hk.OutboxRetentionDays)
	if err != nil {
		return err
	}
	cartJob, err := housekeeping.NewIdleCartJob(cart.NewRepository(dbClient.DB()), hk.CartIdleDays)
	if err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	scheduler, err := housekeeping.NewScheduler(housekeeping.SchedulerParams{
		Logger:   logg,
		Lock:     lock,
		Metrics:  metrics.NewJobMetrics(promRegistry),
		Interval: hk.Interval,
		Jobs:     []housekeeping.Job{outboxJob, cartJob},
	})
	if err != nil {
		return err
	}

	if once {
		_, err := scheduler.RunOnce(ctx)
		return err
	}

	defer metrics.Serve(ctx, hk.MetricsAddr, promRegistry, logg)()

	logg.Info(ctx, "starting housekeeper")
	return scheduler.Run(ctx)
}

func envOrLocal(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
