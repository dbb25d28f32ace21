package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/tidecrate/storefront/api/controllers"
	"github.com/tidecrate/storefront/api/routes"
	"github.com/tidecrate/storefront/internal/auth"
	"github.com/tidecrate/storefront/internal/cart"
	"github.com/tidecrate/storefront/internal/certificates"
	"github.com/tidecrate/storefront/internal/changefeed"
	"github.com/tidecrate/storefront/internal/media"
	"github.com/tidecrate/storefront/internal/orders"
	"github.com/tidecrate/storefront/internal/products"
	"github.com/tidecrate/storefront/internal/shipments"
	"github.com/tidecrate/storefront/internal/users"
	"github.com/tidecrate/storefront/pkg/auth/session"
	"github.com/tidecrate/storefront/pkg/config"
	"github.com/tidecrate/storefront/pkg/db"
	"github.com/tidecrate/storefront/pkg/logger"
	"github.com/tidecrate/storefront/pkg/metrics"
	"github.com/tidecrate/storefront/pkg/migrate"
	"github.com/tidecrate/storefront/pkg/outbox"
	"github.com/tidecrate/storefront/pkg/redis"
	"github.com/tidecrate/storefront/pkg/storage/s3"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, redisClient.Close()) }()

	blob, err := s3.New(ctx, cfg.Storage, logg)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	dbStats, err := dbClient.StatsCollector("storefront")
	if err != nil {
		return err
	}
	registry.MustRegister(dbStats)
	lifecycleMetrics := metrics.NewLifecycleMetrics(registry)

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		return err
	}
	feed, err := changefeed.NewPublisher(redisClient, cfg.Changefeed.ChannelPrefix, logg)
	if err != nil {
		return err
	}
	subscriber, err := changefeed.NewSubscriber(redisClient, cfg.Changefeed.ChannelPrefix, logg)
	if err != nil {
		return err
	}
	emitter := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	uploads, err := media.NewService(blob, map[media.Kind]int64{
		media.KindReceipt:      cfg.Uploads.MaxReceiptBytes,
		media.KindCertificate:  cfg.Uploads.MaxCertificateBytes,
		media.KindProductImage: cfg.Uploads.MaxImageBytes,
	}, lifecycleMetrics, logg)
	if err != nil {
		return err
	}

	authService, err := auth.NewService(auth.ServiceParams{
		UserRepo:       users.NewRepository(dbClient.DB()),
		SessionManager: sessionManager,
		JWTConfig:      cfg.JWT,
		PasswordConfig: cfg.Password,
	})
	if err != nil {
		return err
	}

	productRepo := products.NewRepository(dbClient.DB())
	productService, err := products.NewService(products.ServiceParams{
		Repo:         productRepo,
		Tx:           dbClient,
		Media:        uploads,
		Feed:         feed,
		Logger:       logg,
		PublicImages: cfg.FeatureFlags.PublicProducts,
	})
	if err != nil {
		return err
	}

	cartRepo := cart.NewRepository(dbClient.DB())
	cartService, err := cart.NewService(cartRepo, dbClient, productRepo, feed, logg)
	if err != nil {
		return err
	}

	shipmentService, err := shipments.NewService(shipments.NewRepository(dbClient.DB()), dbClient, emitter, feed, lifecycleMetrics, logg)
	if err != nil {
		return err
	}

	certRepo := certificates.NewRepository(dbClient.DB())
	certService, err := certificates.NewService(certRepo, dbClient, emitter, feed, uploads, cfg.Storage.SignedURLExpiry, logg)
	if err != nil {
		return err
	}

	orderService, err := orders.NewService(orders.ServiceParams{
		Repo:         orders.NewRepository(dbClient.DB()),
		Cart:         cartRepo,
		Tx:           dbClient,
		Outbox:       emitter,
		Feed:         feed,
		Stages:       shipmentService,
		Media:        uploads,
		Certificates: certRepo,
		Metrics:      lifecycleMetrics,
		Logger:       logg,
		SignedURLTTL: cfg.Storage.SignedURLExpiry,
	})
	if err != nil {
		return err
	}

	router := routes.NewRouter(cfg, logg, routes.Dependencies{
		Sessions: sessionManager,
		Redis:    redisClient,
		Pingers: map[string]controllers.Pinger{
			"db":    dbClient,
			"redis": redisClient,
			"blob":  blob,
		},
		Gatherer:     registry,
		Changes:      subscriber,
		Auth:         authService,
		Products:     productService,
		Cart:         cartService,
		Orders:       orderService,
		Shipments:    shipmentService,
		Certificates: certService,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logCtx := logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "addr": server.Addr})
	logg.Info(logCtx, "starting api server")

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logg.Info(logCtx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
