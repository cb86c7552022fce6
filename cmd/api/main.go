package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/marifactor/push-pipeline/internal/config"
	"github.com/marifactor/push-pipeline/internal/handler"
	"github.com/marifactor/push-pipeline/internal/infra/postgresql"
	"github.com/marifactor/push-pipeline/internal/infra/postgresql/migrations"
	infraredis "github.com/marifactor/push-pipeline/internal/infra/redis"
	"github.com/marifactor/push-pipeline/internal/observability"
	"github.com/marifactor/push-pipeline/internal/provider"
	"github.com/marifactor/push-pipeline/internal/queue"
	"github.com/marifactor/push-pipeline/internal/repository"
	"github.com/marifactor/push-pipeline/internal/service"
	"github.com/marifactor/push-pipeline/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer broker.Close()

	publisher := queue.NewRabbitMQPublisher(broker)
	consumer := queue.NewRabbitMQConsumer(broker, cfg.WorkerConcurrency, logger)

	pushProvider, err := provider.NewFCMProvider(ctx, cfg.FirebaseCredentialsPath)
	if err != nil {
		logger.Fatal("fcm provider initialization failed", zap.Error(err))
	}

	notifications := repository.NewGormNotificationRepo(db)
	users := repository.NewGormUserRepo(db)

	resolver, err := service.NewTokenResolver(notifications, users, cfg.DebugToken, cfg.DebugRecipientIDs, logger)
	if err != nil {
		logger.Fatal("token resolver initialization failed", zap.Error(err))
	}

	guard, err := service.NewDuplicateGuard(notifications, cfg.DuplicateWindow)
	if err != nil {
		logger.Fatal("duplicate guard initialization failed", zap.Error(err))
	}

	dispatcher, err := service.NewDispatcher(notifications, users, resolver, pushProvider, rateLimiter, logger)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}

	events, err := service.NewEventService(notifications, users, guard, dispatcher, cfg.MessageTitle, logger)
	if err != nil {
		logger.Fatal("event service initialization failed", zap.Error(err))
	}

	admin, err := service.NewAdminService(notifications, users, dispatcher, pushProvider, logger)
	if err != nil {
		logger.Fatal("admin service initialization failed", zap.Error(err))
	}

	worker, err := service.NewWorkerService(consumer, events, cfg.WorkerConcurrency, logger)
	if err != nil {
		logger.Fatal("worker service initialization failed", zap.Error(err))
	}

	backfill, err := service.NewTokenBackfillSweep(
		notifications,
		users,
		cfg.TokenBackfillInterval,
		cfg.TokenWaitExpiry,
		cfg.SweepScanLimit,
		logger,
	)
	if err != nil {
		logger.Fatal("token backfill initialization failed", zap.Error(err))
	}

	retention, err := service.NewRetentionSweep(notifications, cfg.RetentionInterval, cfg.RetentionPeriod, logger)
	if err != nil {
		logger.Fatal("retention sweep initialization failed", zap.Error(err))
	}

	tokenCleanup, err := service.NewTokenCleanupSweep(users, cfg.TokenCleanupInterval, cfg.SweepScanLimit, logger)
	if err != nil {
		logger.Fatal("token cleanup initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	dispatcher.SetMetrics(metrics)
	events.SetMetrics(metrics)
	worker.SetMetrics(metrics)
	backfill.SetMetrics(metrics)
	retention.SetMetrics(metrics)
	tokenCleanup.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(transport.RequestID())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	handler.RegisterHealthRoutes(app, sqlDB, rdb, broker)
	if err := handler.RegisterEventRoutes(app, publisher); err != nil {
		logger.Fatal("failed to register event routes", zap.Error(err))
	}
	if err := handler.RegisterAdminRoutes(app, admin); err != nil {
		logger.Fatal("failed to register admin routes", zap.Error(err))
	}

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("api listening", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down api")
		return app.Shutdown()
	})

	g.Go(func() error {
		return worker.Start(groupCtx)
	})

	g.Go(func() error {
		return backfill.Start(groupCtx)
	})

	g.Go(func() error {
		return retention.Start(groupCtx)
	})

	g.Go(func() error {
		return tokenCleanup.Start(groupCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("service exited with error", zap.Error(err))
	}

	logger.Info("push pipeline stopped")
}
