package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"

	"github.com/kursadbilgin/moments-broadcast/internal/config"
	"github.com/kursadbilgin/moments-broadcast/internal/handler"
	"github.com/kursadbilgin/moments-broadcast/internal/infra/postgresql"
	"github.com/kursadbilgin/moments-broadcast/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/moments-broadcast/internal/infra/redis"
	"github.com/kursadbilgin/moments-broadcast/internal/observability"
	"github.com/kursadbilgin/moments-broadcast/internal/queue"
	"github.com/kursadbilgin/moments-broadcast/internal/repository"
	"github.com/kursadbilgin/moments-broadcast/internal/selector"
	"github.com/kursadbilgin/moments-broadcast/internal/service"
	"github.com/kursadbilgin/moments-broadcast/internal/transport"
	"github.com/kursadbilgin/moments-broadcast/internal/window"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "moments-api")
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.PoolConfig{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
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

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer broker.Close()

	publisher := queue.NewRabbitMQPublisher(broker)
	defer publisher.Close()

	subscribers := repository.NewGormSubscriberRepo(db)
	contents := repository.NewGormContentRepo(db)
	broadcasts := repository.NewGormBroadcastRepo(db)
	batches := repository.NewGormBatchRepo(db)
	compliance := repository.NewGormComplianceRepo(db)
	budgets := repository.NewGormBudgetRepo(db)

	activityCache, err := infraredis.NewActivityStore(rdb, cfg.ActivityTTL)
	if err != nil {
		logger.Fatal("activity store initialization failed", zap.Error(err))
	}
	activity := window.NewFallbackStore(activityCache, subscribers)

	oracle, err := window.NewOracle(activity)
	if err != nil {
		logger.Fatal("window oracle initialization failed", zap.Error(err))
	}

	messageSelector, err := selector.New(oracle, nil, cfg.PublicBaseURL, cfg.TemplateLanguage, logger)
	if err != nil {
		logger.Fatal("selector initialization failed", zap.Error(err))
	}

	resolver, err := service.NewResolver(subscribers)
	if err != nil {
		logger.Fatal("resolver initialization failed", zap.Error(err))
	}
	planner, err := service.NewPlanner(batches)
	if err != nil {
		logger.Fatal("planner initialization failed", zap.Error(err))
	}

	coordinator, err := service.NewCoordinator(
		contents, broadcasts, compliance, budgets,
		resolver, planner, messageSelector, publisher,
		service.CoordinatorConfig{
			BatchSize:           cfg.BatchSize,
			CostPerMessageCents: cfg.CostPerMessageCents,
		},
		logger,
	)
	if err != nil {
		logger.Fatal("coordinator initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	coordinator.SetMetrics(metrics)

	broadcastHandler, err := handler.NewBroadcastHandler(coordinator, broadcasts, batches, compliance)
	if err != nil {
		logger.Fatal("broadcast handler initialization failed", zap.Error(err))
	}
	activityHandler, err := handler.NewActivityHandler(activity)
	if err != nil {
		logger.Fatal("activity handler initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:      "moments-broadcast",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb, broker)
	handler.RegisterMetricsRoute(app, metrics.Handler())
	handler.RegisterBroadcastRoutes(app, broadcastHandler)
	handler.RegisterActivityRoutes(app, activityHandler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	}()
	logger.Info("moments-broadcast api started", zap.Int("port", cfg.APIPort))

	select {
	case err := <-listenErr:
		if err != nil {
			logger.Error("http server stopped", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down api")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("http server shutdown failed", zap.Error(err))
		}
	}
}
