package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kursadbilgin/moments-broadcast/internal/config"
	"github.com/kursadbilgin/moments-broadcast/internal/domain"
	"github.com/kursadbilgin/moments-broadcast/internal/handler"
	"github.com/kursadbilgin/moments-broadcast/internal/infra/postgresql"
	infraredis "github.com/kursadbilgin/moments-broadcast/internal/infra/redis"
	"github.com/kursadbilgin/moments-broadcast/internal/messaging"
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

	logger, err := observability.NewLogger(cfg.LogLevel, "moments-worker")
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
	consumer := queue.NewRabbitMQConsumer(broker, cfg.WorkerConcurrency, logger)
	defer consumer.Close()

	subscribers := repository.NewGormSubscriberRepo(db)
	contents := repository.NewGormContentRepo(db)
	broadcasts := repository.NewGormBroadcastRepo(db)
	batches := repository.NewGormBatchRepo(db)
	budgets := repository.NewGormBudgetRepo(db)

	activityCache, err := infraredis.NewActivityStore(rdb, cfg.ActivityTTL)
	if err != nil {
		logger.Fatal("activity store initialization failed", zap.Error(err))
	}
	oracle, err := window.NewOracle(window.NewFallbackStore(activityCache, subscribers))
	if err != nil {
		logger.Fatal("window oracle initialization failed", zap.Error(err))
	}
	messageSelector, err := selector.New(oracle, nil, cfg.PublicBaseURL, cfg.TemplateLanguage, logger)
	if err != nil {
		logger.Fatal("selector initialization failed", zap.Error(err))
	}

	whatsapp, err := messaging.NewWhatsAppClient(cfg.WhatsAppAPIURL, cfg.WhatsAppPhoneNumberID, cfg.WhatsAppAccessToken)
	if err != nil {
		logger.Fatal("whatsapp client initialization failed", zap.Error(err))
	}
	sender, err := messaging.NewRetryingSender(whatsapp)
	if err != nil {
		logger.Fatal("sender initialization failed", zap.Error(err))
	}

	sendCap, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	dispatcher, err := service.NewDispatcher(batches, broadcasts, contents, messageSelector, sender, logger)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}
	dispatcher.SetMetrics(metrics)
	dispatcher.SetRateLimiter(sendCap)
	dispatcher.SetCompletionHook(func(ctx context.Context, b *domain.Broadcast) {
		observability.WithContextLogger(logger, ctx).Info("broadcast completed",
			zap.String("broadcastId", b.ID),
			zap.Int("recipients", b.RecipientCount),
			zap.Int("succeeded", b.SuccessCount),
			zap.Int("failed", b.FailureCount),
		)
	})

	sweeper, err := service.NewSweeper(broadcasts, batches, budgets, publisher, service.SweeperConfig{
		Cooldown:            cfg.SweepCooldown,
		DeadBatchAfter:      cfg.DeadBatchAfter,
		CostPerMessageCents: cfg.CostPerMessageCents,
	}, logger)
	if err != nil {
		logger.Fatal("sweeper initialization failed", zap.Error(err))
	}
	sweeper.SetMetrics(metrics)

	workers, err := service.NewWorkerService(
		dispatcher, consumer, publisher,
		cfg.WorkerConcurrency, cfg.BatchStaggerPerSec,
		logger,
	)
	if err != nil {
		logger.Fatal("worker service initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:               "moments-worker",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	handler.RegisterHealthRoutes(app, sqlDB, rdb, broker)
	handler.RegisterMetricsRoute(app, metrics.Handler())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return workers.Start(gctx)
	})
	g.Go(func() error {
		return sweeper.Schedule(gctx, cfg.SweepSchedule)
	})
	g.Go(func() error {
		return app.Listen(fmt.Sprintf(":%d", cfg.WorkerMetricsPort))
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	logger.Info("moments-broadcast worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Int("metricsPort", cfg.WorkerMetricsPort),
		zap.String("sweepSchedule", cfg.SweepSchedule),
	)

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", zap.Error(err))
	}
	logger.Info("worker stopped")
}
