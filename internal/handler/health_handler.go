package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

// BrokerChecker reports message broker connectivity.
type BrokerChecker interface {
	IsConnected() bool
}

func RegisterHealthRoutes(app fiber.Router, sqlDB *sql.DB, rdb *redis.Client, broker BrokerChecker) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(sqlDB, rdb, broker))
}

func RegisterMetricsRoute(app fiber.Router, metrics http.Handler) {
	app.Get("/metrics", adaptor.HTTPHandler(metrics))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

func ReadyzHandler(sqlDB *sql.DB, rdb *redis.Client, broker BrokerChecker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		checks := fiber.Map{
			"postgres": checkStatus(sqlDB.PingContext(ctx) == nil),
			"redis":    checkStatus(rdb.Ping(ctx).Err() == nil),
		}
		healthy := checks["postgres"] == "ok" && checks["redis"] == "ok"
		if broker != nil {
			connected := broker.IsConnected()
			checks["rabbitmq"] = checkStatus(connected)
			healthy = healthy && connected
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if !healthy {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	}
}

func checkStatus(ok bool) string {
	if ok {
		return "ok"
	}
	return "down"
}
