package transport

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ErrorHandler renders errors as {"error": ...}. Unclassified errors answer 500 with a
// generic message so internal details stay in the logs.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code = fiberErr.Code
		}

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		}
		if requestID := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); requestID != "" {
			fields = append(fields, zap.String("correlationId", requestID))
		}

		message := err.Error()
		if code >= fiber.StatusInternalServerError {
			logger.Error("request error", fields...)
			if fiberErr == nil {
				message = "internal server error"
			}
		} else {
			logger.Warn("request rejected", fields...)
		}

		return c.Status(code).JSON(fiber.Map{
			"error": message,
		})
	}
}
