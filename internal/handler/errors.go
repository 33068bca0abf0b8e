package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/kursadbilgin/moments-broadcast/internal/domain"
)

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrContentNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrBudgetExceeded):
		return fiber.NewError(fiber.StatusPaymentRequired, err.Error())
	case errors.Is(err, domain.ErrNoRecipients), errors.Is(err, domain.ErrComplianceViolation):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrResolverFailure):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}
