package handler

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kursadbilgin/moments-broadcast/internal/domain"
	"github.com/kursadbilgin/moments-broadcast/internal/window"
)

type ActivityHandler struct {
	recorder window.ActivityRecorder
	now      func() time.Time
}

func NewActivityHandler(recorder window.ActivityRecorder) (*ActivityHandler, error) {
	if recorder == nil {
		return nil, fmt.Errorf("activity recorder is required")
	}
	return &ActivityHandler{recorder: recorder, now: time.Now}, nil
}

func RegisterActivityRoutes(router fiber.Router, h *ActivityHandler) {
	router.Group("/v1").Post("/activity/inbound", h.RecordInbound)
}

type inboundRequest struct {
	Phone string `json:"phone"`
	// ReceivedAt defaults to the time of the request.
	ReceivedAt *time.Time `json:"receivedAt,omitempty"`
}

// RecordInbound stores that a subscriber messaged us, which opens the free-form window.
func (h *ActivityHandler) RecordInbound(c *fiber.Ctx) error {
	var req inboundRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		return toHTTPError(fmt.Errorf("%w: phone is required", domain.ErrValidation))
	}

	at := h.now().UTC()
	if req.ReceivedAt != nil {
		if req.ReceivedAt.After(at) {
			return toHTTPError(fmt.Errorf("%w: receivedAt is in the future", domain.ErrValidation))
		}
		at = req.ReceivedAt.UTC()
	}

	if err := h.recorder.RecordInbound(c.Context(), phone, at); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
