package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kursadbilgin/moments-broadcast/internal/domain"
	"github.com/kursadbilgin/moments-broadcast/internal/observability"
)

type BroadcastService interface {
	Broadcast(ctx context.Context, contentID string) (*domain.BroadcastResult, error)
	PublishCampaign(ctx context.Context, campaignID string) (*domain.BroadcastResult, error)
}

type BroadcastStore interface {
	GetByID(ctx context.Context, id string) (*domain.Broadcast, error)
}

type BatchStore interface {
	ListByBroadcast(ctx context.Context, broadcastID string) ([]domain.BroadcastBatch, error)
}

type ComplianceStore interface {
	GetByBroadcast(ctx context.Context, broadcastID string) (*domain.ComplianceRecord, error)
}

type BroadcastHandler struct {
	service    BroadcastService
	broadcasts BroadcastStore
	batches    BatchStore
	compliance ComplianceStore
}

func NewBroadcastHandler(
	service BroadcastService,
	broadcasts BroadcastStore,
	batches BatchStore,
	compliance ComplianceStore,
) (*BroadcastHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("broadcast service is required")
	}
	if broadcasts == nil || batches == nil || compliance == nil {
		return nil, fmt.Errorf("broadcast, batch and compliance stores are required")
	}
	return &BroadcastHandler{
		service:    service,
		broadcasts: broadcasts,
		batches:    batches,
		compliance: compliance,
	}, nil
}

func RegisterBroadcastRoutes(router fiber.Router, h *BroadcastHandler) {
	v1 := router.Group("/v1")
	v1.Post("/contents/:id/broadcast", h.BroadcastContent)
	v1.Post("/campaigns/:id/publish", h.PublishCampaign)
	v1.Get("/broadcasts/:id", h.GetBroadcast)
	v1.Get("/broadcasts/:id/batches", h.ListBatches)
}

type broadcastResponse struct {
	BroadcastID    string `json:"broadcastId"`
	ContentID      string `json:"contentId"`
	RecipientCount int    `json:"recipientCount"`
	BatchesTotal   int    `json:"batchesTotal"`
	Status         string `json:"status"`
	TemplateUsed   string `json:"templateUsed"`
	Existing       bool   `json:"existing"`
}

type failureResponse struct {
	Phone       string `json:"phone"`
	Reason      string `json:"reason"`
	Permanent   bool   `json:"permanent"`
	BatchNumber int    `json:"batchNumber"`
}

type complianceResponse struct {
	TemplateUsed        string    `json:"templateUsed"`
	Channel             string    `json:"channel"`
	SponsorDisclosed    bool      `json:"sponsorDisclosed"`
	OptOutIncluded      bool      `json:"optOutIncluded"`
	ContentLinkIncluded bool      `json:"contentLinkIncluded"`
	CreatedAt           time.Time `json:"createdAt"`
}

type broadcastDetailResponse struct {
	ID                 string              `json:"id"`
	ContentID          string              `json:"contentId"`
	CampaignID         *string             `json:"campaignId,omitempty"`
	SupersedesID       *string             `json:"supersedesId,omitempty"`
	CorrelationID      string              `json:"correlationId"`
	RecipientCount     int                 `json:"recipientCount"`
	SuccessCount       int                 `json:"successCount"`
	FailureCount       int                 `json:"failureCount"`
	Status             string              `json:"status"`
	BatchesTotal       int                 `json:"batchesTotal"`
	BatchesCompleted   int                 `json:"batchesCompleted"`
	ProgressPercentage float64             `json:"progressPercentage"`
	TemplateUsed       string              `json:"templateUsed"`
	ErrorDetails       []failureResponse   `json:"errorDetails"`
	Compliance         *complianceResponse `json:"compliance,omitempty"`
	StartedAt          *time.Time          `json:"startedAt,omitempty"`
	CompletedAt        *time.Time          `json:"completedAt,omitempty"`
	SweptAt            *time.Time          `json:"sweptAt,omitempty"`
	ReconciledAt       *time.Time          `json:"reconciledAt,omitempty"`
	CreatedAt          time.Time           `json:"createdAt"`
}

type batchResponse struct {
	ID               string     `json:"id"`
	BatchNumber      int        `json:"batchNumber"`
	Status           string     `json:"status"`
	RecipientCount   int        `json:"recipientCount"`
	PendingCount     int        `json:"pendingCount"`
	SuccessCount     int        `json:"successCount"`
	FailureCount     int        `json:"failureCount"`
	FailedRecipients []string   `json:"failedRecipients"`
	RetryCount       int        `json:"retryCount"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
}

type listBatchesResponse struct {
	BroadcastID string          `json:"broadcastId"`
	Data        []batchResponse `json:"data"`
}

func (h *BroadcastHandler) BroadcastContent(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	result, err := h.service.Broadcast(requestContext(c), id)
	if err != nil {
		return toHTTPError(err)
	}
	return writeBroadcastResult(c, result)
}

func (h *BroadcastHandler) PublishCampaign(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	result, err := h.service.PublishCampaign(requestContext(c), id)
	if err != nil {
		return toHTTPError(err)
	}
	return writeBroadcastResult(c, result)
}

func (h *BroadcastHandler) GetBroadcast(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	b, err := h.broadcasts.GetByID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	resp := toBroadcastDetailResponse(b)
	record, err := h.compliance.GetByBroadcast(c.Context(), id)
	switch {
	case err == nil:
		resp.Compliance = toComplianceResponse(record)
	case !errors.Is(err, domain.ErrNotFound):
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *BroadcastHandler) ListBatches(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if _, err := h.broadcasts.GetByID(c.Context(), id); err != nil {
		return toHTTPError(err)
	}

	batches, err := h.batches.ListByBroadcast(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]batchResponse, 0, len(batches))
	for i := range batches {
		data = append(data, toBatchResponse(&batches[i]))
	}
	return c.Status(fiber.StatusOK).JSON(listBatchesResponse{BroadcastID: id, Data: data})
}

// writeBroadcastResult answers 202 for a new broadcast and 200 for a running one.
func writeBroadcastResult(c *fiber.Ctx, r *domain.BroadcastResult) error {
	status := fiber.StatusAccepted
	if r.Existing {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(broadcastResponse{
		BroadcastID:    r.BroadcastID,
		ContentID:      r.ContentID,
		RecipientCount: r.RecipientCount,
		BatchesTotal:   r.BatchesTotal,
		Status:         r.Status.String(),
		TemplateUsed:   r.TemplateUsed,
		Existing:       r.Existing,
	})
}

// requestContext carries the request id as correlation id into the services.
func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if id := requestCorrelationID(c); id != "" {
		ctx = observability.WithCorrelationID(ctx, id)
	}
	return ctx
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toBroadcastDetailResponse(b *domain.Broadcast) broadcastDetailResponse {
	failures := make([]failureResponse, 0, len(b.ErrorDetails))
	for _, f := range b.ErrorDetails {
		failures = append(failures, failureResponse(f))
	}

	return broadcastDetailResponse{
		ID:                 b.ID,
		ContentID:          b.ContentID,
		CampaignID:         b.CampaignID,
		SupersedesID:       b.SupersedesID,
		CorrelationID:      b.CorrelationID,
		RecipientCount:     b.RecipientCount,
		SuccessCount:       b.SuccessCount,
		FailureCount:       b.FailureCount,
		Status:             b.Status.String(),
		BatchesTotal:       b.BatchesTotal,
		BatchesCompleted:   b.BatchesCompleted,
		ProgressPercentage: b.ProgressPercentage,
		TemplateUsed:       b.TemplateUsed,
		ErrorDetails:       failures,
		StartedAt:          b.StartedAt,
		CompletedAt:        b.CompletedAt,
		SweptAt:            b.SweptAt,
		ReconciledAt:       b.ReconciledAt,
		CreatedAt:          b.CreatedAt,
	}
}

func toComplianceResponse(r *domain.ComplianceRecord) *complianceResponse {
	return &complianceResponse{
		TemplateUsed:        r.TemplateUsed,
		Channel:             r.Channel,
		SponsorDisclosed:    r.SponsorDisclosed,
		OptOutIncluded:      r.OptOutIncluded,
		ContentLinkIncluded: r.ContentLinkIncluded,
		CreatedAt:           r.CreatedAt,
	}
}

func toBatchResponse(b *domain.BroadcastBatch) batchResponse {
	failed := b.FailedRecipients
	if failed == nil {
		failed = []string{}
	}
	return batchResponse{
		ID:               b.ID,
		BatchNumber:      b.BatchNumber,
		Status:           b.Status.String(),
		RecipientCount:   len(b.Recipients),
		PendingCount:     len(b.PendingRecipients),
		SuccessCount:     b.SuccessCount,
		FailureCount:     b.FailureCount,
		FailedRecipients: failed,
		RetryCount:       b.RetryCount,
		StartedAt:        b.StartedAt,
		CompletedAt:      b.CompletedAt,
	}
}
