package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kursadbilgin/moments-broadcast/internal/domain"
	"github.com/kursadbilgin/moments-broadcast/internal/observability"
	"github.com/kursadbilgin/moments-broadcast/internal/queue"
	"github.com/kursadbilgin/moments-broadcast/internal/repository"
	"github.com/kursadbilgin/moments-broadcast/internal/selector"
)

const (
	originContent  = "content"
	originCampaign = "campaign"
	originSweep    = "sweep"
)

// AggregateSelector summarizes the messages a broadcast will send.
type AggregateSelector interface {
	AggregateDecision(content *domain.Content) (selector.Aggregate, error)
}

// CoordinatorConfig holds the tunables of a Coordinator.
type CoordinatorConfig struct {
	BatchSize           int
	CostPerMessageCents int64
}

// Coordinator turns a content item into a planned, triggered broadcast.
type Coordinator struct {
	contents   repository.ContentRepository
	broadcasts repository.BroadcastRepository
	compliance repository.ComplianceRepository
	budgets    repository.BudgetRepository
	resolver   *Resolver
	planner    *Planner
	selector   AggregateSelector
	publisher  queue.Publisher
	cfg        CoordinatorConfig
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
	newID      func() string
}

func NewCoordinator(
	contents repository.ContentRepository,
	broadcasts repository.BroadcastRepository,
	compliance repository.ComplianceRepository,
	budgets repository.BudgetRepository,
	resolver *Resolver,
	planner *Planner,
	aggregate AggregateSelector,
	publisher queue.Publisher,
	cfg CoordinatorConfig,
	logger *zap.Logger,
) (*Coordinator, error) {
	if contents == nil || broadcasts == nil || compliance == nil || budgets == nil {
		return nil, fmt.Errorf("content, broadcast, compliance and budget repositories are required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if planner == nil {
		return nil, fmt.Errorf("planner is required")
	}
	if aggregate == nil {
		return nil, fmt.Errorf("aggregate selector is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = domain.DefaultBatchSize
	}
	if cfg.CostPerMessageCents < 0 {
		return nil, fmt.Errorf("cost per message must not be negative")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Coordinator{
		contents:   contents,
		broadcasts: broadcasts,
		compliance: compliance,
		budgets:    budgets,
		resolver:   resolver,
		planner:    planner,
		selector:   aggregate,
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}, nil
}

func (c *Coordinator) SetMetrics(metrics *observability.Metrics) {
	if c == nil {
		return
	}
	c.metrics = metrics
}

// Broadcast publishes one content item. It returns without waiting for delivery.
func (c *Coordinator) Broadcast(ctx context.Context, contentID string) (*domain.BroadcastResult, error) {
	if contentID == "" {
		return nil, fmt.Errorf("%w: content id is required", domain.ErrValidation)
	}

	content, err := c.contents.GetByID(ctx, contentID)
	if err != nil {
		if errors.Is(err, domain.ErrContentNotFound) {
			c.metrics.IncBroadcastRejected("content_not_found")
			return nil, fmt.Errorf("%w: %s", domain.ErrContentNotFound, contentID)
		}
		return nil, fmt.Errorf("failed to load content: %w", err)
	}

	return c.broadcast(ctx, content, originContent)
}

// PublishCampaign derives the campaign's single content item, creating it on first
// publish, and broadcasts it.
func (c *Coordinator) PublishCampaign(ctx context.Context, campaignID string) (*domain.BroadcastResult, error) {
	if campaignID == "" {
		return nil, fmt.Errorf("%w: campaign id is required", domain.ErrValidation)
	}

	content, err := c.contents.EnsureCampaignContent(ctx, campaignID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: campaign %s", domain.ErrNotFound, campaignID)
		}
		return nil, fmt.Errorf("failed to derive campaign content: %w", err)
	}

	return c.broadcast(ctx, content, originCampaign)
}

func (c *Coordinator) broadcast(ctx context.Context, content *domain.Content, origin string) (*domain.BroadcastResult, error) {
	correlationID, ok := observability.CorrelationIDFromContext(ctx)
	if !ok {
		correlationID = c.newID()
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}
	log := observability.WithContextLogger(c.logger, ctx).With(zap.String("contentId", content.ID))

	existing, err := c.broadcasts.GetActiveByContent(ctx, content.ID)
	if err == nil {
		log.Info("broadcast already running for content", zap.String("broadcastId", existing.ID))
		return resultFor(existing, true), nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up active broadcast: %w", err)
	}

	recipients, err := c.resolver.Resolve(ctx, content.Targeting)
	if err != nil {
		c.metrics.IncBroadcastRejected("resolver_failure")
		return nil, err
	}
	if len(recipients) == 0 {
		c.metrics.IncBroadcastRejected("no_recipients")
		return nil, fmt.Errorf("%w: content %s", domain.ErrNoRecipients, content.ID)
	}

	estimated := int64(len(recipients)) * c.cfg.CostPerMessageCents
	if content.CampaignID != nil {
		decision, err := c.budgets.CheckBudget(ctx, *content.CampaignID, estimated)
		if err != nil {
			return nil, fmt.Errorf("failed to check budget: %w", err)
		}
		if !decision.Allowed {
			c.metrics.IncBroadcastRejected("budget_exceeded")
			log.Info("broadcast rejected by budget", zap.String("reason", decision.Reason))
			return nil, fmt.Errorf("%w: %s", domain.ErrBudgetExceeded, decision.Reason)
		}
	}

	aggregate, aggErr := c.selector.AggregateDecision(content)
	if aggErr != nil {
		// Each message is checked again at send time and fails individually.
		log.Warn("aggregate compliance check failed", zap.Error(aggErr))
	}

	now := c.now().UTC()
	b := &domain.Broadcast{
		ID:             c.newID(),
		ContentID:      content.ID,
		CampaignID:     content.CampaignID,
		CorrelationID:  correlationID,
		RecipientCount: len(recipients),
		Status:         domain.BroadcastStatusProcessing,
		TemplateUsed:   aggregate.TemplateName,
		ErrorDetails:   []domain.RecipientFailure{},
		StartedAt:      &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := c.broadcasts.Create(ctx, b); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// A concurrent request won the insert.
			if winner, getErr := c.broadcasts.GetActiveByContent(ctx, content.ID); getErr == nil {
				log.Info("broadcast already running for content", zap.String("broadcastId", winner.ID))
				return resultFor(winner, true), nil
			}
		}
		return nil, fmt.Errorf("failed to create broadcast: %w", err)
	}
	log = log.With(zap.String("broadcastId", b.ID))

	batchIDs, err := c.planner.Plan(ctx, b.ID, recipientPhones(recipients), c.cfg.BatchSize)
	if err != nil {
		return nil, c.fail(ctx, log, b.ID, err)
	}
	b.BatchesTotal = len(batchIDs)

	record := &domain.ComplianceRecord{
		ID:                  c.newID(),
		BroadcastID:         b.ID,
		ContentID:           content.ID,
		TemplateUsed:        aggregate.TemplateName,
		Channel:             aggregate.Channel,
		SponsorDisclosed:    aggregate.SponsorDisclosed,
		OptOutIncluded:      aggregate.OptOutIncluded,
		ContentLinkIncluded: aggregate.ContentLinkIncluded,
		CreatedAt:           now,
	}
	if err := c.compliance.Create(ctx, record); err != nil {
		return nil, c.fail(ctx, log, b.ID, fmt.Errorf("failed to record compliance: %w", err))
	}

	if content.CampaignID != nil && estimated > 0 {
		reservation := &domain.BudgetTransaction{
			ID:          c.newID(),
			CampaignID:  *content.CampaignID,
			BroadcastID: b.ID,
			Kind:        domain.TransactionReservation,
			Amount:      estimated,
			Messages:    len(recipients),
			CreatedAt:   now,
		}
		if err := c.budgets.RecordSpend(ctx, reservation); err != nil {
			return nil, c.fail(ctx, log, b.ID, fmt.Errorf("failed to reserve budget: %w", err))
		}
	}

	published := c.trigger(ctx, log, b, batchIDs)
	if published == 0 {
		return nil, c.fail(ctx, log, b.ID, fmt.Errorf("failed to trigger any batch"))
	}

	c.metrics.IncBroadcastStarted(origin)
	log.Info("broadcast started",
		zap.Int("recipientCount", b.RecipientCount),
		zap.Int("batchesTotal", b.BatchesTotal),
		zap.Int("batchesPublished", published),
		zap.String("templateUsed", b.TemplateUsed),
	)

	return resultFor(b, false), nil
}

// trigger publishes one task per batch. Unpublished batches stay pending and are picked
// up by the sweeper's orphan pass.
func (c *Coordinator) trigger(ctx context.Context, log *zap.Logger, b *domain.Broadcast, batchIDs []string) int {
	published := make([]string, 0, len(batchIDs))
	for _, id := range batchIDs {
		msg := queue.BatchMessage{
			BatchID:       id,
			BroadcastID:   b.ID,
			CorrelationID: b.CorrelationID,
		}
		if err := c.publisher.Publish(ctx, queue.BatchQueue, msg); err != nil {
			log.Error("failed to publish batch", zap.String("batchId", id), zap.Error(err))
			continue
		}
		published = append(published, id)
	}
	if err := c.planner.MarkPublished(ctx, published, c.now()); err != nil {
		log.Warn("failed to stamp batch publish time", zap.Error(err))
	}
	return len(published)
}

// fail marks a created broadcast failed and returns cause.
func (c *Coordinator) fail(ctx context.Context, log *zap.Logger, broadcastID string, cause error) error {
	if err := c.broadcasts.MarkFailed(ctx, broadcastID); err != nil {
		log.Error("failed to mark broadcast failed", zap.Error(err))
	}
	c.metrics.IncBroadcastRejected("aborted")
	log.Error("broadcast aborted", zap.Error(cause))
	return cause
}

func resultFor(b *domain.Broadcast, existing bool) *domain.BroadcastResult {
	return &domain.BroadcastResult{
		BroadcastID:    b.ID,
		ContentID:      b.ContentID,
		RecipientCount: b.RecipientCount,
		BatchesTotal:   b.BatchesTotal,
		Status:         b.Status,
		TemplateUsed:   b.TemplateUsed,
		Existing:       existing,
	}
}
