package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kursadbilgin/moments-broadcast/internal/domain"
	"github.com/kursadbilgin/moments-broadcast/internal/messaging"
	"github.com/kursadbilgin/moments-broadcast/internal/observability"
	"github.com/kursadbilgin/moments-broadcast/internal/ratelimit"
	"github.com/kursadbilgin/moments-broadcast/internal/repository"
	"github.com/kursadbilgin/moments-broadcast/internal/selector"
)

const (
	reasonComplianceViolation = "compliance_violation"
	reasonSelectionFailed     = "selection_failed"
	reasonRateLimited         = "rate_limited"
	reasonContentNotFound     = "content_not_found"
	reasonBroadcastFailed     = "broadcast_failed"
	reasonDeadBatch           = "dead_batch"

	globalSendKey     = "whatsapp"
	checkpointTimeout = 5 * time.Second
)

// MessageSelector chooses the message for one recipient.
type MessageSelector interface {
	Select(ctx context.Context, phone string, content *domain.Content) (selector.Decision, error)
}

// CompletionHook is called once when the last batch of a broadcast completes.
type CompletionHook func(ctx context.Context, broadcast *domain.Broadcast)

// BatchOutcome reports what one Dispatch call did with a batch.
type BatchOutcome struct {
	Batch *domain.BroadcastBatch
	// Broadcast is the parent after aggregation; set only when the batch completed.
	Broadcast *domain.Broadcast
	Result    domain.GenerationResult
	Requeued  bool
	// Skipped is true when the batch was not pending, e.g. a duplicate delivery.
	Skipped bool
}

// Dispatcher delivers one batch per call, strictly sequentially.
type Dispatcher struct {
	batches    repository.BatchRepository
	broadcasts repository.BroadcastRepository
	contents   repository.ContentRepository
	selector   MessageSelector
	sender     messaging.Sender
	limiter    ratelimit.RateLimiter
	onComplete CompletionHook
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(
	batches repository.BatchRepository,
	broadcasts repository.BroadcastRepository,
	contents repository.ContentRepository,
	messageSelector MessageSelector,
	sender messaging.Sender,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if broadcasts == nil {
		return nil, fmt.Errorf("broadcast repository is required")
	}
	if contents == nil {
		return nil, fmt.Errorf("content repository is required")
	}
	if messageSelector == nil {
		return nil, fmt.Errorf("message selector is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		batches:    batches,
		broadcasts: broadcasts,
		contents:   contents,
		selector:   messageSelector,
		sender:     sender,
		logger:     logger,
		now:        time.Now,
		sleep:      sleepWithContext,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// SetRateLimiter installs a process-wide send cap consulted before every send.
func (d *Dispatcher) SetRateLimiter(limiter ratelimit.RateLimiter) {
	if d == nil {
		return
	}
	d.limiter = limiter
}

func (d *Dispatcher) SetCompletionHook(hook CompletionHook) {
	if d == nil {
		return
	}
	d.onComplete = hook
}

// Dispatch claims a pending batch, sends to every pending recipient in order and then
// either requeues the batch for a retry generation or completes it.
func (d *Dispatcher) Dispatch(ctx context.Context, batchID string) (BatchOutcome, error) {
	batch, err := d.batches.Claim(ctx, batchID)
	if err != nil {
		return BatchOutcome{}, fmt.Errorf("failed to claim batch: %w", err)
	}
	if batch == nil {
		return BatchOutcome{Skipped: true}, nil
	}

	log := observability.BatchLogger(d.logger, ctx, batch.BroadcastID, batch.ID)
	d.metrics.IncBatchesInFlight()
	defer d.metrics.DecBatchesInFlight()

	broadcast, err := d.broadcasts.GetByID(ctx, batch.BroadcastID)
	if err != nil {
		return BatchOutcome{Batch: batch}, fmt.Errorf("failed to load broadcast: %w", err)
	}
	if broadcast.Status == domain.BroadcastStatusFailed {
		log.Warn("broadcast already failed, closing batch without sending")
		return d.complete(ctx, log, batch, abandon(batch, reasonBroadcastFailed, true))
	}

	content, err := d.contents.GetByID(ctx, broadcast.ContentID)
	if errors.Is(err, domain.ErrContentNotFound) {
		log.Warn("content disappeared, closing batch without sending",
			zap.String("contentId", broadcast.ContentID),
		)
		return d.complete(ctx, log, batch, abandon(batch, reasonContentNotFound, true))
	}
	if err != nil {
		return BatchOutcome{Batch: batch}, fmt.Errorf("failed to load content: %w", err)
	}

	log.Info("dispatching batch",
		zap.Int("batchNumber", batch.BatchNumber),
		zap.Int("retryCount", batch.RetryCount),
		zap.Int("recipients", len(batch.PendingRecipients)),
	)

	result, remaining, err := d.sendAll(ctx, log, batch, content)
	if err != nil {
		return d.checkpoint(ctx, log, batch, result, remaining, err)
	}

	if domain.ShouldRetry(result, len(batch.PendingRecipients), batch.RetryCount) {
		next := make([]string, 0, len(result.Transient))
		for _, f := range result.Transient {
			next = append(next, f.Phone)
		}

		updated, err := d.batches.Requeue(ctx, batch.ID, result, next)
		if err != nil {
			return BatchOutcome{Batch: batch, Result: result}, fmt.Errorf("failed to requeue batch: %w", err)
		}
		d.metrics.IncBatchRetry("failures")
		log.Info("batch requeued for retry",
			zap.Int("succeeded", result.Succeeded),
			zap.Int("transient", len(result.Transient)),
			zap.Int("permanent", len(result.Permanent)),
			zap.Int("retryCount", updated.RetryCount),
		)
		return BatchOutcome{Batch: updated, Result: result, Requeued: true}, nil
	}

	return d.complete(ctx, log, batch, result)
}

// checkpoint saves an interrupted generation so a redelivery only sends to the
// recipients that were not reached. If the save fails the batch stays processing
// and is recovered by the dead-batch reaper.
func (d *Dispatcher) checkpoint(ctx context.Context, log *zap.Logger, batch *domain.BroadcastBatch, result domain.GenerationResult, remaining []string, cause error) (BatchOutcome, error) {
	pending := append([]string(nil), remaining...)
	for _, f := range result.Transient {
		pending = append(pending, f.Phone)
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), checkpointTimeout)
	defer cancel()

	updated, err := d.batches.Checkpoint(saveCtx, batch.ID, result, pending)
	if err != nil {
		log.Error("failed to save interrupted batch", zap.Error(err))
		return BatchOutcome{Batch: batch, Result: result}, cause
	}

	log.Info("batch interrupted, progress saved",
		zap.Int("succeeded", result.Succeeded),
		zap.Int("permanent", len(result.Permanent)),
		zap.Int("remaining", len(pending)),
	)
	return BatchOutcome{Batch: updated, Result: result}, cause
}

func (d *Dispatcher) complete(ctx context.Context, log *zap.Logger, batch *domain.BroadcastBatch, result domain.GenerationResult) (BatchOutcome, error) {
	updated, broadcast, err := d.batches.Complete(ctx, batch.ID, result)
	if err != nil {
		return BatchOutcome{Batch: batch, Result: result}, fmt.Errorf("failed to complete batch: %w", err)
	}

	log.Info("batch completed",
		zap.Int("successCount", updated.SuccessCount),
		zap.Int("failureCount", updated.FailureCount),
		zap.Int("batchesCompleted", broadcast.BatchesCompleted),
		zap.Int("batchesTotal", broadcast.BatchesTotal),
	)

	if finished(broadcast) {
		d.metrics.IncBroadcastCompleted()
		log.Info("broadcast completed",
			zap.Int("successCount", broadcast.SuccessCount),
			zap.Int("failureCount", broadcast.FailureCount),
		)
		if d.onComplete != nil {
			d.onComplete(ctx, broadcast)
		}
	}

	return BatchOutcome{Batch: updated, Broadcast: broadcast, Result: result}, nil
}

// sendAll runs one generation. The adaptive delay lives only for this call.
// On cancellation it returns the partial result and the recipients not yet reached.
func (d *Dispatcher) sendAll(ctx context.Context, log *zap.Logger, batch *domain.BroadcastBatch, content *domain.Content) (domain.GenerationResult, []string, error) {
	var result domain.GenerationResult
	delay := ratelimit.NewAdaptiveDelay()

	for i, phone := range batch.PendingRecipients {
		if i > 0 {
			if err := d.sleep(ctx, delay.Current()); err != nil {
				return result, batch.PendingRecipients[i:], err
			}
		}

		failure, attempted := d.sendOne(ctx, log, phone, content)
		if err := ctx.Err(); err != nil {
			if failure == nil {
				result.Succeeded++
				return result, batch.PendingRecipients[i+1:], err
			}
			return result, batch.PendingRecipients[i:], err
		}

		if failure == nil {
			result.Succeeded++
			delay = delay.OnSuccess()
			continue
		}

		failure.BatchNumber = batch.BatchNumber
		if failure.Permanent {
			result.Permanent = append(result.Permanent, *failure)
		} else {
			result.Transient = append(result.Transient, *failure)
		}
		if attempted {
			delay = delay.OnFailure()
		}
	}

	d.metrics.ObserveAdaptiveDelay(delay.Current())
	return result, nil, nil
}

// sendOne returns nil on delivery. attempted is false when no API call was made.
func (d *Dispatcher) sendOne(ctx context.Context, log *zap.Logger, phone string, content *domain.Content) (*domain.RecipientFailure, bool) {
	decision, err := d.selector.Select(ctx, phone, content)
	if err != nil {
		if errors.Is(err, domain.ErrComplianceViolation) {
			log.Warn("message rejected by compliance check", observability.Phone(phone), zap.Error(err))
			d.metrics.IncMessageFailed(string(decision.Channel), reasonComplianceViolation)
			return &domain.RecipientFailure{Phone: phone, Reason: reasonComplianceViolation, Permanent: true}, false
		}
		log.Warn("channel selection failed", observability.Phone(phone), zap.Error(err))
		return &domain.RecipientFailure{Phone: phone, Reason: reasonSelectionFailed}, false
	}

	channel := string(decision.Channel)
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx, globalSendKey); err != nil {
			d.metrics.IncMessageFailed(channel, reasonRateLimited)
			return &domain.RecipientFailure{Phone: phone, Reason: reasonRateLimited}, false
		}
	}

	start := d.now()
	switch decision.Channel {
	case selector.ChannelFreeform:
		_, err = d.sender.SendFreeform(ctx, messaging.FreeformMessage{
			To:        phone,
			Body:      decision.Body,
			MediaURLs: decision.MediaURLs,
		})
	default:
		_, err = d.sender.SendTemplate(ctx, messaging.TemplateMessage{
			To:       phone,
			Name:     decision.TemplateName,
			Language: decision.Language,
			Params:   decision.Params,
		})
	}
	d.metrics.ObserveMessageSendDuration(channel, d.now().Sub(start))

	if err != nil {
		reason := messaging.FailureReason(err)
		d.metrics.IncMessageFailed(channel, reason)
		log.Debug("send failed",
			observability.Phone(phone),
			zap.String("channel", channel),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return &domain.RecipientFailure{Phone: phone, Reason: reason, Permanent: !messaging.IsTransient(err)}, true
	}

	d.metrics.IncMessageSent(channel)
	return nil, true
}

// abandon fails every pending recipient of a batch with reason.
func abandon(batch *domain.BroadcastBatch, reason string, permanent bool) domain.GenerationResult {
	var result domain.GenerationResult
	for _, phone := range batch.PendingRecipients {
		f := domain.RecipientFailure{Phone: phone, Reason: reason, Permanent: permanent, BatchNumber: batch.BatchNumber}
		if permanent {
			result.Permanent = append(result.Permanent, f)
		} else {
			result.Transient = append(result.Transient, f)
		}
	}
	return result
}

func finished(b *domain.Broadcast) bool {
	return b != nil &&
		b.Status == domain.BroadcastStatusCompleted &&
		b.BatchesTotal > 0 &&
		b.BatchesCompleted == b.BatchesTotal
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
