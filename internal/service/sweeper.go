package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kursadbilgin/moments-broadcast/internal/domain"
	"github.com/kursadbilgin/moments-broadcast/internal/observability"
	"github.com/kursadbilgin/moments-broadcast/internal/queue"
	"github.com/kursadbilgin/moments-broadcast/internal/repository"
)

const (
	defaultSweepCooldown  = 10 * time.Minute
	defaultDeadBatchAfter = 15 * time.Minute
	defaultSweepLimit     = 100
)

// SweeperConfig holds the tunables of a Sweeper.
type SweeperConfig struct {
	Cooldown            time.Duration
	DeadBatchAfter      time.Duration
	CostPerMessageCents int64
	Limit               int
}

// Sweeper recovers dead batches, reconciles budgets and re-dispatches failed
// recipients of finished broadcasts once.
type Sweeper struct {
	broadcasts repository.BroadcastRepository
	batches    repository.BatchRepository
	budgets    repository.BudgetRepository
	publisher  queue.Publisher
	cfg        SweeperConfig
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
	newID      func() string
}

func NewSweeper(
	broadcasts repository.BroadcastRepository,
	batches repository.BatchRepository,
	budgets repository.BudgetRepository,
	publisher queue.Publisher,
	cfg SweeperConfig,
	logger *zap.Logger,
) (*Sweeper, error) {
	if broadcasts == nil || batches == nil || budgets == nil {
		return nil, fmt.Errorf("broadcast, batch and budget repositories are required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultSweepCooldown
	}
	if cfg.DeadBatchAfter <= 0 {
		cfg.DeadBatchAfter = defaultDeadBatchAfter
	}
	if cfg.Limit <= 0 {
		cfg.Limit = defaultSweepLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sweeper{
		broadcasts: broadcasts,
		batches:    batches,
		budgets:    budgets,
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}, nil
}

func (s *Sweeper) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Run performs one full pass. Stage errors are joined; a failing stage does not stop the others.
func (s *Sweeper) Run(ctx context.Context) error {
	var errs []error

	if _, err := s.ReapDeadBatches(ctx); err != nil {
		errs = append(errs, fmt.Errorf("reap dead batches: %w", err))
	}
	if _, err := s.ReconcileBudgets(ctx); err != nil {
		errs = append(errs, fmt.Errorf("reconcile budgets: %w", err))
	}
	if _, err := s.SweepFailed(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sweep failed recipients: %w", err))
	}

	return errors.Join(errs...)
}

// Schedule runs the sweeper on a cron spec until ctx is done. Overlapping runs are skipped.
func (s *Sweeper) Schedule(ctx context.Context, spec string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	if _, err := c.AddFunc(spec, func() {
		if err := s.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("sweep pass failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}

	c.Start()
	s.logger.Info("sweeper scheduled", zap.String("schedule", spec))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// ReapDeadBatches resets batches stuck in processing and republishes pending batches
// nobody picked up. A dead batch without retry budget is completed with its pending
// recipients failed.
func (s *Sweeper) ReapDeadBatches(ctx context.Context) (int, error) {
	before := s.now().Add(-s.cfg.DeadBatchAfter)

	stale, err := s.batches.ListStale(ctx, domain.BatchStatusProcessing, before, s.cfg.Limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale batches: %w", err)
	}

	reaped := 0
	for i := range stale {
		batch := stale[i]
		log := s.logger.With(zap.String("broadcastId", batch.BroadcastID), zap.String("batchId", batch.ID))

		if batch.RetryCount >= domain.MaxBatchRetries {
			_, broadcast, err := s.batches.Complete(ctx, batch.ID, abandon(&batch, reasonDeadBatch, false))
			if err != nil {
				log.Error("failed to close dead batch", zap.Error(err))
				continue
			}
			if finished(broadcast) {
				s.metrics.IncBroadcastCompleted()
			}
			log.Warn("dead batch closed without retry budget", zap.Error(domain.ErrDeadBatch))
			reaped++
			continue
		}

		reset, err := s.batches.ResetStale(ctx, batch.ID, before)
		if err != nil {
			log.Error("failed to reset dead batch", zap.Error(err))
			continue
		}
		if reset == nil {
			continue
		}
		s.metrics.IncBatchRetry("dead")
		log.Warn("dead batch reset to pending", zap.Int("retryCount", reset.RetryCount))
		s.publish(ctx, log, reset, "")
		reaped++
	}

	// A batch published within the window may still be waiting in the queue.
	orphans, err := s.batches.ListOrphaned(ctx, before, s.cfg.Limit)
	if err != nil {
		return reaped, fmt.Errorf("failed to list orphaned batches: %w", err)
	}
	republished := 0
	for i := range orphans {
		batch := orphans[i]
		log := s.logger.With(zap.String("broadcastId", batch.BroadcastID), zap.String("batchId", batch.ID))
		if s.publish(ctx, log, &batch, "") {
			republished++
		}
	}

	s.metrics.AddSweeperActions("reaped", reaped)
	s.metrics.AddSweeperActions("republished", republished)
	return reaped, nil
}

// ReconcileBudgets moves the ledger of finished campaign broadcasts from estimated to
// actual spend.
func (s *Sweeper) ReconcileBudgets(ctx context.Context) (int, error) {
	pending, err := s.broadcasts.ListUnreconciled(ctx, s.cfg.Limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list unreconciled broadcasts: %w", err)
	}

	reconciled := 0
	for i := range pending {
		b := pending[i]
		actual := int64(b.SuccessCount) * s.cfg.CostPerMessageCents

		adjustment, err := s.budgets.Reconcile(ctx, b.ID, actual, b.SuccessCount)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			s.logger.Error("failed to reconcile budget", zap.String("broadcastId", b.ID), zap.Error(err))
			continue
		}

		fields := []zap.Field{zap.String("broadcastId", b.ID), zap.Int64("actual", actual)}
		if adjustment != nil {
			fields = append(fields, zap.Int64("adjustment", adjustment.Amount))
		}
		s.logger.Info("budget reconciled", fields...)
		reconciled++
	}

	s.metrics.AddSweeperActions("reconciled", reconciled)
	return reconciled, nil
}

// SweepFailed re-plans the transiently failed recipients of each cooled-down broadcast
// into one batch of a superseding broadcast. Each broadcast is swept at most once and
// sweep broadcasts are never swept.
func (s *Sweeper) SweepFailed(ctx context.Context) (int, error) {
	candidates, err := s.broadcasts.ListSweepable(ctx, s.now().Add(-s.cfg.Cooldown), s.cfg.Limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list sweepable broadcasts: %w", err)
	}

	swept := 0
	for i := range candidates {
		previous := candidates[i]
		log := s.logger.With(zap.String("broadcastId", previous.ID))

		ok, err := s.sweepOne(ctx, log, &previous)
		if err != nil {
			log.Error("failed to sweep broadcast", zap.Error(err))
			continue
		}
		if ok {
			swept++
		}
	}

	s.metrics.AddSweeperActions("swept", swept)
	return swept, nil
}

func (s *Sweeper) sweepOne(ctx context.Context, log *zap.Logger, previous *domain.Broadcast) (bool, error) {
	batches, err := s.batches.ListByBroadcast(ctx, previous.ID)
	if err != nil {
		return false, fmt.Errorf("failed to list batches: %w", err)
	}
	for _, b := range batches {
		if b.Status != domain.BatchStatusCompleted {
			return false, nil
		}
	}

	phones := retryablePhones(batches)
	estimated := int64(len(phones)) * s.cfg.CostPerMessageCents

	if len(phones) > 0 && previous.CampaignID != nil && estimated > 0 {
		decision, err := s.budgets.CheckBudget(ctx, *previous.CampaignID, estimated)
		if err != nil {
			return false, fmt.Errorf("failed to check budget: %w", err)
		}
		if !decision.Allowed {
			log.Info("sweep skipped by budget", zap.String("reason", decision.Reason))
			phones = nil
		}
	}

	if len(phones) == 0 {
		if err := s.broadcasts.MarkSwept(ctx, previous.ID); err != nil && !errors.Is(err, domain.ErrConflict) {
			return false, fmt.Errorf("failed to mark broadcast swept: %w", err)
		}
		return false, nil
	}

	now := s.now().UTC()
	previousID := previous.ID
	sweep := &domain.Broadcast{
		ID:             s.newID(),
		ContentID:      previous.ContentID,
		CampaignID:     previous.CampaignID,
		SupersedesID:   &previousID,
		CorrelationID:  previous.CorrelationID,
		RecipientCount: len(phones),
		Status:         domain.BroadcastStatusProcessing,
		BatchesTotal:   1,
		TemplateUsed:   previous.TemplateUsed,
		ErrorDetails:   []domain.RecipientFailure{},
		StartedAt:      &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	batch := &domain.BroadcastBatch{
		ID:                s.newID(),
		BroadcastID:       sweep.ID,
		BatchNumber:       1,
		Recipients:        phones,
		PendingRecipients: append([]string(nil), phones...),
		Status:            domain.BatchStatusPending,
		FailedRecipients:  []string{},
		ErrorDetails:      []domain.RecipientFailure{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.broadcasts.CreateSweep(ctx, previous.ID, sweep, batch); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create sweep broadcast: %w", err)
	}
	log = log.With(zap.String("sweepBroadcastId", sweep.ID))

	if sweep.CampaignID != nil && estimated > 0 {
		reservation := &domain.BudgetTransaction{
			ID:          s.newID(),
			CampaignID:  *sweep.CampaignID,
			BroadcastID: sweep.ID,
			Kind:        domain.TransactionReservation,
			Amount:      estimated,
			Messages:    len(phones),
			CreatedAt:   now,
		}
		if err := s.budgets.RecordSpend(ctx, reservation); err != nil {
			// The dispatcher closes batches of failed broadcasts without sending.
			if markErr := s.broadcasts.MarkFailed(ctx, sweep.ID); markErr != nil {
				log.Error("failed to mark sweep broadcast failed", zap.Error(markErr))
			}
			return false, fmt.Errorf("failed to reserve sweep budget: %w", err)
		}
	}

	s.metrics.IncBroadcastStarted(originSweep)
	log.Info("sweep broadcast created", zap.Int("recipientCount", len(phones)))
	s.publish(ctx, log, batch, sweep.CorrelationID)
	return true, nil
}

func (s *Sweeper) publish(ctx context.Context, log *zap.Logger, batch *domain.BroadcastBatch, correlationID string) bool {
	msg := queue.BatchMessage{
		BatchID:       batch.ID,
		BroadcastID:   batch.BroadcastID,
		CorrelationID: correlationID,
		Generation:    batch.RetryCount,
	}
	if err := s.publisher.Publish(ctx, queue.BatchQueue, msg); err != nil {
		// Still pending; the next orphan pass republishes it.
		log.Error("failed to publish batch", zap.String("batchId", batch.ID), zap.Error(err))
		return false
	}
	if err := s.batches.MarkPublished(ctx, []string{batch.ID}, s.now()); err != nil {
		log.Warn("failed to stamp batch publish time", zap.String("batchId", batch.ID), zap.Error(err))
	}
	return true
}

// retryablePhones returns the distinct transiently failed recipients of batches in
// batch and failure order.
func retryablePhones(batches []domain.BroadcastBatch) []string {
	seen := make(map[string]struct{})
	var phones []string
	for _, b := range batches {
		for _, f := range b.ErrorDetails {
			if f.Permanent || f.Phone == "" {
				continue
			}
			if _, dup := seen[f.Phone]; dup {
				continue
			}
			seen[f.Phone] = struct{}{}
			phones = append(phones, f.Phone)
		}
	}
	return phones
}
