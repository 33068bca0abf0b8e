package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kursadbilgin/moments-broadcast/internal/domain"
	"github.com/kursadbilgin/moments-broadcast/internal/observability"
	"github.com/kursadbilgin/moments-broadcast/internal/queue"
)

const (
	minWorkerConcurrency = 1
	defaultStaggerPerSec = 5
)

// BatchDispatcher dispatches one batch.
type BatchDispatcher interface {
	Dispatch(ctx context.Context, batchID string) (BatchOutcome, error)
}

// WorkerService consumes batch tasks and runs them through the dispatcher. Batch starts
// are staggered across all workers of the process.
type WorkerService struct {
	dispatcher  BatchDispatcher
	consumer    queue.Consumer
	publisher   queue.Publisher
	stagger     *rate.Limiter
	logger      *zap.Logger
	concurrency int
}

func NewWorkerService(
	dispatcher BatchDispatcher,
	consumer queue.Consumer,
	publisher queue.Publisher,
	concurrency int,
	staggerPerSec int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if staggerPerSec <= 0 {
		staggerPerSec = defaultStaggerPerSec
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		dispatcher:  dispatcher,
		consumer:    consumer,
		publisher:   publisher,
		stagger:     rate.NewLimiter(rate.Limit(staggerPerSec), 1),
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

// Start consumes the batch queue with the configured number of workers until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.BatchQueue),
			)

			err := s.consumer.Consume(groupCtx, queue.BatchQueue, s.processMessage)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (s *WorkerService) processMessage(ctx context.Context, msg queue.BatchMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}
	log := observability.BatchLogger(s.logger, ctx, msg.BroadcastID, msg.BatchID)

	if err := s.stagger.Wait(ctx); err != nil {
		return fmt.Errorf("batch stagger wait failed: %w", err)
	}

	outcome, err := s.dispatcher.Dispatch(ctx, msg.BatchID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn("batch not found, dead-lettering task")
		return fmt.Errorf("batch %s: %w", msg.BatchID, queue.ErrDiscard)
	}
	if err != nil {
		return fmt.Errorf("failed to dispatch batch: %w", err)
	}

	if outcome.Skipped {
		log.Debug("batch not pending, skipping task")
		return nil
	}

	if outcome.Requeued && outcome.Batch != nil {
		next := queue.BatchMessage{
			BatchID:       outcome.Batch.ID,
			BroadcastID:   outcome.Batch.BroadcastID,
			CorrelationID: msg.CorrelationID,
			Generation:    outcome.Batch.RetryCount,
		}
		if err := s.publisher.Publish(ctx, queue.BatchQueue, next); err != nil {
			// The batch is pending; the sweeper's orphan pass republishes it.
			log.Error("failed to publish retry generation", zap.Error(err))
		}
	}

	return nil
}
