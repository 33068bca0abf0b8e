package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kursadbilgin/moments-broadcast/internal/domain"
	"github.com/kursadbilgin/moments-broadcast/internal/repository"
)

// Planner splits a broadcast's recipients into persisted batches.
type Planner struct {
	batches repository.BatchRepository
	now     func() time.Time
	newID   func() string
}

func NewPlanner(batches repository.BatchRepository) (*Planner, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	return &Planner{
		batches: batches,
		now:     time.Now,
		newID:   uuid.NewString,
	}, nil
}

// Partition splits phones into contiguous slices of size, the last one possibly shorter.
// The same input always yields the same slices.
func Partition(phones []string, size int) [][]string {
	if size < 1 {
		size = domain.DefaultBatchSize
	}

	parts := make([][]string, 0, (len(phones)+size-1)/size)
	for start := 0; start < len(phones); start += size {
		end := min(start+size, len(phones))
		part := make([]string, end-start)
		copy(part, phones[start:end])
		parts = append(parts, part)
	}
	return parts
}

// Plan persists one pending batch per partition, numbered from 1, and sets the
// broadcast's batches_total. It returns the batch ids in batch number order.
func (p *Planner) Plan(ctx context.Context, broadcastID string, phones []string, size int) ([]string, error) {
	if broadcastID == "" {
		return nil, fmt.Errorf("%w: broadcast id is required", domain.ErrValidation)
	}

	parts := Partition(phones, size)
	now := p.now().UTC()

	batches := make([]*domain.BroadcastBatch, 0, len(parts))
	for i, part := range parts {
		batches = append(batches, &domain.BroadcastBatch{
			ID:                p.newID(),
			BroadcastID:       broadcastID,
			BatchNumber:       i + 1,
			Recipients:        part,
			PendingRecipients: append([]string(nil), part...),
			Status:            domain.BatchStatusPending,
			FailedRecipients:  []string{},
			ErrorDetails:      []domain.RecipientFailure{},
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}

	if err := p.batches.CreatePlan(ctx, broadcastID, batches); err != nil {
		return nil, fmt.Errorf("failed to persist batch plan: %w", err)
	}

	ids := make([]string, 0, len(batches))
	for _, b := range batches {
		ids = append(ids, b.ID)
	}
	return ids, nil
}

// MarkPublished records that tasks for ids were handed to the queue at at.
func (p *Planner) MarkPublished(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if err := p.batches.MarkPublished(ctx, ids, at); err != nil {
		return fmt.Errorf("failed to mark batches published: %w", err)
	}
	return nil
}
