package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/kursadbilgin/moments-broadcast/internal/domain"
)

type BatchRepository interface {
	CreatePlan(ctx context.Context, broadcastID string, batches []*domain.BroadcastBatch) error
	GetByID(ctx context.Context, id string) (*domain.BroadcastBatch, error)
	ListByBroadcast(ctx context.Context, broadcastID string) ([]domain.BroadcastBatch, error)
	Claim(ctx context.Context, id string) (*domain.BroadcastBatch, error)
	Requeue(ctx context.Context, id string, result domain.GenerationResult, pending []string) (*domain.BroadcastBatch, error)
	Checkpoint(ctx context.Context, id string, result domain.GenerationResult, pending []string) (*domain.BroadcastBatch, error)
	Complete(ctx context.Context, id string, result domain.GenerationResult) (*domain.BroadcastBatch, *domain.Broadcast, error)
	ListStale(ctx context.Context, status domain.BatchStatus, before time.Time, limit int) ([]domain.BroadcastBatch, error)
	ResetStale(ctx context.Context, id string, before time.Time) (*domain.BroadcastBatch, error)
	ListOrphaned(ctx context.Context, before time.Time, limit int) ([]domain.BroadcastBatch, error)
	MarkPublished(ctx context.Context, ids []string, at time.Time) error
}

type GormBatchRepo struct {
	db *gorm.DB
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db}
}

// CreatePlan inserts the batches and sets the parent's batches_total in one transaction.
func (r *GormBatchRepo) CreatePlan(ctx context.Context, broadcastID string, batches []*domain.BroadcastBatch) error {
	models := make([]BroadcastBatchModel, 0, len(batches))
	for _, b := range batches {
		if model := batchModelFromDomain(b); model != nil {
			models = append(models, *model)
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(models) > 0 {
			if err := tx.CreateInBatches(&models, 100).Error; err != nil {
				return err
			}
		}

		result := tx.Model(&BroadcastModel{}).
			Where("id = ?", broadcastID).
			Updates(map[string]any{
				"batches_total": len(models),
				"updated_at":    time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i := range models {
		if i < len(batches) && batches[i] != nil {
			*batches[i] = *batchModelToDomain(&models[i])
		}
	}
	return nil
}

func (r *GormBatchRepo) GetByID(ctx context.Context, id string) (*domain.BroadcastBatch, error) {
	var model BroadcastBatchModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchModelToDomain(&model), nil
}

func (r *GormBatchRepo) ListByBroadcast(ctx context.Context, broadcastID string) ([]domain.BroadcastBatch, error) {
	var models []BroadcastBatchModel
	err := r.db.WithContext(ctx).
		Where("broadcast_id = ?", broadcastID).
		Order("batch_number ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return batchesToDomain(models), nil
}

const claimBatchSQL = `
UPDATE broadcast_batches SET
	status = 'processing',
	started_at = COALESCE(started_at, @now),
	updated_at = @now
WHERE id = @id AND status = 'pending'
RETURNING *`

// Claim moves a pending batch to processing. It returns nil without error when the
// batch exists but is owned by another invocation or already completed.
func (r *GormBatchRepo) Claim(ctx context.Context, id string) (*domain.BroadcastBatch, error) {
	var model BroadcastBatchModel
	result := r.db.WithContext(ctx).Raw(claimBatchSQL, map[string]any{
		"id":  id,
		"now": time.Now().UTC(),
	}).Scan(&model)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected > 0 {
		return batchModelToDomain(&model), nil
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, nil
}

const requeueBatchSQL = `
UPDATE broadcast_batches SET
	status = 'pending',
	retry_count = retry_count + 1,
	pending_recipients = CAST(@pending AS text[]),
	success_count = success_count + @succeeded,
	failure_count = failure_count + @failed,
	failed_recipients = failed_recipients || CAST(@failedPhones AS text[]),
	error_details = error_details || CAST(@details AS jsonb),
	updated_at = @now
WHERE id = @id AND status = 'processing' AND retry_count < @maxRetries
RETURNING *`

// Requeue records a generation's successes and permanent failures and puts the batch
// back to pending with pending as the next generation's work list.
func (r *GormBatchRepo) Requeue(ctx context.Context, id string, result domain.GenerationResult, pending []string) (*domain.BroadcastBatch, error) {
	return r.release(ctx, requeueBatchSQL, id, result, pending)
}

const checkpointBatchSQL = `
UPDATE broadcast_batches SET
	status = 'pending',
	pending_recipients = CAST(@pending AS text[]),
	success_count = success_count + @succeeded,
	failure_count = failure_count + @failed,
	failed_recipients = failed_recipients || CAST(@failedPhones AS text[]),
	error_details = error_details || CAST(@details AS jsonb),
	updated_at = @now
WHERE id = @id AND status = 'processing'
RETURNING *`

// Checkpoint saves the progress of an interrupted generation. The batch returns to
// pending with pending as its remaining work and keeps its retry count.
func (r *GormBatchRepo) Checkpoint(ctx context.Context, id string, result domain.GenerationResult, pending []string) (*domain.BroadcastBatch, error) {
	return r.release(ctx, checkpointBatchSQL, id, result, pending)
}

func (r *GormBatchRepo) release(ctx context.Context, sql, id string, result domain.GenerationResult, pending []string) (*domain.BroadcastBatch, error) {
	details, err := json.Marshal(failures(result.Permanent))
	if err != nil {
		return nil, fmt.Errorf("failed to encode error details: %w", err)
	}

	var model BroadcastBatchModel
	res := r.db.WithContext(ctx).Raw(sql, map[string]any{
		"id":           id,
		"pending":      stringArray(pending),
		"succeeded":    result.Succeeded,
		"failed":       len(result.Permanent),
		"failedPhones": stringArray(phones(result.Permanent)),
		"details":      string(details),
		"maxRetries":   domain.MaxBatchRetries,
		"now":          time.Now().UTC(),
	}).Scan(&model)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, domain.ErrConflict
	}
	return batchModelToDomain(&model), nil
}

const completeBatchSQL = `
UPDATE broadcast_batches SET
	status = 'completed',
	completed_at = @now,
	pending_recipients = '{}',
	success_count = success_count + @succeeded,
	failure_count = failure_count + @failed,
	failed_recipients = failed_recipients || CAST(@failedPhones AS text[]),
	error_details = error_details || CAST(@details AS jsonb),
	updated_at = @now
WHERE id = @id AND status = 'processing'
RETURNING *`

// Complete makes the batch terminal and folds its totals into the parent broadcast
// in the same transaction.
func (r *GormBatchRepo) Complete(ctx context.Context, id string, result domain.GenerationResult) (*domain.BroadcastBatch, *domain.Broadcast, error) {
	terminal := make([]domain.RecipientFailure, 0, result.Failed())
	terminal = append(terminal, result.Permanent...)
	terminal = append(terminal, result.Transient...)

	details, err := json.Marshal(terminal)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode error details: %w", err)
	}

	var (
		batchModel     BroadcastBatchModel
		broadcastModel *BroadcastModel
	)
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Raw(completeBatchSQL, map[string]any{
			"id":           id,
			"succeeded":    result.Succeeded,
			"failed":       len(terminal),
			"failedPhones": stringArray(phones(terminal)),
			"details":      string(details),
			"now":          now,
		}).Scan(&batchModel)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrConflict
		}

		var err error
		broadcastModel, err = applyBatchResult(tx, &batchModel, now)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return batchModelToDomain(&batchModel), broadcastModelToDomain(broadcastModel), nil
}

// ListStale returns batches that have been in status since before the cutoff.
func (r *GormBatchRepo) ListStale(ctx context.Context, status domain.BatchStatus, before time.Time, limit int) ([]domain.BroadcastBatch, error) {
	var models []BroadcastBatchModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return batchesToDomain(models), nil
}

const resetStaleSQL = `
UPDATE broadcast_batches SET
	status = 'pending',
	retry_count = retry_count + 1,
	updated_at = @now
WHERE id = @id AND status = 'processing' AND updated_at < @before AND retry_count < @maxRetries
RETURNING *`

// ResetStale returns a dead batch to pending for one more attempt. It returns nil when
// the batch was completed or touched after the cutoff in the meantime.
func (r *GormBatchRepo) ResetStale(ctx context.Context, id string, before time.Time) (*domain.BroadcastBatch, error) {
	var model BroadcastBatchModel
	res := r.db.WithContext(ctx).Raw(resetStaleSQL, map[string]any{
		"id":         id,
		"before":     before,
		"maxRetries": domain.MaxBatchRetries,
		"now":        time.Now().UTC(),
	}).Scan(&model)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return batchModelToDomain(&model), nil
}

// ListOrphaned returns pending batches whose last state change and last publish are
// both older than the cutoff.
func (r *GormBatchRepo) ListOrphaned(ctx context.Context, before time.Time, limit int) ([]domain.BroadcastBatch, error) {
	var models []BroadcastBatchModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND GREATEST(updated_at, published_at) < ?", domain.BatchStatusPending, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return batchesToDomain(models), nil
}

// MarkPublished stamps published_at without touching updated_at.
func (r *GormBatchRepo) MarkPublished(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&BroadcastBatchModel{}).
		Where("id IN ?", ids).
		UpdateColumn("published_at", at.UTC()).Error
}

func batchesToDomain(models []BroadcastBatchModel) []domain.BroadcastBatch {
	out := make([]domain.BroadcastBatch, 0, len(models))
	for i := range models {
		out = append(out, *batchModelToDomain(&models[i]))
	}
	return out
}

func phones(fs []domain.RecipientFailure) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.Phone)
	}
	return out
}
