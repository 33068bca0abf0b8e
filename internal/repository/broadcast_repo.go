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

type BroadcastRepository interface {
	Create(ctx context.Context, b *domain.Broadcast) error
	GetByID(ctx context.Context, id string) (*domain.Broadcast, error)
	GetActiveByContent(ctx context.Context, contentID string) (*domain.Broadcast, error)
	MarkFailed(ctx context.Context, id string) error
	ListSweepable(ctx context.Context, completedBefore time.Time, limit int) ([]domain.Broadcast, error)
	CreateSweep(ctx context.Context, previousID string, sweep *domain.Broadcast, batch *domain.BroadcastBatch) error
	MarkSwept(ctx context.Context, id string) error
	ListUnreconciled(ctx context.Context, limit int) ([]domain.Broadcast, error)
}

type GormBroadcastRepo struct {
	db *gorm.DB
}

func NewGormBroadcastRepo(db *gorm.DB) *GormBroadcastRepo {
	return &GormBroadcastRepo{db: db}
}

// Create inserts a broadcast. A second fresh processing broadcast for the same
// content violates idx_broadcasts_active_content and is reported as ErrConflict.
func (r *GormBroadcastRepo) Create(ctx context.Context, b *domain.Broadcast) error {
	model := broadcastModelFromDomain(b)
	err := r.db.WithContext(ctx).Create(model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrConflict
	}
	if err != nil {
		return err
	}
	if b != nil {
		*b = *broadcastModelToDomain(model)
	}
	return nil
}

func (r *GormBroadcastRepo) GetByID(ctx context.Context, id string) (*domain.Broadcast, error) {
	var model BroadcastModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return broadcastModelToDomain(&model), nil
}

// GetActiveByContent returns the newest processing broadcast of a content item.
func (r *GormBroadcastRepo) GetActiveByContent(ctx context.Context, contentID string) (*domain.Broadcast, error) {
	var model BroadcastModel
	err := r.db.WithContext(ctx).
		Where("content_id = ? AND status = ?", contentID, domain.BroadcastStatusProcessing).
		Order("created_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return broadcastModelToDomain(&model), nil
}

func (r *GormBroadcastRepo) MarkFailed(ctx context.Context, id string) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&BroadcastModel{}).
		Where("id = ? AND status = ?", id, domain.BroadcastStatusProcessing).
		Updates(map[string]any{
			"status":       domain.BroadcastStatusFailed,
			"completed_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// ListSweepable returns completed, unswept first-generation broadcasts with failures.
func (r *GormBroadcastRepo) ListSweepable(ctx context.Context, completedBefore time.Time, limit int) ([]domain.Broadcast, error) {
	var models []BroadcastModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND failure_count > 0 AND swept_at IS NULL AND supersedes_id IS NULL AND completed_at <= ?",
			domain.BroadcastStatusCompleted, completedBefore).
		Order("completed_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return broadcastsToDomain(models), nil
}

// CreateSweep stamps previous as swept and creates the superseding broadcast with its
// single batch. It returns ErrConflict when previous was already swept.
func (r *GormBroadcastRepo) CreateSweep(ctx context.Context, previousID string, sweep *domain.Broadcast, batch *domain.BroadcastBatch) error {
	sweepModel := broadcastModelFromDomain(sweep)
	batchModel := batchModelFromDomain(batch)
	if sweepModel == nil || batchModel == nil {
		return fmt.Errorf("%w: sweep broadcast and batch are required", domain.ErrValidation)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		result := tx.Model(&BroadcastModel{}).
			Where("id = ? AND swept_at IS NULL", previousID).
			Updates(map[string]any{"swept_at": now, "updated_at": now})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrConflict
		}

		if err := tx.Create(sweepModel).Error; err != nil {
			return err
		}
		return tx.Create(batchModel).Error
	})
	if err != nil {
		return err
	}

	*sweep = *broadcastModelToDomain(sweepModel)
	*batch = *batchModelToDomain(batchModel)
	return nil
}

// MarkSwept stamps a broadcast that has nothing left to re-dispatch.
func (r *GormBroadcastRepo) MarkSwept(ctx context.Context, id string) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&BroadcastModel{}).
		Where("id = ? AND swept_at IS NULL", id).
		Updates(map[string]any{"swept_at": now, "updated_at": now})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// ListUnreconciled returns finished campaign broadcasts whose spend is not yet reconciled.
func (r *GormBroadcastRepo) ListUnreconciled(ctx context.Context, limit int) ([]domain.Broadcast, error) {
	var models []BroadcastModel
	err := r.db.WithContext(ctx).
		Where("campaign_id IS NOT NULL AND reconciled_at IS NULL AND status IN ?",
			[]domain.BroadcastStatus{domain.BroadcastStatusCompleted, domain.BroadcastStatusFailed}).
		Order("completed_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return broadcastsToDomain(models), nil
}

const applyBatchResultSQL = `
UPDATE broadcasts SET
	success_count = success_count + @success,
	failure_count = failure_count + @failure,
	batches_completed = LEAST(batches_completed + 1, batches_total),
	progress_percentage = CASE WHEN batches_total > 0
		THEN LEAST(100, (batches_completed + 1) * 100.0 / batches_total) ELSE 0 END,
	status = CASE WHEN status = 'processing' AND batches_completed + 1 >= batches_total
		THEN 'completed' ELSE status END,
	completed_at = CASE WHEN status = 'processing' AND batches_completed + 1 >= batches_total
		THEN @now ELSE completed_at END,
	error_details = error_details || CAST(@details AS jsonb),
	updated_at = @now
WHERE id = @id
RETURNING *`

// applyBatchResult adds a completed batch's totals to its broadcast in one statement,
// so concurrent completions increment rather than overwrite.
func applyBatchResult(tx *gorm.DB, batch *BroadcastBatchModel, now time.Time) (*BroadcastModel, error) {
	details, err := json.Marshal(failures(batch.ErrorDetails))
	if err != nil {
		return nil, fmt.Errorf("failed to encode error details: %w", err)
	}

	var model BroadcastModel
	result := tx.Raw(applyBatchResultSQL, map[string]any{
		"id":      batch.BroadcastID,
		"success": batch.SuccessCount,
		"failure": batch.FailureCount,
		"details": string(details),
		"now":     now,
	}).Scan(&model)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, domain.ErrNotFound
	}
	return &model, nil
}

func broadcastsToDomain(models []BroadcastModel) []domain.Broadcast {
	out := make([]domain.Broadcast, 0, len(models))
	for i := range models {
		out = append(out, *broadcastModelToDomain(&models[i]))
	}
	return out
}
