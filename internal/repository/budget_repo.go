package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kursadbilgin/moments-broadcast/internal/domain"
)

type BudgetRepository interface {
	CheckBudget(ctx context.Context, campaignID string, amount int64) (domain.BudgetDecision, error)
	RecordSpend(ctx context.Context, t *domain.BudgetTransaction) error
	Reconcile(ctx context.Context, broadcastID string, actual int64, messages int) (*domain.BudgetTransaction, error)
	ListTransactions(ctx context.Context, campaignID string) ([]domain.BudgetTransaction, error)
}

type GormBudgetRepo struct {
	db *gorm.DB
}

func NewGormBudgetRepo(db *gorm.DB) *GormBudgetRepo {
	return &GormBudgetRepo{db: db}
}

func (r *GormBudgetRepo) CheckBudget(ctx context.Context, campaignID string, amount int64) (domain.BudgetDecision, error) {
	var model CampaignModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", campaignID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.BudgetDecision{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.BudgetDecision{}, err
	}
	return decide(&model, amount), nil
}

// RecordSpend appends a ledger entry and moves the campaign's spent amount under a row
// lock. Positive amounts that would overrun the budget are rejected.
func (r *GormBudgetRepo) RecordSpend(ctx context.Context, t *domain.BudgetTransaction) error {
	model := transactionModelFromDomain(t)
	if model == nil {
		return fmt.Errorf("%w: transaction is required", domain.ErrValidation)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var campaign CampaignModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&campaign, "id = ?", model.CampaignID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		if d := decide(&campaign, model.Amount); !d.Allowed {
			return fmt.Errorf("%w: %s", domain.ErrBudgetExceeded, d.Reason)
		}

		if err := tx.Create(model).Error; err != nil {
			return err
		}
		return addSpend(tx, model.CampaignID, model.Amount)
	})
	if err != nil {
		return err
	}

	*t = *transactionModelToDomain(model)
	return nil
}

// Reconcile brings the ledger of a finished broadcast to actual spend with one
// adjustment entry and stamps the broadcast as reconciled. It returns a nil transaction
// when estimated and actual spend already agree.
func (r *GormBudgetRepo) Reconcile(ctx context.Context, broadcastID string, actual int64, messages int) (*domain.BudgetTransaction, error) {
	var adjustment *BudgetTransactionModel

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var broadcast BroadcastModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&broadcast, "id = ? AND reconciled_at IS NULL", broadcastID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrConflict
		}
		if err != nil {
			return err
		}
		if broadcast.CampaignID == nil {
			return fmt.Errorf("%w: broadcast %s has no campaign", domain.ErrValidation, broadcastID)
		}

		var recorded int64
		if err := tx.Model(&BudgetTransactionModel{}).
			Select("COALESCE(SUM(amount), 0)").
			Where("broadcast_id = ?", broadcastID).
			Scan(&recorded).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		if diff := actual - recorded; diff != 0 {
			adjustment = &BudgetTransactionModel{
				ID:          uuid.NewString(),
				CampaignID:  *broadcast.CampaignID,
				BroadcastID: broadcastID,
				Kind:        domain.TransactionAdjustment,
				Amount:      diff,
				Messages:    messages,
				CreatedAt:   now,
			}
			if err := tx.Create(adjustment).Error; err != nil {
				return err
			}
			if err := addSpend(tx, *broadcast.CampaignID, diff); err != nil {
				return err
			}
		}

		return tx.Model(&BroadcastModel{}).
			Where("id = ?", broadcastID).
			Updates(map[string]any{"reconciled_at": now, "updated_at": now}).Error
	})
	if err != nil {
		return nil, err
	}

	return transactionModelToDomain(adjustment), nil
}

func (r *GormBudgetRepo) ListTransactions(ctx context.Context, campaignID string) ([]domain.BudgetTransaction, error) {
	var models []BudgetTransactionModel
	err := r.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	out := make([]domain.BudgetTransaction, 0, len(models))
	for i := range models {
		out = append(out, *transactionModelToDomain(&models[i]))
	}
	return out, nil
}

func addSpend(tx *gorm.DB, campaignID string, amount int64) error {
	return tx.Model(&CampaignModel{}).
		Where("id = ?", campaignID).
		Updates(map[string]any{
			"spent_amount": gorm.Expr("spent_amount + ?", amount),
			"updated_at":   time.Now().UTC(),
		}).Error
}

func decide(c *CampaignModel, amount int64) domain.BudgetDecision {
	remaining := c.TotalBudget - c.SpentAmount
	if amount > remaining {
		return domain.BudgetDecision{
			Allowed:   false,
			Reason:    fmt.Sprintf("estimated cost %d exceeds remaining budget %d", amount, remaining),
			Remaining: remaining,
		}
	}
	return domain.BudgetDecision{Allowed: true, Remaining: remaining}
}
