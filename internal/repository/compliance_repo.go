package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/kursadbilgin/moments-broadcast/internal/domain"
)

type ComplianceRepository interface {
	Create(ctx context.Context, rec *domain.ComplianceRecord) error
	GetByBroadcast(ctx context.Context, broadcastID string) (*domain.ComplianceRecord, error)
}

type GormComplianceRepo struct {
	db *gorm.DB
}

func NewGormComplianceRepo(db *gorm.DB) *GormComplianceRepo {
	return &GormComplianceRepo{db: db}
}

// Create inserts the write-once audit row; a second record for a broadcast is a conflict.
func (r *GormComplianceRepo) Create(ctx context.Context, rec *domain.ComplianceRecord) error {
	model := complianceModelFromDomain(rec)
	err := r.db.WithContext(ctx).Create(model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrConflict
	}
	if err != nil {
		return err
	}
	if rec != nil {
		*rec = *complianceModelToDomain(model)
	}
	return nil
}

func (r *GormComplianceRepo) GetByBroadcast(ctx context.Context, broadcastID string) (*domain.ComplianceRecord, error) {
	var model ComplianceRecordModel
	err := r.db.WithContext(ctx).First(&model, "broadcast_id = ?", broadcastID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return complianceModelToDomain(&model), nil
}
