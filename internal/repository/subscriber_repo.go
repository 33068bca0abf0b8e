package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/kursadbilgin/moments-broadcast/internal/domain"
)

const subscriberPageSize = 1000

// SubscriberRepository reads the subscriber store. Region and category tags are stored lowercase.
type SubscriberRepository interface {
	FindOptedIn(ctx context.Context, targeting domain.Targeting) ([]domain.Recipient, error)
	GetLastInboundAt(ctx context.Context, phone string) (*time.Time, error)
	RecordInbound(ctx context.Context, phone string, at time.Time) error
}

type GormSubscriberRepo struct {
	db *gorm.DB
}

func NewGormSubscriberRepo(db *gorm.DB) *GormSubscriberRepo {
	return &GormSubscriberRepo{db: db}
}

// FindOptedIn returns opted-in subscribers whose tags overlap every non-empty targeting
// dimension, ordered by phone.
func (r *GormSubscriberRepo) FindOptedIn(ctx context.Context, targeting domain.Targeting) ([]domain.Recipient, error) {
	t := targeting.Normalize()

	query := r.db.WithContext(ctx).
		Model(&SubscriberModel{}).
		Where("opted_in = ?", true)
	if len(t.Regions) > 0 {
		query = query.Where("regions && ?", stringArray(t.Regions))
	}
	if len(t.Categories) > 0 {
		query = query.Where("categories && ?", stringArray(t.Categories))
	}

	var (
		page       []SubscriberModel
		recipients []domain.Recipient
	)
	err := query.FindInBatches(&page, subscriberPageSize, func(_ *gorm.DB, _ int) error {
		for i := range page {
			recipients = append(recipients, subscriberModelToDomain(&page[i]))
		}
		return nil
	}).Error
	if err != nil {
		return nil, err
	}
	return recipients, nil
}

func (r *GormSubscriberRepo) GetLastInboundAt(ctx context.Context, phone string) (*time.Time, error) {
	var model SubscriberModel
	err := r.db.WithContext(ctx).
		Select("phone", "last_activity").
		First(&model, "phone = ?", phone).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return model.LastActivity, nil
}

// RecordInbound advances last_activity; unknown phones are ignored.
func (r *GormSubscriberRepo) RecordInbound(ctx context.Context, phone string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&SubscriberModel{}).
		Where("phone = ?", phone).
		Updates(map[string]any{
			"last_activity": gorm.Expr("GREATEST(COALESCE(last_activity, ?), ?)", at, at),
			"updated_at":    time.Now().UTC(),
		}).Error
}
