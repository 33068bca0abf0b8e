package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kursadbilgin/moments-broadcast/internal/domain"
)

// ContentRepository reads moments and campaigns owned by the content store.
type ContentRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Content, error)
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	EnsureCampaignContent(ctx context.Context, campaignID string) (*domain.Content, error)
}

type GormContentRepo struct {
	db *gorm.DB
}

func NewGormContentRepo(db *gorm.DB) *GormContentRepo {
	return &GormContentRepo{db: db}
}

func (r *GormContentRepo) GetByID(ctx context.Context, id string) (*domain.Content, error) {
	var model ContentModel
	err := r.db.WithContext(ctx).Preload("Sponsor").First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrContentNotFound
	}
	if err != nil {
		return nil, err
	}
	return contentModelToDomain(&model), nil
}

func (r *GormContentRepo) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	var model CampaignModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return campaignModelToDomain(&model), nil
}

// EnsureCampaignContent returns the content item derived from a campaign, creating it on
// first publish. The campaign row lock makes concurrent publishes share one item.
func (r *GormContentRepo) EnsureCampaignContent(ctx context.Context, campaignID string) (*domain.Content, error) {
	var contentID string

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var campaign CampaignModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&campaign, "id = ?", campaignID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		if campaign.ContentID != nil {
			contentID = *campaign.ContentID
			return nil
		}

		content := ContentModel{
			ID:               uuid.NewString(),
			Title:            campaign.Title,
			Body:             campaign.Body,
			Region:           campaign.Region,
			Category:         campaign.Category,
			MediaURLs:        stringArray(campaign.MediaURLs),
			TargetRegions:    stringArray(campaign.TargetRegions),
			TargetCategories: stringArray(campaign.TargetCategories),
			AuthorityLevel:   int(domain.AuthorityPartner),
			SponsorID:        campaign.SponsorID,
			CampaignID:       &campaign.ID,
			CreatedAt:        time.Now().UTC(),
		}
		if err := tx.Omit(clause.Associations).Create(&content).Error; err != nil {
			return err
		}

		contentID = content.ID
		return tx.Model(&CampaignModel{}).
			Where("id = ?", campaign.ID).
			Updates(map[string]any{"content_id": content.ID, "updated_at": time.Now().UTC()}).Error
	})
	if err != nil {
		return nil, err
	}

	return r.GetByID(ctx, contentID)
}
