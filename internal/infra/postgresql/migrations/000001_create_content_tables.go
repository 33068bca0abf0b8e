package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/kursadbilgin/moments-broadcast/internal/repository"
)

func createContentTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_content_tables",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(
				&repository.SponsorModel{},
				&repository.ContentModel{},
				&repository.CampaignModel{},
				&repository.SubscriberModel{},
			); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_contents_campaign_id ON contents (campaign_id) WHERE campaign_id IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_subscribers_regions ON subscribers USING GIN (regions) WHERE opted_in`,
				`CREATE INDEX IF NOT EXISTS idx_subscribers_categories ON subscribers USING GIN (categories) WHERE opted_in`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&repository.SubscriberModel{},
				&repository.CampaignModel{},
				&repository.ContentModel{},
				&repository.SponsorModel{},
			)
		},
	}
}
