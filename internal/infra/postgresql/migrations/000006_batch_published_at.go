package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func stampBatchPublishedAt() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000006_batch_published_at",
		Migrate: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`ALTER TABLE broadcast_batches ADD COLUMN IF NOT EXISTS published_at timestamptz`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`ALTER TABLE broadcast_batches DROP COLUMN IF EXISTS published_at`,
			})
		},
	}
}
