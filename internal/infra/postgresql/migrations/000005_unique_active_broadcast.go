package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// uniqueActiveBroadcast allows one fresh processing broadcast per content item.
// Sweep broadcasts carry supersedes_id and are excluded.
func uniqueActiveBroadcast() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_unique_active_broadcast",
		Migrate: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_broadcasts_active_content ON broadcasts (content_id) WHERE status = 'processing' AND supersedes_id IS NULL`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`DROP INDEX IF EXISTS idx_broadcasts_active_content`,
			})
		},
	}
}
