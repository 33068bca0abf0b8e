package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/kursadbilgin/moments-broadcast/internal/repository"
)

func createBroadcastsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_broadcasts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.BroadcastModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`ALTER TABLE broadcasts ALTER COLUMN error_details SET DEFAULT '[]'::jsonb`,
				`ALTER TABLE broadcasts ADD CONSTRAINT chk_broadcasts_counts CHECK (success_count + failure_count <= recipient_count AND batches_completed <= batches_total)`,
				`CREATE INDEX IF NOT EXISTS idx_broadcasts_content_status ON broadcasts (content_id, status)`,
				`CREATE INDEX IF NOT EXISTS idx_broadcasts_sweepable ON broadcasts (completed_at) WHERE status = 'completed' AND failure_count > 0 AND swept_at IS NULL AND supersedes_id IS NULL`,
				`CREATE INDEX IF NOT EXISTS idx_broadcasts_unreconciled ON broadcasts (completed_at) WHERE campaign_id IS NOT NULL AND reconciled_at IS NULL`,
				`CREATE INDEX IF NOT EXISTS idx_broadcasts_correlation_id ON broadcasts (correlation_id)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.BroadcastModel{})
		},
	}
}
