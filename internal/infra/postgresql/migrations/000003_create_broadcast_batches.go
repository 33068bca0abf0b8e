package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/kursadbilgin/moments-broadcast/internal/repository"
)

func createBroadcastBatchesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_broadcast_batches",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.BroadcastBatchModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`ALTER TABLE broadcast_batches ALTER COLUMN error_details SET DEFAULT '[]'::jsonb`,
				`ALTER TABLE broadcast_batches ADD CONSTRAINT chk_broadcast_batches_retry CHECK (retry_count BETWEEN 0 AND 2)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_broadcast_batches_number ON broadcast_batches (broadcast_id, batch_number)`,
				`CREATE INDEX IF NOT EXISTS idx_broadcast_batches_stale ON broadcast_batches (status, updated_at) WHERE status <> 'completed'`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.BroadcastBatchModel{})
		},
	}
}
