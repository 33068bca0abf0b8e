package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/kursadbilgin/moments-broadcast/internal/repository"
)

func createLedgerTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_ledger_tables",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(
				&repository.ComplianceRecordModel{},
				&repository.BudgetTransactionModel{},
			); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_compliance_records_broadcast_id ON compliance_records (broadcast_id)`,
				`CREATE INDEX IF NOT EXISTS idx_budget_transactions_campaign_id ON budget_transactions (campaign_id, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_budget_transactions_broadcast_id ON budget_transactions (broadcast_id)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&repository.BudgetTransactionModel{},
				&repository.ComplianceRecordModel{},
			)
		},
	}
}
