package migrate

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/ledgergate-backend/pkg/db/models"
	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
)

// sqliteStatements mirrors the constraints the goose migrations declare that
// gorm tags cannot express.
var sqliteStatements = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_approval_requests_active_entity
		ON approval_requests (entity_type, entity_id)
		WHERE status IN ('pending', 'escalated')`,
	`CREATE TRIGGER IF NOT EXISTS trg_audit_logs_no_update
		BEFORE UPDATE ON audit_logs
		BEGIN SELECT RAISE(ABORT, 'audit_logs is insert-only'); END`,
	`CREATE TRIGGER IF NOT EXISTS trg_audit_logs_no_delete
		BEFORE DELETE ON audit_logs
		BEGIN SELECT RAISE(ABORT, 'audit_logs is insert-only'); END`,
}

// AutoMigrateSQLite builds the schema on sqlite, which cannot run the Postgres
// goose files (text[], plpgsql). Used for local runs and package tests.
func AutoMigrateSQLite(ctx context.Context, conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db is required")
	}
	if name := conn.Dialector.Name(); name != "sqlite" {
		return fmt.Errorf("AutoMigrateSQLite requires sqlite, got %s", name)
	}
	db := conn.WithContext(ctx)
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	for _, stmt := range sqliteStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	streams := []models.LedgerStreamLock{
		{Stream: enums.LedgerStreamCapital},
		{Stream: enums.LedgerStreamRevenue},
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&streams).Error; err != nil {
		return fmt.Errorf("seed ledger streams: %w", err)
	}
	setting := models.Setting{Key: "prevent_negative_balance", Category: "finance", Value: "true"}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&setting).Error; err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}
	return nil
}
