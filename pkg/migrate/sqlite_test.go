package migrate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgergate-backend/pkg/db/models"
	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
)

func TestAutoMigrateSQLiteBuildsSchema(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, AutoMigrateSQLite(ctx, conn))

	var streams int64
	require.NoError(t, conn.Model(&models.LedgerStreamLock{}).Count(&streams).Error)
	require.Equal(t, int64(2), streams)

	audit := models.AuditLog{
		Action:        enums.AuditSettingUpdated,
		EntityType:    "setting",
		EntityID:      "exchange_rate/finance",
		ActorID:       "ops",
		RiskLevel:     enums.RiskLow,
		CorrelationID: "corr",
		Checksum:      "x",
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, conn.Create(&audit).Error)
	err = conn.Model(&models.AuditLog{}).Where("id = ?", audit.ID).Update("checksum", "y").Error
	require.Error(t, err)
	require.Contains(t, err.Error(), "insert-only")
}

func TestAutoMigrateSQLiteRejectsOtherDialects(t *testing.T) {
	require.Error(t, AutoMigrateSQLite(context.Background(), nil))
}
