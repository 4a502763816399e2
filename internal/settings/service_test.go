package settings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ledgergate-backend/internal/audit"
	"github.com/angelmondragon/ledgergate-backend/pkg/db"
	"github.com/angelmondragon/ledgergate-backend/pkg/db/dbtest"
	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgergate-backend/pkg/errors"
	"github.com/angelmondragon/ledgergate-backend/pkg/logger"
)

func newTestService(t *testing.T) (*Service, *audit.Service, *db.Client) {
	t.Helper()
	client := dbtest.Open(t)
	auditSvc, err := audit.NewService(audit.ServiceParams{
		Repository:  audit.NewRepository(client.DB()),
		Logger:      logger.Nop(),
		ChecksumKey: "settings-test",
	})
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Repository: NewRepository(client.DB()),
		DB:         client,
		Audit:      auditSvc,
		Logger:     logger.Nop(),
	})
	require.NoError(t, err)
	return svc, auditSvc, client
}

func TestGetSeededSetting(t *testing.T) {
	svc, _, _ := newTestService(t)
	value, err := svc.Get(context.Background(), KeyPreventNegativeBalance, CategoryFinance)
	require.NoError(t, err)
	require.Equal(t, "true", value)
}

func TestGetMissingSetting(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Get(context.Background(), KeyExchangeRate, CategoryFinance)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestSetUpsertsAuditsAndRunsHooks(t *testing.T) {
	svc, auditSvc, _ := newTestService(t)
	ctx := context.Background()

	var changed []string
	svc.OnChange(func(_ context.Context, key, category string) {
		changed = append(changed, category+"/"+key)
	})

	_, err := svc.Set(ctx, SetInput{Key: KeyExchangeRate, Category: CategoryFinance, Value: "48.5", ActorID: "ops-1", ActorRole: "admin"})
	require.NoError(t, err)
	_, err = svc.Set(ctx, SetInput{Key: KeyExchangeRate, Category: CategoryFinance, Value: "49.1", ActorID: "ops-1", ActorRole: "admin"})
	require.NoError(t, err)

	value, err := svc.Get(ctx, KeyExchangeRate, CategoryFinance)
	require.NoError(t, err)
	require.Equal(t, "49.1", value)
	require.Equal(t, []string{"finance/exchange_rate", "finance/exchange_rate"}, changed)

	entries, err := auditSvc.ListByEntity(ctx, "setting", "finance/exchange_rate")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, enums.AuditSettingUpdated, entries[1].Action)
	require.Equal(t, enums.RiskHigh, entries[1].RiskLevel)
	require.Contains(t, string(entries[1].BeforeState), "48.5")
}

func TestSetValidatesInput(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Set(context.Background(), SetInput{Key: "", Category: CategoryFinance, ActorID: "x"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.Set(context.Background(), SetInput{Key: "k", Category: "c"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
}

type countingGetter struct {
	value string
	calls int
}

func (g *countingGetter) Get(context.Context, string, string) (string, error) {
	g.calls++
	return g.value, nil
}

func TestCachedGetterHonoursTTLAndInvalidate(t *testing.T) {
	source := &countingGetter{value: "1"}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cache := NewCachedGetter(source, 30*time.Second, func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		value, err := cache.Get(ctx, "k", "c")
		require.NoError(t, err)
		require.Equal(t, "1", value)
	}
	require.Equal(t, 1, source.calls)

	now = now.Add(30 * time.Second)
	source.value = "2"
	value, err := cache.Get(ctx, "k", "c")
	require.NoError(t, err)
	require.Equal(t, "2", value)
	require.Equal(t, 2, source.calls)

	source.value = "3"
	cache.Invalidate(ctx, "k", "c")
	value, err = cache.Get(ctx, "k", "c")
	require.NoError(t, err)
	require.Equal(t, "3", value)
}
