package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ledgergate-backend/internal/audit"
	"github.com/angelmondragon/ledgergate-backend/internal/settings"
	"github.com/angelmondragon/ledgergate-backend/pkg/config"
	"github.com/angelmondragon/ledgergate-backend/pkg/db"
	"github.com/angelmondragon/ledgergate-backend/pkg/db/dbtest"
	"github.com/angelmondragon/ledgergate-backend/pkg/db/models"
	"github.com/angelmondragon/ledgergate-backend/pkg/logger"
)

func newSettingsStore(t *testing.T) (*settings.Service, *db.Client) {
	t.Helper()
	client := dbtest.Open(t)
	auditSvc, err := audit.NewService(audit.ServiceParams{
		Repository:  audit.NewRepository(client.DB()),
		Logger:      logger.Nop(),
		ChecksumKey: "app-test",
	})
	require.NoError(t, err)
	store, err := settings.NewService(settings.ServiceParams{
		Repository: settings.NewRepository(client.DB()),
		DB:         client,
		Audit:      auditSvc,
		Logger:     logger.Nop(),
	})
	require.NoError(t, err)
	return store, client
}

func setRate(t *testing.T, store *settings.Service, value string) {
	t.Helper()
	_, err := store.Set(context.Background(), settings.SetInput{
		Key:       settings.KeyExchangeRate,
		Category:  settings.CategoryFinance,
		Value:     value,
		ActorID:   "ops-1",
		ActorRole: "admin",
	})
	require.NoError(t, err)
}

func TestRateAuthorityBypassesSettingsCache(t *testing.T) {
	store, client := newSettingsStore(t)
	ctx := context.Background()
	setRate(t, store, "48.5")

	// A long settings cache must not hold the rate once the rate cache lapses.
	cached := settings.NewCachedGetter(store, time.Hour, nil)
	store.OnChange(cached.Invalidate)
	rates, err := newRateAuthority(config.LedgerConfig{BaseCurrency: "USD", QuoteCurrency: "EGP"}, store, logger.Nop())
	require.NoError(t, err)

	rate, err := rates.GetRate(ctx)
	require.NoError(t, err)
	require.Equal(t, "48.5", rate.Value.String())
	viaCache, err := cached.Get(ctx, settings.KeyExchangeRate, settings.CategoryFinance)
	require.NoError(t, err)
	require.Equal(t, "48.5", viaCache)

	// Another replica writes the row; no local hook fires.
	require.NoError(t, client.DB().Model(&models.Setting{}).
		Where("key = ? AND category = ?", settings.KeyExchangeRate, settings.CategoryFinance).
		Update("value", "50").Error)

	rate, err = rates.GetRate(ctx)
	require.NoError(t, err)
	require.Equal(t, "50", rate.Value.String())
	viaCache, err = cached.Get(ctx, settings.KeyExchangeRate, settings.CategoryFinance)
	require.NoError(t, err)
	require.Equal(t, "48.5", viaCache)
}

func TestRateAuthorityDropsCachedRateOnSettingWrite(t *testing.T) {
	store, _ := newSettingsStore(t)
	ctx := context.Background()
	setRate(t, store, "48.5")

	rates, err := newRateAuthority(config.LedgerConfig{BaseCurrency: "USD", QuoteCurrency: "EGP", RateCacheTTL: time.Hour}, store, logger.Nop())
	require.NoError(t, err)
	rate, err := rates.GetRate(ctx)
	require.NoError(t, err)
	require.Equal(t, "48.5", rate.Value.String())

	setRate(t, store, "49.1")
	rate, err = rates.GetRate(ctx)
	require.NoError(t, err)
	require.Equal(t, "49.1", rate.Value.String())
}
