package currency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ledgergate-backend/internal/settings"
	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgergate-backend/pkg/errors"
	"github.com/angelmondragon/ledgergate-backend/pkg/logger"
)

type fakeSettings struct {
	value string
	err   error
	calls int
}

func (f *fakeSettings) Get(_ context.Context, key, category string) (string, error) {
	f.calls++
	if key != settings.KeyExchangeRate || category != settings.CategoryFinance {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "setting not found")
	}
	return f.value, f.err
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestService(t *testing.T, source settings.Getter, clock *testClock) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Settings: source,
		Base:     "usd",
		Quote:    "EGP",
		CacheTTL: 30 * time.Second,
		Logger:   logger.Nop(),
		Now:      clock.Now,
	})
	require.NoError(t, err)
	return svc
}

func TestConvertBaseIsIdentity(t *testing.T) {
	source := &fakeSettings{}
	svc := newTestService(t, source, &testClock{now: time.Now()})

	conv, err := svc.Convert(context.Background(), decimal.RequireFromString("125.50"), enums.Currency("USD"))
	require.NoError(t, err)
	require.True(t, conv.Amount.Equal(decimal.RequireFromString("125.50")))
	require.True(t, conv.RateUsed.Equal(decimal.NewFromInt(1)))
	require.Zero(t, source.calls)
}

func TestConvertQuoteDividesByRate(t *testing.T) {
	source := &fakeSettings{value: "48.5"}
	svc := newTestService(t, source, &testClock{now: time.Now()})

	conv, err := svc.Convert(context.Background(), decimal.RequireFromString("970"), enums.Currency("EGP"))
	require.NoError(t, err)
	require.Equal(t, "20", conv.Amount.String())
	require.True(t, conv.RateUsed.Equal(decimal.RequireFromString("48.5")))

	conv, err = svc.Convert(context.Background(), decimal.RequireFromString("100"), enums.Currency("EGP"))
	require.NoError(t, err)
	require.Equal(t, "2.061856", conv.Amount.String())
}

func TestConvertUnknownCurrency(t *testing.T) {
	svc := newTestService(t, &fakeSettings{value: "48.5"}, &testClock{now: time.Now()})
	_, err := svc.Convert(context.Background(), decimal.NewFromInt(1), enums.Currency("EUR"))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConfigurationMissing))
}

func TestGetRateConfigurationMissing(t *testing.T) {
	cases := map[string]*fakeSettings{
		"unset":    {err: pkgerrors.New(pkgerrors.CodeNotFound, "setting not found")},
		"garbage":  {value: "forty"},
		"zero":     {value: "0"},
		"negative": {value: "-3"},
	}
	for name, source := range cases {
		t.Run(name, func(t *testing.T) {
			svc := newTestService(t, source, &testClock{now: time.Now()})
			_, err := svc.GetRate(context.Background())
			require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConfigurationMissing))
		})
	}
}

func TestGetRateDependencyFailure(t *testing.T) {
	svc := newTestService(t, &fakeSettings{err: errors.New("db down")}, &testClock{now: time.Now()})
	_, err := svc.GetRate(context.Background())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestRateCacheExpiryAndInvalidation(t *testing.T) {
	source := &fakeSettings{value: "48.5"}
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := newTestService(t, source, clock)
	ctx := context.Background()

	_, err := svc.GetRate(ctx)
	require.NoError(t, err)
	_, err = svc.GetRate(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, source.calls)

	clock.now = clock.now.Add(30 * time.Second)
	source.value = "50"
	rate, err := svc.GetRate(ctx)
	require.NoError(t, err)
	require.Equal(t, "50", rate.Value.String())
	require.Equal(t, 2, source.calls)

	source.value = "51"
	svc.OnSettingChanged(ctx, settings.KeyLowBalanceThreshold, settings.CategoryFinance)
	rate, err = svc.GetRate(ctx)
	require.NoError(t, err)
	require.Equal(t, "50", rate.Value.String())

	svc.OnSettingChanged(ctx, settings.KeyExchangeRate, settings.CategoryFinance)
	rate, err = svc.GetRate(ctx)
	require.NoError(t, err)
	require.Equal(t, "51", rate.Value.String())
}

func TestNewServiceRejectsSamePair(t *testing.T) {
	_, err := NewService(ServiceParams{Settings: &fakeSettings{}, Base: "USD", Quote: "usd", Logger: logger.Nop()})
	require.Error(t, err)
}
