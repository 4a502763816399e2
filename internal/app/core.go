// Package app assembles the finance core shared by the api and cron binaries.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ledgergate-backend/internal/alerts"
	"github.com/angelmondragon/ledgergate-backend/internal/approvals"
	"github.com/angelmondragon/ledgergate-backend/internal/audit"
	"github.com/angelmondragon/ledgergate-backend/internal/currency"
	"github.com/angelmondragon/ledgergate-backend/internal/finance"
	"github.com/angelmondragon/ledgergate-backend/internal/ledger"
	"github.com/angelmondragon/ledgergate-backend/internal/numbering"
	"github.com/angelmondragon/ledgergate-backend/internal/settings"
	"github.com/angelmondragon/ledgergate-backend/pkg/config"
	"github.com/angelmondragon/ledgergate-backend/pkg/db"
	"github.com/angelmondragon/ledgergate-backend/pkg/logger"
	"github.com/angelmondragon/ledgergate-backend/pkg/metrics"
	"github.com/angelmondragon/ledgergate-backend/pkg/outbox"
	"github.com/angelmondragon/ledgergate-backend/pkg/redis"
)

// Core holds the wired domain services.
type Core struct {
	Settings  *settings.Service
	Currency  *currency.Service
	Audit     *audit.Service
	Alerts    alerts.Sender
	Ledger    ledger.Service
	Registry  *approvals.Registry
	Directory *approvals.Directory
	Engine    *approvals.Engine
	Finance   *finance.Service
	Outbox    *outbox.Service
	Metrics   *metrics.FinanceMetrics
}

type CoreParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *db.Client
	Redis    *redis.Client
	Registry prometheus.Registerer
}

// NewCore wires every finance service in dependency order. Settings writes
// invalidate the settings cache and the exchange-rate cache.
func NewCore(_ context.Context, p CoreParams) (*Core, error) {
	if p.Config == nil || p.Logger == nil || p.DB == nil || p.Redis == nil {
		return nil, fmt.Errorf("config, logger, db and redis required")
	}
	cfg, logg, conn := p.Config, p.Logger, p.DB.DB()

	financeMetrics := metrics.NewFinanceMetrics(p.Registry)
	events := outbox.NewService(outbox.NewRepository(conn), logg)

	alertSender, err := alerts.NewService(alerts.ServiceParams{
		DB:      p.DB,
		Outbox:  events,
		Logger:  logg,
		Enabled: cfg.FeatureFlags.PublishAlerts,
	})
	if err != nil {
		return nil, fmt.Errorf("alerts: %w", err)
	}

	auditSvc, err := audit.NewService(audit.ServiceParams{
		Repository:  audit.NewRepository(conn),
		Logger:      logg,
		ChecksumKey: cfg.Audit.ChecksumKey,
		Alerts:      alertSender,
		Metrics:     financeMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}

	settingsSvc, err := settings.NewService(settings.ServiceParams{
		Repository: settings.NewRepository(conn),
		DB:         p.DB,
		Audit:      auditSvc,
		Logger:     logg,
	})
	if err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	cachedSettings := settings.NewCachedGetter(settingsSvc, cfg.Ledger.SettingsCacheTTL, nil)
	settingsSvc.OnChange(cachedSettings.Invalidate)

	rates, err := newRateAuthority(cfg.Ledger, settingsSvc, logg)
	if err != nil {
		return nil, fmt.Errorf("currency: %w", err)
	}

	numberer, err := numbering.NewService(p.Redis)
	if err != nil {
		return nil, fmt.Errorf("numbering: %w", err)
	}

	threshold, err := decimal.NewFromString(strings.TrimSpace(cfg.Ledger.LowBalanceThreshold))
	if err != nil {
		return nil, fmt.Errorf("low balance threshold: %w", err)
	}
	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		Repository:             ledger.NewRepository(conn),
		DB:                     p.DB,
		Currency:               rates,
		Settings:               cachedSettings,
		Audit:                  auditSvc,
		Alerts:                 alertSender,
		Outbox:                 events,
		Numberer:               numberer,
		Metrics:                financeMetrics,
		Logger:                 logg,
		PreventNegativeBalance: cfg.Ledger.PreventNegativeBalance,
		LowBalanceThreshold:    threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	approvalsRepo := approvals.NewRepository(conn)
	registry, err := approvals.NewRegistry(approvals.RegistryParams{
		Repository: approvalsRepo,
		DB:         p.DB,
		Audit:      auditSvc,
		Logger:     logg,
	})
	if err != nil {
		return nil, fmt.Errorf("approval registry: %w", err)
	}
	directory, err := approvals.NewDirectory(approvalsRepo, logg)
	if err != nil {
		return nil, fmt.Errorf("approver directory: %w", err)
	}
	engine, err := approvals.NewEngine(approvals.EngineParams{
		Repository:     approvalsRepo,
		Registry:       registry,
		DB:             p.DB,
		Audit:          auditSvc,
		Alerts:         alertSender,
		Outbox:         events,
		Numberer:       numberer,
		Metrics:        financeMetrics,
		Logger:         logg,
		AdminRoles:     cfg.Approvals.AdminRoles,
		SweepBatchSize: cfg.Approvals.SweepBatch,
	})
	if err != nil {
		return nil, fmt.Errorf("approval engine: %w", err)
	}

	financeSvc, err := finance.NewService(finance.ServiceParams{
		Repository: finance.NewRepository(conn),
		DB:         p.DB,
		Ledger:     ledgerSvc,
		Approvals:  engine,
		Currency:   rates,
		Audit:      auditSvc,
		Alerts:     alertSender,
		Logger:     logg,
	})
	if err != nil {
		return nil, fmt.Errorf("finance: %w", err)
	}

	return &Core{
		Settings:  settingsSvc,
		Currency:  rates,
		Audit:     auditSvc,
		Alerts:    alertSender,
		Ledger:    ledgerSvc,
		Registry:  registry,
		Directory: directory,
		Engine:    engine,
		Finance:   financeSvc,
		Outbox:    events,
		Metrics:   financeMetrics,
	}, nil
}

// newRateAuthority reads the rate from the settings store itself, so the rate
// cache TTL is the only staleness bound on conversions.
func newRateAuthority(cfg config.LedgerConfig, store *settings.Service, logg *logger.Logger) (*currency.Service, error) {
	rates, err := currency.NewService(currency.ServiceParams{
		Settings: store,
		Base:     cfg.BaseCurrency,
		Quote:    cfg.QuoteCurrency,
		CacheTTL: cfg.RateCacheTTL,
		Logger:   logg,
	})
	if err != nil {
		return nil, err
	}
	store.OnChange(rates.OnSettingChanged)
	return rates, nil
}
