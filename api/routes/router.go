package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/ledgergate-backend/api/controllers"
	"github.com/angelmondragon/ledgergate-backend/api/middleware"
	"github.com/angelmondragon/ledgergate-backend/internal/currency"
	"github.com/angelmondragon/ledgergate-backend/internal/ledger"
	"github.com/angelmondragon/ledgergate-backend/pkg/config"
	"github.com/angelmondragon/ledgergate-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/ledgergate-backend/pkg/redis"
)

// Store backs idempotency replay and write throttling.
type Store interface {
	pkgredis.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

type RateSource interface {
	GetRate(ctx context.Context) (currency.Rate, error)
}

// RouterParams carries everything the HTTP surface needs.
type RouterParams struct {
	Config    *config.Config
	Logger    *logger.Logger
	Store     Store
	Ready     map[string]controllers.Pinger
	Metrics   http.Handler
	Ledger    ledger.Service
	Finance   controllers.Proposer
	Rates     RateSource
	Approvals controllers.ApprovalEngine
	Registry  controllers.PolicyRegistry
	Directory controllers.ApproverDirectory
	Audit     controllers.AuditReader
	Settings  controllers.SettingsStore
}

func NewRouter(p RouterParams) http.Handler {
	cfg, logg := p.Config, p.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Correlation(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.HTTP.CORSOrigins),
	)

	writePolicy := middleware.NewRateLimitPolicy(
		"writes",
		cfg.HTTP.WriteRateWindow,
		cfg.HTTP.WriteRateActorLimit,
		cfg.HTTP.WriteRateIPLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.Ready))
	})
	if p.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", p.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RateLimit(writePolicy, p.Store, logg))
		r.Use(middleware.Idempotency(p.Store, logg))

		r.Route("/ledger", func(r chi.Router) {
			r.Post("/entries", controllers.LedgerCreateEntry(p.Finance, logg))
			r.Get("/entries", controllers.LedgerListEntries(p.Ledger, logg))
			r.Route("/entries/{entryId}", func(r chi.Router) {
				r.Get("/", controllers.LedgerGetEntry(p.Ledger, logg))
				r.Patch("/", controllers.LedgerUpdateEntry(p.Ledger, logg))
				r.Delete("/", controllers.LedgerVoidEntry(p.Ledger, logg))
				r.Post("/validate", controllers.LedgerValidateEntry(p.Ledger, logg))
				r.Post("/reconcile", controllers.LedgerReconcileEntry(p.Ledger, logg))
				r.Post("/reclassify", controllers.LedgerReclassifyEntry(p.Finance, logg))
				r.Post("/reverse", controllers.LedgerReverseEntry(p.Finance, logg))
			})
			r.Get("/mutations/{mutationId}", controllers.LedgerGetMutation(p.Finance, logg))
			r.Get("/balances/{stream}", controllers.LedgerBalance(p.Ledger, logg))
			r.Get("/exchange-rate", controllers.LedgerExchangeRate(p.Rates, logg))
		})

		r.Route("/approvals", func(r chi.Router) {
			r.Post("/", controllers.ApprovalCreate(p.Approvals, logg))
			r.Get("/{requestId}", controllers.ApprovalGet(p.Approvals, logg))
			r.Post("/{requestId}/decisions", controllers.ApprovalDecide(p.Approvals, logg))
			r.Post("/{requestId}/cancel", controllers.ApprovalCancel(p.Approvals, logg))
		})

		r.Route("/audit", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, cfg.Approvals.AuditorRoles...))
			r.Get("/entities/{entityType}/{entityId}", controllers.AuditByEntity(p.Audit, logg))
			r.Get("/correlations/{correlationId}", controllers.AuditByCorrelation(p.Audit, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, cfg.Approvals.AdminRoles...))
		r.Use(middleware.Idempotency(p.Store, logg))

		r.Get("/approval-chains", controllers.AdminListChains(p.Registry, logg))
		r.Put("/approval-chains", controllers.AdminUpsertChain(p.Registry, logg))
		r.Get("/approval-guards/{operationType}", controllers.AdminGetGuard(p.Registry, logg))
		r.Put("/approval-guards/{operationType}", controllers.AdminUpsertGuard(p.Registry, logg))
		r.Put("/approvers/{userId}", controllers.AdminRegisterApprover(p.Directory, logg))
		r.Get("/settings/{category}", controllers.AdminListSettings(p.Settings, logg))
		r.Put("/settings/{category}/{key}", controllers.AdminPutSetting(p.Settings, logg))
	})

	return r
}
