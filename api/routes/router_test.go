package routes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ledgergate-backend/api/controllers"
	"github.com/angelmondragon/ledgergate-backend/internal/approvals"
	"github.com/angelmondragon/ledgergate-backend/internal/finance"
	"github.com/angelmondragon/ledgergate-backend/internal/settings"
	pkgAuth "github.com/angelmondragon/ledgergate-backend/pkg/auth"
	"github.com/angelmondragon/ledgergate-backend/pkg/config"
	"github.com/angelmondragon/ledgergate-backend/pkg/db/models"
	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
	"github.com/angelmondragon/ledgergate-backend/pkg/logger"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubFinance struct{}

func (stubFinance) ProposeEntry(_ context.Context, input finance.ProposeInput) (*finance.ProposeOutcome, error) {
	return &finance.ProposeOutcome{
		Outcome:  approvals.OutcomePending,
		Mutation: &models.PendingMutation{ID: uuid.New(), Status: enums.PendingMutationAwaiting, RequestedBy: input.Entry.ActorID},
	}, nil
}

func (stubFinance) Reclassify(context.Context, finance.ReclassInput) (*finance.ProposeOutcome, error) {
	return nil, errors.New("not used")
}

func (stubFinance) Reverse(context.Context, finance.ReverseInput) (*finance.ProposeOutcome, error) {
	return nil, errors.New("not implemented")
}

func (stubFinance) GetMutation(context.Context, uuid.UUID) (*models.PendingMutation, error) {
	return nil, errors.New("not used")
}

type stubRegistry struct{}

func (stubRegistry) ListChains(context.Context, string) ([]models.ApprovalChain, error) {
	return []models.ApprovalChain{{ID: uuid.New(), OperationType: "ledger.revenue.withdrawal", Name: "finance", MinApprovers: 2}}, nil
}

func (stubRegistry) UpsertChain(context.Context, approvals.ChainInput, approvals.Actor) (*models.ApprovalChain, error) {
	return nil, errors.New("not used")
}

func (stubRegistry) GetGuard(context.Context, string) (*models.ApprovalGuard, error) {
	return nil, errors.New("not used")
}

func (stubRegistry) UpsertGuard(context.Context, approvals.GuardInput, approvals.Actor) (*models.ApprovalGuard, error) {
	return nil, errors.New("not used")
}

type stubSettings struct{}

func (stubSettings) List(context.Context, string) ([]models.Setting, error) { return nil, nil }

func (stubSettings) Set(context.Context, settings.SetInput) (*models.Setting, error) {
	return nil, errors.New("not used")
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test"},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "ledgergate", ExpirationMinutes: 5},
		Approvals: config.ApprovalsConfig{
			AdminRoles:   []string{"admin"},
			AuditorRoles: []string{"admin", "auditor"},
		},
	}
}

func newTestRouter(ready map[string]controllers.Pinger) http.Handler {
	return NewRouter(RouterParams{
		Config:   testConfig(),
		Logger:   logger.Nop(),
		Ready:    ready,
		Metrics:  http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
		Finance:  stubFinance{},
		Registry: stubRegistry{},
		Settings: stubSettings{},
	})
}

func bearer(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(testConfig().JWT, time.Now(), pkgAuth.AccessTokenPayload{UserID: userID, Role: role})
	require.NoError(t, err)
	return "Bearer " + token
}

func serve(h http.Handler, method, path, auth, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func TestHealthEndpoints(t *testing.T) {
	router := newTestRouter(map[string]controllers.Pinger{"db": stubPinger{}})
	require.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health/live", "", "").Code)
	require.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health/ready", "", "").Code)

	down := newTestRouter(map[string]controllers.Pinger{"db": stubPinger{err: errors.New("down")}})
	require.Equal(t, http.StatusServiceUnavailable, serve(down, http.MethodGet, "/health/ready", "", "").Code)
}

func TestMetricsEndpointIsPublic(t *testing.T) {
	resp := serve(newTestRouter(nil), http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), "# metrics")
}

func TestLedgerRoutesRequireAuth(t *testing.T) {
	resp := serve(newTestRouter(nil), http.MethodPost, "/api/v1/ledger/entries", "", `{}`)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestProposeEntryRouteReturnsAccepted(t *testing.T) {
	body := `{"stream":"revenue","type":"withdrawal","amount":"250.00","currency":"USD","description":"payout"}`
	resp := serve(newTestRouter(nil), http.MethodPost, "/api/v1/ledger/entries", bearer(t, "acct-1", "accountant"), body)
	require.Equal(t, http.StatusAccepted, resp.Code, resp.Body.String())
	require.Contains(t, resp.Body.String(), `"outcome":"pending"`)
	require.NotEmpty(t, resp.Header().Get("X-Correlation-Id"))
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	router := newTestRouter(nil)
	path := "/api/admin/v1/approval-chains?operation_type=ledger.revenue.withdrawal"

	require.Equal(t, http.StatusForbidden, serve(router, http.MethodGet, path, bearer(t, "acct-1", "accountant"), "").Code)

	resp := serve(router, http.MethodGet, path, bearer(t, "root", "admin"), "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), `"min_approvers":2`)
}

func TestAuditRoutesRequireAuditorRole(t *testing.T) {
	resp := serve(newTestRouter(nil), http.MethodGet, "/api/v1/audit/correlations/abc", bearer(t, "acct-1", "accountant"), "")
	require.Equal(t, http.StatusForbidden, resp.Code)
}

