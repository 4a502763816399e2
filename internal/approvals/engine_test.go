package approvals

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ledgergate-backend/internal/alerts"
	"github.com/angelmondragon/ledgergate-backend/internal/audit"
	"github.com/angelmondragon/ledgergate-backend/pkg/db"
	"github.com/angelmondragon/ledgergate-backend/pkg/db/dbtest"
	"github.com/angelmondragon/ledgergate-backend/pkg/db/models"
	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgergate-backend/pkg/errors"
	"github.com/angelmondragon/ledgergate-backend/pkg/logger"
	"github.com/angelmondragon/ledgergate-backend/pkg/outbox"
)

type recordingAlerts struct {
	mu   sync.Mutex
	sent []alerts.Alert
}

func (r *recordingAlerts) SendAlert(_ context.Context, alert alerts.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, alert)
	return nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type harness struct {
	client    *db.Client
	engine    *Engine
	registry  *Registry
	directory *Directory
	audit     *audit.Service
	alerts    *recordingAlerts
	clock     *fakeClock
}

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.Nop()
	repo := NewRepository(client.DB())
	sender := &recordingAlerts{}

	auditSvc, err := audit.NewService(audit.ServiceParams{
		Repository:  audit.NewRepository(client.DB()),
		Logger:      logg,
		ChecksumKey: "approvals-test",
		Alerts:      sender,
	})
	require.NoError(t, err)
	registry, err := NewRegistry(RegistryParams{Repository: repo, DB: client, Audit: auditSvc, Logger: logg})
	require.NoError(t, err)
	directory, err := NewDirectory(repo, logg)
	require.NoError(t, err)

	clock := &fakeClock{now: t0}
	engine, err := NewEngine(EngineParams{
		Repository: repo,
		Registry:   registry,
		DB:         client,
		Audit:      auditSvc,
		Alerts:     sender,
		Outbox:     outbox.NewService(outbox.NewRepository(client.DB()), logg),
		Logger:     logg,
		Now:        clock.Now,
	})
	require.NoError(t, err)
	return &harness{
		client:    client,
		engine:    engine,
		registry:  registry,
		directory: directory,
		audit:     auditSvc,
		alerts:    sender,
		clock:     clock,
	}
}

func (h *harness) chain(t *testing.T, input ChainInput) *models.ApprovalChain {
	t.Helper()
	if input.Name == "" {
		input.Name = input.OperationType + " chain"
	}
	input.Active = true
	chain, err := h.registry.UpsertChain(context.Background(), input, Actor{ID: "admin-1", Role: "admin"})
	require.NoError(t, err)
	return chain
}

func (h *harness) approvers(t *testing.T, role string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, h.directory.Register(context.Background(), id, role, true))
	}
}

func (h *harness) request(t *testing.T, entityID string, amount string) *RequestOutcome {
	t.Helper()
	outcome, err := h.engine.RequestApproval(context.Background(), withdrawal(entityID, amount))
	require.NoError(t, err)
	return outcome
}

func (h *harness) decide(requestID uuid.UUID, approver, role string, decision enums.ApprovalDecision) (*models.ApprovalRequest, error) {
	return h.engine.RecordApprovalDecision(context.Background(), DecisionInput{
		RequestID: requestID,
		Actor:     Actor{ID: approver, Role: role},
		Decision:  decision,
	})
}

func withdrawal(entityID, amount string) RequestInput {
	return RequestInput{
		OperationType: "ledger.revenue.withdrawal",
		EntityType:    "ledger_mutation",
		EntityID:      entityID,
		Amount:        decimal.RequireFromString(amount),
		Currency:      "USD",
		Justification: "partner payout",
		RequestedBy:   "requester-1",
		RequesterRole: "operations",
	}
}

func twoApproverChain(t *testing.T, h *harness) *models.ApprovalChain {
	t.Helper()
	h.approvers(t, "finance", "approver-a", "approver-b", "approver-c")
	return h.chain(t, ChainInput{
		OperationType: "ledger.revenue.withdrawal",
		MinApprovers:  2,
		ApproverRoles: []string{"finance"},
	})
}

func TestTwoApproverChainResolvesThenRejectsLateDecision(t *testing.T) {
	h := newHarness(t)
	twoApproverChain(t, h)
	var resolved []models.ApprovalRequest
	h.engine.Subscribe("ledger.*", func(_ context.Context, req models.ApprovalRequest) error {
		resolved = append(resolved, req)
		return nil
	})

	outcome := h.request(t, "mutation-1", "2500")
	require.Equal(t, OutcomePending, outcome.Outcome)
	require.False(t, outcome.Passed())
	require.Equal(t, 2, outcome.Request.RequiredApprovals)
	require.NotEmpty(t, outcome.Request.RequestNumber)
	id := outcome.Request.ID

	req, err := h.decide(id, "approver-a", "finance", enums.ApprovalDecisionApprove)
	require.NoError(t, err)
	require.Equal(t, enums.ApprovalStatusPending, req.Status)
	require.Equal(t, 1, req.CurrentApprovals)
	require.Empty(t, resolved)

	req, err = h.decide(id, "approver-b", "finance", enums.ApprovalDecisionApprove)
	require.NoError(t, err)
	require.Equal(t, enums.ApprovalStatusApproved, req.Status)
	require.Equal(t, 2, req.CurrentApprovals)
	require.Equal(t, "approver-b", *req.FinalApprover)
	require.Len(t, resolved, 1)
	require.Equal(t, enums.ApprovalStatusApproved, resolved[0].Status)
	require.Equal(t, outcome.Request.CorrelationID, resolved[0].CorrelationID)

	_, err = h.decide(id, "approver-c", "finance", enums.ApprovalDecisionApprove)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotPending))

	status, err := h.engine.GetApprovalStatus(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, status.History, 2)
	require.Equal(t, 0, status.RemainingApprovals)
	require.Equal(t, []string{"finance"}, status.ApproverRoles)

	trail, err := h.audit.ListByCorrelation(context.Background(), outcome.Request.CorrelationID)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	require.Equal(t, enums.AuditApprovalRequested, trail[0].Action)

	var events []models.OutboxEvent
	require.NoError(t, h.client.DB().Where("event_type = ?", enums.EventApprovalResolved).Find(&events).Error)
	require.Len(t, events, 1)
}

func TestRequesterCannotApproveOwnRequest(t *testing.T) {
	h := newHarness(t)
	h.approvers(t, "finance", "requester-1", "approver-a")
	h.chain(t, ChainInput{
		OperationType: "ledger.revenue.withdrawal",
		MinApprovers:  1,
		ApproverRoles: []string{"finance"},
	})
	input := withdrawal("mutation-1", "100")
	input.RequesterRole = "finance"
	outcome, err := h.engine.RequestApproval(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, OutcomePending, outcome.Outcome)

	_, err = h.decide(outcome.Request.ID, "requester-1", "finance", enums.ApprovalDecisionApprove)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
	details := pkgerrors.As(err).Details().(map[string]any)
	require.Equal(t, 1, details["remaining_approvals"])

	_, err = h.decide(outcome.Request.ID, "requester-1", "finance", enums.ApprovalDecisionReject)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	req, err := h.engine.GetRequest(context.Background(), outcome.Request.ID)
	require.NoError(t, err)
	require.Equal(t, enums.ApprovalStatusPending, req.Status)
	require.Equal(t, 0, req.CurrentApprovals)
}

func TestDecisionRequiresChainRoleAndDirectoryListing(t *testing.T) {
	h := newHarness(t)
	twoApproverChain(t, h)
	h.approvers(t, "sales", "seller-1")
	outcome := h.request(t, "mutation-1", "100")

	_, err := h.decide(outcome.Request.ID, "seller-1", "sales", enums.ApprovalDecisionApprove)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
	details := pkgerrors.As(err).Details().(map[string]any)
	require.Equal(t, 2, details["remaining_approvals"])
	require.Equal(t, []string{"finance"}, details["approver_roles"])

	_, err = h.decide(outcome.Request.ID, "stranger", "finance", enums.ApprovalDecisionApprove)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = h.decide(outcome.Request.ID, "approver-a", "finance", enums.ApprovalDecisionApprove)
	require.NoError(t, err)
	_, err = h.decide(outcome.Request.ID, "approver-a", "finance", enums.ApprovalDecisionApprove)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestRejectResolvesRequest(t *testing.T) {
	h := newHarness(t)
	twoApproverChain(t, h)
	var statuses []enums.ApprovalStatus
	h.engine.Subscribe("ledger.revenue.withdrawal", func(_ context.Context, req models.ApprovalRequest) error {
		statuses = append(statuses, req.Status)
		return nil
	})
	outcome := h.request(t, "mutation-1", "100")

	req, err := h.decide(outcome.Request.ID, "approver-a", "finance", enums.ApprovalDecisionReject)
	require.NoError(t, err)
	require.Equal(t, enums.ApprovalStatusRejected, req.Status)
	require.Equal(t, "approver-a", *req.FinalRejecter)
	require.Equal(t, []enums.ApprovalStatus{enums.ApprovalStatusRejected}, statuses)

	_, err = h.engine.GetActiveForEntity(context.Background(), "ledger_mutation", "mutation-1")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestSingleOpenRequestPerEntity(t *testing.T) {
	h := newHarness(t)
	twoApproverChain(t, h)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes []*RequestOutcome
		errs     []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := h.engine.RequestApproval(context.Background(), withdrawal("mutation-1", "100"))
			mu.Lock()
			defer mu.Unlock()
			outcomes = append(outcomes, outcome)
			errs = append(errs, err)
		}()
	}
	wg.Wait()

	var pending, duplicate *RequestOutcome
	for i, outcome := range outcomes {
		require.NotNil(t, outcome)
		switch outcome.Outcome {
		case OutcomePending:
			require.NoError(t, errs[i])
			pending = outcome
		case OutcomeDuplicate:
			require.True(t, pkgerrors.IsCode(errs[i], pkgerrors.CodeDuplicatePendingApproval))
			duplicate = outcome
		}
	}
	require.NotNil(t, pending)
	require.NotNil(t, duplicate)
	require.Equal(t, pending.Request.ID, duplicate.Request.ID)

	var count int64
	require.NoError(t, h.client.DB().Model(&models.ApprovalRequest{}).Count(&count).Error)
	require.Equal(t, int64(1), count)

	active, err := h.engine.GetActiveForEntity(context.Background(), "ledger_mutation", "mutation-1")
	require.NoError(t, err)
	require.Equal(t, pending.Request.ID, active.ID)
}

func TestNewRequestAllowedAfterResolution(t *testing.T) {
	h := newHarness(t)
	twoApproverChain(t, h)
	first := h.request(t, "mutation-1", "100")
	_, err := h.decide(first.Request.ID, "approver-a", "finance", enums.ApprovalDecisionReject)
	require.NoError(t, err)

	second := h.request(t, "mutation-1", "100")
	require.Equal(t, OutcomePending, second.Outcome)
	require.NotEqual(t, first.Request.ID, second.Request.ID)
}

func TestImmediatePassBelowThresholdOrExempt(t *testing.T) {
	h := newHarness(t)
	h.approvers(t, "finance", "approver-a")
	threshold := decimal.NewFromInt(1000)
	h.chain(t, ChainInput{
		OperationType:   "ledger.revenue.withdrawal",
		MinApprovers:    1,
		AmountThreshold: &threshold,
		ExemptRoles:     []string{"cfo"},
		ApproverRoles:   []string{"finance"},
	})

	outcome := h.request(t, "mutation-1", "999.99")
	require.Equal(t, OutcomeNotRequired, outcome.Outcome)
	require.True(t, outcome.Passed())
	require.Nil(t, outcome.Request)

	exempt := withdrawal("mutation-2", "5000")
	exempt.RequesterRole = "CFO"
	result, err := h.engine.RequestApproval(context.Background(), exempt)
	require.NoError(t, err)
	require.True(t, result.Passed())

	gated := h.request(t, "mutation-3", "1000")
	require.Equal(t, OutcomePending, gated.Outcome)

	var count int64
	require.NoError(t, h.client.DB().Model(&models.ApprovalRequest{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestRequireAllChainWithoutMinimumStillGates(t *testing.T) {
	h := newHarness(t)
	h.approvers(t, "finance", "approver-a", "approver-b")
	h.chain(t, ChainInput{
		OperationType:       "ledger.revenue.withdrawal",
		RequireAllApprovers: true,
		ApproverRoles:       []string{"finance"},
	})

	outcome := h.request(t, "mutation-1", "100")
	require.Equal(t, OutcomePending, outcome.Outcome)
	require.False(t, outcome.Passed())
	require.Equal(t, 2, outcome.Request.RequiredApprovals)

	req, err := h.decide(outcome.Request.ID, "approver-a", "finance", enums.ApprovalDecisionApprove)
	require.NoError(t, err)
	require.Equal(t, enums.ApprovalStatusPending, req.Status)

	req, err = h.decide(outcome.Request.ID, "approver-b", "finance", enums.ApprovalDecisionApprove)
	require.NoError(t, err)
	require.Equal(t, enums.ApprovalStatusApproved, req.Status)
}

func TestGuardBlocksWhenNoApproverExists(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.registry.UpsertGuard(ctx, GuardInput{
		OperationType:     "ledger.revenue.withdrawal",
		ApprovalMandatory: true,
		BlockIfNoApprover: true,
	}, Actor{ID: "admin-1", Role: "admin"})
	require.NoError(t, err)

	_, err = h.engine.RequestApproval(ctx, withdrawal("mutation-1", "100"))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNoApplicableChain))

	h.chain(t, ChainInput{
		OperationType: "ledger.revenue.withdrawal",
		MinApprovers:  1,
		ApproverRoles: []string{"finance"},
	})
	_, err = h.engine.RequestApproval(ctx, withdrawal("mutation-1", "100"))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNoApplicableChain))

	h.approvers(t, "finance", "approver-a")
	outcome, err := h.engine.RequestApproval(ctx, withdrawal("mutation-1", "100"))
	require.NoError(t, err)
	require.Equal(t, OutcomePending, outcome.Outcome)
}

func TestEmergencyOverrideBypassIsAuditedCritical(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	twoApproverChain(t, h)
	_, err := h.registry.UpsertGuard(ctx, GuardInput{
		OperationType:          "ledger.revenue.withdrawal",
		EmergencyOverrideRoles: []string{"cfo"},
	}, Actor{ID: "admin-1", Role: "admin"})
	require.NoError(t, err)

	input := withdrawal("mutation-9", "50000")
	input.RequesterRole = "cfo"
	outcome, err := h.engine.RequestApproval(ctx, input)
	require.NoError(t, err)
	require.Equal(t, OutcomeBypassed, outcome.Outcome)
	require.True(t, outcome.Passed())

	trail, err := h.audit.ListByEntity(ctx, "ledger_mutation", "mutation-9")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	require.Equal(t, enums.AuditApprovalBypassed, trail[0].Action)
	require.Equal(t, enums.RiskCritical, trail[0].RiskLevel)

	require.Len(t, h.alerts.sent, 1)
	require.Equal(t, enums.AlertCategoryApprovalBypass, h.alerts.sent[0].Category)
	require.Equal(t, enums.AlertSeverityCritical, h.alerts.sent[0].Severity)
}

func TestAuditAllAttemptsRecordsImmediatePass(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.registry.UpsertGuard(ctx, GuardInput{
		OperationType:    "ledger.revenue.withdrawal",
		AuditAllAttempts: true,
	}, Actor{ID: "admin-1", Role: "admin"})
	require.NoError(t, err)

	outcome := h.request(t, "mutation-1", "10")
	require.Equal(t, OutcomeNotRequired, outcome.Outcome)

	trail, err := h.audit.ListByEntity(ctx, "ledger_mutation", "mutation-1")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	require.Equal(t, enums.AuditApprovalNotRequired, trail[0].Action)
}

func TestCancelRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	twoApproverChain(t, h)

	first := h.request(t, "mutation-1", "100")
	_, err := h.engine.CancelRequest(ctx, CancelInput{RequestID: first.Request.ID, Actor: Actor{ID: "someone", Role: "operations"}})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	cancelled, err := h.engine.CancelRequest(ctx, CancelInput{RequestID: first.Request.ID, Actor: Actor{ID: "requester-1", Role: "operations"}, Reason: "duplicate"})
	require.NoError(t, err)
	require.Equal(t, enums.ApprovalStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	_, err = h.engine.CancelRequest(ctx, CancelInput{RequestID: first.Request.ID, Actor: Actor{ID: "requester-1", Role: "operations"}})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotPending))

	second := h.request(t, "mutation-2", "100")
	_, err = h.decide(second.Request.ID, "approver-a", "finance", enums.ApprovalDecisionApprove)
	require.NoError(t, err)
	_, err = h.engine.CancelRequest(ctx, CancelInput{RequestID: second.Request.ID, Actor: Actor{ID: "requester-1", Role: "operations"}})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	byAdmin, err := h.engine.CancelRequest(ctx, CancelInput{RequestID: second.Request.ID, Actor: Actor{ID: "admin-1", Role: "admin"}})
	require.NoError(t, err)
	require.Equal(t, enums.ApprovalStatusCancelled, byAdmin.Status)
}

func TestHandlerFailureIsAlertedWithoutUndoingTransition(t *testing.T) {
	h := newHarness(t)
	h.approvers(t, "finance", "approver-a")
	h.chain(t, ChainInput{OperationType: "ledger.revenue.withdrawal", MinApprovers: 1, ApproverRoles: []string{"finance"}})
	h.engine.Subscribe("ledger.revenue.withdrawal", func(context.Context, models.ApprovalRequest) error {
		return errors.New("downstream unavailable")
	})
	outcome := h.request(t, "mutation-1", "100")

	req, err := h.decide(outcome.Request.ID, "approver-a", "finance", enums.ApprovalDecisionApprove)
	require.NoError(t, err)
	require.Equal(t, enums.ApprovalStatusApproved, req.Status)

	stored, err := h.engine.GetRequest(context.Background(), outcome.Request.ID)
	require.NoError(t, err)
	require.Equal(t, enums.ApprovalStatusApproved, stored.Status)
	require.Len(t, h.alerts.sent, 1)
	require.Equal(t, enums.AlertCategoryHookFailure, h.alerts.sent[0].Category)
}

func TestRequestValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	missingActor := withdrawal("mutation-1", "10")
	missingActor.RequestedBy = ""
	_, err := h.engine.RequestApproval(ctx, missingActor)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))

	missingEntity := withdrawal("", "10")
	_, err = h.engine.RequestApproval(ctx, missingEntity)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	negative := withdrawal("mutation-1", "-1")
	_, err = h.engine.RequestApproval(ctx, negative)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidAmount))

	_, err = h.decide(uuid.New(), "approver-a", "finance", enums.ApprovalDecisionEscalate)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = h.decide(uuid.New(), "approver-a", "finance", enums.ApprovalDecisionApprove)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestMatchesOperation(t *testing.T) {
	require.True(t, matchesOperation("ledger.*", "ledger.capital.out"))
	require.True(t, matchesOperation("ledger.capital.out", "ledger.capital.out"))
	require.False(t, matchesOperation("ledger.capital.out", "ledger.capital.in"))
	require.False(t, matchesOperation("ledger.*", "ledgers.capital.out"))
}
