package approvals

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ledgergate-backend/pkg/db/models"
	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgergate-backend/pkg/errors"
)

func threshold(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func TestResolveChainPrefersPriorityThenFallback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	op := "ledger.capital.capital_withdrawal"

	large := h.chain(t, ChainInput{OperationType: op, Name: "large", Priority: 10, MinApprovers: 2, AmountThreshold: threshold(10000), ApproverRoles: []string{"cfo"}})
	medium := h.chain(t, ChainInput{OperationType: op, Name: "medium", Priority: 5, MinApprovers: 1, AmountThreshold: threshold(1000), ApproverRoles: []string{"finance"}})
	fallback := h.chain(t, ChainInput{OperationType: op, Name: "default", MinApprovers: 1, ApproverRoles: []string{"finance"}})
	interns := h.chain(t, ChainInput{OperationType: op, Name: "interns", Priority: 100, MinApprovers: 1, RequesterRoles: []string{"Intern"}, ApproverRoles: []string{"finance"}})

	cases := []struct {
		amount string
		role   string
		want   *models.ApprovalChain
	}{
		{amount: "20000", role: "operations", want: large},
		{amount: "10000", role: "operations", want: large},
		{amount: "5000", role: "operations", want: medium},
		{amount: "10", role: "operations", want: fallback},
		{amount: "10", role: "intern", want: interns},
		{amount: "20000", role: "intern", want: large},
	}
	for _, tc := range cases {
		got, err := h.registry.ResolveChain(ctx, op, decimal.RequireFromString(tc.amount), tc.role)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, tc.want.ID, got.ID, "amount %s role %s", tc.amount, tc.role)
	}

	none, err := h.registry.ResolveChain(ctx, "ledger.revenue.refund", decimal.NewFromInt(5), "operations")
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestResolveChainMandatoryGuardWithoutChain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	op := "ledger.capital.capital_withdrawal"
	h.chain(t, ChainInput{OperationType: op, MinApprovers: 1, AmountThreshold: threshold(1000), ApproverRoles: []string{"finance"}})

	got, err := h.registry.ResolveChain(ctx, op, decimal.NewFromInt(10), "operations")
	require.NoError(t, err)
	require.Nil(t, got)

	_, err = h.registry.UpsertGuard(ctx, GuardInput{OperationType: op, ApprovalMandatory: true, BlockIfNoApprover: true}, Actor{ID: "admin-1"})
	require.NoError(t, err)
	_, err = h.registry.ResolveChain(ctx, op, decimal.NewFromInt(10), "operations")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNoApplicableChain))
	require.Equal(t, op, pkgerrors.As(err).Details().(map[string]any)["operation_type"])
}

func TestRequiredApprovals(t *testing.T) {
	chain := &models.ApprovalChain{MinApprovers: 2, ExemptRoles: []string{"cfo"}}
	eligible := []string{"a", "b", "c"}

	require.Equal(t, 0, RequiredApprovals(nil, "operations", eligible))
	require.Equal(t, 2, RequiredApprovals(chain, "operations", eligible))
	require.Equal(t, 0, RequiredApprovals(chain, "CFO", eligible))

	chain.RequireAllApprovers = true
	require.Equal(t, 3, RequiredApprovals(chain, "operations", eligible))

	chain.MinApprovers = 0
	require.Equal(t, 3, RequiredApprovals(chain, "operations", eligible))
	require.Equal(t, 1, RequiredApprovals(chain, "operations", nil))
	require.Equal(t, 0, RequiredApprovals(chain, "cfo", eligible))

	chain.RequireAllApprovers = false
	require.Equal(t, 0, RequiredApprovals(chain, "operations", eligible))
}

func TestEligibleApproversExcludeRequesterAndInactive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.approvers(t, "finance", "a", "b", "requester-1")
	h.approvers(t, "cfo", "b", "c")
	require.NoError(t, h.directory.Register(ctx, "c", "cfo", false))

	chain := h.chain(t, ChainInput{OperationType: "ledger.revenue.withdrawal", MinApprovers: 1, ApproverRoles: []string{"finance", "cfo"}})
	ids, err := h.registry.EligibleApprovers(ctx, chain, "requester-1")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids)

	ok, err := h.directory.IsApprover(ctx, "c", "CFO")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpsertChainValidatesAndAudits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admin := Actor{ID: "admin-1", Role: "admin"}

	_, err := h.registry.UpsertChain(ctx, ChainInput{OperationType: "ledger.revenue.withdrawal", Name: "x", MinApprovers: 1}, Actor{})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))

	_, err = h.registry.UpsertChain(ctx, ChainInput{OperationType: "ledger.revenue.withdrawal", MinApprovers: -1}, admin)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	details := pkgerrors.As(err).Details().(map[string]any)
	require.Contains(t, details, "name")
	require.Contains(t, details, "min_approvers")

	_, err = h.registry.UpsertChain(ctx, ChainInput{OperationType: "ledger.revenue.withdrawal", Name: "no roles", MinApprovers: 1}, admin)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	missing := uuid.New()
	_, err = h.registry.UpsertChain(ctx, ChainInput{OperationType: "ledger.revenue.withdrawal", Name: "dangling", EscalationChainID: &missing}, admin)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	chain, err := h.registry.UpsertChain(ctx, ChainInput{
		OperationType: "ledger.revenue.withdrawal",
		Name:          "payouts",
		Active:        true,
		MinApprovers:  1,
		ApproverRoles: []string{" Finance ", "finance"},
	}, admin)
	require.NoError(t, err)
	require.Equal(t, []string{"finance"}, []string(chain.ApproverRoles))

	self := chain.ID
	_, err = h.registry.UpsertChain(ctx, ChainInput{ID: &self, OperationType: "ledger.revenue.withdrawal", Name: "payouts", EscalationChainID: &self}, admin)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	updated, err := h.registry.UpsertChain(ctx, ChainInput{
		ID:            &self,
		OperationType: "ledger.revenue.withdrawal",
		Name:          "payouts",
		Active:        false,
		MinApprovers:  2,
		ApproverRoles: []string{"finance"},
	}, admin)
	require.NoError(t, err)
	require.Equal(t, chain.ID, updated.ID)
	require.Equal(t, 2, updated.MinApprovers)
	require.False(t, updated.Active)

	trail, err := h.audit.ListByEntity(ctx, "approval_chain", chain.ID.String())
	require.NoError(t, err)
	require.Len(t, trail, 2)
	for _, entry := range trail {
		require.Equal(t, enums.AuditPolicyChainUpserted, entry.Action)
		require.Equal(t, enums.RiskHigh, entry.RiskLevel)
	}

	chains, err := h.registry.ListChains(ctx, "ledger.revenue.withdrawal")
	require.NoError(t, err)
	require.Len(t, chains, 1)
	active, err := h.registry.ResolveChain(ctx, "ledger.revenue.withdrawal", decimal.NewFromInt(1), "operations")
	require.NoError(t, err)
	require.Nil(t, active)
}

func TestGuardUpsertAndLookup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admin := Actor{ID: "admin-1", Role: "admin"}

	_, err := h.registry.GetGuard(ctx, "ledger.revenue.withdrawal")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = h.registry.UpsertGuard(ctx, GuardInput{OperationType: "ledger.revenue.withdrawal", ApprovalMandatory: true}, admin)
	require.NoError(t, err)
	guard, err := h.registry.UpsertGuard(ctx, GuardInput{
		OperationType:          "ledger.revenue.withdrawal",
		BlockIfNoApprover:      true,
		EmergencyOverrideRoles: []string{"CFO"},
	}, admin)
	require.NoError(t, err)
	require.False(t, guard.ApprovalMandatory)
	require.True(t, guard.BlockIfNoApprover)
	require.True(t, guard.EmergencyOverrideRoles.Contains("cfo"))

	stored, err := h.registry.GetGuard(ctx, "ledger.revenue.withdrawal")
	require.NoError(t, err)
	require.Equal(t, guard.ID, stored.ID)

	trail, err := h.audit.ListByEntity(ctx, "approval_guard", "ledger.revenue.withdrawal")
	require.NoError(t, err)
	require.Len(t, trail, 2)
}
