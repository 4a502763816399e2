package approvals

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgergate-backend/internal/audit"
	dbpkg "github.com/angelmondragon/ledgergate-backend/pkg/db"
	"github.com/angelmondragon/ledgergate-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/ledgergate-backend/pkg/db/types"
	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgergate-backend/pkg/errors"
	"github.com/angelmondragon/ledgergate-backend/pkg/logger"
)

// Actor identifies who performs an approval or policy operation.
type Actor struct {
	ID   string
	Role string
}

// ChainInput creates a chain, or replaces one when ID is set.
type ChainInput struct {
	ID                    *uuid.UUID       `json:"id,omitempty"`
	OperationType         string           `json:"operation_type"`
	Name                  string           `json:"name"`
	Priority              int              `json:"priority"`
	Active                bool             `json:"active"`
	MinApprovers          int              `json:"min_approvers"`
	RequireAllApprovers   bool             `json:"require_all_approvers"`
	AmountThreshold       *decimal.Decimal `json:"amount_threshold,omitempty"`
	RequesterRoles        []string         `json:"requester_roles"`
	ExemptRoles           []string         `json:"exempt_roles"`
	ApproverRoles         []string         `json:"approver_roles"`
	AutoApproveAfterHours *int             `json:"auto_approve_after_hours,omitempty"`
	EscalateAfterHours    *int             `json:"escalate_after_hours,omitempty"`
	EscalationChainID     *uuid.UUID       `json:"escalation_chain_id,omitempty"`
}

// GuardInput replaces the guard of one operation type.
type GuardInput struct {
	OperationType          string   `json:"operation_type"`
	ApprovalMandatory      bool     `json:"approval_mandatory"`
	BlockIfNoApprover      bool     `json:"block_if_no_approver"`
	EmergencyOverrideRoles []string `json:"emergency_override_roles"`
	AuditAllAttempts       bool     `json:"audit_all_attempts"`
}

// RegistryParams wires the policy registry.
type RegistryParams struct {
	Repository Repository
	DB         txRunner
	Audit      audit.Recorder
	Logger     *logger.Logger
}

// Registry owns approval chains and guards.
type Registry struct {
	repo  Repository
	tx    txRunner
	audit audit.Recorder
	logg  *logger.Logger
}

// NewRegistry builds the policy registry.
func NewRegistry(params RegistryParams) (*Registry, error) {
	switch {
	case params.Repository == nil:
		return nil, fmt.Errorf("approvals repository required")
	case params.DB == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Audit == nil:
		return nil, fmt.Errorf("audit recorder required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &Registry{
		repo:  params.Repository,
		tx:    params.DB,
		audit: params.Audit,
		logg:  params.Logger,
	}, nil
}

// ResolveChain picks the highest-priority active chain whose threshold and
// requester roles match, then falls back to an unthresholded chain. A nil chain
// means the operation needs no approval.
func (r *Registry) ResolveChain(ctx context.Context, operationType string, amount decimal.Decimal, requesterRole string) (*models.ApprovalChain, error) {
	return r.resolveChain(ctx, r.repo, operationType, amount, requesterRole)
}

func (r *Registry) resolveChain(ctx context.Context, repo Repository, operationType string, amount decimal.Decimal, requesterRole string) (*models.ApprovalChain, error) {
	chains, err := repo.ListActiveChains(ctx, operationType)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load approval chains")
	}

	var fallback *models.ApprovalChain
	for i := range chains {
		chain := &chains[i]
		if len(chain.RequesterRoles) > 0 && !chain.RequesterRoles.Contains(requesterRole) {
			continue
		}
		if chain.AmountThreshold == nil {
			if fallback == nil {
				fallback = chain
			}
			continue
		}
		if amount.GreaterThanOrEqual(*chain.AmountThreshold) {
			return chain, nil
		}
	}
	if fallback != nil {
		return fallback, nil
	}

	guard, err := r.guardFor(ctx, repo, operationType)
	if err != nil {
		return nil, err
	}
	if guard != nil && guard.ApprovalMandatory && guard.BlockIfNoApprover {
		return nil, pkgerrors.New(pkgerrors.CodeNoApplicableChain, "approval is mandatory but no chain applies").
			WithDetails(map[string]any{
				"operation_type": operationType,
				"amount":         amount.String(),
				"requester_role": requesterRole,
			})
	}
	return nil, nil
}

// RequiredApprovals counts the approvals a request under chain needs. eligible
// must already exclude the requester. A require-all chain always needs at least
// one approval, even while nobody is eligible to give it.
func RequiredApprovals(chain *models.ApprovalChain, requesterRole string, eligible []string) int {
	if chain == nil || chain.ExemptRoles.Contains(requesterRole) {
		return 0
	}
	if chain.RequireAllApprovers {
		return max(len(eligible), 1)
	}
	return chain.MinApprovers
}

// EligibleApprovers lists active approvers for the chain's roles, minus the requester.
func (r *Registry) EligibleApprovers(ctx context.Context, chain *models.ApprovalChain, requesterID string) ([]string, error) {
	return eligibleApprovers(ctx, r.repo, chain, requesterID)
}

func (r *Registry) ListChains(ctx context.Context, operationType string) ([]models.ApprovalChain, error) {
	chains, err := r.repo.ListChains(ctx, strings.TrimSpace(operationType))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list approval chains")
	}
	return chains, nil
}

func (r *Registry) UpsertChain(ctx context.Context, input ChainInput, actor Actor) (*models.ApprovalChain, error) {
	if strings.TrimSpace(actor.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if err := validateChain(input); err != nil {
		return nil, err
	}

	var (
		saved   *models.ApprovalChain
		failure *audit.Failure
	)
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)
		if input.EscalationChainID != nil {
			if input.ID != nil && *input.EscalationChainID == *input.ID {
				return pkgerrors.New(pkgerrors.CodeValidation, "a chain cannot escalate to itself")
			}
			if _, err := repo.FindChain(ctx, *input.EscalationChainID); err != nil {
				if dbpkg.IsNotFound(err) {
					return pkgerrors.New(pkgerrors.CodeValidation, "escalation chain not found")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load escalation chain")
			}
		}

		var before *models.ApprovalChain
		chain := &models.ApprovalChain{}
		if input.ID != nil {
			existing, err := repo.FindChain(ctx, *input.ID)
			if err != nil {
				if dbpkg.IsNotFound(err) {
					return pkgerrors.New(pkgerrors.CodeNotFound, "approval chain not found")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load approval chain")
			}
			snapshot := *existing
			before = &snapshot
			chain = existing
		}
		applyChainInput(chain, input)

		if before == nil {
			if err := repo.CreateChain(ctx, chain); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create approval chain")
			}
		} else if err := repo.SaveChain(ctx, chain); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update approval chain")
		}
		saved = chain

		in := audit.RecordInput{
			Action:     enums.AuditPolicyChainUpserted,
			EntityType: "approval_chain",
			EntityID:   chain.ID.String(),
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			After:      chain,
			Context:    audit.PolicyBusiness(audit.PolicyContext{OperationType: chain.OperationType, ChainName: chain.Name}),
			RiskLevel:  enums.RiskHigh,
		}
		if before != nil {
			in.Before = before
		}
		failure = r.audit.RecordBestEffort(ctx, tx, in)
		return nil
	})
	r.audit.Escalate(ctx, failure)
	if err != nil {
		return nil, err
	}

	logCtx := r.logg.WithFields(ctx, map[string]any{
		"chain_id":       saved.ID.String(),
		"operation_type": saved.OperationType,
		"actor_id":       actor.ID,
	})
	r.logg.Info(logCtx, "approval chain saved")
	return saved, nil
}

// GetGuard returns NotFound when the operation type has no guard.
func (r *Registry) GetGuard(ctx context.Context, operationType string) (*models.ApprovalGuard, error) {
	guard, err := r.guardFor(ctx, r.repo, operationType)
	if err != nil {
		return nil, err
	}
	if guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "approval guard not found").
			WithDetails(map[string]any{"operation_type": operationType})
	}
	return guard, nil
}

func (r *Registry) guardFor(ctx context.Context, repo Repository, operationType string) (*models.ApprovalGuard, error) {
	guard, err := repo.FindGuard(ctx, operationType)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load approval guard")
	}
	return guard, nil
}

func (r *Registry) UpsertGuard(ctx context.Context, input GuardInput, actor Actor) (*models.ApprovalGuard, error) {
	opType := strings.TrimSpace(input.OperationType)
	if opType == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "operation type required")
	}
	if strings.TrimSpace(actor.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	guard := &models.ApprovalGuard{
		OperationType:          opType,
		ApprovalMandatory:      input.ApprovalMandatory,
		BlockIfNoApprover:      input.BlockIfNoApprover,
		EmergencyOverrideRoles: dbtypes.StringArray(cleanRoles(input.EmergencyOverrideRoles)),
		AuditAllAttempts:       input.AuditAllAttempts,
	}
	var failure *audit.Failure
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)
		before, err := r.guardFor(ctx, repo, opType)
		if err != nil {
			return err
		}
		if err := repo.UpsertGuard(ctx, guard); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save approval guard")
		}
		saved, err := repo.FindGuard(ctx, opType)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload approval guard")
		}
		guard = saved

		in := audit.RecordInput{
			Action:     enums.AuditPolicyGuardUpserted,
			EntityType: "approval_guard",
			EntityID:   opType,
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			After:      saved,
			Context:    audit.PolicyBusiness(audit.PolicyContext{OperationType: opType}),
			RiskLevel:  enums.RiskHigh,
		}
		if before != nil {
			in.Before = before
		}
		failure = r.audit.RecordBestEffort(ctx, tx, in)
		return nil
	})
	r.audit.Escalate(ctx, failure)
	if err != nil {
		return nil, err
	}
	return guard, nil
}

func validateChain(input ChainInput) error {
	problems := map[string]any{}
	if strings.TrimSpace(input.OperationType) == "" {
		problems["operation_type"] = "required"
	}
	if strings.TrimSpace(input.Name) == "" {
		problems["name"] = "required"
	}
	if input.MinApprovers < 0 {
		problems["min_approvers"] = "must not be negative"
	}
	if input.AmountThreshold != nil && input.AmountThreshold.IsNegative() {
		problems["amount_threshold"] = "must not be negative"
	}
	if input.AutoApproveAfterHours != nil && *input.AutoApproveAfterHours <= 0 {
		problems["auto_approve_after_hours"] = "must be positive"
	}
	if input.EscalateAfterHours != nil && *input.EscalateAfterHours <= 0 {
		problems["escalate_after_hours"] = "must be positive"
	}
	if (input.MinApprovers > 0 || input.RequireAllApprovers) && len(cleanRoles(input.ApproverRoles)) == 0 {
		problems["approver_roles"] = "required when approvals are needed"
	}
	if len(problems) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid approval chain").WithDetails(problems)
	}
	return nil
}

func applyChainInput(chain *models.ApprovalChain, input ChainInput) {
	chain.OperationType = strings.TrimSpace(input.OperationType)
	chain.Name = strings.TrimSpace(input.Name)
	chain.Priority = input.Priority
	chain.Active = input.Active
	chain.MinApprovers = input.MinApprovers
	chain.RequireAllApprovers = input.RequireAllApprovers
	chain.AmountThreshold = input.AmountThreshold
	chain.RequesterRoles = dbtypes.StringArray(cleanRoles(input.RequesterRoles))
	chain.ExemptRoles = dbtypes.StringArray(cleanRoles(input.ExemptRoles))
	chain.ApproverRoles = dbtypes.StringArray(cleanRoles(input.ApproverRoles))
	chain.AutoApproveAfterHours = input.AutoApproveAfterHours
	chain.EscalateAfterHours = input.EscalateAfterHours
	chain.EscalationChainID = input.EscalationChainID
}

func cleanRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	seen := map[string]bool{}
	for _, role := range roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" || seen[role] {
			continue
		}
		seen[role] = true
		out = append(out, role)
	}
	return out
}
