package approvals

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgergate-backend/internal/audit"
	dbpkg "github.com/angelmondragon/ledgergate-backend/pkg/db"
	"github.com/angelmondragon/ledgergate-backend/pkg/db/models"
	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgergate-backend/pkg/errors"
)

// SweepResult counts the transitions one sweep applied.
type SweepResult struct {
	AutoApproved int
	Escalated    int
	Skipped      int
}

// Sweep applies due escalations, then due auto-approvals. When both timers of a
// request are due, the one that fell due first wins. Every transition is a
// conditional update on the current status, so re-running it is a no-op for
// requests that already moved.
func (e *Engine) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	now = now.UTC()
	var (
		result SweepResult
		errs   error
	)

	escalations, err := e.repo.ListDueEscalations(ctx, now, e.batch)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due escalations")
	}
	for _, req := range escalations {
		applied, err := e.escalate(ctx, req.ID, now)
		switch {
		case err != nil:
			errs = multierr.Append(errs, fmt.Errorf("escalate %s: %w", req.ID, err))
		case applied:
			result.Escalated++
		default:
			result.Skipped++
		}
	}

	due, err := e.repo.ListDueAutoApprovals(ctx, now, e.batch)
	if err != nil {
		return result, multierr.Append(errs, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due auto approvals"))
	}
	for _, req := range due {
		applied, err := e.autoApprove(ctx, req.ID, now)
		switch {
		case err != nil:
			errs = multierr.Append(errs, fmt.Errorf("auto approve %s: %w", req.ID, err))
		case applied:
			result.AutoApproved++
		default:
			result.Skipped++
		}
	}

	if result.AutoApproved > 0 || result.Escalated > 0 {
		logCtx := e.logg.WithFields(ctx, map[string]any{
			"auto_approved": result.AutoApproved,
			"escalated":     result.Escalated,
			"skipped":       result.Skipped,
		})
		e.logg.Info(logCtx, "approval timers swept")
	}
	return result, errs
}

func (e *Engine) autoApprove(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	var (
		resolved *models.ApprovalRequest
		failure  *audit.Failure
	)
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.repo.WithTx(tx)
		req, err := repo.LockRequest(ctx, id)
		if err != nil {
			if dbpkg.IsNotFound(err) {
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock approval request")
		}
		if req.Status.IsTerminal() || req.AutoApproveAt == nil || req.AutoApproveAt.After(now) {
			return nil
		}
		if escalationFirst(req) {
			return nil
		}

		before := *req
		fields := map[string]any{"updated_at": now}
		markApproved(req, fields, audit.SystemActor, now)
		rows, err := repo.TransitionRequest(ctx, req.ID, []enums.ApprovalStatus{before.Status}, fields)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "auto approve request")
		}
		if rows == 0 {
			return nil
		}
		comment := fmt.Sprintf("no decision within the auto-approve window (due %s)", before.AutoApproveAt.UTC().Format(time.RFC3339))
		if err := repo.CreateDecision(ctx, &models.ApprovalDecision{
			RequestID: req.ID,
			ActorID:   audit.SystemActor,
			Decision:  enums.ApprovalDecisionApprove,
			Kind:      enums.DecisionKindAuto,
			Comment:   comment,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record auto approval")
		}

		failure = e.audit.RecordBestEffort(ctx, tx, audit.RecordInput{
			Action:        enums.AuditApprovalAutoApproved,
			EntityType:    "approval_request",
			EntityID:      req.ID.String(),
			ActorID:       audit.SystemActor,
			Before:        before,
			After:         req,
			Context:       audit.ApprovalBusiness(approvalContext(req, enums.ApprovalDecisionApprove, enums.DecisionKindAuto, comment)),
			RiskLevel:     enums.RiskHigh,
			CorrelationID: req.CorrelationID,
		})
		resolved = req
		return e.emitResolved(ctx, tx, req, enums.DecisionKindAuto, audit.SystemActor)
	})
	e.audit.Escalate(ctx, failure)
	if err != nil {
		return false, err
	}
	if resolved == nil {
		return false, nil
	}
	e.logg.Info(e.logg.WithField(ctx, "request_id", resolved.ID.String()), "approval request auto-approved")
	e.afterResolution(ctx, *resolved, enums.DecisionKindAuto)
	return true, nil
}

// escalate moves a pending request onto its chain's escalation target with fresh
// counters and timers. A target that needs no approvals resolves it outright.
func (e *Engine) escalate(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	var (
		applied  bool
		resolved *models.ApprovalRequest
		failure  *audit.Failure
	)
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.repo.WithTx(tx)
		req, err := repo.LockRequest(ctx, id)
		if err != nil {
			if dbpkg.IsNotFound(err) {
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock approval request")
		}
		if req.Status != enums.ApprovalStatusPending || req.EscalateAt == nil || req.EscalateAt.After(now) {
			return nil
		}
		if req.AutoApproveAt != nil && !req.AutoApproveAt.After(*req.EscalateAt) {
			return nil
		}
		chain, err := loadChain(ctx, repo, req.ChainID)
		if err != nil {
			return err
		}
		if chain.EscalationChainID == nil {
			_, err := repo.TransitionRequest(ctx, req.ID, []enums.ApprovalStatus{enums.ApprovalStatusPending}, map[string]any{
				"escalate_at": nil,
				"updated_at":  now,
			})
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear escalation timer")
			}
			return nil
		}
		target, err := loadChain(ctx, repo, *chain.EscalationChainID)
		if err != nil {
			return err
		}
		eligible, err := eligibleApprovers(ctx, repo, target, req.RequestedBy)
		if err != nil {
			return err
		}

		before := *req
		required := RequiredApprovals(target, req.RequesterRole, eligible)
		req.Status = enums.ApprovalStatusEscalated
		req.ChainID = target.ID
		req.RequiredApprovals = required
		req.CurrentApprovals = 0
		req.EscalatedAt = &now
		req.EscalateAt = nil
		req.AutoApproveAt = hoursFrom(now, target.AutoApproveAfterHours)
		fields := map[string]any{
			"status":             req.Status,
			"chain_id":           req.ChainID,
			"required_approvals": required,
			"current_approvals":  0,
			"escalated_at":       now,
			"escalate_at":        nil,
			"auto_approve_at":    req.AutoApproveAt,
			"updated_at":         now,
		}
		if required == 0 {
			markApproved(req, fields, audit.SystemActor, now)
		}
		rows, err := repo.TransitionRequest(ctx, req.ID, []enums.ApprovalStatus{enums.ApprovalStatusPending}, fields)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "escalate approval request")
		}
		if rows == 0 {
			return nil
		}
		applied = true

		comment := fmt.Sprintf("escalated from %q to %q", chain.Name, target.Name)
		decisions := []models.ApprovalDecision{{
			RequestID: req.ID,
			ActorID:   audit.SystemActor,
			Decision:  enums.ApprovalDecisionEscalate,
			Kind:      enums.DecisionKindSystem,
			Comment:   comment,
		}}
		if req.Status == enums.ApprovalStatusApproved {
			decisions = append(decisions, models.ApprovalDecision{
				RequestID: req.ID,
				ActorID:   audit.SystemActor,
				Decision:  enums.ApprovalDecisionApprove,
				Kind:      enums.DecisionKindSystem,
				Comment:   "escalation chain requires no approvals",
			})
		}
		for i := range decisions {
			if err := repo.CreateDecision(ctx, &decisions[i]); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record escalation")
			}
		}

		failure = e.audit.RecordBestEffort(ctx, tx, audit.RecordInput{
			Action:        enums.AuditApprovalEscalated,
			EntityType:    "approval_request",
			EntityID:      req.ID.String(),
			ActorID:       audit.SystemActor,
			Before:        before,
			After:         req,
			Context:       audit.ApprovalBusiness(approvalContext(req, enums.ApprovalDecisionEscalate, enums.DecisionKindSystem, comment)),
			RiskLevel:     enums.RiskHigh,
			CorrelationID: req.CorrelationID,
		})
		if req.Status.IsTerminal() {
			resolved = req
			return e.emitResolved(ctx, tx, req, enums.DecisionKindSystem, audit.SystemActor)
		}
		return nil
	})
	e.audit.Escalate(ctx, failure)
	if err != nil {
		return false, err
	}
	if resolved != nil {
		e.afterResolution(ctx, *resolved, enums.DecisionKindSystem)
	}
	return applied, nil
}

// escalationFirst reports a pending request whose escalation fell due before its
// auto-approval.
func escalationFirst(req *models.ApprovalRequest) bool {
	return req.Status == enums.ApprovalStatusPending &&
		req.EscalateAt != nil &&
		req.AutoApproveAt != nil &&
		req.EscalateAt.Before(*req.AutoApproveAt)
}
