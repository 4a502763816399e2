package approvals

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgergate-backend/internal/alerts"
	"github.com/angelmondragon/ledgergate-backend/internal/audit"
	"github.com/angelmondragon/ledgergate-backend/internal/numbering"
	"github.com/angelmondragon/ledgergate-backend/pkg/correlation"
	dbpkg "github.com/angelmondragon/ledgergate-backend/pkg/db"
	"github.com/angelmondragon/ledgergate-backend/pkg/db/models"
	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgergate-backend/pkg/errors"
	"github.com/angelmondragon/ledgergate-backend/pkg/logger"
	"github.com/angelmondragon/ledgergate-backend/pkg/outbox"
	"github.com/angelmondragon/ledgergate-backend/pkg/outbox/payloads"
)

const activeEntityIndex = "ux_approval_requests_active_entity"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type approvalMetrics interface {
	IncApprovalRequest(operationType, outcome string)
	IncResolution(status, kind string)
}

// ResolutionHandler runs after a request's terminal transition has committed.
type ResolutionHandler func(ctx context.Context, req models.ApprovalRequest) error

// RequestInput asks for authorization of one operation on one entity.
type RequestInput struct {
	OperationType string          `json:"operation_type"`
	EntityType    string          `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      enums.Currency  `json:"currency"`
	Justification string          `json:"justification"`
	RequestedBy   string          `json:"requested_by"`
	RequesterRole string          `json:"requester_role"`
}

// Outcome tells the caller whether it may proceed now.
type Outcome string

const (
	OutcomeNotRequired Outcome = "not_required"
	OutcomeBypassed    Outcome = "bypassed"
	OutcomePending     Outcome = "pending"
	OutcomeDuplicate   Outcome = "duplicate"
)

// RequestOutcome carries the persisted request for pending and duplicate outcomes.
type RequestOutcome struct {
	Outcome Outcome                 `json:"outcome"`
	Request *models.ApprovalRequest `json:"request,omitempty"`
}

// Passed reports an immediate pass; the operation may run now.
func (o RequestOutcome) Passed() bool {
	return o.Outcome == OutcomeNotRequired || o.Outcome == OutcomeBypassed
}

// DecisionInput is one approver's vote.
type DecisionInput struct {
	RequestID uuid.UUID
	Actor     Actor
	Decision  enums.ApprovalDecision
	Comment   string
}

// CancelInput withdraws a pending request.
type CancelInput struct {
	RequestID uuid.UUID
	Actor     Actor
	Reason    string
}

// Status is the read model served to approvers and the orchestration layer.
type Status struct {
	Request            models.ApprovalRequest    `json:"request"`
	History            []models.ApprovalDecision `json:"history"`
	RemainingApprovals int                       `json:"remaining_approvals"`
	ApproverRoles      []string                  `json:"approver_roles"`
}

// EngineParams wires the approval engine.
type EngineParams struct {
	Repository     Repository
	Registry       *Registry
	DB             txRunner
	Audit          audit.Recorder
	Alerts         alerts.Sender
	Outbox         outboxEmitter
	Numberer       numbering.Numberer
	Metrics        approvalMetrics
	Logger         *logger.Logger
	AdminRoles     []string
	SweepBatchSize int
	Now            func() time.Time
}

type subscription struct {
	pattern string
	handler ResolutionHandler
}

// Engine runs the approval state machine.
type Engine struct {
	repo       Repository
	registry   *Registry
	tx         txRunner
	audit      audit.Recorder
	alerts     alerts.Sender
	outbox     outboxEmitter
	numberer   numbering.Numberer
	metrics    approvalMetrics
	logg       *logger.Logger
	adminRoles []string
	batch      int
	now        func() time.Time

	mu   sync.RWMutex
	subs []subscription
}

// NewEngine builds the approval engine.
func NewEngine(params EngineParams) (*Engine, error) {
	switch {
	case params.Repository == nil:
		return nil, fmt.Errorf("approvals repository required")
	case params.Registry == nil:
		return nil, fmt.Errorf("policy registry required")
	case params.DB == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Audit == nil:
		return nil, fmt.Errorf("audit recorder required")
	case params.Alerts == nil:
		return nil, fmt.Errorf("alert sender required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	batch := params.SweepBatchSize
	if batch <= 0 {
		batch = 100
	}
	adminRoles := cleanRoles(params.AdminRoles)
	if len(adminRoles) == 0 {
		adminRoles = []string{"admin"}
	}
	return &Engine{
		repo:       params.Repository,
		registry:   params.Registry,
		tx:         params.DB,
		audit:      params.Audit,
		alerts:     params.Alerts,
		outbox:     params.Outbox,
		numberer:   params.Numberer,
		metrics:    params.Metrics,
		logg:       params.Logger,
		adminRoles: adminRoles,
		batch:      batch,
		now:        now,
	}, nil
}

// Subscribe registers handler for operationType. A pattern ending in ".*"
// matches every operation type sharing the prefix.
func (e *Engine) Subscribe(operationType string, handler ResolutionHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = append(e.subs, subscription{pattern: operationType, handler: handler})
}

func (e *Engine) RequestApproval(ctx context.Context, input RequestInput) (*RequestOutcome, error) {
	input, err := normalizeRequest(input)
	if err != nil {
		return nil, err
	}
	ctx, corrID := correlation.Ensure(ctx)
	ctx = e.logg.WithFields(e.logg.WithCorrelationID(ctx, corrID), map[string]any{
		"operation_type": input.OperationType,
		"entity_type":    input.EntityType,
		"entity_id":      input.EntityID,
	})

	guard, err := e.registry.guardFor(ctx, e.repo, input.OperationType)
	if err != nil {
		return nil, err
	}
	if guard != nil && guard.EmergencyOverrideRoles.Contains(input.RequesterRole) {
		return e.bypass(ctx, input), nil
	}

	chain, err := e.registry.resolveChain(ctx, e.repo, input.OperationType, input.Amount, input.RequesterRole)
	if err != nil {
		e.countRequest(input.OperationType, "blocked")
		return nil, err
	}
	if chain == nil {
		return e.notRequired(ctx, input, guard, "no chain applies"), nil
	}
	eligible, err := eligibleApprovers(ctx, e.repo, chain, input.RequestedBy)
	if err != nil {
		return nil, err
	}
	if guard != nil && guard.BlockIfNoApprover && len(eligible) == 0 {
		e.countRequest(input.OperationType, "blocked")
		return nil, pkgerrors.New(pkgerrors.CodeNoApplicableChain, "no eligible approver exists for this operation").
			WithDetails(map[string]any{
				"operation_type": input.OperationType,
				"chain_id":       chain.ID.String(),
				"approver_roles": []string(chain.ApproverRoles),
			})
	}
	required := RequiredApprovals(chain, input.RequesterRole, eligible)
	if required == 0 {
		return e.notRequired(ctx, input, guard, "chain requires no approvals"), nil
	}

	now := e.now().UTC()
	req := &models.ApprovalRequest{
		ID:                uuid.New(),
		OperationType:     input.OperationType,
		ChainID:           chain.ID,
		EntityType:        input.EntityType,
		EntityID:          input.EntityID,
		Amount:            input.Amount,
		Currency:          input.Currency,
		Justification:     input.Justification,
		Status:            enums.ApprovalStatusPending,
		RequiredApprovals: required,
		RequestedBy:       input.RequestedBy,
		RequesterRole:     input.RequesterRole,
		RequestedAt:       now,
		CorrelationID:     corrID,
	}
	req.RequestNumber = numbering.Label(ctx, e.numberer, e.logg, numbering.EntityApprovalRequest, req.ID)
	req.AutoApproveAt = hoursFrom(now, chain.AutoApproveAfterHours)
	if chain.EscalationChainID != nil {
		req.EscalateAt = hoursFrom(now, chain.EscalateAfterHours)
	}

	var (
		existing *models.ApprovalRequest
		failure  *audit.Failure
	)
	err = e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.repo.WithTx(tx)
		insertErr := tx.Transaction(func(sp *gorm.DB) error {
			return repo.WithTx(sp).CreateRequest(ctx, req)
		})
		if insertErr != nil {
			if !dbpkg.IsUniqueViolation(insertErr, activeEntityIndex) {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, insertErr, "insert approval request")
			}
			found, err := repo.FindActiveForEntity(ctx, input.EntityType, input.EntityID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load open approval request")
			}
			existing = found
			return nil
		}
		failure = e.audit.RecordBestEffort(ctx, tx, audit.RecordInput{
			Action:        enums.AuditApprovalRequested,
			EntityType:    "approval_request",
			EntityID:      req.ID.String(),
			ActorID:       req.RequestedBy,
			ActorRole:     req.RequesterRole,
			After:         req,
			Context:       audit.ApprovalBusiness(approvalContext(req, "", "", input.Justification)),
			RiskLevel:     enums.RiskMedium,
			CorrelationID: corrID,
		})
		return nil
	})
	e.audit.Escalate(ctx, failure)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		e.countRequest(input.OperationType, string(OutcomeDuplicate))
		e.logg.Warn(ctx, "approval request already open for entity")
		return &RequestOutcome{Outcome: OutcomeDuplicate, Request: existing},
			pkgerrors.New(pkgerrors.CodeDuplicatePendingApproval, "an approval request is already open for this entity").
				WithDetails(map[string]any{
					"request_id":     existing.ID.String(),
					"request_number": existing.RequestNumber,
					"status":         existing.Status,
				})
	}

	e.countRequest(input.OperationType, string(OutcomePending))
	logCtx := e.logg.WithFields(ctx, map[string]any{
		"request_id":         req.ID.String(),
		"request_number":     req.RequestNumber,
		"required_approvals": required,
	})
	e.logg.Info(logCtx, "approval requested")
	return &RequestOutcome{Outcome: OutcomePending, Request: req}, nil
}

// bypass lets an emergency-override role skip the chain. It is always audited as critical.
func (e *Engine) bypass(ctx context.Context, input RequestInput) *RequestOutcome {
	e.audit.RecordBestEffort(ctx, nil, audit.RecordInput{
		Action:     enums.AuditApprovalBypassed,
		EntityType: input.EntityType,
		EntityID:   input.EntityID,
		ActorID:    input.RequestedBy,
		ActorRole:  input.RequesterRole,
		After:      input,
		Context: audit.ApprovalBusiness(audit.ApprovalContext{
			OperationType: input.OperationType,
			Decision:      string(enums.ApprovalDecisionApprove),
			DecisionKind:  string(enums.DecisionKindBypass),
			Comment:       input.Justification,
		}),
		RiskLevel: enums.RiskCritical,
	})
	alert := alerts.Alert{
		Category:   enums.AlertCategoryApprovalBypass,
		Severity:   enums.AlertSeverityCritical,
		Message:    fmt.Sprintf("%s bypassed approval for %s as %s", input.RequestedBy, input.OperationType, input.RequesterRole),
		EntityType: input.EntityType,
		EntityID:   input.EntityID,
	}
	if err := e.alerts.SendAlert(ctx, alert); err != nil {
		e.logg.Error(ctx, "approval bypass alert not sent", err)
	}
	e.countRequest(input.OperationType, string(OutcomeBypassed))
	e.logg.Warn(ctx, "approval bypassed by emergency override role")
	return &RequestOutcome{Outcome: OutcomeBypassed}
}

func (e *Engine) notRequired(ctx context.Context, input RequestInput, guard *models.ApprovalGuard, reason string) *RequestOutcome {
	if guard != nil && guard.AuditAllAttempts {
		e.audit.RecordBestEffort(ctx, nil, audit.RecordInput{
			Action:     enums.AuditApprovalNotRequired,
			EntityType: input.EntityType,
			EntityID:   input.EntityID,
			ActorID:    input.RequestedBy,
			ActorRole:  input.RequesterRole,
			After:      input,
			Context: audit.ApprovalBusiness(audit.ApprovalContext{
				OperationType: input.OperationType,
				DecisionKind:  string(enums.DecisionKindSystem),
				Comment:       reason,
			}),
			RiskLevel: enums.RiskLow,
		})
	}
	e.countRequest(input.OperationType, string(OutcomeNotRequired))
	e.logg.Info(e.logg.WithField(ctx, "reason", reason), "approval not required")
	return &RequestOutcome{Outcome: OutcomeNotRequired}
}

func (e *Engine) RecordApprovalDecision(ctx context.Context, input DecisionInput) (*models.ApprovalRequest, error) {
	actorID := strings.TrimSpace(input.Actor.ID)
	role := strings.ToLower(strings.TrimSpace(input.Actor.Role))
	if actorID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.Decision != enums.ApprovalDecisionApprove && input.Decision != enums.ApprovalDecisionReject {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "decision must be approve or reject").
			WithDetails(map[string]any{"decision": input.Decision})
	}

	var (
		result  *models.ApprovalRequest
		failure *audit.Failure
	)
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.repo.WithTx(tx)
		req, err := e.lockRequest(ctx, repo, input.RequestID)
		if err != nil {
			return err
		}
		if req.Status.IsTerminal() {
			return notPending(req)
		}
		chain, err := loadChain(ctx, repo, req.ChainID)
		if err != nil {
			return err
		}
		if actorID == req.RequestedBy {
			return forbidden("requesters cannot decide on their own request", req, chain)
		}
		if !chain.ApproverRoles.Contains(role) {
			return forbidden("approver role is not permitted by the approval chain", req, chain)
		}
		listed, err := isApprover(ctx, repo, actorID, role)
		if err != nil {
			return err
		}
		if !listed {
			return forbidden("approver is not listed for this role", req, chain)
		}
		history, err := repo.ListDecisions(ctx, req.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load approval history")
		}
		if votedThisRound(history, actorID) {
			return pkgerrors.New(pkgerrors.CodeConflict, "approver already decided on this request").
				WithDetails(authDetails(req, chain))
		}

		before := *req
		now := e.now().UTC()
		if err := repo.CreateDecision(ctx, &models.ApprovalDecision{
			RequestID: req.ID,
			ActorID:   actorID,
			ActorRole: role,
			Decision:  input.Decision,
			Kind:      enums.DecisionKindHuman,
			Comment:   strings.TrimSpace(input.Comment),
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record approval decision")
		}

		fields := map[string]any{"updated_at": now}
		if input.Decision == enums.ApprovalDecisionApprove {
			req.CurrentApprovals++
			fields["current_approvals"] = req.CurrentApprovals
			if req.CurrentApprovals >= req.RequiredApprovals {
				markApproved(req, fields, actorID, now)
			}
		} else {
			markRejected(req, fields, actorID, now)
		}
		rows, err := repo.TransitionRequest(ctx, req.ID, []enums.ApprovalStatus{before.Status}, fields)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update approval request")
		}
		if rows == 0 {
			return notPending(&before)
		}
		result = req

		failure = e.audit.RecordBestEffort(ctx, tx, audit.RecordInput{
			Action:        enums.AuditApprovalDecided,
			EntityType:    "approval_request",
			EntityID:      req.ID.String(),
			ActorID:       actorID,
			ActorRole:     role,
			Before:        before,
			After:         req,
			Context:       audit.ApprovalBusiness(approvalContext(req, input.Decision, enums.DecisionKindHuman, input.Comment)),
			RiskLevel:     decisionRisk(req),
			CorrelationID: req.CorrelationID,
		})
		if req.Status.IsTerminal() {
			return e.emitResolved(ctx, tx, req, enums.DecisionKindHuman, actorID)
		}
		return nil
	})
	e.audit.Escalate(ctx, failure)
	if err != nil {
		return nil, err
	}

	logCtx := e.logg.WithFields(ctx, map[string]any{
		"request_id":        result.ID.String(),
		"approver_id":       actorID,
		"decision":          input.Decision,
		"status":            result.Status,
		"current_approvals": result.CurrentApprovals,
	})
	e.logg.Info(logCtx, "approval decision recorded")
	if result.Status.IsTerminal() {
		e.afterResolution(ctx, *result, enums.DecisionKindHuman)
	}
	return result, nil
}

// CancelRequest withdraws a pending request. The requester may cancel until the
// first approval lands; admins may cancel any pending request.
func (e *Engine) CancelRequest(ctx context.Context, input CancelInput) (*models.ApprovalRequest, error) {
	actorID := strings.TrimSpace(input.Actor.ID)
	if actorID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	admin := containsRole(e.adminRoles, input.Actor.Role)

	var (
		result  *models.ApprovalRequest
		failure *audit.Failure
	)
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.repo.WithTx(tx)
		req, err := e.lockRequest(ctx, repo, input.RequestID)
		if err != nil {
			return err
		}
		if req.Status != enums.ApprovalStatusPending {
			return notPending(req)
		}
		if !admin {
			if actorID != req.RequestedBy {
				return pkgerrors.New(pkgerrors.CodeForbidden, "only the requester or an admin may cancel").
					WithDetails(map[string]any{"request_id": req.ID.String(), "admin_roles": e.adminRoles})
			}
			if req.CurrentApprovals > 0 {
				return pkgerrors.New(pkgerrors.CodeForbidden, "approvals already recorded; only an admin may cancel").
					WithDetails(map[string]any{"request_id": req.ID.String(), "current_approvals": req.CurrentApprovals})
			}
		}

		before := *req
		now := e.now().UTC()
		if err := repo.CreateDecision(ctx, &models.ApprovalDecision{
			RequestID: req.ID,
			ActorID:   actorID,
			ActorRole: input.Actor.Role,
			Decision:  enums.ApprovalDecisionCancel,
			Kind:      enums.DecisionKindHuman,
			Comment:   strings.TrimSpace(input.Reason),
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record cancellation")
		}
		req.Status = enums.ApprovalStatusCancelled
		req.CancelledAt = &now
		req.AutoApproveAt = nil
		req.EscalateAt = nil
		rows, err := repo.TransitionRequest(ctx, req.ID, []enums.ApprovalStatus{enums.ApprovalStatusPending}, map[string]any{
			"status":          req.Status,
			"cancelled_at":    now,
			"auto_approve_at": nil,
			"escalate_at":     nil,
			"updated_at":      now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel approval request")
		}
		if rows == 0 {
			return notPending(&before)
		}
		result = req

		failure = e.audit.RecordBestEffort(ctx, tx, audit.RecordInput{
			Action:        enums.AuditApprovalCancelled,
			EntityType:    "approval_request",
			EntityID:      req.ID.String(),
			ActorID:       actorID,
			ActorRole:     input.Actor.Role,
			Before:        before,
			After:         req,
			Context:       audit.ApprovalBusiness(approvalContext(req, enums.ApprovalDecisionCancel, enums.DecisionKindHuman, input.Reason)),
			RiskLevel:     enums.RiskMedium,
			CorrelationID: req.CorrelationID,
		})
		return e.emitResolved(ctx, tx, req, enums.DecisionKindHuman, actorID)
	})
	e.audit.Escalate(ctx, failure)
	if err != nil {
		return nil, err
	}
	e.logg.Info(e.logg.WithField(ctx, "request_id", result.ID.String()), "approval request cancelled")
	e.afterResolution(ctx, *result, enums.DecisionKindHuman)
	return result, nil
}

func (e *Engine) GetRequest(ctx context.Context, id uuid.UUID) (*models.ApprovalRequest, error) {
	return e.findRequest(ctx, e.repo, id)
}

func (e *Engine) GetApprovalStatus(ctx context.Context, id uuid.UUID) (*Status, error) {
	req, err := e.findRequest(ctx, e.repo, id)
	if err != nil {
		return nil, err
	}
	chain, err := loadChain(ctx, e.repo, req.ChainID)
	if err != nil {
		return nil, err
	}
	history, err := e.repo.ListDecisions(ctx, req.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load approval history")
	}
	remaining := req.RemainingApprovals()
	if req.Status.IsTerminal() {
		remaining = 0
	}
	return &Status{
		Request:            *req,
		History:            history,
		RemainingApprovals: remaining,
		ApproverRoles:      []string(chain.ApproverRoles),
	}, nil
}

// GetActiveForEntity returns the open request for the entity, or NotFound.
func (e *Engine) GetActiveForEntity(ctx context.Context, entityType, entityID string) (*models.ApprovalRequest, error) {
	req, err := e.repo.FindActiveForEntity(ctx, entityType, entityID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no open approval request for entity").
				WithDetails(map[string]any{"entity_type": entityType, "entity_id": entityID})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load open approval request")
	}
	return req, nil
}

func (e *Engine) findRequest(ctx context.Context, repo Repository, id uuid.UUID) (*models.ApprovalRequest, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "request id required")
	}
	req, err := repo.FindRequest(ctx, id)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "approval request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load approval request")
	}
	return req, nil
}

func (e *Engine) lockRequest(ctx context.Context, repo Repository, id uuid.UUID) (*models.ApprovalRequest, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "request id required")
	}
	req, err := repo.LockRequest(ctx, id)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "approval request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock approval request")
	}
	return req, nil
}

func (e *Engine) emitResolved(ctx context.Context, tx *gorm.DB, req *models.ApprovalRequest, kind enums.DecisionKind, resolvedBy string) error {
	event := outbox.DomainEvent{
		EventType:     enums.EventApprovalResolved,
		AggregateType: enums.AggregateApprovalRequest,
		AggregateID:   req.ID,
		Actor:         &outbox.ActorRef{UserID: resolvedBy},
		CorrelationID: req.CorrelationID,
		Data: payloads.ApprovalResolvedEvent{
			RequestID:     req.ID,
			RequestNumber: req.RequestNumber,
			OperationType: req.OperationType,
			EntityType:    req.EntityType,
			EntityID:      req.EntityID,
			Status:        req.Status,
			Kind:          kind,
			ResolvedBy:    resolvedBy,
			ResolvedAt:    e.now().UTC(),
		},
	}
	if err := e.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue approval resolution")
	}
	return nil
}

// afterResolution runs subscribed handlers. Handler failures never undo the transition.
func (e *Engine) afterResolution(ctx context.Context, req models.ApprovalRequest, kind enums.DecisionKind) {
	if e.metrics != nil {
		e.metrics.IncResolution(string(req.Status), string(kind))
	}
	if req.CorrelationID != "" {
		ctx = correlation.WithID(ctx, req.CorrelationID)
		ctx = e.logg.WithCorrelationID(ctx, req.CorrelationID)
	}

	e.mu.RLock()
	var handlers []ResolutionHandler
	for _, sub := range e.subs {
		if matchesOperation(sub.pattern, req.OperationType) {
			handlers = append(handlers, sub.handler)
		}
	}
	e.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, req); err != nil {
			logCtx := e.logg.WithFields(ctx, map[string]any{
				"request_id":     req.ID.String(),
				"operation_type": req.OperationType,
				"status":         req.Status,
			})
			e.logg.Error(logCtx, "approval resolution handler failed", err)
			alert := alerts.Alert{
				Category:   enums.AlertCategoryHookFailure,
				Severity:   enums.AlertSeverityCritical,
				Message:    fmt.Sprintf("resolution handler for %s (%s) failed: %v", req.RequestNumber, req.Status, err),
				EntityType: "approval_request",
				EntityID:   req.ID.String(),
			}
			if alertErr := e.alerts.SendAlert(ctx, alert); alertErr != nil {
				e.logg.Error(logCtx, "resolution failure alert not sent", alertErr)
			}
		}
	}
}

func (e *Engine) countRequest(operationType, outcome string) {
	if e.metrics != nil {
		e.metrics.IncApprovalRequest(operationType, outcome)
	}
}

func normalizeRequest(input RequestInput) (RequestInput, error) {
	input.OperationType = strings.TrimSpace(input.OperationType)
	input.EntityType = strings.TrimSpace(input.EntityType)
	input.EntityID = strings.TrimSpace(input.EntityID)
	input.RequestedBy = strings.TrimSpace(input.RequestedBy)
	input.RequesterRole = strings.ToLower(strings.TrimSpace(input.RequesterRole))
	input.Justification = strings.TrimSpace(input.Justification)

	if input.RequestedBy == "" {
		return input, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	problems := map[string]any{}
	if input.OperationType == "" {
		problems["operation_type"] = "required"
	}
	if input.EntityType == "" || input.EntityID == "" {
		problems["entity"] = "entity type and id required"
	}
	if len(problems) > 0 {
		return input, pkgerrors.New(pkgerrors.CodeValidation, "invalid approval request").WithDetails(problems)
	}
	if input.Amount.IsNegative() {
		return input, pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must not be negative").
			WithDetails(map[string]any{"amount": input.Amount.String()})
	}
	cur, err := enums.ParseCurrency(string(input.Currency))
	if err != nil {
		return input, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency")
	}
	input.Currency = cur
	return input, nil
}

func loadChain(ctx context.Context, repo Repository, id uuid.UUID) (*models.ApprovalChain, error) {
	chain, err := repo.FindChain(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load approval chain")
	}
	return chain, nil
}

func markApproved(req *models.ApprovalRequest, fields map[string]any, approver string, now time.Time) {
	req.Status = enums.ApprovalStatusApproved
	req.FinalApprover = &approver
	req.ApprovedAt = &now
	req.AutoApproveAt = nil
	req.EscalateAt = nil
	fields["status"] = req.Status
	fields["final_approver"] = approver
	fields["approved_at"] = now
	fields["auto_approve_at"] = nil
	fields["escalate_at"] = nil
}

func markRejected(req *models.ApprovalRequest, fields map[string]any, rejecter string, now time.Time) {
	req.Status = enums.ApprovalStatusRejected
	req.FinalRejecter = &rejecter
	req.RejectedAt = &now
	req.AutoApproveAt = nil
	req.EscalateAt = nil
	fields["status"] = req.Status
	fields["final_rejecter"] = rejecter
	fields["rejected_at"] = now
	fields["auto_approve_at"] = nil
	fields["escalate_at"] = nil
}

// votedThisRound reports a prior human vote by actorID since the last escalation.
func votedThisRound(history []models.ApprovalDecision, actorID string) bool {
	voted := false
	for _, d := range history {
		switch d.Decision {
		case enums.ApprovalDecisionEscalate:
			voted = false
		case enums.ApprovalDecisionApprove, enums.ApprovalDecisionReject:
			if d.Kind == enums.DecisionKindHuman && d.ActorID == actorID {
				voted = true
			}
		}
	}
	return voted
}

func notPending(req *models.ApprovalRequest) error {
	return pkgerrors.New(pkgerrors.CodeNotPending, "approval request is no longer pending").
		WithDetails(map[string]any{
			"request_id": req.ID.String(),
			"status":     req.Status,
		})
}

func forbidden(message string, req *models.ApprovalRequest, chain *models.ApprovalChain) error {
	return pkgerrors.New(pkgerrors.CodeForbidden, message).WithDetails(authDetails(req, chain))
}

func authDetails(req *models.ApprovalRequest, chain *models.ApprovalChain) map[string]any {
	return map[string]any{
		"request_id":          req.ID.String(),
		"remaining_approvals": req.RemainingApprovals(),
		"approver_roles":      []string(chain.ApproverRoles),
	}
}

func approvalContext(req *models.ApprovalRequest, decision enums.ApprovalDecision, kind enums.DecisionKind, comment string) audit.ApprovalContext {
	return audit.ApprovalContext{
		OperationType:     req.OperationType,
		RequestNumber:     req.RequestNumber,
		ChainID:           req.ChainID.String(),
		Decision:          string(decision),
		DecisionKind:      string(kind),
		RequiredApprovals: req.RequiredApprovals,
		CurrentApprovals:  req.CurrentApprovals,
		Comment:           strings.TrimSpace(comment),
	}
}

func decisionRisk(req *models.ApprovalRequest) enums.RiskLevel {
	if req.Status == enums.ApprovalStatusApproved {
		return enums.RiskHigh
	}
	return enums.RiskMedium
}

func hoursFrom(now time.Time, hours *int) *time.Time {
	if hours == nil || *hours <= 0 {
		return nil
	}
	at := now.Add(time.Duration(*hours) * time.Hour)
	return &at
}

func matchesOperation(pattern, operationType string) bool {
	if strings.HasSuffix(pattern, ".*") {
		return strings.HasPrefix(operationType, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == operationType
}

func containsRole(roles []string, role string) bool {
	role = strings.ToLower(strings.TrimSpace(role))
	for _, candidate := range roles {
		if candidate == role {
			return true
		}
	}
	return false
}
