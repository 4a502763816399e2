// Package finance gates ledger mutations behind the approval engine. A proposed
// mutation either runs at once or is parked until its approval request resolves.
package finance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgergate-backend/internal/alerts"
	"github.com/angelmondragon/ledgergate-backend/internal/approvals"
	"github.com/angelmondragon/ledgergate-backend/internal/audit"
	"github.com/angelmondragon/ledgergate-backend/internal/currency"
	"github.com/angelmondragon/ledgergate-backend/internal/ledger"
	"github.com/angelmondragon/ledgergate-backend/pkg/correlation"
	dbpkg "github.com/angelmondragon/ledgergate-backend/pkg/db"
	"github.com/angelmondragon/ledgergate-backend/pkg/db/models"
	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgergate-backend/pkg/errors"
	"github.com/angelmondragon/ledgergate-backend/pkg/logger"
)

// EntityMutation is the approval entity type of a parked ledger mutation.
const EntityMutation = "ledger_mutation"

// OperationPattern subscribes to resolutions of every ledger operation type.
const OperationPattern = "ledger.*"

// OperationType names the approval operation for an entry type in a stream.
func OperationType(stream enums.LedgerStream, entryType enums.LedgerEntryType) string {
	return fmt.Sprintf("ledger.%s.%s", stream, entryType)
}

// errMutationSettled rolls back an apply that lost the race to settle the mutation.
var errMutationSettled = pkgerrors.New(pkgerrors.CodeStateConflict, "pending mutation already settled")

type approvalGate interface {
	RequestApproval(ctx context.Context, input approvals.RequestInput) (*approvals.RequestOutcome, error)
	Subscribe(operationType string, handler approvals.ResolutionHandler)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ProposeInput is a ledger write that may need authorization first.
type ProposeInput struct {
	// MutationID lets a client resubmit the same proposal without opening a second request.
	MutationID    *uuid.UUID
	Entry         ledger.RecordEntryInput
	Justification string
}

// ReclassInput moves part of an entry's effect into the other stream.
type ReclassInput struct {
	MutationID    *uuid.UUID
	EntryID       uuid.UUID
	Amount        decimal.Decimal
	Description   string
	Justification string
	Actor         ledger.Actor
}

// ReverseInput backs out part or all of an entry in its own stream. A nil Amount
// reverses the whole original amount.
type ReverseInput struct {
	MutationID    *uuid.UUID
	EntryID       uuid.UUID
	Amount        *decimal.Decimal
	Description   string
	Justification string
	Actor         ledger.Actor
}

// RedriveResult counts one pass over stranded mutations.
type RedriveResult struct {
	Scanned int
	Handled int
}

// ProposeOutcome reports what happened to a proposal. Entries is set when the
// mutation was applied during the call.
type ProposeOutcome struct {
	Outcome  approvals.Outcome       `json:"outcome"`
	Mutation *models.PendingMutation `json:"mutation,omitempty"`
	Request  *models.ApprovalRequest `json:"approval_request,omitempty"`
	Entries  []*models.LedgerEntry   `json:"entries,omitempty"`
}

// Applied reports whether the ledger already carries the mutation.
func (o ProposeOutcome) Applied() bool {
	return len(o.Entries) > 0
}

// payload is the stored form of a parked mutation.
type payload struct {
	Entries []ledger.RecordEntryInput `json:"entries"`
}

type ServiceParams struct {
	Repository Repository
	DB         txRunner
	Ledger     ledger.Service
	Approvals  approvalGate
	Currency   currency.Authority
	Audit      audit.Recorder
	Alerts     alerts.Sender
	Logger     *logger.Logger
}

type Service struct {
	repo     Repository
	tx       txRunner
	ledger   ledger.Service
	gate     approvalGate
	currency currency.Authority
	audit    audit.Recorder
	alerts   alerts.Sender
	logg     *logger.Logger
	now      func() time.Time
}

// NewService wires the orchestration layer and subscribes it to ledger approval resolutions.
func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Repository == nil:
		return nil, fmt.Errorf("pending mutation repository required")
	case params.DB == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger service required")
	case params.Approvals == nil:
		return nil, fmt.Errorf("approval engine required")
	case params.Currency == nil:
		return nil, fmt.Errorf("currency authority required")
	case params.Audit == nil:
		return nil, fmt.Errorf("audit recorder required")
	case params.Alerts == nil:
		return nil, fmt.Errorf("alert sender required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	svc := &Service{
		repo:     params.Repository,
		tx:       params.DB,
		ledger:   params.Ledger,
		gate:     params.Approvals,
		currency: params.Currency,
		audit:    params.Audit,
		alerts:   params.Alerts,
		logg:     params.Logger,
		now:      time.Now,
	}
	svc.gate.Subscribe(OperationPattern, svc.HandleResolution)
	return svc, nil
}

// ProposeEntry records the entry at once when no approval is needed, otherwise
// parks it until the approval request resolves.
func (s *Service) ProposeEntry(ctx context.Context, input ProposeInput) (*ProposeOutcome, error) {
	entry := input.Entry
	if strings.TrimSpace(entry.ActorID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !entry.Stream.IsValid() || !entry.Type.AllowedIn(entry.Stream) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "entry type not allowed in stream").
			WithDetails(map[string]any{"stream": entry.Stream, "type": entry.Type})
	}
	if entry.Type == enums.LedgerEntryReverse && entry.ReversesEntryID != nil {
		amount := entry.Amount
		return s.Reverse(ctx, ReverseInput{
			MutationID:    input.MutationID,
			EntryID:       *entry.ReversesEntryID,
			Amount:        &amount,
			Description:   entry.Description,
			Justification: input.Justification,
			Actor:         ledger.Actor{ID: entry.ActorID, Role: entry.ActorRole},
		})
	}
	if entry.Type.IsCorrective() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reverse entries need reverses_entry_id; reclass entries go through reclassify").
			WithDetails(map[string]any{"type": entry.Type})
	}
	if !entry.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be positive").
			WithDetails(map[string]any{"amount": entry.Amount.String()})
	}
	conv, err := s.currency.Convert(ctx, entry.Amount, entry.Currency)
	if err != nil {
		return nil, err
	}
	return s.propose(ctx, proposal{
		mutationID:    input.MutationID,
		operationType: OperationType(entry.Stream, entry.Type),
		baseAmount:    conv.Amount,
		justification: input.Justification,
		actor:         ledger.Actor{ID: entry.ActorID, Role: entry.ActorRole},
		entries:       []ledger.RecordEntryInput{entry},
	})
}

// Reclassify writes both reclass legs in one ledger transaction once authorized.
func (s *Service) Reclassify(ctx context.Context, input ReclassInput) (*ProposeOutcome, error) {
	if strings.TrimSpace(input.Actor.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be positive").
			WithDetails(map[string]any{"amount": input.Amount.String()})
	}
	original, err := s.ledger.GetEntry(ctx, input.EntryID)
	if err != nil {
		return nil, err
	}
	if original.Type.IsCorrective() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "corrective entries cannot be reclassified").
			WithDetails(map[string]any{"entry_id": original.ID.String(), "type": original.Type})
	}
	if input.Amount.GreaterThan(original.Amount) {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "reclass exceeds the original amount").
			WithDetails(map[string]any{"original_amount": original.Amount.String(), "requested": input.Amount.String()})
	}

	description := strings.TrimSpace(input.Description)
	if description == "" {
		description = fmt.Sprintf("reclass of %s", original.EntryNumber)
	}
	leg := func(stream enums.LedgerStream) ledger.RecordEntryInput {
		return ledger.RecordEntryInput{
			Stream:          stream,
			Type:            enums.LedgerEntryReclass,
			Amount:          input.Amount,
			Currency:        original.Currency,
			ReversesEntryID: &original.ID,
			Description:     description,
			ActorID:         input.Actor.ID,
			ActorRole:       input.Actor.Role,
		}
	}
	return s.propose(ctx, proposal{
		mutationID:    input.MutationID,
		operationType: OperationType(original.Stream, enums.LedgerEntryReclass),
		baseAmount:    frozenBase(original, input.Amount),
		justification: input.Justification,
		actor:         input.Actor,
		entries:       []ledger.RecordEntryInput{leg(original.Stream), leg(original.Stream.Other())},
	})
}

// Reverse records a reverse entry against an original once authorized. The
// ledger freezes the original's rate and caps the total reversed amount.
func (s *Service) Reverse(ctx context.Context, input ReverseInput) (*ProposeOutcome, error) {
	if strings.TrimSpace(input.Actor.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	original, err := s.ledger.GetEntry(ctx, input.EntryID)
	if err != nil {
		return nil, err
	}
	if original.Type.IsCorrective() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "corrective entries cannot be reversed").
			WithDetails(map[string]any{"entry_id": original.ID.String(), "type": original.Type})
	}
	amount := original.Amount
	if input.Amount != nil {
		amount = *input.Amount
	}
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be positive").
			WithDetails(map[string]any{"amount": amount.String()})
	}
	if amount.GreaterThan(original.Amount) {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "reversal exceeds the original amount").
			WithDetails(map[string]any{"original_amount": original.Amount.String(), "requested": amount.String()})
	}

	description := strings.TrimSpace(input.Description)
	if description == "" {
		description = fmt.Sprintf("reversal of %s", original.EntryNumber)
	}
	return s.propose(ctx, proposal{
		mutationID:    input.MutationID,
		operationType: OperationType(original.Stream, enums.LedgerEntryReverse),
		baseAmount:    frozenBase(original, amount),
		justification: input.Justification,
		actor:         input.Actor,
		entries: []ledger.RecordEntryInput{{
			Stream:          original.Stream,
			Type:            enums.LedgerEntryReverse,
			Amount:          amount,
			Currency:        original.Currency,
			ReversesEntryID: &original.ID,
			Description:     description,
			ActorID:         input.Actor.ID,
			ActorRole:       input.Actor.Role,
		}},
	})
}

// frozenBase converts a corrective amount at the original entry's recorded rate.
func frozenBase(original *models.LedgerEntry, amount decimal.Decimal) decimal.Decimal {
	if original.ExchangeRate.IsZero() || original.ExchangeRate.Equal(decimal.NewFromInt(1)) {
		return amount
	}
	return amount.DivRound(original.ExchangeRate, currency.ConversionScale)
}

type proposal struct {
	mutationID    *uuid.UUID
	operationType string
	baseAmount    decimal.Decimal
	justification string
	actor         ledger.Actor
	entries       []ledger.RecordEntryInput
}

func (s *Service) propose(ctx context.Context, p proposal) (*ProposeOutcome, error) {
	ctx, corrID := correlation.Ensure(ctx)
	ctx = s.logg.WithFields(s.logg.WithCorrelationID(ctx, corrID), map[string]any{
		"operation_type": p.operationType,
		"actor_id":       p.actor.ID,
	})

	mutation, err := s.parkedMutation(ctx, p, corrID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithField(ctx, "mutation_id", mutation.ID.String())

	result, err := s.gate.RequestApproval(ctx, approvals.RequestInput{
		OperationType: p.operationType,
		EntityType:    EntityMutation,
		EntityID:      mutation.ID.String(),
		Amount:        p.baseAmount,
		Currency:      s.currency.BaseCurrency(),
		Justification: p.justification,
		RequestedBy:   p.actor.ID,
		RequesterRole: p.actor.Role,
	})
	if result != nil && result.Outcome == approvals.OutcomeDuplicate {
		return &ProposeOutcome{Outcome: result.Outcome, Mutation: mutation, Request: result.Request}, err
	}
	if err != nil {
		s.settle(ctx, mutation.ID, enums.PendingMutationDiscarded, err.Error())
		return nil, err
	}

	if result.Passed() {
		entries, err := s.ledger.RecordEntriesWithin(ctx, p.entries, s.markApplied(ctx, mutation.ID))
		if err != nil {
			if errors.Is(err, errMutationSettled) {
				return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "mutation already settled").
					WithDetails(map[string]any{"mutation_id": mutation.ID.String()})
			}
			s.settle(ctx, mutation.ID, enums.PendingMutationFailed, err.Error())
			return nil, err
		}
		mutation.Status = enums.PendingMutationApplied
		mutation.EntryID = &entries[0].ID
		return &ProposeOutcome{Outcome: result.Outcome, Mutation: mutation, Entries: entries}, nil
	}

	rows, err := s.repo.Transition(ctx, mutation.ID, map[string]any{
		"approval_request_id": result.Request.ID,
		"updated_at":          s.now().UTC(),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "link pending mutation")
	}
	if rows == 1 {
		mutation.ApprovalRequestID = &result.Request.ID
	}
	s.logg.Info(s.logg.WithField(ctx, "request_id", result.Request.ID.String()), "ledger mutation awaiting approval")
	return &ProposeOutcome{Outcome: result.Outcome, Mutation: mutation, Request: result.Request}, nil
}

// parkedMutation stores the proposal, or returns the stored one on resubmission.
func (s *Service) parkedMutation(ctx context.Context, p proposal, corrID string) (*models.PendingMutation, error) {
	if p.mutationID != nil {
		existing, err := s.repo.FindByID(ctx, *p.mutationID)
		switch {
		case err == nil:
			if existing.Status != enums.PendingMutationAwaiting {
				return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "mutation already settled").
					WithDetails(map[string]any{"mutation_id": existing.ID.String(), "status": existing.Status})
			}
			return existing, nil
		case !dbpkg.IsNotFound(err):
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending mutation")
		}
	}

	raw, err := json.Marshal(payload{Entries: p.entries})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode pending mutation")
	}
	mutation := &models.PendingMutation{
		OperationType: p.operationType,
		Payload:       raw,
		Status:        enums.PendingMutationAwaiting,
		RequestedBy:   p.actor.ID,
		RequesterRole: p.actor.Role,
		CorrelationID: corrID,
	}
	if p.mutationID != nil {
		mutation.ID = *p.mutationID
	}
	if err := s.repo.Create(ctx, mutation); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store pending mutation")
	}
	return mutation, nil
}

// HandleResolution applies or discards the mutation behind a resolved request.
// The entries and the applied status commit together, so running it twice for
// one request is safe. A ledger rejection marks the mutation failed and alerts;
// retryable errors are returned and leave the mutation awaiting for Redrive.
func (s *Service) HandleResolution(ctx context.Context, req models.ApprovalRequest) error {
	if req.EntityType != EntityMutation {
		return nil
	}
	id, err := uuid.Parse(req.EntityID)
	if err != nil {
		return fmt.Errorf("parse mutation id %q: %w", req.EntityID, err)
	}
	mutation, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			s.logg.Warn(s.logg.WithField(ctx, "mutation_id", req.EntityID), "resolved request has no pending mutation")
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending mutation")
	}
	if mutation.Status != enums.PendingMutationAwaiting {
		return nil
	}
	if mutation.CorrelationID != "" {
		ctx = correlation.WithID(ctx, mutation.CorrelationID)
		ctx = s.logg.WithCorrelationID(ctx, mutation.CorrelationID)
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"mutation_id": mutation.ID.String(),
		"request_id":  req.ID.String(),
		"status":      req.Status,
	})

	if req.Status != enums.ApprovalStatusApproved {
		return s.transition(ctx, mutation.ID, enums.PendingMutationDiscarded, string(req.Status))
	}

	var stored payload
	if err := json.Unmarshal(mutation.Payload, &stored); err != nil || len(stored.Entries) == 0 {
		reason := "stored mutation payload is unreadable"
		if err != nil {
			reason = fmt.Sprintf("%s: %v", reason, err)
		}
		return s.fail(ctx, mutation, reason)
	}
	entries, err := s.ledger.RecordEntriesWithin(ctx, stored.Entries, s.markApplied(ctx, mutation.ID))
	switch {
	case errors.Is(err, errMutationSettled):
		return nil
	case pkgerrors.IsRetryable(err):
		return err
	case err != nil:
		return s.fail(ctx, mutation, err.Error())
	}
	s.logg.Info(s.logg.WithField(ctx, "entry_id", entries[0].ID.String()), "approved ledger mutation applied")
	return nil
}

// Redrive settles mutations whose request resolved before resolvedBefore but
// whose resolution hook failed or never ran.
func (s *Service) Redrive(ctx context.Context, resolvedBefore time.Time, limit int) (RedriveResult, error) {
	stranded, err := s.repo.ListStranded(ctx, resolvedBefore, limit)
	if err != nil {
		return RedriveResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stranded mutations")
	}
	result := RedriveResult{Scanned: len(stranded)}
	var errs error
	for _, req := range stranded {
		reqCtx := s.logg.WithFields(ctx, map[string]any{"request_id": req.ID.String(), "mutation_id": req.EntityID})
		if err := s.HandleResolution(reqCtx, req); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("mutation %s: %w", req.EntityID, err))
			continue
		}
		result.Handled++
		s.logg.Warn(reqCtx, "stranded ledger mutation settled")
	}
	return result, errs
}

func (s *Service) GetMutation(ctx context.Context, id uuid.UUID) (*models.PendingMutation, error) {
	mutation, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "pending mutation not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending mutation")
	}
	return mutation, nil
}

// markApplied flips the mutation to applied inside the ledger transaction, or
// rolls the entries back when another path settled it first.
func (s *Service) markApplied(ctx context.Context, id uuid.UUID) ledger.WithinFunc {
	return func(tx *gorm.DB, entries []*models.LedgerEntry) error {
		rows, err := s.repo.WithTx(tx).Transition(ctx, id, map[string]any{
			"status":     enums.PendingMutationApplied,
			"entry_id":   entries[0].ID,
			"updated_at": s.now().UTC(),
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark pending mutation applied")
		}
		if rows == 0 {
			return errMutationSettled
		}
		return nil
	}
}

// fail records an approved mutation the ledger refused, then alerts operators.
func (s *Service) fail(ctx context.Context, mutation *models.PendingMutation, reason string) error {
	var failure *audit.Failure
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.repo.WithTx(tx).Transition(ctx, mutation.ID, map[string]any{
			"status":         enums.PendingMutationFailed,
			"failure_reason": reason,
			"updated_at":     s.now().UTC(),
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark pending mutation failed")
		}
		if rows == 0 {
			return nil
		}
		after := *mutation
		after.Status = enums.PendingMutationFailed
		after.FailureReason = &reason
		failure = s.audit.RecordBestEffort(ctx, tx, audit.RecordInput{
			Action:     enums.AuditPendingMutationFailed,
			EntityType: EntityMutation,
			EntityID:   mutation.ID.String(),
			ActorID:    audit.SystemActor,
			Before:     mutation,
			After:      after,
			Context: audit.ApprovalBusiness(audit.ApprovalContext{
				OperationType: mutation.OperationType,
				Decision:      string(enums.ApprovalDecisionApprove),
				Comment:       reason,
			}),
			RiskLevel:     enums.RiskHigh,
			CorrelationID: mutation.CorrelationID,
		})
		return nil
	})
	s.audit.Escalate(ctx, failure)
	if err != nil {
		return err
	}

	s.logg.Warn(s.logg.WithField(ctx, "reason", reason), "approved ledger mutation failed")
	alert := alerts.Alert{
		Category:   enums.AlertCategoryMutationFailure,
		Severity:   enums.AlertSeverityCritical,
		Message:    fmt.Sprintf("approved %s could not be applied: %s", mutation.OperationType, reason),
		EntityType: EntityMutation,
		EntityID:   mutation.ID.String(),
	}
	if err := s.alerts.SendAlert(ctx, alert); err != nil {
		s.logg.Error(ctx, "mutation failure alert not sent", err)
	}
	return nil
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, status enums.PendingMutationStatus, reason string) error {
	fields := map[string]any{
		"status":     status,
		"updated_at": s.now().UTC(),
	}
	if reason != "" {
		fields["failure_reason"] = reason
	}
	if _, err := s.repo.Transition(ctx, id, fields); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update pending mutation")
	}
	return nil
}

// settle is transition for paths that already have an error to report.
func (s *Service) settle(ctx context.Context, id uuid.UUID, status enums.PendingMutationStatus, reason string) {
	if err := s.transition(ctx, id, status, reason); err != nil {
		s.logg.Error(ctx, "pending mutation not settled", err)
	}
}
