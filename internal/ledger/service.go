package ledger

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgergate-backend/internal/alerts"
	"github.com/angelmondragon/ledgergate-backend/internal/audit"
	"github.com/angelmondragon/ledgergate-backend/internal/currency"
	"github.com/angelmondragon/ledgergate-backend/internal/numbering"
	"github.com/angelmondragon/ledgergate-backend/internal/settings"
	"github.com/angelmondragon/ledgergate-backend/pkg/correlation"
	dbpkg "github.com/angelmondragon/ledgergate-backend/pkg/db"
	"github.com/angelmondragon/ledgergate-backend/pkg/db/models"
	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgergate-backend/pkg/errors"
	"github.com/angelmondragon/ledgergate-backend/pkg/logger"
	"github.com/angelmondragon/ledgergate-backend/pkg/outbox"
	"github.com/angelmondragon/ledgergate-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/ledgergate-backend/pkg/pagination"
)

// MaxScale is the number of decimal places amounts may carry.
const MaxScale = 6

// Service defines the ledger store operations.
type Service interface {
	RecordEntry(ctx context.Context, input RecordEntryInput) (*models.LedgerEntry, error)
	RecordEntries(ctx context.Context, inputs []RecordEntryInput) ([]*models.LedgerEntry, error)
	RecordEntriesWithin(ctx context.Context, inputs []RecordEntryInput, within WithinFunc) ([]*models.LedgerEntry, error)
	ComputeBalance(ctx context.Context, stream enums.LedgerStream, asOf *time.Time) (*Balance, error)
	ValidateEntry(ctx context.Context, id uuid.UUID, actor Actor) (*models.LedgerEntry, error)
	ReconcileAllocations(ctx context.Context, id uuid.UUID, actor Actor) (*models.LedgerEntry, error)
	UpdateEntry(ctx context.Context, input UpdateEntryInput) (*models.LedgerEntry, error)
	VoidEntry(ctx context.Context, input VoidEntryInput) error
	GetEntry(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error)
	ListEntries(ctx context.Context, filter EntryFilter) (pagination.Page[models.LedgerEntry], error)
}

// WithinFunc runs inside the recording transaction after every entry is
// inserted. Returning an error rolls the entries back.
type WithinFunc func(tx *gorm.DB, entries []*models.LedgerEntry) error

// Actor identifies who performs a ledger operation.
type Actor struct {
	ID   string
	Role string
}

// RecordEntryInput captures a new ledger movement. Amount is always positive;
// Type decides the direction.
type RecordEntryInput struct {
	Stream          enums.LedgerStream    `json:"stream"`
	Type            enums.LedgerEntryType `json:"type"`
	Amount          decimal.Decimal       `json:"amount"`
	Currency        enums.Currency        `json:"currency"`
	Reference       *string               `json:"reference,omitempty"`
	ReversesEntryID *uuid.UUID            `json:"reverses_entry_id,omitempty"`
	Description     string                `json:"description"`
	OccurredAt      time.Time             `json:"occurred_at"`
	Allocations     []AllocationInput     `json:"allocations,omitempty"`
	ActorID         string                `json:"actor_id"`
	ActorRole       string                `json:"actor_role"`
}

// UpdateEntryInput edits the description of an unreferenced, unvalidated
// entry. Amounts are fixed once recorded; a wrong amount is reversed.
type UpdateEntryInput struct {
	ID          uuid.UUID
	Description *string
	Actor       Actor
}

// VoidEntryInput soft-deletes an unreferenced entry.
type VoidEntryInput struct {
	ID     uuid.UUID
	Reason string
	Actor  Actor
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type ledgerMetrics interface {
	IncEntryRecorded(stream, entryType string)
	IncWriteRejected(code string)
}

// ServiceParams wires the ledger store.
type ServiceParams struct {
	Repository             Repository
	DB                     txRunner
	Currency               currency.Authority
	Settings               settings.Getter
	Audit                  audit.Recorder
	Alerts                 alerts.Sender
	Outbox                 outboxEmitter
	Numberer               numbering.Numberer
	Metrics                ledgerMetrics
	Logger                 *logger.Logger
	PreventNegativeBalance bool
	LowBalanceThreshold    decimal.Decimal
}

type service struct {
	repo      Repository
	tx        txRunner
	currency  currency.Authority
	settings  settings.Getter
	audit     audit.Recorder
	alerts    alerts.Sender
	outbox    outboxEmitter
	numberer  numbering.Numberer
	metrics   ledgerMetrics
	logg      *logger.Logger
	prevent   bool
	threshold decimal.Decimal
	now       func() time.Time
}

// NewService wires a ledger service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repository == nil:
		return nil, fmt.Errorf("ledger repository required")
	case params.DB == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Currency == nil:
		return nil, fmt.Errorf("currency authority required")
	case params.Settings == nil:
		return nil, fmt.Errorf("settings getter required")
	case params.Audit == nil:
		return nil, fmt.Errorf("audit recorder required")
	case params.Alerts == nil:
		return nil, fmt.Errorf("alert sender required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:      params.Repository,
		tx:        params.DB,
		currency:  params.Currency,
		settings:  params.Settings,
		audit:     params.Audit,
		alerts:    params.Alerts,
		outbox:    params.Outbox,
		numberer:  params.Numberer,
		metrics:   params.Metrics,
		logg:      params.Logger,
		prevent:   params.PreventNegativeBalance,
		threshold: params.LowBalanceThreshold,
		now:       time.Now,
	}, nil
}

func (s *service) RecordEntry(ctx context.Context, input RecordEntryInput) (*models.LedgerEntry, error) {
	entries, err := s.RecordEntries(ctx, []RecordEntryInput{input})
	if err != nil {
		return nil, err
	}
	return entries[0], nil
}

// RecordEntries writes every input in one transaction. Streams are locked in a
// fixed order before any balance is read.
func (s *service) RecordEntries(ctx context.Context, inputs []RecordEntryInput) ([]*models.LedgerEntry, error) {
	return s.RecordEntriesWithin(ctx, inputs, nil)
}

func (s *service) RecordEntriesWithin(ctx context.Context, inputs []RecordEntryInput, within WithinFunc) ([]*models.LedgerEntry, error) {
	if len(inputs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one entry required")
	}
	ctx, corrID := correlation.Ensure(ctx)
	ctx = s.logg.WithCorrelationID(ctx, corrID)

	drafts := make([]*models.LedgerEntry, 0, len(inputs))
	for _, input := range inputs {
		draft, err := s.prepare(ctx, input, corrID)
		if err != nil {
			s.rejected(err)
			return nil, err
		}
		drafts = append(drafts, draft)
	}
	prevent := s.preventNegative(ctx)

	var (
		failures []*audit.Failure
		after    = map[enums.LedgerStream]decimal.Decimal{}
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		for _, stream := range lockOrder(drafts) {
			if err := repo.LockStream(ctx, stream); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock ledger stream")
			}
		}
		for i, draft := range drafts {
			if draft.ReversesEntryID != nil {
				if err := s.applyCorrection(ctx, repo, draft); err != nil {
					return err
				}
			}
			balance, err := s.streamBalance(ctx, repo, draft.Stream, nil)
			if err != nil {
				return err
			}
			next := balance.Amount.Add(draft.SignedBaseAmount())
			if prevent && draft.Direction == enums.DirectionOutflow && next.IsNegative() {
				return insufficient(draft.Stream, balance.Amount, draft.BaseAmount)
			}
			if err := repo.CreateEntry(ctx, draft); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert ledger entry")
			}
			after[draft.Stream] = next

			failures = append(failures, s.audit.RecordBestEffort(ctx, tx, audit.RecordInput{
				Action:     enums.AuditLedgerEntryRecorded,
				EntityType: "ledger_entry",
				EntityID:   draft.ID.String(),
				ActorID:    draft.CreatedBy,
				ActorRole:  inputs[i].ActorRole,
				After:      draft,
				Context:    audit.LedgerBusiness(ledgerContext(draft, &next, "")),
				RiskLevel:  recordRisk(draft),
			}))
			if err := s.outbox.Emit(ctx, tx, recordedEvent(draft, inputs[i].ActorRole)); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue ledger event")
			}
		}
		if within != nil {
			return within(tx, drafts)
		}
		return nil
	})
	s.audit.Escalate(ctx, failures...)
	if err != nil {
		s.rejected(err)
		return nil, err
	}

	for _, draft := range drafts {
		if s.metrics != nil {
			s.metrics.IncEntryRecorded(string(draft.Stream), string(draft.Type))
		}
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"entry_id":     draft.ID.String(),
			"entry_number": draft.EntryNumber,
			"stream":       draft.Stream,
			"type":         draft.Type,
			"base_amount":  draft.BaseAmount.String(),
		})
		s.logg.Info(logCtx, "ledger entry recorded")
	}
	s.checkLowBalance(ctx, drafts, after)
	return drafts, nil
}

// prepare runs every check that needs no transaction, including rate lookup.
func (s *service) prepare(ctx context.Context, input RecordEntryInput, corrID string) (*models.LedgerEntry, error) {
	if strings.TrimSpace(input.ActorID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !input.Stream.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid ledger stream").
			WithDetails(map[string]any{"stream": input.Stream})
	}
	if !input.Type.AllowedIn(input.Stream) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "entry type not allowed in stream").
			WithDetails(map[string]any{"stream": input.Stream, "type": input.Type})
	}
	if err := validateAmount(input.Amount); err != nil {
		return nil, err
	}
	cur, err := enums.ParseCurrency(string(input.Currency))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency")
	}
	if input.Type.IsCorrective() && input.ReversesEntryID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "corrective entries must reference the entry they correct")
	}
	if !input.Type.IsCorrective() && input.ReversesEntryID != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "only reverse and reclass entries may reference another entry")
	}
	if err := ValidateLinkedAmounts(input.Amount, input.Allocations); err != nil {
		return nil, err
	}

	occurredAt := input.OccurredAt.UTC()
	if input.OccurredAt.IsZero() {
		occurredAt = s.now().UTC()
	}
	var reference *string
	if input.Reference != nil && strings.TrimSpace(*input.Reference) != "" {
		ref := strings.TrimSpace(*input.Reference)
		reference = &ref
	}

	draft := &models.LedgerEntry{
		ID:              uuid.New(),
		Stream:          input.Stream,
		Type:            input.Type,
		Amount:          input.Amount,
		Currency:        cur,
		Reference:       reference,
		ReversesEntryID: input.ReversesEntryID,
		Description:     strings.TrimSpace(input.Description),
		CreatedBy:       input.ActorID,
		CorrelationID:   corrID,
		OccurredAt:      occurredAt,
	}
	for _, alloc := range input.Allocations {
		draft.Allocations = append(draft.Allocations, models.LedgerAllocation{
			TargetType: alloc.TargetType,
			TargetID:   alloc.TargetID,
			Amount:     alloc.Amount,
		})
	}

	// Corrective entries take the original's frozen rate inside the transaction.
	if !input.Type.IsCorrective() {
		conv, err := s.currency.Convert(ctx, input.Amount, cur)
		if err != nil {
			return nil, err
		}
		draft.ExchangeRate = conv.RateUsed
		draft.BaseAmount = conv.Amount
		draft.Direction = enums.DirectionOutflow
		if input.Type.IsInflow() {
			draft.Direction = enums.DirectionInflow
		}
	}
	draft.EntryNumber = numbering.Label(ctx, s.numberer, s.logg, numbering.EntityLedgerEntry, draft.ID)
	return draft, nil
}

// applyCorrection derives sign, rate and base amount of a reverse or reclass leg
// from the original entry, and caps the total corrected amount.
func (s *service) applyCorrection(ctx context.Context, repo Repository, draft *models.LedgerEntry) error {
	original, err := repo.FindEntry(ctx, *draft.ReversesEntryID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "corrected entry not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load corrected entry")
	}
	if draft.Type == enums.LedgerEntryReverse && draft.Stream != original.Stream {
		return pkgerrors.New(pkgerrors.CodeValidation, "reverse entries must stay in the original stream").
			WithDetails(map[string]any{"original_stream": original.Stream})
	}
	if draft.Currency != original.Currency {
		return pkgerrors.New(pkgerrors.CodeValidation, "corrective entries must use the original currency").
			WithDetails(map[string]any{"original_currency": original.Currency})
	}

	leaving := draft.Stream == original.Stream
	if leaving {
		draft.Direction = original.Direction.Opposite()
		corrections, err := repo.ListCorrections(ctx, original.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load corrections")
		}
		corrected, correctedBase := decimal.Zero, decimal.Zero
		for _, c := range corrections {
			if c.Stream == original.Stream {
				corrected = corrected.Add(c.Amount)
				correctedBase = correctedBase.Add(c.BaseAmount)
			}
		}
		if corrected.Add(draft.Amount).GreaterThan(original.Amount) {
			return pkgerrors.New(pkgerrors.CodeInvalidAmount, "correction exceeds the original amount").
				WithDetails(map[string]any{
					"original_amount":   original.Amount.String(),
					"already_corrected": corrected.String(),
					"requested":         draft.Amount.String(),
				})
		}
		// The leg that closes the original takes whatever base amount is left,
		// so split reversals net to exactly zero.
		if corrected.Add(draft.Amount).Equal(original.Amount) {
			draft.ExchangeRate = original.ExchangeRate
			draft.BaseAmount = original.BaseAmount.Sub(correctedBase)
			return nil
		}
	} else {
		if draft.Amount.GreaterThan(original.Amount) {
			return pkgerrors.New(pkgerrors.CodeInvalidAmount, "reclass exceeds the original amount")
		}
		draft.Direction = original.Direction
	}

	draft.ExchangeRate = original.ExchangeRate
	if draft.Amount.Equal(original.Amount) {
		draft.BaseAmount = original.BaseAmount
	} else {
		draft.BaseAmount = rebase(draft.Amount, original.ExchangeRate)
	}
	return nil
}

func (s *service) ComputeBalance(ctx context.Context, stream enums.LedgerStream, asOf *time.Time) (*Balance, error) {
	if !stream.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid ledger stream")
	}
	var balance Balance
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		b, err := s.streamBalance(ctx, s.repo.WithTx(tx), stream, asOf)
		if err != nil {
			return err
		}
		balance = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func (s *service) streamBalance(ctx context.Context, repo Repository, stream enums.LedgerStream, asOf *time.Time) (Balance, error) {
	entries, err := repo.ListStreamEntries(ctx, stream, asOf)
	if err != nil {
		return Balance{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger entries")
	}
	at := s.now().UTC()
	if asOf != nil {
		at = asOf.UTC()
	}
	return sumEntries(stream, s.currency.BaseCurrency(), at, entries), nil
}

func (s *service) ValidateEntry(ctx context.Context, id uuid.UUID, actor Actor) (*models.LedgerEntry, error) {
	var (
		result  *models.LedgerEntry
		failure *audit.Failure
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		entry, err := s.loadEntry(ctx, repo, id)
		if err != nil {
			return err
		}
		if err := ValidateLinkedAmounts(entry.Amount, allocationInputs(entry.Allocations)); err != nil {
			return err
		}
		if entry.Validated {
			result = entry
			return nil
		}
		before := *entry
		if err := repo.UpdateEntryFields(ctx, entry.ID, map[string]any{"validated": true}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark entry validated")
		}
		entry.Validated = true
		result = entry
		failure = s.audit.RecordBestEffort(ctx, tx, audit.RecordInput{
			Action:     enums.AuditLedgerEntryValidated,
			EntityType: "ledger_entry",
			EntityID:   entry.ID.String(),
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Before:     before,
			After:      entry,
			Context:    audit.LedgerBusiness(ledgerContext(entry, nil, "consistency check passed")),
			RiskLevel:  enums.RiskLow,
		})
		return nil
	})
	s.audit.Escalate(ctx, failure)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReconcileAllocations moves the allocation gap onto the largest allocation and
// marks the entry validated.
func (s *service) ReconcileAllocations(ctx context.Context, id uuid.UUID, actor Actor) (*models.LedgerEntry, error) {
	var (
		result  *models.LedgerEntry
		failure *audit.Failure
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		entry, err := s.loadEntry(ctx, repo, id)
		if err != nil {
			return err
		}
		if entry.IsReferenced() {
			return immutable(entry)
		}
		if len(entry.Allocations) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "entry has no allocations to reconcile")
		}
		before := *entry
		before.Allocations = append([]models.LedgerAllocation(nil), entry.Allocations...)

		allocated := decimal.Zero
		largest := 0
		for i, alloc := range entry.Allocations {
			allocated = allocated.Add(alloc.Amount)
			if alloc.Amount.GreaterThan(entry.Allocations[largest].Amount) {
				largest = i
			}
		}
		diff := entry.Amount.Sub(allocated)
		if !diff.IsZero() {
			adjusted := entry.Allocations[largest].Amount.Add(diff)
			if !adjusted.IsPositive() {
				return pkgerrors.New(pkgerrors.CodeAllocationMismatch, "allocation gap cannot be absorbed by the largest allocation").
					WithDetails(map[string]any{"difference": diff.String()})
			}
			if err := repo.UpdateAllocationAmount(ctx, entry.Allocations[largest].ID, adjusted); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "adjust allocation")
			}
			entry.Allocations[largest].Amount = adjusted
		}
		if err := repo.UpdateEntryFields(ctx, entry.ID, map[string]any{"validated": true}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark entry validated")
		}
		entry.Validated = true
		result = entry
		failure = s.audit.RecordBestEffort(ctx, tx, audit.RecordInput{
			Action:     enums.AuditLedgerReconciled,
			EntityType: "ledger_entry",
			EntityID:   entry.ID.String(),
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Before:     before,
			After:      entry,
			Context:    audit.LedgerBusiness(ledgerContext(entry, nil, "allocations reconciled by "+diff.String())),
			RiskLevel:  enums.RiskHigh,
		})
		return nil
	})
	s.audit.Escalate(ctx, failure)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) UpdateEntry(ctx context.Context, input UpdateEntryInput) (*models.LedgerEntry, error) {
	if input.Description == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "nothing to update")
	}

	var (
		result  *models.LedgerEntry
		failure *audit.Failure
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		entry, err := s.loadEntry(ctx, repo, input.ID)
		if err != nil {
			return err
		}
		if entry.IsReferenced() {
			return immutable(entry)
		}
		if entry.Validated {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "validated entries cannot be edited")
		}
		before := *entry
		fields := map[string]any{}
		if description := strings.TrimSpace(*input.Description); description != entry.Description {
			entry.Description = description
			fields["description"] = description
		}
		if len(fields) == 0 {
			result = entry
			return nil
		}
		if err := repo.UpdateEntryFields(ctx, entry.ID, fields); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update ledger entry")
		}
		result = entry
		failure = s.audit.RecordBestEffort(ctx, tx, audit.RecordInput{
			Action:     enums.AuditLedgerEntryUpdated,
			EntityType: "ledger_entry",
			EntityID:   entry.ID.String(),
			ActorID:    input.Actor.ID,
			ActorRole:  input.Actor.Role,
			Before:     before,
			After:      entry,
			Context:    audit.LedgerBusiness(ledgerContext(entry, nil, "")),
			RiskLevel:  enums.RiskMedium,
		})
		return nil
	})
	s.audit.Escalate(ctx, failure)
	if err != nil {
		s.rejected(err)
		return nil, err
	}
	return result, nil
}

func (s *service) VoidEntry(ctx context.Context, input VoidEntryInput) error {
	if strings.TrimSpace(input.Reason) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "void reason required")
	}
	prevent := s.preventNegative(ctx)

	var failure *audit.Failure
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		entry, err := s.loadEntry(ctx, repo, input.ID)
		if err != nil {
			return err
		}
		if entry.IsReferenced() {
			return immutable(entry)
		}
		if err := s.checkAmendable(ctx, repo, entry); err != nil {
			return err
		}
		if err := repo.LockStream(ctx, entry.Stream); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock ledger stream")
		}
		balance, err := s.streamBalance(ctx, repo, entry.Stream, nil)
		if err != nil {
			return err
		}
		next := balance.Amount.Sub(entry.SignedBaseAmount())
		if prevent && entry.Direction == enums.DirectionInflow && next.IsNegative() {
			return insufficient(entry.Stream, balance.Amount, entry.BaseAmount)
		}
		if err := repo.VoidEntry(ctx, entry.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "void ledger entry")
		}
		failure = s.audit.RecordBestEffort(ctx, tx, audit.RecordInput{
			Action:     enums.AuditLedgerEntryVoided,
			EntityType: "ledger_entry",
			EntityID:   entry.ID.String(),
			ActorID:    input.Actor.ID,
			ActorRole:  input.Actor.Role,
			Before:     entry,
			Context:    audit.LedgerBusiness(ledgerContext(entry, &next, input.Reason)),
			RiskLevel:  enums.RiskHigh,
		})
		return nil
	})
	s.audit.Escalate(ctx, failure)
	if err != nil {
		s.rejected(err)
	}
	return err
}

func (s *service) GetEntry(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	return s.loadEntry(ctx, s.repo, id)
}

func (s *service) ListEntries(ctx context.Context, filter EntryFilter) (pagination.Page[models.LedgerEntry], error) {
	if filter.Stream != "" && !filter.Stream.IsValid() {
		return pagination.Page[models.LedgerEntry]{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid ledger stream")
	}
	rows, err := s.repo.ListEntries(ctx, filter)
	if err != nil {
		return pagination.Page[models.LedgerEntry]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries")
	}
	return pagination.Trim(rows, filter.Limit, func(e models.LedgerEntry) pagination.Cursor {
		return pagination.Cursor{At: e.OccurredAt, ID: e.ID}
	}), nil
}

func (s *service) loadEntry(ctx context.Context, repo Repository, id uuid.UUID) (*models.LedgerEntry, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "entry id required")
	}
	entry, err := repo.FindEntry(ctx, id)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "ledger entry not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger entry")
	}
	return entry, nil
}

// checkAmendable blocks edits that would desynchronize a correction chain.
func (s *service) checkAmendable(ctx context.Context, repo Repository, entry *models.LedgerEntry) error {
	if entry.Type.IsCorrective() {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "corrective entries cannot be amended")
	}
	corrections, err := repo.ListCorrections(ctx, entry.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load corrections")
	}
	if len(corrections) > 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "entry has corrections and cannot be amended")
	}
	return nil
}

func (s *service) preventNegative(ctx context.Context) bool {
	raw, err := s.settings.Get(ctx, settings.KeyPreventNegativeBalance, settings.CategoryFinance)
	if err != nil {
		if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			s.logg.Warn(ctx, "negative balance policy unavailable, using configured default")
		}
		return s.prevent
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		s.logg.Warn(ctx, "negative balance policy is not a bool, using configured default")
		return s.prevent
	}
	return value
}

func (s *service) lowBalanceThreshold(ctx context.Context) decimal.Decimal {
	raw, err := s.settings.Get(ctx, settings.KeyLowBalanceThreshold, settings.CategoryFinance)
	if err != nil {
		return s.threshold
	}
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		s.logg.Warn(ctx, "low balance threshold is not a decimal, using configured default")
		return s.threshold
	}
	return value
}

// checkLowBalance only alerts; the write has already committed.
func (s *service) checkLowBalance(ctx context.Context, drafts []*models.LedgerEntry, after map[enums.LedgerStream]decimal.Decimal) {
	outflowStreams := map[enums.LedgerStream]bool{}
	for _, draft := range drafts {
		if draft.Direction == enums.DirectionOutflow {
			outflowStreams[draft.Stream] = true
		}
	}
	if len(outflowStreams) == 0 {
		return
	}
	threshold := s.lowBalanceThreshold(ctx)
	for stream := range outflowStreams {
		balance := after[stream]
		if !balance.LessThan(threshold) {
			continue
		}
		alert := alerts.Alert{
			Category:   enums.AlertCategoryLowBalance,
			Severity:   enums.AlertSeverityWarning,
			Message:    fmt.Sprintf("%s balance %s %s is below threshold %s", stream, balance.String(), s.currency.BaseCurrency(), threshold.String()),
			EntityType: "ledger_stream",
			EntityID:   string(stream),
		}
		if err := s.alerts.SendAlert(ctx, alert); err != nil {
			s.logg.Error(ctx, "low balance alert not sent", err)
		}
	}
}

func (s *service) rejected(err error) {
	if s.metrics == nil {
		return
	}
	if typed := pkgerrors.As(err); typed != nil {
		s.metrics.IncWriteRejected(string(typed.Code()))
		return
	}
	s.metrics.IncWriteRejected(string(pkgerrors.CodeInternal))
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be strictly positive").
			WithDetails(map[string]any{"amount": amount.String()})
	}
	if amount.Exponent() < -MaxScale && !amount.Equal(amount.Round(MaxScale)) {
		return pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount has too many decimal places").
			WithDetails(map[string]any{"amount": amount.String(), "max_scale": MaxScale})
	}
	return nil
}

func rebase(amount, rate decimal.Decimal) decimal.Decimal {
	if rate.Equal(decimal.NewFromInt(1)) {
		return amount
	}
	return amount.DivRound(rate, currency.ConversionScale)
}

func insufficient(stream enums.LedgerStream, balance, requested decimal.Decimal) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient balance").
		WithDetails(map[string]any{
			"stream":    stream,
			"balance":   balance.String(),
			"requested": requested.String(),
		})
}

func immutable(entry *models.LedgerEntry) error {
	return pkgerrors.New(pkgerrors.CodeEntryImmutable, "entries linked to a business operation cannot be changed").
		WithDetails(map[string]any{
			"entry_id":  entry.ID.String(),
			"reference": *entry.Reference,
			"hint":      "record a reverse or reclass entry instead",
		})
}

func lockOrder(drafts []*models.LedgerEntry) []enums.LedgerStream {
	seen := map[enums.LedgerStream]bool{}
	var streams []enums.LedgerStream
	for _, draft := range drafts {
		if !seen[draft.Stream] {
			seen[draft.Stream] = true
			streams = append(streams, draft.Stream)
		}
	}
	sort.Slice(streams, func(i, j int) bool { return streams[i] < streams[j] })
	return streams
}

func allocationInputs(allocs []models.LedgerAllocation) []AllocationInput {
	out := make([]AllocationInput, 0, len(allocs))
	for _, a := range allocs {
		out = append(out, AllocationInput{TargetType: a.TargetType, TargetID: a.TargetID, Amount: a.Amount})
	}
	return out
}

func recordRisk(entry *models.LedgerEntry) enums.RiskLevel {
	switch {
	case entry.Type.IsCorrective():
		return enums.RiskHigh
	case entry.Direction == enums.DirectionOutflow:
		return enums.RiskMedium
	}
	return enums.RiskLow
}

func ledgerContext(entry *models.LedgerEntry, balanceAfter *decimal.Decimal, reason string) audit.LedgerContext {
	return audit.LedgerContext{
		Stream:       string(entry.Stream),
		EntryType:    string(entry.Type),
		Amount:       entry.Amount,
		Currency:     string(entry.Currency),
		ExchangeRate: entry.ExchangeRate,
		BaseAmount:   entry.BaseAmount,
		Reference:    entry.Reference,
		BalanceAfter: balanceAfter,
		Reason:       reason,
	}
}

func recordedEvent(entry *models.LedgerEntry, role string) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventLedgerEntryRecorded,
		AggregateType: enums.AggregateLedgerEntry,
		AggregateID:   entry.ID,
		Actor:         &outbox.ActorRef{UserID: entry.CreatedBy, Role: role},
		CorrelationID: entry.CorrelationID,
		OccurredAt:    entry.OccurredAt,
		Data: payloads.LedgerEntryRecordedEvent{
			EntryID:      entry.ID,
			EntryNumber:  entry.EntryNumber,
			Stream:       entry.Stream,
			Type:         entry.Type,
			Direction:    entry.Direction,
			Amount:       entry.Amount,
			Currency:     entry.Currency,
			ExchangeRate: entry.ExchangeRate,
			BaseAmount:   entry.BaseAmount,
			Reference:    entry.Reference,
			OccurredAt:   entry.OccurredAt,
		},
	}
}
