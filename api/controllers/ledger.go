package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ledgergate-backend/api/responses"
	"github.com/angelmondragon/ledgergate-backend/api/validators"
	"github.com/angelmondragon/ledgergate-backend/internal/currency"
	"github.com/angelmondragon/ledgergate-backend/internal/finance"
	"github.com/angelmondragon/ledgergate-backend/internal/ledger"
	"github.com/angelmondragon/ledgergate-backend/pkg/db/models"
	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgergate-backend/pkg/errors"
	"github.com/angelmondragon/ledgergate-backend/pkg/logger"
	"github.com/angelmondragon/ledgergate-backend/pkg/pagination"
)

// Proposer routes ledger writes through approval gating.
type Proposer interface {
	ProposeEntry(ctx context.Context, input finance.ProposeInput) (*finance.ProposeOutcome, error)
	Reclassify(ctx context.Context, input finance.ReclassInput) (*finance.ProposeOutcome, error)
	Reverse(ctx context.Context, input finance.ReverseInput) (*finance.ProposeOutcome, error)
	GetMutation(ctx context.Context, id uuid.UUID) (*models.PendingMutation, error)
}

type allocationRequest struct {
	TargetType string `json:"target_type" validate:"required,max=64"`
	TargetID   string `json:"target_id" validate:"required,max=128"`
	Amount     string `json:"amount" validate:"required"`
}

type entryCreateRequest struct {
	MutationID      *string             `json:"mutation_id"`
	Stream          string              `json:"stream" validate:"required"`
	Type            string              `json:"type" validate:"required"`
	Amount          string              `json:"amount" validate:"required"`
	Currency        string              `json:"currency" validate:"required,len=3"`
	Reference       *string             `json:"reference" validate:"omitempty,max=128"`
	ReversesEntryID *string             `json:"reverses_entry_id"`
	Description     string              `json:"description" validate:"max=512"`
	OccurredAt      *time.Time          `json:"occurred_at"`
	Allocations     []allocationRequest `json:"allocations" validate:"omitempty,dive"`
	Justification   string              `json:"justification" validate:"max=1024"`
}

func (req entryCreateRequest) toInput(a actor) (finance.ProposeInput, error) {
	stream, err := enums.ParseLedgerStream(req.Stream)
	if err != nil {
		return finance.ProposeInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid stream")
	}
	entryType, err := enums.ParseLedgerEntryType(req.Type)
	if err != nil {
		return finance.ProposeInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid type")
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return finance.ProposeInput{}, err
	}
	cur, err := enums.ParseCurrency(req.Currency)
	if err != nil {
		return finance.ProposeInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency")
	}
	mutationID, err := optionalUUID("mutation_id", req.MutationID)
	if err != nil {
		return finance.ProposeInput{}, err
	}
	reverses, err := optionalUUID("reverses_entry_id", req.ReversesEntryID)
	if err != nil {
		return finance.ProposeInput{}, err
	}
	allocations := make([]ledger.AllocationInput, 0, len(req.Allocations))
	for _, alloc := range req.Allocations {
		allocAmount, err := parseAmount("allocations.amount", alloc.Amount)
		if err != nil {
			return finance.ProposeInput{}, err
		}
		allocations = append(allocations, ledger.AllocationInput{
			TargetType: strings.TrimSpace(alloc.TargetType),
			TargetID:   strings.TrimSpace(alloc.TargetID),
			Amount:     allocAmount,
		})
	}
	var occurredAt time.Time
	if req.OccurredAt != nil {
		occurredAt = req.OccurredAt.UTC()
	}
	return finance.ProposeInput{
		MutationID:    mutationID,
		Justification: validators.SanitizeString(req.Justification, 1024),
		Entry: ledger.RecordEntryInput{
			Stream:          stream,
			Type:            entryType,
			Amount:          amount,
			Currency:        cur,
			Reference:       req.Reference,
			ReversesEntryID: reverses,
			Description:     validators.SanitizeString(req.Description, 512),
			OccurredAt:      occurredAt,
			Allocations:     allocations,
			ActorID:         a.ID,
			ActorRole:       a.Role,
		},
	}, nil
}

func writeProposal(w http.ResponseWriter, outcome *finance.ProposeOutcome) {
	status := http.StatusCreated
	if !outcome.Applied() {
		status = http.StatusAccepted
	}
	responses.WriteSuccessStatus(w, status, proposeFromOutcome(outcome))
}

// LedgerCreateEntry records an entry, or parks it behind an approval request.
// 201 means the entry is on the ledger; 202 means it awaits approval.
func LedgerCreateEntry(svc Proposer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload entryCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := payload.toInput(a)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		outcome, err := svc.ProposeEntry(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeProposal(w, outcome)
	}
}

type reclassifyRequest struct {
	MutationID    *string `json:"mutation_id"`
	Amount        string  `json:"amount" validate:"required"`
	Description   string  `json:"description" validate:"max=512"`
	Justification string  `json:"justification" validate:"max=1024"`
}

func LedgerReclassifyEntry(svc Proposer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entryID, err := uuidParam(r, "entryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload reclassifyRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		amount, err := parseAmount("amount", payload.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		mutationID, err := optionalUUID("mutation_id", payload.MutationID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		outcome, err := svc.Reclassify(r.Context(), finance.ReclassInput{
			MutationID:    mutationID,
			EntryID:       entryID,
			Amount:        amount,
			Description:   validators.SanitizeString(payload.Description, 512),
			Justification: validators.SanitizeString(payload.Justification, 1024),
			Actor:         ledger.Actor{ID: a.ID, Role: a.Role},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeProposal(w, outcome)
	}
}

type reverseRequest struct {
	MutationID    *string `json:"mutation_id"`
	Amount        *string `json:"amount"`
	Description   string  `json:"description" validate:"max=512"`
	Justification string  `json:"justification" validate:"max=1024"`
}

// LedgerReverseEntry backs out an entry; an omitted amount reverses all of it.
func LedgerReverseEntry(svc Proposer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entryID, err := uuidParam(r, "entryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload reverseRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var amount *decimal.Decimal
		if payload.Amount != nil {
			parsed, err := parseAmount("amount", *payload.Amount)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			amount = &parsed
		}
		mutationID, err := optionalUUID("mutation_id", payload.MutationID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		outcome, err := svc.Reverse(r.Context(), finance.ReverseInput{
			MutationID:    mutationID,
			EntryID:       entryID,
			Amount:        amount,
			Description:   validators.SanitizeString(payload.Description, 512),
			Justification: validators.SanitizeString(payload.Justification, 1024),
			Actor:         ledger.Actor{ID: a.ID, Role: a.Role},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeProposal(w, outcome)
	}
}

func LedgerGetMutation(svc Proposer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "mutationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		mutation, err := svc.GetMutation(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, mutationFromModel(mutation))
	}
}

func LedgerListEntries(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		filter := ledger.EntryFilter{
			Reference: strings.TrimSpace(query.Get("reference")),
		}
		if raw := strings.TrimSpace(query.Get("stream")); raw != "" {
			stream, err := enums.ParseLedgerStream(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid stream"))
				return
			}
			filter.Stream = stream
		}
		if raw := strings.TrimSpace(query.Get("type")); raw != "" {
			entryType, err := enums.ParseLedgerEntryType(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid type"))
				return
			}
			filter.Type = entryType
		}
		var err error
		if filter.From, err = parseQueryTime(r, "from"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if filter.To, err = parseQueryTime(r, "to"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if filter.Limit, err = validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if filter.Cursor, err = pagination.ParseCursor(query.Get("cursor")); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor"))
			return
		}

		page, err := svc.ListEntries(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items := make([]entryResponse, 0, len(page.Items))
		for i := range page.Items {
			items = append(items, entryFromModel(&page.Items[i]))
		}
		responses.WriteSuccess(w, pagination.Page[entryResponse]{Items: items, NextCursor: page.NextCursor})
	}
}

func LedgerGetEntry(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "entryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entry, err := svc.GetEntry(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, entryFromModel(entry))
	}
}

type entryUpdateRequest struct {
	Description *string `json:"description" validate:"omitempty,max=512"`
	Amount      *string `json:"amount"`
}

func LedgerUpdateEntry(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := uuidParam(r, "entryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload entryUpdateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := ledger.UpdateEntryInput{ID: id, Actor: ledger.Actor{ID: a.ID, Role: a.Role}}
		if payload.Description != nil {
			desc := validators.SanitizeString(*payload.Description, 512)
			input.Description = &desc
		}
		if payload.Amount != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "entry amounts cannot be edited; reverse the entry and record a new one").
				WithDetails(map[string]any{"field": "amount"}))
			return
		}
		if input.Description == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "nothing to update"))
			return
		}
		entry, err := svc.UpdateEntry(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, entryFromModel(entry))
	}
}

func LedgerVoidEntry(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := uuidParam(r, "entryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reason := validators.SanitizeString(r.URL.Query().Get("reason"), 512)
		if err := svc.VoidEntry(r.Context(), ledger.VoidEntryInput{ID: id, Reason: reason, Actor: ledger.Actor{ID: a.ID, Role: a.Role}}); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"id": id, "voided": true})
	}
}

type entryAction func(ctx context.Context, id uuid.UUID, actor ledger.Actor) (*models.LedgerEntry, error)

func ledgerEntryAction(action entryAction, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := uuidParam(r, "entryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entry, err := action(r.Context(), id, ledger.Actor{ID: a.ID, Role: a.Role})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, entryFromModel(entry))
	}
}

// LedgerValidateEntry marks an entry as checked; validated entries become immutable.
func LedgerValidateEntry(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return ledgerEntryAction(func(ctx context.Context, id uuid.UUID, a ledger.Actor) (*models.LedgerEntry, error) {
		return svc.ValidateEntry(ctx, id, a)
	}, logg)
}

func LedgerReconcileEntry(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return ledgerEntryAction(func(ctx context.Context, id uuid.UUID, a ledger.Actor) (*models.LedgerEntry, error) {
		return svc.ReconcileAllocations(ctx, id, a)
	}, logg)
}

func LedgerBalance(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stream, err := enums.ParseLedgerStream(chiParam(r, "stream"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid stream"))
			return
		}
		asOf, err := parseQueryTime(r, "asOf")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		balance, err := svc.ComputeBalance(r.Context(), stream, asOf)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, balance)
	}
}

type rateSource interface {
	GetRate(ctx context.Context) (currency.Rate, error)
}

// LedgerExchangeRate serves the rate every conversion currently uses.
func LedgerExchangeRate(svc rateSource, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rate, err := svc.GetRate(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rate)
	}
}
