package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/ledgergate-backend/api/responses"
	"github.com/angelmondragon/ledgergate-backend/api/validators"
	"github.com/angelmondragon/ledgergate-backend/internal/approvals"
	"github.com/angelmondragon/ledgergate-backend/pkg/db/models"
	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgergate-backend/pkg/errors"
	"github.com/angelmondragon/ledgergate-backend/pkg/logger"
)

// ApprovalEngine is the approval surface exposed over HTTP.
type ApprovalEngine interface {
	RequestApproval(ctx context.Context, input approvals.RequestInput) (*approvals.RequestOutcome, error)
	RecordApprovalDecision(ctx context.Context, input approvals.DecisionInput) (*models.ApprovalRequest, error)
	CancelRequest(ctx context.Context, input approvals.CancelInput) (*models.ApprovalRequest, error)
	GetApprovalStatus(ctx context.Context, id uuid.UUID) (*approvals.Status, error)
}

type approvalCreateRequest struct {
	OperationType string `json:"operation_type" validate:"required,max=128"`
	EntityType    string `json:"entity_type" validate:"required,max=64"`
	EntityID      string `json:"entity_id" validate:"required,max=128"`
	Amount        string `json:"amount" validate:"required"`
	Currency      string `json:"currency" validate:"required,len=3"`
	Justification string `json:"justification" validate:"max=1024"`
}

type approvalOutcomeResponse struct {
	Outcome approvals.Outcome        `json:"outcome"`
	Passed  bool                     `json:"passed"`
	Request *approvalRequestResponse `json:"request,omitempty"`
}

// ApprovalCreate asks whether an operation may proceed. Pending outcomes return
// 202; immediate passes return 200 with no request.
func ApprovalCreate(svc ApprovalEngine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload approvalCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		amount, err := parseAmount("amount", payload.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cur, err := enums.ParseCurrency(payload.Currency)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency"))
			return
		}

		outcome, err := svc.RequestApproval(r.Context(), approvals.RequestInput{
			OperationType: strings.TrimSpace(payload.OperationType),
			EntityType:    strings.TrimSpace(payload.EntityType),
			EntityID:      strings.TrimSpace(payload.EntityID),
			Amount:        amount,
			Currency:      cur,
			Justification: validators.SanitizeString(payload.Justification, 1024),
			RequestedBy:   a.ID,
			RequesterRole: a.Role,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusOK
		if outcome.Outcome == approvals.OutcomePending {
			status = http.StatusAccepted
		}
		responses.WriteSuccessStatus(w, status, approvalOutcomeResponse{
			Outcome: outcome.Outcome,
			Passed:  outcome.Passed(),
			Request: approvalRequestFromModel(outcome.Request),
		})
	}
}

func ApprovalGet(svc ApprovalEngine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "requestId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := svc.GetApprovalStatus(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, approvalStatusFromModel(status))
	}
}

type decisionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approve reject"`
	Comment  string `json:"comment" validate:"max=1024"`
}

func ApprovalDecide(svc ApprovalEngine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := uuidParam(r, "requestId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload decisionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		decision, err := enums.ParseApprovalDecision(payload.Decision)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid decision"))
			return
		}
		req, err := svc.RecordApprovalDecision(r.Context(), approvals.DecisionInput{
			RequestID: id,
			Actor:     approvals.Actor{ID: a.ID, Role: a.Role},
			Decision:  decision,
			Comment:   validators.SanitizeString(payload.Comment, 1024),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, approvalRequestFromModel(req))
	}
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=512"`
}

func ApprovalCancel(svc ApprovalEngine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := uuidParam(r, "requestId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload cancelRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		req, err := svc.CancelRequest(r.Context(), approvals.CancelInput{
			RequestID: id,
			Actor:     approvals.Actor{ID: a.ID, Role: a.Role},
			Reason:    validators.SanitizeString(payload.Reason, 512),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, approvalRequestFromModel(req))
	}
}
