package controllers

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ledgergate-backend/internal/approvals"
	"github.com/angelmondragon/ledgergate-backend/internal/finance"
	"github.com/angelmondragon/ledgergate-backend/pkg/db/models"
	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
)

type allocationResponse struct {
	TargetType string          `json:"target_type"`
	TargetID   string          `json:"target_id"`
	Amount     decimal.Decimal `json:"amount"`
}

type entryResponse struct {
	ID              uuid.UUID             `json:"id"`
	EntryNumber     string                `json:"entry_number"`
	Stream          enums.LedgerStream    `json:"stream"`
	Type            enums.LedgerEntryType `json:"type"`
	Direction       enums.EntryDirection  `json:"direction"`
	Amount          decimal.Decimal       `json:"amount"`
	Currency        enums.Currency        `json:"currency"`
	ExchangeRate    decimal.Decimal       `json:"exchange_rate"`
	BaseAmount      decimal.Decimal       `json:"base_amount"`
	Reference       *string               `json:"reference,omitempty"`
	ReversesEntryID *uuid.UUID            `json:"reverses_entry_id,omitempty"`
	Description     string                `json:"description"`
	Validated       bool                  `json:"validated"`
	CreatedBy       string                `json:"created_by"`
	CorrelationID   string                `json:"correlation_id"`
	OccurredAt      time.Time             `json:"occurred_at"`
	CreatedAt       time.Time             `json:"created_at"`
	Allocations     []allocationResponse  `json:"allocations"`
}

func entryFromModel(m *models.LedgerEntry) entryResponse {
	resp := entryResponse{
		ID:              m.ID,
		EntryNumber:     m.EntryNumber,
		Stream:          m.Stream,
		Type:            m.Type,
		Direction:       m.Direction,
		Amount:          m.Amount,
		Currency:        m.Currency,
		ExchangeRate:    m.ExchangeRate,
		BaseAmount:      m.BaseAmount,
		Reference:       m.Reference,
		ReversesEntryID: m.ReversesEntryID,
		Description:     m.Description,
		Validated:       m.Validated,
		CreatedBy:       m.CreatedBy,
		CorrelationID:   m.CorrelationID,
		OccurredAt:      m.OccurredAt,
		CreatedAt:       m.CreatedAt,
		Allocations:     make([]allocationResponse, 0, len(m.Allocations)),
	}
	for _, a := range m.Allocations {
		resp.Allocations = append(resp.Allocations, allocationResponse{TargetType: a.TargetType, TargetID: a.TargetID, Amount: a.Amount})
	}
	return resp
}

type mutationResponse struct {
	ID                uuid.UUID                   `json:"id"`
	OperationType     string                      `json:"operation_type"`
	Status            enums.PendingMutationStatus `json:"status"`
	ApprovalRequestID *uuid.UUID                  `json:"approval_request_id,omitempty"`
	EntryID           *uuid.UUID                  `json:"entry_id,omitempty"`
	FailureReason     *string                     `json:"failure_reason,omitempty"`
	RequestedBy       string                      `json:"requested_by"`
	CorrelationID     string                      `json:"correlation_id"`
	Payload           json.RawMessage             `json:"payload"`
	CreatedAt         time.Time                   `json:"created_at"`
	UpdatedAt         time.Time                   `json:"updated_at"`
}

func mutationFromModel(m *models.PendingMutation) *mutationResponse {
	if m == nil {
		return nil
	}
	return &mutationResponse{
		ID:                m.ID,
		OperationType:     m.OperationType,
		Status:            m.Status,
		ApprovalRequestID: m.ApprovalRequestID,
		EntryID:           m.EntryID,
		FailureReason:     m.FailureReason,
		RequestedBy:       m.RequestedBy,
		CorrelationID:     m.CorrelationID,
		Payload:           m.Payload,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

type approvalRequestResponse struct {
	ID                uuid.UUID            `json:"id"`
	RequestNumber     string               `json:"request_number"`
	OperationType     string               `json:"operation_type"`
	ChainID           uuid.UUID            `json:"chain_id"`
	EntityType        string               `json:"entity_type"`
	EntityID          string               `json:"entity_id"`
	Amount            decimal.Decimal      `json:"amount"`
	Currency          enums.Currency       `json:"currency"`
	Justification     string               `json:"justification,omitempty"`
	Status            enums.ApprovalStatus `json:"status"`
	RequiredApprovals int                  `json:"required_approvals"`
	CurrentApprovals  int                  `json:"current_approvals"`
	RequestedBy       string               `json:"requested_by"`
	RequesterRole     string               `json:"requester_role"`
	FinalApprover     *string              `json:"final_approver,omitempty"`
	FinalRejecter     *string              `json:"final_rejecter,omitempty"`
	RequestedAt       time.Time            `json:"requested_at"`
	ApprovedAt        *time.Time           `json:"approved_at,omitempty"`
	RejectedAt        *time.Time           `json:"rejected_at,omitempty"`
	EscalatedAt       *time.Time           `json:"escalated_at,omitempty"`
	CancelledAt       *time.Time           `json:"cancelled_at,omitempty"`
	AutoApproveAt     *time.Time           `json:"auto_approve_at,omitempty"`
	EscalateAt        *time.Time           `json:"escalate_at,omitempty"`
	CorrelationID     string               `json:"correlation_id"`
}

func approvalRequestFromModel(m *models.ApprovalRequest) *approvalRequestResponse {
	if m == nil {
		return nil
	}
	return &approvalRequestResponse{
		ID:                m.ID,
		RequestNumber:     m.RequestNumber,
		OperationType:     m.OperationType,
		ChainID:           m.ChainID,
		EntityType:        m.EntityType,
		EntityID:          m.EntityID,
		Amount:            m.Amount,
		Currency:          m.Currency,
		Justification:     m.Justification,
		Status:            m.Status,
		RequiredApprovals: m.RequiredApprovals,
		CurrentApprovals:  m.CurrentApprovals,
		RequestedBy:       m.RequestedBy,
		RequesterRole:     m.RequesterRole,
		FinalApprover:     m.FinalApprover,
		FinalRejecter:     m.FinalRejecter,
		RequestedAt:       m.RequestedAt,
		ApprovedAt:        m.ApprovedAt,
		RejectedAt:        m.RejectedAt,
		EscalatedAt:       m.EscalatedAt,
		CancelledAt:       m.CancelledAt,
		AutoApproveAt:     m.AutoApproveAt,
		EscalateAt:        m.EscalateAt,
		CorrelationID:     m.CorrelationID,
	}
}

type decisionResponse struct {
	ActorID   string                 `json:"actor_id"`
	ActorRole string                 `json:"actor_role,omitempty"`
	Decision  enums.ApprovalDecision `json:"decision"`
	Kind      enums.DecisionKind     `json:"kind"`
	Comment   string                 `json:"comment,omitempty"`
	At        time.Time              `json:"at"`
}

type approvalStatusResponse struct {
	Request            *approvalRequestResponse `json:"request"`
	History            []decisionResponse       `json:"history"`
	RemainingApprovals int                      `json:"remaining_approvals"`
	ApproverRoles      []string                 `json:"approver_roles"`
}

func approvalStatusFromModel(s *approvals.Status) approvalStatusResponse {
	resp := approvalStatusResponse{
		Request:            approvalRequestFromModel(&s.Request),
		History:            make([]decisionResponse, 0, len(s.History)),
		RemainingApprovals: s.RemainingApprovals,
		ApproverRoles:      s.ApproverRoles,
	}
	for _, d := range s.History {
		resp.History = append(resp.History, decisionResponse{
			ActorID:   d.ActorID,
			ActorRole: d.ActorRole,
			Decision:  d.Decision,
			Kind:      d.Kind,
			Comment:   d.Comment,
			At:        d.CreatedAt,
		})
	}
	return resp
}

type proposeResponse struct {
	Outcome  approvals.Outcome        `json:"outcome"`
	Applied  bool                     `json:"applied"`
	Mutation *mutationResponse        `json:"mutation,omitempty"`
	Approval *approvalRequestResponse `json:"approval_request,omitempty"`
	Entries  []entryResponse          `json:"entries"`
}

func proposeFromOutcome(o *finance.ProposeOutcome) proposeResponse {
	resp := proposeResponse{
		Outcome:  o.Outcome,
		Applied:  o.Applied(),
		Mutation: mutationFromModel(o.Mutation),
		Approval: approvalRequestFromModel(o.Request),
		Entries:  make([]entryResponse, 0, len(o.Entries)),
	}
	for _, e := range o.Entries {
		resp.Entries = append(resp.Entries, entryFromModel(e))
	}
	return resp
}

type auditEntryResponse struct {
	ID              uuid.UUID         `json:"id"`
	Action          enums.AuditAction `json:"action"`
	EntityType      string            `json:"entity_type"`
	EntityID        string            `json:"entity_id"`
	ActorID         string            `json:"actor_id"`
	ActorRole       string            `json:"actor_role,omitempty"`
	BeforeState     json.RawMessage   `json:"before_state,omitempty"`
	AfterState      json.RawMessage   `json:"after_state,omitempty"`
	BusinessContext json.RawMessage   `json:"business_context,omitempty"`
	RiskLevel       enums.RiskLevel   `json:"risk_level"`
	CorrelationID   string            `json:"correlation_id"`
	CreatedAt       time.Time         `json:"created_at"`
}

func auditEntriesFromModels(rows []models.AuditLog) []auditEntryResponse {
	out := make([]auditEntryResponse, 0, len(rows))
	for _, m := range rows {
		out = append(out, auditEntryResponse{
			ID:              m.ID,
			Action:          m.Action,
			EntityType:      m.EntityType,
			EntityID:        m.EntityID,
			ActorID:         m.ActorID,
			ActorRole:       m.ActorRole,
			BeforeState:     m.BeforeState,
			AfterState:      m.AfterState,
			BusinessContext: m.BusinessContext,
			RiskLevel:       m.RiskLevel,
			CorrelationID:   m.CorrelationID,
			CreatedAt:       m.CreatedAt,
		})
	}
	return out
}

type chainResponse struct {
	ID                    uuid.UUID        `json:"id"`
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
	UpdatedAt             time.Time        `json:"updated_at"`
}

func chainFromModel(m *models.ApprovalChain) chainResponse {
	return chainResponse{
		ID:                    m.ID,
		OperationType:         m.OperationType,
		Name:                  m.Name,
		Priority:              m.Priority,
		Active:                m.Active,
		MinApprovers:          m.MinApprovers,
		RequireAllApprovers:   m.RequireAllApprovers,
		AmountThreshold:       m.AmountThreshold,
		RequesterRoles:        []string(m.RequesterRoles),
		ExemptRoles:           []string(m.ExemptRoles),
		ApproverRoles:         []string(m.ApproverRoles),
		AutoApproveAfterHours: m.AutoApproveAfterHours,
		EscalateAfterHours:    m.EscalateAfterHours,
		EscalationChainID:     m.EscalationChainID,
		UpdatedAt:             m.UpdatedAt,
	}
}

type guardResponse struct {
	OperationType          string   `json:"operation_type"`
	ApprovalMandatory      bool     `json:"approval_mandatory"`
	BlockIfNoApprover      bool     `json:"block_if_no_approver"`
	EmergencyOverrideRoles []string `json:"emergency_override_roles"`
	AuditAllAttempts       bool     `json:"audit_all_attempts"`
}

func guardFromModel(m *models.ApprovalGuard) guardResponse {
	return guardResponse{
		OperationType:          m.OperationType,
		ApprovalMandatory:      m.ApprovalMandatory,
		BlockIfNoApprover:      m.BlockIfNoApprover,
		EmergencyOverrideRoles: []string(m.EmergencyOverrideRoles),
		AuditAllAttempts:       m.AuditAllAttempts,
	}
}

type settingResponse struct {
	Key       string    `json:"key"`
	Category  string    `json:"category"`
	Value     string    `json:"value"`
	UpdatedBy *string   `json:"updated_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func settingFromModel(m *models.Setting) settingResponse {
	return settingResponse{Key: m.Key, Category: m.Category, Value: m.Value, UpdatedBy: m.UpdatedBy, UpdatedAt: m.UpdatedAt}
}
