package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/ledgergate-backend/api/responses"
	"github.com/angelmondragon/ledgergate-backend/api/validators"
	"github.com/angelmondragon/ledgergate-backend/internal/approvals"
	"github.com/angelmondragon/ledgergate-backend/internal/settings"
	"github.com/angelmondragon/ledgergate-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/ledgergate-backend/pkg/errors"
	"github.com/angelmondragon/ledgergate-backend/pkg/logger"
)

// PolicyRegistry administers approval chains and guards.
type PolicyRegistry interface {
	ListChains(ctx context.Context, operationType string) ([]models.ApprovalChain, error)
	UpsertChain(ctx context.Context, input approvals.ChainInput, actor approvals.Actor) (*models.ApprovalChain, error)
	GetGuard(ctx context.Context, operationType string) (*models.ApprovalGuard, error)
	UpsertGuard(ctx context.Context, input approvals.GuardInput, actor approvals.Actor) (*models.ApprovalGuard, error)
}

type ApproverDirectory interface {
	Register(ctx context.Context, userID, role string, active bool) error
}

type SettingsStore interface {
	List(ctx context.Context, category string) ([]models.Setting, error)
	Set(ctx context.Context, input settings.SetInput) (*models.Setting, error)
}

func AdminListChains(svc PolicyRegistry, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opType := strings.TrimSpace(r.URL.Query().Get("operation_type"))
		if opType == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "operation_type query parameter required"))
			return
		}
		chains, err := svc.ListChains(r.Context(), opType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]chainResponse, 0, len(chains))
		for i := range chains {
			out = append(out, chainFromModel(&chains[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

// AdminUpsertChain creates a chain, or replaces the chain named by "id".
func AdminUpsertChain(svc PolicyRegistry, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var input approvals.ChainInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		chain, err := svc.UpsertChain(r.Context(), input, approvals.Actor{ID: a.ID, Role: a.Role})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, chainFromModel(chain))
	}
}

func AdminGetGuard(svc PolicyRegistry, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		guard, err := svc.GetGuard(r.Context(), chiParam(r, "operationType"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if guard == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "no guard configured"))
			return
		}
		responses.WriteSuccess(w, guardFromModel(guard))
	}
}

type guardRequest struct {
	ApprovalMandatory      bool     `json:"approval_mandatory"`
	BlockIfNoApprover      bool     `json:"block_if_no_approver"`
	EmergencyOverrideRoles []string `json:"emergency_override_roles"`
	AuditAllAttempts       bool     `json:"audit_all_attempts"`
}

func AdminUpsertGuard(svc PolicyRegistry, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload guardRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		guard, err := svc.UpsertGuard(r.Context(), approvals.GuardInput{
			OperationType:          chiParam(r, "operationType"),
			ApprovalMandatory:      payload.ApprovalMandatory,
			BlockIfNoApprover:      payload.BlockIfNoApprover,
			EmergencyOverrideRoles: payload.EmergencyOverrideRoles,
			AuditAllAttempts:       payload.AuditAllAttempts,
		}, approvals.Actor{ID: a.ID, Role: a.Role})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, guardFromModel(guard))
	}
}

type approverRequest struct {
	Role   string `json:"role" validate:"required,max=64"`
	Active *bool  `json:"active"`
}

// AdminRegisterApprover lists or delists a user as approver for a role.
func AdminRegisterApprover(svc ApproverDirectory, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chiParam(r, "userId")
		if userID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "user id required"))
			return
		}
		var payload approverRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		active := true
		if payload.Active != nil {
			active = *payload.Active
		}
		role := strings.ToLower(strings.TrimSpace(payload.Role))
		if err := svc.Register(r.Context(), userID, role, active); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"user_id": userID, "role": role, "active": active})
	}
}

func AdminListSettings(svc SettingsStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := svc.List(r.Context(), chiParam(r, "category"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]settingResponse, 0, len(rows))
		for i := range rows {
			out = append(out, settingFromModel(&rows[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

type settingRequest struct {
	Value string `json:"value" validate:"required,max=1024"`
}

func AdminPutSetting(svc SettingsStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload settingRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		setting, err := svc.Set(r.Context(), settings.SetInput{
			Key:       chiParam(r, "key"),
			Category:  chiParam(r, "category"),
			Value:     strings.TrimSpace(payload.Value),
			ActorID:   a.ID,
			ActorRole: a.Role,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, settingFromModel(setting))
	}
}
