package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/ledgergate-backend/api/responses"
	"github.com/angelmondragon/ledgergate-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/ledgergate-backend/pkg/errors"
	"github.com/angelmondragon/ledgergate-backend/pkg/logger"
)

// AuditReader serves checksum-verified history.
type AuditReader interface {
	ListByEntity(ctx context.Context, entityType, entityID string) ([]models.AuditLog, error)
	ListByCorrelation(ctx context.Context, correlationID string) ([]models.AuditLog, error)
}

func AuditByEntity(svc AuditReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entityType := chiParam(r, "entityType")
		entityID := chiParam(r, "entityId")
		if entityType == "" || entityID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "entity type and id required"))
			return
		}
		rows, err := svc.ListByEntity(r.Context(), entityType, entityID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, auditEntriesFromModels(rows))
	}
}

// AuditByCorrelation reconstructs one business flow across entities.
func AuditByCorrelation(svc AuditReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chiParam(r, "correlationId")
		if id == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "correlation id required"))
			return
		}
		rows, err := svc.ListByCorrelation(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, auditEntriesFromModels(rows))
	}
}
