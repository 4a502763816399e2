package approvals

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/ledgergate-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/ledgergate-backend/pkg/errors"
	"github.com/angelmondragon/ledgergate-backend/pkg/logger"
)

// Directory is the list of users allowed to decide for each approver role.
type Directory struct {
	repo Repository
	logg *logger.Logger
}

func NewDirectory(repo Repository, logg *logger.Logger) (*Directory, error) {
	if repo == nil {
		return nil, fmt.Errorf("approvals repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Directory{repo: repo, logg: logg}, nil
}

// Register adds or (de)activates userID for role.
func (d *Directory) Register(ctx context.Context, userID, role string, active bool) error {
	userID = strings.TrimSpace(userID)
	role = strings.ToLower(strings.TrimSpace(role))
	if userID == "" || role == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id and role required")
	}
	if err := d.repo.UpsertApprover(ctx, &models.Approver{UserID: userID, Role: role, Active: active}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save approver")
	}
	logCtx := d.logg.WithFields(ctx, map[string]any{"approver_id": userID, "role": role, "active": active})
	d.logg.Info(logCtx, "approver directory updated")
	return nil
}

func (d *Directory) IsApprover(ctx context.Context, userID, role string) (bool, error) {
	return isApprover(ctx, d.repo, userID, role)
}

func isApprover(ctx context.Context, repo Repository, userID, role string) (bool, error) {
	ok, err := repo.HasApproverRole(ctx, userID, strings.ToLower(strings.TrimSpace(role)))
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load approver directory")
	}
	return ok, nil
}

func eligibleApprovers(ctx context.Context, repo Repository, chain *models.ApprovalChain, requesterID string) ([]string, error) {
	ids, err := repo.ListApproverIDs(ctx, []string(chain.ApproverRoles))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load approver directory")
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != requesterID {
			out = append(out, id)
		}
	}
	return out, nil
}
