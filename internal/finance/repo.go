package finance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgergate-backend/pkg/db/models"
	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
)

// Repository persists ledger mutations parked behind an approval.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, mutation *models.PendingMutation) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.PendingMutation, error)
	// ListStranded returns resolved mutation requests whose mutation still awaits
	// approval, oldest resolution first.
	ListStranded(ctx context.Context, resolvedBefore time.Time, limit int) ([]models.ApprovalRequest, error)
	// Transition updates the row only while it is still awaiting approval.
	Transition(ctx context.Context, id uuid.UUID, fields map[string]any) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, mutation *models.PendingMutation) error {
	return r.db.WithContext(ctx).Create(mutation).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PendingMutation, error) {
	var mutation models.PendingMutation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&mutation).Error; err != nil {
		return nil, err
	}
	return &mutation, nil
}

func (r *repository) ListStranded(ctx context.Context, resolvedBefore time.Time, limit int) ([]models.ApprovalRequest, error) {
	var rows []models.ApprovalRequest
	query := r.db.WithContext(ctx).
		Table("approval_requests AS r").
		Select("r.*").
		Joins("JOIN pending_ledger_mutations m ON CAST(m.id AS TEXT) = r.entity_id").
		Where("r.entity_type = ? AND r.status IN ? AND m.status = ?", EntityMutation, enums.TerminalApprovalStatuses, enums.PendingMutationAwaiting).
		Where("COALESCE(r.approved_at, r.rejected_at, r.cancelled_at) <= ?", resolvedBefore.UTC()).
		Order("COALESCE(r.approved_at, r.rejected_at, r.cancelled_at) ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) Transition(ctx context.Context, id uuid.UUID, fields map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PendingMutation{}).
		Where("id = ? AND status = ?", id, enums.PendingMutationAwaiting).
		Updates(fields)
	return res.RowsAffected, res.Error
}
