package approvals

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/ledgergate-backend/pkg/db/models"
	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
)

// Repository persists chains, guards, the approver directory, requests and their history.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	ListActiveChains(ctx context.Context, operationType string) ([]models.ApprovalChain, error)
	ListChains(ctx context.Context, operationType string) ([]models.ApprovalChain, error)
	FindChain(ctx context.Context, id uuid.UUID) (*models.ApprovalChain, error)
	CreateChain(ctx context.Context, chain *models.ApprovalChain) error
	SaveChain(ctx context.Context, chain *models.ApprovalChain) error

	FindGuard(ctx context.Context, operationType string) (*models.ApprovalGuard, error)
	UpsertGuard(ctx context.Context, guard *models.ApprovalGuard) error

	ListApproverIDs(ctx context.Context, roles []string) ([]string, error)
	HasApproverRole(ctx context.Context, userID, role string) (bool, error)
	UpsertApprover(ctx context.Context, approver *models.Approver) error

	CreateRequest(ctx context.Context, req *models.ApprovalRequest) error
	FindRequest(ctx context.Context, id uuid.UUID) (*models.ApprovalRequest, error)
	LockRequest(ctx context.Context, id uuid.UUID) (*models.ApprovalRequest, error)
	FindActiveForEntity(ctx context.Context, entityType, entityID string) (*models.ApprovalRequest, error)
	TransitionRequest(ctx context.Context, id uuid.UUID, from []enums.ApprovalStatus, fields map[string]any) (int64, error)
	ListDueAutoApprovals(ctx context.Context, now time.Time, limit int) ([]models.ApprovalRequest, error)
	ListDueEscalations(ctx context.Context, now time.Time, limit int) ([]models.ApprovalRequest, error)

	CreateDecision(ctx context.Context, decision *models.ApprovalDecision) error
	ListDecisions(ctx context.Context, requestID uuid.UUID) ([]models.ApprovalDecision, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an approvals repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) ListActiveChains(ctx context.Context, operationType string) ([]models.ApprovalChain, error) {
	var chains []models.ApprovalChain
	if err := r.db.WithContext(ctx).
		Where("operation_type = ? AND active = ?", operationType, true).
		Order("priority DESC").
		Order("created_at ASC").
		Find(&chains).Error; err != nil {
		return nil, err
	}
	return chains, nil
}

func (r *repository) ListChains(ctx context.Context, operationType string) ([]models.ApprovalChain, error) {
	query := r.db.WithContext(ctx).Model(&models.ApprovalChain{})
	if operationType != "" {
		query = query.Where("operation_type = ?", operationType)
	}
	var chains []models.ApprovalChain
	if err := query.Order("operation_type ASC").Order("priority DESC").Find(&chains).Error; err != nil {
		return nil, err
	}
	return chains, nil
}

func (r *repository) FindChain(ctx context.Context, id uuid.UUID) (*models.ApprovalChain, error) {
	var chain models.ApprovalChain
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&chain).Error; err != nil {
		return nil, err
	}
	return &chain, nil
}

func (r *repository) CreateChain(ctx context.Context, chain *models.ApprovalChain) error {
	return r.db.WithContext(ctx).Create(chain).Error
}

func (r *repository) SaveChain(ctx context.Context, chain *models.ApprovalChain) error {
	return r.db.WithContext(ctx).Save(chain).Error
}

func (r *repository) FindGuard(ctx context.Context, operationType string) (*models.ApprovalGuard, error) {
	var guard models.ApprovalGuard
	if err := r.db.WithContext(ctx).Where("operation_type = ?", operationType).First(&guard).Error; err != nil {
		return nil, err
	}
	return &guard, nil
}

func (r *repository) UpsertGuard(ctx context.Context, guard *models.ApprovalGuard) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "operation_type"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"approval_mandatory",
				"block_if_no_approver",
				"emergency_override_roles",
				"audit_all_attempts",
				"updated_at",
			}),
		}).
		Create(guard).Error
}

func (r *repository) ListApproverIDs(ctx context.Context, roles []string) ([]string, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	var ids []string
	if err := r.db.WithContext(ctx).
		Model(&models.Approver{}).
		Distinct("user_id").
		Where("active = ? AND role IN ?", true, roles).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repository) HasApproverRole(ctx context.Context, userID, role string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Approver{}).
		Where("user_id = ? AND role = ? AND active = ?", userID, role, true).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) UpsertApprover(ctx context.Context, approver *models.Approver) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "role"}},
			DoUpdates: clause.AssignmentColumns([]string{"active"}),
		}).
		Create(approver).Error
}

// CreateRequest relies on ux_approval_requests_active_entity to reject a second
// non-terminal request for the same entity.
func (r *repository) CreateRequest(ctx context.Context, req *models.ApprovalRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *repository) FindRequest(ctx context.Context, id uuid.UUID) (*models.ApprovalRequest, error) {
	var req models.ApprovalRequest
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *repository) LockRequest(ctx context.Context, id uuid.UUID) (*models.ApprovalRequest, error) {
	var req models.ApprovalRequest
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *repository) FindActiveForEntity(ctx context.Context, entityType, entityID string) (*models.ApprovalRequest, error) {
	var req models.ApprovalRequest
	if err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ? AND status IN ?", entityType, entityID, enums.OpenApprovalStatuses).
		First(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

// TransitionRequest only updates a row still in one of the from statuses; zero
// rows affected means another writer resolved it first.
func (r *repository) TransitionRequest(ctx context.Context, id uuid.UUID, from []enums.ApprovalStatus, fields map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ApprovalRequest{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(fields)
	return res.RowsAffected, res.Error
}

func (r *repository) ListDueAutoApprovals(ctx context.Context, now time.Time, limit int) ([]models.ApprovalRequest, error) {
	var rows []models.ApprovalRequest
	if err := r.db.WithContext(ctx).
		Where("status IN ? AND auto_approve_at IS NOT NULL AND auto_approve_at <= ?", enums.OpenApprovalStatuses, now.UTC()).
		Order("auto_approve_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListDueEscalations(ctx context.Context, now time.Time, limit int) ([]models.ApprovalRequest, error) {
	var rows []models.ApprovalRequest
	if err := r.db.WithContext(ctx).
		Where("status = ? AND escalate_at IS NOT NULL AND escalate_at <= ?", enums.ApprovalStatusPending, now.UTC()).
		Order("escalate_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) CreateDecision(ctx context.Context, decision *models.ApprovalDecision) error {
	return r.db.WithContext(ctx).Create(decision).Error
}

func (r *repository) ListDecisions(ctx context.Context, requestID uuid.UUID) ([]models.ApprovalDecision, error) {
	var rows []models.ApprovalDecision
	if err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
