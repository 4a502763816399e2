package settings

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/ledgergate-backend/pkg/db/models"
)

// Repository manages the settings table.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Find(ctx context.Context, key, category string) (*models.Setting, error)
	Upsert(ctx context.Context, setting *models.Setting) error
	ListByCategory(ctx context.Context, category string) ([]models.Setting, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a settings repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Find(ctx context.Context, key, category string) (*models.Setting, error) {
	var setting models.Setting
	if err := r.db.WithContext(ctx).
		Where(`"key" = ? AND category = ?`, key, category).
		First(&setting).Error; err != nil {
		return nil, err
	}
	return &setting, nil
}

func (r *repository) Upsert(ctx context.Context, setting *models.Setting) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}, {Name: "category"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_by", "updated_at"}),
		}).
		Create(setting).Error
}

func (r *repository) ListByCategory(ctx context.Context, category string) ([]models.Setting, error) {
	var rows []models.Setting
	if err := r.db.WithContext(ctx).
		Where("category = ?", category).
		Order(`"key" ASC`).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
