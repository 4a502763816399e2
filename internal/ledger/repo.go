package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/ledgergate-backend/pkg/db/models"
	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
	"github.com/angelmondragon/ledgergate-backend/pkg/pagination"
)

// EntryFilter narrows ListEntries. Zero values match everything.
type EntryFilter struct {
	Stream    enums.LedgerStream
	Type      enums.LedgerEntryType
	Reference string
	From      *time.Time
	To        *time.Time
	Cursor    *pagination.Cursor
	Limit     int
}

// Repository manages persistence for ledger entries and allocations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockStream(ctx context.Context, stream enums.LedgerStream) error
	CreateEntry(ctx context.Context, entry *models.LedgerEntry) error
	FindEntry(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error)
	ListStreamEntries(ctx context.Context, stream enums.LedgerStream, asOf *time.Time) ([]models.LedgerEntry, error)
	ListCorrections(ctx context.Context, originalID uuid.UUID) ([]models.LedgerEntry, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]models.LedgerEntry, error)
	UpdateEntryFields(ctx context.Context, id uuid.UUID, fields map[string]any) error
	UpdateAllocationAmount(ctx context.Context, id uuid.UUID, amount any) error
	VoidEntry(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// LockStream takes the per-stream row lock that serializes balance-gated writes.
func (r *repository) LockStream(ctx context.Context, stream enums.LedgerStream) error {
	var row models.LedgerStreamLock
	return r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("stream = ?", stream).
		First(&row).Error
}

func (r *repository) CreateEntry(ctx context.Context, entry *models.LedgerEntry) error {
	db := r.db.WithContext(ctx)
	if err := db.Omit(clause.Associations).Create(entry).Error; err != nil {
		return err
	}
	for i := range entry.Allocations {
		entry.Allocations[i].EntryID = entry.ID
	}
	if len(entry.Allocations) == 0 {
		return nil
	}
	return db.Create(&entry.Allocations).Error
}

func (r *repository) FindEntry(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	if err := r.db.WithContext(ctx).
		Preload("Allocations", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC").Order("id ASC") }).
		Where("id = ?", id).
		First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) ListStreamEntries(ctx context.Context, stream enums.LedgerStream, asOf *time.Time) ([]models.LedgerEntry, error) {
	query := r.db.WithContext(ctx).Where("stream = ?", stream)
	if asOf != nil {
		query = query.Where("occurred_at <= ?", asOf.UTC())
	}
	var entries []models.LedgerEntry
	if err := query.Order("occurred_at ASC").Order("id ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) ListCorrections(ctx context.Context, originalID uuid.UUID) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	if err := r.db.WithContext(ctx).
		Where("reverses_entry_id = ?", originalID).
		Order("occurred_at ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) ListEntries(ctx context.Context, filter EntryFilter) ([]models.LedgerEntry, error) {
	query := r.db.WithContext(ctx).Model(&models.LedgerEntry{})
	if filter.Stream != "" {
		query = query.Where("stream = ?", filter.Stream)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Reference != "" {
		query = query.Where("reference = ?", filter.Reference)
	}
	if filter.From != nil {
		query = query.Where("occurred_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		query = query.Where("occurred_at <= ?", filter.To.UTC())
	}
	if filter.Cursor != nil {
		at := filter.Cursor.At.UTC()
		query = query.Where("(occurred_at < ?) OR (occurred_at = ? AND id < ?)", at, at, filter.Cursor.ID)
	}
	var entries []models.LedgerEntry
	if err := query.
		Preload("Allocations").
		Order("occurred_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(filter.Limit)).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) UpdateEntryFields(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *repository) UpdateAllocationAmount(ctx context.Context, id uuid.UUID, amount any) error {
	return r.db.WithContext(ctx).
		Model(&models.LedgerAllocation{}).
		Where("id = ?", id).
		Update("amount", amount).Error
}

// VoidEntry soft-deletes; voided rows drop out of balances and reads.
func (r *repository) VoidEntry(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.LedgerEntry{}).Error
}
