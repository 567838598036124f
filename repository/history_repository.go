package repository

import (
	"context"

	"TrackDeal/model"

	"gorm.io/gorm"
)

// HistoryRepository is the append-only state history ledger. It has no
// update or delete methods.
type HistoryRepository interface {
	// Append assigns the next per-entity sequence and inserts the entry.
	// The unique (entity_type, entity_id, sequence) index turns a race into
	// a retryable conflict.
	Append(ctx context.Context, entry *model.StateHistoryEntry) error
	List(ctx context.Context, entityType model.EntityType, entityID int64) ([]*model.StateHistoryEntry, error)
	HasNote(ctx context.Context, entityType model.EntityType, entityID int64, note string) (bool, error)
}

type gormHistoryRepository struct {
	db *gorm.DB
}

func (r *gormHistoryRepository) Append(ctx context.Context, entry *model.StateHistoryEntry) error {
	db := r.db.WithContext(ctx)
	var last int
	err := db.Model(&model.StateHistoryEntry{}).
		Where("entity_type = ? AND entity_id = ?", entry.EntityType, entry.EntityID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&last).Error
	if err != nil {
		return err
	}
	entry.Sequence = last + 1
	return db.Create(entry).Error
}

func (r *gormHistoryRepository) List(ctx context.Context, entityType model.EntityType, entityID int64) ([]*model.StateHistoryEntry, error) {
	var entries []*model.StateHistoryEntry
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("sequence ASC").
		Find(&entries).Error
	return entries, err
}

func (r *gormHistoryRepository) HasNote(ctx context.Context, entityType model.EntityType, entityID int64, note string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.StateHistoryEntry{}).
		Where("entity_type = ? AND entity_id = ? AND note = ?", entityType, entityID, note).
		Count(&count).Error
	return count > 0, err
}
