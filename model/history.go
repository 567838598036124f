package model

import "time"

// EntityType 状态历史所属实体
type EntityType string

const (
	EntityTrack    EntityType = "track"
	EntityOffer    EntityType = "offer"
	EntityContract EntityType = "contract"
)

// ValidEntityType reports whether s names a tracked entity.
func ValidEntityType(s string) bool {
	switch EntityType(s) {
	case EntityTrack, EntityOffer, EntityContract:
		return true
	}
	return false
}

// StateHistoryEntry is an append-only record of one state transition.
// Sequence is assigned per entity inside the writing transaction.
type StateHistoryEntry struct {
	ID             int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	EntityType     EntityType `json:"entityType" gorm:"size:20;not null;uniqueIndex:idx_history_entity_seq"`
	EntityID       int64      `json:"entityId" gorm:"not null;uniqueIndex:idx_history_entity_seq"`
	Sequence       int        `json:"sequence" gorm:"not null;uniqueIndex:idx_history_entity_seq"`
	PreviousState  string     `json:"previousState" gorm:"size:30"`
	NewState       string     `json:"newState" gorm:"size:30;not null"`
	ChangedBy      int64      `json:"changedBy"` // 0 = system
	ChangedByRole  string     `json:"changedByRole" gorm:"size:20"`
	ChangedAt      time.Time  `json:"changedAt"`
	OverrideReason *string    `json:"overrideReason,omitempty" gorm:"type:text"`
	Note           string     `json:"note,omitempty" gorm:"size:512"`
}

// TableName 指定表名
func (StateHistoryEntry) TableName() string {
	return "state_history"
}

// All returns every persisted model, in migration order.
func All() []interface{} {
	return []interface{}{
		&Track{},
		&OfferVersionCounter{},
		&Offer{},
		&Contract{},
		&Signature{},
		&StateHistoryEntry{},
	}
}
