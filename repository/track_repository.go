package repository

import (
	"context"
	"errors"
	"time"

	"TrackDeal/model"

	"gorm.io/gorm"
)

// TrackRepository defines the interface for track data operations.
type TrackRepository interface {
	Create(ctx context.Context, track *model.Track) error
	GetByID(ctx context.Context, id int64) (*model.Track, error)
	ListByProducer(ctx context.Context, userID int64) ([]*model.Track, error)
	// Transition moves a track from one status to another and applies the
	// extra column updates. It reports false if the track was not in from.
	Transition(ctx context.Context, id int64, from, to model.TrackStatus, fields map[string]interface{}) (bool, error)
}

type gormTrackRepository struct {
	db *gorm.DB
}

func (r *gormTrackRepository) Create(ctx context.Context, track *model.Track) error {
	return r.db.WithContext(ctx).Create(track).Error
}

// GetByID returns nil, nil when the track does not exist.
func (r *gormTrackRepository) GetByID(ctx context.Context, id int64) (*model.Track, error) {
	var track model.Track
	err := r.db.WithContext(ctx).First(&track, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &track, nil
}

func (r *gormTrackRepository) ListByProducer(ctx context.Context, userID int64) ([]*model.Track, error) {
	var tracks []*model.Track
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&tracks).Error
	return tracks, err
}

func (r *gormTrackRepository) Transition(ctx context.Context, id int64, from, to model.TrackStatus, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).Model(&model.Track{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
