package repository

import (
	"context"
	"errors"
	"time"

	"TrackDeal/model"

	"gorm.io/gorm"
)

// OfferRepository 报价数据访问接口
type OfferRepository interface {
	// NextVersion reserves the next version number for a track. It must run
	// inside the transaction that inserts the offer so a rollback releases
	// the number.
	NextVersion(ctx context.Context, trackID int64) (int, error)
	Create(ctx context.Context, offer *model.Offer) error
	GetByID(ctx context.Context, id int64) (*model.Offer, error)
	ListByTrack(ctx context.Context, trackID int64) ([]*model.Offer, error)
	// ListLive returns non-terminal offers for a track, highest version first.
	ListLive(ctx context.Context, trackID int64) ([]*model.Offer, error)
	Transition(ctx context.Context, id int64, from, to model.OfferStatus, fields map[string]interface{}) (bool, error)
}

type gormOfferRepository struct {
	db *gorm.DB
}

func (r *gormOfferRepository) NextVersion(ctx context.Context, trackID int64) (int, error) {
	db := r.db.WithContext(ctx)

	var counter model.OfferVersionCounter
	err := db.Where("track_id = ?", trackID).First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// A concurrent first insert surfaces as a duplicate key and is retried.
		counter = model.OfferVersionCounter{TrackID: trackID, LastVersion: 1, UpdatedAt: time.Now()}
		if err := db.Create(&counter).Error; err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}

	next := counter.LastVersion + 1
	res := db.Model(&model.OfferVersionCounter{}).
		Where("track_id = ? AND last_version = ?", trackID, counter.LastVersion).
		Updates(map[string]interface{}{"last_version": next, "updated_at": time.Now()})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected != 1 {
		return 0, ErrVersionConflict
	}
	return next, nil
}

func (r *gormOfferRepository) Create(ctx context.Context, offer *model.Offer) error {
	return r.db.WithContext(ctx).Create(offer).Error
}

func (r *gormOfferRepository) GetByID(ctx context.Context, id int64) (*model.Offer, error) {
	var offer model.Offer
	err := r.db.WithContext(ctx).First(&offer, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &offer, nil
}

func (r *gormOfferRepository) ListByTrack(ctx context.Context, trackID int64) ([]*model.Offer, error) {
	var offers []*model.Offer
	err := r.db.WithContext(ctx).
		Where("track_id = ?", trackID).
		Order("version ASC").
		Find(&offers).Error
	return offers, err
}

func (r *gormOfferRepository) ListLive(ctx context.Context, trackID int64) ([]*model.Offer, error) {
	var offers []*model.Offer
	err := r.db.WithContext(ctx).
		Where("track_id = ? AND status IN ?", trackID, model.LiveOfferStatuses).
		Order("version DESC").
		Find(&offers).Error
	return offers, err
}

func (r *gormOfferRepository) Transition(ctx context.Context, id int64, from, to model.OfferStatus, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).Model(&model.Offer{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
