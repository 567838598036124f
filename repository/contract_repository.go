package repository

import (
	"context"
	"errors"
	"time"

	"TrackDeal/model"

	"gorm.io/gorm"
)

// ContractRepository 合同数据访问接口
type ContractRepository interface {
	Create(ctx context.Context, contract *model.Contract) error
	GetByID(ctx context.Context, id int64) (*model.Contract, error)
	GetByOfferID(ctx context.Context, offerID int64) (*model.Contract, error)
	ListByProducer(ctx context.Context, producerID int64) ([]*model.Contract, error)
	// Transition is a conditional update on status; concurrent signers
	// serialise on it.
	Transition(ctx context.Context, id int64, from, to model.ContractStatus, fields map[string]interface{}) (bool, error)
}

type gormContractRepository struct {
	db *gorm.DB
}

func (r *gormContractRepository) Create(ctx context.Context, contract *model.Contract) error {
	return r.db.WithContext(ctx).Create(contract).Error
}

func (r *gormContractRepository) GetByID(ctx context.Context, id int64) (*model.Contract, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *gormContractRepository) GetByOfferID(ctx context.Context, offerID int64) (*model.Contract, error) {
	return r.first(ctx, "offer_id = ?", offerID)
}

func (r *gormContractRepository) first(ctx context.Context, query string, arg interface{}) (*model.Contract, error) {
	var contract model.Contract
	err := r.db.WithContext(ctx).Where(query, arg).First(&contract).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &contract, nil
}

func (r *gormContractRepository) ListByProducer(ctx context.Context, producerID int64) ([]*model.Contract, error) {
	var contracts []*model.Contract
	err := r.db.WithContext(ctx).
		Where("producer_id = ?", producerID).
		Order("id DESC").
		Find(&contracts).Error
	return contracts, err
}

func (r *gormContractRepository) Transition(ctx context.Context, id int64, from, to model.ContractStatus, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).Model(&model.Contract{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SignatureRepository 签名记录，只追加
type SignatureRepository interface {
	Create(ctx context.Context, sig *model.Signature) error
	ListByContract(ctx context.Context, contractID int64) ([]*model.Signature, error)
}

type gormSignatureRepository struct {
	db *gorm.DB
}

func (r *gormSignatureRepository) Create(ctx context.Context, sig *model.Signature) error {
	return r.db.WithContext(ctx).Create(sig).Error
}

func (r *gormSignatureRepository) ListByContract(ctx context.Context, contractID int64) ([]*model.Signature, error) {
	var sigs []*model.Signature
	err := r.db.WithContext(ctx).
		Where("contract_id = ?", contractID).
		Order("id ASC").
		Find(&sigs).Error
	return sigs, err
}
