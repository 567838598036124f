package repository

import (
	"context"

	"gorm.io/gorm"
)

// Store groups the deal repositories over one gorm handle. Inside
// Transaction every repository shares the transaction's handle.
type Store struct {
	db *gorm.DB
}

// NewStore 创建仓库集合
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Transaction runs fn in a database transaction. fn must only use the
// Store it is given.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) Tracks() TrackRepository {
	return &gormTrackRepository{db: s.db}
}

func (s *Store) Offers() OfferRepository {
	return &gormOfferRepository{db: s.db}
}

func (s *Store) Contracts() ContractRepository {
	return &gormContractRepository{db: s.db}
}

func (s *Store) Signatures() SignatureRepository {
	return &gormSignatureRepository{db: s.db}
}

func (s *Store) History() HistoryRepository {
	return &gormHistoryRepository{db: s.db}
}
