package model

import "time"

// ContractStatus 合同状态
type ContractStatus string

const (
	ContractGenerated        ContractStatus = "generated"
	ContractSentForSignature ContractStatus = "sent_for_signature"
	ContractSignedByProducer ContractStatus = "signed_by_producer"
	ContractFullyExecuted    ContractStatus = "fully_executed"
	ContractArchived         ContractStatus = "archived"
)

// ContractStatuses lists every valid contract state.
var ContractStatuses = []ContractStatus{
	ContractGenerated, ContractSentForSignature, ContractSignedByProducer,
	ContractFullyExecuted, ContractArchived,
}

// ValidContractStatus reports whether s names a contract state.
func ValidContractStatus(s string) bool {
	for _, st := range ContractStatuses {
		if string(st) == s {
			return true
		}
	}
	return false
}

// Contract is the executable document derived from an accepted offer.
// ContentHash, when set, is the sha256 of the bytes stored at BlobPath.
type Contract struct {
	ID               int64          `json:"id" gorm:"primaryKey;autoIncrement"`
	OfferID          int64          `json:"offerId" gorm:"not null;uniqueIndex"`
	OfferVersion     int            `json:"offerVersion" gorm:"not null"`
	TrackID          int64          `json:"trackId" gorm:"not null;index"`
	ProducerID       int64          `json:"producerId" gorm:"not null;index"`
	TemplateVersion  string         `json:"templateVersion" gorm:"size:100;not null"`
	Body             string         `json:"-" gorm:"type:text;not null"`
	BlobPath         *string        `json:"-" gorm:"size:512"`
	ContentHash      *string        `json:"contentHash,omitempty" gorm:"size:64"`
	Status           ContractStatus `json:"status" gorm:"size:30;not null;index"`
	ProducerSignedAt *time.Time     `json:"producerSignedAt,omitempty"`
	AdminSignedAt    *time.Time     `json:"adminSignedAt,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// TableName 指定表名
func (Contract) TableName() string {
	return "contracts"
}

// SignerRole 签署方
type SignerRole string

const (
	SignerProducer SignerRole = "producer"
	SignerAdmin    SignerRole = "admin"
)

// Signature records one party's act of signing. Rows are never edited.
type Signature struct {
	ID          int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	ContractID  int64      `json:"contractId" gorm:"not null;index"`
	SignerRole  SignerRole `json:"signerRole" gorm:"size:20;not null"`
	SignerID    int64      `json:"signerId"`
	SignerName  string     `json:"signerName" gorm:"size:255;not null"`
	SignedAt    time.Time  `json:"signedAt"`
	Token       string     `json:"token" gorm:"size:64"`
	ContentHash string     `json:"contentHash" gorm:"size:64"` // hash of the document after this signature
	IPAddress   string     `json:"ipAddress,omitempty" gorm:"size:45"`
	UserAgent   string     `json:"userAgent,omitempty" gorm:"size:255"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// TableName 指定表名
func (Signature) TableName() string {
	return "contract_signatures"
}
