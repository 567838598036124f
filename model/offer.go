package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// DealType 交易类型
type DealType string

const (
	DealBuyout       DealType = "buyout"
	DealRevenueSplit DealType = "revenue_split"
	DealRecoupment   DealType = "recoupment"
)

// ValidDealType reports whether d is one of the supported deal types.
func ValidDealType(d DealType) bool {
	switch d {
	case DealBuyout, DealRevenueSplit, DealRecoupment:
		return true
	}
	return false
}

// OfferStatus 报价状态
type OfferStatus string

const (
	OfferDraft      OfferStatus = "draft"
	OfferSent       OfferStatus = "sent"
	OfferViewed     OfferStatus = "viewed"
	OfferCountered  OfferStatus = "countered"
	OfferAccepted   OfferStatus = "accepted"
	OfferRejected   OfferStatus = "rejected"
	OfferExpired    OfferStatus = "expired"
	OfferSuperseded OfferStatus = "superseded"
)

// OfferStatuses lists every valid offer state.
var OfferStatuses = []OfferStatus{
	OfferDraft, OfferSent, OfferViewed, OfferCountered,
	OfferAccepted, OfferRejected, OfferExpired, OfferSuperseded,
}

// Live reports whether the offer is still open for negotiation.
func (s OfferStatus) Live() bool {
	switch s {
	case OfferDraft, OfferSent, OfferViewed, OfferCountered:
		return true
	}
	return false
}

// LiveOfferStatuses 非终态
var LiveOfferStatuses = []OfferStatus{OfferDraft, OfferSent, OfferViewed, OfferCountered}

// ValidOfferStatus reports whether s names an offer state.
func ValidOfferStatus(s string) bool {
	for _, st := range OfferStatuses {
		if string(st) == s {
			return true
		}
	}
	return false
}

// Terms holds the commercial terms of an offer. Monetary amounts are in
// cents; split fields are whole percentages.
type Terms struct {
	BuyoutAmountCents    *int64 `json:"buyoutAmountCents,omitempty"`
	ProducerSplit        *int   `json:"producerSplit,omitempty"`
	PlatformSplit        *int   `json:"platformSplit,omitempty"`
	MarketingBudgetCents *int64 `json:"marketingBudgetCents,omitempty"`
	TermMonths           int    `json:"termMonths"`
	Territory            string `json:"territory" gorm:"size:100"`
	Exclusive            bool   `json:"exclusive"`
}

// PendingTerms 生产者的还价条款，以 JSON 存储在 offers.counter_terms
type PendingTerms Terms

// Scan 实现 sql.Scanner 接口
func (p *PendingTerms) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported counter_terms type %T", value)
	}
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return json.Unmarshal(b, p)
}

// Value 实现 driver.Valuer 接口
func (p PendingTerms) Value() (driver.Value, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Offer is one immutable version of proposed terms for a track.
// Versions per track start at 1 and are never reused.
type Offer struct {
	ID              int64         `json:"id" gorm:"primaryKey;autoIncrement"`
	TrackID         int64         `json:"trackId" gorm:"not null;uniqueIndex:idx_offer_track_version"`
	Version         int           `json:"version" gorm:"not null;uniqueIndex:idx_offer_track_version"`
	DealType        DealType      `json:"dealType" gorm:"size:20;not null"`
	Terms           Terms         `json:"terms" gorm:"embedded"`
	ExpiresAt       time.Time     `json:"expiresAt" gorm:"not null"`
	Status          OfferStatus   `json:"status" gorm:"size:20;not null;index"`
	CounterTerms    *PendingTerms `json:"counterTerms,omitempty" gorm:"type:text"`
	AcceptedCounter bool          `json:"acceptedCounter" gorm:"default:false"`
	PreviousOfferID *int64        `json:"previousOfferId,omitempty"`
	SentAt          *time.Time    `json:"sentAt,omitempty"`
	CreatedBy       int64         `json:"createdBy"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// TableName 指定表名
func (Offer) TableName() string {
	return "offers"
}

// Released reports whether the offer was ever sent to the producer.
// Drafts stay admin-only until then.
func (o *Offer) Released() bool {
	return o.SentAt != nil
}

// EffectiveTerms returns the terms a contract is generated from: the
// producer's counter proposal when the admin accepted it, otherwise the
// offer's own terms.
func (o *Offer) EffectiveTerms() Terms {
	if o.AcceptedCounter && o.CounterTerms != nil {
		return Terms(*o.CounterTerms)
	}
	return o.Terms
}

// OfferVersionCounter holds the last assigned offer version per track.
type OfferVersionCounter struct {
	TrackID     int64     `gorm:"primaryKey;autoIncrement:false"`
	LastVersion int       `gorm:"not null"`
	UpdatedAt   time.Time
}

// TableName 指定表名
func (OfferVersionCounter) TableName() string {
	return "offer_version_counters"
}
