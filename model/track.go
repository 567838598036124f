package model

import "time"

// TrackStatus is the review state of a submitted track.
type TrackStatus string

const (
	TrackSubmitted   TrackStatus = "submitted"
	TrackUnderReview TrackStatus = "under_review"
	TrackDenied      TrackStatus = "denied"
)

// TrackStatuses lists every valid track state.
var TrackStatuses = []TrackStatus{TrackSubmitted, TrackUnderReview, TrackDenied}

// Track represents an audio work submitted by a producer.
// DenialReason is non-nil only while Status is TrackDenied.
type Track struct {
	ID           int64       `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID       int64       `json:"userId" gorm:"index;not null"` // owning producer
	Title        string      `json:"title" gorm:"size:255;not null"`
	Artist       string      `json:"artist" gorm:"size:255"`
	Status       TrackStatus `json:"status" gorm:"size:20;not null;index"`
	DenialReason *string     `json:"denialReason,omitempty" gorm:"type:text"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// TableName 指定表名
func (Track) TableName() string {
	return "tracks"
}

// ValidTrackStatus reports whether s names a track state.
func ValidTrackStatus(s string) bool {
	for _, st := range TrackStatuses {
		if string(st) == s {
			return true
		}
	}
	return false
}
