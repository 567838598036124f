package deal

import (
	"context"
	"strings"

	"TrackDeal/core/auth"
	"TrackDeal/model"
)

// SubmitTrack records a producer's submission in the submitted state.
func (e *Engine) SubmitTrack(ctx context.Context, c auth.Caller, title, artist string) (*model.Track, error) {
	if err := e.authorize(c, auth.ActionSubmitTrack); err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, validationf("title is required")
	}

	track := &model.Track{
		UserID: c.UserID,
		Title:  title,
		Artist: strings.TrimSpace(artist),
		Status: model.TrackSubmitted,
	}
	err := e.inTx(ctx, func(t *txn) error {
		track.ID = 0
		if err := t.Tracks().Create(ctx, track); err != nil {
			return err
		}
		return t.record(change{entity: model.EntityTrack, id: track.ID, to: string(track.Status), actor: c, note: "submitted"})
	})
	if err != nil {
		return nil, err
	}
	return track, nil
}

// MoveToReview moves a submitted track under review.
func (e *Engine) MoveToReview(ctx context.Context, c auth.Caller, trackID int64) (*model.Track, error) {
	if err := e.authorize(c, auth.ActionReviewTrack); err != nil {
		return nil, err
	}
	return e.transitionTrack(ctx, c, trackID, auth.ActionReviewTrack, nil, "")
}

// Deny rejects a track under review. The reason is mandatory.
func (e *Engine) Deny(ctx context.Context, c auth.Caller, trackID int64, reason string) (*model.Track, error) {
	if err := e.authorize(c, auth.ActionDenyTrack); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validationf("denial reason is required")
	}
	return e.transitionTrack(ctx, c, trackID, auth.ActionDenyTrack, map[string]interface{}{"denial_reason": reason}, reason)
}

// Reopen puts a denied track back under review. Super admins only.
func (e *Engine) Reopen(ctx context.Context, c auth.Caller, trackID int64) (*model.Track, error) {
	if err := e.authorize(c, auth.ActionReopenTrack); err != nil {
		return nil, err
	}
	return e.transitionTrack(ctx, c, trackID, auth.ActionReopenTrack, map[string]interface{}{"denial_reason": nil}, "")
}

func (e *Engine) transitionTrack(ctx context.Context, c auth.Caller, trackID int64, a auth.Action, fields map[string]interface{}, note string) (*model.Track, error) {
	var out *model.Track
	err := e.inTx(ctx, func(t *txn) error {
		track, err := t.Tracks().GetByID(ctx, trackID)
		if err != nil {
			return err
		}
		if track == nil {
			return notFound("track", trackID)
		}
		to, err := nextTrackStatus(a, track.Status)
		if err != nil {
			return err
		}
		ok, err := t.Tracks().Transition(ctx, trackID, track.Status, to, fields)
		if err != nil {
			return err
		}
		if !ok {
			return staleTransition("track", trackID)
		}
		if err := t.record(change{entity: model.EntityTrack, id: trackID, from: string(track.Status), to: string(to), actor: c, note: note}); err != nil {
			return err
		}
		out, err = t.Tracks().GetByID(ctx, trackID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetTrack returns a track. Producers may only read their own.
func (e *Engine) GetTrack(ctx context.Context, c auth.Caller, trackID int64) (*model.Track, error) {
	if err := e.authorize(c, auth.ActionViewTrack); err != nil {
		return nil, err
	}
	track, err := e.store.Tracks().GetByID(ctx, trackID)
	if err != nil {
		return nil, err
	}
	if track == nil {
		return nil, notFound("track", trackID)
	}
	if err := ownsTrack(c, track); err != nil {
		return nil, err
	}
	return track, nil
}

// ownsTrack passes admin tiers and the owning producer.
func ownsTrack(c auth.Caller, track *model.Track) error {
	if c.IsAdminTier() || track.UserID == c.UserID {
		return nil
	}
	return forbiddenf("track %d belongs to another producer", track.ID)
}

// ListTracks returns a producer's tracks, newest first. Producers always
// get their own; admin tiers name the producer.
func (e *Engine) ListTracks(ctx context.Context, c auth.Caller, producerID int64) ([]*model.Track, error) {
	if err := e.authorize(c, auth.ActionViewTrack); err != nil {
		return nil, err
	}
	if !c.IsAdminTier() {
		producerID = c.UserID
	}
	return e.store.Tracks().ListByProducer(ctx, producerID)
}
