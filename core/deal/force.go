package deal

import (
	"context"
	"fmt"
	"strings"

	"TrackDeal/core/auth"
	"TrackDeal/logger"
	"TrackDeal/model"
)

// ForceResult reports a forced state change.
type ForceResult struct {
	EntityType    model.EntityType `json:"entityType"`
	EntityID      int64            `json:"entityId"`
	PreviousState string           `json:"previousState"`
	NewState      string           `json:"newState"`
}

// ForceState sets an entity to any valid state, bypassing the transition
// tables, for operational recovery. Super admins only; the reason is kept
// in history as the override reason.
func (e *Engine) ForceState(ctx context.Context, c auth.Caller, entity model.EntityType, id int64, state, reason string) (*ForceResult, error) {
	if err := e.authorize(c, auth.ActionForceState); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validationf("override reason is required")
	}
	if !model.ValidEntityType(string(entity)) {
		return nil, validationf("entity_type must be one of track, offer, contract")
	}
	if !validState(entity, state) {
		return nil, validationf("%q is not a valid %s state", state, entity)
	}

	var res *ForceResult
	err := e.inTx(ctx, func(t *txn) error {
		from, ok, err := forceOne(t, entity, id, state, reason)
		if err != nil {
			return err
		}
		if !ok {
			return staleTransition(string(entity), id)
		}
		res = &ForceResult{EntityType: entity, EntityID: id, PreviousState: from, NewState: state}
		return t.record(change{
			entity: entity, id: id, from: from, to: state, actor: c,
			override: strPtr(reason), note: "forced",
		})
	})
	if err != nil {
		return nil, err
	}
	logger.Warn("state forced",
		logger.String("entity_type", string(entity)),
		logger.Int64("entity_id", id),
		logger.String("from", res.PreviousState),
		logger.String("to", state),
		logger.Int64("user_id", c.UserID),
		logger.String("reason", reason),
	)
	return res, nil
}

func validState(entity model.EntityType, state string) bool {
	switch entity {
	case model.EntityTrack:
		return model.ValidTrackStatus(state)
	case model.EntityOffer:
		return model.ValidOfferStatus(state)
	case model.EntityContract:
		return model.ValidContractStatus(state)
	}
	return false
}

// forceOne applies the conditional update and returns the previous state.
func forceOne(t *txn, entity model.EntityType, id int64, state, reason string) (string, bool, error) {
	ctx := t.ctx
	switch entity {
	case model.EntityTrack:
		track, err := t.Tracks().GetByID(ctx, id)
		if err != nil {
			return "", false, err
		}
		if track == nil {
			return "", false, notFound("track", id)
		}
		// denial_reason 只在 denied 时非空
		fields := map[string]interface{}{"denial_reason": nil}
		if model.TrackStatus(state) == model.TrackDenied {
			fields["denial_reason"] = reason
		}
		ok, err := t.Tracks().Transition(ctx, id, track.Status, model.TrackStatus(state), fields)
		return string(track.Status), ok, err
	case model.EntityOffer:
		offer, err := t.Offers().GetByID(ctx, id)
		if err != nil {
			return "", false, err
		}
		if offer == nil {
			return "", false, notFound("offer", id)
		}
		if model.OfferStatus(state).Live() && !offer.Status.Live() {
			live, err := t.Offers().ListLive(ctx, offer.TrackID)
			if err != nil {
				return "", false, err
			}
			if len(live) > 0 {
				return "", false, transitionf("track %d already has live offer %d; force it to a terminal state first", offer.TrackID, live[0].ID)
			}
		}
		var fields map[string]interface{}
		if model.OfferStatus(state) != model.OfferDraft && !offer.Released() {
			// 强制离开草稿即视为已发送
			fields = map[string]interface{}{"sent_at": t.now}
		}
		ok, err := t.Offers().Transition(ctx, id, offer.Status, model.OfferStatus(state), fields)
		return string(offer.Status), ok, err
	case model.EntityContract:
		contract, err := t.Contracts().GetByID(ctx, id)
		if err != nil {
			return "", false, err
		}
		if contract == nil {
			return "", false, notFound("contract", id)
		}
		ok, err := t.Contracts().Transition(ctx, id, contract.Status, model.ContractStatus(state), nil)
		return string(contract.Status), ok, err
	}
	return "", false, fmt.Errorf("unknown entity type %q", entity)
}

// History returns the state history of an entity in sequence order.
// Producers only see history of their own tracks, offers and contracts.
func (e *Engine) History(ctx context.Context, c auth.Caller, entity model.EntityType, id int64) ([]*model.StateHistoryEntry, error) {
	if err := e.authorize(c, auth.ActionViewHistory); err != nil {
		return nil, err
	}
	if !model.ValidEntityType(string(entity)) {
		return nil, validationf("entity_type must be one of track, offer, contract")
	}
	if err := e.checkEntityAccess(ctx, c, entity, id); err != nil {
		return nil, err
	}
	return e.store.History().List(ctx, entity, id)
}

func (e *Engine) checkEntityAccess(ctx context.Context, c auth.Caller, entity model.EntityType, id int64) error {
	switch entity {
	case model.EntityTrack:
		track, err := e.store.Tracks().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if track == nil {
			return notFound("track", id)
		}
		return ownsTrack(c, track)
	case model.EntityOffer:
		offer, err := e.store.Offers().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if offer == nil {
			return notFound("offer", id)
		}
		track, err := e.store.Tracks().GetByID(ctx, offer.TrackID)
		if err != nil {
			return err
		}
		if track == nil {
			return notFound("track", offer.TrackID)
		}
		if err := ownsTrack(c, track); err != nil {
			return err
		}
		if hiddenFromProducer(c, offer) {
			return notFound("offer", id)
		}
		return nil
	default:
		_, err := e.loadContract(ctx, c, id)
		return err
	}
}
