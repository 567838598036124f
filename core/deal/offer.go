package deal

import (
	"context"
	"fmt"
	"time"

	"TrackDeal/core/auth"
	"TrackDeal/logger"
	"TrackDeal/model"
)

// OfferInput is the admin's proposal for a track.
type OfferInput struct {
	TrackID   int64
	DealType  model.DealType
	Terms     model.Terms
	ExpiresAt time.Time // zero means DefaultOfferTTL from now
	Draft     bool      // create in draft instead of sent
}

// AcceptResult is returned by the accepting actions. Contract is nil when
// generation failed; the error then has kind ContractGenerationFailed and
// the offer stays accepted.
type AcceptResult struct {
	Offer    *model.Offer    `json:"offer"`
	Contract *model.Contract `json:"contract,omitempty"`
}

func (e *Engine) resolveExpiry(at time.Time) (time.Time, error) {
	now := e.now().UTC()
	if at.IsZero() {
		return now.Add(DefaultOfferTTL), nil
	}
	if !at.After(now) {
		return time.Time{}, validationf("expires_at must be in the future")
	}
	return at.UTC(), nil
}

// CreateOffer proposes version N+1 for a track under review.
func (e *Engine) CreateOffer(ctx context.Context, c auth.Caller, in OfferInput) (*model.Offer, error) {
	if err := e.authorize(c, auth.ActionCreateOffer); err != nil {
		return nil, err
	}
	if err := ValidateTerms(in.DealType, in.Terms); err != nil {
		return nil, err
	}
	expiresAt, err := e.resolveExpiry(in.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if _, err := e.settleTrackOffers(ctx, in.TrackID); err != nil {
		return nil, err
	}

	status := model.OfferSent
	if in.Draft {
		status = model.OfferDraft
	}

	var out *model.Offer
	err = e.inTx(ctx, func(t *txn) error {
		track, err := t.Tracks().GetByID(ctx, in.TrackID)
		if err != nil {
			return err
		}
		if track == nil {
			return notFound("track", in.TrackID)
		}
		if track.Status != model.TrackUnderReview {
			return transitionf("offers can only be created for tracks under review; track %d is %s", track.ID, track.Status)
		}
		live, err := t.Offers().ListLive(ctx, track.ID)
		if err != nil {
			return err
		}
		if len(live) > 0 {
			return transitionf("track %d already has live offer %d (v%d, %s)", track.ID, live[0].ID, live[0].Version, live[0].Status)
		}

		version, err := t.Offers().NextVersion(ctx, track.ID)
		if err != nil {
			return err
		}
		offer := &model.Offer{
			TrackID:   track.ID,
			Version:   version,
			DealType:  in.DealType,
			Terms:     in.Terms,
			ExpiresAt: expiresAt,
			Status:    status,
			CreatedBy: c.UserID,
		}
		if !in.Draft {
			sentAt := t.now
			offer.SentAt = &sentAt
		}
		if err := t.Offers().Create(ctx, offer); err != nil {
			return err
		}
		out = offer
		return t.record(change{
			entity: model.EntityOffer, id: offer.ID, to: string(status), actor: c,
			note: fmt.Sprintf("track %d v%d %s", track.ID, version, in.DealType),
		})
	})
	if err != nil {
		return nil, err
	}
	logger.Info("offer created",
		logger.Int64("offer_id", out.ID),
		logger.Int64("track_id", out.TrackID),
		logger.Int("version", out.Version),
	)
	return out, nil
}

// settleTrackOffers applies lazy expiry to a track's live offers and flags
// the anomaly of more than one live version. It returns the authoritative
// live offer, the highest live version, or nil.
func (e *Engine) settleTrackOffers(ctx context.Context, trackID int64) (*model.Offer, error) {
	var head *model.Offer
	err := e.inTx(ctx, func(t *txn) error {
		head = nil
		live, err := t.Offers().ListLive(ctx, trackID)
		if err != nil {
			return err
		}
		var remaining []*model.Offer
		for _, o := range live {
			if !t.now.After(o.ExpiresAt) {
				remaining = append(remaining, o)
				continue
			}
			ok, err := t.Offers().Transition(ctx, o.ID, o.Status, model.OfferExpired, nil)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := t.record(change{
				entity: model.EntityOffer, id: o.ID, from: string(o.Status), to: string(model.OfferExpired),
				actor: auth.System, note: "expired at " + o.ExpiresAt.UTC().Format(time.RFC3339),
			}); err != nil {
				return err
			}
		}
		if len(remaining) == 0 {
			return nil
		}
		head = remaining[0]
		for _, o := range remaining[1:] {
			note := fmt.Sprintf("anomaly: multiple live versions; v%d (offer %d) is authoritative", head.Version, head.ID)
			seen, err := t.History().HasNote(ctx, model.EntityOffer, o.ID, note)
			if err != nil {
				return err
			}
			if seen {
				continue
			}
			logger.Warn("multiple live offer versions",
				logger.Int64("track_id", trackID),
				logger.Int64("authoritative_offer_id", head.ID),
				logger.Int64("shadowed_offer_id", o.ID),
			)
			if err := t.record(change{
				entity: model.EntityOffer, id: o.ID, from: string(o.Status), to: string(o.Status),
				actor: auth.System, note: note,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return head, err
}

// offerStep describes one offer transition.
type offerStep struct {
	action    auth.Action
	ownerOnly bool
	fields    map[string]interface{}
	note      string
	// check runs after the state check, for action-specific validation.
	check func(o *model.Offer) error
}

func (e *Engine) transitionOffer(ctx context.Context, c auth.Caller, offerID int64, step offerStep) (*model.Offer, error) {
	existing, err := e.store.Offers().GetByID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, notFound("offer", offerID)
	}
	if _, err := e.settleTrackOffers(ctx, existing.TrackID); err != nil {
		return nil, err
	}

	var out *model.Offer
	err = e.inTx(ctx, func(t *txn) error {
		o, err := t.Offers().GetByID(ctx, offerID)
		if err != nil {
			return err
		}
		if o == nil {
			return notFound("offer", offerID)
		}
		track, err := t.Tracks().GetByID(ctx, o.TrackID)
		if err != nil {
			return err
		}
		if track == nil {
			return notFound("track", o.TrackID)
		}
		if hiddenFromProducer(c, o) {
			return notFound("offer", o.ID)
		}
		if step.ownerOnly && track.UserID != c.UserID {
			return forbiddenf("only the producer who owns track %d can %s", track.ID, step.action)
		}
		if o.Status.Live() && t.now.After(o.ExpiresAt) {
			return transitionf("offer %d expired at %s", o.ID, o.ExpiresAt.UTC().Format(time.RFC3339))
		}
		to, err := nextOfferStatus(step.action, o.Status)
		if err != nil {
			return err
		}
		live, err := t.Offers().ListLive(ctx, o.TrackID)
		if err != nil {
			return err
		}
		if len(live) > 0 && live[0].ID != o.ID {
			return transitionf("offer %d (v%d) is not the live version; v%d is authoritative", o.ID, o.Version, live[0].Version)
		}
		if step.check != nil {
			if err := step.check(o); err != nil {
				return err
			}
		}
		ok, err := t.Offers().Transition(ctx, o.ID, o.Status, to, step.fields)
		if err != nil {
			return err
		}
		if !ok {
			return staleTransition("offer", o.ID)
		}
		if err := t.record(change{entity: model.EntityOffer, id: o.ID, from: string(o.Status), to: string(to), actor: c, note: step.note}); err != nil {
			return err
		}
		out, err = t.Offers().GetByID(ctx, o.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SendOffer releases a draft offer to the producer.
func (e *Engine) SendOffer(ctx context.Context, c auth.Caller, offerID int64) (*model.Offer, error) {
	if err := e.authorize(c, auth.ActionSendOffer); err != nil {
		return nil, err
	}
	return e.transitionOffer(ctx, c, offerID, offerStep{
		action: auth.ActionSendOffer,
		fields: map[string]interface{}{"sent_at": e.now().UTC()},
	})
}

// CounterOffer stores the producer's proposed terms as pending and moves
// the offer to countered. No new version is created.
func (e *Engine) CounterOffer(ctx context.Context, c auth.Caller, offerID int64, terms model.Terms) (*model.Offer, error) {
	if err := e.authorize(c, auth.ActionCounterOffer); err != nil {
		return nil, err
	}
	pending := model.PendingTerms(terms)
	return e.transitionOffer(ctx, c, offerID, offerStep{
		action:    auth.ActionCounterOffer,
		ownerOnly: true,
		fields:    map[string]interface{}{"counter_terms": &pending},
		note:      "producer counter-proposal",
		check: func(o *model.Offer) error {
			return ValidateTerms(o.DealType, terms)
		},
	})
}

// AcceptOffer accepts a sent or viewed offer and generates its contract.
func (e *Engine) AcceptOffer(ctx context.Context, c auth.Caller, offerID int64) (*AcceptResult, error) {
	if err := e.authorize(c, auth.ActionAcceptOffer); err != nil {
		return nil, err
	}
	offer, err := e.transitionOffer(ctx, c, offerID, offerStep{action: auth.ActionAcceptOffer, ownerOnly: true})
	if err != nil {
		return nil, err
	}
	return e.afterAccept(ctx, c, offer)
}

// RejectOffer lets the producer decline a sent or viewed offer.
func (e *Engine) RejectOffer(ctx context.Context, c auth.Caller, offerID int64) (*model.Offer, error) {
	if err := e.authorize(c, auth.ActionRejectOffer); err != nil {
		return nil, err
	}
	return e.transitionOffer(ctx, c, offerID, offerStep{action: auth.ActionRejectOffer, ownerOnly: true})
}

// AcceptCounter accepts the producer's pending terms and generates the
// contract from them.
func (e *Engine) AcceptCounter(ctx context.Context, c auth.Caller, offerID int64) (*AcceptResult, error) {
	if err := e.authorize(c, auth.ActionAcceptCounter); err != nil {
		return nil, err
	}
	offer, err := e.transitionOffer(ctx, c, offerID, offerStep{
		action: auth.ActionAcceptCounter,
		fields: map[string]interface{}{"accepted_counter": true},
		note:   "counter-proposal accepted",
		check: func(o *model.Offer) error {
			if o.CounterTerms == nil {
				return preconditionf("offer %d has no pending counter terms", o.ID)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return e.afterAccept(ctx, c, offer)
}

// RejectCounter closes a countered offer.
func (e *Engine) RejectCounter(ctx context.Context, c auth.Caller, offerID int64) (*model.Offer, error) {
	if err := e.authorize(c, auth.ActionRejectCounter); err != nil {
		return nil, err
	}
	return e.transitionOffer(ctx, c, offerID, offerStep{action: auth.ActionRejectCounter, note: "counter-proposal rejected"})
}

func (e *Engine) afterAccept(ctx context.Context, c auth.Caller, offer *model.Offer) (*AcceptResult, error) {
	res := &AcceptResult{Offer: offer}
	contract, err := e.generateContract(ctx, c, offer.ID)
	if err != nil {
		logger.Error("contract generation failed after acceptance",
			logger.Int64("offer_id", offer.ID),
			logger.ErrorField(err),
		)
		return res, &Error{
			Kind:    KindContractGenerationFail,
			Message: fmt.Sprintf("offer %d was accepted but contract generation failed; retry generate-contract", offer.ID),
			Err:     err,
		}
	}
	res.Contract = contract
	return res, nil
}

// ReviseInput carries the admin's revised terms for a countered offer.
type ReviseInput struct {
	Terms     model.Terms
	ExpiresAt time.Time
}

// ReviseOffer supersedes a countered offer with version N+1 in sent.
func (e *Engine) ReviseOffer(ctx context.Context, c auth.Caller, offerID int64, in ReviseInput) (*model.Offer, error) {
	if err := e.authorize(c, auth.ActionReviseOffer); err != nil {
		return nil, err
	}
	expiresAt, err := e.resolveExpiry(in.ExpiresAt)
	if err != nil {
		return nil, err
	}
	existing, err := e.store.Offers().GetByID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, notFound("offer", offerID)
	}
	if _, err := e.settleTrackOffers(ctx, existing.TrackID); err != nil {
		return nil, err
	}

	var out *model.Offer
	err = e.inTx(ctx, func(t *txn) error {
		prev, err := t.Offers().GetByID(ctx, offerID)
		if err != nil {
			return err
		}
		if prev == nil {
			return notFound("offer", offerID)
		}
		if prev.Status.Live() && t.now.After(prev.ExpiresAt) {
			return transitionf("offer %d expired at %s", prev.ID, prev.ExpiresAt.UTC().Format(time.RFC3339))
		}
		to, err := nextOfferStatus(auth.ActionReviseOffer, prev.Status)
		if err != nil {
			return err
		}
		if err := ValidateTerms(prev.DealType, in.Terms); err != nil {
			return err
		}

		ok, err := t.Offers().Transition(ctx, prev.ID, prev.Status, to, nil)
		if err != nil {
			return err
		}
		if !ok {
			return staleTransition("offer", prev.ID)
		}

		version, err := t.Offers().NextVersion(ctx, prev.TrackID)
		if err != nil {
			return err
		}
		prevID := prev.ID
		sentAt := t.now
		next := &model.Offer{
			TrackID:         prev.TrackID,
			Version:         version,
			DealType:        prev.DealType,
			Terms:           in.Terms,
			ExpiresAt:       expiresAt,
			Status:          model.OfferSent,
			PreviousOfferID: &prevID,
			SentAt:          &sentAt,
			CreatedBy:       c.UserID,
		}
		if err := t.Offers().Create(ctx, next); err != nil {
			return err
		}
		if err := t.record(change{
			entity: model.EntityOffer, id: prev.ID, from: string(prev.Status), to: string(to), actor: c,
			note: fmt.Sprintf("superseded by offer %d (v%d)", next.ID, version),
		}); err != nil {
			return err
		}
		out = next
		return t.record(change{
			entity: model.EntityOffer, id: next.ID, to: string(next.Status), actor: c,
			note: fmt.Sprintf("revision of offer %d (v%d)", prev.ID, prev.Version),
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetOffer returns an offer after applying lazy expiry. A producer reading
// a sent offer marks it viewed.
func (e *Engine) GetOffer(ctx context.Context, c auth.Caller, offerID int64) (*model.Offer, error) {
	if err := e.authorize(c, auth.ActionViewOffer); err != nil {
		return nil, err
	}
	offer, err := e.store.Offers().GetByID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, notFound("offer", offerID)
	}
	track, err := e.store.Tracks().GetByID(ctx, offer.TrackID)
	if err != nil {
		return nil, err
	}
	if track == nil {
		return nil, notFound("track", offer.TrackID)
	}
	if err := ownsTrack(c, track); err != nil {
		return nil, err
	}
	if hiddenFromProducer(c, offer) {
		return nil, notFound("offer", offerID)
	}
	if _, err := e.settleTrackOffers(ctx, offer.TrackID); err != nil {
		return nil, err
	}
	if offer, err = e.store.Offers().GetByID(ctx, offerID); err != nil {
		return nil, err
	}

	if c.Tier() == auth.TierProducer && offer.Status == model.OfferSent {
		viewed, err := e.transitionOffer(ctx, c, offerID, offerStep{action: auth.ActionViewOffer, note: "viewed by producer"})
		if err == nil {
			return viewed, nil
		}
		// A concurrent decision already moved it on; the read still succeeds.
		if !IsKind(err, KindInvalidTransition) {
			return nil, err
		}
		return e.store.Offers().GetByID(ctx, offerID)
	}
	return offer, nil
}

// ListOffers returns every version for a track, oldest first. Producers
// do not see drafts that were never sent.
func (e *Engine) ListOffers(ctx context.Context, c auth.Caller, trackID int64) ([]*model.Offer, error) {
	if _, err := e.GetTrack(ctx, c, trackID); err != nil {
		return nil, err
	}
	if _, err := e.settleTrackOffers(ctx, trackID); err != nil {
		return nil, err
	}
	offers, err := e.store.Offers().ListByTrack(ctx, trackID)
	if err != nil {
		return nil, err
	}
	visible := offers[:0]
	for _, o := range offers {
		if !hiddenFromProducer(c, o) {
			visible = append(visible, o)
		}
	}
	return visible, nil
}

// hiddenFromProducer reports whether o is an unreleased draft that a
// producer-tier caller must not see.
func hiddenFromProducer(c auth.Caller, o *model.Offer) bool {
	return c.Tier() == auth.TierProducer && !o.Released()
}
