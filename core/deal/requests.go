package deal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"TrackDeal/core/auth"
	"TrackDeal/model"
)

// Request is one action against the engine. The set is closed: only the
// types in this file implement it. Validate checks the payload shape before
// any business logic runs.
type Request interface {
	Action() auth.Action
	Validate() error
	request()
}

func requireID(name string, id int64) error {
	if id <= 0 {
		return validationf("%s must be a positive id", name)
	}
	return nil
}

type SubmitTrackRequest struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
}

func (SubmitTrackRequest) Action() auth.Action { return auth.ActionSubmitTrack }
func (r SubmitTrackRequest) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return validationf("title is required")
	}
	return nil
}

type ReviewTrackRequest struct {
	TrackID int64 `json:"trackId"`
}

func (ReviewTrackRequest) Action() auth.Action { return auth.ActionReviewTrack }
func (r ReviewTrackRequest) Validate() error   { return requireID("track_id", r.TrackID) }

type DenyTrackRequest struct {
	TrackID int64  `json:"trackId"`
	Reason  string `json:"reason"`
}

func (DenyTrackRequest) Action() auth.Action { return auth.ActionDenyTrack }
func (r DenyTrackRequest) Validate() error {
	if err := requireID("track_id", r.TrackID); err != nil {
		return err
	}
	if strings.TrimSpace(r.Reason) == "" {
		return validationf("denial reason is required")
	}
	return nil
}

type ReopenTrackRequest struct {
	TrackID int64 `json:"trackId"`
}

func (ReopenTrackRequest) Action() auth.Action { return auth.ActionReopenTrack }
func (r ReopenTrackRequest) Validate() error   { return requireID("track_id", r.TrackID) }

type CreateOfferRequest struct {
	TrackID   int64          `json:"trackId"`
	DealType  model.DealType `json:"dealType"`
	Terms     model.Terms    `json:"terms"`
	ExpiresAt *time.Time     `json:"expiresAt,omitempty"`
	Draft     bool           `json:"draft"`
}

func (CreateOfferRequest) Action() auth.Action { return auth.ActionCreateOffer }
func (r CreateOfferRequest) Validate() error {
	if err := requireID("track_id", r.TrackID); err != nil {
		return err
	}
	return ValidateTerms(r.DealType, r.Terms)
}

type SendOfferRequest struct {
	OfferID int64 `json:"offerId"`
}

func (SendOfferRequest) Action() auth.Action { return auth.ActionSendOffer }
func (r SendOfferRequest) Validate() error   { return requireID("offer_id", r.OfferID) }

// CounterOfferRequest terms are checked against the offer's deal type once
// the offer is loaded.
type CounterOfferRequest struct {
	OfferID int64       `json:"offerId"`
	Terms   model.Terms `json:"terms"`
}

func (CounterOfferRequest) Action() auth.Action { return auth.ActionCounterOffer }
func (r CounterOfferRequest) Validate() error   { return requireID("offer_id", r.OfferID) }

type ReviseOfferRequest struct {
	OfferID   int64       `json:"offerId"`
	Terms     model.Terms `json:"terms"`
	ExpiresAt *time.Time  `json:"expiresAt,omitempty"`
}

func (ReviseOfferRequest) Action() auth.Action { return auth.ActionReviseOffer }
func (r ReviseOfferRequest) Validate() error   { return requireID("offer_id", r.OfferID) }

type AcceptOfferRequest struct {
	OfferID int64 `json:"offerId"`
}

func (AcceptOfferRequest) Action() auth.Action { return auth.ActionAcceptOffer }
func (r AcceptOfferRequest) Validate() error   { return requireID("offer_id", r.OfferID) }

type RejectOfferRequest struct {
	OfferID int64 `json:"offerId"`
}

func (RejectOfferRequest) Action() auth.Action { return auth.ActionRejectOffer }
func (r RejectOfferRequest) Validate() error   { return requireID("offer_id", r.OfferID) }

type AcceptCounterRequest struct {
	OfferID int64 `json:"offerId"`
}

func (AcceptCounterRequest) Action() auth.Action { return auth.ActionAcceptCounter }
func (r AcceptCounterRequest) Validate() error   { return requireID("offer_id", r.OfferID) }

type RejectCounterRequest struct {
	OfferID int64 `json:"offerId"`
}

func (RejectCounterRequest) Action() auth.Action { return auth.ActionRejectCounter }
func (r RejectCounterRequest) Validate() error   { return requireID("offer_id", r.OfferID) }

type GenerateContractRequest struct {
	OfferID int64 `json:"offerId"`
}

func (GenerateContractRequest) Action() auth.Action { return auth.ActionGenerateContract }
func (r GenerateContractRequest) Validate() error   { return requireID("offer_id", r.OfferID) }

type SendContractRequest struct {
	ContractID int64 `json:"contractId"`
}

func (SendContractRequest) Action() auth.Action { return auth.ActionSendContract }
func (r SendContractRequest) Validate() error   { return requireID("contract_id", r.ContractID) }

// SignContractRequest covers both signing variants; As picks which.
type SignContractRequest struct {
	ContractID int64            `json:"contractId"`
	SignerName string           `json:"signerName"`
	As         model.SignerRole `json:"as"`
	Meta       SignMeta         `json:"-"`
}

func (r SignContractRequest) Action() auth.Action {
	if r.As == model.SignerAdmin {
		return auth.ActionSignAsAdmin
	}
	return auth.ActionSignAsProducer
}

func (r SignContractRequest) Validate() error {
	if err := requireID("contract_id", r.ContractID); err != nil {
		return err
	}
	if r.As != model.SignerProducer && r.As != model.SignerAdmin {
		return validationf("as must be producer or admin")
	}
	if strings.TrimSpace(r.SignerName) == "" {
		return validationf("signer_name is required")
	}
	return nil
}

type ArchiveContractRequest struct {
	ContractID int64 `json:"contractId"`
}

func (ArchiveContractRequest) Action() auth.Action { return auth.ActionArchiveContract }
func (r ArchiveContractRequest) Validate() error   { return requireID("contract_id", r.ContractID) }

type ForceStateRequest struct {
	EntityType model.EntityType `json:"entityType"`
	EntityID   int64            `json:"entityId"`
	State      string           `json:"state"`
	Reason     string           `json:"reason"`
}

func (ForceStateRequest) Action() auth.Action { return auth.ActionForceState }
func (r ForceStateRequest) Validate() error {
	if !model.ValidEntityType(string(r.EntityType)) {
		return validationf("entity_type must be one of track, offer, contract")
	}
	if err := requireID("entity_id", r.EntityID); err != nil {
		return err
	}
	if !validState(r.EntityType, r.State) {
		return validationf("%q is not a valid %s state", r.State, r.EntityType)
	}
	if strings.TrimSpace(r.Reason) == "" {
		return validationf("override reason is required")
	}
	return nil
}

func (SubmitTrackRequest) request()      {}
func (ReviewTrackRequest) request()      {}
func (DenyTrackRequest) request()        {}
func (ReopenTrackRequest) request()      {}
func (CreateOfferRequest) request()      {}
func (SendOfferRequest) request()        {}
func (CounterOfferRequest) request()     {}
func (ReviseOfferRequest) request()      {}
func (AcceptOfferRequest) request()      {}
func (RejectOfferRequest) request()      {}
func (AcceptCounterRequest) request()    {}
func (RejectCounterRequest) request()    {}
func (GenerateContractRequest) request() {}
func (SendContractRequest) request()     {}
func (SignContractRequest) request()     {}
func (ArchiveContractRequest) request()  {}
func (ForceStateRequest) request()       {}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// Dispatch checks the caller's tier for req, validates it and runs it as
// caller c. The result is the entity the action produced.
func (e *Engine) Dispatch(ctx context.Context, c auth.Caller, req Request) (interface{}, error) {
	if req == nil {
		return nil, validationf("empty request")
	}
	// 先鉴权再校验，无权限的调用方看不到校验细节
	if err := e.authorize(c, req.Action()); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	switch r := req.(type) {
	case SubmitTrackRequest:
		return e.SubmitTrack(ctx, c, r.Title, r.Artist)
	case ReviewTrackRequest:
		return e.MoveToReview(ctx, c, r.TrackID)
	case DenyTrackRequest:
		return e.Deny(ctx, c, r.TrackID, r.Reason)
	case ReopenTrackRequest:
		return e.Reopen(ctx, c, r.TrackID)
	case CreateOfferRequest:
		return e.CreateOffer(ctx, c, OfferInput{
			TrackID:   r.TrackID,
			DealType:  r.DealType,
			Terms:     r.Terms,
			ExpiresAt: timeOrZero(r.ExpiresAt),
			Draft:     r.Draft,
		})
	case SendOfferRequest:
		return e.SendOffer(ctx, c, r.OfferID)
	case CounterOfferRequest:
		return e.CounterOffer(ctx, c, r.OfferID, r.Terms)
	case ReviseOfferRequest:
		return e.ReviseOffer(ctx, c, r.OfferID, ReviseInput{Terms: r.Terms, ExpiresAt: timeOrZero(r.ExpiresAt)})
	case AcceptOfferRequest:
		return e.AcceptOffer(ctx, c, r.OfferID)
	case RejectOfferRequest:
		return e.RejectOffer(ctx, c, r.OfferID)
	case AcceptCounterRequest:
		return e.AcceptCounter(ctx, c, r.OfferID)
	case RejectCounterRequest:
		return e.RejectCounter(ctx, c, r.OfferID)
	case GenerateContractRequest:
		return e.GenerateContract(ctx, c, r.OfferID)
	case SendContractRequest:
		return e.SendForSignature(ctx, c, r.ContractID)
	case SignContractRequest:
		if r.As == model.SignerAdmin {
			return e.SignAsAdmin(ctx, c, r.ContractID, r.SignerName, r.Meta)
		}
		return e.SignAsProducer(ctx, c, r.ContractID, r.SignerName, r.Meta)
	case ArchiveContractRequest:
		return e.Archive(ctx, c, r.ContractID)
	case ForceStateRequest:
		return e.ForceState(ctx, c, r.EntityType, r.EntityID, r.State, r.Reason)
	}
	return nil, fmt.Errorf("unhandled request %T", req)
}
