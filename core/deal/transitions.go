package deal

import (
	"TrackDeal/core/auth"
	"TrackDeal/model"
)

// Transition tables. Any (state, action) pair missing here is rejected with
// InvalidStateTransition.
var trackTransitions = map[auth.Action]map[model.TrackStatus]model.TrackStatus{
	auth.ActionReviewTrack: {model.TrackSubmitted: model.TrackUnderReview},
	auth.ActionDenyTrack:   {model.TrackUnderReview: model.TrackDenied},
	auth.ActionReopenTrack: {model.TrackDenied: model.TrackUnderReview},
}

var offerTransitions = map[auth.Action]map[model.OfferStatus]model.OfferStatus{
	auth.ActionSendOffer: {model.OfferDraft: model.OfferSent},
	auth.ActionViewOffer: {model.OfferSent: model.OfferViewed},
	auth.ActionCounterOffer: {
		model.OfferSent:   model.OfferCountered,
		model.OfferViewed: model.OfferCountered,
	},
	auth.ActionReviseOffer:   {model.OfferCountered: model.OfferSuperseded},
	auth.ActionAcceptCounter: {model.OfferCountered: model.OfferAccepted},
	auth.ActionRejectCounter: {model.OfferCountered: model.OfferRejected},
	auth.ActionAcceptOffer: {
		model.OfferSent:   model.OfferAccepted,
		model.OfferViewed: model.OfferAccepted,
	},
	auth.ActionRejectOffer: {
		model.OfferSent:   model.OfferRejected,
		model.OfferViewed: model.OfferRejected,
	},
}

var contractTransitions = map[auth.Action]map[model.ContractStatus]model.ContractStatus{
	auth.ActionSendContract:   {model.ContractGenerated: model.ContractSentForSignature},
	auth.ActionSignAsProducer: {model.ContractSentForSignature: model.ContractSignedByProducer},
	auth.ActionSignAsAdmin:    {model.ContractSignedByProducer: model.ContractFullyExecuted},
	auth.ActionArchiveContract: {
		model.ContractGenerated:        model.ContractArchived,
		model.ContractSentForSignature: model.ContractArchived,
		model.ContractSignedByProducer: model.ContractArchived,
		model.ContractFullyExecuted:    model.ContractArchived,
	},
}

func nextTrackStatus(a auth.Action, from model.TrackStatus) (model.TrackStatus, error) {
	if to, ok := trackTransitions[a][from]; ok {
		return to, nil
	}
	return "", transitionf("cannot %s a track in state %s", a, from)
}

func nextOfferStatus(a auth.Action, from model.OfferStatus) (model.OfferStatus, error) {
	if to, ok := offerTransitions[a][from]; ok {
		return to, nil
	}
	return "", transitionf("cannot %s an offer in state %s", a, from)
}

func nextContractStatus(a auth.Action, from model.ContractStatus) (model.ContractStatus, error) {
	if to, ok := contractTransitions[a][from]; ok {
		return to, nil
	}
	return "", transitionf("cannot %s a contract in state %s", a, from)
}
