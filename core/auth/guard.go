package auth

import "fmt"

// Action names one verb of the deal engine.
type Action string

const (
	ActionSubmitTrack Action = "submit-track"
	ActionReviewTrack Action = "review"
	ActionDenyTrack   Action = "deny"
	ActionReopenTrack Action = "reopen"
	ActionViewTrack   Action = "view-track"

	ActionCreateOffer   Action = "create-offer"
	ActionSendOffer     Action = "send-offer"
	ActionViewOffer     Action = "view-offer"
	ActionCounterOffer  Action = "counter-offer"
	ActionReviseOffer   Action = "revise-offer"
	ActionAcceptCounter Action = "accept-counter"
	ActionRejectCounter Action = "reject-counter"
	ActionAcceptOffer   Action = "accept-offer"
	ActionRejectOffer   Action = "reject-offer"

	ActionGenerateContract Action = "generate-contract"
	ActionSendContract     Action = "send-contract"
	ActionSignAsProducer   Action = "sign-contract-producer"
	ActionSignAsAdmin      Action = "sign-contract-admin"
	ActionArchiveContract  Action = "archive-contract"
	ActionViewContract     Action = "view-contract"
	ActionDownloadContract Action = "download-contract"
	ActionVerifyContract   Action = "verify-contract"

	ActionViewHistory Action = "view-history"
	ActionForceState  Action = "force-state"
)

type subject string

const (
	subjectTrack    subject = "track states"
	subjectOffer    subject = "offers"
	subjectContract subject = "contracts"
	subjectAdmin    subject = "entity states"
)

type rule struct {
	subject  subject
	mutating bool
	allow    []Tier
}

var (
	producerOnly = []Tier{TierProducer}
	adminOnly    = []Tier{TierAdmin, TierSuperAdmin}
	superOnly    = []Tier{TierSuperAdmin}
	adminReaders = []Tier{TierFinanceAdmin, TierAdmin, TierSuperAdmin}
	everyone     = []Tier{TierProducer, TierFinanceAdmin, TierAdmin, TierSuperAdmin}
)

// policy is the full (action -> permitted tiers) table. Ownership checks
// for producers happen in the engine once the entity is loaded.
var policy = map[Action]rule{
	ActionSubmitTrack: {subjectTrack, true, producerOnly},
	ActionReviewTrack: {subjectTrack, true, adminOnly},
	ActionDenyTrack:   {subjectTrack, true, adminOnly},
	ActionReopenTrack: {subjectTrack, true, superOnly},
	ActionViewTrack:   {subjectTrack, false, everyone},

	ActionCreateOffer:   {subjectOffer, true, adminOnly},
	ActionSendOffer:     {subjectOffer, true, adminOnly},
	ActionViewOffer:     {subjectOffer, false, everyone},
	ActionCounterOffer:  {subjectOffer, true, producerOnly},
	ActionReviseOffer:   {subjectOffer, true, adminOnly},
	ActionAcceptCounter: {subjectOffer, true, adminOnly},
	ActionRejectCounter: {subjectOffer, true, adminOnly},
	ActionAcceptOffer:   {subjectOffer, true, producerOnly},
	ActionRejectOffer:   {subjectOffer, true, producerOnly},

	ActionGenerateContract: {subjectContract, true, adminOnly},
	ActionSendContract:     {subjectContract, true, adminOnly},
	ActionSignAsProducer:   {subjectContract, true, producerOnly},
	ActionSignAsAdmin:      {subjectContract, true, adminOnly},
	ActionArchiveContract:  {subjectContract, true, adminOnly},
	ActionViewContract:     {subjectContract, false, everyone},
	ActionDownloadContract: {subjectContract, false, everyone},
	ActionVerifyContract:   {subjectContract, false, adminReaders},

	ActionViewHistory: {subjectAdmin, false, everyone},
	ActionForceState:  {subjectAdmin, true, superOnly},
}

// DeniedError is returned by Authorize. Message states which permission
// blocked the action.
type DeniedError struct {
	Action Action
	Tier   Tier
	Reason string
}

func (e *DeniedError) Error() string {
	return e.Reason
}

// Actions returns every action known to the guard.
func Actions() []Action {
	out := make([]Action, 0, len(policy))
	for a := range policy {
		out = append(out, a)
	}
	return out
}

// Mutating reports whether the action changes state.
func Mutating(a Action) bool {
	return policy[a].mutating
}

// Allowed reports whether tier t may invoke a.
func Allowed(t Tier, a Action) bool {
	r, ok := policy[a]
	if !ok {
		return false
	}
	for _, allowed := range r.allow {
		if allowed == t {
			return true
		}
	}
	return false
}

// Authorize checks the caller against the policy table.
func Authorize(c Caller, a Action) error {
	r, ok := policy[a]
	if !ok {
		return &DeniedError{Action: a, Reason: fmt.Sprintf("unknown action %q", a)}
	}
	t := c.Tier()
	if Allowed(t, a) {
		return nil
	}
	return &DeniedError{Action: a, Tier: t, Reason: denialReason(t, a, r)}
}

func denialReason(t Tier, a Action, r rule) string {
	switch {
	case t == "":
		return "caller has no recognised role"
	case t == TierFinanceAdmin && r.mutating:
		return fmt.Sprintf("finance admins cannot modify %s", r.subject)
	case len(r.allow) == 1 && r.allow[0] == TierSuperAdmin:
		return fmt.Sprintf("only super admins can %s", a)
	case len(r.allow) == 1 && r.allow[0] == TierProducer:
		return fmt.Sprintf("only producers can %s", a)
	case t == TierProducer:
		return fmt.Sprintf("producers cannot %s", a)
	default:
		return fmt.Sprintf("%s tier is not permitted to %s", t, a)
	}
}
