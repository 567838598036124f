package deal

import (
	"strings"
	"testing"
	"time"

	"TrackDeal/core/auth"
	"TrackDeal/model"
)

func TestOfferVersionsHaveNoGapsAfterFailedCreates(t *testing.T) {
	f := newFixture(t)
	track := f.reviewedTrack()

	v1 := f.sentOffer(track.ID)
	if _, err := f.engine.RejectOffer(f.ctx, producer, v1.ID); err != nil {
		t.Fatalf("RejectOffer() error = %v", err)
	}

	// validation failure
	_, err := f.engine.CreateOffer(f.ctx, admin, OfferInput{TrackID: track.ID, DealType: model.DealRecoupment, Terms: splitTerms(50, 50)})
	wantKind(t, err, KindValidation)
	// past expiry
	_, err = f.engine.CreateOffer(f.ctx, admin, OfferInput{
		TrackID: track.ID, DealType: model.DealBuyout, Terms: buyoutTerms(1000),
		ExpiresAt: f.clock.Now().Add(-time.Minute),
	})
	wantKind(t, err, KindValidation)

	v2 := f.sentOffer(track.ID)
	if v2.Version != 2 {
		t.Fatalf("version after failed creates = %d, want 2", v2.Version)
	}

	// live-offer guard
	_, err = f.engine.CreateOffer(f.ctx, admin, OfferInput{TrackID: track.ID, DealType: model.DealBuyout, Terms: buyoutTerms(1000)})
	wantKind(t, err, KindInvalidTransition)

	if _, err := f.engine.RejectOffer(f.ctx, producer, v2.ID); err != nil {
		t.Fatalf("RejectOffer() error = %v", err)
	}
	v3 := f.sentOffer(track.ID)
	if v3.Version != 3 {
		t.Fatalf("version = %d, want 3", v3.Version)
	}

	offers, err := f.engine.ListOffers(f.ctx, admin, track.ID)
	if err != nil {
		t.Fatalf("ListOffers() error = %v", err)
	}
	for i, o := range offers {
		if o.Version != i+1 {
			t.Fatalf("offers[%d].Version = %d, want %d", i, o.Version, i+1)
		}
	}
}

func TestCreateOfferRequiresTrackUnderReview(t *testing.T) {
	f := newFixture(t)
	track := f.submittedTrack()

	_, err := f.engine.CreateOffer(f.ctx, admin, OfferInput{TrackID: track.ID, DealType: model.DealBuyout, Terms: buyoutTerms(1000)})
	wantKind(t, err, KindInvalidTransition)

	_, err = f.engine.CreateOffer(f.ctx, admin, OfferInput{TrackID: 424242, DealType: model.DealBuyout, Terms: buyoutTerms(1000)})
	wantKind(t, err, KindNotFound)

	_, err = f.engine.CreateOffer(f.ctx, financeAdmin, OfferInput{TrackID: track.ID, DealType: model.DealBuyout, Terms: buyoutTerms(1000)})
	wantKind(t, err, KindForbidden)
}

func TestCreateOfferDefaultsExpiry(t *testing.T) {
	f := newFixture(t)
	track := f.reviewedTrack()
	offer, err := f.engine.CreateOffer(f.ctx, admin, OfferInput{TrackID: track.ID, DealType: model.DealBuyout, Terms: buyoutTerms(1000), Draft: true})
	if err != nil {
		t.Fatalf("CreateOffer() error = %v", err)
	}
	if offer.Status != model.OfferDraft {
		t.Fatalf("status = %s, want draft", offer.Status)
	}
	if want := baseTime.Add(DefaultOfferTTL); !offer.ExpiresAt.Equal(want) {
		t.Fatalf("expires_at = %s, want %s", offer.ExpiresAt, want)
	}
}

func TestDraftOfferHiddenFromProducerUntilSent(t *testing.T) {
	f := newFixture(t)
	track := f.reviewedTrack()
	draft, err := f.engine.CreateOffer(f.ctx, admin, OfferInput{TrackID: track.ID, DealType: model.DealBuyout, Terms: buyoutTerms(1000), Draft: true})
	if err != nil {
		t.Fatalf("CreateOffer() error = %v", err)
	}
	if draft.SentAt != nil {
		t.Fatalf("draft has sent_at %v", draft.SentAt)
	}

	_, err = f.engine.GetOffer(f.ctx, producer, draft.ID)
	wantKind(t, err, KindNotFound)
	offers, err := f.engine.ListOffers(f.ctx, producer, track.ID)
	if err != nil || len(offers) != 0 {
		t.Fatalf("producer ListOffers() = %d offers, %v; want none", len(offers), err)
	}
	_, err = f.engine.History(f.ctx, producer, model.EntityOffer, draft.ID)
	wantKind(t, err, KindNotFound)
	_, err = f.engine.AcceptOffer(f.ctx, producer, draft.ID)
	wantKind(t, err, KindNotFound)

	if offers, _ := f.engine.ListOffers(f.ctx, admin, track.ID); len(offers) != 1 {
		t.Fatalf("admin ListOffers() = %d offers, want 1", len(offers))
	}
	if _, err := f.engine.GetOffer(f.ctx, financeAdmin, draft.ID); err != nil {
		t.Fatalf("GetOffer() as finance admin error = %v", err)
	}

	sent, err := f.engine.SendOffer(f.ctx, admin, draft.ID)
	if err != nil {
		t.Fatalf("SendOffer() error = %v", err)
	}
	if sent.SentAt == nil || !sent.SentAt.Equal(baseTime) {
		t.Fatalf("sent_at = %v, want %s", sent.SentAt, baseTime)
	}
	got, err := f.engine.GetOffer(f.ctx, producer, draft.ID)
	if err != nil || got.Status != model.OfferViewed {
		t.Fatalf("GetOffer() after send = %+v, %v", got, err)
	}
	if offers, _ := f.engine.ListOffers(f.ctx, producer, track.ID); len(offers) != 1 {
		t.Fatalf("producer ListOffers() after send = %d offers, want 1", len(offers))
	}
}

func TestExpiredDraftStaysHidden(t *testing.T) {
	f := newFixture(t)
	track := f.reviewedTrack()
	draft, err := f.engine.CreateOffer(f.ctx, admin, OfferInput{
		TrackID: track.ID, DealType: model.DealBuyout, Terms: buyoutTerms(1000),
		ExpiresAt: f.clock.Now().Add(time.Hour), Draft: true,
	})
	if err != nil {
		t.Fatalf("CreateOffer() error = %v", err)
	}
	f.clock.Advance(2 * time.Hour)

	if got, err := f.engine.GetOffer(f.ctx, admin, draft.ID); err != nil || got.Status != model.OfferExpired {
		t.Fatalf("admin GetOffer() = %+v, %v; want expired", got, err)
	}
	_, err = f.engine.GetOffer(f.ctx, producer, draft.ID)
	wantKind(t, err, KindNotFound)
}

func TestProducerReadMarksOfferViewed(t *testing.T) {
	f := newFixture(t)
	offer := f.sentOffer(f.reviewedTrack().ID)

	got, err := f.engine.GetOffer(f.ctx, admin, offer.ID)
	if err != nil {
		t.Fatalf("GetOffer() as admin error = %v", err)
	}
	if got.Status != model.OfferSent {
		t.Fatalf("admin read changed status to %s", got.Status)
	}

	_, err = f.engine.GetOffer(f.ctx, otherProducer, offer.ID)
	wantKind(t, err, KindForbidden)

	got, err = f.engine.GetOffer(f.ctx, producer, offer.ID)
	if err != nil {
		t.Fatalf("GetOffer() as producer error = %v", err)
	}
	if got.Status != model.OfferViewed {
		t.Fatalf("status = %s, want viewed", got.Status)
	}
	// second read is a plain read
	if got, err = f.engine.GetOffer(f.ctx, producer, offer.ID); err != nil || got.Status != model.OfferViewed {
		t.Fatalf("second read = %v, %v", got, err)
	}
	hist := f.history(model.EntityOffer, offer.ID)
	if len(hist) != 2 || hist[1].NewState != string(model.OfferViewed) {
		t.Fatalf("offer history = %+v", hist)
	}
}

func TestCounterOfferOwnershipAndTerms(t *testing.T) {
	f := newFixture(t)
	offer := f.sentOffer(f.reviewedTrack().ID)

	_, err := f.engine.CounterOffer(f.ctx, otherProducer, offer.ID, splitTerms(70, 30))
	wantKind(t, err, KindForbidden)
	_, err = f.engine.CounterOffer(f.ctx, admin, offer.ID, splitTerms(70, 30))
	wantKind(t, err, KindForbidden)

	_, err = f.engine.CounterOffer(f.ctx, producer, offer.ID, splitTerms(70, 20))
	wantKind(t, err, KindValidation)
	// terms must match the offer's deal type
	_, err = f.engine.CounterOffer(f.ctx, producer, offer.ID, buyoutTerms(1000))
	wantKind(t, err, KindValidation)

	got, _ := f.store.Offers().GetByID(f.ctx, offer.ID)
	if got.Status != model.OfferSent || got.CounterTerms != nil {
		t.Fatalf("rejected counters left offer as %+v", got)
	}
}

func TestReviseOfferSupersedesAndLinks(t *testing.T) {
	f := newFixture(t)
	track := f.reviewedTrack()
	v1 := f.sentOffer(track.ID)
	if _, err := f.engine.CounterOffer(f.ctx, producer, v1.ID, splitTerms(75, 25)); err != nil {
		t.Fatalf("CounterOffer() error = %v", err)
	}

	_, err := f.engine.ReviseOffer(f.ctx, admin, v1.ID, ReviseInput{Terms: splitTerms(75, 30)})
	wantKind(t, err, KindValidation)

	v2, err := f.engine.ReviseOffer(f.ctx, admin, v1.ID, ReviseInput{Terms: splitTerms(70, 30)})
	if err != nil {
		t.Fatalf("ReviseOffer() error = %v", err)
	}
	if v2.Version != 2 || v2.Status != model.OfferSent {
		t.Fatalf("revision = v%d %s, want v2 sent", v2.Version, v2.Status)
	}
	if v2.PreviousOfferID == nil || *v2.PreviousOfferID != v1.ID {
		t.Fatalf("previous offer id = %v, want %d", v2.PreviousOfferID, v1.ID)
	}
	if *v2.Terms.ProducerSplit != 70 || v2.DealType != v1.DealType {
		t.Fatalf("revision terms = %+v", v2.Terms)
	}

	old, _ := f.store.Offers().GetByID(f.ctx, v1.ID)
	if old.Status != model.OfferSuperseded {
		t.Fatalf("old offer status = %s, want superseded", old.Status)
	}
	hist := f.history(model.EntityOffer, v1.ID)
	if last := hist[len(hist)-1]; !strings.Contains(last.Note, "superseded by offer") {
		t.Fatalf("lineage note = %q", last.Note)
	}

	// the superseded version can no longer be acted on
	_, err = f.engine.AcceptOffer(f.ctx, producer, v1.ID)
	wantKind(t, err, KindInvalidTransition)
}

func TestAcceptCounterUsesCounterTerms(t *testing.T) {
	f := newFixture(t)
	offer := f.sentOffer(f.reviewedTrack().ID)
	if _, err := f.engine.CounterOffer(f.ctx, producer, offer.ID, splitTerms(72, 28)); err != nil {
		t.Fatalf("CounterOffer() error = %v", err)
	}

	res, err := f.engine.AcceptCounter(f.ctx, admin, offer.ID)
	if err != nil {
		t.Fatalf("AcceptCounter() error = %v", err)
	}
	if !res.Offer.AcceptedCounter || res.Offer.Status != model.OfferAccepted {
		t.Fatalf("offer = %+v, want accepted counter", res.Offer)
	}
	if res.Contract == nil {
		t.Fatal("no contract generated")
	}
	if !strings.Contains(res.Contract.Body, "Producer share of net revenue: 72%") {
		t.Fatalf("contract body does not carry counter terms:\n%s", res.Contract.Body)
	}
}

func TestOfferExpiresLazily(t *testing.T) {
	f := newFixture(t)
	track := f.reviewedTrack()
	offer, err := f.engine.CreateOffer(f.ctx, admin, OfferInput{
		TrackID: track.ID, DealType: model.DealBuyout, Terms: buyoutTerms(1000),
		ExpiresAt: f.clock.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateOffer() error = %v", err)
	}

	f.clock.Advance(2 * time.Hour)
	stored, _ := f.store.Offers().GetByID(f.ctx, offer.ID)
	if stored.Status != model.OfferSent {
		t.Fatalf("status before any read = %s, want sent (no background sweep)", stored.Status)
	}

	_, err = f.engine.AcceptOffer(f.ctx, producer, offer.ID)
	wantKind(t, err, KindInvalidTransition)

	got, err := f.engine.GetOffer(f.ctx, producer, offer.ID)
	if err != nil {
		t.Fatalf("GetOffer() error = %v", err)
	}
	if got.Status != model.OfferExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}
	hist := f.history(model.EntityOffer, offer.ID)
	last := hist[len(hist)-1]
	if last.NewState != string(model.OfferExpired) || last.ChangedBy != 0 || last.ChangedByRole != "system" {
		t.Fatalf("expiry entry = %+v, want system actor", last)
	}

	// expired offers no longer block a new proposal
	next := f.sentOffer(track.ID)
	if next.Version != 2 {
		t.Fatalf("version = %d, want 2", next.Version)
	}
}

func TestMultipleLiveVersionsFlagged(t *testing.T) {
	f := newFixture(t)
	track := f.reviewedTrack()
	v1 := f.sentOffer(track.ID)

	// simulate a sequencing bug: a second live version written behind the engine's back
	v2 := &model.Offer{
		TrackID: track.ID, Version: 2, DealType: model.DealRevenueSplit, Terms: splitTerms(50, 50),
		ExpiresAt: f.clock.Now().Add(24 * time.Hour), Status: model.OfferSent, CreatedBy: admin.UserID,
		SentAt: &baseTime,
	}
	if err := f.store.Offers().Create(f.ctx, v2); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := f.engine.ListOffers(f.ctx, admin, track.ID); err != nil {
			t.Fatalf("ListOffers() error = %v", err)
		}
	}
	var flagged int
	for _, e := range f.history(model.EntityOffer, v1.ID) {
		if strings.HasPrefix(e.Note, "anomaly:") {
			flagged++
		}
	}
	if flagged != 1 {
		t.Fatalf("anomaly entries on v1 = %d, want exactly 1", flagged)
	}
	for _, e := range f.history(model.EntityOffer, v2.ID) {
		if strings.HasPrefix(e.Note, "anomaly:") {
			t.Fatal("authoritative version was flagged")
		}
	}

	// both rows survive; only the highest version can be acted on
	_, err := f.engine.AcceptOffer(f.ctx, producer, v1.ID)
	wantKind(t, err, KindInvalidTransition)
	if _, err := f.engine.AcceptOffer(f.ctx, producer, v2.ID); err != nil {
		t.Fatalf("AcceptOffer(v2) error = %v", err)
	}
	if still, _ := f.store.Offers().GetByID(f.ctx, v1.ID); still == nil {
		t.Fatal("v1 was deleted")
	}
}

func TestAcceptSurvivesContractGenerationFailure(t *testing.T) {
	f := newFixture(t)
	offer := f.sentOffer(f.reviewedTrack().ID)

	f.blobs.setFailPut(true)
	res, err := f.engine.AcceptOffer(f.ctx, producer, offer.ID)
	wantKind(t, err, KindContractGenerationFail)
	if res == nil || res.Offer == nil || res.Offer.Status != model.OfferAccepted {
		t.Fatalf("result = %+v, want accepted offer", res)
	}
	if c, _ := f.store.Contracts().GetByOfferID(f.ctx, offer.ID); c != nil {
		t.Fatalf("contract %d exists after failed generation", c.ID)
	}

	// retry generation without re-accepting
	f.blobs.setFailPut(false)
	_, err = f.engine.AcceptOffer(f.ctx, producer, offer.ID)
	wantKind(t, err, KindInvalidTransition)
	contract, err := f.engine.GenerateContract(f.ctx, admin, offer.ID)
	if err != nil {
		t.Fatalf("GenerateContract() error = %v", err)
	}
	if contract.Status != model.ContractGenerated || contract.OfferVersion != offer.Version {
		t.Fatalf("contract = %+v", contract)
	}

	_, err = f.engine.GenerateContract(f.ctx, admin, offer.ID)
	wantKind(t, err, KindInvalidTransition)
}

func TestFinanceAdminForbiddenOnEveryMutatingAction(t *testing.T) {
	f := newFixture(t)
	requests := []Request{
		SubmitTrackRequest{Title: "x"},
		ReviewTrackRequest{TrackID: 1},
		DenyTrackRequest{TrackID: 1, Reason: "r"},
		ReopenTrackRequest{TrackID: 1},
		CreateOfferRequest{TrackID: 1, DealType: model.DealBuyout, Terms: buyoutTerms(100)},
		SendOfferRequest{OfferID: 1},
		CounterOfferRequest{OfferID: 1, Terms: buyoutTerms(100)},
		ReviseOfferRequest{OfferID: 1, Terms: buyoutTerms(100)},
		AcceptOfferRequest{OfferID: 1},
		RejectOfferRequest{OfferID: 1},
		AcceptCounterRequest{OfferID: 1},
		RejectCounterRequest{OfferID: 1},
		GenerateContractRequest{OfferID: 1},
		SendContractRequest{ContractID: 1},
		SignContractRequest{ContractID: 1, SignerName: "n", As: model.SignerProducer},
		SignContractRequest{ContractID: 1, SignerName: "n", As: model.SignerAdmin},
		ArchiveContractRequest{ContractID: 1},
		ForceStateRequest{EntityType: model.EntityTrack, EntityID: 1, State: "denied", Reason: "r"},
	}

	covered := map[auth.Action]bool{}
	for _, req := range requests {
		covered[req.Action()] = true
		_, err := f.engine.Dispatch(f.ctx, financeAdmin, req)
		if KindOf(err) != KindForbidden {
			t.Errorf("%s as finance admin: err = %v, want Forbidden", req.Action(), err)
		}
	}
	for _, a := range auth.Actions() {
		if auth.Mutating(a) && !covered[a] {
			t.Errorf("mutating action %s has no request type", a)
		}
	}

	malformed := []Request{
		SubmitTrackRequest{},
		ReviewTrackRequest{},
		DenyTrackRequest{TrackID: 1, Reason: " "},
		ReopenTrackRequest{},
		CreateOfferRequest{TrackID: 1, DealType: model.DealRevenueSplit, Terms: splitTerms(55, 40)},
		CreateOfferRequest{DealType: "lease"},
		SendOfferRequest{},
		CounterOfferRequest{},
		ReviseOfferRequest{},
		AcceptOfferRequest{},
		RejectOfferRequest{},
		AcceptCounterRequest{},
		RejectCounterRequest{},
		GenerateContractRequest{},
		SendContractRequest{},
		SignContractRequest{ContractID: 1, As: model.SignerAdmin},
		SignContractRequest{As: model.SignerProducer},
		ArchiveContractRequest{},
		ForceStateRequest{EntityType: "payout", State: "gone"},
	}
	for _, req := range malformed {
		_, err := f.engine.Dispatch(f.ctx, financeAdmin, req)
		if KindOf(err) != KindForbidden {
			t.Errorf("malformed %T as finance admin: err = %v, want Forbidden", req, err)
		}
	}
}

func TestDispatchValidatesBeforeBusinessLogic(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		caller auth.Caller
		req    Request
	}{
		{producer, SubmitTrackRequest{}},
		{admin, DenyTrackRequest{TrackID: 1}},
		{admin, CreateOfferRequest{TrackID: 1, DealType: model.DealRevenueSplit, Terms: splitTerms(55, 40)}},
		{producer, SignContractRequest{ContractID: 1, As: "witness", SignerName: "n"}},
		{superAdmin, ForceStateRequest{EntityType: model.EntityOffer, EntityID: 1, State: "denied", Reason: "r"}},
		{producer, AcceptOfferRequest{}},
	}
	for _, tt := range cases {
		// ids point at nothing, so NotFound means validation was skipped
		_, err := f.engine.Dispatch(f.ctx, tt.caller, tt.req)
		if KindOf(err) != KindValidation {
			t.Errorf("%T as %s: err = %v, want ValidationError", tt.req, tt.caller.Tier(), err)
		}
	}
}

func TestDispatchAuthorizesBeforeValidating(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		caller auth.Caller
		req    Request
	}{
		{financeAdmin, CreateOfferRequest{TrackID: 1, DealType: model.DealRevenueSplit, Terms: splitTerms(55, 40)}},
		{financeAdmin, DenyTrackRequest{TrackID: 1}},
		{financeAdmin, SignContractRequest{ContractID: 1, As: model.SignerAdmin}},
		{financeAdmin, SubmitTrackRequest{}},
		{financeAdmin, ForceStateRequest{}},
		{producer, ReviseOfferRequest{}},
		{admin, ReopenTrackRequest{}},
		{admin, CounterOfferRequest{}},
	}
	for _, tt := range cases {
		_, err := f.engine.Dispatch(f.ctx, tt.caller, tt.req)
		if KindOf(err) != KindForbidden {
			t.Errorf("%T as %s: err = %v, want Forbidden", tt.req, tt.caller.Tier(), err)
		}
	}

	_, err := f.engine.Dispatch(f.ctx, financeAdmin, CreateOfferRequest{TrackID: 1, DealType: model.DealRevenueSplit, Terms: splitTerms(55, 40)})
	if err == nil || !strings.Contains(err.Error(), "finance admins cannot modify offers") {
		t.Fatalf("err = %v, want the finance admin rule", err)
	}
}

