package deal

import (
	"testing"
	"time"

	"TrackDeal/model"
)

func TestScenarioRevenueSplitToFullyExecuted(t *testing.T) {
	f := newFixture(t)

	track := f.submittedTrack()
	if track.Status != model.TrackSubmitted {
		t.Fatalf("track status = %s, want submitted", track.Status)
	}
	track, err := f.engine.MoveToReview(f.ctx, admin, track.ID)
	if err != nil {
		t.Fatalf("MoveToReview() error = %v", err)
	}

	offer, err := f.engine.CreateOffer(f.ctx, admin, OfferInput{
		TrackID:   track.ID,
		DealType:  model.DealRevenueSplit,
		Terms:     splitTerms(60, 40),
		ExpiresAt: f.clock.Now().Add(7 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateOffer() error = %v", err)
	}
	if offer.Version != 1 || offer.Status != model.OfferSent {
		t.Fatalf("offer = v%d %s, want v1 sent", offer.Version, offer.Status)
	}

	res, err := f.engine.AcceptOffer(f.ctx, producer, offer.ID)
	if err != nil {
		t.Fatalf("AcceptOffer() error = %v", err)
	}
	if res.Offer.Status != model.OfferAccepted {
		t.Fatalf("offer status = %s, want accepted", res.Offer.Status)
	}
	contract := res.Contract
	if contract == nil || contract.Status != model.ContractGenerated {
		t.Fatalf("contract = %+v, want generated", contract)
	}
	if contract.ContentHash == nil || *contract.ContentHash == "" {
		t.Fatal("generated contract has no content hash")
	}
	if got := f.storedHash(contract); got != *contract.ContentHash {
		t.Fatalf("stored blob hash = %s, recorded %s", got, *contract.ContentHash)
	}
	generatedHash := *contract.ContentHash

	contract, err = f.engine.SendForSignature(f.ctx, admin, contract.ID)
	if err != nil {
		t.Fatalf("SendForSignature() error = %v", err)
	}

	f.clock.Advance(time.Hour)
	contract, err = f.engine.SignAsProducer(f.ctx, producer, contract.ID, "Jane Doe", SignMeta{IPAddress: "203.0.113.7", UserAgent: "test"})
	if err != nil {
		t.Fatalf("SignAsProducer() error = %v", err)
	}
	if contract.Status != model.ContractSignedByProducer {
		t.Fatalf("status = %s, want signed_by_producer", contract.Status)
	}
	if *contract.ContentHash == generatedHash {
		t.Fatal("hash did not change after producer signature")
	}
	if got := f.storedHash(contract); got != *contract.ContentHash {
		t.Fatalf("after producer signature: stored hash %s, recorded %s", got, *contract.ContentHash)
	}
	producerHash := *contract.ContentHash

	sigs, err := f.engine.ListSignatures(f.ctx, producer, contract.ID)
	if err != nil {
		t.Fatalf("ListSignatures() error = %v", err)
	}
	if len(sigs) != 1 || sigs[0].SignerRole != model.SignerProducer {
		t.Fatalf("signatures = %+v, want one producer signature", sigs)
	}
	if sigs[0].IPAddress != "203.0.113.7" || sigs[0].ContentHash != producerHash {
		t.Fatalf("producer signature = %+v", sigs[0])
	}

	f.clock.Advance(time.Hour)
	contract, err = f.engine.SignAsAdmin(f.ctx, admin, contract.ID, "Platform Rep", SignMeta{})
	if err != nil {
		t.Fatalf("SignAsAdmin() error = %v", err)
	}
	if contract.Status != model.ContractFullyExecuted {
		t.Fatalf("status = %s, want fully_executed", contract.Status)
	}
	if *contract.ContentHash == producerHash {
		t.Fatal("hash did not change after admin signature")
	}
	if got := f.storedHash(contract); got != *contract.ContentHash {
		t.Fatalf("after admin signature: stored hash %s, recorded %s", got, *contract.ContentHash)
	}
	if contract.ProducerSignedAt == nil || contract.AdminSignedAt == nil {
		t.Fatalf("signed timestamps = %v / %v, want both set", contract.ProducerSignedAt, contract.AdminSignedAt)
	}

	sigs, err = f.engine.ListSignatures(f.ctx, admin, contract.ID)
	if err != nil {
		t.Fatalf("ListSignatures() error = %v", err)
	}
	if len(sigs) != 2 || sigs[1].SignerRole != model.SignerAdmin {
		t.Fatalf("signatures = %+v, want producer then admin", sigs)
	}

	hist := f.history(model.EntityContract, contract.ID)
	wantStates := []model.ContractStatus{
		model.ContractGenerated, model.ContractSentForSignature,
		model.ContractSignedByProducer, model.ContractFullyExecuted,
	}
	if len(hist) != len(wantStates) {
		t.Fatalf("contract history has %d entries, want %d", len(hist), len(wantStates))
	}
	for i, st := range wantStates {
		if hist[i].NewState != string(st) || hist[i].Sequence != i+1 {
			t.Fatalf("history[%d] = seq %d %s, want seq %d %s", i, hist[i].Sequence, hist[i].NewState, i+1, st)
		}
	}
	if f.events.Len() == 0 {
		t.Fatal("no events published")
	}

	report, err := f.engine.VerifyContract(f.ctx, financeAdmin, contract.ID)
	if err != nil {
		t.Fatalf("VerifyContract() error = %v", err)
	}
	if !report.OK() || report.Signatures != 2 {
		t.Fatalf("report = %+v, want ok with 2 signatures", report)
	}
}

func TestScenarioSplitsMustTotal100(t *testing.T) {
	f := newFixture(t)
	track := f.reviewedTrack()

	_, err := f.engine.CreateOffer(f.ctx, admin, OfferInput{
		TrackID:  track.ID,
		DealType: model.DealRevenueSplit,
		Terms:    splitTerms(55, 40),
	})
	wantKind(t, err, KindValidation)
	if got := err.Error(); got != "splits must total 100" {
		t.Fatalf("message = %q, want %q", got, "splits must total 100")
	}

	offers, err := f.store.Offers().ListByTrack(f.ctx, track.ID)
	if err != nil {
		t.Fatalf("ListByTrack() error = %v", err)
	}
	if len(offers) != 0 {
		t.Fatalf("%d offers persisted, want 0", len(offers))
	}
	got, err := f.engine.GetTrack(f.ctx, admin, track.ID)
	if err != nil {
		t.Fatalf("GetTrack() error = %v", err)
	}
	if got.Status != model.TrackUnderReview {
		t.Fatalf("track status = %s, want under_review", got.Status)
	}
}

func TestScenarioCounterThenRejectCounter(t *testing.T) {
	f := newFixture(t)
	track := f.reviewedTrack()
	offer, err := f.engine.CreateOffer(f.ctx, admin, OfferInput{
		TrackID:  track.ID,
		DealType: model.DealBuyout,
		Terms:    buyoutTerms(500000),
	})
	if err != nil {
		t.Fatalf("CreateOffer() error = %v", err)
	}

	countered, err := f.engine.CounterOffer(f.ctx, producer, offer.ID, buyoutTerms(750000))
	if err != nil {
		t.Fatalf("CounterOffer() error = %v", err)
	}
	if countered.Status != model.OfferCountered {
		t.Fatalf("status = %s, want countered", countered.Status)
	}
	if countered.CounterTerms == nil || *countered.CounterTerms.BuyoutAmountCents != 750000 {
		t.Fatalf("counter terms = %+v, want buyout 750000", countered.CounterTerms)
	}
	if countered.Version != offer.Version {
		t.Fatalf("counter created version %d, want %d unchanged", countered.Version, offer.Version)
	}

	rejected, err := f.engine.RejectCounter(f.ctx, admin, offer.ID)
	if err != nil {
		t.Fatalf("RejectCounter() error = %v", err)
	}
	if rejected.Status != model.OfferRejected {
		t.Fatalf("status = %s, want rejected", rejected.Status)
	}

	contract, err := f.store.Contracts().GetByOfferID(f.ctx, offer.ID)
	if err != nil {
		t.Fatalf("GetByOfferID() error = %v", err)
	}
	if contract != nil {
		t.Fatalf("contract %d generated for a rejected counter", contract.ID)
	}
	_, err = f.engine.GenerateContract(f.ctx, admin, offer.ID)
	wantKind(t, err, KindInvalidTransition)
}

func TestScenarioArchiveFullyExecutedNeedsSuperAdmin(t *testing.T) {
	f := newFixture(t)
	contract := f.sentContract()
	var err error
	if contract, err = f.engine.SignAsProducer(f.ctx, producer, contract.ID, "Jane Doe", SignMeta{}); err != nil {
		t.Fatalf("SignAsProducer() error = %v", err)
	}
	if contract, err = f.engine.SignAsAdmin(f.ctx, admin, contract.ID, "Platform Rep", SignMeta{}); err != nil {
		t.Fatalf("SignAsAdmin() error = %v", err)
	}

	_, err = f.engine.Archive(f.ctx, admin, contract.ID)
	wantKind(t, err, KindForbidden)
	if got, _ := f.store.Contracts().GetByID(f.ctx, contract.ID); got.Status != model.ContractFullyExecuted {
		t.Fatalf("status after forbidden archive = %s", got.Status)
	}

	archived, err := f.engine.Archive(f.ctx, superAdmin, contract.ID)
	if err != nil {
		t.Fatalf("Archive() as super admin error = %v", err)
	}
	if archived.Status != model.ContractArchived {
		t.Fatalf("status = %s, want archived", archived.Status)
	}
	hist := f.history(model.EntityContract, contract.ID)
	last := hist[len(hist)-1]
	if last.NewState != string(model.ContractArchived) || last.ChangedBy != superAdmin.UserID || last.ChangedByRole != "super_admin" {
		t.Fatalf("last history entry = %+v, want archived by super_admin", last)
	}
}
