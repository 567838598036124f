package deal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"TrackDeal/cache"
	"TrackDeal/core/auth"
	"TrackDeal/core/document"
	"TrackDeal/internal/testutil"
	"TrackDeal/model"
	"TrackDeal/repository"
	"TrackDeal/storage"

	"gorm.io/gorm"
)

var (
	producer      = auth.Caller{UserID: 10, Name: "Jane Doe", Roles: []auth.Tier{auth.TierProducer}}
	otherProducer = auth.Caller{UserID: 11, Name: "Sam Roe", Roles: []auth.Tier{auth.TierProducer}}
	admin         = auth.Caller{UserID: 1, Name: "Platform Rep", Roles: []auth.Tier{auth.TierAdmin}}
	superAdmin    = auth.Caller{UserID: 2, Name: "Root", Roles: []auth.Tier{auth.TierSuperAdmin}}
	financeAdmin  = auth.Caller{UserID: 3, Name: "Ledger", Roles: []auth.Tier{auth.TierFinanceAdmin}}
)

var baseTime = time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type eventRecorder struct {
	mu      sync.Mutex
	entries []model.StateHistoryEntry
}

func (r *eventRecorder) Publish(e model.StateHistoryEntry) {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

func (r *eventRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// flakyBlobs fails Put while failPut is set.
type flakyBlobs struct {
	*storage.MemoryStore
	mu      sync.Mutex
	failPut bool
}

func (b *flakyBlobs) setFailPut(v bool) {
	b.mu.Lock()
	b.failPut = v
	b.mu.Unlock()
}

func (b *flakyBlobs) Put(ctx context.Context, path string, data []byte) error {
	b.mu.Lock()
	fail := b.failPut
	b.mu.Unlock()
	if fail {
		return errors.New("blob store unavailable")
	}
	return b.MemoryStore.Put(ctx, path, data)
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	engine *Engine
	store  *repository.Store
	gdb    *gorm.DB
	blobs  *flakyBlobs
	clock  *fakeClock
	events *eventRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, gdb := testutil.Store(t)
	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  store,
		gdb:    gdb,
		blobs:  &flakyBlobs{MemoryStore: storage.NewMemoryStore()},
		clock:  &fakeClock{now: baseTime},
		events: &eventRecorder{},
	}
	engine, err := New(store, f.blobs, cache.NewLocalLocker(),
		WithClock(f.clock.Now),
		WithNotifier(f.events),
		WithSigningSecret("test-signing-secret"),
		WithLockTTL(2*time.Second),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.engine = engine
	return f
}

func intPtr(v int) *int       { return &v }
func centsPtr(v int64) *int64 { return &v }

func splitTerms(producerSplit, platformSplit int) model.Terms {
	return model.Terms{
		ProducerSplit: intPtr(producerSplit),
		PlatformSplit: intPtr(platformSplit),
		TermMonths:    24,
		Territory:     "Worldwide",
		Exclusive:     true,
	}
}

func buyoutTerms(cents int64) model.Terms {
	return model.Terms{
		BuyoutAmountCents: centsPtr(cents),
		TermMonths:        12,
		Territory:         "US",
	}
}

func (f *fixture) submittedTrack() *model.Track {
	f.t.Helper()
	track, err := f.engine.SubmitTrack(f.ctx, producer, "Midnight Drive", "Jane Doe")
	if err != nil {
		f.t.Fatalf("SubmitTrack() error = %v", err)
	}
	return track
}

func (f *fixture) reviewedTrack() *model.Track {
	f.t.Helper()
	track := f.submittedTrack()
	track, err := f.engine.MoveToReview(f.ctx, admin, track.ID)
	if err != nil {
		f.t.Fatalf("MoveToReview() error = %v", err)
	}
	return track
}

func (f *fixture) sentOffer(trackID int64) *model.Offer {
	f.t.Helper()
	offer, err := f.engine.CreateOffer(f.ctx, admin, OfferInput{
		TrackID:   trackID,
		DealType:  model.DealRevenueSplit,
		Terms:     splitTerms(60, 40),
		ExpiresAt: f.clock.Now().Add(7 * 24 * time.Hour),
	})
	if err != nil {
		f.t.Fatalf("CreateOffer() error = %v", err)
	}
	return offer
}

// generatedContract runs a fresh track through to a generated contract.
func (f *fixture) generatedContract() *model.Contract {
	f.t.Helper()
	offer := f.sentOffer(f.reviewedTrack().ID)
	res, err := f.engine.AcceptOffer(f.ctx, producer, offer.ID)
	if err != nil {
		f.t.Fatalf("AcceptOffer() error = %v", err)
	}
	return res.Contract
}

func (f *fixture) sentContract() *model.Contract {
	f.t.Helper()
	c, err := f.engine.SendForSignature(f.ctx, admin, f.generatedContract().ID)
	if err != nil {
		f.t.Fatalf("SendForSignature() error = %v", err)
	}
	return c
}

// setOfferStatus writes a status directly, bypassing the engine.
func (f *fixture) setOfferStatus(id int64, status model.OfferStatus) {
	f.t.Helper()
	pending := model.PendingTerms(splitTerms(70, 30))
	err := f.gdb.Model(&model.Offer{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "counter_terms": &pending}).Error
	if err != nil {
		f.t.Fatalf("set offer status: %v", err)
	}
}

func (f *fixture) setContractStatus(id int64, status model.ContractStatus) {
	f.t.Helper()
	if err := f.gdb.Model(&model.Contract{}).Where("id = ?", id).Update("status", status).Error; err != nil {
		f.t.Fatalf("set contract status: %v", err)
	}
}

func (f *fixture) history(entity model.EntityType, id int64) []*model.StateHistoryEntry {
	f.t.Helper()
	entries, err := f.store.History().List(f.ctx, entity, id)
	if err != nil {
		f.t.Fatalf("History().List() error = %v", err)
	}
	return entries
}

func (f *fixture) storedHash(c *model.Contract) string {
	f.t.Helper()
	if c.BlobPath == nil {
		f.t.Fatalf("contract %d has no blob path", c.ID)
	}
	blob, err := f.blobs.Get(f.ctx, *c.BlobPath)
	if err != nil {
		f.t.Fatalf("blob Get(%s) error = %v", *c.BlobPath, err)
	}
	return document.Hash(blob)
}

func wantKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("error = nil, want kind %s", kind)
	}
	if got := KindOf(err); got != kind {
		t.Fatalf("error kind = %s (%v), want %s", got, err, kind)
	}
}
