// Package deal implements the deal lifecycle: track review, offer
// negotiation and the contract lifecycle. Every transition is authorized by
// the auth guard and recorded in the state history inside the same
// transaction as the state change.
package deal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TrackDeal/cache"
	"TrackDeal/core/auth"
	"TrackDeal/logger"
	"TrackDeal/model"
	"TrackDeal/repository"
	"TrackDeal/storage"

	"github.com/google/uuid"
)

const (
	defaultRetryLimit = 3
	defaultLockTTL    = 30 * time.Second
	defaultURLTTL     = 15 * time.Minute
	// DefaultOfferTTL applies when an offer is created without an expiry.
	DefaultOfferTTL = 7 * 24 * time.Hour
)

// Notifier receives history entries after their transaction commits.
type Notifier interface {
	Publish(entry model.StateHistoryEntry)
}

// Engine is the deal lifecycle engine. It is safe for concurrent use; all
// coordination happens in the store and the locker.
type Engine struct {
	store         *repository.Store
	blobs         storage.BlobStore
	locker        cache.Locker
	templates     *TemplateStore
	notifier      Notifier
	signingSecret []byte
	now           func() time.Time
	retryLimit    int
	lockTTL       time.Duration
	urlTTL        time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithTemplates(t *TemplateStore) Option {
	return func(e *Engine) { e.templates = t }
}

func WithSigningSecret(secret string) Option {
	return func(e *Engine) { e.signingSecret = []byte(secret) }
}

func WithRetryLimit(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.retryLimit = n
		}
	}
}

func WithLockTTL(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.lockTTL = d
		}
	}
}

func WithDownloadURLTTL(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.urlTTL = d
		}
	}
}

// New creates an engine over the given store, blob store and locker.
func New(store *repository.Store, blobs storage.BlobStore, locker cache.Locker, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:      store,
		blobs:      blobs,
		locker:     locker,
		now:        time.Now,
		retryLimit: defaultRetryLimit,
		lockTTL:    defaultLockTTL,
		urlTTL:     defaultURLTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.templates == nil {
		t, err := NewTemplateStore("")
		if err != nil {
			return nil, err
		}
		e.templates = t
	}
	if len(e.signingSecret) == 0 {
		return nil, errors.New("deal engine: signing secret is required")
	}
	return e, nil
}

// Authorize runs the tier guard for a, returning a Forbidden *Error when
// the caller may not invoke it.
func (e *Engine) Authorize(c auth.Caller, a auth.Action) error {
	return e.authorize(c, a)
}

func (e *Engine) authorize(c auth.Caller, a auth.Action) error {
	if err := auth.Authorize(c, a); err != nil {
		logger.Warn("action denied",
			logger.String("action", string(a)),
			logger.Int64("user_id", c.UserID),
			logger.String("tier", string(c.Tier())),
		)
		return wrapDenied(err)
	}
	return nil
}

// txn is the handle an operation gets inside a transaction. History
// entries are buffered for publication after commit.
type txn struct {
	*repository.Store
	ctx     context.Context
	now     time.Time
	entries []model.StateHistoryEntry
}

type change struct {
	entity   model.EntityType
	id       int64
	from, to string
	actor    auth.Caller
	override *string
	note     string
}

func (t *txn) record(c change) error {
	entry := &model.StateHistoryEntry{
		EntityType:     c.entity,
		EntityID:       c.id,
		PreviousState:  c.from,
		NewState:       c.to,
		ChangedBy:      c.actor.UserID,
		ChangedByRole:  c.actor.Label(),
		ChangedAt:      t.now,
		OverrideReason: c.override,
		Note:           c.note,
	}
	if err := t.History().Append(t.ctx, entry); err != nil {
		return fmt.Errorf("append %s %d history: %w", c.entity, c.id, err)
	}
	t.entries = append(t.entries, *entry)
	return nil
}

// errStale marks a conditional update that matched no row: another writer
// moved the entity first.
var errStale = errors.New("entity changed concurrently")

// inTx runs fn in a transaction. Version and sequence conflicts retry the
// whole function with fresh reads, up to retryLimit times.
func (e *Engine) inTx(ctx context.Context, fn func(t *txn) error) error {
	for attempt := 0; ; attempt++ {
		t := &txn{ctx: ctx, now: e.now().UTC()}
		err := e.store.Transaction(ctx, func(tx *repository.Store) error {
			t.Store = tx
			return fn(t)
		})
		if err == nil {
			e.publish(t.entries)
			return nil
		}
		var de *Error
		if errors.As(err, &de) || !repository.IsConflict(err) {
			return err
		}
		if attempt >= e.retryLimit {
			return &Error{Kind: KindConflict, Message: "concurrent update; retry the request", Err: err}
		}
		logger.Warn("transaction conflict, retrying", logger.Int("attempt", attempt+1), logger.ErrorField(err))
	}
}

func (e *Engine) publish(entries []model.StateHistoryEntry) {
	if e.notifier == nil {
		return
	}
	for _, entry := range entries {
		e.notifier.Publish(entry)
	}
}

func staleTransition(entity string, id int64) *Error {
	return &Error{Kind: KindInvalidTransition, Message: fmt.Sprintf("%s %d changed state concurrently; reload and retry", entity, id), Err: errStale}
}

func contractBlobPath(offerID int64) string {
	return fmt.Sprintf("contracts/offer-%d/%s.pdf", offerID, uuid.NewString())
}

func strPtr(s string) *string { return &s }
