package correlate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/solventry/paysdk/internal/rail"
)

// Entry correlates a locally-initiated out-of-process request with its
// eventual result. The rail plus token pair is the only link between the two
// sides of the round trip.
type Entry struct {
	Token    string
	Rail     rail.Rail
	Context  map[string]string
	IssuedAt time.Time
}

// Store persists pending entries, keyed by rail. The in-memory store is the
// default; a durable implementation lets round trips survive a process
// restart.
type Store interface {
	Put(ctx context.Context, e Entry) error
	Get(ctx context.Context, r rail.Rail) (*Entry, error)
	Delete(ctx context.Context, r rail.Rail) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Correlator owns the pending-request table. At most one entry per rail is
// outstanding; issuing a new request for a rail supersedes the prior one, so
// a stale result for the superseded token is discarded on arrival. The mutex
// serializes the read-modify-write pairs so a result arriving mid-update
// cannot resurrect a consumed entry.
type Correlator struct {
	mu     sync.Mutex
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

func New(store Store, logger *slog.Logger) *Correlator {
	return &Correlator{
		store:  store,
		now:    time.Now,
		logger: logger,
	}
}

// Issue registers a new pending request for the rail and returns the
// generated correlation token to embed in the outbound request.
func (c *Correlator) Issue(ctx context.Context, r rail.Rail, requestContext map[string]string) (string, error) {
	token := uuid.New().String()
	return token, c.IssueWithToken(ctx, r, token, requestContext)
}

// IssueWithToken registers a pending request under a provider-issued pairing
// token, e.g. the approval-URL token of a checkout resource.
func (c *Correlator) IssueWithToken(ctx context.Context, r rail.Rail, token string, requestContext map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := Entry{
		Token:    token,
		Rail:     r,
		Context:  requestContext,
		IssuedAt: c.now(),
	}
	if err := c.store.Put(ctx, entry); err != nil {
		return err
	}

	c.logger.Debug("pending request issued", "rail", r, "token", token)
	return nil
}

// Amend replaces the context of the rail's pending entry, provided the entry
// still exists and still carries the given token. An entry already resolved
// or superseded is left alone, so a late amend never re-creates a consumed
// entry.
func (c *Correlator) Amend(ctx context.Context, r rail.Rail, token string, requestContext map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, err := c.store.Get(ctx, r)
	if err != nil {
		return err
	}
	if entry == nil || entry.Token != token {
		c.logger.Debug("skipping amend of settled entry", "rail", r, "token", token)
		return nil
	}

	entry.Context = requestContext
	return c.store.Put(ctx, *entry)
}

// Resolve matches an incoming token against the rail's pending entry. On a
// match the entry is removed and returned; a mismatched, duplicate, or
// unsolicited token yields (nil, false) and the caller discards the result.
func (c *Correlator) Resolve(ctx context.Context, r rail.Rail, incomingToken string) (*Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, err := c.store.Get(ctx, r)
	if err != nil {
		return nil, false, err
	}
	if entry == nil || entry.Token != incomingToken {
		c.logger.Debug("discarding unmatched result", "rail", r, "token", incomingToken)
		return nil, false, nil
	}

	if err := c.store.Delete(ctx, r); err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

// Pending returns the rail's outstanding entry without consuming it.
func (c *Correlator) Pending(ctx context.Context, r rail.Rail) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Get(ctx, r)
}

// Clear drops the rail's pending entry, e.g. when a dispatch attempt fails
// before control leaves the process.
func (c *Correlator) Clear(ctx context.Context, r rail.Rail) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Delete(ctx, r)
}
