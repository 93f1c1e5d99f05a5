// Package registry implements the Session Registry (§4.2): a realm→session
// table that enforces at most one pending connect per realm and hands
// concurrent callers the same in-flight dial.
package registry

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Session is the narrow view of an *wampsession.Session that the registry
// and its callers (the dispatcher) need. Defining it here, rather than
// depending on the concrete *wampsession.Session type, lets tests in this
// package and in internal/dispatch supply lightweight fakes without ever
// dialing a router — and keeps wampsession's own public surface limited to
// what a real upstream session needs, with no test-only constructors
// exported alongside it.
type Session interface {
	Done() <-chan struct{}
	Call(ctx context.Context, uri string, args []interface{}, kwargs map[string]interface{}) (interface{}, error)
	HasSubscription(uri string) bool
	Close()
}

// DialFunc dials and joins realm, returning a Ready session or an error.
// It must itself respect ctx's deadline/cancellation (wampsession.Dial does).
type DialFunc func(ctx context.Context, realm string) (Session, error)

// entry is the registry's bookkeeping for one realm: either a pending dial
// (ready not yet closed) or a settled one (ready closed, session/err set).
type entry struct {
	ready   chan struct{}
	session Session
	err     error
}

// Registry is the realm→UpstreamSession table. The zero value is not
// usable; construct with New.
type Registry struct {
	mu     sync.Mutex
	dial   DialFunc
	logger zerolog.Logger

	entries map[string]*entry
}

// New builds a Registry that uses dial to establish new sessions.
func New(dial DialFunc, logger zerolog.Logger) *Registry {
	return &Registry{
		dial:    dial,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Acquire returns the Ready session for realm, dialing one if none exists
// and none is already in flight. Concurrent Acquire calls for the same
// absent realm produce exactly one dial; all of them observe the same
// Session instance (§8's quantified invariant).
func (r *Registry) Acquire(ctx context.Context, realm string) (Session, error) {
	r.mu.Lock()
	e, ok := r.entries[realm]
	if ok {
		r.mu.Unlock()
		return r.wait(ctx, e)
	}

	e = &entry{ready: make(chan struct{})}
	r.entries[realm] = e
	r.mu.Unlock()

	r.logger.Debug().Str("realm", realm).Msg("dialing upstream session")
	sess, err := r.dial(ctx, realm)

	r.mu.Lock()
	if err != nil {
		// Closed-before-ready: remove the entry before rejecting waiters, so
		// the next Acquire for this realm starts a fresh dial (§3).
		if r.entries[realm] == e {
			delete(r.entries, realm)
		}
		e.err = err
		r.mu.Unlock()
		close(e.ready)
		return nil, err
	}
	e.session = sess
	r.mu.Unlock()
	close(e.ready)

	go r.watch(realm, e, sess)

	return sess, nil
}

// wait blocks on a pending or already-settled entry until it resolves or
// ctx is done.
func (r *Registry) wait(ctx context.Context, e *entry) (Session, error) {
	select {
	case <-e.ready:
		return e.session, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// watch evicts realm from the registry once its session ends, so the next
// Acquire starts a fresh dial instead of handing out a dead session.
func (r *Registry) watch(realm string, e *entry, sess Session) {
	<-sess.Done()
	r.evict(realm, e)
}

// evict removes realm's entry if it is still e (guards against a newer
// entry having already replaced it).
func (r *Registry) evict(realm string, e *entry) {
	r.mu.Lock()
	if r.entries[realm] == e {
		delete(r.entries, realm)
	}
	r.mu.Unlock()
	r.logger.Debug().Str("realm", realm).Msg("upstream session closed, evicted")
}

// Close shuts down every live session and leaves the registry empty. Used
// on proxy stop (§8: "after stop ... all registry sessions are Closed").
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		select {
		case <-e.ready:
			if e.session != nil {
				e.session.Close()
			}
		default:
			// Still dialing; nothing to close yet.
		}
	}
}
