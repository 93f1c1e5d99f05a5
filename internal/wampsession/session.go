// Package wampsession implements the Upstream Session (§4.1) and the
// reconnecting dial (§4.3) that produces one. A Session wraps exactly one
// joined *client.Client bound to one realm, and caches the router's
// advertised registration/subscription surface gathered at join time.
package wampsession

import (
	"context"
	"sync"

	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/rs/zerolog"

	"github.com/koodaamo/wwproxy/internal/proxyerr"
)

// State is the lifecycle stage of a Session, per the data model in §3.
type State int32

const (
	StateDialing State = iota
	StateJoining
	StateIntrospecting
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDialing:
		return "dialing"
	case StateJoining:
		return "joining"
	case StateIntrospecting:
		return "introspecting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one live WAMP session bound to one realm. rpcURIs/subURIs are
// written exactly once, during Introspecting, and are read-only afterward —
// safe to read without a lock once State() reports Ready, per §5.
type Session struct {
	Realm string

	mu    sync.RWMutex
	state State

	rpcURIs map[string]struct{}
	subURIs map[string]struct{}

	client *client.Client
	logger zerolog.Logger

	// testDone substitutes for client.Done() when the session was built
	// directly by a test, i.e. has no real upstream client to ask.
	testDone chan struct{}
}

// State returns the session's current lifecycle stage.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// HasRegistration reports whether uri was advertised as a registered
// procedure at join time.
func (s *Session) HasRegistration(uri string) bool {
	_, ok := s.rpcURIs[uri]
	return ok
}

// HasSubscription reports whether uri was advertised as a subscription at
// join time.
func (s *Session) HasSubscription(uri string) bool {
	_, ok := s.subURIs[uri]
	return ok
}

// Done reports when the underlying client session ends (goodbye or
// transport loss) — the Go equivalent of the source's onLeave callback.
func (s *Session) Done() <-chan struct{} {
	if s.client == nil {
		return s.testDone
	}
	return s.client.Done()
}

// Call issues an upstream WAMP CALL. It may only be invoked once the
// session is Ready; calling it earlier is a programmer error (§7,
// PreconditionError).
func (s *Session) Call(ctx context.Context, uri string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if s.State() != StateReady {
		return nil, proxyerr.Precondition("call invoked before session is ready")
	}

	result, err := s.client.Call(ctx, uri, wamp.Dict{}, wamp.List(args), wamp.Dict(kwargs), "")
	if err != nil {
		if rpcErr, ok := err.(client.RPCError); ok {
			return nil, proxyerr.Application(string(rpcErr.Err.Error))
		}
		return nil, proxyerr.Transport(err)
	}
	return resultPayload(result), nil
}

// resultPayload collapses a WAMP RESULT into the single JSON value the
// downstream reply carries, mirroring the source's behavior of forwarding
// whatever autobahn's Deferred resolved to: a lone positional argument is
// unwrapped, multiple positional arguments are kept as a list, keyword
// arguments are used when there are no positional ones, and an empty result
// becomes nil.
func resultPayload(result *wamp.Result) interface{} {
	switch {
	case len(result.Arguments) == 1:
		return result.Arguments[0]
	case len(result.Arguments) > 1:
		return []interface{}(result.Arguments)
	case len(result.ArgumentsKw) > 0:
		return map[string]interface{}(result.ArgumentsKw)
	default:
		return nil
	}
}

// Close ends the underlying client session. It is idempotent.
func (s *Session) Close() {
	if s.client != nil {
		s.client.Close()
	}
	s.setState(StateClosed)
}
