// Package dispatch implements the Request Dispatcher (§4.4): it parses a
// downstream frame, resolves the addressed realm's upstream session via the
// registry, checks event requests against the session's advertised
// subscriptions (RPC calls are forwarded unchecked), issues the upstream
// call, and formats the reply.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/koodaamo/wwproxy/internal/proxyerr"
	"github.com/koodaamo/wwproxy/internal/registry"
)

// DefaultCallTimeout is the per-call deadline applied when the dispatcher is
// not otherwise configured (§5).
const DefaultCallTimeout = 30 * time.Second

// acquirer resolves a realm to its session, per §4.2. *registry.Registry
// satisfies this directly since registry.Session is already an interface.
type acquirer interface {
	Acquire(ctx context.Context, realm string) (registry.Session, error)
}

// Dispatcher bridges downstream frames to upstream WAMP calls.
type Dispatcher struct {
	acquirer       acquirer
	callTimeout    time.Duration
	allowDelimited bool
	logger         zerolog.Logger
}

// New builds a Dispatcher. callTimeout <= 0 falls back to DefaultCallTimeout.
func New(reg *registry.Registry, callTimeout time.Duration, allowDelimited bool, logger zerolog.Logger) *Dispatcher {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Dispatcher{
		acquirer:       reg,
		callTimeout:    callTimeout,
		allowDelimited: allowDelimited,
		logger:         logger,
	}
}

// Handle processes one downstream text frame and returns the serialized
// reply frame. It never returns an error: every client-observable failure
// is encoded into the [status, payload] reply itself (§4.4's dispatch
// algorithm).
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) []byte {
	req, err := parseRequest(raw, d.allowDelimited)
	if err != nil {
		return encodeReply(400, err.Error())
	}

	if req.Realm == "" {
		return encodeReply(400, "realm not specified")
	}

	hasMethod := req.Method != ""
	hasEvent := req.Event != ""
	if hasMethod == hasEvent {
		return encodeReply(400, "no request type given")
	}

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	sess, err := d.acquirer.Acquire(callCtx, req.Realm)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return encodeReply(504, "upstream timeout")
		}
		d.logger.Warn().Err(err).Str("realm", req.Realm).Msg("acquiring upstream session failed")
		return encodeReply(503, "upstream unavailable")
	}

	if hasMethod {
		return d.dispatchRPC(callCtx, sess, req)
	}
	return d.dispatchPubSub(sess, req)
}

func (d *Dispatcher) dispatchRPC(ctx context.Context, sess registry.Session, req *request) []byte {
	result, err := sess.Call(ctx, req.Method, req.Args, req.Kwargs)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return encodeReply(504, "upstream timeout")
		}
		if kind, ok := proxyerr.KindOf(err); ok && kind == proxyerr.KindApplication {
			d.logger.Warn().Err(err).Str("uri", req.Method).Msg("wamp request failed")
			return encodeReply(501, "wamp request failed")
		}
		d.logger.Warn().Err(err).Str("uri", req.Method).Msg("upstream call failed")
		return encodeReply(503, "upstream unavailable")
	}
	return encodeReply(200, result)
}

// dispatchPubSub implements §4.4's PubSub branch. Relay itself is
// unimplemented (spec.md Non-goals); only the surface check runs, guarding
// a future component swap (§9).
func (d *Dispatcher) dispatchPubSub(sess registry.Session, req *request) []byte {
	if sess.HasSubscription(req.Event) {
		return encodeReply(501, "pubsub not yet supported")
	}
	return encodeReply(400, fmt.Sprintf("event '%s' not subscribed by anyone", req.Event))
}
