package wampsession

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/transport/serialize"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/koodaamo/wwproxy/internal/proxyerr"
)

// backoff bounds for the reconnecting dial (§4.3): starts small and doubles
// up to a 3-second cap, reset implicitly on every fresh Dial call.
const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 3 * time.Second
)

// StdLogger is the subset of gammazero/nexus/v3/stdlog.StdLog that client.Config
// needs; declared locally so this package does not have to import stdlog
// just to name the parameter type.
type StdLogger interface {
	Print(v ...interface{})
	Println(v ...interface{})
	Printf(format string, v ...interface{})
}

// Dial joins realm on the router, retrying the connect+join (with capped
// exponential backoff) until it succeeds or ctx is done, then introspects
// the router's surface once. An introspection failure closes the client and
// returns an IntrospectionError without further retries. The caller (the session registry) supplies a context carrying whatever
// deadline the triggering downstream request should observe; there is no
// separate background reconnect loop; the next Dial after a Close starts a
// fresh backoff sequence, per §3's registry invariant.
func Dial(ctx context.Context, realm string, routerURL string, tlsCfg *tls.Config, stdLogger StdLogger, logger zerolog.Logger) (*Session, error) {
	helloDetails := wamp.Dict{}
	if tlsCfg != nil && len(tlsCfg.Certificates) > 0 {
		helloDetails["auth_method_hint"] = "tls"
	}

	clientCfg := client.Config{
		Realm:         realm,
		HelloDetails:  helloDetails,
		Serialization: serialize.JSON,
		TlsCfg:        tlsCfg,
		Logger:        stdLogger,
	}

	cl, err := dialWithBackoff(ctx, routerURL, clientCfg, logger)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		Realm:  realm,
		state:  StateIntrospecting,
		client: cl,
		logger: logger,
	}

	if err := introspect(ctx, sess); err != nil {
		cl.Close()
		sess.setState(StateClosed)
		return nil, proxyerr.Introspection(err)
	}

	sess.setState(StateReady)
	return sess, nil
}

// dialWithBackoff retries client.ConnectNet with exponential backoff capped
// at maxBackoff, giving up only when ctx is done.
func dialWithBackoff(ctx context.Context, routerURL string, cfg client.Config, logger zerolog.Logger) (*client.Client, error) {
	backoff := minBackoff
	for {
		cl, err := client.ConnectNet(ctx, routerURL, cfg)
		if err == nil {
			return cl, nil
		}

		logger.Warn().Err(err).Str("router", routerURL).Dur("retry_in", backoff).Msg("upstream dial failed, retrying")

		select {
		case <-ctx.Done():
			return nil, proxyerr.Transport(ctx.Err())
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// metaCaller is the narrow view of *client.Client that the introspection
// meta-calls need, so introspect can be unit-tested against a fake without
// a real upstream connection.
type metaCaller interface {
	Call(ctx context.Context, procedure string, options wamp.Dict, args wamp.List, kwargs wamp.Dict, cancelMode string) (*wamp.Result, error)
}

// introspect runs the two meta-call aggregate lookups concurrently (§4.1)
// and populates sess.rpcURIs / sess.subURIs. Grounded on golang.org/x/sync/errgroup's
// use for exactly this "launch N, wait for all, first error wins" shape in
// other_examples/3183bfdd_gravitational-teleport__lib-proxy-peer-quic-server.go.go
// and other_examples/ffca0c92_Dub1n-mcp-proxy__http.go.go.
func introspect(ctx context.Context, sess *Session) error {
	return introspectWith(ctx, sess.client, func(rpcURIs, subURIs map[string]struct{}) {
		sess.rpcURIs = rpcURIs
		sess.subURIs = subURIs
	})
}

// introspectWith runs the lookups against cl and reports the results via
// apply; split out of introspect so tests can supply a fake metaCaller.
func introspectWith(ctx context.Context, cl metaCaller, apply func(rpcURIs, subURIs map[string]struct{})) error {
	g, gctx := errgroup.WithContext(ctx)

	var rpcURIs, subURIs map[string]struct{}

	g.Go(func() error {
		uris, err := lookupRegistrations(gctx, cl)
		if err != nil {
			return err
		}
		rpcURIs = uris
		return nil
	})

	g.Go(func() error {
		uris, err := lookupSubscriptions(gctx, cl)
		if err != nil {
			return err
		}
		subURIs = uris
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	apply(rpcURIs, subURIs)
	return nil
}

func lookupRegistrations(ctx context.Context, cl metaCaller) (map[string]struct{}, error) {
	listRes, err := cl.Call(ctx, "wamp.registration.list", wamp.Dict{}, wamp.List{}, wamp.Dict{}, "")
	if err != nil {
		return nil, err
	}
	ids, err := exactIDs(listRes)
	if err != nil {
		return nil, err
	}

	uris := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		getRes, err := cl.Call(ctx, "wamp.registration.get", wamp.Dict{}, wamp.List{id}, wamp.Dict{}, "")
		if err != nil {
			return nil, err
		}
		uri, err := metaURI(getRes)
		if err != nil {
			return nil, err
		}
		uris[uri] = struct{}{}
	}
	return uris, nil
}

func lookupSubscriptions(ctx context.Context, cl metaCaller) (map[string]struct{}, error) {
	listRes, err := cl.Call(ctx, "wamp.subscription.list", wamp.Dict{}, wamp.List{}, wamp.Dict{}, "")
	if err != nil {
		return nil, err
	}
	ids, err := exactIDs(listRes)
	if err != nil {
		return nil, err
	}

	uris := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		getRes, err := cl.Call(ctx, "wamp.subscription.get", wamp.Dict{}, wamp.List{id}, wamp.Dict{}, "")
		if err != nil {
			return nil, err
		}
		uri, err := metaURI(getRes)
		if err != nil {
			return nil, err
		}
		uris[uri] = struct{}{}
	}
	return uris, nil
}

// metaDict extracts the positional dict argument that nexus's
// wamp.registration.*/wamp.subscription.* meta-procedures return: the
// router puts the result payload in Arguments[0], not ArgumentsKw (see
// _examples/other_examples/35136fa5_l-vitaly-nexus__router-router_test.go.go:461,642).
func metaDict(res *wamp.Result) (map[string]interface{}, error) {
	if len(res.Arguments) == 0 {
		return nil, proxyerr.Introspection(nil)
	}
	dict, ok := res.Arguments[0].(map[string]interface{})
	if !ok {
		return nil, proxyerr.Introspection(nil)
	}
	return dict, nil
}

// exactIDs extracts the "exact" field of a wamp.registration.list or
// wamp.subscription.list result.
func exactIDs(res *wamp.Result) (wamp.List, error) {
	dict, err := metaDict(res)
	if err != nil {
		return nil, err
	}
	exact, ok := dict["exact"]
	if !ok {
		return wamp.List{}, nil
	}
	switch ids := exact.(type) {
	case wamp.List:
		return ids, nil
	case []interface{}:
		return wamp.List(ids), nil
	case []wamp.ID:
		list := make(wamp.List, len(ids))
		for i, id := range ids {
			list[i] = id
		}
		return list, nil
	default:
		return nil, proxyerr.Introspection(nil)
	}
}

// metaURI extracts the "uri" field of a wamp.registration.get or
// wamp.subscription.get result.
func metaURI(res *wamp.Result) (string, error) {
	dict, err := metaDict(res)
	if err != nil {
		return "", err
	}
	uri, ok := dict["uri"]
	if !ok {
		return "", proxyerr.Introspection(nil)
	}
	s, ok := uri.(string)
	if !ok {
		return "", proxyerr.Introspection(nil)
	}
	return s, nil
}
