package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koodaamo/wwproxy/internal/proxyerr"
	"github.com/koodaamo/wwproxy/internal/registry"
)

// fakeSession implements registry.Session without a real upstream client.
type fakeSession struct {
	callResult interface{}
	callErr    error
	subs       map[string]struct{}
	done       chan struct{}
}

func (f *fakeSession) Call(ctx context.Context, uri string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	return f.callResult, f.callErr
}

func (f *fakeSession) HasSubscription(uri string) bool {
	_, ok := f.subs[uri]
	return ok
}

func (f *fakeSession) Done() <-chan struct{} { return f.done }

func (f *fakeSession) Close() {}

// fakeAcquirer resolves every Acquire call to a fixed session/error pair.
type fakeAcquirer struct {
	sess registry.Session
	err  error
}

func (f *fakeAcquirer) Acquire(ctx context.Context, realm string) (registry.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sess, nil
}

func newDispatcher(acq acquirer) *Dispatcher {
	return &Dispatcher{
		acquirer:       acq,
		callTimeout:    DefaultCallTimeout,
		allowDelimited: true,
		logger:         zerolog.Nop(),
	}
}

func decodeReply(t *testing.T, raw []byte) (int, interface{}) {
	t.Helper()
	var reply [2]interface{}
	require.NoError(t, json.Unmarshal(raw, &reply))
	status, ok := reply[0].(float64)
	require.True(t, ok, "status must decode as a number")
	return int(status), reply[1]
}

func TestHandle_MalformedJSON(t *testing.T) {
	d := newDispatcher(&fakeAcquirer{})
	status, payload := decodeReply(t, d.Handle(context.Background(), []byte("{not json")))
	assert.Equal(t, 400, status)
	assert.Equal(t, "parsing request failed", payload)
}

func TestHandle_MissingRealm(t *testing.T) {
	d := newDispatcher(&fakeAcquirer{})
	status, payload := decodeReply(t, d.Handle(context.Background(), []byte(`{"method":"com.x.add","args":[1,2]}`)))
	assert.Equal(t, 400, status)
	assert.Equal(t, "realm not specified", payload)
}

func TestHandle_NoRequestType(t *testing.T) {
	d := newDispatcher(&fakeAcquirer{})
	status, payload := decodeReply(t, d.Handle(context.Background(), []byte(`{"realm":"r1"}`)))
	assert.Equal(t, 400, status)
	assert.Equal(t, "no request type given", payload)
}

func TestHandle_BothMethodAndEvent(t *testing.T) {
	d := newDispatcher(&fakeAcquirer{})
	status, _ := decodeReply(t, d.Handle(context.Background(), []byte(`{"realm":"r1","method":"m","event":"e"}`)))
	assert.Equal(t, 400, status)
}

func TestHandle_HappyRPC(t *testing.T) {
	sess := &fakeSession{callResult: float64(5)}
	d := newDispatcher(&fakeAcquirer{sess: sess})

	status, payload := decodeReply(t, d.Handle(context.Background(), []byte(`{"realm":"r1","method":"com.x.add","args":[2,3]}`)))
	assert.Equal(t, 200, status)
	assert.Equal(t, float64(5), payload)
}

func TestHandle_ApplicationError(t *testing.T) {
	sess := &fakeSession{callErr: proxyerr.Application("com.x.fail")}
	d := newDispatcher(&fakeAcquirer{sess: sess})

	status, payload := decodeReply(t, d.Handle(context.Background(), []byte(`{"realm":"r1","method":"com.x.fail","args":[]}`)))
	assert.Equal(t, 501, status)
	assert.Equal(t, "wamp request failed", payload)
}

func TestHandle_PubSubNotSupported(t *testing.T) {
	sess := &fakeSession{subs: map[string]struct{}{"t1": {}}}
	d := newDispatcher(&fakeAcquirer{sess: sess})

	status, payload := decodeReply(t, d.Handle(context.Background(), []byte(`{"realm":"r1","event":"t1"}`)))
	assert.Equal(t, 501, status)
	assert.Equal(t, "pubsub not yet supported", payload)
}

func TestHandle_PubSubUnknownTopic(t *testing.T) {
	sess := &fakeSession{subs: map[string]struct{}{"t1": {}}}
	d := newDispatcher(&fakeAcquirer{sess: sess})

	status, payload := decodeReply(t, d.Handle(context.Background(), []byte(`{"realm":"r1","event":"t-unknown"}`)))
	assert.Equal(t, 400, status)
	assert.Equal(t, "event 't-unknown' not subscribed by anyone", payload)
}

func TestHandle_UpstreamUnavailable(t *testing.T) {
	d := newDispatcher(&fakeAcquirer{err: errors.New("router unreachable")})

	status, payload := decodeReply(t, d.Handle(context.Background(), []byte(`{"realm":"r1","method":"com.x.add","args":[1]}`)))
	assert.Equal(t, 503, status)
	assert.Equal(t, "upstream unavailable", payload)
}

func TestHandle_UpstreamTimeout(t *testing.T) {
	d := newDispatcher(&fakeAcquirer{err: context.DeadlineExceeded})

	status, payload := decodeReply(t, d.Handle(context.Background(), []byte(`{"realm":"r1","method":"com.x.add","args":[1]}`)))
	assert.Equal(t, 504, status)
	assert.Equal(t, "upstream timeout", payload)
}

func TestHandle_EmptyArgsKwargsOmittedTreatedAsEmpty(t *testing.T) {
	var gotArgs []interface{}
	var gotKwargs map[string]interface{}
	sess := &recordingSession{fakeSession: fakeSession{callResult: nil}}
	d := newDispatcher(&fakeAcquirer{sess: sess})

	d.Handle(context.Background(), []byte(`{"realm":"r1","method":"com.x.noop"}`))
	gotArgs, gotKwargs = sess.args, sess.kwargs
	assert.Empty(t, gotArgs)
	assert.Empty(t, gotKwargs)
}

// recordingSession captures the args/kwargs passed to Call for assertion.
type recordingSession struct {
	fakeSession
	args   []interface{}
	kwargs map[string]interface{}
}

func (r *recordingSession) Call(ctx context.Context, uri string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	r.args = args
	r.kwargs = kwargs
	return r.fakeSession.callResult, r.fakeSession.callErr
}

func TestHandle_DelimitedFormRPC(t *testing.T) {
	sess := &fakeSession{callResult: "pong"}
	d := newDispatcher(&fakeAcquirer{sess: sess})

	status, payload := decodeReply(t, d.Handle(context.Background(), []byte(`r1:rpc:com.x.ping:{"args":["ping"]}`)))
	assert.Equal(t, 200, status)
	assert.Equal(t, "pong", payload)
}

func TestHandle_DelimitedFormRejectedWhenDisabled(t *testing.T) {
	d := &Dispatcher{
		acquirer:       &fakeAcquirer{},
		callTimeout:    time.Second,
		allowDelimited: false,
		logger:         zerolog.Nop(),
	}
	status, _ := decodeReply(t, d.Handle(context.Background(), []byte(`r1:rpc:com.x.ping:{}`)))
	assert.Equal(t, 400, status)
}
