// Package proxyerr holds the error taxonomy shared by the session, registry
// and dispatch packages. internal/dispatch chooses the downstream status
// code: KindApplication from a call replies 501, an expired deadline 504,
// and any other acquire or call error, tagged or not, 503.
package proxyerr

import "errors"

// Kind identifies which taxonomy bucket an error belongs to.
type Kind int

const (
	// KindParse: malformed downstream JSON or missing required fields.
	KindParse Kind = iota
	// KindUnknownOperation: operation URI not advertised by the session.
	KindUnknownOperation
	// KindApplication: upstream returned a WAMP error URI.
	KindApplication
	// KindIntrospection: a meta-call failed during join.
	KindIntrospection
	// KindTransport: underlying WebSocket/TCP failure, or dial gave up.
	KindTransport
	// KindConfig: bad URI or missing cert file at start-up.
	KindConfig
	// KindPrecondition: internal misuse, e.g. call before Ready.
	KindPrecondition
	// KindTimeout: a per-call deadline elapsed.
	KindTimeout
)

// Error is a taxonomy-tagged error. The Detail field carries information
// that is safe to log but must never be echoed to a downstream client.
type Error struct {
	Kind   Kind
	Msg    string
	Detail string
	err    error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.Msg + ": " + e.err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.err }

func newErr(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, err: cause}
}

func Parse(msg string) error                { return newErr(KindParse, msg, nil) }
func UnknownOperation(msg string) error     { return newErr(KindUnknownOperation, msg, nil) }
func Application(detail string) error       { return &Error{Kind: KindApplication, Msg: "wamp request failed", Detail: detail} }
func Introspection(cause error) error       { return newErr(KindIntrospection, "introspection failed", cause) }
func Transport(cause error) error           { return newErr(KindTransport, "upstream unavailable", cause) }
func Config(msg string, cause error) error  { return newErr(KindConfig, msg, cause) }
func Precondition(msg string) error         { return newErr(KindPrecondition, msg, nil) }
func Timeout(msg string) error              { return newErr(KindTimeout, msg, nil) }

// KindOf extracts the Kind from err, if it (or something it wraps) is a
// *Error. ok is false for errors outside the taxonomy.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
