package dispatch

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/koodaamo/wwproxy/internal/proxyerr"
)

// request is the parsed form of an inbound frame (§3's DownstreamRequest).
type request struct {
	Realm  string                 `json:"realm"`
	Method string                 `json:"method,omitempty"`
	Event  string                 `json:"event,omitempty"`
	Args   []interface{}          `json:"args,omitempty"`
	Kwargs map[string]interface{} `json:"kwargs,omitempty"`
}

// argData is the optional {args, kwargs} payload carried by the
// colon-delimited alternate dialect (§6).
type argData struct {
	Args   []interface{}          `json:"args"`
	Kwargs map[string]interface{} `json:"kwargs"`
}

// parseRequest parses a raw text frame as the normative JSON form, or, when
// allowDelimited is set, falls back to the colon-delimited alternate form
// (realm:kind:opid:argdata) for frames that don't start with '{'.
func parseRequest(raw []byte, allowDelimited bool) (*request, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, proxyerr.Parse("parsing request failed")
	}

	if trimmed[0] == '{' {
		var req request
		if err := json.Unmarshal(trimmed, &req); err != nil {
			return nil, proxyerr.Parse("parsing request failed")
		}
		return &req, nil
	}

	if !allowDelimited {
		return nil, proxyerr.Parse("parsing request failed")
	}
	return parseDelimited(trimmed)
}

// parseDelimited parses "realm:kind:opid:argdata" frames. kind must be
// "rpc" or "pubsub"; argdata is an optional JSON {args,kwargs} object.
func parseDelimited(raw []byte) (*request, error) {
	parts := strings.SplitN(string(raw), ":", 4)
	if len(parts) < 3 {
		return nil, proxyerr.Parse("parsing request failed")
	}

	realm, kind, opid := parts[0], parts[1], parts[2]

	var ad argData
	if len(parts) == 4 && strings.TrimSpace(parts[3]) != "" {
		if err := json.Unmarshal([]byte(parts[3]), &ad); err != nil {
			return nil, proxyerr.Parse("parsing request failed")
		}
	}

	req := &request{Realm: realm, Args: ad.Args, Kwargs: ad.Kwargs}
	switch kind {
	case "rpc":
		req.Method = opid
	case "pubsub":
		req.Event = opid
	default:
		return nil, proxyerr.Parse("parsing request failed")
	}
	return req, nil
}

// encodeReply serializes a DownstreamReply: a two-element JSON array of
// [status, payload] (§3, §8's "a downstream reply always parses as a
// two-element JSON array").
func encodeReply(status int, payload interface{}) []byte {
	b, err := json.Marshal([2]interface{}{status, payload})
	if err != nil {
		// payload failed to marshal (e.g. a channel leaked into a WAMP
		// result); degrade to a generic application error rather than send
		// a broken frame.
		b, _ = json.Marshal([2]interface{}{501, "wamp request failed"})
	}
	return b
}
