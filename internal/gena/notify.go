package gena

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/coachpo/genacp/internal/collab"
	"github.com/coachpo/genacp/internal/errs"
)

// NotifyRequest is the normalized inbound NOTIFY transaction the C5
// receiver validates and dispatches.
type NotifyRequest struct {
	Headers     map[string]string // lower-cased
	Body        []byte
	ContentType string
}

// notifyWireHeaders lists the headers Notify cares about beyond SID,
// mapping each HTTP wire name to the lower-cased key Notify reads it
// back under.
var notifyWireHeaders = map[string]string{"SEQ": "seq", "NT": "nt", "NTS": "nts"}

// HeadersFromHTTP adapts an incoming NOTIFY request's header set into
// the map Notify expects. The sid key is always set ("" when the header
// is absent, which Notify treats as missing); the seq/nt/nts keys are
// inserted only when the HTTP header is actually present. h.Get returns "" both for an absent header and for
// one present with an empty value, and Notify relies on the comma-ok
// map idiom to tell "absent" (400) apart from "present but wrong"
// (412) for seq/nt/nts per spec.md §4.5 — so a header that was never
// sent must not end up with a "" entry in this map.
func HeadersFromHTTP(h http.Header) map[string]string {
	headers := map[string]string{"sid": h.Get("SID")}
	for wire, key := range notifyWireHeaders {
		if _, ok := h[http.CanonicalHeaderKey(wire)]; ok {
			headers[key] = h.Get(wire)
		}
	}
	return headers
}

// NotifyResult is the HTTP status the receiver decided on, with no
// further body.
type NotifyResult struct {
	Status int
}

// Notify validates and dispatches one NOTIFY transaction per spec.md
// §4.5, resolving the SID/subscribe race of §4.4.4 when the sequence
// number is 0 and the SID is not yet known.
func (e *Engine) Notify(req NotifyRequest) NotifyResult {
	sid := req.Headers["sid"]
	if sid == "" {
		return NotifyResult{Status: 412}
	}

	seqStr, ok := req.Headers["seq"]
	if !ok {
		return NotifyResult{Status: 400}
	}
	seq, err := parsePureDecimal(seqStr)
	if err != nil {
		return NotifyResult{Status: 400}
	}

	nt, hasNT := req.Headers["nt"]
	nts, hasNTS := req.Headers["nts"]
	if !hasNT || !hasNTS {
		return NotifyResult{Status: 400}
	}
	if nt != ntUpnpEvent || nts != "upnp:propchange" {
		return NotifyResult{Status: 412}
	}

	if !isXMLContentType(req.ContentType) || len(req.Body) == 0 {
		return NotifyResult{Status: 400}
	}

	changed, err := parsePropertySet(req.Body, e.xml)
	if err != nil {
		return NotifyResult{Status: 400}
	}

	c := e.findSubscriber(sid, seq)
	if c == nil {
		return NotifyResult{Status: 412}
	}

	c.mu.RLock()
	cb, cookie := c.callback, c.cookie
	c.mu.RUnlock()

	if cb != nil {
		cb(collab.CallbackEvent{Kind: collab.EventReceived, SID: sid, EventKey: seq, ChangedVariables: changed, Cookie: cookie})
	}
	return NotifyResult{Status: 200}
}

// findSubscriber locates the client handle owning sid. If seq == 0 and
// no handle currently knows sid, it resolves the race of spec.md
// §4.4.4 by waiting for any in-flight SUBSCRIBE to finish (via the
// process-wide subscribeLock) and re-checking once.
func (e *Engine) findSubscriber(sid string, seq int) *Client {
	if c := e.lookupSID(sid); c != nil {
		return c
	}
	if seq != 0 {
		return nil
	}

	e.subscribeLock.Lock()
	e.subscribeLock.Unlock() //nolint:staticcheck // deliberately acquire-then-release to drain any in-flight SUBSCRIBE

	return e.lookupSID(sid)
}

// lookupSID scans every registered client handle for sid. The registry
// is small per handle and handles are few, so a linear scan matches the
// O(n) contract of registry.Find itself.
func (e *Engine) lookupSID(sid string) *Client {
	e.handles.mu.Lock()
	clients := make([]*Client, 0, len(e.handles.clients))
	for _, c := range e.handles.clients {
		clients = append(clients, c)
	}
	e.handles.mu.Unlock()

	for _, c := range clients {
		c.mu.RLock()
		sub := c.reg.Find(sid)
		c.mu.RUnlock()
		if sub != nil {
			return c
		}
	}
	return nil
}

func parsePureDecimal(s string) (int, error) {
	if s == "" {
		return 0, errs.New("gena", errs.CodeInvalid, errs.WithMessage("empty seq"))
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errs.New("gena", errs.CodeInvalid, errs.WithMessage("seq not a pure decimal integer"))
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errs.New("gena", errs.CodeInvalid, errs.WithCause(err), errs.WithMessage("seq overflow"))
	}
	return n, nil
}

func isXMLContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	semi := strings.IndexByte(ct, ';')
	if semi >= 0 {
		ct = ct[:semi]
	}
	return ct == "text/xml" || ct == "application/xml" || strings.HasSuffix(ct, "+xml")
}
