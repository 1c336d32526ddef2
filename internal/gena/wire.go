package gena

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/coachpo/genacp/internal/errs"
	"github.com/coachpo/genacp/internal/uri"
)

const (
	methodSubscribe   = "SUBSCRIBE"
	methodUnsubscribe = "UNSUBSCRIBE"

	headerSID      = "SID"
	headerNT       = "NT"
	headerTimeout  = "TIMEOUT"
	headerCallback = "CALLBACK"
	headerUA       = "USER-AGENT"
	ntUpnpEvent    = "upnp:event"
)

// subscribeWire builds and issues a single SUBSCRIBE request, shared by
// first-subscribe (renewalSID == "") and renew (renewalSID != "") per
// spec.md §4.4.1.
func (e *Engine) subscribeWire(ctx context.Context, eventURL, renewalSID string, requestedTimeout time.Duration) (sid string, granted time.Duration, err error) {
	headers := map[string]string{
		headerUA:      e.knobs.UserAgent,
		headerTimeout: e.timeoutHeader(requestedTimeout),
	}
	if renewalSID != "" {
		headers[headerSID] = renewalSID
	} else {
		callback, cerr := e.callbackURL(eventURL)
		if cerr != nil {
			return "", 0, cerr
		}
		headers[headerCallback] = "<" + callback + ">"
		headers[headerNT] = ntUpnpEvent
	}

	resp, err := e.http.Execute(ctx, methodSubscribe, eventURL, headers, e.knobs.HTTPDefaultTimeout)
	if err != nil {
		return "", 0, errs.New("gena", errs.CodeNetwork, errs.WithCause(err), errs.WithMessage("subscribe transport failure"))
	}
	if resp.Status != 200 {
		return "", 0, errs.New("gena", errs.CodeExchange,
			errs.WithCanonicalCode(errs.CanonicalSubscribeRejected),
			errs.WithHTTP(resp.Status),
			errs.WithMessage("subscribe rejected"))
	}

	respSID := resp.Headers[strings.ToLower(headerSID)]
	respTimeout := resp.Headers[strings.ToLower(headerTimeout)]
	if respSID == "" || respTimeout == "" {
		return "", 0, errs.New("gena", errs.CodeInvalid, errs.WithMessage("subscribe response missing sid or timeout"))
	}

	granted, err = parseTimeoutHeader(respTimeout)
	if err != nil {
		return "", 0, errs.New("gena", errs.CodeInvalid, errs.WithCause(err), errs.WithMessage("malformed timeout header"))
	}
	return respSID, granted, nil
}

// unsubscribeWire issues UNSUBSCRIBE for sid. Transport and non-200
// outcomes are both reported, but callers treat the return value as
// non-fatal to local cleanup per spec.md §4.4.2.
func (e *Engine) unsubscribeWire(ctx context.Context, eventURL, sid string) error {
	headers := map[string]string{
		headerUA:  e.knobs.UserAgent,
		headerSID: sid,
	}
	resp, err := e.http.Execute(ctx, methodUnsubscribe, eventURL, headers, e.knobs.HTTPDefaultTimeout)
	if err != nil {
		return errs.New("gena", errs.CodeNetwork, errs.WithCause(err), errs.WithMessage("unsubscribe transport failure"))
	}
	if resp.Status != 200 {
		return errs.New("gena", errs.CodeExchange,
			errs.WithCanonicalCode(errs.CanonicalUnsubscribeRejected),
			errs.WithHTTP(resp.Status),
			errs.WithMessage("unsubscribe rejected"))
	}
	return nil
}

// timeoutHeader renders the outgoing TIMEOUT header value: "infinite"
// for a negative requested timeout, otherwise the requested value
// clamped up to CPMinimumSubscriptionTime.
func (e *Engine) timeoutHeader(requested time.Duration) string {
	if requested < 0 {
		return "Second-infinite"
	}
	clamped := requested
	if clamped < e.knobs.CPMinimumSubscriptionTime {
		clamped = e.knobs.CPMinimumSubscriptionTime
	}
	return "Second-" + strconv.FormatInt(int64(clamped/time.Second), 10)
}

// parseTimeoutHeader parses a response TIMEOUT value of the form
// "Second-N" or "Second-infinite" into a duration (negative meaning
// infinite).
func parseTimeoutHeader(v string) (time.Duration, error) {
	const prefix = "Second-"
	if !strings.HasPrefix(v, prefix) {
		return 0, errs.New("gena", errs.CodeInvalid, errs.WithMessage("timeout header missing Second- prefix"))
	}
	rest := v[len(prefix):]
	if rest == "infinite" {
		return -1, nil
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || n < 0 {
		return 0, errs.New("gena", errs.CodeInvalid, errs.WithMessage("bad timeout header value: "+v))
	}
	return time.Duration(n) * time.Second, nil
}

// callbackURL builds the CALLBACK header value: the local address on
// the interface that would reach eventURL's host, on the configured
// local port for that address family.
func (e *Engine) callbackURL(eventURL string) (string, error) {
	parsed, err := uri.Parse(eventURL)
	if err != nil || parsed.Type != uri.Absolute {
		return "", errs.New("gena", errs.CodeInvalid, errs.WithMessage("bad event url: "+eventURL))
	}

	destIP := net.ParseIP(parsed.HostPort.Host)
	if destIP == nil {
		ips, err := net.LookupIP(parsed.HostPort.Host)
		if err != nil || len(ips) == 0 {
			return "", errs.New("gena", errs.CodeNetwork, errs.WithCause(err), errs.WithMessage("could not resolve event url host"))
		}
		destIP = ips[0]
	}

	_, local, ok := e.netifs.InterfaceForDestination(&net.UDPAddr{IP: destIP, Port: int(parsed.HostPort.Port)})
	if !ok || local == nil {
		return "", errs.New("gena", errs.CodeNetwork, errs.WithMessage("no route to event url host"))
	}

	port := e.knobs.LocalPortV4
	host := local.String()
	if local.To4() == nil {
		port = e.knobs.LocalPortV6
		host = "[" + host + "]"
	}
	return "http://" + host + ":" + strconv.Itoa(int(port)) + "/", nil
}
