// Package collab declares the external collaborator interfaces the GENA
// protocol engine (internal/gena) consumes: HTTP transport, XML parsing,
// network-interface resolution, and the client handle table. Keeping
// these as interfaces lets the engine be exercised with fakes in tests
// while production wiring (cmd/genacp) supplies the default adapters in
// internal/httptransport, internal/xmlprop, and internal/netif.
package collab

import (
	"context"
	"net"
	"time"
)

// Response is the normalized result of an HTTP round trip.
type Response struct {
	Status  int
	Headers map[string]string // lower-cased header names
	Body    []byte
}

// HTTPClient executes a GENA wire request. Implementations must surface
// transport failures (DNS, connect, write, read, timeout) distinctly
// from a successful round trip carrying a non-2xx status.
type HTTPClient interface {
	Execute(ctx context.Context, method, url string, headers map[string]string, timeout time.Duration) (Response, error)
}

// XMLHandler receives streaming parse callbacks. path is the stack of
// enclosing element local names, outermost first, not including name
// itself.
type XMLHandler interface {
	OnStartElement(name string, path []string)
	OnEndElement(name string, path []string)
	OnCharacterData(data []byte)
}

// XMLParser parses an XML document, delivering events to h as it goes.
type XMLParser interface {
	Parse(body []byte, h XMLHandler) error
}

// NetworkInterfaces resolves the local interface and address that would
// be used to reach a destination, for building SUBSCRIBE CALLBACK
// headers.
type NetworkInterfaces interface {
	InterfaceForDestination(addr net.Addr) (iface net.Interface, local net.IP, ok bool)
}

// HandleKind distinguishes the two roles a UPnP handle can hold; the
// GENA engine only ever operates on Client handles, but the handle
// table is shared with the (out of scope) device side, so lookups must
// report which kind they found.
type HandleKind int

const (
	KindClient HandleKind = iota
	KindDevice
)

// HandleInfo is a snapshot of a handle's id, delivery callback, and user
// cookie. It does not carry the handle's subscription registry.
type HandleInfo struct {
	ID       int
	Callback EventCallback
	Cookie   any
}

// EventCallback is invoked for event deliveries and terminal auto-renew
// failures on a client handle.
type EventCallback func(evt CallbackEvent)

// CallbackEventKind names the reason an EventCallback fired.
type CallbackEventKind int

const (
	EventReceived CallbackEventKind = iota
	AutoRenewFailed
	SubscriptionExpired
)

// CallbackEvent is the payload delivered to a client handle's callback.
type CallbackEvent struct {
	Kind             CallbackEventKind
	SID              string
	EventKey         int
	ChangedVariables map[string]string
	Err              error
	// Cookie is the opaque per-handle datum registered alongside the
	// callback (RegisterClient's cookie argument), passed through
	// unexamined on every delivery.
	Cookie any
}

// HandleTable resolves handle ids to their HandleInfo under read or
// write locking, matching the per-handle RWMutex in the concurrency
// model: readers for lookup, writers for mutation, never held across
// blocking network I/O.
type HandleTable interface {
	// GetHandleInfo returns the handle's info and kind, or an error if
	// id does not name a live handle.
	GetHandleInfo(id int) (info *HandleInfo, kind HandleKind, err error)
	// RLock/RUnlock guard read-only access to a handle's registry.
	RLock(id int)
	RUnlock(id int)
	// Lock/Unlock guard mutation of a handle's registry.
	Lock(id int)
	Unlock(id int)
}
