// Package gena implements the control-point side of UPnP GENA eventing:
// subscribe, renew, unsubscribe, unregister, and NOTIFY receipt and
// dispatch. It is the home of components C4 (the protocol engine, this
// file and wire.go) and C5 (the NOTIFY receiver, notify.go).
package gena

import (
	"context"
	"sync"
	"time"

	concpool "github.com/sourcegraph/conc/pool"

	"github.com/coachpo/genacp/internal/collab"
	"github.com/coachpo/genacp/internal/errs"
	"github.com/coachpo/genacp/internal/observability"
	"github.com/coachpo/genacp/internal/pool"
	"github.com/coachpo/genacp/internal/registry"
	"github.com/coachpo/genacp/internal/timer"
)

// unregisterFanoutLimit bounds how many UNSUBSCRIBE calls Unregister
// issues concurrently, so draining a handle with many subscriptions
// cannot open an unbounded burst of outbound requests.
const unregisterFanoutLimit = 8

// HandleID identifies a client handle.
type HandleID int

// Client is one client handle: the root the registry, callback, and
// cookie live under. Its lock (HandleLock in spec terms) guards the
// registry and callback pointer; it must never be held across network
// I/O.
type Client struct {
	mu       sync.RWMutex
	id       HandleID
	reg      *registry.Registry
	callback collab.EventCallback
	cookie   any
}

// HandleTable is the default gena implementation of collab.HandleTable:
// an in-process map of live client handles. It is the GENA engine's own
// concern (not swapped for a third-party registry) because it is the
// thing the engine itself creates and tears down; the teacher's
// analogous in-process registries (internal/dispatcher/table.go,
// internal/provider/manager.go) are plain guarded maps for the same
// reason.
type HandleTable struct {
	mu      sync.Mutex
	clients map[HandleID]*Client
	nextID  HandleID
}

// NewHandleTable constructs an empty handle table.
func NewHandleTable() *HandleTable {
	return &HandleTable{clients: make(map[HandleID]*Client)}
}

// RegisterClient creates a new client handle with the given callback
// and cookie, returning its id.
func (t *HandleTable) RegisterClient(cb collab.EventCallback, cookie any) HandleID {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.clients[id] = &Client{id: id, reg: registry.New(), callback: cb, cookie: cookie}
	return id
}

// UnregisterClient removes a client handle, returning it, or nil if id
// is unknown.
func (t *HandleTable) UnregisterClient(id HandleID) *Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.clients[id]
	delete(t.clients, id)
	return c
}

// GetHandleInfo implements collab.HandleTable.
func (t *HandleTable) GetHandleInfo(id int) (*collab.HandleInfo, collab.HandleKind, error) {
	t.mu.Lock()
	c, ok := t.clients[HandleID(id)]
	t.mu.Unlock()
	if !ok {
		return nil, collab.KindClient, errs.New("gena", errs.CodeNotFound,
			errs.WithCanonicalCode(errs.CanonicalHandleNotFound),
			errs.WithMessage("handle not found"))
	}
	return &collab.HandleInfo{ID: id, Callback: c.callback, Cookie: c.cookie}, collab.KindClient, nil
}

func (t *HandleTable) client(id HandleID) (*Client, error) {
	t.mu.Lock()
	c, ok := t.clients[id]
	t.mu.Unlock()
	if !ok {
		return nil, errs.New("gena", errs.CodeNotFound,
			errs.WithCanonicalCode(errs.CanonicalHandleNotFound),
			errs.WithMessage("handle not found"))
	}
	return c, nil
}

// RLock/RUnlock/Lock/Unlock implement collab.HandleTable by id.
func (t *HandleTable) RLock(id int) {
	if c, _ := t.client(HandleID(id)); c != nil {
		c.mu.RLock()
	}
}

func (t *HandleTable) RUnlock(id int) {
	if c, _ := t.client(HandleID(id)); c != nil {
		c.mu.RUnlock()
	}
}

func (t *HandleTable) Lock(id int) {
	if c, _ := t.client(HandleID(id)); c != nil {
		c.mu.Lock()
	}
}

func (t *HandleTable) Unlock(id int) {
	if c, _ := t.client(HandleID(id)); c != nil {
		c.mu.Unlock()
	}
}

// Knobs are the compile-time constants of spec.md §6.3, made runtime
// configuration.
type Knobs struct {
	AutoRenewLead             time.Duration
	CPMinimumSubscriptionTime time.Duration
	HTTPDefaultTimeout        time.Duration
	UserAgent                 string
	LocalPortV4               uint16
	LocalPortV6               uint16
}

// DefaultKnobs mirrors the conservative constants named in spec.md.
func DefaultKnobs() Knobs {
	return Knobs{
		AutoRenewLead:             30 * time.Second,
		CPMinimumSubscriptionTime: 30 * time.Second,
		HTTPDefaultTimeout:        30 * time.Second,
		UserAgent:                 "genacp/1.0 UPnP/1.0",
		LocalPortV4:               2869,
		LocalPortV6:               2870,
	}
}

// Engine is the GENA protocol engine (C4) plus NOTIFY receiver (C5). It
// owns the process-wide subscribe lock (SubscribeLock in spec terms)
// serializing subscribe critical sections against the NOTIFY/subscribe
// race of spec.md §4.4.4.
type Engine struct {
	knobs   Knobs
	http    collab.HTTPClient
	xml     collab.XMLParser
	netifs  collab.NetworkInterfaces
	handles *HandleTable
	pool    *pool.Pool
	timer   *timer.Service
	logger  observability.Logger

	subscribeLock sync.Mutex
}

// Deps bundles an Engine's collaborators.
type Deps struct {
	HTTP    collab.HTTPClient
	XML     collab.XMLParser
	NetIfs  collab.NetworkInterfaces
	Handles *HandleTable
	Pool    *pool.Pool
	Timer   *timer.Service
	Logger  observability.Logger
}

// New constructs an Engine.
func New(knobs Knobs, deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = observability.Log()
	}
	if deps.Handles == nil {
		deps.Handles = NewHandleTable()
	}
	return &Engine{
		knobs:   knobs,
		http:    deps.HTTP,
		xml:     deps.XML,
		netifs:  deps.NetIfs,
		handles: deps.Handles,
		pool:    deps.Pool,
		timer:   deps.Timer,
		logger:  observability.Component(deps.Logger, "gena"),
	}
}

// Handles returns the engine's handle table, for registering/unregistering
// client handles from outside the package.
func (e *Engine) Handles() *HandleTable { return e.handles }

func (e *Engine) client(id HandleID) (*Client, error) { return e.handles.client(id) }

// Subscribe issues a SUBSCRIBE for eventURL on behalf of handle, writing
// the server-granted SID back and returning the granted timeout
// (negative meaning "infinite"). On success with a finite
// timeout, an auto-renew job is scheduled per spec.md §4.4.3.
func (e *Engine) Subscribe(ctx context.Context, handle HandleID, eventURL string, requestedTimeout time.Duration) (sid string, grantedTimeout time.Duration, err error) {
	c, err := e.client(handle)
	if err != nil {
		return "", 0, err
	}

	e.subscribeLock.Lock()
	defer e.subscribeLock.Unlock()

	sid, grantedTimeout, err = e.subscribeWire(ctx, eventURL, "", requestedTimeout)
	if err != nil {
		return "", 0, err
	}

	c.mu.Lock()
	c.reg.Insert(&registry.Subscription{SID: sid, EventURL: eventURL, RenewEventID: registry.NoRenewTimer})
	c.mu.Unlock()

	e.scheduleAutoRenew(handle, sid, eventURL, grantedTimeout)
	return sid, grantedTimeout, nil
}

// Renew re-subscribes an existing subscription ahead of its expiry,
// updating its SID in place on success.
func (e *Engine) Renew(ctx context.Context, handle HandleID, sid string, requestedTimeout time.Duration) (grantedTimeout time.Duration, err error) {
	c, err := e.client(handle)
	if err != nil {
		return 0, err
	}

	c.mu.RLock()
	sub := c.reg.Find(sid)
	var eventURL string
	if sub != nil {
		eventURL = sub.EventURL
	}
	c.mu.RUnlock()
	if sub == nil {
		return 0, errs.New("gena", errs.CodeNotFound, errs.WithCanonicalCode(errs.CanonicalSidNotFound), errs.WithMessage("sid not found"))
	}

	e.subscribeLock.Lock()
	newSID, grantedTimeout, err := e.subscribeWire(ctx, eventURL, sid, requestedTimeout)
	e.subscribeLock.Unlock()

	if err != nil {
		c.mu.Lock()
		if cur := c.reg.Find(sid); cur != nil {
			if cur.RenewEventID != registry.NoRenewTimer {
				e.timer.Remove(cur.RenewEventID)
			}
			c.reg.Remove(sid)
		}
		c.mu.Unlock()
		return 0, err
	}

	c.mu.Lock()
	cur := c.reg.Find(sid)
	if cur == nil {
		// Subscription vanished while the wire round trip was in
		// flight; discard the new SID rather than resurrecting it.
		c.mu.Unlock()
		return grantedTimeout, nil
	}
	var staleTimer int64 = registry.NoRenewTimer
	if cur.RenewEventID != registry.NoRenewTimer {
		staleTimer = cur.RenewEventID
		cur.RenewEventID = registry.NoRenewTimer
	}
	cur.SID = newSID
	c.mu.Unlock()

	if staleTimer != registry.NoRenewTimer {
		e.timer.Remove(staleTimer)
	}
	e.scheduleAutoRenew(handle, newSID, eventURL, grantedTimeout)
	return grantedTimeout, nil
}

// Unsubscribe issues UNSUBSCRIBE for sid and removes it locally
// regardless of the wire outcome.
func (e *Engine) Unsubscribe(ctx context.Context, handle HandleID, sid string) error {
	c, err := e.client(handle)
	if err != nil {
		return err
	}

	c.mu.RLock()
	sub := c.reg.Find(sid)
	c.mu.RUnlock()
	if sub == nil {
		return errs.New("gena", errs.CodeNotFound, errs.WithCanonicalCode(errs.CanonicalSidNotFound), errs.WithMessage("sid not found"))
	}

	wireErr := e.unsubscribeWire(ctx, sub.EventURL, sid)

	c.mu.Lock()
	if cur := c.reg.Find(sid); cur != nil {
		if cur.RenewEventID != registry.NoRenewTimer {
			e.timer.Remove(cur.RenewEventID)
		}
		c.reg.Remove(sid)
	}
	c.mu.Unlock()

	return wireErr
}

// Unregister drains every subscription on handle: it snapshots the
// registry one entry at a time (so the handle lock is held only across
// O(1) work per spec.md §4.4.5), then fans the best-effort UNSUBSCRIBE
// calls out across a bounded pool of goroutines, cancelling each
// subscription's renew timer as its call completes.
func (e *Engine) Unregister(ctx context.Context, handle HandleID) error {
	c, err := e.client(handle)
	if err != nil {
		return err
	}

	var subs []*registry.Subscription
	for {
		c.mu.Lock()
		sub := c.reg.SnapshotFirst()
		c.mu.Unlock()
		if sub == nil {
			break
		}
		subs = append(subs, sub)
	}
	if len(subs) == 0 {
		return nil
	}

	workers := len(subs)
	if workers > unregisterFanoutLimit {
		workers = unregisterFanoutLimit
	}

	var errsMu sync.Mutex
	var drainErrs []error

	p := concpool.New().WithMaxGoroutines(workers)
	for _, sub := range subs {
		sub := sub
		p.Go(func() {
			if err := e.unsubscribeWire(ctx, sub.EventURL, sub.SID); err != nil {
				errsMu.Lock()
				drainErrs = append(drainErrs, err)
				errsMu.Unlock()
			}
			if sub.RenewEventID != registry.NoRenewTimer {
				e.timer.Remove(sub.RenewEventID)
			}
		})
	}
	p.Wait()

	// Transport failures during drain are non-fatal to local cleanup (every
	// subscription above is already removed from the registry by the
	// SnapshotFirst loop); AggregateErrors still logs and returns them
	// so an operator can see which event URLs rejected the teardown.
	return observability.AggregateErrors("gena.unregister", drainErrs,
		observability.Field{Key: "handle", Value: int(handle)})
}

// scheduleAutoRenew schedules the job that fires at grantedTimeout minus
// the configured auto-renew lead, per spec.md §4.4.3. A zero or negative
// lead does not skip scheduling: it changes what the job does when it
// fires (synthesize EventSubscriptionExpired instead of renewing, the
// same "no auto-renewal" mode the ground truth's AUTO_RENEW_TIME==0
// branch implements in ScheduleGenaAutoRenew/AutoRenewSubscriptionJobWorker).
// Only an infinite granted timeout skips scheduling entirely.
func (e *Engine) scheduleAutoRenew(handle HandleID, sid, eventURL string, grantedTimeout time.Duration) {
	if grantedTimeout < 0 {
		return
	}
	delay := grantedTimeout - e.knobs.AutoRenewLead
	if delay < 0 {
		delay = 0
	}

	eventID, err := e.timer.Schedule(timer.ShortTerm, timer.Relative, delay, e.autoRenewJob(handle, sid, eventURL, grantedTimeout), nil, nil, pool.Medium)
	if err != nil {
		e.logger.Error("failed to schedule auto-renew", observability.Field{Key: "sid", Value: sid}, observability.Field{Key: "error", Value: err.Error()})
		return
	}

	c, err := e.client(handle)
	if err != nil {
		return
	}
	c.mu.Lock()
	if sub := c.reg.Find(sid); sub != nil {
		sub.RenewEventID = eventID
	}
	c.mu.Unlock()
}

func (e *Engine) autoRenewJob(handle HandleID, sid, eventURL string, lastTimeout time.Duration) pool.Func {
	return func(any) {
		if e.knobs.AutoRenewLead <= 0 {
			e.expireSubscription(handle, sid)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), e.knobs.HTTPDefaultTimeout)
		defer cancel()

		_, err := e.Renew(ctx, handle, sid, lastTimeout)
		if err == nil {
			return
		}
		if errs.IsCanonical(err, errs.CanonicalSidNotFound) || errs.IsCanonical(err, errs.CanonicalHandleNotFound) {
			return // the subscription or handle has gone away; silently no-op
		}

		c, cerr := e.client(handle)
		if cerr != nil {
			return
		}
		c.mu.RLock()
		cb, cookie := c.callback, c.cookie
		c.mu.RUnlock()
		if cb != nil {
			cb(collab.CallbackEvent{Kind: collab.AutoRenewFailed, SID: sid, Err: err, Cookie: cookie})
		}
	}
}

// expireSubscription removes sid from handle's registry and delivers an
// EventSubscriptionExpired callback, the terminal outcome of an
// auto-renew job firing while the subsystem is configured with no
// auto-renew lead (spec.md §4.4.3's "AUTO_RENEW_LEAD == 0" branch).
func (e *Engine) expireSubscription(handle HandleID, sid string) {
	c, err := e.client(handle)
	if err != nil {
		return
	}
	c.mu.Lock()
	if cur := c.reg.Find(sid); cur != nil {
		c.reg.Remove(sid)
	}
	cb, cookie := c.callback, c.cookie
	c.mu.Unlock()
	if cb != nil {
		cb(collab.CallbackEvent{Kind: collab.SubscriptionExpired, SID: sid, Cookie: cookie})
	}
}
