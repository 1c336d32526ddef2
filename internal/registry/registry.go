// Package registry implements the per-handle subscription list used by
// the GENA protocol engine: insert, find-by-sid, remove-by-sid, and a
// pop-the-first operation used by handle teardown. The registry has no
// lock of its own — per the concurrency model, it is accessed only while
// the owning client handle's lock is held, so callers serialize access
// externally (see internal/gena).
package registry

import "container/list"

// NoRenewTimer is the sentinel RenewEventID value meaning "this
// subscription has no pending auto-renew timer".
const NoRenewTimer int64 = -1

// Subscription is one live eventing contract with a remote publisher.
type Subscription struct {
	SID          string
	EventURL     string
	RenewEventID int64
}

// Registry is an ordered collection of subscriptions for one client
// handle, keyed by SID.
type Registry struct {
	entries *list.List
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: list.New()}
}

// Insert prepends sub to the registry. It reports false without
// modifying the registry if a subscription with the same SID already
// exists.
func (r *Registry) Insert(sub *Subscription) bool {
	if r.Find(sub.SID) != nil {
		return false
	}
	r.entries.PushFront(sub)
	return true
}

// Find returns the subscription with the given SID, or nil.
func (r *Registry) Find(sid string) *Subscription {
	for e := r.entries.Front(); e != nil; e = e.Next() {
		sub := e.Value.(*Subscription)
		if sub.SID == sid {
			return sub
		}
	}
	return nil
}

// Remove deletes the subscription with the given SID, reporting whether
// one was found.
func (r *Registry) Remove(sid string) bool {
	for e := r.entries.Front(); e != nil; e = e.Next() {
		if e.Value.(*Subscription).SID == sid {
			r.entries.Remove(e)
			return true
		}
	}
	return false
}

// SnapshotFirst pops and returns the first subscription in the registry,
// or nil if the registry is empty. It is used by handle teardown to
// drain one entry at a time without holding the handle lock across
// network I/O.
func (r *Registry) SnapshotFirst() *Subscription {
	e := r.entries.Front()
	if e == nil {
		return nil
	}
	sub := e.Value.(*Subscription)
	r.entries.Remove(e)
	return sub
}

// Len returns the number of subscriptions currently registered.
func (r *Registry) Len() int { return r.entries.Len() }
