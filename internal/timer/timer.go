// Package timer schedules one-shot delayed jobs on top of the pool's
// persistent slot. A single background goroutine — itself the pool's
// persistent job — sleeps until the nearest deadline or a signal,
// firing due jobs by handing them to the pool as ordinary jobs.
package timer

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/coachpo/genacp/internal/errs"
	"github.com/coachpo/genacp/internal/observability"
	"github.com/coachpo/genacp/internal/pool"
)

// Kind selects timer durability semantics. Both are best-effort in this
// implementation: neither survives a process restart. LongTerm exists so
// callers can express intent (e.g. auto-renew vs. a diagnostic one-off)
// even though the scheduling guarantee is currently identical.
type Kind int

const (
	ShortTerm Kind = iota
	LongTerm
)

// Unit selects whether a scheduled deadline is relative to now or an
// absolute point in time.
type Unit int

const (
	Relative Unit = iota
	Absolute
)

type entry struct {
	eventID  int64
	deadline time.Time
	worker   pool.Func
	arg      any
	free     pool.FreeFunc
	priority pool.Priority
	index    int
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x any)         { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Service is a timer service backed by a pool's persistent slot.
type Service struct {
	mu sync.Mutex

	heap    entryHeap
	byID    map[int64]*entry
	nextID  int64
	stopped bool
	started bool

	notifyCh chan struct{}

	pool   *pool.Pool
	logger observability.Logger
}

// New constructs a Service. Call Start to install it onto a pool's
// persistent slot before scheduling anything.
func New(opts ...Option) *Service {
	s := &Service{
		byID:     make(map[int64]*entry),
		notifyCh: make(chan struct{}),
		logger:   observability.Log(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = observability.Component(s.logger, "timer")
	return s
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithLogger injects a structured logger.
func WithLogger(l observability.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Start installs the timer's run loop as p's persistent job. It must be
// called exactly once, before any Schedule call. ctx gives the caller a
// second way to stop the loop (alongside the explicit Stop method): when
// ctx is done, the loop exits at its next wakeup exactly as if Stop had
// been called, closing the shutdown-hang gap in spec.md §9 regardless of
// which signal a caller uses.
func (s *Service) Start(ctx context.Context, p *pool.Pool) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errs.New("timer", errs.CodeInvalid, errs.WithMessage("timer already started"))
	}
	s.started = true
	s.pool = p
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	_, err := p.AddPersistent(s.run, nil, nil, pool.Medium)
	return err
}

// Stop signals the run loop to exit at its next wakeup. It returns without
// waiting for the loop to finish; the owning pool's Shutdown waits for
// the persistent worker to return. Callers must Stop the timer before
// (or concurrently with) shutting down the owning pool: the persistent
// job occupies a worker for as long as the timer loop runs, and the pool
// cannot reach zero live workers until it returns.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.broadcastLocked()
	s.mu.Unlock()
}

// Schedule installs worker to run on the pool at the computed deadline,
// deriving it from unit and delay: Relative adds delay to the current
// time, Absolute reads delay as a time since the Unix epoch. It returns
// the event id, stable for the service's lifetime, usable with Remove.
func (s *Service) Schedule(kind Kind, unit Unit, delay time.Duration, worker pool.Func, arg any, free pool.FreeFunc, priority pool.Priority) (int64, error) {
	var deadline time.Time
	switch unit {
	case Absolute:
		deadline = time.Unix(0, int64(delay))
	default:
		deadline = time.Now().Add(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return 0, errs.New("timer", errs.CodeUnavailable, errs.WithMessage("timer is stopped"))
	}
	id := s.nextID
	s.nextID++
	e := &entry{eventID: id, deadline: deadline, worker: worker, arg: arg, free: free, priority: priority}
	heap.Push(&s.heap, e)
	s.byID[id] = e
	s.broadcastLocked()
	return id, nil
}

// Remove cancels a pending timer by event id. It is a no-op if the id is
// unknown (never scheduled, already fired, or already removed), and is
// safe to call concurrently with firing.
func (s *Service) Remove(eventID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[eventID]
	if !ok {
		return nil
	}
	heap.Remove(&s.heap, e.index)
	delete(s.byID, eventID)
	return nil
}

func (s *Service) broadcastLocked() {
	close(s.notifyCh)
	s.notifyCh = make(chan struct{})
}

// run is the persistent pool job: it sleeps until the nearest deadline
// or a signal (a new schedule or Stop), firing every entry
// whose deadline has elapsed by handing it to the pool as an ordinary
// job.
func (s *Service) run(any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.stopped {
			return
		}
		if len(s.heap) == 0 {
			s.waitLocked(0)
			continue
		}
		next := s.heap[0]
		until := time.Until(next.deadline)
		if until > 0 {
			s.waitLocked(until)
			continue
		}

		heap.Pop(&s.heap)
		delete(s.byID, next.eventID)
		s.mu.Unlock()
		if _, err := s.pool.AddJob(next.worker, next.arg, next.free, next.priority); err != nil {
			s.logger.Error("failed to enqueue fired job", observability.Field{Key: "event_id", Value: next.eventID}, observability.Field{Key: "error", Value: err.Error()})
			if next.free != nil {
				next.free(next.arg)
			}
		}
		s.mu.Lock()
	}
}

// waitLocked releases s.mu, blocks until either a broadcast arrives or
// timeout elapses (or indefinitely if timeout <= 0), then reacquires
// s.mu.
func (s *Service) waitLocked(timeout time.Duration) {
	ch := s.notifyCh
	s.mu.Unlock()
	defer s.mu.Lock()
	if timeout <= 0 {
		<-ch
		return
	}
	select {
	case <-ch:
	case <-time.After(timeout):
	}
}
