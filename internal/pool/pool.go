// Package pool implements the priority-driven worker pool described by
// the GENA control-point specification: three FIFO priority queues
// (low/medium/high), starvation-driven aging between them, dynamic
// worker sizing between a configured minimum and maximum, and a single
// "persistent" job slot reserved for long-lived background work such as
// the timer service.
package pool

import (
	"sync"
	"time"

	"github.com/coachpo/genacp/internal/errs"
	"github.com/coachpo/genacp/internal/observability"
)

// Pool is a priority worker pool. The zero value is not usable; construct
// one with New.
type Pool struct {
	mu sync.Mutex

	attr Attr

	low, med, high []*Job
	persistent     *Job

	totalThreads      int
	busyThreads       int
	persistentThreads int
	pendingStart      int
	shuttingDown      bool

	lastJobID int64

	stats         statAccumulator
	statWorker    int
	statIdle      int

	notifyCh    chan struct{}
	lifecycleCh chan struct{}

	osPriority OSPriority
	logger     observability.Logger

	rejectionHook func(errs.Canonical)
}

// Option configures optional Pool collaborators.
type Option func(*Pool)

// WithOSPriority injects a platform-specific OS thread priority controller.
// If omitted, priority mapping is a no-op (the portable default).
func WithOSPriority(p OSPriority) Option {
	return func(pl *Pool) { pl.osPriority = p }
}

// WithLogger injects a structured logger. If omitted, the global
// observability logger is used.
func WithLogger(l observability.Logger) Option {
	return func(pl *Pool) { pl.logger = l }
}

// WithRejectionHook installs fn to be called, synchronously and without
// the pool's lock held, whenever AddJob or AddPersistent rejects a job
// for lack of capacity. Used to feed rejection counters into telemetry
// without the pool package importing an observability backend directly.
func WithRejectionHook(fn func(errs.Canonical)) Option {
	return func(pl *Pool) { pl.rejectionHook = fn }
}

// SetRejectionHook installs or replaces the rejection hook after
// construction, for callers (such as telemetry registration) that need
// the pool to already exist before they have a hook to attach.
func (p *Pool) SetRejectionHook(fn func(errs.Canonical)) {
	p.mu.Lock()
	p.rejectionHook = fn
	p.mu.Unlock()
}

func (p *Pool) notifyRejection(code errs.Canonical) {
	p.mu.Lock()
	hook := p.rejectionHook
	p.mu.Unlock()
	if hook != nil {
		hook(code)
	}
}

// New constructs a pool and synchronously starts attr.MinThreads workers.
// An Attr that fails validation (for example MaxThreads < MinThreads) is
// rejected before any worker starts; if a minimum worker cannot be
// started, the pool is shut down and the error is returned.
func New(attr Attr, opts ...Option) (*Pool, error) {
	if err := attr.validate(); err != nil {
		return nil, err
	}
	p := &Pool{
		attr:        attr,
		notifyCh:    make(chan struct{}),
		lifecycleCh: make(chan struct{}),
		osPriority:  noOSPriority{},
		logger:      observability.Log(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.mu.Lock()
	var startErr error
	for i := 0; i < attr.MinThreads; i++ {
		if err := p.createWorkerLocked(); err != nil {
			startErr = err
			break
		}
	}
	p.mu.Unlock()

	if startErr != nil {
		_ = p.Shutdown()
		return nil, startErr
	}
	return p, nil
}

// AddJob enqueues a job at the given priority. It never blocks on queue
// capacity: if the summed queue depth would exceed Attr.MaxJobsTotal, it
// returns a TooManyJobs-canonical error instead of accepting the job.
// Once Shutdown has begun it accepts no job and returns an error.
func (p *Pool) AddJob(fn Func, arg any, free FreeFunc, prio Priority) (int64, error) {
	p.mu.Lock()
	if p.shuttingDown {
		p.mu.Unlock()
		return 0, errs.New("pool", errs.CodeUnavailable, errs.WithMessage("pool is shutting down"))
	}
	total := len(p.low) + len(p.med) + len(p.high)
	if total >= p.attr.MaxJobsTotal {
		p.mu.Unlock()
		p.notifyRejection(errs.CanonicalTooManyJobs)
		return 0, errs.New("pool", errs.CodeUnavailable,
			errs.WithCanonicalCode(errs.CanonicalTooManyJobs),
			errs.WithMessage("too many jobs queued"))
	}

	job := &Job{Func: fn, Arg: arg, FreeFunc: free, Priority: prio, requestTime: time.Now(), jobID: p.lastJobID}
	switch prio {
	case High:
		p.high = append(p.high, job)
	case Medium:
		p.med = append(p.med, job)
	default:
		p.low = append(p.low, job)
	}

	p.addWorkerLocked()
	p.broadcastWorkLocked()
	p.lastJobID++
	id := job.jobID
	p.mu.Unlock()
	return id, nil
}

// AddPersistent installs fn into the pool's single persistent slot and
// blocks until a worker has claimed it. It is intended for long-lived
// background work (the timer service) that should not compete with the
// priority queues for a worker thread budget.
func (p *Pool) AddPersistent(fn Func, arg any, free FreeFunc, prio Priority) (int64, error) {
	p.mu.Lock()
	if p.attr.MaxThreads == Infinite || p.totalThreads < p.attr.MaxThreads {
		_ = p.createWorkerLocked()
	} else if p.totalThreads-p.persistentThreads-1 <= 0 {
		p.mu.Unlock()
		p.notifyRejection(errs.CanonicalNoCapacity)
		return 0, errs.New("pool", errs.CodeUnavailable,
			errs.WithCanonicalCode(errs.CanonicalNoCapacity),
			errs.WithMessage("no worker available for persistent job"))
	}

	job := &Job{Func: fn, Arg: arg, FreeFunc: free, Priority: prio, requestTime: time.Now(), jobID: p.lastJobID}
	p.persistent = job
	p.broadcastWorkLocked()
	for p.persistent != nil {
		p.waitLifecycleLocked()
	}
	p.lastJobID++
	p.mu.Unlock()
	return job.jobID, nil
}

// Shutdown drains all queued and persistent jobs (invoking each job's
// FreeFunc), signals every worker to exit, and blocks until all workers
// have exited. Shutdown is idempotent. It does not interrupt a job
// already executing on a worker; a running persistent job (the timer
// service) must be stopped by its owner before or concurrently with
// Shutdown, or Shutdown blocks until that job's worker returns.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	drain(&p.high)
	drain(&p.med)
	drain(&p.low)
	if p.persistent != nil {
		p.persistent.free()
		p.persistent = nil
	}
	p.shuttingDown = true
	p.broadcastWorkLocked()
	for p.totalThreads > 0 {
		p.waitLifecycleLocked()
	}
	p.mu.Unlock()
	return nil
}

func drain(q *[]*Job) {
	for _, j := range *q {
		j.free()
	}
	*q = nil
}

// GetStats returns a snapshot of pool activity.
func (p *Pool) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		TotalThreads:      p.totalThreads,
		WorkerThreads:     p.statWorker,
		PersistentThreads: p.persistentThreads,
		IdleThreads:       p.statIdle,
		CurrentJobsLow:    len(p.low),
		CurrentJobsMedium: len(p.med),
		CurrentJobsHigh:   len(p.high),
		TotalJobsLow:      p.stats.totalJobsLow,
		TotalJobsMedium:   p.stats.totalJobsMedium,
		TotalJobsHigh:      p.stats.totalJobsHigh,
		TotalWaitLow:      p.stats.totalWaitLow,
		TotalWaitMedium:   p.stats.totalWaitMedium,
		TotalWaitHigh:     p.stats.totalWaitHigh,
		TotalWorkTime:     p.stats.totalWorkTime,
		TotalIdleTime:     p.stats.totalIdleTime,
		MaxThreadsSeen:    p.stats.maxThreadsSeen,
	}
}

// SetAttr reconfigures the pool. If the new minimum exceeds the current
// worker count, workers are started synchronously to reach it; failure to
// do so shuts the pool down, matching the source implementation's
// setAttr/shutdown-on-failure behavior.
func (p *Pool) SetAttr(attr Attr) error {
	if err := attr.validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.attr = attr
	var startErr error
	for p.totalThreads < p.attr.MinThreads {
		if err := p.createWorkerLocked(); err != nil {
			startErr = err
			break
		}
	}
	p.broadcastWorkLocked()
	p.mu.Unlock()

	if startErr != nil {
		_ = p.Shutdown()
		return startErr
	}
	return nil
}

// Attr returns the pool's current configuration.
func (p *Pool) Attr() Attr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attr
}
