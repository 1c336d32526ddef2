package pool

import (
	"time"

	"github.com/coachpo/genacp/internal/errs"
)

// broadcastWorkLocked wakes every worker blocked waiting for a job or for
// shutdown. Callers must hold p.mu.
func (p *Pool) broadcastWorkLocked() {
	close(p.notifyCh)
	p.notifyCh = make(chan struct{})
}

// broadcastLifecycleLocked wakes every goroutine blocked on a worker-count
// change (createWorkerLocked's synchronous start barrier, AddPersistent's
// claim barrier, Shutdown's drain barrier). Callers must hold p.mu.
func (p *Pool) broadcastLifecycleLocked() {
	close(p.lifecycleCh)
	p.lifecycleCh = make(chan struct{})
}

// waitForWorkLocked releases p.mu, blocks until either a broadcast arrives
// or timeout elapses, then reacquires p.mu. It reports whether it returned
// because of a timeout. Go has no condition-variable timed wait, so this
// is the channel-broadcast idiom used in place of one.
func (p *Pool) waitForWorkLocked(timeout time.Duration) (timedOut bool) {
	ch := p.notifyCh
	p.mu.Unlock()
	defer p.mu.Lock()
	select {
	case <-ch:
		return false
	case <-time.After(timeout):
		return true
	}
}

// waitLifecycleLocked releases p.mu, blocks for the next lifecycle
// broadcast, then reacquires p.mu.
func (p *Pool) waitLifecycleLocked() {
	ch := p.lifecycleCh
	p.mu.Unlock()
	<-ch
	p.mu.Lock()
}

// createWorkerLocked starts exactly one new worker goroutine and blocks
// until it has recorded its own start, enforcing the one-at-a-time,
// synchronous worker-start protocol of the source implementation. Callers
// must hold p.mu; it is released and reacquired internally while waiting.
func (p *Pool) createWorkerLocked() error {
	for p.pendingStart != 0 {
		p.waitLifecycleLocked()
	}
	if p.attr.MaxThreads != Infinite && p.totalThreads+1 > p.attr.MaxThreads {
		return errs.New("pool", errs.CodeUnavailable,
			errs.WithCanonicalCode(errs.CanonicalNoCapacity),
			errs.WithMessage("max_threads reached"))
	}

	p.pendingStart = 1
	go p.runWorker()
	for p.pendingStart != 0 {
		p.waitLifecycleLocked()
	}
	if p.totalThreads > p.stats.maxThreadsSeen {
		p.stats.maxThreadsSeen = p.totalThreads
	}
	return nil
}

// addWorkerLocked grows the pool while the queue backlog justifies it:
// there are no workers at all, the backlog-per-worker ratio reaches
// JobsPerThread, or every existing worker is currently busy. It stops
// growing as soon as MaxThreads is reached (createWorkerLocked then
// returns an error, which is ignored: the job stays queued for an
// existing or soon-to-be-idle worker), and once Shutdown has begun.
func (p *Pool) addWorkerLocked() {
	for {
		if p.shuttingDown {
			return
		}
		nonPersistent := p.totalThreads - p.persistentThreads
		pending := len(p.low) + len(p.med) + len(p.high)
		grow := nonPersistent == 0 ||
			pending/nonPersistent >= p.attr.JobsPerThread ||
			p.totalThreads == p.busyThreads
		if !grow {
			return
		}
		if err := p.createWorkerLocked(); err != nil {
			return
		}
	}
}

// bumpPriorityLocked ages jobs that have waited past their priority's
// starvation threshold: Medium jobs older than StarvationTime are
// promoted to High, and Low jobs older than MaxIdleTime are promoted to
// Medium. It repeats until neither queue head qualifies, matching the
// source implementation's loop so multiple starved jobs are promoted in
// a single wakeup rather than one per pass.
func (p *Pool) bumpPriorityLocked() {
	now := time.Now()
	for {
		promoted := false
		if len(p.med) > 0 && now.Sub(p.med[0].requestTime) >= p.attr.StarvationTime {
			j := p.med[0]
			p.med = p.med[1:]
			j.Priority = High
			p.high = append(p.high, j)
			promoted = true
		}
		if len(p.low) > 0 && now.Sub(p.low[0].requestTime) >= p.attr.MaxIdleTime {
			j := p.low[0]
			p.low = p.low[1:]
			j.Priority = Medium
			p.med = append(p.med, j)
			promoted = true
		}
		if !promoted {
			return
		}
	}
}

// runWorker is the body of a pool worker goroutine. It mirrors the
// source implementation's WorkerThread state machine: claim the
// persistent slot first if occupied, otherwise the highest nonempty
// priority queue; run the job outside the lock; age the queues on every
// wakeup; and exit once idle past MaxIdleTime with more than MinThreads
// alive, or whenever the live count exceeds MaxThreads.
func (p *Pool) runWorker() {
	p.mu.Lock()
	p.totalThreads++
	p.pendingStart = 0
	p.broadcastLifecycleLocked()

	persistent := -1 // -1: no prior job this goroutine has run yet.
	idleSince := time.Now()

	for {
		if persistent == 1 {
			p.persistentThreads--
		} else if persistent == 0 {
			p.statWorker--
		}

		for len(p.low) == 0 && len(p.med) == 0 && len(p.high) == 0 && p.persistent == nil && !p.shuttingDown {
			p.statIdle++
			timedOut := p.waitForWorkLocked(p.attr.MaxIdleTime)
			p.statIdle--
			p.stats.totalIdleTime += time.Since(idleSince).Seconds()
			idleSince = time.Now()

			overMax := p.attr.MaxThreads != Infinite && p.totalThreads > p.attr.MaxThreads
			if (timedOut && p.totalThreads > p.attr.MinThreads) || overMax {
				p.totalThreads--
				p.broadcastLifecycleLocked()
				p.mu.Unlock()
				return
			}
		}

		p.bumpPriorityLocked()

		if p.shuttingDown {
			p.totalThreads--
			p.broadcastLifecycleLocked()
			p.mu.Unlock()
			return
		}

		var job *Job
		if p.persistent != nil {
			job = p.persistent
			p.persistent = nil
			p.persistentThreads++
			persistent = 1
			p.broadcastLifecycleLocked()
		} else {
			persistent = 0
			switch {
			case len(p.high) > 0:
				job, p.high = p.high[0], p.high[1:]
			case len(p.med) > 0:
				job, p.med = p.med[0], p.med[1:]
			case len(p.low) > 0:
				job, p.low = p.low[0], p.low[1:]
			default:
				continue
			}
			p.stats.accountDequeue(job.Priority, time.Since(job.requestTime).Seconds()*1000)
			p.statWorker++
		}

		p.busyThreads++
		p.mu.Unlock()

		workStart := time.Now()
		p.osPriority.Apply(job.Priority)
		runJobSafely(job)
		p.osPriority.Reset()

		p.mu.Lock()
		p.busyThreads--
		p.stats.totalWorkTime += time.Since(workStart).Seconds()
		job.free()
		idleSince = time.Now()
	}
}

// runJobSafely runs a job's Func, recovering from a panic so one bad job
// cannot take down its worker goroutine.
func runJobSafely(j *Job) {
	defer func() { _ = recover() }()
	j.Func(j.Arg)
}
