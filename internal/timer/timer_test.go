package timer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coachpo/genacp/internal/pool"
)

func newTestPool(t *testing.T) *pool.Pool {
	t.Helper()
	p, err := pool.New(pool.Attr{
		MinThreads:     1,
		MaxThreads:     4,
		JobsPerThread:  4,
		MaxIdleTime:    50 * time.Millisecond,
		StarvationTime: 20 * time.Millisecond,
		MaxJobsTotal:   16,
	})
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}
	return p
}

func TestScheduleFiresAfterDelay(t *testing.T) {
	p := newTestPool(t)
	svc := New()
	if err := svc.Start(context.Background(), p); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		svc.Stop()
		p.Shutdown()
	}()

	fired := make(chan struct{})
	start := time.Now()
	if _, err := svc.Schedule(ShortTerm, Relative, 30*time.Millisecond, func(any) { close(fired) }, nil, nil, pool.Medium); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	select {
	case <-fired:
		if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
			t.Fatalf("fired too early: %v", elapsed)
		}
	case <-time.After(time.Second):
		t.Fatal("timer did not fire in time")
	}
}

func TestRemoveCancelsBeforeFire(t *testing.T) {
	p := newTestPool(t)
	svc := New()
	if err := svc.Start(context.Background(), p); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		svc.Stop()
		p.Shutdown()
	}()

	var fired int32
	id, err := svc.Schedule(ShortTerm, Relative, 50*time.Millisecond, func(any) { atomic.StoreInt32(&fired, 1) }, nil, nil, pool.Medium)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := svc.Remove(id); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("removed timer fired anyway")
	}
}

func TestRemoveUnknownIDIsNoop(t *testing.T) {
	p := newTestPool(t)
	svc := New()
	if err := svc.Start(context.Background(), p); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		svc.Stop()
		p.Shutdown()
	}()

	if err := svc.Remove(9999); err != nil {
		t.Fatalf("Remove unknown id: %v", err)
	}
}

func TestEarlierDeadlineFiresFirstEvenWhenScheduledSecond(t *testing.T) {
	p := newTestPool(t)
	svc := New()
	if err := svc.Start(context.Background(), p); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		svc.Stop()
		p.Shutdown()
	}()

	var mu chanLog
	mu.init()

	if _, err := svc.Schedule(ShortTerm, Relative, 80*time.Millisecond, func(any) { mu.log("slow") }, nil, nil, pool.Medium); err != nil {
		t.Fatalf("Schedule slow: %v", err)
	}
	if _, err := svc.Schedule(ShortTerm, Relative, 10*time.Millisecond, func(any) { mu.log("fast") }, nil, nil, pool.Medium); err != nil {
		t.Fatalf("Schedule fast: %v", err)
	}

	order := mu.waitN(t, 2, time.Second)
	if order[0] != "fast" || order[1] != "slow" {
		t.Fatalf("fire order = %v, want [fast slow]", order)
	}
}

// chanLog collects ordered string events from concurrent goroutines for
// assertions in tests.
type chanLog struct {
	ch chan string
}

func (c *chanLog) init()            { c.ch = make(chan string, 16) }
func (c *chanLog) log(s string)     { c.ch <- s }
func (c *chanLog) waitN(t *testing.T, n int, timeout time.Duration) []string {
	t.Helper()
	out := make([]string, 0, n)
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case s := <-c.ch:
			out = append(out, s)
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, got %v", n, out)
		}
	}
	return out
}
