package pool

import (
	"time"

	"github.com/coachpo/genacp/internal/errs"
)

// Infinite is the sentinel value for Attr.MaxThreads meaning "no cap".
const Infinite = -1

// SchedPolicy names an OS scheduling class for the pool's worker threads.
// New and SetAttr accept only the names below and report any other value
// as an InvalidPolicy-canonical error. The pool checks the name only: it
// does not apply the policy to any OS thread.
type SchedPolicy string

const (
	// SchedDefault leaves the OS default scheduling policy untouched.
	SchedDefault SchedPolicy = "default"
	// SchedRoundRobin requests a round-robin realtime policy where supported.
	SchedRoundRobin SchedPolicy = "round_robin"
	// SchedFIFO requests a FIFO realtime policy where supported.
	SchedFIFO SchedPolicy = "fifo"
)

func (p SchedPolicy) valid() bool {
	switch p {
	case "", SchedDefault, SchedRoundRobin, SchedFIFO:
		return true
	default:
		return false
	}
}

// Attr configures a Pool. New and SetAttr use the fields as given:
// zero-value fields are not replaced with defaults. DefaultAttr returns a
// complete default set.
type Attr struct {
	MinThreads     int
	MaxThreads     int // Infinite (-1) means uncapped.
	JobsPerThread  int
	MaxIdleTime    time.Duration
	StarvationTime time.Duration
	MaxJobsTotal   int
	SchedPolicy    SchedPolicy
}

// DefaultAttr returns the thread pool defaults used when an attribute set
// is not explicitly supplied, matching the conservative defaults carried
// by the original implementation's ThreadPoolAttr constructor.
func DefaultAttr() Attr {
	return Attr{
		MinThreads:     2,
		MaxThreads:     12,
		JobsPerThread:  10,
		MaxIdleTime:    10 * time.Second,
		StarvationTime: 500 * time.Millisecond,
		MaxJobsTotal:   100,
		SchedPolicy:    SchedDefault,
	}
}

func (a Attr) validate() error {
	if a.MinThreads < 0 {
		return errs.New("pool", errs.CodeInvalid, errs.WithMessage("min_threads must be >= 0"))
	}
	if a.MaxThreads != Infinite && a.MaxThreads < a.MinThreads {
		return errs.New("pool", errs.CodeInvalid, errs.WithMessage("max_threads must be >= min_threads or Infinite"))
	}
	if a.JobsPerThread <= 0 {
		return errs.New("pool", errs.CodeInvalid, errs.WithMessage("jobs_per_thread must be > 0"))
	}
	if a.MaxJobsTotal < 0 {
		return errs.New("pool", errs.CodeInvalid, errs.WithMessage("max_jobs_total must be >= 0"))
	}
	if !a.SchedPolicy.valid() {
		return errs.New("pool", errs.CodeInvalid,
			errs.WithCanonicalCode(errs.CanonicalInvalidPolicy),
			errs.WithMessage("unsupported sched_policy: "+string(a.SchedPolicy)))
	}
	return nil
}
