package pool

import "time"

// Priority is the scheduling class of a pool job.
type Priority int

const (
	// Low is the lowest scheduling priority; low jobs age into Medium
	// after Attr.MaxIdleTime of waiting.
	Low Priority = iota
	// Medium jobs age into High after Attr.StarvationTime of waiting.
	Medium
	// High is the highest scheduling priority.
	High
)

// String renders the priority for logging.
func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// Func is a unit of work submitted to the pool. Workers run Func on the
// job's arg and reset their scheduling priority to Medium once it returns.
type Func func(arg any)

// FreeFunc disposes of a job's argument. It is invoked exactly once per
// accepted job, whether the job ran, was drained on shutdown, or was
// reclaimed some other way.
type FreeFunc func(arg any)

// Job is a unit of scheduled work together with its disposer, priority,
// and bookkeeping fields assigned at enqueue time.
type Job struct {
	Func     Func
	Arg      any
	FreeFunc FreeFunc
	Priority Priority

	requestTime time.Time
	jobID       int64
}

// JobID returns the monotonically increasing id assigned to the job at
// enqueue time.
func (j *Job) JobID() int64 { return j.jobID }

// RequestTime returns the enqueue timestamp.
func (j *Job) RequestTime() time.Time { return j.requestTime }

func (j *Job) free() {
	if j == nil || j.FreeFunc == nil {
		return
	}
	j.FreeFunc(j.Arg)
}
