package pool

// OSPriority applies a best-effort OS scheduling priority to the calling
// (worker) goroutine's underlying thread. Go provides no portable API for
// per-goroutine thread priority, so this is an injectable collaborator:
// production callers may wire a platform-specific implementation (e.g. one
// built on golang.org/x/sys/unix pthread_setschedparam on Linux); tests and
// the default wiring use noOSPriority, which mirrors the original
// implementation's own tolerance of EPERM/unsupported platforms by simply
// doing nothing.
type OSPriority interface {
	// Apply sets the calling thread's priority for the given job priority.
	// It must never block and should swallow permission errors.
	Apply(p Priority)
	// Reset restores the thread to its baseline (Medium) priority.
	Reset()
}

type noOSPriority struct{}

func (noOSPriority) Apply(Priority) {}
func (noOSPriority) Reset()         {}
