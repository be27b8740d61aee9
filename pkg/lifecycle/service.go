package lifecycle

// Service is the embedded network service supervised by a Controller.
//
// The same Service value is run again after every Start, so implementations
// must support repeated Run calls. Calls do not overlap, with one exception:
// when Stop gives up on a Run that ignored both RequestShutdown and
// Terminate, that call is abandoned, and a later Start calls Run again while
// it is still running. Implement Terminator to keep that from happening.
type Service interface {
	// Run occupies the calling goroutine until the service stops or fails.
	// A nil return after RequestShutdown is a clean stop.
	Run() error

	// RequestShutdown asks the running service to stop gracefully. It must
	// not block, and calling it when nothing is running, or more than once,
	// is a no-op.
	RequestShutdown()
}

// ReadySignaler is implemented by services that know when they are actually
// serving, for instance once their listener is bound. The controller calls
// RunWithReady instead of Run; ready may be invoked at most once, from any
// goroutine.
type ReadySignaler interface {
	Service
	RunWithReady(ready func()) error
}

// Terminator is implemented by services that can be stopped unconditionally.
// Terminate is only used after graceful shutdown timed out and is lossy:
// in-flight work is dropped, not drained.
type Terminator interface {
	Terminate() error
}
