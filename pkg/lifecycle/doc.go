// Package lifecycle supervises an embedded network service from a
// supervisor goroutine.
//
// A Controller owns a single Service. Start spawns a worker goroutine that
// runs the service's blocking Run method; Stop asks the service to shut down
// and waits for the worker, escalating to forced termination after a
// timeout. Every transition is reported to subscribed observers as an
// immutable StatusEvent, delivered on a dispatcher goroutine so observers
// never run on the worker.
//
// # Usage
//
//	ctrl, err := lifecycle.NewController(svc,
//	    lifecycle.WithLogger(logger),
//	    lifecycle.WithShutdownTimeout(5*time.Second),
//	)
//	if err != nil {
//	    return err
//	}
//	defer ctrl.Close()
//
//	ctrl.Subscribe(lifecycle.ObserverFunc(func(ev lifecycle.StatusEvent) {
//	    ui.Enqueue(ev)
//	}))
//
//	if err := ctrl.Start(); errors.Is(err, lifecycle.ErrAlreadyRunning) {
//	    // nothing to do
//	}
//
// # State Machine
//
// Valid state transitions:
//   - Stopped -> Starting
//   - Starting -> Running, Failed, StopRequested
//   - Running -> StopRequested, Failed
//   - StopRequested -> Stopped, Failed
//   - Failed -> Starting
//
// # Startup Detection
//
// Most services have no synchronous "ready" signal, so a fixed delay after
// spawning the worker the controller checks whether the worker is still
// alive and, if so, reports Running. This is a heuristic: a service that
// dies right after the probe is reported Running and then Failed. Services
// implementing ReadySignaler are promoted to Running as soon as they report
// ready; the probe remains as a fallback.
//
// # Forced Termination
//
// When graceful shutdown exceeds the timeout, services implementing
// Terminator are terminated; in-flight requests are dropped. Go cannot kill
// a goroutine, so a worker that ignores both signals is abandoned: the
// controller forgets it and ignores its eventual exit.
package lifecycle
