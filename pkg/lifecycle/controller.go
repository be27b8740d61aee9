package lifecycle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bft-labs/faceshell/pkg/log"
)

// Common lifecycle errors.
var (
	ErrAlreadyRunning  = errors.New("lifecycle: already running")
	ErrNotRunning      = errors.New("lifecycle: not running")
	ErrShutdownTimeout = errors.New("lifecycle: shutdown timeout")
	ErrClosed          = errors.New("lifecycle: controller closed")
	ErrNilService      = errors.New("lifecycle: nil service")
)

// worker is one Run invocation. err is written before done is closed.
type worker struct {
	id    string
	done  chan struct{}
	err   error
	probe *time.Timer

	// abandoned is set, under the controller lock, when Stop gave up on a
	// worker that had not exited.
	abandoned bool
}

func (w *worker) exited() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Controller supervises one Service. All methods are safe for concurrent
// use.
type Controller struct {
	svc    Service
	logger log.Logger

	mu      sync.Mutex
	status  Status
	worker  *worker
	timings Timings
	seq     uint64
	subs    []*Subscription
	closed  bool

	// abandoned counts workers given up on by Stop that are still in Run.
	abandoned int

	// closeDone is closed when the first Close call has finished.
	closeDone chan struct{}

	// stopping is closed when the Stop call that owns StopRequested returns.
	stopping chan struct{}
}

// NewController creates a controller in StateStopped.
func NewController(svc Service, opts ...Option) (*Controller, error) {
	if svc == nil {
		return nil, ErrNilService
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Controller{
		svc:     svc,
		logger:  o.logger,
		status:  Status{State: StateStopped},
		timings: o.timings.withDefaults(),
	}
	for _, obs := range o.observers {
		c.Subscribe(obs)
	}
	return c, nil
}

// CurrentState returns a snapshot of the current status. It never waits on
// the worker.
func (c *Controller) CurrentState() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Timings returns the timings currently in effect.
func (c *Controller) Timings() Timings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timings
}

// SetTimings replaces the timings. A probe that is already scheduled and a
// Stop that is already waiting keep the values they started with.
func (c *Controller) SetTimings(t Timings) {
	t = t.withDefaults()
	c.mu.Lock()
	c.timings = t
	c.mu.Unlock()

	c.logger.Info("timings updated",
		log.Duration("probe_delay", t.ProbeDelay),
		log.Duration("shutdown_timeout", t.ShutdownTimeout),
		log.Duration("terminate_grace", t.TerminateGrace),
	)
}

// Subscribe registers an observer for all subsequent transitions.
func (c *Controller) Subscribe(obs Observer) *Subscription {
	s := newSubscription(c, obs, c.logger)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		s.drain()
		return s
	}
	c.subs = append(c.subs, s)
	return s
}

func (c *Controller) unsubscribe(s *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, sub := range c.subs {
		if sub == s {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			return
		}
	}
}

// Start launches the service on a new worker goroutine and returns without
// waiting for it. It returns ErrAlreadyRunning, with no side effect, unless
// the controller is Stopped or Failed.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if !c.status.State.CanStart() {
		return ErrAlreadyRunning
	}

	if c.abandoned > 0 {
		c.logger.Warn("starting while an abandoned worker is still running",
			log.Int("abandoned", c.abandoned))
	}

	w := &worker{
		id:   uuid.NewString(),
		done: make(chan struct{}),
	}
	w.probe = time.AfterFunc(c.timings.ProbeDelay, func() { c.probe(w) })
	c.worker = w
	c.transitionLocked(StateStarting, "", "", w.id)

	go c.runWorker(w)
	return nil
}

// Stop asks the service to shut down and blocks until the worker exits or
// the shutdown timeout elapses. On timeout the service is force-terminated
// if it supports it, the controller moves to Failed("shutdown timeout") and
// ErrShutdownTimeout is returned. Stop returns ErrNotRunning unless the
// controller is Starting or Running.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.status.State.CanStop() {
		c.mu.Unlock()
		return ErrNotRunning
	}
	w := c.worker
	t := c.timings
	w.probe.Stop()
	stopping := make(chan struct{})
	c.stopping = stopping
	c.transitionLocked(StateStopRequested, "", "", w.id)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.stopping = nil
		c.mu.Unlock()
		close(stopping)
	}()

	if c.awaitShutdown(w, t.ShutdownTimeout) {
		if w.err != nil {
			c.logger.Debug("service returned error during shutdown",
				log.String("run_id", w.id), log.Err(w.err))
		}
		c.mu.Lock()
		c.releaseLocked(w)
		c.transitionLocked(StateStopped, "", "", w.id)
		c.mu.Unlock()
		return nil
	}

	detail := c.forceTerminate(w, t)

	c.mu.Lock()
	if !w.exited() {
		w.abandoned = true
		c.abandoned++
	}
	c.releaseLocked(w)
	c.transitionLocked(StateFailed, ReasonShutdownTimeout, detail, w.id)
	c.mu.Unlock()
	return ErrShutdownTimeout
}

// Close stops the service if it is running, then delivers any queued events
// and stops every dispatcher. Start fails with ErrClosed afterwards. Later
// and concurrent calls wait for the first to finish and return nil. Close
// must not be called from inside an observer callback.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		done := c.closeDone
		c.mu.Unlock()
		<-done
		return nil
	}
	c.closed = true
	c.closeDone = make(chan struct{})
	done := c.closeDone
	c.mu.Unlock()
	defer close(done)

	var err error
	if stopErr := c.Stop(); stopErr != nil && !errors.Is(stopErr, ErrNotRunning) {
		err = stopErr
	}

	c.mu.Lock()
	inFlight := c.stopping
	c.mu.Unlock()
	if inFlight != nil {
		<-inFlight
	}

	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, s := range subs {
		s.drain()
	}
	for _, s := range subs {
		<-s.done
	}
	return err
}

// awaitShutdown requests shutdown and waits for the worker. It reports
// whether the worker exited within timeout.
func (c *Controller) awaitShutdown(w *worker, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	repeat := time.NewTicker(shutdownRepeatInterval)
	defer repeat.Stop()

	c.requestShutdown(w)
	for {
		select {
		case <-w.done:
			return true
		case <-repeat.C:
			c.requestShutdown(w)
		case <-deadline.C:
			return false
		}
	}
}

func (c *Controller) requestShutdown(w *worker) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("RequestShutdown panicked",
				log.String("run_id", w.id), log.String("panic", fmt.Sprint(r)))
		}
	}()
	c.svc.RequestShutdown()
}

// forceTerminate escalates after a shutdown timeout and returns the
// diagnostic text for the Failed event.
func (c *Controller) forceTerminate(w *worker, t Timings) string {
	detail := fmt.Sprintf("graceful shutdown exceeded %s", t.ShutdownTimeout)

	term, ok := c.svc.(Terminator)
	if !ok {
		c.logger.Warn("service cannot be terminated, abandoning worker",
			log.String("run_id", w.id), log.Duration("timeout", t.ShutdownTimeout))
		return detail + "; worker abandoned"
	}

	c.logger.Warn("shutdown timeout, forcing termination; in-flight requests are dropped",
		log.String("run_id", w.id), log.Duration("timeout", t.ShutdownTimeout))
	if err := c.terminate(term); err != nil {
		c.logger.Error("terminate failed", log.String("run_id", w.id), log.Err(err))
	}

	grace := time.NewTimer(t.TerminateGrace)
	defer grace.Stop()
	select {
	case <-w.done:
		return detail + "; worker terminated"
	case <-grace.C:
		c.logger.Warn("worker still alive after termination, abandoning",
			log.String("run_id", w.id), log.Duration("grace", t.TerminateGrace))
		return detail + "; worker abandoned"
	}
}

func (c *Controller) terminate(term Terminator) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("terminate panic: %v", r)
		}
	}()
	return term.Terminate()
}

func (c *Controller) runWorker(w *worker) {
	defer func() {
		close(w.done)
		c.workerExited(w)
	}()
	w.err = c.invoke(w)
}

// invoke runs the service, turning a panic into an error so nothing crosses
// the worker boundary except through events.
func (c *Controller) invoke(w *worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("service panic: %v", r)
		}
	}()
	if rs, ok := c.svc.(ReadySignaler); ok {
		var once sync.Once
		return rs.RunWithReady(func() {
			once.Do(func() { c.markReady(w) })
		})
	}
	return c.svc.Run()
}

// probe is the liveness check scheduled by Start.
func (c *Controller) probe(w *worker) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.worker != w || c.status.State != StateStarting {
		return
	}
	if w.exited() {
		c.releaseLocked(w)
		c.transitionLocked(StateFailed, ReasonStartupError, exitText(w.err), w.id)
		return
	}
	c.logger.Debug("liveness probe: worker alive", log.String("run_id", w.id))
	c.transitionLocked(StateRunning, "", "", w.id)
}

func (c *Controller) markReady(w *worker) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.worker != w || c.status.State != StateStarting {
		return
	}
	w.probe.Stop()
	c.logger.Debug("service reported ready", log.String("run_id", w.id))
	c.transitionLocked(StateRunning, "", "", w.id)
}

func (c *Controller) workerExited(w *worker) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w.abandoned {
		w.abandoned = false
		c.abandoned--
		c.logger.Info("abandoned worker exited", log.String("run_id", w.id), log.Err(w.err))
	}

	if c.worker != w {
		c.logger.Debug("ignoring exit of released worker",
			log.String("run_id", w.id), log.Err(w.err))
		return
	}

	switch c.status.State {
	case StateStarting:
		c.releaseLocked(w)
		c.transitionLocked(StateFailed, ReasonStartupError, exitText(w.err), w.id)
	case StateRunning:
		c.releaseLocked(w)
		c.transitionLocked(StateFailed, ReasonRuntimeCrash, exitText(w.err), w.id)
	default:
		// StopRequested: Stop is waiting on w.done and owns the transition.
	}
}

// releaseLocked drops the controller's reference to w.
func (c *Controller) releaseLocked(w *worker) {
	if c.worker != w {
		return
	}
	w.probe.Stop()
	c.worker = nil
}

// transitionLocked records a transition and queues the event for every
// subscriber. Queuing under the lock keeps delivery order identical to
// transition order.
func (c *Controller) transitionLocked(to State, reason, errText, runID string) {
	prev := c.status.State
	c.status = Status{State: to, Reason: reason, Error: errText}
	c.seq++

	ev := StatusEvent{
		Seq:      c.seq,
		RunID:    runID,
		Previous: prev,
		State:    to,
		Reason:   reason,
		Error:    errText,
		Time:     time.Now(),
	}
	for _, s := range c.subs {
		s.enqueue(ev)
	}

	fields := []log.Field{
		log.String("from", prev.String()),
		log.String("to", to.String()),
		log.String("run_id", runID),
	}
	if reason != "" {
		fields = append(fields, log.String("reason", reason))
	}
	if errText != "" {
		fields = append(fields, log.String("detail", errText))
	}
	if to == StateFailed {
		c.logger.Warn("state transition", fields...)
		return
	}
	c.logger.Info("state transition", fields...)
}

func exitText(err error) string {
	if err == nil {
		return "service exited"
	}
	return err.Error()
}
