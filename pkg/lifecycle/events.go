package lifecycle

import (
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/faceshell/pkg/log"
)

// StatusEvent describes one state transition. Events are values; once
// emitted they are never modified.
type StatusEvent struct {
	// Seq increases by one for every transition of a controller.
	Seq uint64
	// RunID identifies the worker the transition belongs to.
	RunID    string
	Previous State
	State    State
	// Reason is set for transitions into StateFailed.
	Reason string
	// Error is the underlying cause, if any, in human-readable form.
	Error string
	Time  time.Time
}

// Status returns the status the controller held right after this event.
func (e StatusEvent) Status() Status {
	return Status{State: e.State, Reason: e.Reason, Error: e.Error}
}

// Observer receives state transitions. OnStateChanged runs on a dispatcher
// goroutine owned by the subscription and should return quickly.
type Observer interface {
	OnStateChanged(ev StatusEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev StatusEvent)

// OnStateChanged calls f(ev).
func (f ObserverFunc) OnStateChanged(ev StatusEvent) { f(ev) }

// Subscription is one observer's delivery queue. Events are delivered in
// the order the transitions happened; the queue is unbounded so a slow
// observer never stalls the controller or the worker.
type Subscription struct {
	ctrl     *Controller
	observer Observer
	logger   log.Logger

	mu     sync.Mutex
	queue  []StatusEvent
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newSubscription(c *Controller, obs Observer, logger log.Logger) *Subscription {
	s := &Subscription{
		ctrl:     c,
		observer: obs,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go s.loop()
	return s
}

// Cancel unregisters the observer and discards undelivered events. It does
// not wait for an in-progress callback, so it is safe to call from inside
// OnStateChanged.
func (s *Subscription) Cancel() {
	if s.ctrl != nil {
		s.ctrl.unsubscribe(s)
	}
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) enqueue(ev StatusEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.signal()
}

// drain stops accepting events but delivers what is already queued.
func (s *Subscription) drain() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) loop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 {
			if s.closed {
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			<-s.wake
			s.mu.Lock()
		}
		ev := s.queue[0]
		s.queue[0] = StatusEvent{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.deliver(ev)
	}
}

func (s *Subscription) deliver(ev StatusEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("observer panicked",
				log.String("state", ev.State.String()),
				log.Uint64("seq", ev.Seq),
				log.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	s.observer.OnStateChanged(ev)
}
