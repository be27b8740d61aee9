package lifecycle

import (
	"time"

	"github.com/bft-labs/faceshell/pkg/log"
)

// Default timings.
const (
	// DefaultProbeDelay is how long after spawning the worker the liveness
	// probe fires.
	DefaultProbeDelay = 2 * time.Second

	// DefaultShutdownTimeout bounds graceful shutdown in Stop.
	DefaultShutdownTimeout = 5 * time.Second

	// DefaultTerminateGrace is how long Stop waits for the worker after
	// forced termination before abandoning it.
	DefaultTerminateGrace = time.Second
)

// shutdownRepeatInterval is how often Stop re-issues RequestShutdown while
// waiting. A service whose Run has not yet registered its listener treats
// the first request as a no-op; repeating it closes that window.
const shutdownRepeatInterval = 100 * time.Millisecond

// Timings holds the controller's tunable durations.
type Timings struct {
	ProbeDelay      time.Duration
	ShutdownTimeout time.Duration
	TerminateGrace  time.Duration
}

// DefaultTimings returns the default timings.
func DefaultTimings() Timings {
	return Timings{
		ProbeDelay:      DefaultProbeDelay,
		ShutdownTimeout: DefaultShutdownTimeout,
		TerminateGrace:  DefaultTerminateGrace,
	}
}

// withDefaults replaces non-positive values with defaults.
func (t Timings) withDefaults() Timings {
	if t.ProbeDelay <= 0 {
		t.ProbeDelay = DefaultProbeDelay
	}
	if t.ShutdownTimeout <= 0 {
		t.ShutdownTimeout = DefaultShutdownTimeout
	}
	if t.TerminateGrace <= 0 {
		t.TerminateGrace = DefaultTerminateGrace
	}
	return t
}

// Option configures optional behavior of a Controller.
type Option func(*options)

type options struct {
	logger    log.Logger
	timings   Timings
	observers []Observer
}

func defaultOptions() options {
	return options{
		logger:  log.NewNoopLogger(),
		timings: DefaultTimings(),
	}
}

// WithLogger sets the logger. If not provided, nothing is logged.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTimings replaces all timings at once. Zero fields keep their defaults.
func WithTimings(t Timings) Option {
	return func(o *options) {
		o.timings = t
	}
}

// WithProbeDelay sets the liveness probe delay.
func WithProbeDelay(d time.Duration) Option {
	return func(o *options) {
		o.timings.ProbeDelay = d
	}
}

// WithShutdownTimeout sets how long Stop waits for a graceful exit.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timings.ShutdownTimeout = d
	}
}

// WithTerminateGrace sets how long Stop waits after forced termination.
func WithTerminateGrace(d time.Duration) Option {
	return func(o *options) {
		o.timings.TerminateGrace = d
	}
}

// WithObserver subscribes an observer before the controller is returned,
// so it sees every transition.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}
