// Package metrics exports controller transitions as Prometheus metrics.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/faceshell/pkg/lifecycle"
)

const namespace = "faceshell"

var states = []lifecycle.State{
	lifecycle.StateStopped,
	lifecycle.StateStarting,
	lifecycle.StateRunning,
	lifecycle.StateStopRequested,
	lifecycle.StateFailed,
}

// LifecycleMetrics is a lifecycle.Observer recording every transition.
// All methods are nil-safe: calls on a nil *LifecycleMetrics are no-ops.
type LifecycleMetrics struct {
	// TransitionsTotal counts transitions, labeled by from and to state.
	TransitionsTotal *prometheus.CounterVec

	// State is 1 for the current state and 0 for the others.
	State *prometheus.GaugeVec

	// FailuresTotal counts entries into Failed, labeled by reason.
	FailuresTotal *prometheus.CounterVec

	// LastTransition is the unix time of the most recent transition.
	LastTransition prometheus.Gauge

	// RunDuration observes how long the service stayed Running.
	RunDuration prometheus.Histogram

	mu           sync.Mutex
	runningSince time.Time
}

// NewLifecycleMetrics creates and registers lifecycle metrics with the given
// Prometheus registerer. If reg is nil, metrics are created but not
// registered.
func NewLifecycleMetrics(reg prometheus.Registerer) *LifecycleMetrics {
	m := &LifecycleMetrics{
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "transitions_total",
			Help:      "Total number of service state transitions",
		}, []string{"from", "to"}),
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "state",
			Help:      "Current service state (1 for the active state)",
		}, []string{"state"}),
		FailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "failures_total",
			Help:      "Total number of service failures",
		}, []string{"reason"}),
		LastTransition: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "last_transition_timestamp_seconds",
			Help:      "Unix time of the last service state transition",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "run_duration_seconds",
			Help:      "Time the service spent Running before leaving that state",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10), // 1s to ~3 days
		}),
	}

	if reg != nil {
		m.TransitionsTotal = register(reg, m.TransitionsTotal)
		m.State = register(reg, m.State)
		m.FailuresTotal = register(reg, m.FailuresTotal)
		m.LastTransition = register(reg, m.LastTransition)
		m.RunDuration = register(reg, m.RunDuration)
	}

	m.setState(lifecycle.StateStopped)
	return m
}

// register registers c, reusing the existing collector when an identical
// one is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			panic(err)
		}
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	return c
}

// OnStateChanged implements lifecycle.Observer.
func (m *LifecycleMetrics) OnStateChanged(ev lifecycle.StatusEvent) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(ev.Previous.String(), ev.State.String()).Inc()
	m.setState(ev.State)
	m.LastTransition.Set(float64(ev.Time.UnixNano()) / 1e9)

	if ev.State == lifecycle.StateFailed {
		m.FailuresTotal.WithLabelValues(ev.Reason).Inc()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case ev.State == lifecycle.StateRunning:
		m.runningSince = ev.Time
	case ev.Previous == lifecycle.StateRunning && !m.runningSince.IsZero():
		m.RunDuration.Observe(ev.Time.Sub(m.runningSince).Seconds())
		m.runningSince = time.Time{}
	}
}

func (m *LifecycleMetrics) setState(current lifecycle.State) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		m.State.WithLabelValues(s.String()).Set(v)
	}
}
