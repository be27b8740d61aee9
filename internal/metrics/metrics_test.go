package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bft-labs/faceshell/pkg/lifecycle"
)

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func event(prev, next lifecycle.State, reason string, at time.Time) lifecycle.StatusEvent {
	return lifecycle.StatusEvent{Previous: prev, State: next, Reason: reason, Time: at}
}

func TestLifecycleMetrics_RecordsTransitions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLifecycleMetrics(reg)

	t0 := time.Unix(1700000000, 0)
	m.OnStateChanged(event(lifecycle.StateStopped, lifecycle.StateStarting, "", t0))
	m.OnStateChanged(event(lifecycle.StateStarting, lifecycle.StateRunning, "", t0.Add(2*time.Second)))
	m.OnStateChanged(event(lifecycle.StateRunning, lifecycle.StateFailed, lifecycle.ReasonRuntimeCrash, t0.Add(12*time.Second)))

	body := scrape(t, reg)
	for _, want := range []string{
		`faceshell_service_transitions_total{from="Stopped",to="Starting"} 1`,
		`faceshell_service_transitions_total{from="Running",to="Failed"} 1`,
		`faceshell_service_state{state="Failed"} 1`,
		`faceshell_service_state{state="Running"} 0`,
		`faceshell_service_failures_total{reason="service exited unexpectedly"} 1`,
		`faceshell_service_last_transition_timestamp_seconds 1.700000012e+09`,
		`faceshell_service_run_duration_seconds_sum 10`,
		`faceshell_service_run_duration_seconds_count 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q\n%s", want, body)
		}
	}
}

func TestLifecycleMetrics_InitialState(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewLifecycleMetrics(reg)

	body := scrape(t, reg)
	if !strings.Contains(body, `faceshell_service_state{state="Stopped"} 1`) {
		t.Errorf("initial state not Stopped:\n%s", body)
	}
}

func TestLifecycleMetrics_ReRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewLifecycleMetrics(reg)
	second := NewLifecycleMetrics(reg)

	second.OnStateChanged(event(lifecycle.StateStopped, lifecycle.StateStarting, "", time.Now()))
	if first.TransitionsTotal != second.TransitionsTotal {
		t.Error("second registration did not reuse the existing collector")
	}
	if !strings.Contains(scrape(t, reg), `faceshell_service_transitions_total{from="Stopped",to="Starting"} 1`) {
		t.Error("transition through re-registered metrics not exported")
	}
}

func TestLifecycleMetrics_NilSafe(t *testing.T) {
	var m *LifecycleMetrics
	m.OnStateChanged(event(lifecycle.StateStopped, lifecycle.StateStarting, "", time.Now()))

	unregistered := NewLifecycleMetrics(nil)
	unregistered.OnStateChanged(event(lifecycle.StateStopped, lifecycle.StateStarting, "", time.Now()))
}
