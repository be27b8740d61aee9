package lifecycle

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bft-labs/faceshell/pkg/log"
)

// fakeService is a controllable Service. Each Run blocks until
// RequestShutdown, crash, or release is called, unless failWith or
// panicWith makes it return immediately.
type fakeService struct {
	failWith       error
	panicWith      any
	ignoreShutdown bool

	runs          atomic.Int32
	shutdownCalls atomic.Int32

	mu      sync.Mutex
	stop    chan struct{}
	crash   chan error
	release chan struct{}
}

func newFakeService() *fakeService {
	return &fakeService{}
}

func (f *fakeService) Run() error {
	f.runs.Add(1)
	if f.failWith != nil {
		return f.failWith
	}
	if f.panicWith != nil {
		panic(f.panicWith)
	}

	stop := make(chan struct{})
	crash := make(chan error, 1)
	release := make(chan struct{})
	f.mu.Lock()
	f.stop, f.crash, f.release = stop, crash, release
	f.mu.Unlock()

	select {
	case <-stop:
		return nil
	case err := <-crash:
		return err
	case <-release:
		return nil
	}
}

func (f *fakeService) RequestShutdown() {
	f.shutdownCalls.Add(1)
	if f.ignoreShutdown {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stop != nil {
		close(f.stop)
		f.stop = nil
	}
}

// crashWith makes the current Run return err.
func (f *fakeService) crashWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.crash <- err
}

// releaseRun lets the current Run return regardless of ignoreShutdown.
func (f *fakeService) releaseRun() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.release != nil {
		close(f.release)
		f.release = nil
	}
}

// waitRunning blocks until Run has registered its channels.
func (f *fakeService) waitRunning(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		ok := f.release != nil
		f.mu.Unlock()
		if ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("Run was never entered")
}

// terminableService adds Terminate to fakeService.
type terminableService struct {
	*fakeService
	terminated atomic.Int32
}

func (s *terminableService) Terminate() error {
	s.terminated.Add(1)
	s.releaseRun()
	return nil
}

// readyService reports ready as soon as Run is entered.
type readyService struct {
	*fakeService
}

func (s *readyService) RunWithReady(ready func()) error {
	ready()
	ready()
	return s.Run()
}

// recordingObserver collects events on a channel.
type recordingObserver struct {
	ch chan StatusEvent
}

func newRecorder() *recordingObserver {
	return &recordingObserver{ch: make(chan StatusEvent, 1024)}
}

func (r *recordingObserver) OnStateChanged(ev StatusEvent) {
	r.ch <- ev
}

// next returns the next event or fails after timeout.
func (r *recordingObserver) next(t *testing.T) StatusEvent {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return StatusEvent{}
	}
}

// expect reads len(states) events and checks their states in order.
func (r *recordingObserver) expect(t *testing.T, states ...State) []StatusEvent {
	t.Helper()
	events := make([]StatusEvent, 0, len(states))
	for i, want := range states {
		ev := r.next(t)
		if ev.State != want {
			t.Fatalf("event %d: state = %v, want %v (event %+v)", i, ev.State, want, ev)
		}
		events = append(events, ev)
	}
	return events
}

// quiet fails if an event arrives within d.
func (r *recordingObserver) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case ev := <-r.ch:
		t.Fatalf("unexpected event %v (%+v)", ev.State, ev)
	case <-time.After(d):
	}
}

// mockLogger implements log.Logger for testing.
type mockLogger struct{}

func (mockLogger) Debug(msg string, fields ...log.Field) {}
func (mockLogger) Info(msg string, fields ...log.Field)  {}
func (mockLogger) Warn(msg string, fields ...log.Field)  {}
func (mockLogger) Error(msg string, fields ...log.Field) {}
func (m mockLogger) With(fields ...log.Field) log.Logger { return m }

const (
	testProbeDelay      = 30 * time.Millisecond
	testShutdownTimeout = 300 * time.Millisecond
	testTerminateGrace  = 200 * time.Millisecond
)

func newTestController(t *testing.T, svc Service, opts ...Option) (*Controller, *recordingObserver) {
	t.Helper()
	rec := newRecorder()
	base := []Option{
		WithLogger(mockLogger{}),
		WithTimings(Timings{
			ProbeDelay:      testProbeDelay,
			ShutdownTimeout: testShutdownTimeout,
			TerminateGrace:  testTerminateGrace,
		}),
		WithObserver(rec),
	}
	c, err := NewController(svc, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, rec
}
