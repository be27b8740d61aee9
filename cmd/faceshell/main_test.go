package main

import (
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bft-labs/faceshell/internal/adapters/httpservice"
	"github.com/bft-labs/faceshell/internal/adapters/procservice"
	"github.com/bft-labs/faceshell/internal/cliconfig"
	"github.com/bft-labs/faceshell/pkg/lifecycle"
	"github.com/bft-labs/faceshell/pkg/log"
)

type idleService struct{ stop chan struct{} }

func (s *idleService) Run() error       { <-s.stop; return nil }
func (s *idleService) RequestShutdown() {}

func TestDialAddr(t *testing.T) {
	tests := []struct {
		listen string
		want   string
	}{
		{"0.0.0.0:5000", "127.0.0.1:5000"},
		{":5000", "127.0.0.1:5000"},
		{"[::]:5000", "127.0.0.1:5000"},
		{"192.168.1.4:8080", "192.168.1.4:8080"},
		{"bad", ""},
	}
	for _, tt := range tests {
		if got := dialAddr(tt.listen); got != tt.want {
			t.Errorf("dialAddr(%q) = %q, want %q", tt.listen, got, tt.want)
		}
	}
}

func TestNewService_Modes(t *testing.T) {
	cfg := cliconfig.DefaultConfig()
	svc, err := newService(cfg, nil, nil, log.NewNoopLogger())
	if err != nil {
		t.Fatalf("newService(http) error = %v", err)
	}
	if _, ok := svc.(*httpservice.Service); !ok {
		t.Errorf("http mode built %T", svc)
	}

	cfg.Mode = cliconfig.ModeProcess
	cfg.BackendCmd = "python3"
	svc, err = newService(cfg, nil, nil, log.NewNoopLogger())
	if err != nil {
		t.Fatalf("newService(process) error = %v", err)
	}
	if _, ok := svc.(*procservice.Service); !ok {
		t.Errorf("process mode built %T", svc)
	}
}

func TestReloader(t *testing.T) {
	logger, err := log.NewZerolog(log.Options{Output: io.Discard, Level: "info"})
	if err != nil {
		t.Fatal(err)
	}
	ctrl, err := lifecycle.NewController(&idleService{stop: make(chan struct{})})
	if err != nil {
		t.Fatal(err)
	}
	defer ctrl.Close()

	flagged := cliconfig.DefaultConfig()
	flagged.ProbeDelay = time.Second
	src := configSource{flagged: flagged, changed: map[string]bool{"probe-delay": true}}

	apply := reloader(src, logger, ctrl, nil)
	apply(cliconfig.FileConfig{
		LogLevel:        "debug",
		ProbeDelay:      "7s",
		ShutdownTimeout: "9s",
	})

	if logger.Level() != zerolog.DebugLevel {
		t.Errorf("level = %v, want debug", logger.Level())
	}
	got := ctrl.Timings()
	if got.ProbeDelay != time.Second {
		t.Errorf("ProbeDelay = %v, want 1s (flag wins)", got.ProbeDelay)
	}
	if got.ShutdownTimeout != 9*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 9s", got.ShutdownTimeout)
	}

	// An invalid reload changes nothing.
	apply(cliconfig.FileConfig{LogLevel: "loud", ShutdownTimeout: "1s"})
	if logger.Level() != zerolog.DebugLevel {
		t.Errorf("level after rejected reload = %v", logger.Level())
	}
	if ctrl.Timings().ShutdownTimeout != 9*time.Second {
		t.Errorf("ShutdownTimeout after rejected reload = %v", ctrl.Timings().ShutdownTimeout)
	}
}

func TestReloader_RemovedKeysFallBack(t *testing.T) {
	t.Setenv("FACESHELL_SHUTDOWN_TIMEOUT", "")
	t.Setenv("FACESHELL_LOG_LEVEL", "")
	logger, err := log.NewZerolog(log.Options{Output: io.Discard, Level: "info"})
	if err != nil {
		t.Fatal(err)
	}
	ctrl, err := lifecycle.NewController(&idleService{stop: make(chan struct{})})
	if err != nil {
		t.Fatal(err)
	}
	defer ctrl.Close()

	src := configSource{flagged: cliconfig.DefaultConfig(), changed: map[string]bool{}}
	apply := reloader(src, logger, ctrl, nil)

	apply(cliconfig.FileConfig{LogLevel: "debug", ShutdownTimeout: "9s"})
	if ctrl.Timings().ShutdownTimeout != 9*time.Second {
		t.Fatalf("ShutdownTimeout = %v, want 9s", ctrl.Timings().ShutdownTimeout)
	}

	apply(cliconfig.FileConfig{})
	if got := ctrl.Timings().ShutdownTimeout; got != lifecycle.DefaultShutdownTimeout {
		t.Errorf("ShutdownTimeout after key removed = %v, want default %v", got, lifecycle.DefaultShutdownTimeout)
	}
	if logger.Level() != zerolog.InfoLevel {
		t.Errorf("level after key removed = %v, want info", logger.Level())
	}
}

func TestReloader_UpdatesDrainTimeout(t *testing.T) {
	t.Setenv("FACESHELL_SHUTDOWN_TIMEOUT", "")
	t.Setenv("FACESHELL_LOG_LEVEL", "")
	logger, err := log.NewZerolog(log.Options{Output: io.Discard, Level: "info"})
	if err != nil {
		t.Fatal(err)
	}
	ctrl, err := lifecycle.NewController(&idleService{stop: make(chan struct{})})
	if err != nil {
		t.Fatal(err)
	}
	defer ctrl.Close()

	cfg := cliconfig.DefaultConfig()
	svc, err := newService(cfg, nil, nil, log.NewNoopLogger())
	if err != nil {
		t.Fatal(err)
	}
	hs := svc.(*httpservice.Service)
	if hs.DrainTimeout() != drainTimeout(cfg.ShutdownTimeout) {
		t.Fatalf("initial drain = %v", hs.DrainTimeout())
	}

	src := configSource{flagged: cfg, changed: map[string]bool{}}
	reloader(src, logger, ctrl, svc)(cliconfig.FileConfig{ShutdownTimeout: "1s"})

	if got, want := hs.DrainTimeout(), 800*time.Millisecond; got != want {
		t.Errorf("drain after reload = %v, want %v", got, want)
	}
}

func TestDrainTimeout(t *testing.T) {
	def := httpservice.DefaultConfig().DrainTimeout
	tests := []struct {
		shutdown time.Duration
		want     time.Duration
	}{
		{10 * time.Second, def},
		{5 * time.Second, 4 * time.Second},
		{time.Second, 800 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := drainTimeout(tt.shutdown); got != tt.want {
			t.Errorf("drainTimeout(%v) = %v, want %v", tt.shutdown, got, tt.want)
		}
	}
}
