// Package httpservice runs an http.Handler as a lifecycle.Service.
//
// Every Run binds a fresh listener and http.Server. RequestShutdown drains
// the current server with http.Server.Shutdown; Terminate closes it with
// http.Server.Close, dropping in-flight requests.
package httpservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bft-labs/faceshell/pkg/log"
)

// Config holds listener and server settings.
type Config struct {
	// Addr is the fixed listen address, e.g. "0.0.0.0:5000".
	Addr string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	// DrainTimeout bounds http.Server.Shutdown. It should not exceed the
	// controller's shutdown timeout. SetDrainTimeout changes it later.
	DrainTimeout time.Duration
}

// DefaultConfig returns conservative server timeouts on port 5000.
func DefaultConfig() Config {
	return Config{
		Addr:              "0.0.0.0:5000",
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		DrainTimeout:      4 * time.Second,
	}
}

// run is the state of one Run call.
type run struct {
	srv       *http.Server
	stopOnce  sync.Once
	drainOnce sync.Once
	drained   chan struct{}
}

func (r *run) markDrained() {
	r.drainOnce.Do(func() { close(r.drained) })
}

// Service serves a handler on a fixed address.
type Service struct {
	cfg     Config
	handler http.Handler
	logger  log.Logger

	drain atomic.Int64

	mu   sync.Mutex
	cur  *run
	addr net.Addr
}

// New creates a Service. A nil logger discards output.
func New(cfg Config, handler http.Handler, logger log.Logger) *Service {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = def.ReadHeaderTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	s := &Service{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With(log.String("component", "httpservice")),
	}
	s.drain.Store(int64(cfg.DrainTimeout))
	return s
}

// SetDrainTimeout replaces the drain bound used by later shutdowns.
// Non-positive values are ignored.
func (s *Service) SetDrainTimeout(d time.Duration) {
	if d > 0 {
		s.drain.Store(int64(d))
	}
}

// DrainTimeout returns the current drain bound.
func (s *Service) DrainTimeout() time.Duration {
	return time.Duration(s.drain.Load())
}

// Run serves until shut down.
func (s *Service) Run() error {
	return s.RunWithReady(nil)
}

// RunWithReady binds the listener, reports ready, then serves. A bind
// failure is returned before ready is called.
func (s *Service) RunWithReady(ready func()) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}

	r := &run{
		srv: &http.Server{
			Handler:           s.handler,
			ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
			ReadTimeout:       s.cfg.ReadTimeout,
			WriteTimeout:      s.cfg.WriteTimeout,
			IdleTimeout:       s.cfg.IdleTimeout,
		},
		drained: make(chan struct{}),
	}

	s.mu.Lock()
	s.cur = r
	s.addr = ln.Addr()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.cur == r {
			s.cur = nil
		}
		s.mu.Unlock()
	}()

	s.logger.Info("listening", log.String("addr", ln.Addr().String()))
	if ready != nil {
		ready()
	}

	err = r.srv.Serve(ln)
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	// Serve returns as soon as shutdown begins; wait for the drain.
	<-r.drained
	return nil
}

// RequestShutdown starts a graceful drain of the current server. It returns
// immediately and is a no-op when nothing is serving or a drain is already
// underway.
func (s *Service) RequestShutdown() {
	s.mu.Lock()
	r := s.cur
	s.mu.Unlock()
	if r == nil {
		return
	}

	r.stopOnce.Do(func() {
		go func() {
			defer r.markDrained()
			ctx, cancel := context.WithTimeout(context.Background(), s.DrainTimeout())
			defer cancel()
			if err := r.srv.Shutdown(ctx); err != nil {
				s.logger.Warn("graceful shutdown incomplete", log.Err(err))
			}
		}()
	})
}

// Terminate closes the current server and all its connections.
func (s *Service) Terminate() error {
	s.mu.Lock()
	r := s.cur
	s.mu.Unlock()
	if r == nil {
		return nil
	}
	defer r.markDrained()
	return r.srv.Close()
}

// Addr returns the address bound by the most recent Run, or nil.
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
