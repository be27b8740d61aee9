// Package procservice runs an external backend process as a
// lifecycle.Service.
//
// Each Run starts a fresh process in its own process group.
// RequestShutdown sends the group an interrupt; Terminate kills the group,
// so workers the backend forked go down with it. Output lines are
// forwarded to the logger.
package procservice

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bft-labs/faceshell/pkg/log"
)

// Config describes the backend process.
type Config struct {
	Command string
	Args    []string
	Dir     string
	Env     []string

	// ReadyAddr, when set, is dialed until it accepts a TCP connection;
	// the first success reports the service ready. Without it readiness is
	// left to the controller's probe.
	ReadyAddr string

	// ReadyPoll is the dial interval for ReadyAddr. Default 100ms.
	ReadyPoll time.Duration

	// OutputDrain bounds how long Run keeps reading output after the
	// process exits while something else still holds its stdout or
	// stderr. Default 1s.
	OutputDrain time.Duration
}

// run is the state of one Run call.
type run struct {
	cmd       *exec.Cmd
	stopOnce  sync.Once
	requested bool
	exited    chan struct{}
}

// Service supervises one backend process at a time.
type Service struct {
	cfg    Config
	logger log.Logger

	mu  sync.Mutex
	cur *run
}

// New creates a Service. A nil logger discards output.
func New(cfg Config, logger log.Logger) (*Service, error) {
	if cfg.Command == "" {
		return nil, errors.New("procservice: command is required")
	}
	if cfg.ReadyPoll <= 0 {
		cfg.ReadyPoll = 100 * time.Millisecond
	}
	if cfg.OutputDrain <= 0 {
		cfg.OutputDrain = time.Second
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Service{
		cfg:    cfg,
		logger: logger.With(log.String("component", "procservice"), log.String("command", cfg.Command)),
	}, nil
}

// Run starts the process and waits for it.
func (s *Service) Run() error {
	return s.RunWithReady(nil)
}

// RunWithReady starts the process and waits for it, reporting ready once
// ReadyAddr accepts connections.
func (s *Service) RunWithReady(ready func()) error {
	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	cmd.Dir = s.cfg.Dir
	if len(s.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = s.cfg.OutputDrain

	stdout := newLineWriter(s.logger, "stdout")
	stderr := newLineWriter(s.logger, "stderr")
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", s.cfg.Command, err)
	}

	r := &run{cmd: cmd, exited: make(chan struct{})}
	s.mu.Lock()
	s.cur = r
	s.mu.Unlock()

	s.logger.Info("backend started", log.Int("pid", cmd.Process.Pid))

	if ready != nil && s.cfg.ReadyAddr != "" {
		go s.awaitListener(r, ready)
	}

	err := cmd.Wait()
	close(r.exited)
	// Workers left behind by the leader would keep the port bound.
	if kerr := unix.Kill(-cmd.Process.Pid, unix.SIGKILL); kerr == nil {
		s.logger.Warn("killed leftover backend processes")
	}
	stdout.Flush()
	stderr.Flush()

	s.mu.Lock()
	requested := r.requested
	if s.cur == r {
		s.cur = nil
	}
	s.mu.Unlock()

	if requested {
		s.logger.Info("backend stopped", log.String("state", cmd.ProcessState.String()))
		return nil
	}
	if err != nil && !errors.Is(err, exec.ErrWaitDelay) {
		return fmt.Errorf("backend exited: %w", err)
	}
	return nil
}

func (s *Service) awaitListener(r *run, ready func()) {
	t := time.NewTicker(s.cfg.ReadyPoll)
	defer t.Stop()
	for {
		conn, err := net.DialTimeout("tcp", s.cfg.ReadyAddr, s.cfg.ReadyPoll)
		if err == nil {
			conn.Close()
			ready()
			return
		}
		select {
		case <-r.exited:
			return
		case <-t.C:
		}
	}
}

// RequestShutdown interrupts the current process group once. It returns
// immediately and is a no-op when no process is running.
func (s *Service) RequestShutdown() {
	s.mu.Lock()
	r := s.cur
	if r != nil {
		r.requested = true
	}
	s.mu.Unlock()
	if r == nil {
		return
	}

	r.stopOnce.Do(func() {
		if err := signalGroup(r, unix.SIGINT); err != nil {
			s.logger.Warn("interrupt failed", log.Err(err))
		}
	})
}

// Terminate kills the current process group.
func (s *Service) Terminate() error {
	s.mu.Lock()
	r := s.cur
	if r != nil {
		r.requested = true
	}
	s.mu.Unlock()
	if r == nil {
		return nil
	}
	if err := signalGroup(r, unix.SIGKILL); err != nil {
		return fmt.Errorf("kill backend: %w", err)
	}
	return nil
}

// signalGroup sends sig to every process in the run's group. A group that
// is already gone is not an error.
func signalGroup(r *run, sig unix.Signal) error {
	select {
	case <-r.exited:
		return nil
	default:
	}
	err := unix.Kill(-r.cmd.Process.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
