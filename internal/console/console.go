// Package console is the interactive front end of the shell. It renders
// status events as a coloured status line and turns typed commands into
// controller calls, all on the goroutine that calls Run.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/bft-labs/faceshell/pkg/lifecycle"
	"github.com/bft-labs/faceshell/pkg/log"
)

// Controller is the subset of *lifecycle.Controller the console drives.
type Controller interface {
	Start() error
	Stop() error
	CurrentState() lifecycle.Status
}

// Options configures a Console.
type Options struct {
	In  io.Reader
	Out io.Writer

	// Port is shown in the Running label.
	Port int

	// Color forces colour on or off. When nil it is enabled for terminals.
	Color *bool

	// RestartOnFailure restarts the service after a startup error or crash,
	// waiting an exponentially growing delay between attempts.
	RestartOnFailure bool
	RestartInitial   time.Duration
	RestartMax       time.Duration

	Logger log.Logger
}

// Console is a lifecycle.Observer with a command loop.
type Console struct {
	ctrl   Controller
	in     io.Reader
	out    io.Writer
	port   int
	color  bool
	logger log.Logger

	restart bool
	backoff *backoff

	events chan lifecycle.StatusEvent
	done   chan struct{}
}

// New creates a console driving ctrl. Subscribe it to the controller before
// calling Run.
func New(ctrl Controller, opts Options) *Console {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.RestartInitial <= 0 {
		opts.RestartInitial = time.Second
	}
	if opts.RestartMax <= 0 {
		opts.RestartMax = 30 * time.Second
	}
	color := DetectColor(opts.Out)
	if opts.Color != nil {
		color = *opts.Color
	}
	return &Console{
		ctrl:    ctrl,
		in:      opts.In,
		out:     opts.Out,
		port:    opts.Port,
		color:   color,
		logger:  opts.Logger.With(log.String("component", "console")),
		restart: opts.RestartOnFailure,
		backoff: newBackoff(opts.RestartInitial, opts.RestartMax),
		events:  make(chan lifecycle.StatusEvent, 64),
		done:    make(chan struct{}),
	}
}

// DetectColor reports whether w is a terminal that should get colour.
// NO_COLOR disables it.
func DetectColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// OnStateChanged implements lifecycle.Observer. It hands the event to the
// Run goroutine and drops it once Run has returned.
func (c *Console) OnStateChanged(ev lifecycle.StatusEvent) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Run renders the current status, then processes events and commands until
// ctx is done or the user quits. End of input does not stop the loop.
func (c *Console) Run(ctx context.Context) error {
	defer close(c.done)

	lines := make(chan string)
	go c.readLines(ctx, lines)

	c.render(c.ctrl.CurrentState())
	fmt.Fprintln(c.out, `Type "help" for commands.`)

	var (
		retry   *time.Timer
		retryCh <-chan time.Time
	)
	cancelRetry := func() {
		if retry != nil {
			retry.Stop()
			retry, retryCh = nil, nil
		}
	}
	defer cancelRetry()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-c.events:
			c.render(ev.Status())
			switch {
			case ev.State == lifecycle.StateRunning:
				c.backoff.reset()
			case c.shouldRestart(ev) && retry == nil:
				d := c.backoff.next()
				fmt.Fprintf(c.out, "Restarting in %s\n", d.Round(time.Millisecond))
				c.logger.Info("scheduling restart", log.Duration("delay", d), log.String("status", ev.Status().String()))
				retry = time.NewTimer(d)
				retryCh = retry.C
			}

		case <-retryCh:
			retry, retryCh = nil, nil
			if err := c.ctrl.Start(); err != nil {
				c.logger.Debug("restart skipped", log.Err(err))
			}

		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			switch cmd := strings.ToLower(strings.TrimSpace(line)); cmd {
			case "":
			case "start":
				cancelRetry()
				c.report("start", c.ctrl.Start())
			case "stop":
				cancelRetry()
				c.report("stop", c.ctrl.Stop())
			case "restart":
				cancelRetry()
				if c.ctrl.CurrentState().State.CanStop() {
					if err := c.ctrl.Stop(); err != nil {
						c.report("stop", err)
						continue
					}
				}
				c.report("start", c.ctrl.Start())
			case "status":
				c.render(c.ctrl.CurrentState())
			case "pause":
				c.logger.Info("application paused")
			case "resume":
				c.logger.Info("application resumed")
			case "help", "?":
				c.help()
			case "quit", "exit", "q":
				return nil
			default:
				fmt.Fprintf(c.out, "unknown command %q\n", cmd)
			}
		}
	}
}

func (c *Console) shouldRestart(ev lifecycle.StatusEvent) bool {
	if !c.restart || ev.State != lifecycle.StateFailed {
		return false
	}
	return ev.Reason == lifecycle.ReasonStartupError || ev.Reason == lifecycle.ReasonRuntimeCrash
}

func (c *Console) readLines(ctx context.Context, lines chan<- string) {
	defer close(lines)
	sc := bufio.NewScanner(c.in)
	for sc.Scan() {
		select {
		case lines <- sc.Text():
		case <-ctx.Done():
			return
		}
	}
}

func (c *Console) render(st lifecycle.Status) {
	v := Present(st, c.port)
	label := v.Label
	if c.color {
		label = v.Color.ansi() + label + ansiReset
	}
	fmt.Fprintf(c.out, "%s  [start:%s stop:%s]\n", label, onOff(v.StartEnabled), onOff(v.StopEnabled))
}

func (c *Console) report(cmd string, err error) {
	if err != nil {
		fmt.Fprintf(c.out, "%s: %v\n", cmd, err)
	}
}

func (c *Console) help() {
	fmt.Fprintln(c.out, strings.TrimSpace(`
Commands:
  start    start the server
  stop     stop the server
  restart  stop, then start the server
  status   show the server status
  pause    mark the application paused
  resume   mark the application resumed
  quit     stop the server and exit`))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
