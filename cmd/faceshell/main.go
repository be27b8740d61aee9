package main

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/faceshell/internal/adapters/httpservice"
	"github.com/bft-labs/faceshell/internal/adapters/procservice"
	"github.com/bft-labs/faceshell/internal/cliconfig"
	"github.com/bft-labs/faceshell/internal/configwatch"
	"github.com/bft-labs/faceshell/internal/console"
	"github.com/bft-labs/faceshell/internal/metrics"
	"github.com/bft-labs/faceshell/internal/preflight"
	"github.com/bft-labs/faceshell/pkg/lifecycle"
	"github.com/bft-labs/faceshell/pkg/log"
)

const longHelp = `Supervise the face-recognition backend from an interactive shell.

faceshell starts the backend on a worker, reports whether it came up, and
handles stop, crash and restart without leaving stray listeners behind.
The backend is either served in-process (mode "http", proxying to
backend_url) or run as a child process (mode "process", backend_cmd).

Configure via $HOME/.faceshell/config.toml, FACESHELL_* variables or flags;
flags win over the environment, the environment over the file.`

var exampleUsage = strings.TrimSpace(`
  faceshell --autostart
  faceshell --mode process --backend-cmd python3 --backend-arg app.py
  faceshell check --data-dir ./known_faces
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	boot, _ := log.NewZerolog(log.Options{Output: os.Stderr})

	root := &cobra.Command{
		Use:           "faceshell",
		Short:         "Supervise the face-recognition backend",
		Long:          longHelp,
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := loadConfig(cmd, cfgPath, &cfg)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, src)
		},
	}

	check := &cobra.Command{
		Use:   "check",
		Short: "Run the startup checks and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(cmd, cfgPath, &cfg); err != nil {
				return err
			}
			results := preflight.RunAll(cfg)
			for _, r := range results {
				mark := "ok"
				switch {
				case !r.Passed && r.Optional:
					mark = "warn"
				case !r.Passed:
					mark = "FAIL"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-4s %-16s %s\n", mark, r.Name, r.Detail)
			}
			if r, failed := preflight.FirstFailure(results); failed {
				return fmt.Errorf("%s: %s", r.Name, r.Detail)
			}
			return nil
		},
	}
	root.AddCommand(check)

	// Flags
	f := root.PersistentFlags()
	f.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.faceshell/config.toml)")
	f.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "address the backend listens on")
	f.StringVar(&cfg.Mode, "mode", cfg.Mode, `how the backend runs: "http" (in-process) or "process" (child process)`)
	f.StringVar(&cfg.BackendCmd, "backend-cmd", cfg.BackendCmd, "backend command (process mode)")
	f.StringArrayVar(&cfg.BackendArgs, "backend-arg", cfg.BackendArgs, "backend argument, repeatable (process mode)")
	f.StringVar(&cfg.BackendURL, "backend-url", cfg.BackendURL, "recognition endpoint to proxy to (http mode)")
	f.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory of known faces; must exist and be writable")
	f.StringVar(&cfg.ModelFile, "model-file", cfg.ModelFile, "face detection model; missing is a warning")
	f.StringVar(&cfg.LockFile, "lock-file", cfg.LockFile, "single-instance lock file (default: $TMPDIR/faceshell.lock)")
	f.DurationVar(&cfg.ProbeDelay, "probe-delay", cfg.ProbeDelay, "delay before the startup liveness check")
	f.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "graceful shutdown limit before forcing termination")
	f.DurationVar(&cfg.TerminateGrace, "terminate-grace", cfg.TerminateGrace, "wait after forced termination")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	f.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (console, json)")
	f.BoolVar(&cfg.Autostart, "autostart", cfg.Autostart, "start the backend immediately")
	f.BoolVar(&cfg.RestartOnFailure, "restart-on-failure", cfg.RestartOnFailure, "restart the backend after a startup error or crash")
	f.DurationVar(&cfg.RestartMaxBackoff, "restart-max-backoff", cfg.RestartMaxBackoff, "longest delay between restarts")
	f.BoolVar(&cfg.Metrics, "metrics", cfg.Metrics, "serve Prometheus metrics on /metrics (http mode)")
	f.BoolVar(&cfg.WatchConfig, "watch-config", cfg.WatchConfig, "reload log level and timings when the config file changes")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		boot.Error("faceshell", log.Err(err))
		stop()
		os.Exit(1)
	}
}

// configSource records where the running configuration came from so a
// reload can rebuild it.
type configSource struct {
	// flagged is the default config with only command-line flags applied.
	flagged cliconfig.Config
	changed map[string]bool
	file    string
}

// loadConfig applies the config file, then FACESHELL_* variables, onto cfg
// without touching values set by flags, and validates the result.
func loadConfig(cmd *cobra.Command, cfgPath string, cfg *cliconfig.Config) (configSource, error) {
	src := configSource{file: cfgPath, flagged: *cfg}
	if src.file == "" {
		src.file = cliconfig.DefaultConfigPath()
	}

	// Build set of changed flags
	src.changed = map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { src.changed[f.Name] = true })

	if src.file != "" && cliconfig.FileExists(src.file) {
		fc, err := cliconfig.LoadFileConfig(src.file)
		if err != nil {
			return configSource{}, fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(cfg, fc, src.changed); err != nil {
			return configSource{}, err
		}
	} else if cfgPath != "" {
		return configSource{}, fmt.Errorf("config file %s not found", cfgPath)
	}

	if err := cliconfig.ApplyEnvConfig(cfg, src.changed); err != nil {
		return configSource{}, err
	}
	if err := cfg.Validate(); err != nil {
		return configSource{}, err
	}
	return src, nil
}

func run(ctx context.Context, cfg cliconfig.Config, src configSource) error {
	logger, err := log.NewZerolog(log.Options{Output: os.Stderr, Format: cfg.LogFormat, Level: cfg.LogLevel})
	if err != nil {
		return err
	}
	logger.Info("configuration",
		log.String("listen_addr", cfg.ListenAddr),
		log.String("mode", cfg.Mode),
		log.String("data_dir", cfg.DataDir),
		log.Duration("probe_delay", cfg.ProbeDelay),
		log.Duration("shutdown_timeout", cfg.ShutdownTimeout),
	)

	results := preflight.RunAll(cfg)
	for _, r := range results {
		if !r.Passed && r.Optional {
			logger.Warn("preflight warning", log.String("check", r.Name), log.String("detail", r.Detail))
		}
	}
	if r, failed := preflight.FirstFailure(results); failed {
		return fmt.Errorf("preflight %s: %s", r.Name, r.Detail)
	}

	lock := preflight.NewInstanceLock(cfg.LockFile)
	if err := lock.Lock(); err != nil {
		return err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release instance lock", log.Err(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	lifecycleMetrics := metrics.NewLifecycleMetrics(reg)

	var ctrl *lifecycle.Controller
	svc, err := newService(cfg, reg, func() lifecycle.Status { return ctrl.CurrentState() }, logger)
	if err != nil {
		return err
	}

	ctrl, err = lifecycle.NewController(svc,
		lifecycle.WithLogger(logger),
		lifecycle.WithTimings(cfg.Timings()),
		lifecycle.WithObserver(lifecycleMetrics),
	)
	if err != nil {
		return fmt.Errorf("create controller: %w", err)
	}

	con := console.New(ctrl, console.Options{
		Port:             cfg.Port(),
		RestartOnFailure: cfg.RestartOnFailure,
		RestartMax:       cfg.RestartMaxBackoff,
		Logger:           logger,
	})
	ctrl.Subscribe(con)

	if cfg.WatchConfig && src.file != "" && cliconfig.FileExists(src.file) {
		w, err := configwatch.New(configwatch.Config{
			Path:     src.file,
			Logger:   logger,
			OnChange: reloader(src, logger, ctrl, svc),
		})
		if err == nil {
			err = w.Start(ctx)
		}
		if err != nil {
			logger.Warn("config watcher disabled", log.Err(err))
		} else {
			defer w.Stop()
		}
	}

	if cfg.Autostart {
		if err := ctrl.Start(); err != nil {
			logger.Warn("autostart failed", log.Err(err))
		}
	}

	runErr := con.Run(ctx)

	logger.Info("shutting down", log.String("status", ctrl.CurrentState().String()))
	if err := ctrl.Close(); err != nil {
		return fmt.Errorf("stop backend: %w", err)
	}
	return runErr
}

// newService builds the supervised backend for cfg.Mode.
func newService(cfg cliconfig.Config, gatherer prometheus.Gatherer, status func() lifecycle.Status, logger log.Logger) (lifecycle.Service, error) {
	switch cfg.Mode {
	case cliconfig.ModeProcess:
		svc, err := procservice.New(procservice.Config{
			Command:   cfg.BackendCmd,
			Args:      cfg.BackendArgs,
			ReadyAddr: dialAddr(cfg.ListenAddr),
		}, logger)
		if err != nil {
			return nil, err
		}
		return svc, nil

	default:
		opts := httpservice.RouterOptions{Status: status, Logger: logger}
		if cfg.Metrics {
			opts.Gatherer = gatherer
		}
		if cfg.BackendURL != "" {
			u, err := url.Parse(cfg.BackendURL)
			if err != nil {
				return nil, fmt.Errorf("backend-url: %w", err)
			}
			opts.Backend = u
		}

		hc := httpservice.DefaultConfig()
		hc.Addr = cfg.ListenAddr
		hc.DrainTimeout = drainTimeout(cfg.ShutdownTimeout)
		return httpservice.New(hc, httpservice.NewRouter(opts), logger), nil
	}
}

// dialAddr turns a listen address into one that can be dialed locally.
func dialAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return ""
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

// drainTimeout bounds the HTTP drain below the controller's shutdown
// timeout, leaving it time to force termination after the drain.
func drainTimeout(shutdown time.Duration) time.Duration {
	def := httpservice.DefaultConfig().DrainTimeout
	if drain := shutdown * 4 / 5; drain < def {
		return drain
	}
	return def
}

// drainSetter is implemented by services whose drain bound follows the
// shutdown timeout.
type drainSetter interface {
	SetDrainTimeout(time.Duration)
}

// reloader rebuilds the configuration from defaults, flags, the reloaded
// file and the environment, so keys removed from the file fall back.
// Only the log level and timings take effect without a restart.
func reloader(src configSource, logger *log.ZerologAdapter, ctrl *lifecycle.Controller, svc lifecycle.Service) func(cliconfig.FileConfig) {
	return func(fc cliconfig.FileConfig) {
		next := src.flagged
		next.BackendArgs = append([]string(nil), src.flagged.BackendArgs...)
		if err := cliconfig.ApplyFileConfig(&next, fc, src.changed); err != nil {
			logger.Warn("config reload rejected", log.Err(err))
			return
		}
		if err := cliconfig.ApplyEnvConfig(&next, src.changed); err != nil {
			logger.Warn("config reload rejected", log.Err(err))
			return
		}
		if err := next.Validate(); err != nil {
			logger.Warn("config reload rejected", log.Err(err))
			return
		}

		if err := logger.SetLevel(next.LogLevel); err != nil {
			logger.Warn("log level not applied", log.Err(err))
		}
		ctrl.SetTimings(next.Timings())
		if ds, ok := svc.(drainSetter); ok {
			ds.SetDrainTimeout(drainTimeout(next.ShutdownTimeout))
		}
		logger.Info("config applied",
			log.String("log_level", next.LogLevel),
			log.Duration("probe_delay", next.ProbeDelay),
			log.Duration("shutdown_timeout", next.ShutdownTimeout),
			log.Duration("terminate_grace", next.TerminateGrace),
		)
	}
}
