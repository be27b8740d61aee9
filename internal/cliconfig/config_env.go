package cliconfig

import (
	"os"
	"strings"
)

// ApplyEnvConfig applies configuration from environment variables (FACESHELL_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("listen-addr", os.Getenv("FACESHELL_LISTEN_ADDR"), &cfg.ListenAddr)
	s.setString("mode", os.Getenv("FACESHELL_MODE"), &cfg.Mode)
	s.setString("backend-cmd", os.Getenv("FACESHELL_BACKEND_CMD"), &cfg.BackendCmd)
	s.setStrings("backend-arg", strings.Fields(os.Getenv("FACESHELL_BACKEND_ARGS")), &cfg.BackendArgs)
	s.setString("backend-url", os.Getenv("FACESHELL_BACKEND_URL"), &cfg.BackendURL)
	s.setString("data-dir", os.Getenv("FACESHELL_DATA_DIR"), &cfg.DataDir)
	s.setString("model-file", os.Getenv("FACESHELL_MODEL_FILE"), &cfg.ModelFile)
	s.setString("lock-file", os.Getenv("FACESHELL_LOCK_FILE"), &cfg.LockFile)
	s.setString("log-level", os.Getenv("FACESHELL_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-format", os.Getenv("FACESHELL_LOG_FORMAT"), &cfg.LogFormat)

	if err := s.setDuration("probe-delay", os.Getenv("FACESHELL_PROBE_DELAY"), &cfg.ProbeDelay); err != nil {
		return err
	}
	if err := s.setDuration("shutdown-timeout", os.Getenv("FACESHELL_SHUTDOWN_TIMEOUT"), &cfg.ShutdownTimeout); err != nil {
		return err
	}
	if err := s.setDuration("terminate-grace", os.Getenv("FACESHELL_TERMINATE_GRACE"), &cfg.TerminateGrace); err != nil {
		return err
	}
	if err := s.setDuration("restart-max-backoff", os.Getenv("FACESHELL_RESTART_MAX_BACKOFF"), &cfg.RestartMaxBackoff); err != nil {
		return err
	}

	s.setBoolFromString("autostart", os.Getenv("FACESHELL_AUTOSTART"), &cfg.Autostart)
	s.setBoolFromString("restart-on-failure", os.Getenv("FACESHELL_RESTART_ON_FAILURE"), &cfg.RestartOnFailure)
	s.setBoolFromString("metrics", os.Getenv("FACESHELL_METRICS"), &cfg.Metrics)
	s.setBoolFromString("watch-config", os.Getenv("FACESHELL_WATCH_CONFIG"), &cfg.WatchConfig)

	return nil
}
