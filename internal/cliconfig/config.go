package cliconfig

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bft-labs/faceshell/pkg/lifecycle"
	"github.com/bft-labs/faceshell/pkg/log"
)

// Service modes.
const (
	ModeHTTP    = "http"
	ModeProcess = "process"
)

// DefaultListenAddr matches the port the recognition backend has always used.
const DefaultListenAddr = "0.0.0.0:5000"

// Config holds CLI configuration for faceshell.
type Config struct {
	ListenAddr string
	Mode       string

	BackendCmd  string
	BackendArgs []string
	BackendURL  string

	DataDir   string
	ModelFile string
	LockFile  string

	ProbeDelay      time.Duration
	ShutdownTimeout time.Duration
	TerminateGrace  time.Duration

	LogLevel  string
	LogFormat string

	Autostart         bool
	RestartOnFailure  bool
	RestartMaxBackoff time.Duration
	Metrics           bool
	WatchConfig       bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		ListenAddr:        DefaultListenAddr,
		Mode:              ModeHTTP,
		DataDir:           "known_faces",
		ModelFile:         "haarcascade_frontalface_default.xml",
		ProbeDelay:        lifecycle.DefaultProbeDelay,
		ShutdownTimeout:   lifecycle.DefaultShutdownTimeout,
		TerminateGrace:    lifecycle.DefaultTerminateGrace,
		LogLevel:          "info",
		LogFormat:         log.FormatConsole,
		RestartMaxBackoff: 30 * time.Second,
		Metrics:           true,
		WatchConfig:       true,
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("listen-addr %q: %w", c.ListenAddr, err)
	}

	switch c.Mode {
	case "":
		c.Mode = ModeHTTP
	case ModeHTTP, ModeProcess:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeHTTP, ModeProcess, c.Mode)
	}
	if c.Mode == ModeProcess && c.BackendCmd == "" {
		return fmt.Errorf("backend-cmd is required in process mode")
	}

	if c.BackendURL != "" {
		u, err := url.Parse(c.BackendURL)
		if err != nil {
			return fmt.Errorf("backend-url: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("backend-url %q must be absolute", c.BackendURL)
		}
		// Ensure no trailing slash
		c.BackendURL = strings.TrimRight(c.BackendURL, "/")
	}

	if c.DataDir == "" {
		return fmt.Errorf("data-dir is required")
	}

	if c.ProbeDelay <= 0 {
		return fmt.Errorf("probe delay must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	if c.TerminateGrace < 0 {
		return fmt.Errorf("terminate grace must not be negative")
	}
	if c.RestartOnFailure && c.RestartMaxBackoff <= 0 {
		return fmt.Errorf("restart max backoff must be positive")
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "":
		c.LogFormat = log.FormatConsole
	case log.FormatConsole, log.FormatJSON:
	default:
		return fmt.Errorf("log format must be %q or %q, got %q", log.FormatConsole, log.FormatJSON, c.LogFormat)
	}

	return nil
}

// Timings returns the controller timings described by c.
func (c Config) Timings() lifecycle.Timings {
	return lifecycle.Timings{
		ProbeDelay:      c.ProbeDelay,
		ShutdownTimeout: c.ShutdownTimeout,
		TerminateGrace:  c.TerminateGrace,
	}
}

// Port returns the numeric port of ListenAddr, or 0 if it has none.
func (c Config) Port() int {
	_, p, err := net.SplitHostPort(c.ListenAddr)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return 0
	}
	return n
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setStrings sets a slice value if not empty and flag not changed.
func (s *configSetter) setStrings(flag string, value []string, dst *[]string) {
	if len(value) == 0 || s.changed[flag] {
		return
	}
	*dst = append([]string(nil), value...)
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
// Used for environment variables that come as strings.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
