package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	ListenAddr        string   `toml:"listen_addr"`
	Mode              string   `toml:"mode"`
	BackendCmd        string   `toml:"backend_cmd"`
	BackendArgs       []string `toml:"backend_args"`
	BackendURL        string   `toml:"backend_url"`
	DataDir           string   `toml:"data_dir"`
	ModelFile         string   `toml:"model_file"`
	LockFile          string   `toml:"lock_file"`
	ProbeDelay        string   `toml:"probe_delay"`
	ShutdownTimeout   string   `toml:"shutdown_timeout"`
	TerminateGrace    string   `toml:"terminate_grace"`
	LogLevel          string   `toml:"log_level"`
	LogFormat         string   `toml:"log_format"`
	Autostart         *bool    `toml:"autostart"`
	RestartOnFailure  *bool    `toml:"restart_on_failure"`
	RestartMaxBackoff string   `toml:"restart_max_backoff"`
	Metrics           *bool    `toml:"metrics"`
	WatchConfig       *bool    `toml:"watch_config"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.faceshell/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".faceshell", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("listen-addr", fc.ListenAddr, &cfg.ListenAddr)
	s.setString("mode", fc.Mode, &cfg.Mode)
	s.setString("backend-cmd", fc.BackendCmd, &cfg.BackendCmd)
	s.setStrings("backend-arg", fc.BackendArgs, &cfg.BackendArgs)
	s.setString("backend-url", fc.BackendURL, &cfg.BackendURL)
	s.setString("data-dir", fc.DataDir, &cfg.DataDir)
	s.setString("model-file", fc.ModelFile, &cfg.ModelFile)
	s.setString("lock-file", fc.LockFile, &cfg.LockFile)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-format", fc.LogFormat, &cfg.LogFormat)

	if err := s.setDuration("probe-delay", fc.ProbeDelay, &cfg.ProbeDelay); err != nil {
		return err
	}
	if err := s.setDuration("shutdown-timeout", fc.ShutdownTimeout, &cfg.ShutdownTimeout); err != nil {
		return err
	}
	if err := s.setDuration("terminate-grace", fc.TerminateGrace, &cfg.TerminateGrace); err != nil {
		return err
	}
	if err := s.setDuration("restart-max-backoff", fc.RestartMaxBackoff, &cfg.RestartMaxBackoff); err != nil {
		return err
	}

	s.setBool("autostart", fc.Autostart, &cfg.Autostart)
	s.setBool("restart-on-failure", fc.RestartOnFailure, &cfg.RestartOnFailure)
	s.setBool("metrics", fc.Metrics, &cfg.Metrics)
	s.setBool("watch-config", fc.WatchConfig, &cfg.WatchConfig)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
