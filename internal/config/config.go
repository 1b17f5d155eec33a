// Package config handles loading and validating einhorn configuration.
package config

// Config is the top-level einhorn configuration.
type Config struct {
	Master  MasterConfig  `toml:"master"`
	Metrics MetricsConfig `toml:"metrics"`
}

// MasterConfig holds master-level settings.
type MasterConfig struct {
	// Name is the optional instance name. It distinguishes multiple
	// independent masters on one host via distinct default file paths.
	Name string `toml:"name"`

	// Explicit path overrides. When empty, paths are derived from Name
	// under the shared temp directory.
	SocketPath   string `toml:"socket_path"`
	LockfilePath string `toml:"lockfile_path"`
	PidfilePath  string `toml:"pidfile_path"`

	// Workers is the target number of worker processes.
	Workers int `toml:"workers"`

	// KillChildrenOnExit broadcasts a graceful stop to all children when
	// the master exits for any reason, not just signal-driven exits.
	KillChildrenOnExit bool `toml:"kill_children_on_exit"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}
