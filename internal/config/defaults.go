package config

// ApplyDefaults fills in zero-value fields with their default values.
func ApplyDefaults(cfg *Config) {
	if cfg.Master.Workers == 0 {
		cfg.Master.Workers = 1
	}
	if cfg.Master.LogLevel == "" {
		cfg.Master.LogLevel = "info"
	}
	if cfg.Master.LogFormat == "" {
		cfg.Master.LogFormat = "json"
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = "127.0.0.1:9723"
	}
}
