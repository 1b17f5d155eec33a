package config

import (
	"fmt"
	"regexp"
	"strings"
)

// Instance names become part of filenames, so keep them to a safe set.
var validName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

var validLogFormats = map[string]bool{
	"json": true, "text": true,
}

// Validate checks the config for semantic errors and returns all of them.
func Validate(cfg *Config) []error {
	var errs []error

	if cfg.Master.Name != "" && !validName.MatchString(cfg.Master.Name) {
		errs = append(errs, fmt.Errorf("master.name: must match [A-Za-z0-9_-], got %q", cfg.Master.Name))
	}

	if cfg.Master.Workers < 0 {
		errs = append(errs, fmt.Errorf("master.workers: must be >= 0, got %d", cfg.Master.Workers))
	}

	if !validLogLevels[strings.ToLower(cfg.Master.LogLevel)] {
		errs = append(errs, fmt.Errorf("master.log_level: must be debug, info, warn, or error, got %q", cfg.Master.LogLevel))
	}

	if !validLogFormats[strings.ToLower(cfg.Master.LogFormat)] {
		errs = append(errs, fmt.Errorf("master.log_format: must be json or text, got %q", cfg.Master.LogFormat))
	}

	if cfg.Metrics.Enabled && strings.TrimSpace(cfg.Metrics.Listen) == "" {
		errs = append(errs, fmt.Errorf("metrics.listen: required when metrics are enabled"))
	}

	return errs
}
