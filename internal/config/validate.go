package config

import (
	"fmt"
	"strings"
)

// validate checks the Config for invalid or out-of-range values.
// It returns a combined error if any checks fail.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Workspace.Root == "" {
		errs = append(errs, "workspace.root must not be empty")
	}

	if !isValidEnum(cfg.Build.Platform, ValidPlatforms) {
		errs = append(errs, fmt.Sprintf("build.platform must be one of %v, got %q", ValidPlatforms, cfg.Build.Platform))
	}
	if !isValidEnum(cfg.Build.Architecture, ValidArchitectures) {
		errs = append(errs, fmt.Sprintf("build.architecture must be one of %v, got %q", ValidArchitectures, cfg.Build.Architecture))
	}

	if cfg.Cache.IndexPath == "" {
		errs = append(errs, "cache.index_path must not be empty")
	}
	if cfg.Cache.ArtifactsDir == "" {
		errs = append(errs, "cache.artifacts_dir must not be empty")
	}
	if cfg.Cache.FrontCapacity < 0 {
		errs = append(errs, fmt.Sprintf("cache.front_capacity must be non-negative, got %d", cfg.Cache.FrontCapacity))
	}
	if cfg.Cache.Host == "" && cfg.Cache.Key != "" {
		errs = append(errs, "cache.key is set but cache.host is empty; a bearer token requires a remote tier")
	}

	if !isValidEnum(cfg.Logging.Level, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("logging.level must be one of %v, got %q", ValidLogLevels, cfg.Logging.Level))
	}

	if cfg.Tracing.Enabled {
		if !isValidEnum(cfg.Tracing.Exporter, ValidTracingExporters) {
			errs = append(errs, fmt.Sprintf("tracing.exporter must be one of %v, got %q", ValidTracingExporters, cfg.Tracing.Exporter))
		}
		if cfg.Tracing.ServiceName == "" {
			errs = append(errs, "tracing.service_name must not be empty when tracing is enabled")
		}
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %f", cfg.Tracing.SampleRate))
	}

	if cfg.Diagnostics.Enabled && cfg.Diagnostics.Address == "" {
		errs = append(errs, "diagnostics.address must not be empty when diagnostics is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidEnum returns true if val is in the allowed list (case-insensitive).
func isValidEnum(val string, allowed []string) bool {
	lower := strings.ToLower(val)
	for _, a := range allowed {
		if strings.ToLower(a) == lower {
			return true
		}
	}
	return false
}
