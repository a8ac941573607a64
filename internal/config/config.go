package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use.
// If no config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration for the workspace engine.
type Config struct {
	Workspace   WorkspaceSection   `mapstructure:"workspace"   toml:"workspace"`
	Build       BuildSection       `mapstructure:"build"       toml:"build"`
	Cache       CacheSection       `mapstructure:"cache"       toml:"cache"`
	Logging     LoggingSection     `mapstructure:"logging"     toml:"logging"`
	Tracing     TracingSection     `mapstructure:"tracing"     toml:"tracing"`
	Metrics     MetricsSection     `mapstructure:"metrics"     toml:"metrics"`
	Diagnostics DiagnosticsSection `mapstructure:"diagnostics" toml:"diagnostics"`
}

// WorkspaceSection locates the workspace root the script host reads
// WorkspaceConfig/ProjectConfig from.
type WorkspaceSection struct {
	Root string `mapstructure:"root" toml:"root"`
}

// BuildSection supplies the default model.BuildConfig fields when a
// job invocation does not override them.
type BuildSection struct {
	Profile      string `mapstructure:"profile"      toml:"profile"`
	Platform     string `mapstructure:"platform"     toml:"platform"`
	Architecture string `mapstructure:"architecture" toml:"architecture"`
}

// CacheSection configures the Artifact Cache's local and optional
// remote tier. Host/Key are also settable via the bare CACHE_HOST and
// CACHE_KEY environment variables per the wire protocol's external
// interface, in addition to the MANILA_ prefixed form.
type CacheSection struct {
	IndexPath     string `mapstructure:"index_path"     toml:"index_path"`
	ArtifactsDir  string `mapstructure:"artifacts_dir"  toml:"artifacts_dir"`
	FrontCapacity int    `mapstructure:"front_capacity" toml:"front_capacity"`
	Host          string `mapstructure:"host"           toml:"host"`
	Key           string `mapstructure:"key"            toml:"key"`
}

// LoggingSection controls zerolog's global logger.
type LoggingSection struct {
	Level string `mapstructure:"level" toml:"level"`
}

// TracingSection controls OpenTelemetry distributed tracing.
type TracingSection struct {
	Enabled     bool    `mapstructure:"enabled"      toml:"enabled"`
	Exporter    string  `mapstructure:"exporter"     toml:"exporter"`     // "stdout", "otlp-grpc", "otlp-http"
	Endpoint    string  `mapstructure:"endpoint"     toml:"endpoint"`     // e.g. "localhost:4317"
	ServiceName string  `mapstructure:"service_name" toml:"service_name"` // defaults to "manila"
	SampleRate  float64 `mapstructure:"sample_rate"  toml:"sample_rate"`  // 0.0 to 1.0
	Insecure    bool    `mapstructure:"insecure"     toml:"insecure"`     // skip TLS for dev
}

// MetricsSection controls the in-process Prometheus exposition.
type MetricsSection struct {
	Enabled bool `mapstructure:"enabled" toml:"enabled"`
}

// DiagnosticsSection controls the optional read-only HTTP server.
type DiagnosticsSection struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
	Address string `mapstructure:"address" toml:"address"`
}

// Load reads configuration from disk with the following precedence:
//  1. Environment variables (MANILA_ prefix, plus the bare CACHE_HOST/
//     CACHE_KEY names the remote cache wire protocol mandates)
//  2. The file at explicitPath if non-empty
//  3. ~/.manila/manila.toml
//  4. ./manila.toml
//  5. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	setViperDefaults(v)

	v.SetEnvPrefix("MANILA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("cache.host", "CACHE_HOST")
	_ = v.BindEnv("cache.key", "CACHE_KEY")

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".manila"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("manila")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Workspace.Root = expandHome(cfg.Workspace.Root)
	cfg.Cache.IndexPath = expandHome(cfg.Cache.IndexPath)
	cfg.Cache.ArtifactsDir = expandHome(cfg.Cache.ArtifactsDir)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// InitConfig writes the default configuration file to ~/.manila/manila.toml.
// If the file already exists it is not overwritten.
func InitConfig() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".manila")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}

	cfg := DefaultConfig()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Config written to %s\n", path)
	return nil
}

// ConfigFilePath returns the path of the config file that was loaded, or
// empty if no file was found.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// setViperDefaults registers every known key with viper so that env var
// binding works for all fields even when no config file is present.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("workspace.root", d.Workspace.Root)

	v.SetDefault("build.profile", d.Build.Profile)
	v.SetDefault("build.platform", d.Build.Platform)
	v.SetDefault("build.architecture", d.Build.Architecture)

	v.SetDefault("cache.index_path", d.Cache.IndexPath)
	v.SetDefault("cache.artifacts_dir", d.Cache.ArtifactsDir)
	v.SetDefault("cache.front_capacity", d.Cache.FrontCapacity)
	v.SetDefault("cache.host", d.Cache.Host)
	v.SetDefault("cache.key", d.Cache.Key)

	v.SetDefault("logging.level", d.Logging.Level)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)

	v.SetDefault("diagnostics.enabled", d.Diagnostics.Enabled)
	v.SetDefault("diagnostics.address", d.Diagnostics.Address)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
