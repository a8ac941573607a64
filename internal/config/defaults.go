package config

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "manila.toml"

// DefaultWorkspaceRoot is the default workspace root (before tilde expansion).
const DefaultWorkspaceRoot = "."

// DefaultProfile is the default build profile.
const DefaultProfile = "Debug"

// DefaultPlatform is the default target platform.
const DefaultPlatform = "linux"

// DefaultArchitecture is the default target architecture.
const DefaultArchitecture = "x64"

// DefaultCacheIndexPath is the default location of the cache index file.
const DefaultCacheIndexPath = "~/.manila/cache/index.json"

// DefaultArtifactsDir is the default root of the on-disk artifact layout.
const DefaultArtifactsDir = "~/.manila/cache/artifacts"

// DefaultFrontCapacity is the default in-memory LRU capacity fronting the cache index.
const DefaultFrontCapacity = 1024

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultTracingExporter is the default tracing exporter type.
const DefaultTracingExporter = "stdout"

// DefaultTracingEndpoint is the default OTLP collector endpoint.
const DefaultTracingEndpoint = "localhost:4317"

// DefaultTracingServiceName is the default service name for traces.
const DefaultTracingServiceName = "manila"

// DefaultTracingSampleRate is the default sampling rate (1.0 = 100%).
const DefaultTracingSampleRate = 1.0

// DefaultDiagnosticsAddress is the default bind address for the
// diagnostics server.
const DefaultDiagnosticsAddress = "127.0.0.1:7717"

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// ValidPlatforms lists the recognized target platforms.
var ValidPlatforms = []string{"windows", "linux", "macos"}

// ValidArchitectures lists the recognized target architectures.
var ValidArchitectures = []string{"x86", "x64", "arm64", "any"}

// ValidTracingExporters lists the supported OpenTelemetry exporters.
var ValidTracingExporters = []string{"stdout", "otlp-grpc", "otlp-http"}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Workspace: WorkspaceSection{
			Root: DefaultWorkspaceRoot,
		},
		Build: BuildSection{
			Profile:      DefaultProfile,
			Platform:     DefaultPlatform,
			Architecture: DefaultArchitecture,
		},
		Cache: CacheSection{
			IndexPath:     DefaultCacheIndexPath,
			ArtifactsDir:  DefaultArtifactsDir,
			FrontCapacity: DefaultFrontCapacity,
			Host:          "",
			Key:           "",
		},
		Logging: LoggingSection{
			Level: DefaultLogLevel,
		},
		Tracing: TracingSection{
			Enabled:     false,
			Exporter:    DefaultTracingExporter,
			Endpoint:    DefaultTracingEndpoint,
			ServiceName: DefaultTracingServiceName,
			SampleRate:  DefaultTracingSampleRate,
			Insecure:    false,
		},
		Metrics: MetricsSection{
			Enabled: true,
		},
		Diagnostics: DiagnosticsSection{
			Enabled: false,
			Address: DefaultDiagnosticsAddress,
		},
	}
}
