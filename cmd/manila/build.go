package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/manila-build/manila/internal/blueprint"
	"github.com/manila-build/manila/internal/config"
	"github.com/manila-build/manila/internal/diagnostics"
	"github.com/manila-build/manila/internal/engine"
	"github.com/manila-build/manila/internal/tracing"
	"github.com/manila-build/manila/internal/version"
	"github.com/manila-build/manila/internal/workspace"
)

func setupFlags(args []string) (cfgPath, workspacePath string, rest []string) {
	fs := flag.NewFlagSet("manila", flag.ExitOnError)
	fs.StringVar(&cfgPath, "config", "", "path to manila.toml")
	fs.StringVar(&workspacePath, "workspace", "workspace.toml", "path to workspace.toml")
	fs.Parse(args)
	return cfgPath, workspacePath, fs.Args()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// bootstrap loads configuration and the workspace manifest, registers
// the built-in blueprint, and assembles an Engine with its execution
// graph attached. Callers are responsible for calling e.Close().
func bootstrap(cfgPath, workspacePath string) (*engine.Engine, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	zerolog.SetGlobalLevel(parseLogLevel(cfg.Logging.Level))

	ws, err := workspace.Load(workspacePath)
	if err != nil {
		return nil, fmt.Errorf("loading workspace: %w", err)
	}

	registry := blueprint.NewRegistry()
	if err := registry.Register(newGenericBlueprint()); err != nil {
		return nil, fmt.Errorf("registering blueprint: %w", err)
	}

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(context.Background(), cfg.Tracing.ServiceName, version.Version, cfg.Tracing.Exporter, cfg.Tracing.Endpoint, cfg.Tracing.SampleRate, cfg.Tracing.Insecure)
		if err != nil {
			log.Warn().Err(err).Msg("tracing init failed, continuing without it")
		} else {
			defer shutdown(context.Background())
		}
	}

	e, err := engine.New(cfg, registry, globMaterialize)
	if err != nil {
		return nil, fmt.Errorf("assembling engine: %w", err)
	}

	if _, err := e.CreateExecutionGraph(ws); err != nil {
		e.Close()
		return nil, fmt.Errorf("building execution graph: %w", err)
	}

	return e, nil
}

func cmdBuild(args []string) {
	cfgPath, workspacePath, rest := setupFlags(args)
	if len(rest) < 1 {
		fmt.Fprintln(os.Stderr, "usage: manila build <target>")
		os.Exit(1)
	}
	target := rest[0]

	e, err := bootstrap(cfgPath, workspacePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "manila build: %v\n", err)
		os.Exit(1)
	}
	defer e.Close()

	if e.Config.Diagnostics.Enabled {
		srv := diagnostics.NewServer(e.Graph, e.Collector, e.Config.Diagnostics.Address, e.Config.Tracing.Enabled)
		go func() {
			if err := srv.Start(); err != nil {
				log.Warn().Err(err).Msg("diagnostics server stopped")
			}
		}()
		defer srv.Shutdown(context.Background())

		if path := config.ConfigFilePath(); path != "" {
			if watcher, err := config.Watch(path); err != nil {
				log.Warn().Err(err).Msg("config watcher unavailable")
			} else {
				watcher.OnChange(func(old, new *config.Config) {
					zerolog.SetGlobalLevel(parseLogLevel(new.Logging.Level))
				})
				defer watcher.Close()
			}
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	result, err := e.Execute(ctx, target)
	if err != nil {
		emitJSON(map[string]any{"target": target, "status": "failed", "error": err.Error()})
		os.Exit(1)
	}

	if result.FailureID != "" {
		emitJSON(map[string]any{"target": target, "status": "failed", "failed_node": result.FailureID, "completed_layers": result.CompletedLayers})
		os.Exit(1)
	}

	emitJSON(map[string]any{"target": target, "status": "success", "completed_layers": result.CompletedLayers})
}

func cmdGraph(args []string) {
	cfgPath, workspacePath, _ := setupFlags(args)

	e, err := bootstrap(cfgPath, workspacePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "manila graph: %v\n", err)
		os.Exit(1)
	}
	defer e.Close()

	fmt.Println(e.Graph.ToMermaid())
}

func cmdJobs(args []string) {
	cfgPath, workspacePath, _ := setupFlags(args)

	e, err := bootstrap(cfgPath, workspacePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "manila jobs: %v\n", err)
		os.Exit(1)
	}
	defer e.Close()

	emitJSON(e.Graph.Nodes())
}

func cmdInitConfig() {
	if err := config.InitConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "manila init-config: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("wrote", config.ConfigFilePath())
}

func emitJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
