// Package engine wires the configuration, cache, artifact manager,
// execution graph, scheduler, and blueprint registry into the single
// top-level object a workspace build runs through. It owns the
// workspace lock and is the only package that constructs the other
// core packages together.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/manila-build/manila/internal/blueprint"
	"github.com/manila-build/manila/internal/cache"
	"github.com/manila-build/manila/internal/config"
	"github.com/manila-build/manila/internal/daemon"
	"github.com/manila-build/manila/internal/fingerprint"
	"github.com/manila-build/manila/internal/graph"
	"github.com/manila-build/manila/internal/manager"
	"github.com/manila-build/manila/internal/metrics"
	"github.com/manila-build/manila/internal/model"
	"github.com/manila-build/manila/internal/scheduler"
	"github.com/manila-build/manila/internal/vault"
)

// Engine is the assembled build runtime for one workspace.
type Engine struct {
	Config    *config.Config
	Cache     cacheWriter
	Registry  *blueprint.Registry
	Manager   *manager.Manager
	Graph     *graph.Graph
	Collector *metrics.Collector

	lock     *daemon.WorkspaceLock
	remote   *cache.Remote // nil unless cfg.Cache.Host is configured
	projects map[string]*model.Project
}

// Option customizes New's assembly. Tests skip the workspace lock with
// WithoutWorkspaceLock; the remote tier is set up only when
// cfg.Cache.Host is non-empty.
type Option func(*options)

type options struct {
	skipLock bool
}

// WithoutWorkspaceLock disables the single-process workspace lock,
// for use in tests that construct many Engines against temp directories.
func WithoutWorkspaceLock() Option {
	return func(o *options) { o.skipLock = true }
}

// New assembles an Engine from cfg: it acquires the workspace lock,
// opens (and loads) the local artifact cache, optionally wraps it with
// a remote tier, and constructs the artifact manager around registry.
// materialize resolves a SourceSet's glob patterns into concrete files.
// The manager resolves a dependency's declaring project for a
// blueprint's Consume hook through the Engine's own project table, which
// CreateExecutionGraph populates.
func New(cfg *config.Config, registry *blueprint.Registry, materialize fingerprint.SourceSetHasher, opts ...Option) (*Engine, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	e := &Engine{
		Config:    cfg,
		Registry:  registry,
		Graph:     graph.New(),
		Collector: metrics.NewCollector(),
		projects:  make(map[string]*model.Project),
	}

	if !o.skipLock {
		lock, err := daemon.Acquire(cfg.Cache.ArtifactsDir)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		e.lock = lock
	}

	local, err := cache.NewLocal(cfg.Cache.IndexPath, cfg.Cache.ArtifactsDir, cfg.Cache.FrontCapacity)
	if err != nil {
		_ = e.releaseLock()
		return nil, fmt.Errorf("engine: constructing local cache: %w", err)
	}
	if err := local.Load(); err != nil {
		_ = e.releaseLock()
		return nil, fmt.Errorf("engine: loading cache index: %w", err)
	}

	e.Cache = local

	if cfg.Cache.Host != "" {
		token := cfg.Cache.Key
		if token == "" {
			if t, err := vault.New().RemoteCacheToken(); err == nil {
				token = t
			}
		}

		remote := cache.NewRemote(local, cfg.Cache.Host, token, &http.Client{Timeout: 30 * time.Second})
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := remote.CheckAvailability(ctx); err != nil {
			_ = e.releaseLock()
			return nil, fmt.Errorf("engine: %w", err)
		}

		e.remote = remote
		e.Cache = remote
	}

	e.Manager = manager.New(e.Cache, registry, materialize, e.lookupProject)

	return e, nil
}

// Close releases the workspace lock, if held.
func (e *Engine) Close() error {
	return e.releaseLock()
}

func (e *Engine) releaseLock() error {
	if e.lock == nil {
		return nil
	}
	lock := e.lock
	e.lock = nil
	return lock.Release()
}

func (e *Engine) lookupProject(name string) *model.Project {
	return e.projects[name]
}

// BuildConfig derives the model.BuildConfig the manager and fingerprint
// engine consult, from the loaded configuration's build section.
func (e *Engine) BuildConfig() model.BuildConfig {
	b := e.Config.Build
	return model.BuildConfig{
		Profile:      b.Profile,
		Platform:     model.Platform(b.Platform),
		Architecture: model.Architecture(b.Architecture),
	}
}

// CreateExecutionGraph resolves workspace's projects and artifacts into
// their full dependency closures and attaches one execution node per
// artifact build and per declared job, wiring direct dependency edges
// between them. It replaces any graph previously built by this Engine.
func (e *Engine) CreateExecutionGraph(workspace *model.WorkspaceConfig) (*graph.Graph, error) {
	projects, err := resolveWorkspace(workspace)
	if err != nil {
		return nil, err
	}

	g := graph.New()
	e.projects = make(map[string]*model.Project, len(projects))

	for _, p := range projects {
		e.projects[p.Name] = p

		for _, artifact := range p.Artifacts {
			depIDs := make([]string, 0, len(artifact.Dependencies))
			for _, dep := range artifact.Dependencies {
				depIDs = append(depIDs, dep.ExecutableID())
			}
			g.Attach(model.NewArtifactBuildExecutable(artifact), depIDs)
		}

		for i := range p.Jobs {
			job := p.Jobs[i]
			g.Attach(model.NewJobExecutable(&job), job.Dependencies)
		}
	}

	for i := range workspace.Jobs {
		job := workspace.Jobs[i]
		g.Attach(model.NewJobExecutable(&job), job.Dependencies)
	}

	e.Graph = g
	return g, nil
}

// Execute runs every layer of target's ancestor subgraph, dispatching
// artifact builds through the manager and jobs through the pipeline
// runner set, and returns the scheduler's result.
func (e *Engine) Execute(ctx context.Context, target string) (*scheduler.Result, error) {
	return scheduler.Run(ctx, e.Graph, target, e.runNode)
}
