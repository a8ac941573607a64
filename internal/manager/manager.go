// Package manager implements the Artifact Manager: the policy layer
// that decides, per artifact fingerprint, whether to reuse a cached
// build or invoke a blueprint's build hook, gated so at most one
// build of a given fingerprint runs at a time regardless of how many
// scheduler goroutines ask for it concurrently.
package manager

import (
	"context"
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/manila-build/manila/internal/blueprint"
	"github.com/manila-build/manila/internal/cache"
	"github.com/manila-build/manila/internal/fingerprint"
	"github.com/manila-build/manila/internal/model"
	"github.com/manila-build/manila/internal/tracing"
)

// ExitKind is the closed result set of BuildFromDependencies.
type ExitKind int

const (
	ExitSuccess ExitKind = iota
	ExitCached
	ExitFailed
)

// BuildExitCode is the sum-type result of BuildFromDependencies.
// Success and Cached both mean the output is present at ArtifactRoot;
// Success additionally carries the blueprint-reported built file list
// so the caller can compute an ArtifactOutput and write the cache
// entry — that write is deliberately the caller's responsibility, not
// the manager's, per the single-flight contract.
type BuildExitCode struct {
	Kind         ExitKind
	Fingerprint  string
	ArtifactRoot string
	BuiltFiles   []string // relative to ArtifactRoot, Success only
	Reason       string   // Failed only
	Err          error    // Failed only
}

// CacheReader is the subset of the Artifact Cache the manager
// consults. Both cache.Local and cache.Remote satisfy it.
type CacheReader interface {
	IsCached(fingerprint string) bool
	MostRecentOutputForProject(project string) (*model.ArtifactOutput, error)
	ArtifactsDir() string
}

// ProjectLookup resolves a project name to its fully-resolved Project
// (artifacts already closed over their dependencies), for handing to
// a blueprint's Consume hook.
type ProjectLookup func(name string) *model.Project

// Manager is the Artifact Manager. It is safe for concurrent use by
// many scheduler goroutines; Gates and the set of fingerprints it has
// built are its only shared mutable state beyond what CacheReader and
// blueprint.Registry already guard themselves.
type Manager struct {
	Cache       CacheReader
	Registry    *blueprint.Registry
	Materialize fingerprint.SourceSetHasher
	Projects    ProjectLookup

	gates *Gates
	built sync.Map // fingerprints this Manager has built successfully
}

// New constructs a Manager. materialize resolves a SourceSet into its
// concrete file list (the out-of-scope glob helper, per
// internal/fingerprint); projects resolves a dependency's declaring
// project for its Consume hook.
func New(cacheReader CacheReader, registry *blueprint.Registry, materialize fingerprint.SourceSetHasher, projects ProjectLookup) *Manager {
	return &Manager{
		Cache:       cacheReader,
		Registry:    registry,
		Materialize: materialize,
		Projects:    projects,
		gates:       NewGates(),
	}
}

// BuildFromDependencies implements the eleven-step algorithm: fast
// path, single-flight acquisition, re-check under lock, stale
// invalidation, dependency consumption, and the blueprint's build
// hook. bp is the resolved blueprint for artifact.BlueprintType;
// project is artifact's own declaring project; cfg is the build
// configuration in effect.
func (m *Manager) BuildFromDependencies(ctx context.Context, bp blueprint.Blueprint, artifact *model.Artifact, project *model.Project, cfg model.BuildConfig, invalidateCache bool) (BuildExitCode, error) {
	fp, err := m.fingerprintClosure(artifact, cfg)
	if err != nil {
		return BuildExitCode{}, err
	}

	root := cache.ArtifactRoot(m.Cache.ArtifactsDir(), cfg, project.Name, artifact.Name, fp)

	// Step 3: fast path, no lock.
	if code, hit := m.checkCached(fp, root, invalidateCache); hit {
		return code, nil
	}

	// Step 4: single-flight acquisition.
	mu := m.gates.Acquire(fp)
	mu.Lock()
	defer m.gates.Release(fp, mu)

	// Step 5: re-check under lock — a concurrent builder may have
	// finished between steps 3 and 4.
	if code, hit := m.checkCached(fp, root, invalidateCache); hit {
		return code, nil
	}
	// The caller writes the cache entry only after the gate is released,
	// so a waiter also accepts a root this Manager has already built.
	if _, done := m.built.Load(fp); done && !invalidateCache {
		if _, statErr := os.Stat(root); statErr == nil {
			return BuildExitCode{Kind: ExitCached, Fingerprint: fp, ArtifactRoot: root}, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return BuildExitCode{}, &model.CancelledError{ExecutableID: artifact.ExecutableID()}
	}

	// Step 6: stale invalidation.
	if invalidateCache {
		if _, statErr := os.Stat(root); statErr == nil {
			if err := os.RemoveAll(root); err != nil {
				return BuildExitCode{}, &model.IoError{Op: "remove-stale", Path: root, Err: err}
			}
		}
	}

	// Step 7: create artifact_root fresh.
	if err := os.MkdirAll(root, 0o755); err != nil {
		return BuildExitCode{}, &model.IoError{Op: "mkdir", Path: root, Err: err}
	}

	// Step 8: consume dependencies.
	if err := m.consumeDependencies(ctx, bp, artifact, root); err != nil {
		m.cleanupOnFailure(root)
		return BuildExitCode{}, err
	}

	if err := ctx.Err(); err != nil {
		m.cleanupOnFailure(root)
		return BuildExitCode{}, &model.CancelledError{ExecutableID: artifact.ExecutableID()}
	}

	// Step 9: invoke the blueprint's build hook.
	ctx, span := tracing.StartActionSpan(ctx, artifact.ExecutableID(), 0, "blueprint_build")
	builtFiles, err := bp.Build(ctx, root, project, cfg)
	span.End()
	if err != nil {
		m.cleanupOnFailure(root)
		return BuildExitCode{
			Kind:         ExitFailed,
			Fingerprint:  fp,
			ArtifactRoot: root,
			Reason:       "blueprint build hook failed",
			Err:          err,
		}, &model.BuildFailedError{Artifact: artifact.ExecutableID(), Reason: "blueprint build hook failed", Err: err}
	}

	// Step 10 (cache write) and step 11 (gate release, via defer
	// above) are the caller's and Gates' responsibility respectively.
	m.built.Store(fp, struct{}{})
	return BuildExitCode{
		Kind:         ExitSuccess,
		Fingerprint:  fp,
		ArtifactRoot: root,
		BuiltFiles:   builtFiles,
	}, nil
}

// checkCached implements steps 3 and 5, which are textually
// identical: the output counts as usable only when both the on-disk
// root and the cache index agree, and invalidation was not requested.
func (m *Manager) checkCached(fp, root string, invalidateCache bool) (BuildExitCode, bool) {
	if invalidateCache {
		return BuildExitCode{}, false
	}
	if _, err := os.Stat(root); err != nil {
		return BuildExitCode{}, false
	}
	if !m.Cache.IsCached(fp) {
		return BuildExitCode{}, false
	}
	return BuildExitCode{Kind: ExitCached, Fingerprint: fp, ArtifactRoot: root}, true
}

func (m *Manager) consumeDependencies(ctx context.Context, bp blueprint.Blueprint, artifact *model.Artifact, root string) error {
	for _, dep := range artifact.Dependencies {
		output, err := m.Cache.MostRecentOutputForProject(dep.ProjectRef)
		if err != nil {
			return err
		}

		consumer := m.Registry.Consumer(bp.Name())
		if consumer == nil {
			return &model.IncompatibleDependencyError{Blueprint: bp.Name(), DependencyType: dep.BlueprintType}
		}

		var depProject *model.Project
		if m.Projects != nil {
			depProject = m.Projects(dep.ProjectRef)
		}

		ref := model.ArtifactRef{Project: dep.ProjectRef, Artifact: dep.Name}
		if err := consumer.Consume(ctx, ref, *output, depProject); err != nil {
			return &model.IncompatibleDependencyError{Blueprint: bp.Name(), DependencyType: dep.BlueprintType}
		}

		log.Debug().Str("artifact", artifact.ExecutableID()).Str("dependency", ref.Project+"/"+ref.Artifact).Str("root", root).Msg("dependency consumed")
	}
	return nil
}

// cleanupOnFailure removes a partially-written artifact_root so the
// "cached ⇒ complete on disk" invariant never observes a half-built
// tree, whether the failure came from a build error or a cancellation.
func (m *Manager) cleanupOnFailure(root string) {
	if err := os.RemoveAll(root); err != nil {
		log.Warn().Str("root", root).Err(err).Msg("failed to clean up partially-written artifact root")
	}
}

func (m *Manager) fingerprintClosure(artifact *model.Artifact, cfg model.BuildConfig) (string, error) {
	own, err := fingerprint.FingerprintArtifact(artifact, cfg, m.Materialize)
	if err != nil {
		return "", err
	}
	if len(artifact.Dependencies) == 0 {
		return own, nil
	}

	depFingerprints := make([]string, 0, len(artifact.Dependencies))
	for _, dep := range artifact.Dependencies {
		depFp, err := m.fingerprintClosure(dep, cfg)
		if err != nil {
			return "", err
		}
		depFingerprints = append(depFingerprints, depFp)
	}
	return fingerprint.FingerprintWithDependencies(own, depFingerprints), nil
}
