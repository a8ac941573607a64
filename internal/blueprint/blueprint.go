// Package blueprint defines the plugin-facing build contract and an
// in-process registry of Blueprint implementations keyed by name.
package blueprint

import (
	"context"

	"github.com/manila-build/manila/internal/model"
)

// Blueprint is the build-side half of a plugin component: given a
// fresh artifact_root, it materializes the artifact's output. Every
// blueprint must implement Build; Consume is optional and detected by
// capability (a type assertion against Consumer), exactly as the
// artifact manager's dependency-consumption step requires.
type Blueprint interface {
	// Name returns the blueprint type identifier artifacts declare in
	// their blueprint_type field (e.g. "go-binary", "go-library").
	Name() string

	// Build materializes artifact under artifactRoot for the given
	// project and config, returning the built file paths relative to
	// artifactRoot on success.
	Build(ctx context.Context, artifactRoot string, project *model.Project, cfg model.BuildConfig) ([]string, error)
}

// Consumer is implemented by blueprints capable of consuming another
// artifact's output as a build-time dependency (e.g. linking against a
// library's produced archive). A blueprint lacking this interface
// cannot satisfy a declared dependency — the manager surfaces
// *model.IncompatibleDependencyError when that happens.
type Consumer interface {
	Consume(ctx context.Context, dependency model.ArtifactRef, output model.ArtifactOutput, dependencyProject *model.Project) error
}
