package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/manila-build/manila/internal/cache"
	"github.com/manila-build/manila/internal/graph"
	"github.com/manila-build/manila/internal/manager"
	"github.com/manila-build/manila/internal/model"
	"github.com/manila-build/manila/internal/pipeline"
)

// cacheWriter is the subset of cache.Local/cache.Remote the engine
// needs beyond manager.CacheReader: writing a completed build's entry,
// flushing the index to disk, and bumping an entry's access time on a
// hit. Both concrete cache types satisfy it without modification.
type cacheWriter interface {
	manager.CacheReader
	CacheArtifact(fingerprint, project, artifact, blueprintType, root string, output model.ArtifactOutput, logCache []string, size int64)
	UpdateAccessTime(fingerprint string)
	Flush() error
}

// runNode is the scheduler.RunFunc this Engine dispatches every graph
// node through: an artifact build goes to the manager, a job goes to a
// pipeline.Chain, and a no-op is a pure no-op.
func (e *Engine) runNode(ctx context.Context, node *graph.Node) error {
	if node == nil {
		return fmt.Errorf("engine: scheduler handed a nil node")
	}

	switch node.Executable.Kind {
	case model.ExecutableArtifactBuild:
		return e.runArtifactBuild(ctx, node.Executable.Artifact)
	case model.ExecutableJob:
		return e.runJob(ctx, node.Executable.Job)
	case model.ExecutableNoOp:
		return nil
	default:
		return fmt.Errorf("engine: node %s has unknown executable kind %d", node.ID, node.Executable.Kind)
	}
}

func (e *Engine) runArtifactBuild(ctx context.Context, artifact *model.Artifact) error {
	bp := e.Registry.Lookup(artifact.BlueprintType)
	if bp == nil {
		return fmt.Errorf("engine: no blueprint registered for type %q (artifact %s)", artifact.BlueprintType, artifact.ExecutableID())
	}

	project := e.projects[artifact.ProjectRef]
	if project == nil {
		return fmt.Errorf("engine: artifact %s references unresolved project %q", artifact.ExecutableID(), artifact.ProjectRef)
	}

	cfg := e.BuildConfig()

	e.Collector.IncrementActive()
	code, err := e.Manager.BuildFromDependencies(ctx, bp, artifact, project, cfg, false)
	e.Collector.DecrementActive()
	if err != nil {
		return err
	}

	e.Collector.RecordCacheLookup(code.Kind == manager.ExitCached)

	switch code.Kind {
	case manager.ExitCached:
		e.Cache.UpdateAccessTime(code.Fingerprint)
		e.Collector.RecordBuild(artifact.BlueprintType, "cached")
		return nil

	case manager.ExitSuccess:
		output := model.ArtifactOutput{
			ArtifactRoot: code.ArtifactRoot,
			FilePaths:    absolutize(code.ArtifactRoot, code.BuiltFiles),
		}
		size, err := sumFileSizes(output.FilePaths)
		if err != nil {
			log.Warn().Str("artifact", artifact.ExecutableID()).Err(err).Msg("engine: failed to size built files, caching with size 0")
		}

		e.Cache.CacheArtifact(code.Fingerprint, project.Name, artifact.Name, artifact.BlueprintType, code.ArtifactRoot, output, artifact.LogCache, size)
		if err := e.Cache.Flush(); err != nil {
			return err
		}
		artifact.Output = &output

		if remote, ok := e.Cache.(*cache.Remote); ok {
			remote.PushArtifact(ctx, code.Fingerprint, project.Name, artifact.Name, artifact.BlueprintType, output)
		}

		e.Collector.RecordBuild(artifact.BlueprintType, "built")
		return nil

	default:
		e.Collector.RecordBuild(artifact.BlueprintType, "failed")
		return fmt.Errorf("engine: unexpected build exit kind %d for %s", code.Kind, artifact.ExecutableID())
	}
}

func (e *Engine) runJob(ctx context.Context, job *model.Job) error {
	runners := map[model.ActionKind]pipeline.Runner{
		model.ActionShell: pipeline.ShellRunner(),
		model.ActionLog:   pipeline.LogRunner(log.Logger),
	}
	chain := pipeline.NewChain(job.Actions, runners)
	return chain.Run(ctx, job.Identifier(), log.Logger)
}

// absolutize rejoins blueprint-reported relative paths against root, the
// form CacheArtifact and the zip-on-push path both expect.
func absolutize(root string, relative []string) []string {
	out := make([]string, len(relative))
	for i, r := range relative {
		out[i] = filepath.Join(root, r)
	}
	return out
}

func sumFileSizes(paths []string) (int64, error) {
	var total int64
	var firstErr error
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		total += info.Size()
	}
	return total, firstErr
}
