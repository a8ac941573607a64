// Package scheduler walks the layers an execution graph produces,
// dispatching each layer's nodes with maximum intra-layer parallelism
// while honoring the blocking/non-blocking discipline and propagating
// the first deterministic failure.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/manila-build/manila/internal/graph"
	"github.com/manila-build/manila/internal/model"
	"github.com/manila-build/manila/internal/tracing"
	"github.com/rs/zerolog/log"
)

// RunFunc executes a single node to completion. Implementations must
// honor ctx cancellation cooperatively: once cancellation is observed,
// finish any already-started OS-level action and return rather than
// abort it abruptly.
type RunFunc func(ctx context.Context, node *graph.Node) error

// nodeOutcome is one node's completion record, kept for deterministic
// first-failure selection.
type nodeOutcome struct {
	id    string
	start time.Time
	err   error
}

// Result summarizes a completed (or partially completed) run.
type Result struct {
	// CompletedLayers lists, per layer, the node identifiers that
	// finished (successfully or not) before the run stopped.
	CompletedLayers [][]string
	// FailureID is the identifier of the node whose error was selected
	// as the run's cause, empty on success.
	FailureID string
}

// Run executes every layer of the ancestor subgraph of target, in
// order, stopping after the first layer containing a failure. On
// success it returns a nil error. On node failure it returns a
// *model.BuildFailedError wrapping the deterministically-selected first
// failure. On context cancellation observed at a layer boundary it
// returns a *model.CancelledError.
func Run(ctx context.Context, g *graph.Graph, target string, run RunFunc) (*Result, error) {
	layers, err := g.Layers(target)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for layerIndex, layer := range layers {
		if ctx.Err() != nil {
			return result, &model.CancelledError{ExecutableID: target}
		}

		completed, failure := runLayer(ctx, g, layerIndex, layer, run)
		result.CompletedLayers = append(result.CompletedLayers, completed)

		if failure != nil {
			result.FailureID = failure.id
			return result, &model.BuildFailedError{
				Artifact: failure.id,
				Reason:   "node execution failed",
				Err:      failure.err,
			}
		}

		if ctx.Err() != nil {
			return result, &model.CancelledError{}
		}
	}

	return result, nil
}

// runLayer dispatches every node in layer concurrently, respecting the
// blocking discipline: non-blocking nodes run under a shared read lock
// (all concurrently); blocking nodes run sequentially, in declaration
// (sorted identifier) order, each under the layer's exclusive write
// lock. It returns once every node in the layer has completed, along
// with the deterministically-selected first failure (if any).
func runLayer(ctx context.Context, g *graph.Graph, layerIndex int, layer graph.Layer, run RunFunc) ([]string, *nodeOutcome) {
	ids := append([]string{}, layer...)
	sort.Strings(ids)

	var blockingIDs, nonBlockingIDs []string
	for _, id := range ids {
		node := g.Find(id)
		if node == nil {
			continue
		}
		if node.Executable.IsBlocking() {
			blockingIDs = append(blockingIDs, id)
		} else {
			nonBlockingIDs = append(nonBlockingIDs, id)
		}
	}

	var layerLock sync.RWMutex
	var wg sync.WaitGroup
	var mu sync.Mutex
	var outcomes []nodeOutcome
	var completed []string

	record := func(o nodeOutcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		completed = append(completed, o.id)
		mu.Unlock()
	}

	execute := func(id string) nodeOutcome {
		node := g.Find(id)
		start := time.Now()

		nodeCtx, span := tracing.StartExecutableSpan(ctx, id, executableKind(node))
		defer span.End()
		tracing.SetExecutableAttributes(nodeCtx, "", node != nil && node.Executable.IsBlocking())

		log.Info().Str("executable_id", id).Int("layer", layerIndex).Msg("node starting")
		err := run(nodeCtx, node)
		elapsed := time.Since(start)
		tracing.SetResultAttributes(nodeCtx, false, elapsed.Milliseconds())

		if err != nil {
			tracing.RecordError(nodeCtx, err)
			log.Error().Str("executable_id", id).Int("layer", layerIndex).Dur("elapsed", elapsed).Err(err).Msg("node failed")
		} else {
			log.Info().Str("executable_id", id).Int("layer", layerIndex).Dur("elapsed", elapsed).Msg("node completed")
		}

		return nodeOutcome{id: id, start: start, err: err}
	}

	for _, id := range nonBlockingIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			layerLock.RLock()
			defer layerLock.RUnlock()
			record(execute(id))
		}(id)
	}

	if len(blockingIDs) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, id := range blockingIDs {
				layerLock.Lock()
				o := execute(id)
				layerLock.Unlock()
				record(o)
			}
		}()
	}

	wg.Wait()

	return completed, firstFailure(outcomes)
}

// firstFailure selects the deterministic cause among a layer's
// outcomes: the failure with the lowest execution-start timestamp,
// ties broken by node identifier.
func firstFailure(outcomes []nodeOutcome) *nodeOutcome {
	var failures []nodeOutcome
	for _, o := range outcomes {
		if o.err != nil {
			failures = append(failures, o)
		}
	}
	if len(failures) == 0 {
		return nil
	}
	sort.Slice(failures, func(i, j int) bool {
		if !failures[i].start.Equal(failures[j].start) {
			return failures[i].start.Before(failures[j].start)
		}
		return failures[i].id < failures[j].id
	})
	return &failures[0]
}

func executableKind(node *graph.Node) string {
	if node == nil {
		return "unknown"
	}
	switch node.Executable.Kind {
	case model.ExecutableJob:
		return "job"
	case model.ExecutableArtifactBuild:
		return "artifact_build"
	case model.ExecutableNoOp:
		return "no_op"
	default:
		return fmt.Sprintf("kind_%d", node.Executable.Kind)
	}
}
