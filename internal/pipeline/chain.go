// Package pipeline executes a Job's ordered JobAction steps.
package pipeline

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/manila-build/manila/internal/model"
	"github.com/manila-build/manila/internal/tracing"
	"github.com/rs/zerolog"
)

// Runner executes a single JobAction. Callers supply one per ActionKind;
// Chain dispatches by Kind and fails closed on an unregistered kind.
type Runner func(ctx context.Context, action model.JobAction) error

// recoverAction runs fn inside a deferred recover so a panicking action
// runner cannot crash the scheduler goroutine driving it.
func recoverAction(kind string, fn func() error) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("action %s: panic: %v", kind, r)
		}
	}()
	return fn()
}

// Chain executes a Job's Actions in declared order, stopping at the
// first error.
type Chain struct {
	actions []model.JobAction
	runners map[model.ActionKind]Runner

	mu      sync.RWMutex
	timings map[int]time.Duration // latest per-action-index execution times
}

// NewChain builds a Chain for actions, dispatching each by Kind to the
// matching entry in runners.
func NewChain(actions []model.JobAction, runners map[model.ActionKind]Runner) *Chain {
	return &Chain{
		actions: actions,
		runners: runners,
		timings: make(map[int]time.Duration),
	}
}

// Run executes every action in order under the given executable id
// (used for span and log correlation), returning the first error
// encountered. A nil Actions list is a no-op.
func (c *Chain) Run(ctx context.Context, executableID string, log zerolog.Logger) error {
	for i, action := range c.actions {
		kind := action.Kind.String()

		runner, ok := c.runners[action.Kind]
		if !ok {
			return fmt.Errorf("action %d (%s): no runner registered for kind %v", i, kind, action.Kind)
		}

		actionCtx, span := tracing.StartActionSpan(ctx, executableID, i, kind)
		start := time.Now()

		err := recoverAction(kind, func() error {
			return runner(actionCtx, action)
		})
		elapsed := time.Since(start)
		c.recordTiming(i, elapsed)

		if err != nil {
			tracing.RecordError(actionCtx, err)
			span.End()
			log.Error().Str("executable_id", executableID).Int("action_index", i).Str("action_kind", kind).
				Dur("elapsed", elapsed).Err(err).Msg("action failed")
			return fmt.Errorf("action %d (%s): %w", i, kind, err)
		}
		span.End()
		log.Debug().Str("executable_id", executableID).Int("action_index", i).Str("action_kind", kind).
			Dur("elapsed", elapsed).Msg("action completed")
	}
	return nil
}

// Timings returns a snapshot of the latest per-action execution times,
// keyed by action index.
func (c *Chain) Timings() map[int]time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := make(map[int]time.Duration, len(c.timings))
	for k, v := range c.timings {
		snapshot[k] = v
	}
	return snapshot
}

func (c *Chain) recordTiming(index int, d time.Duration) {
	c.mu.Lock()
	c.timings[index] = d
	c.mu.Unlock()
}

// ShellRunner returns a Runner for ActionShell steps, invoking the
// command as a subprocess and treating a non-zero exit as an error.
func ShellRunner() Runner {
	return func(ctx context.Context, action model.JobAction) error {
		cmd := exec.CommandContext(ctx, action.Command, action.Args...)
		if action.Dir != "" {
			cmd.Dir = action.Dir
		}
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("%s: %w: %s", action.Command, err, out)
		}
		return nil
	}
}

// LogRunner returns a Runner for ActionLog steps, emitting a structured
// log line at the action's declared level.
func LogRunner(log zerolog.Logger) Runner {
	return func(ctx context.Context, action model.JobAction) error {
		var event *zerolog.Event
		switch action.Level {
		case "warn":
			event = log.Warn()
		case "error":
			event = log.Error()
		default:
			event = log.Info()
		}
		event.Msg(action.Message)
		return nil
	}
}
