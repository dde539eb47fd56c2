package engine

import (
	"context"
	"fmt"

	"github.com/lemline/lemline/cmd/runner/activity"
	"github.com/lemline/lemline/cmd/runner/dsl"
	"github.com/lemline/lemline/cmd/runner/graph"
)

// activityInstance executes boundary tasks: calls, runs, emits, waits.
// Exactly one of these runs per consumed message.
type activityInstance struct{ base }

func (a *activityInstance) Execute(ctx context.Context) error {
	if a.State().RawOutput != nil {
		return nil
	}
	skip, derr := a.enter()
	if derr != nil {
		return a.raise(derr)
	}
	if skip {
		return a.completeSkipped()
	}

	input, derr := a.transformedInputValue()
	if derr != nil {
		return a.raise(derr)
	}

	if a.node.Kind == graph.KindWait {
		// a wait produces no output of its own; the input passes
		// through so redelivery resumes past it
		d := a.node.Task.Wait.ToTimeDuration()
		a.wi.WaitDelay = &d
		if derr := a.complete(input); derr != nil {
			return a.raise(derr)
		}
		return nil
	}

	runner, ok := a.wi.runners[a.node.Kind]
	if !ok {
		return a.raise(dsl.NewConfigurationError(fmt.Sprintf("no runner for %s tasks", a.node.Kind)))
	}

	out, derr := runner.Run(ctx, &activity.Request{
		Task:     a.node.Task,
		Position: a.node.Position,
		Input:    input,
		Workflow: a.wi.Tree.Workflow,
		Secrets:  a.wi.secrets,
		Scope:    a.scope(input),
		Eval:     a.wi.eval,
	})
	if derr != nil {
		return a.raise(derr)
	}
	if derr := a.complete(out); derr != nil {
		return a.raise(derr)
	}
	return nil
}
