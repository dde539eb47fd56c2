package engine

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/lemline/lemline/cmd/runner/dsl"
	"github.com/lemline/lemline/cmd/runner/message"
)

// tryInstance runs its try branch and, on a caught error, either
// schedules a delayed retry through the outbox or falls back to the
// catch body
type tryInstance struct{ base }

func (t *tryInstance) Continue(ctx context.Context) (NodeInstance, error) {
	st := t.State()
	if st.RawOutput != nil {
		return t.Then(ctx, thenDirective(t.node))
	}

	tryList := t.wi.Tree.TryBranch(t.node)
	catchList := t.wi.Tree.CatchBranch(t.node)

	if st.ChildIndex == message.NoIndex {
		input, derr := t.transformedInputValue()
		if derr != nil {
			return nil, t.raise(derr)
		}
		st.ChildIndex = 0
		li := t.wi.instanceAt(tryList)
		li.setRawInput(input)
		return li, nil
	}

	branch := tryList
	if st.ChildIndex > 0 {
		branch = catchList
	}
	bi := t.wi.instanceAt(branch)
	if bi.State().RawOutput == nil {
		return bi, nil
	}
	out, derr := bi.transformedOutputValue()
	if derr != nil {
		return nil, t.raise(derr)
	}
	if derr := t.complete(out); derr != nil {
		return nil, t.raise(derr)
	}
	return t.Then(ctx, thenDirective(t.node))
}

// canCatch reports whether this try catches the error: the errors.with
// filter fields must all match, then the when and exceptWhen guards
// must pass. Errors from the catch body itself always propagate.
func (t *tryInstance) canCatch(werr *dsl.Error) (bool, *dsl.Error) {
	catch := t.node.Task.Catch
	if catch == nil {
		return false, nil
	}
	if t.State().ChildIndex > 0 {
		return false, nil
	}

	if catch.Errors != nil && catch.Errors.With != nil {
		w := catch.Errors.With
		if w.Type != "" && w.Type != werr.Type {
			return false, nil
		}
		if w.Status != 0 && w.Status != werr.Status {
			return false, nil
		}
		if w.Instance != "" && w.Instance != werr.Instance {
			return false, nil
		}
		if w.Title != "" && w.Title != werr.Title {
			return false, nil
		}
		if w.Detail != "" && w.Detail != werr.Detail {
			return false, nil
		}
	}

	if catch.When != nil || catch.ExceptWhen != nil {
		input, derr := t.transformedInputValue()
		if derr != nil {
			return false, derr
		}
		scope := t.scope(input)
		scope[catch.ErrorAs()] = werr.AsJSON()
		if catch.When != nil {
			ok, derr := t.wi.eval.EvalBoolean(werr.AsJSON(), *catch.When, scope)
			if derr != nil {
				return false, derr
			}
			if !ok {
				return false, nil
			}
		}
		if catch.ExceptWhen != nil {
			ok, derr := t.wi.eval.EvalBoolean(werr.AsJSON(), *catch.ExceptWhen, scope)
			if derr != nil {
				return false, derr
			}
			if ok {
				return false, nil
			}
		}
	}

	return true, nil
}

// onCatch handles a caught error. It returns the next node to run and
// whether the error was handled; an unhandled error keeps propagating.
func (t *tryInstance) onCatch(werr *dsl.Error) (NodeInstance, bool, *dsl.Error) {
	st := t.State()
	catch := t.node.Task.Catch

	if st.Variables == nil {
		st.Variables = map[string]any{}
	}
	st.Variables[catch.ErrorAs()] = werr.AsJSON()
	st.AttemptIndex++

	delay, derr := t.retryDelay(werr)
	if derr != nil {
		return nil, false, derr
	}
	if delay > 0 {
		// rewind the try branch and hand the instance to the retry outbox
		tryList := t.wi.Tree.TryBranch(t.node)
		st.ChildIndex = message.NoIndex
		t.wi.resetSubtree(tryList.Position)
		t.wi.Current = t
		t.wi.RetryDelay = &delay
		return nil, true, nil
	}

	catchList := t.wi.Tree.CatchBranch(t.node)
	if catchList == nil {
		return nil, false, nil
	}
	input, derr := t.transformedInputValue()
	if derr != nil {
		return nil, false, derr
	}
	st.ChildIndex = 1
	t.wi.resetSubtree(catchList.Position)
	li := t.wi.instanceAt(catchList)
	li.setRawInput(input)
	return li, true, nil
}

// retryDelay computes the delay before the next attempt, or 0 when the
// policy does not retry this error (limit reached, guard failed, or no
// policy at all)
func (t *tryInstance) retryDelay(werr *dsl.Error) (time.Duration, *dsl.Error) {
	catch := t.node.Task.Catch
	if catch == nil || catch.Retry == nil {
		return 0, nil
	}
	policy, rerr := catch.Retry.Resolve(t.wi.Tree.Workflow)
	if rerr != nil {
		if derr, ok := rerr.(*dsl.Error); ok {
			return 0, derr
		}
		return 0, dsl.NewConfigurationError(rerr.Error())
	}
	if policy == nil {
		return 0, nil
	}

	st := t.State()
	attempt := st.AttemptIndex
	// a count of N bounds the total attempts, not the retries
	if policy.Limit != nil && policy.Limit.Attempt != nil &&
		policy.Limit.Attempt.Count > 0 && attempt >= policy.Limit.Attempt.Count {
		return 0, nil
	}

	if policy.When != nil || policy.ExceptWhen != nil {
		input, derr := t.transformedInputValue()
		if derr != nil {
			return 0, derr
		}
		scope := t.scope(input)
		if policy.When != nil {
			ok, derr := t.wi.eval.EvalBoolean(werr.AsJSON(), *policy.When, scope)
			if derr != nil {
				return 0, derr
			}
			if !ok {
				return 0, nil
			}
		}
		if policy.ExceptWhen != nil {
			ok, derr := t.wi.eval.EvalBoolean(werr.AsJSON(), *policy.ExceptWhen, scope)
			if derr != nil {
				return 0, derr
			}
			if ok {
				return 0, nil
			}
		}
	}

	var base time.Duration
	if policy.Delay != nil {
		base = policy.Delay.ToTimeDuration()
	}

	delay := base
	if policy.Backoff != nil {
		switch {
		case policy.Backoff.Linear != nil:
			delay = base * time.Duration(attempt)
		case policy.Backoff.Exponential != nil:
			delay = time.Duration(math.Pow(base.Seconds(), float64(attempt)) * float64(time.Second))
		}
	}

	if policy.Jitter != nil {
		var from, to time.Duration
		if policy.Jitter.From != nil {
			from = policy.Jitter.From.ToTimeDuration()
		}
		if policy.Jitter.To != nil {
			to = policy.Jitter.To.ToTimeDuration()
		}
		if to > from {
			delay += from + time.Duration(rand.Int63n(int64(to-from)+1))
		} else {
			delay += from
		}
	}

	if delay < 0 {
		delay = 0
	}
	return delay, nil
}
