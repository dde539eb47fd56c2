package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lemline/lemline/cmd/runner/dsl"
	"github.com/lemline/lemline/cmd/runner/expr"
	"github.com/lemline/lemline/cmd/runner/message"
)

// rootInstance anchors the tree. It owns the workflow identity, the
// shared context and the workflow-level input and output processing.
type rootInstance struct{ base }

func (r *rootInstance) Execute(ctx context.Context) error {
	st := r.State()
	if st.WorkflowID == "" {
		st.WorkflowID = uuid.NewString()
		now := time.Now().UTC()
		st.StartedAt = &now
	}
	if st.Context == nil {
		st.Context = map[string]any{}
	}
	if st.RawOutput != nil || r.started() {
		return nil
	}
	if _, derr := r.enter(); derr != nil {
		return r.raise(derr)
	}
	return nil
}

func (r *rootInstance) Continue(ctx context.Context) (NodeInstance, error) {
	st := r.State()
	if st.RawOutput != nil {
		return nil, nil
	}

	list := r.wi.instanceAt(r.wi.Tree.ChildrenOf(r.node)[0])
	if list.State().RawOutput == nil {
		if st.ChildIndex == message.NoIndex {
			input, derr := r.transformedInputValue()
			if derr != nil {
				return nil, r.raise(derr)
			}
			st.ChildIndex = 0
			list.setRawInput(input)
		}
		return list, nil
	}

	out, derr := list.transformedOutputValue()
	if derr != nil {
		return nil, r.raise(derr)
	}
	if derr := r.complete(out); derr != nil {
		return nil, r.raise(derr)
	}
	return nil, nil
}

// doInstance runs an ordered task list: the declared do tasks and the
// synthetic lists under try, catch and for nodes
type doInstance struct{ base }

func (d *doInstance) Continue(ctx context.Context) (NodeInstance, error) {
	st := d.State()
	if st.RawOutput != nil {
		return d.Then(ctx, thenDirective(d.node))
	}

	children := d.wi.Tree.ChildrenOf(d.node)

	// resume into a child that is still running
	if st.ChildIndex >= 0 && st.ChildIndex < len(children) {
		running := d.wi.instanceAt(children[st.ChildIndex])
		if running.State().RawOutput == nil {
			return running, nil
		}
	}

	next := st.ChildIndex + 1
	if next < len(children) {
		var input any
		var derr *dsl.Error
		if st.ChildIndex == message.NoIndex {
			input, derr = d.transformedInputValue()
		} else {
			prev := d.wi.instanceAt(children[st.ChildIndex])
			input, derr = prev.transformedOutputValue()
		}
		if derr != nil {
			return nil, d.raise(derr)
		}
		st.ChildIndex = next
		// a backward jump may have left the next child completed; it has
		// to run again with the new input
		if s, ok := d.wi.States[children[next].Position]; ok && s.RawOutput != nil {
			d.wi.resetSubtree(children[next].Position)
		}
		child := d.wi.instanceAt(children[next])
		child.setRawInput(input)
		return child, nil
	}

	// all children done: the list's raw output is the last child's
	// transformed output, or the input when the list is empty
	var out any
	var derr *dsl.Error
	if st.ChildIndex >= 0 && st.ChildIndex < len(children) {
		last := d.wi.instanceAt(children[st.ChildIndex])
		out, derr = last.transformedOutputValue()
	} else {
		out, derr = d.transformedInputValue()
	}
	if derr != nil {
		return nil, d.raise(derr)
	}
	if derr := d.complete(out); derr != nil {
		return nil, d.raise(derr)
	}
	return d.Then(ctx, thenDirective(d.node))
}

// setInstance evaluates the set template against the task input
type setInstance struct{ base }

func (s *setInstance) Execute(ctx context.Context) error {
	if s.State().RawOutput != nil {
		return nil
	}
	skip, derr := s.enter()
	if derr != nil {
		return s.raise(derr)
	}
	if skip {
		return s.completeSkipped()
	}
	input, derr := s.transformedInputValue()
	if derr != nil {
		return s.raise(derr)
	}
	value, derr := s.wi.eval.EvalValue(input, expr.Normalize(s.node.Task.Set), s.scope(input), false)
	if derr != nil {
		return s.raise(derr)
	}
	if derr := s.complete(value); derr != nil {
		return s.raise(derr)
	}
	return nil
}

// switchInstance routes the flow to the first matching case
type switchInstance struct {
	base
	directive string
	decided   bool
}

func (s *switchInstance) Execute(ctx context.Context) error {
	if s.State().RawOutput != nil {
		return nil
	}
	skip, derr := s.enter()
	if derr != nil {
		return s.raise(derr)
	}
	if skip {
		return s.completeSkipped()
	}
	input, derr := s.transformedInputValue()
	if derr != nil {
		return s.raise(derr)
	}

	scope := s.scope(input)
	for _, c := range s.node.Task.Switch {
		if c.When == nil {
			// a case without a condition is the default
			s.directive, s.decided = c.Then, true
			break
		}
		ok, derr := s.wi.eval.EvalBoolean(input, *c.When, scope)
		if derr != nil {
			return s.raise(derr)
		}
		if ok {
			s.directive, s.decided = c.Then, true
			break
		}
	}
	if !s.decided {
		return s.raise(dsl.NewExpressionError("switch", "no case matched the task input"))
	}
	if derr := s.complete(input); derr != nil {
		return s.raise(derr)
	}
	return nil
}

func (s *switchInstance) Continue(ctx context.Context) (NodeInstance, error) {
	if s.decided {
		return s.Then(ctx, s.directive)
	}
	return s.Then(ctx, thenDirective(s.node))
}

// raiseInstance raises a workflow error, inline or named
type raiseInstance struct{ base }

func (r *raiseInstance) Execute(ctx context.Context) error {
	if r.State().RawOutput != nil {
		return nil
	}
	skip, derr := r.enter()
	if derr != nil {
		return r.raise(derr)
	}
	if skip {
		return r.completeSkipped()
	}

	spec := r.node.Task.Raise.Error
	def := spec.Def
	if spec.Ref != "" {
		named, ok := r.wi.Tree.Workflow.NamedError(spec.Ref)
		if !ok {
			return r.raise(dsl.NewConfigurationError("error " + spec.Ref + " is not declared under use.errors"))
		}
		def = named
	}
	if def == nil {
		return r.raise(dsl.NewConfigurationError("raise task has no error definition"))
	}

	input, derr := r.transformedInputValue()
	if derr != nil {
		return r.raise(derr)
	}
	title, derr := r.evalField(input, def.Title)
	if derr != nil {
		return r.raise(derr)
	}
	detail, derr := r.evalField(input, def.Detail)
	if derr != nil {
		return r.raise(derr)
	}

	return r.raise(&dsl.Error{
		Type:     def.Type,
		Status:   def.Status,
		Instance: def.Instance,
		Title:    title,
		Detail:   detail,
	})
}

func (r *raiseInstance) evalField(input any, raw string) (string, *dsl.Error) {
	if raw == "" || !expr.IsExpression(raw) {
		return raw, nil
	}
	result, derr := r.wi.eval.EvalString(input, raw, r.scope(input), false)
	if derr != nil {
		return "", derr
	}
	s, ok := result.(string)
	if !ok {
		return "", dsl.NewExpressionError(raw, "error field must evaluate to a string")
	}
	return s, nil
}

// forkInstance parses but cannot execute parallel branches
type forkInstance struct{ base }

func (f *forkInstance) Execute(ctx context.Context) error {
	if f.State().RawOutput != nil {
		return nil
	}
	skip, derr := f.enter()
	if derr != nil {
		return f.raise(derr)
	}
	if skip {
		return f.completeSkipped()
	}
	return f.raise(dsl.NewRuntimeError("fork execution is not supported"))
}
