package engine

import (
	"context"

	"github.com/lemline/lemline/cmd/runner/dsl"
	"github.com/lemline/lemline/cmd/runner/expr"
	"github.com/lemline/lemline/cmd/runner/graph"
	"github.com/lemline/lemline/cmd/runner/message"
)

// NodeInstance is the runtime view of one tree node, bound to the
// instance's mutable state. Execute runs the node's own work, Continue
// advances it after a child (or itself) finished, Then applies a flow
// directive once the node completed.
type NodeInstance interface {
	Node() *graph.Node
	State() *message.NodeState
	Parent() NodeInstance
	Execute(ctx context.Context) error
	Continue(ctx context.Context) (NodeInstance, error)
	Then(ctx context.Context, directive string) (NodeInstance, error)

	setRawInput(raw any)
	transformedOutputValue() (any, *dsl.Error)
}

// raisedError carries a workflow error up the drive loop together with
// the node that raised it
type raisedError struct {
	err  *dsl.Error
	node *graph.Node
}

func (e *raisedError) Error() string { return e.err.Error() }

// base carries the state shared by every node kind. The transformed
// input and output are memoized per drive pass; the persisted raw
// values are the source of truth across messages.
type base struct {
	wi   *Instance
	node *graph.Node

	transformedInput    any
	hasTransformedInput bool
	output              any
	hasOutput           bool
}

func (b *base) Node() *graph.Node { return b.node }

func (b *base) State() *message.NodeState {
	return b.wi.stateAt(b.node.Position)
}

func (b *base) Parent() NodeInstance {
	p := b.wi.Tree.ParentOf(b.node)
	if p == nil {
		return nil
	}
	return b.wi.instanceAt(p)
}

func (b *base) setRawInput(raw any) {
	b.State().RawInput = raw
	b.hasTransformedInput = false
	b.hasOutput = false
}

func (b *base) scope(input any) map[string]any {
	return b.wi.scopeFor(b.node, input)
}

func (b *base) raise(derr *dsl.Error) error {
	if derr.Instance == "" {
		derr.Instance = b.node.Position
	}
	return &raisedError{err: derr, node: b.node}
}

// inputSpec returns the node's input configuration; the root uses the
// workflow-level one
func (b *base) inputSpec() *dsl.Input {
	if b.node.Kind == graph.KindRoot {
		return b.wi.Tree.Workflow.Input
	}
	if b.node.Task != nil {
		return b.node.Task.Input
	}
	return nil
}

func (b *base) outputSpec() *dsl.Output {
	if b.node.Kind == graph.KindRoot {
		return b.wi.Tree.Workflow.Output
	}
	if b.node.Task != nil {
		return b.node.Task.Output
	}
	return nil
}

func (b *base) exportSpec() *dsl.Export {
	if b.node.Task != nil {
		return b.node.Task.Export
	}
	return nil
}

// transformedInputValue computes the node input after the input.from
// projection, lazily, from the persisted raw input
func (b *base) transformedInputValue() (any, *dsl.Error) {
	if b.hasTransformedInput {
		return b.transformedInput, nil
	}
	input := b.State().RawInput
	if spec := b.inputSpec(); spec != nil && spec.From != nil {
		evaluated, derr := b.wi.eval.EvalValue(input, expr.Normalize(spec.From), b.scope(input), false)
		if derr != nil {
			return nil, derr
		}
		input = evaluated
	}
	b.transformedInput = input
	b.hasTransformedInput = true
	return input, nil
}

// transformedOutputValue computes the node output after the output.as
// projection, lazily, from the persisted raw output
func (b *base) transformedOutputValue() (any, *dsl.Error) {
	if b.hasOutput {
		return b.output, nil
	}
	out := b.State().RawOutput
	if spec := b.outputSpec(); spec != nil && spec.As != nil {
		scope := b.scope(out)
		scope["output"] = out
		evaluated, derr := b.wi.eval.EvalValue(out, expr.Normalize(spec.As), scope, false)
		if derr != nil {
			return nil, derr
		}
		out = evaluated
	}
	b.output = out
	b.hasOutput = true
	return out, nil
}

// enter runs the node entry pipeline: input schema validation, the
// input.from projection, then the if guard. skip is true when the guard
// is false.
func (b *base) enter() (skip bool, err *dsl.Error) {
	st := b.State()
	if spec := b.inputSpec(); spec != nil && spec.Schema != nil {
		if derr := b.wi.validator.Validate(st.RawInput, spec.Schema); derr != nil {
			return false, derr
		}
	}
	input, derr := b.transformedInputValue()
	if derr != nil {
		return false, derr
	}
	if task := b.node.Task; task != nil && task.If != nil {
		ok, derr := b.wi.eval.EvalBoolean(input, *task.If, b.scope(input))
		if derr != nil {
			return false, derr
		}
		if !ok {
			return true, nil
		}
	}
	return false, nil
}

// complete records the node's raw output, applies the output projection
// and validation, and runs the export into the workflow context. A nil
// raw output collapses to an empty object: nil marks "not finished" in
// the persisted state.
func (b *base) complete(raw any) *dsl.Error {
	if raw == nil {
		raw = map[string]any{}
	}
	st := b.State()

	out := raw
	if spec := b.outputSpec(); spec != nil {
		if spec.As != nil {
			scope := b.scope(raw)
			scope["output"] = raw
			evaluated, derr := b.wi.eval.EvalValue(raw, expr.Normalize(spec.As), scope, false)
			if derr != nil {
				return derr
			}
			out = evaluated
		}
		if spec.Schema != nil {
			if derr := b.wi.validator.Validate(out, spec.Schema); derr != nil {
				return derr
			}
		}
	}

	if spec := b.exportSpec(); spec != nil {
		if spec.As != nil {
			scope := b.scope(out)
			scope["output"] = out
			evaluated, derr := b.wi.eval.EvalValue(out, expr.Normalize(spec.As), scope, false)
			if derr != nil {
				return derr
			}
			ctxMap, ok := evaluated.(map[string]any)
			if !ok {
				return dsl.NewValidationError("export.as must produce an object")
			}
			b.wi.rootState().Context = ctxMap
		}
		if spec.Schema != nil {
			if derr := b.wi.validator.Validate(b.wi.rootState().Context, spec.Schema); derr != nil {
				return derr
			}
		}
	}

	st.RawOutput = raw
	b.output = out
	b.hasOutput = true
	return nil
}

// completeSkipped finishes a node whose if guard was false: the input
// passes through untouched
func (b *base) completeSkipped() error {
	input, derr := b.transformedInputValue()
	if derr != nil {
		return b.raise(derr)
	}
	if derr := b.complete(input); derr != nil {
		return b.raise(derr)
	}
	return nil
}

// started reports whether the node already began running children
func (b *base) started() bool {
	st := b.State()
	return st.ChildIndex != message.NoIndex || st.ForIndex != message.NoIndex
}

// Execute is the default entry for flow nodes: run the entry pipeline
// once; a false if guard completes the node immediately
func (b *base) Execute(ctx context.Context) error {
	if b.State().RawOutput != nil || b.started() {
		return nil
	}
	skip, derr := b.enter()
	if derr != nil {
		return b.raise(derr)
	}
	if skip {
		return b.completeSkipped()
	}
	return nil
}

// Continue is the default for leaf nodes: apply the node's then
// directive once it completed
func (b *base) Continue(ctx context.Context) (NodeInstance, error) {
	return b.Then(ctx, thenDirective(b.node))
}

// Then applies a flow directive after the node completed
func (b *base) Then(ctx context.Context, directive string) (NodeInstance, error) {
	switch directive {
	case "", dsl.DirectiveContinue:
		parent := b.Parent()
		if parent == nil {
			return nil, nil
		}
		return parent.Continue(ctx)

	case dsl.DirectiveEnd:
		b.wi.ended = true
		return nil, nil

	case dsl.DirectiveExit:
		pn := b.wi.Tree.ParentOf(b.node)
		if pn == nil {
			return nil, nil
		}
		list, ok := b.wi.instanceAt(pn).(*doInstance)
		if !ok {
			return nil, b.raise(dsl.NewRuntimeError("exit used outside of a task list"))
		}
		out, derr := b.transformedOutputValue()
		if derr != nil {
			return nil, b.raise(derr)
		}
		if derr := list.complete(out); derr != nil {
			return nil, list.raise(derr)
		}
		return list.Then(ctx, thenDirective(list.node))

	default:
		// jump to a sibling task; backward jumps rewind the target
		pn := b.wi.Tree.ParentOf(b.node)
		if pn == nil {
			return nil, b.raise(dsl.NewConfigurationError("then directive " + directive + " has no enclosing task list"))
		}
		var target *graph.Node
		targetIdx := -1
		for i, child := range b.wi.Tree.ChildrenOf(pn) {
			if child.Name == directive {
				target, targetIdx = child, i
				break
			}
		}
		if target == nil {
			return nil, b.raise(dsl.NewConfigurationError("no task named " + directive + " in the enclosing list"))
		}
		out, derr := b.transformedOutputValue()
		if derr != nil {
			return nil, b.raise(derr)
		}
		b.wi.resetSubtree(target.Position)
		b.wi.stateAt(pn.Position).ChildIndex = targetIdx
		ti := b.wi.instanceAt(target)
		ti.setRawInput(out)
		return ti, nil
	}
}

// thenDirective returns the node's declared then directive; synthetic
// list nodes always continue
func thenDirective(n *graph.Node) string {
	if n.Task != nil {
		return n.Task.Then
	}
	return ""
}
