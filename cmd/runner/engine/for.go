package engine

import (
	"context"

	"github.com/lemline/lemline/cmd/runner/dsl"
)

// forInstance iterates the synthetic do body over a list, one iteration
// at a time, rewinding the body between iterations
type forInstance struct {
	base
	items      []any
	haveItems  bool
	lastOutput any
	haveLast   bool
}

// itemList evaluates for.in once per drive pass
func (f *forInstance) itemList() ([]any, *dsl.Error) {
	if f.haveItems {
		return f.items, nil
	}
	input, derr := f.transformedInputValue()
	if derr != nil {
		return nil, derr
	}
	items, derr := f.wi.eval.EvalList(input, f.node.Task.For.In, f.scope(input))
	if derr != nil {
		return nil, derr
	}
	f.items, f.haveItems = items, true
	return items, nil
}

func (f *forInstance) Continue(ctx context.Context) (NodeInstance, error) {
	st := f.State()
	if st.RawOutput != nil {
		return f.Then(ctx, thenDirective(f.node))
	}

	items, derr := f.itemList()
	if derr != nil {
		return nil, f.raise(derr)
	}
	body := f.wi.Tree.ChildrenOf(f.node)[0]

	if st.ForIndex >= 0 {
		bodyInst := f.wi.instanceAt(body)
		if bodyInst.State().RawOutput == nil {
			return bodyInst, nil
		}
		out, derr := bodyInst.transformedOutputValue()
		if derr != nil {
			return nil, f.raise(derr)
		}
		f.lastOutput, f.haveLast = out, true
	}

	next := st.ForIndex + 1
	if next < len(items) {
		clause := f.node.Task.For
		if st.Variables == nil {
			st.Variables = map[string]any{}
		}
		st.Variables[clause.EachVar()] = items[next]
		st.Variables[clause.AtVar()] = next

		input, derr := f.transformedInputValue()
		if derr != nil {
			return nil, f.raise(derr)
		}

		proceed := true
		if while := f.node.Task.While; while != nil {
			ok, derr := f.wi.eval.EvalBoolean(input, *while, f.scope(input))
			if derr != nil {
				return nil, f.raise(derr)
			}
			proceed = ok
		}

		if proceed {
			st.ForIndex = next
			f.wi.resetSubtree(body.Position)
			bodyInst := f.wi.instanceAt(body)
			bodyInst.setRawInput(input)
			return bodyInst, nil
		}
	}

	// iterations exhausted, or while turned false
	var out any
	if f.haveLast {
		out = f.lastOutput
	} else {
		input, derr := f.transformedInputValue()
		if derr != nil {
			return nil, f.raise(derr)
		}
		out = input
	}
	if derr := f.complete(out); derr != nil {
		return nil, f.raise(derr)
	}
	return f.Then(ctx, thenDirective(f.node))
}
