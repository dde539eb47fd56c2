package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lemline/lemline/cmd/runner/activity"
	"github.com/lemline/lemline/cmd/runner/dsl"
	"github.com/lemline/lemline/cmd/runner/expr"
	"github.com/lemline/lemline/cmd/runner/graph"
	"github.com/lemline/lemline/cmd/runner/message"
	"github.com/lemline/lemline/common/logger"
	"github.com/lemline/lemline/common/models"
)

// Instance is one in-flight workflow execution, reconstructed from an
// envelope's node states and advanced to the next activity boundary.
type Instance struct {
	Tree   *graph.Tree
	States map[string]*message.NodeState

	Status  models.WorkflowStatus
	Current NodeInstance

	// RetryDelay is set when a caught error scheduled a delayed retry;
	// WaitDelay when a wait task paused the instance. Fault carries the
	// error of a FAULTED instance.
	RetryDelay *time.Duration
	WaitDelay  *time.Duration
	Fault      *dsl.Error

	eval      *expr.Evaluator
	validator *dsl.Validator
	secrets   map[string]any
	runners   activity.Registry
	log       *logger.Logger

	ended     bool
	instances map[string]NodeInstance
}

// Options configures a workflow instance
type Options struct {
	Secrets map[string]any
	Runners activity.Registry
	Log     *logger.Logger
}

// NewInstance binds a compiled tree to the mutable states of one
// execution. The states map is shared with the envelope so mutations
// flow back into it.
func NewInstance(tree *graph.Tree, states map[string]*message.NodeState, opts Options) *Instance {
	if states == nil {
		states = make(map[string]*message.NodeState)
	}
	log := opts.Log
	if log == nil {
		log = logger.New("info", "json")
	}
	return &Instance{
		Tree:      tree,
		States:    states,
		Status:    models.StatusPending,
		eval:      expr.New(tree.Workflow.Language()),
		validator: dsl.NewValidator(),
		secrets:   opts.Secrets,
		runners:   opts.Runners,
		log:       log,
		instances: make(map[string]NodeInstance),
	}
}

// Position returns the position of the current node, for the outgoing
// envelope
func (wi *Instance) Position() string {
	if wi.Current == nil {
		return ""
	}
	return wi.Current.Node().Position
}

// Drive advances the instance from the given position to the next
// activity boundary: it executes at most one activity, then stops with
// Status, Current and the delay fields describing what to do with the
// instance next.
func (wi *Instance) Drive(ctx context.Context, position string) error {
	node, ok := wi.Tree.At(position)
	if !ok {
		return fmt.Errorf("no node at position %q", position)
	}
	cur := wi.instanceAt(node)
	wi.Status = models.StatusRunning
	wi.Current = cur

	var err error
	// resume past an activity that already produced its output
	if cur.State().RawOutput != nil && cur.Node().Kind != graph.KindTry {
		next, cerr := cur.Continue(ctx)
		if cur, err = wi.afterStep(ctx, next, cerr); err != nil {
			return err
		}
	}

	executed := false
	for {
		if wi.Status == models.StatusFaulted || wi.RetryDelay != nil {
			return nil
		}
		if cur == nil || wi.ended {
			wi.Status = models.StatusCompleted
			return nil
		}
		wi.Current = cur

		if cur.State().RawOutput == nil {
			isActivity := graph.IsActivity(cur.Node().Kind)
			if isActivity {
				if executed {
					// one activity per message; the next hop picks it up here
					return nil
				}
				executed = true
			}
			if eerr := cur.Execute(ctx); eerr != nil {
				if cur, err = wi.afterStep(ctx, nil, eerr); err != nil {
					return err
				}
				continue
			}
			if isActivity {
				if wi.WaitDelay != nil {
					wi.Status = models.StatusWaiting
				}
				return nil
			}
		}

		next, cerr := cur.Continue(ctx)
		if cur, err = wi.afterStep(ctx, next, cerr); err != nil {
			return err
		}
	}
}

// afterStep routes a step result: raised workflow errors go through
// error recovery, anything else is an infrastructure failure
func (wi *Instance) afterStep(ctx context.Context, next NodeInstance, err error) (NodeInstance, error) {
	if err == nil {
		return next, nil
	}
	if ctx.Err() != nil {
		// a cancelled activity is not a workflow fault: the partial
		// progress is dropped and the message redelivered
		wi.Status = models.StatusCancelled
		return nil, ctx.Err()
	}
	re, ok := err.(*raisedError)
	if !ok {
		return nil, err
	}
	return wi.recover(ctx, re), nil
}

// recover walks the ancestors of the raising node for a try task that
// catches the error. It returns the next node to run, or nil when the
// drive pass is over (retry scheduled or instance faulted).
func (wi *Instance) recover(ctx context.Context, re *raisedError) NodeInstance {
	wi.log.Warn("workflow error raised",
		"type", re.err.Type, "status", re.err.Status, "at", re.err.Instance)

	for anc := wi.Tree.ParentOf(re.node); anc != nil; anc = wi.Tree.ParentOf(anc) {
		if anc.Kind != graph.KindTry {
			continue
		}
		t := wi.instanceAt(anc).(*tryInstance)

		caught, derr := t.canCatch(re.err)
		if derr != nil {
			return wi.fault(t, derr)
		}
		if !caught {
			continue
		}

		next, handled, derr := t.onCatch(re.err)
		if derr != nil {
			return wi.fault(t, derr)
		}
		if handled {
			return next
		}
		// caught but neither retried nor handled: keep propagating
	}

	return wi.fault(wi.instanceAt(re.node), re.err)
}

func (wi *Instance) fault(at NodeInstance, derr *dsl.Error) NodeInstance {
	wi.Status = models.StatusFaulted
	wi.Current = at
	wi.Fault = derr
	wi.log.Error("workflow instance faulted",
		"type", derr.Type, "status", derr.Status, "at", derr.Instance, "detail", derr.Detail)
	return nil
}

// stateAt returns the node state at a position, creating it on first use
func (wi *Instance) stateAt(position string) *message.NodeState {
	if s, ok := wi.States[position]; ok {
		return s
	}
	s := message.NewNodeState()
	wi.States[position] = s
	return s
}

func (wi *Instance) rootState() *message.NodeState {
	return wi.stateAt("")
}

// instanceAt returns the memoized node instance for a tree node
func (wi *Instance) instanceAt(node *graph.Node) NodeInstance {
	if ni, ok := wi.instances[node.Position]; ok {
		return ni
	}
	b := base{wi: wi, node: node}
	var ni NodeInstance
	switch node.Kind {
	case graph.KindRoot:
		ni = &rootInstance{base: b}
	case graph.KindDo:
		ni = &doInstance{base: b}
	case graph.KindSet:
		ni = &setInstance{base: b}
	case graph.KindSwitch:
		ni = &switchInstance{base: b}
	case graph.KindRaise:
		ni = &raiseInstance{base: b}
	case graph.KindFork:
		ni = &forkInstance{base: b}
	case graph.KindFor:
		ni = &forInstance{base: b}
	case graph.KindTry:
		ni = &tryInstance{base: b}
	default:
		ni = &activityInstance{base: b}
	}
	wi.instances[node.Position] = ni
	return ni
}

// resetSubtree drops the persisted state and cached instances of a node
// and everything below it, so jumps and retries restart it fresh
func (wi *Instance) resetSubtree(prefix string) {
	for pos := range wi.States {
		if pos == prefix || strings.HasPrefix(pos, prefix+"/") {
			delete(wi.States, pos)
		}
	}
	for pos := range wi.instances {
		if pos == prefix || strings.HasPrefix(pos, prefix+"/") {
			delete(wi.instances, pos)
		}
	}
}

// scopeFor builds the expression scope of a node: the merged task
// variables of its ancestor chain plus the runtime descriptors
func (wi *Instance) scopeFor(node *graph.Node, input any) map[string]any {
	out := make(map[string]any)

	var chain []*graph.Node
	for cur := node; cur != nil; cur = wi.Tree.ParentOf(cur) {
		chain = append(chain, cur)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		st, ok := wi.States[chain[i].Position]
		if !ok {
			continue
		}
		for k, v := range st.Variables {
			out[k] = v
		}
	}

	root := wi.rootState()
	wf := wi.Tree.Workflow

	wfScope := map[string]any{
		"id":        root.WorkflowID,
		"namespace": wf.Document.Namespace,
		"name":      wf.Document.Name,
		"version":   wf.Document.Version,
	}
	if root.StartedAt != nil {
		wfScope["startedAt"] = root.StartedAt.UTC().Format(time.RFC3339Nano)
	}

	out["context"] = root.Context
	out["input"] = input
	out["secrets"] = wi.secrets
	out["workflow"] = wfScope
	out["runtime"] = map[string]any{"name": "lemline"}
	out["task"] = map[string]any{"name": node.Name, "reference": node.Position}
	return out
}
