package graph

import (
	"fmt"
	"strings"

	"github.com/lemline/lemline/cmd/runner/dsl"
)

// reserved DSL tokens that cannot name a task
var reservedNames = map[string]bool{
	dsl.DirectiveContinue: true,
	dsl.DirectiveExit:     true,
	dsl.DirectiveEnd:      true,
}

// Build compiles a parsed workflow into its immutable node tree
func Build(wf *dsl.Workflow) (*Tree, error) {
	t := &Tree{
		Workflow: wf,
		index:    make(map[string]int),
	}

	root := t.add(&Node{Position: "", Kind: KindRoot, Parent: -1})
	rootDo := t.add(&Node{Position: "/do", Kind: KindDo, Parent: root})
	t.Nodes[root].Children = append(t.Nodes[root].Children, rootDo)

	if err := t.buildList(rootDo, "/do", wf.Do); err != nil {
		return nil, err
	}

	return t, nil
}

// add appends a node to the arena and indexes its position
func (t *Tree) add(n *Node) int {
	idx := len(t.Nodes)
	t.Nodes = append(t.Nodes, n)
	t.index[n.Position] = idx
	return idx
}

// buildList materializes the tasks of one list node; positions follow
// <base>/<i>/<name>
func (t *Tree) buildList(parent int, base string, list dsl.TaskList) error {
	for i, nt := range list {
		if err := validateName(nt.Name); err != nil {
			return fmt.Errorf("at %s/%d: %w", base, i, err)
		}
		position := fmt.Sprintf("%s/%d/%s", base, i, nt.Name)
		if _, err := t.buildTask(parent, position, nt.Name, nt.Task); err != nil {
			return err
		}
	}
	return nil
}

// buildBody materializes a nested task-list body under its own list node
func (t *Tree) buildBody(parent int, base string, list dsl.TaskList) error {
	body := t.add(&Node{Position: base, Kind: KindDo, Parent: parent})
	t.Nodes[parent].Children = append(t.Nodes[parent].Children, body)
	return t.buildList(body, base, list)
}

// buildTask materializes one task node and its subtree
func (t *Tree) buildTask(parent int, position, name string, task *dsl.Task) (int, error) {
	kind, err := kindOf(task)
	if err != nil {
		return 0, fmt.Errorf("task %q at %s: %w", name, position, err)
	}

	idx := t.add(&Node{
		Position: position,
		Kind:     kind,
		Name:     name,
		Task:     task,
		Parent:   parent,
	})
	t.Nodes[parent].Children = append(t.Nodes[parent].Children, idx)

	switch kind {
	case KindDo:
		if err := t.buildList(idx, position+"/do", task.Do); err != nil {
			return 0, err
		}

	case KindTry:
		if err := t.buildBody(idx, position+"/try", task.Try); err != nil {
			return 0, err
		}
		if task.Catch != nil && len(task.Catch.Do) > 0 {
			if err := t.buildBody(idx, position+"/catch/do", task.Catch.Do); err != nil {
				return 0, err
			}
		}

	case KindFor:
		if len(task.Do) == 0 {
			return 0, fmt.Errorf("for task %q at %s has no do body", name, position)
		}
		if err := t.buildBody(idx, position+"/do", task.Do); err != nil {
			return 0, err
		}

	case KindFork:
		for i, branch := range task.Fork.Branches {
			if err := validateName(branch.Name); err != nil {
				return 0, fmt.Errorf("at %s/fork/branches/%d: %w", position, i, err)
			}
			branchPos := fmt.Sprintf("%s/fork/branches/%d/%s", position, i, branch.Name)
			if _, err := t.buildTask(idx, branchPos, branch.Name, branch.Task); err != nil {
				return 0, err
			}
		}

	case KindListen:
		if task.Listen.Foreach != nil && len(task.Listen.Foreach.Do) > 0 {
			if err := t.buildBody(idx, position+"/foreach/do", task.Listen.Foreach.Do); err != nil {
				return 0, err
			}
		}

	case KindCallAsyncAPI:
		foreach, err := dsl.SubscriptionForeach(task.With)
		if err != nil {
			return 0, fmt.Errorf("task %q at %s: %w", name, position, err)
		}
		if foreach != nil && len(foreach.Do) > 0 {
			if err := t.buildBody(idx, position+"/with/subscription/foreach/do", foreach.Do); err != nil {
				return 0, err
			}
		}
	}

	return idx, nil
}

// kindOf classifies the task variant
func kindOf(task *dsl.Task) (Kind, error) {
	switch {
	case len(task.Try) > 0:
		return KindTry, nil
	case task.For != nil:
		return KindFor, nil
	case task.Fork != nil:
		return KindFork, nil
	case task.Switch != nil:
		return KindSwitch, nil
	case task.Set != nil:
		return KindSet, nil
	case task.Raise != nil:
		return KindRaise, nil
	case task.Wait != nil:
		return KindWait, nil
	case task.Emit != nil:
		return KindEmit, nil
	case task.Listen != nil:
		return KindListen, nil
	case task.Run != nil:
		return KindRun, nil
	case task.Call != "":
		switch task.Call {
		case "http":
			return KindCallHTTP, nil
		case "grpc":
			return KindCallGRPC, nil
		case "openapi":
			return KindCallOpenAPI, nil
		case "asyncapi":
			return KindCallAsyncAPI, nil
		default:
			return "", fmt.Errorf("unknown call kind %q", task.Call)
		}
	case len(task.Do) > 0:
		return KindDo, nil
	default:
		return "", fmt.Errorf("task has no recognizable kind")
	}
}

// validateName rejects names that would break position addressing
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("task name is empty")
	}
	if strings.Contains(name, "/") {
		return fmt.Errorf("task name %q contains '/'", name)
	}
	if isNumeric(name) {
		return fmt.Errorf("task name %q is numeric", name)
	}
	if reservedNames[name] {
		return fmt.Errorf("task name %q is a reserved token", name)
	}
	return nil
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
