package graph

import (
	"github.com/lemline/lemline/cmd/runner/dsl"
)

// Kind is the node type tag
type Kind string

const (
	KindRoot         Kind = "root"
	KindDo           Kind = "do"
	KindFor          Kind = "for"
	KindTry          Kind = "try"
	KindFork         Kind = "fork"
	KindRaise        Kind = "raise"
	KindSet          Kind = "set"
	KindSwitch       Kind = "switch"
	KindCallHTTP     Kind = "call-http"
	KindCallGRPC     Kind = "call-grpc"
	KindCallOpenAPI  Kind = "call-openapi"
	KindCallAsyncAPI Kind = "call-asyncapi"
	KindEmit         Kind = "emit"
	KindListen       Kind = "listen"
	KindRun          Kind = "run"
	KindWait         Kind = "wait"
)

// IsActivity partitions node kinds into flow nodes (synchronous, no I/O)
// and activities (cross the message boundary)
func IsActivity(kind Kind) bool {
	switch kind {
	case KindCallHTTP, KindCallGRPC, KindCallOpenAPI, KindCallAsyncAPI,
		KindEmit, KindListen, KindRun, KindWait:
		return true
	default:
		return false
	}
}

// Node is one immutable node of a compiled workflow tree. Parent and
// Children are arena indices; -1 means no parent.
type Node struct {
	Position string
	Kind     Kind
	Name     string
	Task     *dsl.Task // nil for the root and for synthetic list nodes
	Parent   int
	Children []int
}

// Tree is the compiled, immutable node tree of one workflow definition.
// Nodes form an arena; positions are JSON pointers derived from the DSL
// layout.
type Tree struct {
	Workflow *dsl.Workflow
	Nodes    []*Node
	index    map[string]int
}

// Root returns the root node
func (t *Tree) Root() *Node {
	return t.Nodes[0]
}

// At returns the node at the given position
func (t *Tree) At(position string) (*Node, bool) {
	i, ok := t.index[position]
	if !ok {
		return nil, false
	}
	return t.Nodes[i], true
}

// ParentOf returns the parent node, or nil for the root
func (t *Tree) ParentOf(n *Node) *Node {
	if n.Parent < 0 {
		return nil
	}
	return t.Nodes[n.Parent]
}

// ChildrenOf returns the child nodes in order
func (t *Tree) ChildrenOf(n *Node) []*Node {
	out := make([]*Node, len(n.Children))
	for i, idx := range n.Children {
		out[i] = t.Nodes[idx]
	}
	return out
}

// TryBranch returns the try-branch list node of a Try node
func (t *Tree) TryBranch(n *Node) *Node {
	for _, idx := range n.Children {
		child := t.Nodes[idx]
		if child.Position == n.Position+"/try" {
			return child
		}
	}
	return nil
}

// CatchBranch returns the catch-do list node of a Try node, or nil
func (t *Tree) CatchBranch(n *Node) *Node {
	for _, idx := range n.Children {
		child := t.Nodes[idx]
		if child.Position == n.Position+"/catch/do" {
			return child
		}
	}
	return nil
}
