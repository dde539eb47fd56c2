package dsl

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Flow directives. Anything else is the name of a sibling task.
const (
	DirectiveContinue = "continue"
	DirectiveExit     = "exit"
	DirectiveEnd      = "end"
)

// Task is the task union. Exactly one variant field is set; common fields
// apply to every kind.
type Task struct {
	// Common fields
	If     *string `json:"if,omitempty" yaml:"if,omitempty"`
	Input  *Input  `json:"input,omitempty" yaml:"input,omitempty"`
	Output *Output `json:"output,omitempty" yaml:"output,omitempty"`
	Export *Export `json:"export,omitempty" yaml:"export,omitempty"`
	Then   string  `json:"then,omitempty" yaml:"then,omitempty"`

	// Variants
	Do     TaskList       `json:"do,omitempty" yaml:"do,omitempty"`
	Fork   *ForkTask      `json:"fork,omitempty" yaml:"fork,omitempty"`
	Try    TaskList       `json:"try,omitempty" yaml:"try,omitempty"`
	Catch  *CatchBlock    `json:"catch,omitempty" yaml:"catch,omitempty"`
	For    *ForClause     `json:"for,omitempty" yaml:"for,omitempty"`
	While  *string        `json:"while,omitempty" yaml:"while,omitempty"`
	Switch SwitchCases    `json:"switch,omitempty" yaml:"switch,omitempty"`
	Set    map[string]any `json:"set,omitempty" yaml:"set,omitempty"`
	Raise  *RaiseClause   `json:"raise,omitempty" yaml:"raise,omitempty"`
	Wait   *Duration      `json:"wait,omitempty" yaml:"wait,omitempty"`
	Emit   *EmitClause    `json:"emit,omitempty" yaml:"emit,omitempty"`
	Listen *ListenClause  `json:"listen,omitempty" yaml:"listen,omitempty"`
	Run    *RunClause     `json:"run,omitempty" yaml:"run,omitempty"`
	Call   string         `json:"call,omitempty" yaml:"call,omitempty"`
	With   map[string]any `json:"with,omitempty" yaml:"with,omitempty"`
}

// NamedTask pairs a task with its declared name, preserving document order
type NamedTask struct {
	Name string
	Task *Task
}

// TaskList is an ordered list of named tasks. In the document each entry is
// a single-key map: - <name>: <task>.
type TaskList []*NamedTask

// UnmarshalYAML decodes the DSL's list-of-single-key-maps form
func (l *TaskList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("task list must be a sequence, got %s", kindName(node.Kind))
	}

	out := make(TaskList, 0, len(node.Content))
	for _, item := range node.Content {
		if item.Kind != yaml.MappingNode || len(item.Content) != 2 {
			return fmt.Errorf("task list entry must be a single-key map")
		}

		name := item.Content[0].Value
		task := &Task{}
		if err := item.Content[1].Decode(task); err != nil {
			return fmt.Errorf("task %q: %w", name, err)
		}

		out = append(out, &NamedTask{Name: name, Task: task})
	}

	*l = out
	return nil
}

// Get returns the task with the given name
func (l TaskList) Get(name string) (*NamedTask, bool) {
	for _, nt := range l {
		if nt.Name == name {
			return nt, true
		}
	}
	return nil, false
}

// SwitchCase is one case of a switch task
type SwitchCase struct {
	Name string
	When *string `yaml:"when,omitempty"`
	Then string  `yaml:"then,omitempty"`
}

// SwitchCases is the ordered case list; entries are single-key maps like
// the task list.
type SwitchCases []*SwitchCase

// UnmarshalYAML decodes the list-of-single-key-maps form
func (c *SwitchCases) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("switch must be a sequence, got %s", kindName(node.Kind))
	}

	out := make(SwitchCases, 0, len(node.Content))
	for _, item := range node.Content {
		if item.Kind != yaml.MappingNode || len(item.Content) != 2 {
			return fmt.Errorf("switch entry must be a single-key map")
		}

		sc := &SwitchCase{Name: item.Content[0].Value}
		if err := item.Content[1].Decode(sc); err != nil {
			return fmt.Errorf("switch case %q: %w", sc.Name, err)
		}

		out = append(out, sc)
	}

	*c = out
	return nil
}

// ForkTask declares parallel branches. Execution is not supported; the
// branches are parsed and addressed so positions stay stable.
type ForkTask struct {
	Branches TaskList `json:"branches" yaml:"branches"`
	Compete  bool     `json:"compete,omitempty" yaml:"compete,omitempty"`
}

// CatchBlock configures error handling for a try task
type CatchBlock struct {
	Errors     *ErrorFilter `json:"errors,omitempty" yaml:"errors,omitempty"`
	As         string       `json:"as,omitempty" yaml:"as,omitempty"` // default "error"
	When       *string      `json:"when,omitempty" yaml:"when,omitempty"`
	ExceptWhen *string      `json:"exceptWhen,omitempty" yaml:"exceptWhen,omitempty"`
	Retry      *RetryRef    `json:"retry,omitempty" yaml:"retry,omitempty"`
	Do         TaskList     `json:"do,omitempty" yaml:"do,omitempty"`
}

// ErrorAs returns the variable name the caught error is bound to
func (c *CatchBlock) ErrorAs() string {
	if c != nil && c.As != "" {
		return c.As
	}
	return "error"
}

// ErrorFilter matches errors by their fields; every present field must
// match exactly
type ErrorFilter struct {
	With *ErrorDef `json:"with,omitempty" yaml:"with,omitempty"`
}

// ForClause configures iteration
type ForClause struct {
	Each string `json:"each,omitempty" yaml:"each,omitempty"` // default "item"
	In   string `json:"in" yaml:"in"`
	At   string `json:"at,omitempty" yaml:"at,omitempty"` // default "index"
}

// EachVar returns the iteration variable name
func (f *ForClause) EachVar() string {
	if f.Each != "" {
		return f.Each
	}
	return "item"
}

// AtVar returns the index variable name
func (f *ForClause) AtVar() string {
	if f.At != "" {
		return f.At
	}
	return "index"
}

// RaiseClause raises an error, inline or by name from use.errors
type RaiseClause struct {
	Error *RaiseError `json:"error" yaml:"error"`
}

// RaiseError is either a named reference or an inline error definition
type RaiseError struct {
	Ref string
	Def *ErrorDef
}

// UnmarshalYAML accepts a scalar name or an inline definition
func (r *RaiseError) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		r.Ref = node.Value
		return nil
	}

	def := &ErrorDef{}
	if err := node.Decode(def); err != nil {
		return fmt.Errorf("invalid raise error: %w", err)
	}
	r.Def = def
	return nil
}

// EmitClause publishes an event
type EmitClause struct {
	Event *EmitEvent `json:"event" yaml:"event"`
}

// EmitEvent carries the event attributes; string values may be expressions
type EmitEvent struct {
	With map[string]any `json:"with" yaml:"with"`
}

// ListenClause declares event consumption. Correlation is unspecified in
// this runtime; the task parses but cannot execute.
type ListenClause struct {
	To      map[string]any        `json:"to" yaml:"to"`
	Foreach *SubscriptionIterator `json:"foreach,omitempty" yaml:"foreach,omitempty"`
}

// SubscriptionIterator processes each consumed event with a task body
type SubscriptionIterator struct {
	Item string   `json:"item,omitempty" yaml:"item,omitempty"`
	At   string   `json:"at,omitempty" yaml:"at,omitempty"`
	Do   TaskList `json:"do,omitempty" yaml:"do,omitempty"`
}

// SubscriptionForeach extracts the subscription iterator of an asyncapi
// call's with block, when present
func SubscriptionForeach(with map[string]any) (*SubscriptionIterator, error) {
	sub, ok := with["subscription"].(map[string]any)
	if !ok {
		return nil, nil
	}
	raw, ok := sub["foreach"]
	if !ok {
		return nil, nil
	}
	encoded, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid subscription foreach: %w", err)
	}
	it := &SubscriptionIterator{}
	if err := yaml.Unmarshal(encoded, it); err != nil {
		return nil, fmt.Errorf("invalid subscription foreach: %w", err)
	}
	return it, nil
}

// RunClause spawns an external process
type RunClause struct {
	Script    *ScriptSpec `json:"script,omitempty" yaml:"script,omitempty"`
	Shell     *ShellSpec  `json:"shell,omitempty" yaml:"shell,omitempty"`
	Container any         `json:"container,omitempty" yaml:"container,omitempty"`
	Workflow  any         `json:"workflow,omitempty" yaml:"workflow,omitempty"`
	Await     *bool       `json:"await,omitempty" yaml:"await,omitempty"`   // default true
	Return    string      `json:"return,omitempty" yaml:"return,omitempty"` // stdout|stderr|code|all|none
}

// ShouldAwait reports whether the task blocks on process completion
func (r *RunClause) ShouldAwait() bool {
	return r.Await == nil || *r.Await
}

// ReturnMode returns the configured return mode, defaulting to stdout
func (r *RunClause) ReturnMode() string {
	if r.Return == "" {
		return "stdout"
	}
	return r.Return
}

// ScriptSpec runs an interpreter over inline code
type ScriptSpec struct {
	Language  string         `json:"language,omitempty" yaml:"language,omitempty"`
	Code      string         `json:"code" yaml:"code"`
	Arguments map[string]any `json:"arguments,omitempty" yaml:"arguments,omitempty"`
}

// ShellSpec runs a shell command
type ShellSpec struct {
	Command   string         `json:"command" yaml:"command"`
	Arguments map[string]any `json:"arguments,omitempty" yaml:"arguments,omitempty"`
}

func kindName(kind yaml.Kind) string {
	switch kind {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}
