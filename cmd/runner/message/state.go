package message

import (
	"encoding/json"
	"time"
)

// Default cursor value for childIndex and forIndex
const NoIndex = -1

// NodeState is the per-position mutable state of one node in one workflow
// instance. The short JSON keys are part of the wire contract; only
// non-default fields are encoded.
type NodeState struct {
	ChildIndex   int            // "i", default -1
	AttemptIndex int            // "try", default 0
	Variables    map[string]any // "var"
	RawInput     any            // "inp"
	RawOutput    any            // "out"; nil means "no output yet"
	Context      map[string]any // "ctx", root only
	WorkflowID   string         // "wid", root only
	StartedAt    *time.Time     // "sat", root only
	ForIndex     int            // "fori", default -1, For nodes only
}

// NewNodeState returns a state with all fields at their defaults
func NewNodeState() *NodeState {
	return &NodeState{
		ChildIndex: NoIndex,
		ForIndex:   NoIndex,
	}
}

// IsDefault reports whether every field still has its default value;
// default states are dropped on encode
func (s *NodeState) IsDefault() bool {
	return s.ChildIndex == NoIndex &&
		s.AttemptIndex == 0 &&
		len(s.Variables) == 0 &&
		s.RawInput == nil &&
		s.RawOutput == nil &&
		len(s.Context) == 0 &&
		s.WorkflowID == "" &&
		s.StartedAt == nil &&
		s.ForIndex == NoIndex
}

// wireState is the short-key JSON shape. Cursors are pointers so that the
// non-default zero (e.g. childIndex 0) survives encoding.
type wireState struct {
	ChildIndex   *int           `json:"i,omitempty"`
	AttemptIndex int            `json:"try,omitempty"`
	Variables    map[string]any `json:"var,omitempty"`
	RawInput     any            `json:"inp,omitempty"`
	RawOutput    any            `json:"out,omitempty"`
	Context      map[string]any `json:"ctx,omitempty"`
	WorkflowID   string         `json:"wid,omitempty"`
	StartedAt    *time.Time     `json:"sat,omitempty"`
	ForIndex     *int           `json:"fori,omitempty"`
}

// MarshalJSON encodes only non-default fields under their short keys
func (s *NodeState) MarshalJSON() ([]byte, error) {
	w := wireState{
		AttemptIndex: s.AttemptIndex,
		Variables:    s.Variables,
		RawInput:     s.RawInput,
		RawOutput:    s.RawOutput,
		Context:      s.Context,
		WorkflowID:   s.WorkflowID,
		StartedAt:    s.StartedAt,
	}
	if s.ChildIndex != NoIndex {
		i := s.ChildIndex
		w.ChildIndex = &i
	}
	if s.ForIndex != NoIndex {
		i := s.ForIndex
		w.ForIndex = &i
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the short-key shape, restoring defaults for absent
// fields
func (s *NodeState) UnmarshalJSON(data []byte) error {
	var w wireState
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	s.ChildIndex = NoIndex
	if w.ChildIndex != nil {
		s.ChildIndex = *w.ChildIndex
	}
	s.ForIndex = NoIndex
	if w.ForIndex != nil {
		s.ForIndex = *w.ForIndex
	}
	s.AttemptIndex = w.AttemptIndex
	s.Variables = w.Variables
	s.RawInput = w.RawInput
	s.RawOutput = w.RawOutput
	s.Context = w.Context
	s.WorkflowID = w.WorkflowID
	s.StartedAt = w.StartedAt
	return nil
}
