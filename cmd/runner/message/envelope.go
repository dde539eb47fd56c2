package message

import (
	"encoding/json"
	"fmt"
)

// Envelope is the on-the-wire message: workflow name and version, the
// non-default per-position states, and the current position.
type Envelope struct {
	Name     string                `json:"n"`
	Version  string                `json:"v"`
	States   map[string]*NodeState `json:"s"`
	Position string                `json:"p"`
}

// New creates an envelope pointing at the root with no state
func New(name, version string) *Envelope {
	return &Envelope{
		Name:    name,
		Version: version,
		States:  make(map[string]*NodeState),
	}
}

// Encode serializes the envelope, dropping states that are still default
func (e *Envelope) Encode() (string, error) {
	compact := &Envelope{
		Name:     e.Name,
		Version:  e.Version,
		States:   make(map[string]*NodeState, len(e.States)),
		Position: e.Position,
	}
	for position, state := range e.States {
		if state != nil && !state.IsDefault() {
			compact.States[position] = state
		}
	}

	raw, err := json.Marshal(compact)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(raw), nil
}

// Decode parses an envelope from its wire form
func Decode(body string) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if e.Name == "" {
		return nil, fmt.Errorf("decode envelope: missing workflow name")
	}
	if e.Version == "" {
		return nil, fmt.Errorf("decode envelope: missing workflow version")
	}
	if e.States == nil {
		e.States = make(map[string]*NodeState)
	}
	return &e, nil
}
