package dsl

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// RetryRef is either a named policy reference or an inline policy
type RetryRef struct {
	Ref    string
	Policy *RetryPolicy
}

// UnmarshalYAML accepts a scalar name or an inline policy
func (r *RetryRef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		r.Ref = node.Value
		return nil
	}

	policy := &RetryPolicy{}
	if err := node.Decode(policy); err != nil {
		return fmt.Errorf("invalid retry policy: %w", err)
	}
	r.Policy = policy
	return nil
}

// Resolve returns the policy, following a named reference through use.retries
func (r *RetryRef) Resolve(wf *Workflow) (*RetryPolicy, error) {
	if r == nil {
		return nil, nil
	}
	if r.Policy != nil {
		return r.Policy, nil
	}
	policy, ok := wf.NamedRetry(r.Ref)
	if !ok {
		return nil, NewConfigurationError(fmt.Sprintf("retry policy %q is not declared under use.retries", r.Ref))
	}
	return policy, nil
}

// RetryPolicy controls retry attempts after a caught error
type RetryPolicy struct {
	When       *string     `json:"when,omitempty" yaml:"when,omitempty"`
	ExceptWhen *string     `json:"exceptWhen,omitempty" yaml:"exceptWhen,omitempty"`
	Delay      *Duration   `json:"delay,omitempty" yaml:"delay,omitempty"`
	Backoff    *Backoff    `json:"backoff,omitempty" yaml:"backoff,omitempty"`
	Jitter     *Jitter     `json:"jitter,omitempty" yaml:"jitter,omitempty"`
	Limit      *RetryLimit `json:"limit,omitempty" yaml:"limit,omitempty"`
}

// Backoff selects the growth strategy; exactly one field is set
type Backoff struct {
	Constant    map[string]any `json:"constant,omitempty" yaml:"constant,omitempty"`
	Linear      map[string]any `json:"linear,omitempty" yaml:"linear,omitempty"`
	Exponential map[string]any `json:"exponential,omitempty" yaml:"exponential,omitempty"`
}

// Jitter adds a uniform random duration in [From, To]
type Jitter struct {
	From *Duration `json:"from,omitempty" yaml:"from,omitempty"`
	To   *Duration `json:"to,omitempty" yaml:"to,omitempty"`
}

// RetryLimit bounds retrying
type RetryLimit struct {
	Attempt  *AttemptLimit `json:"attempt,omitempty" yaml:"attempt,omitempty"`
	Duration *Duration     `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// AttemptLimit bounds the number of attempts
type AttemptLimit struct {
	Count    int       `json:"count,omitempty" yaml:"count,omitempty"`
	Duration *Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
}
