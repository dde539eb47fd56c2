package dsl

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Workflow is a parsed Serverless Workflow document
type Workflow struct {
	Document Document  `json:"document" yaml:"document"`
	Input    *Input    `json:"input,omitempty" yaml:"input,omitempty"`
	Use      *Use      `json:"use,omitempty" yaml:"use,omitempty"`
	Do       TaskList  `json:"do" yaml:"do"`
	Output   *Output   `json:"output,omitempty" yaml:"output,omitempty"`
	Evaluate *Evaluate `json:"evaluate,omitempty" yaml:"evaluate,omitempty"`
}

// Document identifies the workflow
type Document struct {
	DSL       string `json:"dsl" yaml:"dsl"`
	Namespace string `json:"namespace" yaml:"namespace"`
	Name      string `json:"name" yaml:"name"`
	Version   string `json:"version" yaml:"version"`
}

// Evaluate selects the runtime expression dialect
type Evaluate struct {
	Language string `json:"language,omitempty" yaml:"language,omitempty"` // "jq" (default) or "cel"
}

// Use declares the workflow's reusable resources
type Use struct {
	Secrets         []string                `json:"secrets,omitempty" yaml:"secrets,omitempty"`
	Errors          map[string]*ErrorDef    `json:"errors,omitempty" yaml:"errors,omitempty"`
	Retries         map[string]*RetryPolicy `json:"retries,omitempty" yaml:"retries,omitempty"`
	Authentications map[string]*AuthPolicy  `json:"authentications,omitempty" yaml:"authentications,omitempty"`
}

// ErrorDef is a named error declaration under use.errors
type ErrorDef struct {
	Type     string `json:"type,omitempty" yaml:"type,omitempty"`
	Status   int    `json:"status,omitempty" yaml:"status,omitempty"`
	Instance string `json:"instance,omitempty" yaml:"instance,omitempty"`
	Title    string `json:"title,omitempty" yaml:"title,omitempty"`
	Detail   string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Input configures a task or workflow entry: schema validation then projection
type Input struct {
	Schema *Schema `json:"schema,omitempty" yaml:"schema,omitempty"`
	From   any     `json:"from,omitempty" yaml:"from,omitempty"`
}

// Output configures the exit projection and validation
type Output struct {
	Schema *Schema `json:"schema,omitempty" yaml:"schema,omitempty"`
	As     any     `json:"as,omitempty" yaml:"as,omitempty"`
}

// Export configures the context update after a task completes
type Export struct {
	Schema *Schema `json:"schema,omitempty" yaml:"schema,omitempty"`
	As     any     `json:"as,omitempty" yaml:"as,omitempty"`
}

// Schema is an inline JSON Schema or an external reference
type Schema struct {
	Format   string    `json:"format,omitempty" yaml:"format,omitempty"`
	Document any       `json:"document,omitempty" yaml:"document,omitempty"`
	Resource *Endpoint `json:"resource,omitempty" yaml:"resource,omitempty"`
}

// Endpoint is a literal URI, a URI template, or a runtime expression
type Endpoint struct {
	URI string
}

// UnmarshalYAML accepts both the scalar and the {uri: …} object form
func (e *Endpoint) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		e.URI = node.Value
		return nil
	}

	var obj struct {
		URI      string `yaml:"uri"`
		Endpoint string `yaml:"endpoint"`
	}
	if err := node.Decode(&obj); err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	if obj.URI != "" {
		e.URI = obj.URI
	} else {
		e.URI = obj.Endpoint
	}
	return nil
}

// AuthPolicy is an authentication policy, inline or named under
// use.authentications
type AuthPolicy struct {
	Basic  *BasicAuth  `json:"basic,omitempty" yaml:"basic,omitempty"`
	Bearer *BearerAuth `json:"bearer,omitempty" yaml:"bearer,omitempty"`
	Use    string      `json:"use,omitempty" yaml:"use,omitempty"` // named reference
}

// BasicAuth carries HTTP basic credentials. Values may be secret names.
type BasicAuth struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// BearerAuth carries a bearer token. The value may be a secret name.
type BearerAuth struct {
	Token string `json:"token" yaml:"token"`
}

// Parse parses a workflow document from YAML or JSON source
func Parse(source []byte) (*Workflow, error) {
	var wf Workflow
	if err := yaml.Unmarshal(source, &wf); err != nil {
		return nil, fmt.Errorf("parse workflow document: %w", err)
	}

	if err := wf.Validate(); err != nil {
		return nil, err
	}

	return &wf, nil
}

// Validate checks the structural rules the node tree relies on
func (w *Workflow) Validate() error {
	if w.Document.Name == "" {
		return fmt.Errorf("workflow document.name is required")
	}
	if w.Document.Version == "" {
		return fmt.Errorf("workflow document.version is required")
	}
	if w.Document.DSL == "" {
		return fmt.Errorf("workflow document.dsl is required")
	}
	if len(w.Do) == 0 {
		return fmt.Errorf("workflow has no tasks")
	}
	if w.Evaluate != nil {
		switch w.Evaluate.Language {
		case "", "jq", "cel":
		default:
			return fmt.Errorf("unsupported expression language: %s", w.Evaluate.Language)
		}
	}
	return nil
}

// Language returns the expression dialect, defaulting to jq
func (w *Workflow) Language() string {
	if w.Evaluate != nil && w.Evaluate.Language != "" {
		return w.Evaluate.Language
	}
	return "jq"
}

// NamedError resolves a named error from use.errors
func (w *Workflow) NamedError(name string) (*ErrorDef, bool) {
	if w.Use == nil || w.Use.Errors == nil {
		return nil, false
	}
	def, ok := w.Use.Errors[name]
	return def, ok
}

// NamedRetry resolves a named retry policy from use.retries
func (w *Workflow) NamedRetry(name string) (*RetryPolicy, bool) {
	if w.Use == nil || w.Use.Retries == nil {
		return nil, false
	}
	policy, ok := w.Use.Retries[name]
	return policy, ok
}

// NamedAuthentication resolves a named policy from use.authentications
func (w *Workflow) NamedAuthentication(name string) (*AuthPolicy, bool) {
	if w.Use == nil || w.Use.Authentications == nil {
		return nil, false
	}
	policy, ok := w.Use.Authentications[name]
	return policy, ok
}

// SecretNames returns the secret names declared under use.secrets
func (w *Workflow) SecretNames() []string {
	if w.Use == nil {
		return nil
	}
	return w.Use.Secrets
}
