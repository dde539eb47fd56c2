package dsl

import (
	"fmt"
)

// Error type URIs, per the Serverless Workflow error taxonomy. The string
// identifiers are stable and part of the wire contract of raised errors.
const (
	ErrTypeConfiguration  = "https://serverlessworkflow.io/spec/1.0.0/errors/configuration"
	ErrTypeValidation     = "https://serverlessworkflow.io/spec/1.0.0/errors/validation"
	ErrTypeExpression     = "https://serverlessworkflow.io/spec/1.0.0/errors/expression"
	ErrTypeAuthentication = "https://serverlessworkflow.io/spec/1.0.0/errors/authentication"
	ErrTypeAuthorization  = "https://serverlessworkflow.io/spec/1.0.0/errors/authorization"
	ErrTypeTimeout        = "https://serverlessworkflow.io/spec/1.0.0/errors/timeout"
	ErrTypeCommunication  = "https://serverlessworkflow.io/spec/1.0.0/errors/communication"
	ErrTypeRuntime        = "https://serverlessworkflow.io/spec/1.0.0/errors/runtime"
)

// Error is a workflow error: first-class JSON, exposed to catch blocks.
// Instance is the JSON pointer of the raising node.
type Error struct {
	Type     string `json:"type"`
	Status   int    `json:"status"`
	Instance string `json:"instance,omitempty"`
	Title    string `json:"title,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%d): %s: %s", e.Type, e.Status, e.Title, e.Detail)
	}
	return fmt.Sprintf("%s (%d): %s", e.Type, e.Status, e.Title)
}

// AsJSON returns the error as a plain JSON object, for binding into
// expression scopes and catch variables
func (e *Error) AsJSON() map[string]any {
	out := map[string]any{
		"type":   e.Type,
		"status": e.Status,
	}
	if e.Instance != "" {
		out["instance"] = e.Instance
	}
	if e.Title != "" {
		out["title"] = e.Title
	}
	if e.Detail != "" {
		out["detail"] = e.Detail
	}
	return out
}

// NewConfigurationError signals a missing definition, secret, policy or error name
func NewConfigurationError(detail string) *Error {
	return &Error{Type: ErrTypeConfiguration, Status: 400, Title: "Configuration Error", Detail: detail}
}

// NewValidationError signals a schema validation failure
func NewValidationError(detail string) *Error {
	return &Error{Type: ErrTypeValidation, Status: 400, Title: "Validation Error", Detail: detail}
}

// NewExpressionError signals an evaluation failure or a wrong result type
func NewExpressionError(expression, detail string) *Error {
	return &Error{
		Type:   ErrTypeExpression,
		Status: 400,
		Title:  "Expression Error",
		Detail: fmt.Sprintf("%s: expression %q", detail, expression),
	}
}

// NewAuthenticationError signals missing or invalid credentials
func NewAuthenticationError(detail string) *Error {
	return &Error{Type: ErrTypeAuthentication, Status: 401, Title: "Authentication Error", Detail: detail}
}

// NewAuthorizationError signals a policy denial
func NewAuthorizationError(detail string) *Error {
	return &Error{Type: ErrTypeAuthorization, Status: 403, Title: "Authorization Error", Detail: detail}
}

// NewTimeoutError signals a breached task or workflow timeout
func NewTimeoutError(detail string) *Error {
	return &Error{Type: ErrTypeTimeout, Status: 408, Title: "Timeout Error", Detail: detail}
}

// NewCommunicationError signals an I/O failure; status carries the remote
// status code when one exists, 500 otherwise
func NewCommunicationError(status int, detail string) *Error {
	if status == 0 {
		status = 500
	}
	return &Error{Type: ErrTypeCommunication, Status: status, Title: "Communication Error", Detail: detail}
}

// NewRuntimeError signals an unexpected internal failure
func NewRuntimeError(detail string) *Error {
	return &Error{Type: ErrTypeRuntime, Status: 500, Title: "Runtime Error", Detail: detail}
}
