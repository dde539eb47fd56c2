package activity

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/lemline/lemline/cmd/runner/dsl"
	"github.com/lemline/lemline/cmd/runner/expr"
)

var uriTemplateVar = regexp.MustCompile(`\{(\w+)\}`)

// resolveEndpoint resolves a raw endpoint (literal URL, URI template, or
// ${expr}) against the task's transformed input
func resolveEndpoint(req *Request, raw string) (string, *dsl.Error) {
	if expr.IsExpression(raw) {
		resolved, err := req.Eval.EvalStringResult(req.Input, raw, req.Scope)
		if err != nil {
			return "", err
		}
		raw = resolved
	}

	if !strings.Contains(raw, "{") {
		return raw, nil
	}

	input, _ := expr.Normalize(req.Input).(map[string]any)
	var missing string
	out := uriTemplateVar.ReplaceAllStringFunc(raw, func(match string) string {
		key := match[1 : len(match)-1]
		value, ok := input[key]
		if !ok {
			missing = key
			return match
		}
		return fmt.Sprintf("%v", value)
	})
	if missing != "" {
		return "", dsl.NewExpressionError(raw, fmt.Sprintf("uri template variable %q not found in input", missing))
	}

	return out, nil
}

// resolveSecretValue resolves a credential value: a ${expr} is evaluated
// first, then the result (or a bare key) is looked up in the workflow's
// secrets; unknown keys pass through as literals.
func resolveSecretValue(req *Request, raw string) (string, *dsl.Error) {
	if expr.IsExpression(raw) {
		resolved, err := req.Eval.EvalStringResult(req.Input, raw, req.Scope)
		if err != nil {
			return "", err
		}
		raw = resolved
	}

	if secret, ok := req.Secrets[raw]; ok {
		if s, isString := secret.(string); isString {
			return s, nil
		}
		encoded, err := json.Marshal(secret)
		if err != nil {
			return "", dsl.NewConfigurationError(fmt.Sprintf("secret %q is not encodable: %v", raw, err))
		}
		return string(encoded), nil
	}

	return raw, nil
}

// resolveAuthentication decodes the task's authentication setting, following
// a named reference through use.authentications
func resolveAuthentication(req *Request, value any) (*dsl.AuthPolicy, *dsl.Error) {
	if value == nil {
		return nil, nil
	}

	if name, ok := value.(string); ok {
		policy, found := req.Workflow.NamedAuthentication(name)
		if !found {
			return nil, dsl.NewConfigurationError(
				fmt.Sprintf("authentication %q is not declared under use.authentications", name))
		}
		return policy, nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, dsl.NewConfigurationError(fmt.Sprintf("invalid authentication: %v", err))
	}
	policy := &dsl.AuthPolicy{}
	if err := json.Unmarshal(raw, policy); err != nil {
		return nil, dsl.NewConfigurationError(fmt.Sprintf("invalid authentication: %v", err))
	}

	if policy.Use != "" {
		named, found := req.Workflow.NamedAuthentication(policy.Use)
		if !found {
			return nil, dsl.NewConfigurationError(
				fmt.Sprintf("authentication %q is not declared under use.authentications", policy.Use))
		}
		return named, nil
	}

	return policy, nil
}

// stringMap evaluates a template map and coerces all values to strings
func stringMap(req *Request, raw any) (map[string]string, *dsl.Error) {
	if raw == nil {
		return nil, nil
	}

	evaluated, err := req.Eval.EvalValue(req.Input, expr.Normalize(raw), req.Scope, false)
	if err != nil {
		return nil, err
	}
	// an absent block decodes as a typed-nil map and normalizes to null
	if evaluated == nil {
		return nil, nil
	}

	asMap, ok := evaluated.(map[string]any)
	if !ok {
		return nil, dsl.NewValidationError(fmt.Sprintf("expected a map of primitives, got %T", evaluated))
	}

	out := make(map[string]string, len(asMap))
	for key, value := range asMap {
		switch v := value.(type) {
		case string:
			out[key] = v
		case nil:
			out[key] = ""
		default:
			out[key] = fmt.Sprintf("%v", v)
		}
	}
	return out, nil
}
