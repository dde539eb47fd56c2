package expr

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/itchyny/gojq"
	"github.com/lemline/lemline/cmd/runner/dsl"
)

// Languages supported by the evaluator
const (
	LanguageJQ  = "jq"
	LanguageCEL = "cel"
)

// Evaluator evaluates runtime expressions against an input and a scope.
// Compiled expressions are cached; the scope's keys are part of the cache
// key because both dialects bind variables at compile time.
type Evaluator struct {
	language string
	mu       sync.RWMutex
	jqCache  map[string]*gojq.Code
}

// New creates an evaluator for the given dialect ("jq" or "cel")
func New(language string) *Evaluator {
	if language == "" {
		language = LanguageJQ
	}
	return &Evaluator{
		language: language,
		jqCache:  make(map[string]*gojq.Code),
	}
}

// IsExpression reports whether s is syntactically an interpolated
// expression, i.e. ${ … }
func IsExpression(s string) bool {
	trimmed := strings.TrimSpace(s)
	return strings.HasPrefix(trimmed, "${") && strings.HasSuffix(trimmed, "}")
}

// Strip removes the ${ … } wrapper, reporting whether one was present
func Strip(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "${") || !strings.HasSuffix(trimmed, "}") {
		return s, false
	}
	return strings.TrimSpace(trimmed[2 : len(trimmed)-1]), true
}

// Eval evaluates raw expression text against input with the scope's keys
// bound as variables
func (e *Evaluator) Eval(input any, expression string, scope map[string]any) (any, *dsl.Error) {
	switch e.language {
	case LanguageCEL:
		return e.evalCEL(input, expression, scope)
	default:
		return e.evalJQ(input, expression, scope)
	}
}

// EvalString evaluates a string that may be an interpolated expression.
// A bare string is returned untouched unless force is set, in which case it
// is treated as a raw expression.
func (e *Evaluator) EvalString(input any, s string, scope map[string]any, force bool) (any, *dsl.Error) {
	if stripped, ok := Strip(s); ok {
		return e.Eval(input, stripped, scope)
	}
	if force {
		return e.Eval(input, s, scope)
	}
	return s, nil
}

// EvalValue applies template semantics: recursively descend the value and
// evaluate every string leaf, preserving structure.
func (e *Evaluator) EvalValue(input any, value any, scope map[string]any, force bool) (any, *dsl.Error) {
	switch v := value.(type) {
	case string:
		return e.EvalString(input, v, scope, force)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, elem := range v {
			evaluated, err := e.EvalValue(input, elem, scope, force)
			if err != nil {
				return nil, err
			}
			out[key] = evaluated
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			evaluated, err := e.EvalValue(input, elem, scope, force)
			if err != nil {
				return nil, err
			}
			out[i] = evaluated
		}
		return out, nil
	default:
		return value, nil
	}
}

// EvalBoolean evaluates an expression that must produce a boolean. Raw
// expression strings are accepted.
func (e *Evaluator) EvalBoolean(input any, expression string, scope map[string]any) (bool, *dsl.Error) {
	result, err := e.EvalString(input, expression, scope, true)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, dsl.NewExpressionError(expression, fmt.Sprintf("expected boolean result, got %T", result))
	}
	return b, nil
}

// EvalStringResult evaluates an expression that must produce a string
func (e *Evaluator) EvalStringResult(input any, expression string, scope map[string]any) (string, *dsl.Error) {
	result, err := e.EvalString(input, expression, scope, true)
	if err != nil {
		return "", err
	}
	s, ok := result.(string)
	if !ok {
		return "", dsl.NewExpressionError(expression, fmt.Sprintf("expected string result, got %T", result))
	}
	return s, nil
}

// EvalList evaluates an expression that must produce a list
func (e *Evaluator) EvalList(input any, expression string, scope map[string]any) ([]any, *dsl.Error) {
	result, err := e.EvalString(input, expression, scope, true)
	if err != nil {
		return nil, err
	}
	list, ok := result.([]any)
	if !ok {
		return nil, dsl.NewExpressionError(expression, fmt.Sprintf("expected list result, got %T", result))
	}
	return list, nil
}

// evalJQ runs a jq expression; scope keys are available as $name variables
func (e *Evaluator) evalJQ(input any, expression string, scope map[string]any) (any, *dsl.Error) {
	names, values := scopeVariables(scope)

	code, err := e.compileJQ(expression, names)
	if err != nil {
		return nil, dsl.NewExpressionError(expression, err.Error())
	}

	iter := code.Run(Normalize(input), values...)
	result, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if runErr, isErr := result.(error); isErr {
		return nil, dsl.NewExpressionError(expression, runErr.Error())
	}

	return result, nil
}

// compileJQ compiles and caches a jq query for the given variable set
func (e *Evaluator) compileJQ(expression string, names []string) (*gojq.Code, error) {
	key := expression + "\x00" + strings.Join(names, ",")

	e.mu.RLock()
	code, exists := e.jqCache[key]
	e.mu.RUnlock()
	if exists {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	code, err = gojq.Compile(query, gojq.WithVariables(names))
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	e.mu.Lock()
	e.jqCache[key] = code
	e.mu.Unlock()

	return code, nil
}

// scopeVariables returns deterministic variable names ($-prefixed) and their
// values, in matching order
func scopeVariables(scope map[string]any) ([]string, []any) {
	keys := make([]string, 0, len(scope))
	for key := range scope {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	names := make([]string, len(keys))
	values := make([]any, len(keys))
	for i, key := range keys {
		names[i] = "$" + key
		values[i] = Normalize(scope[key])
	}
	return names, values
}

// Normalize round-trips a value through JSON so both dialects see only
// JSON-native types
func Normalize(value any) any {
	switch value.(type) {
	case nil, bool, string, float64:
		return value
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return value
	}
	return out
}
