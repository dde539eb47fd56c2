package expr

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/lemline/lemline/cmd/runner/dsl"
)

// inputVar is the CEL binding carrying the expression input (jq's ".")
const inputVar = "input"

var (
	celMu    sync.RWMutex
	celCache = make(map[string]cel.Program)
)

// evalCEL runs a CEL expression; scope keys are plain variables and the
// node input is bound as "input"
func (e *Evaluator) evalCEL(input any, expression string, scope map[string]any) (any, *dsl.Error) {
	names, values := scopeVariables(scope)

	prg, err := compileCEL(expression, names)
	if err != nil {
		return nil, dsl.NewExpressionError(expression, err.Error())
	}

	activation := map[string]any{inputVar: Normalize(input)}
	for i, name := range names {
		activation[strings.TrimPrefix(name, "$")] = values[i]
	}

	out, _, err := prg.Eval(activation)
	if err != nil {
		return nil, dsl.NewExpressionError(expression, err.Error())
	}

	return Normalize(out.Value()), nil
}

// compileCEL compiles and caches a CEL program for the given variable set
func compileCEL(expression string, names []string) (cel.Program, error) {
	key := expression + "\x00" + strings.Join(names, ",")

	celMu.RLock()
	prg, exists := celCache[key]
	celMu.RUnlock()
	if exists {
		return prg, nil
	}

	opts := []cel.EnvOption{cel.Variable(inputVar, cel.DynType)}
	for _, name := range names {
		opts = append(opts, cel.Variable(strings.TrimPrefix(name, "$"), cel.DynType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}

	prg, err = env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("create CEL program: %w", err)
	}

	celMu.Lock()
	celCache[key] = prg
	celMu.Unlock()

	return prg, nil
}
