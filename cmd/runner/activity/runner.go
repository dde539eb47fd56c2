package activity

import (
	"context"
	"fmt"

	"github.com/lemline/lemline/cmd/runner/dsl"
	"github.com/lemline/lemline/cmd/runner/expr"
	"github.com/lemline/lemline/cmd/runner/graph"
	"github.com/lemline/lemline/common/logger"
)

// Request carries everything a runner needs to execute one activity
type Request struct {
	Task     *dsl.Task
	Position string
	Input    any // the task's transformed input
	Workflow *dsl.Workflow
	Secrets  map[string]any
	Scope    map[string]any
	Eval     *expr.Evaluator
}

// Runner executes one activity kind. A *dsl.Error return is raised into the
// workflow; the Instance field is filled in by the engine.
type Runner interface {
	Run(ctx context.Context, req *Request) (any, *dsl.Error)
}

// Publisher is the outbound sink runners may publish to
type Publisher interface {
	Publish(ctx context.Context, body string) error
}

// Registry maps activity node kinds to their runners
type Registry map[graph.Kind]Runner

// DefaultRegistry wires the supported runners; kinds the runtime cannot
// execute resolve to a runner that raises CONFIGURATION.
func DefaultRegistry(sink Publisher, log *logger.Logger) Registry {
	return Registry{
		graph.KindCallHTTP:     NewHTTPRunner(log),
		graph.KindRun:          NewProcessRunner(log),
		graph.KindEmit:         NewEmitRunner(sink, log),
		graph.KindCallGRPC:     unsupported("grpc calls"),
		graph.KindCallOpenAPI:  unsupported("openapi calls"),
		graph.KindCallAsyncAPI: unsupported("asyncapi calls"),
		graph.KindListen:       unsupported("listen tasks"),
	}
}

type unsupportedRunner struct {
	what string
}

func unsupported(what string) Runner {
	return &unsupportedRunner{what: what}
}

func (r *unsupportedRunner) Run(ctx context.Context, req *Request) (any, *dsl.Error) {
	return nil, dsl.NewConfigurationError(fmt.Sprintf("%s are not supported by this runtime", r.what))
}
