package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lemline/lemline/cmd/runner/dsl"
	"github.com/lemline/lemline/cmd/runner/expr"
	"github.com/lemline/lemline/common/logger"
)

// EmitRunner publishes cloud events built from emit tasks
type EmitRunner struct {
	sink Publisher
	log  *logger.Logger
}

func NewEmitRunner(sink Publisher, log *logger.Logger) *EmitRunner {
	return &EmitRunner{sink: sink, log: log}
}

// Run evaluates the event template, fills defaults and publishes it
func (r *EmitRunner) Run(ctx context.Context, req *Request) (any, *dsl.Error) {
	if req.Task.Emit == nil || req.Task.Emit.Event == nil {
		return nil, dsl.NewConfigurationError("emit task has no event")
	}

	evaluated, derr := req.Eval.EvalValue(req.Input, expr.Normalize(req.Task.Emit.Event.With), req.Scope, false)
	if derr != nil {
		return nil, derr
	}
	event, ok := evaluated.(map[string]any)
	if !ok {
		return nil, dsl.NewExpressionError("emit.event.with", "event attributes must evaluate to an object")
	}

	if _, ok := event["id"]; !ok {
		event["id"] = uuid.NewString()
	}
	if _, ok := event["time"]; !ok {
		event["time"] = time.Now().UTC().Format(time.RFC3339)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return nil, dsl.NewRuntimeError(fmt.Sprintf("encode event: %v", err))
	}
	if err := r.sink.Publish(ctx, string(body)); err != nil {
		return nil, dsl.NewCommunicationError(0, fmt.Sprintf("publish event: %v", err))
	}

	return event, nil
}
