package activity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemline/lemline/cmd/runner/dsl"
	"github.com/lemline/lemline/cmd/runner/expr"
	"github.com/lemline/lemline/common/broker"
	"github.com/lemline/lemline/common/logger"
)

func newRequest(task *dsl.Task, input any) *Request {
	return &Request{
		Task:     task,
		Position: "/do/0/test",
		Input:    input,
		Workflow: &dsl.Workflow{},
		Secrets:  map[string]any{"apiToken": "s3cret"},
		Scope:    map[string]any{"input": input},
		Eval:     expr.New("jq"),
	}
}

func TestHTTPRunnerContentOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "42", r.URL.Query().Get("orderId"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"sku": "A1"}, body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"reserved": true}`))
	}))
	defer srv.Close()

	task := &dsl.Task{
		Call: "http",
		With: map[string]any{
			"method":   "POST",
			"endpoint": srv.URL + "/reserve",
			"query":    map[string]any{"orderId": "${ .orderId }"},
			"body":     map[string]any{"sku": "${ .sku }"},
		},
	}

	out, derr := NewHTTPRunner(logger.New("error", "json")).Run(context.Background(),
		newRequest(task, map[string]any{"orderId": float64(42), "sku": "A1"}))
	require.Nil(t, derr)
	assert.Equal(t, map[string]any{"reserved": true}, out)
}

func TestHTTPRunnerMinimalCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	// nothing but method and endpoint: absent headers and query blocks
	// must not fault the call
	task := &dsl.Task{
		Call: "http",
		With: map[string]any{"method": "GET", "endpoint": srv.URL},
	}

	out, derr := NewHTTPRunner(logger.New("error", "json")).Run(context.Background(), newRequest(task, nil))
	require.Nil(t, derr)
	assert.Equal(t, map[string]any{"ok": true}, out)
}

func TestStringMapAbsentBlock(t *testing.T) {
	var absent map[string]any

	out, derr := stringMap(newRequest(&dsl.Task{}, nil), absent)
	require.Nil(t, derr)
	assert.Nil(t, out)
}

func TestHTTPRunnerResponseOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 7}`))
	}))
	defer srv.Close()

	task := &dsl.Task{
		Call: "http",
		With: map[string]any{
			"method":   "GET",
			"endpoint": srv.URL,
			"output":   "response",
		},
	}

	out, derr := NewHTTPRunner(logger.New("error", "json")).Run(context.Background(), newRequest(task, nil))
	require.Nil(t, derr)

	resp, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, http.StatusCreated, resp["status"])
	assert.Equal(t, map[string]any{"id": float64(7)}, resp["content"])
}

func TestHTTPRunnerBearerAuthFromSecret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	task := &dsl.Task{
		Call: "http",
		With: map[string]any{
			"method":         "GET",
			"endpoint":       srv.URL,
			"authentication": map[string]any{"bearer": map[string]any{"token": "apiToken"}},
		},
	}

	_, derr := NewHTTPRunner(logger.New("error", "json")).Run(context.Background(), newRequest(task, nil))
	require.Nil(t, derr)
}

func TestHTTPRunnerURITemplate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/42", r.URL.Path)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	task := &dsl.Task{
		Call: "http",
		With: map[string]any{
			"method":   "GET",
			"endpoint": srv.URL + "/orders/{orderId}",
		},
	}

	_, derr := NewHTTPRunner(logger.New("error", "json")).Run(context.Background(),
		newRequest(task, map[string]any{"orderId": float64(42)}))
	require.Nil(t, derr)
}

func TestHTTPRunnerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	task := &dsl.Task{
		Call: "http",
		With: map[string]any{"method": "GET", "endpoint": srv.URL},
	}

	_, derr := NewHTTPRunner(logger.New("error", "json")).Run(context.Background(), newRequest(task, nil))
	require.NotNil(t, derr)
	assert.Equal(t, dsl.ErrTypeCommunication, derr.Type)
	assert.Equal(t, http.StatusConflict, derr.Status)
}

func TestHTTPRunnerRejectsUnknownMethod(t *testing.T) {
	task := &dsl.Task{
		Call: "http",
		With: map[string]any{"method": "TRACE", "endpoint": "http://localhost/"},
	}

	_, derr := NewHTTPRunner(logger.New("error", "json")).Run(context.Background(), newRequest(task, nil))
	require.NotNil(t, derr)
	assert.Equal(t, dsl.ErrTypeConfiguration, derr.Type)
}

func TestEmitRunnerFillsDefaults(t *testing.T) {
	log := logger.New("error", "json")
	bus := broker.NewMemoryBroker(log)

	task := &dsl.Task{
		Emit: &dsl.EmitClause{Event: &dsl.EmitEvent{With: map[string]any{
			"source": "/orders",
			"type":   "order.shipped",
			"data":   map[string]any{"orderId": "${ .orderId }"},
		}}},
	}

	out, derr := NewEmitRunner(bus, log).Run(context.Background(),
		newRequest(task, map[string]any{"orderId": float64(42)}))
	require.Nil(t, derr)

	event, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "order.shipped", event["type"])
	assert.NotEmpty(t, event["id"])
	assert.NotEmpty(t, event["time"])

	published := bus.Published()
	require.Len(t, published, 1)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(published[0]), &decoded))
	assert.Equal(t, map[string]any{"orderId": float64(42)}, decoded["data"])
}

func TestProcessRunnerCapturesStdout(t *testing.T) {
	task := &dsl.Task{
		Run: &dsl.RunClause{Shell: &dsl.ShellSpec{Command: "echo hello"}},
	}

	out, derr := NewProcessRunner(logger.New("error", "json")).Run(context.Background(), newRequest(task, nil))
	require.Nil(t, derr)
	assert.Equal(t, "hello\n", out)
}

func TestProcessRunnerAllReturnMode(t *testing.T) {
	task := &dsl.Task{
		Run: &dsl.RunClause{
			Shell:  &dsl.ShellSpec{Command: "echo out; echo err >&2"},
			Return: "all",
		},
	}

	out, derr := NewProcessRunner(logger.New("error", "json")).Run(context.Background(), newRequest(task, nil))
	require.Nil(t, derr)
	assert.Equal(t, map[string]any{"code": 0, "stdout": "out\n", "stderr": "err\n"}, out)
}

func TestProcessRunnerNonZeroExit(t *testing.T) {
	task := &dsl.Task{
		Run: &dsl.RunClause{Shell: &dsl.ShellSpec{Command: "echo broken >&2; exit 3"}},
	}

	_, derr := NewProcessRunner(logger.New("error", "json")).Run(context.Background(), newRequest(task, nil))
	require.NotNil(t, derr)
	assert.Equal(t, dsl.ErrTypeCommunication, derr.Type)
	assert.Contains(t, derr.Detail, "code 3")
	assert.Contains(t, derr.Detail, "broken")
}

func TestProcessRunnerRejectsUnsupportedLanguage(t *testing.T) {
	task := &dsl.Task{
		Run: &dsl.RunClause{Script: &dsl.ScriptSpec{Language: "ruby", Code: "puts 1"}},
	}

	_, derr := NewProcessRunner(logger.New("error", "json")).Run(context.Background(), newRequest(task, nil))
	require.NotNil(t, derr)
	assert.Equal(t, dsl.ErrTypeConfiguration, derr.Type)
}
