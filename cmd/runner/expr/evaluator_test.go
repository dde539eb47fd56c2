package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemline/lemline/cmd/runner/dsl"
)

func TestStrip(t *testing.T) {
	inner, ok := Strip("${ .order.id }")
	assert.True(t, ok)
	assert.Equal(t, ".order.id", inner)

	_, ok = Strip("plain text")
	assert.False(t, ok)

	assert.True(t, IsExpression("${ . }"))
	assert.False(t, IsExpression("{not an expression}"))
}

func TestEvalJQ(t *testing.T) {
	e := New(LanguageJQ)
	input := map[string]any{"order": map[string]any{"id": float64(7), "total": float64(99.5)}}

	out, derr := e.Eval(input, ".order.id", nil)
	require.Nil(t, derr)
	assert.Equal(t, float64(7), out)

	out, derr = e.Eval(input, ".order.total > 50", nil)
	require.Nil(t, derr)
	assert.Equal(t, true, out)
}

func TestEvalJQScopeVariables(t *testing.T) {
	e := New(LanguageJQ)
	scope := map[string]any{
		"context": map[string]any{"region": "eu"},
		"count":   float64(3),
	}

	out, derr := e.Eval(nil, "$context.region", scope)
	require.Nil(t, derr)
	assert.Equal(t, "eu", out)

	out, derr = e.Eval(nil, "$count + 1", scope)
	require.Nil(t, derr)
	assert.Equal(t, float64(4), out)
}

func TestEvalJQErrors(t *testing.T) {
	e := New(LanguageJQ)

	_, derr := e.Eval(nil, ".foo[", nil)
	require.NotNil(t, derr)
	assert.Equal(t, dsl.ErrTypeExpression, derr.Type)

	_, derr = e.Eval("text", ".foo", nil)
	require.NotNil(t, derr)
	assert.Equal(t, dsl.ErrTypeExpression, derr.Type)
}

func TestEvalString(t *testing.T) {
	e := New(LanguageJQ)
	input := map[string]any{"name": "ada"}

	out, derr := e.EvalString(input, "${ .name }", nil, false)
	require.Nil(t, derr)
	assert.Equal(t, "ada", out)

	out, derr = e.EvalString(input, "literal", nil, false)
	require.Nil(t, derr)
	assert.Equal(t, "literal", out)

	out, derr = e.EvalString(input, ".name", nil, true)
	require.Nil(t, derr)
	assert.Equal(t, "ada", out)
}

func TestEvalValueTemplate(t *testing.T) {
	e := New(LanguageJQ)
	input := map[string]any{"user": map[string]any{"id": float64(1), "name": "ada"}}

	template := map[string]any{
		"id":     "${ .user.id }",
		"label":  "static",
		"nested": []any{"${ .user.name }", float64(2)},
	}
	out, derr := e.EvalValue(input, template, nil, false)
	require.Nil(t, derr)
	assert.Equal(t, map[string]any{
		"id":     float64(1),
		"label":  "static",
		"nested": []any{"ada", float64(2)},
	}, out)
}

func TestEvalBoolean(t *testing.T) {
	e := New(LanguageJQ)
	input := map[string]any{"n": float64(5)}

	ok, derr := e.EvalBoolean(input, "${ .n > 3 }", nil)
	require.Nil(t, derr)
	assert.True(t, ok)

	_, derr = e.EvalBoolean(input, "${ .n }", nil)
	require.NotNil(t, derr)
	assert.Equal(t, dsl.ErrTypeExpression, derr.Type)
}

func TestEvalList(t *testing.T) {
	e := New(LanguageJQ)
	input := map[string]any{"items": []any{"a", "b"}}

	list, derr := e.EvalList(input, "${ .items }", nil)
	require.Nil(t, derr)
	assert.Equal(t, []any{"a", "b"}, list)

	_, derr = e.EvalList(input, "${ .items[0] }", nil)
	require.NotNil(t, derr)
}

func TestEvalCEL(t *testing.T) {
	e := New(LanguageCEL)
	input := map[string]any{"n": float64(5)}
	scope := map[string]any{"context": map[string]any{"region": "eu"}}

	out, derr := e.Eval(input, "input.n > 3.0", scope)
	require.Nil(t, derr)
	assert.Equal(t, true, out)

	out, derr = e.Eval(input, "context.region", scope)
	require.Nil(t, derr)
	assert.Equal(t, "eu", out)

	_, derr = e.Eval(input, "nonsense(", scope)
	require.NotNil(t, derr)
	assert.Equal(t, dsl.ErrTypeExpression, derr.Type)
}

func TestNormalize(t *testing.T) {
	out := Normalize(map[string]any{"n": 1})
	m, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), m["n"])
}
