package message

import (
	"encoding/json"
	"testing"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	env := New("order-flow", "1.0.0")
	root := NewNodeState()
	root.WorkflowID = "wf-123"
	root.StartedAt = &started
	root.Context = map[string]any{"region": "eu"}
	root.RawInput = map[string]any{"order": float64(42)}
	root.ChildIndex = 0
	env.States[""] = root

	task := NewNodeState()
	task.RawInput = map[string]any{"order": float64(42)}
	task.RawOutput = map[string]any{"status": "shipped"}
	task.AttemptIndex = 2
	env.States["/do/0/ship"] = task
	env.Position = "/do/0/ship"

	body, err := env.Encode()
	require.NoError(t, err)

	decoded, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, "order-flow", decoded.Name)
	assert.Equal(t, "1.0.0", decoded.Version)
	assert.Equal(t, "/do/0/ship", decoded.Position)

	reencoded, err := decoded.Encode()
	require.NoError(t, err)
	assert.True(t, jsonpatch.Equal([]byte(body), []byte(reencoded)),
		"re-encoding must be lossless: %s vs %s", body, reencoded)

	got := decoded.States["/do/0/ship"]
	require.NotNil(t, got)
	assert.Equal(t, 2, got.AttemptIndex)
	assert.Equal(t, NoIndex, got.ChildIndex)
	assert.Equal(t, map[string]any{"status": "shipped"}, got.RawOutput)
}

func TestEncodeDropsDefaultStates(t *testing.T) {
	env := New("wf", "1")
	env.States[""] = NewNodeState()
	env.States["/do/0/a"] = NewNodeState()

	touched := NewNodeState()
	touched.ChildIndex = 0
	env.States["/do/1/b"] = touched

	body, err := env.Encode()
	require.NoError(t, err)

	var wire struct {
		States map[string]json.RawMessage `json:"s"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &wire))
	assert.Len(t, wire.States, 1)
	assert.Contains(t, wire.States, "/do/1/b")
}

func TestZeroCursorSurvivesEncoding(t *testing.T) {
	st := NewNodeState()
	st.ChildIndex = 0
	st.ForIndex = 0

	raw, err := json.Marshal(st)
	require.NoError(t, err)

	var back NodeState
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, 0, back.ChildIndex)
	assert.Equal(t, 0, back.ForIndex)
}

func TestAbsentCursorsRestoreDefaults(t *testing.T) {
	var st NodeState
	require.NoError(t, json.Unmarshal([]byte(`{"inp":{"a":1}}`), &st))
	assert.Equal(t, NoIndex, st.ChildIndex)
	assert.Equal(t, NoIndex, st.ForIndex)
	assert.Equal(t, map[string]any{"a": float64(1)}, st.RawInput)
}

func TestDecodeRejectsIncompleteEnvelopes(t *testing.T) {
	_, err := Decode("not-json")
	assert.Error(t, err)

	_, err = Decode(`{"v":"1","s":{},"p":""}`)
	assert.ErrorContains(t, err, "missing workflow name")

	_, err = Decode(`{"n":"wf","s":{},"p":""}`)
	assert.ErrorContains(t, err, "missing workflow version")
}
