package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemline/lemline/cmd/runner/dsl"
)

func parse(t *testing.T, doc string) *dsl.Workflow {
	t.Helper()
	wf, err := dsl.Parse([]byte(doc))
	require.NoError(t, err)
	return wf
}

const header = `
document:
  dsl: "1.0.0"
  namespace: test
  name: wf
  version: "1.0.0"
`

func TestBuildAssignsPositions(t *testing.T) {
	wf := parse(t, header+`
do:
  - checkStock:
      call: http
      with:
        method: GET
        endpoint: https://example.com/stock
  - decide:
      switch:
        - ok:
            then: ship
  - ship:
      try:
        - reserve:
            call: http
            with:
              method: POST
              endpoint: https://example.com/reserve
      catch:
        do:
          - giveUp:
              raise:
                error:
                  type: https://serverlessworkflow.io/spec/1.0.0/errors/runtime
                  status: 500
`)

	tree, err := Build(wf)
	require.NoError(t, err)

	want := map[string]Kind{
		"":                             KindRoot,
		"/do":                          KindDo,
		"/do/0/checkStock":             KindCallHTTP,
		"/do/1/decide":                 KindSwitch,
		"/do/2/ship":                   KindTry,
		"/do/2/ship/try":               KindDo,
		"/do/2/ship/try/0/reserve":     KindCallHTTP,
		"/do/2/ship/catch/do":          KindDo,
		"/do/2/ship/catch/do/0/giveUp": KindRaise,
	}
	assert.Len(t, tree.Nodes, len(want))
	for position, kind := range want {
		node, ok := tree.At(position)
		require.True(t, ok, position)
		assert.Equal(t, kind, node.Kind, position)
	}

	ship, _ := tree.At("/do/2/ship")
	require.NotNil(t, tree.TryBranch(ship))
	assert.Equal(t, "/do/2/ship/try", tree.TryBranch(ship).Position)
	require.NotNil(t, tree.CatchBranch(ship))
	assert.Equal(t, "/do/2/ship/catch/do", tree.CatchBranch(ship).Position)
}

func TestBuildNestsForAndFork(t *testing.T) {
	wf := parse(t, header+`
do:
  - loop:
      for:
        each: item
        in: "${ .items }"
      do:
        - step:
            set:
              x: 1
  - par:
      fork:
        branches:
          - left:
              set:
                a: 1
          - right:
              set:
                b: 2
`)

	tree, err := Build(wf)
	require.NoError(t, err)

	for _, position := range []string{
		"/do/0/loop",
		"/do/0/loop/do",
		"/do/0/loop/do/0/step",
		"/do/1/par",
		"/do/1/par/fork/branches/0/left",
		"/do/1/par/fork/branches/1/right",
	} {
		_, ok := tree.At(position)
		assert.True(t, ok, position)
	}

	loop, _ := tree.At("/do/0/loop")
	assert.Equal(t, KindFor, loop.Kind)
	par, _ := tree.At("/do/1/par")
	assert.Equal(t, KindFork, par.Kind)

	body, _ := tree.At("/do/0/loop/do")
	assert.Equal(t, loop, tree.ParentOf(body))
}

func TestBuildRejectsInvalidNames(t *testing.T) {
	cases := map[string]string{
		"slash":    "bad/name",
		"numeric":  "123",
		"reserved": "continue",
	}
	for label, name := range cases {
		t.Run(label, func(t *testing.T) {
			wf := parse(t, header+`
do:
  - `+name+`:
      set:
        x: 1
`)
			_, err := Build(wf)
			assert.Error(t, err)
		})
	}
}

func TestBuildRejectsUnknownCall(t *testing.T) {
	wf := parse(t, header+`
do:
  - odd:
      call: smtp
      with:
        to: someone
`)
	_, err := Build(wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown call kind")
}

func TestBuildRejectsEmptyForBody(t *testing.T) {
	wf := &dsl.Workflow{
		Document: dsl.Document{DSL: "1.0.0", Name: "wf", Version: "1.0.0"},
		Do: dsl.TaskList{
			{Name: "loop", Task: &dsl.Task{For: &dsl.ForClause{In: "${ .items }"}}},
		},
	}
	_, err := Build(wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no do body")
}

func TestActivityPartition(t *testing.T) {
	assert.True(t, IsActivity(KindCallHTTP))
	assert.True(t, IsActivity(KindWait))
	assert.True(t, IsActivity(KindEmit))
	assert.True(t, IsActivity(KindRun))
	assert.False(t, IsActivity(KindSet))
	assert.False(t, IsActivity(KindSwitch))
	assert.False(t, IsActivity(KindTry))
	assert.False(t, IsActivity(KindDo))
	assert.False(t, IsActivity(KindRoot))
}

func TestBuildAddressesSubscriptionBodies(t *testing.T) {
	wf := parse(t, header+`
do:
  - hear:
      listen:
        to:
          one:
            with:
              type: order.placed
      foreach:
        item: event
        do:
          - ack:
              set:
                seen: true
  - stream:
      call: asyncapi
      with:
        document:
          endpoint: https://example.com/asyncapi.yaml
        operation: orders
        subscription:
          foreach:
            do:
              - record:
                  set:
                    count: 1
`)

	tree, err := Build(wf)
	require.NoError(t, err)

	for _, position := range []string{
		"/do/0/hear/foreach/do",
		"/do/0/hear/foreach/do/0/ack",
		"/do/1/stream/with/subscription/foreach/do",
		"/do/1/stream/with/subscription/foreach/do/0/record",
	} {
		_, ok := tree.At(position)
		assert.True(t, ok, position)
	}

	hear, _ := tree.At("/do/0/hear")
	assert.Equal(t, KindListen, hear.Kind)
	body, _ := tree.At("/do/0/hear/foreach/do")
	assert.Equal(t, hear, tree.ParentOf(body))
}
