package dsl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderDoc = `
document:
  dsl: "1.0.0"
  namespace: acme
  name: order-flow
  version: "0.3.0"
use:
  secrets:
    - apiToken
  errors:
    outOfStock:
      type: https://acme.example/errors/out-of-stock
      status: 409
  retries:
    transient:
      delay: PT2S
      backoff:
        exponential: {}
      limit:
        attempt:
          count: 3
  authentications:
    warehouse:
      bearer:
        token: apiToken
do:
  - checkStock:
      call: http
      with:
        method: GET
        endpoint: https://warehouse.example/stock
      then: decide
  - decide:
      switch:
        - inStock:
            when: "${ .available }"
            then: ship
        - fallback:
            then: end
  - ship:
      try:
        - reserve:
            call: http
            with:
              method: POST
              endpoint: https://warehouse.example/reserve
      catch:
        errors:
          with:
            status: 503
        retry: transient
        do:
          - giveUp:
              raise:
                error: outOfStock
`

func TestParseWorkflow(t *testing.T) {
	wf, err := Parse([]byte(orderDoc))
	require.NoError(t, err)

	assert.Equal(t, "order-flow", wf.Document.Name)
	assert.Equal(t, "0.3.0", wf.Document.Version)
	assert.Equal(t, "jq", wf.Language())

	require.Len(t, wf.Do, 3)
	assert.Equal(t, "checkStock", wf.Do[0].Name)
	assert.Equal(t, "decide", wf.Do[0].Task.Then)
	assert.Equal(t, "http", wf.Do[0].Task.Call)

	cases := wf.Do[1].Task.Switch
	require.Len(t, cases, 2)
	assert.Equal(t, "inStock", cases[0].Name)
	require.NotNil(t, cases[0].When)
	assert.Nil(t, cases[1].When)
	assert.Equal(t, "end", cases[1].Then)

	ship := wf.Do[2].Task
	require.Len(t, ship.Try, 1)
	require.NotNil(t, ship.Catch)
	assert.Equal(t, 503, ship.Catch.Errors.With.Status)
	assert.Equal(t, "error", ship.Catch.ErrorAs())
	require.Len(t, ship.Catch.Do, 1)
	assert.Equal(t, "outOfStock", ship.Catch.Do[0].Task.Raise.Error.Ref)

	assert.Equal(t, []string{"apiToken"}, wf.SecretNames())

	def, ok := wf.NamedError("outOfStock")
	require.True(t, ok)
	assert.Equal(t, 409, def.Status)

	auth, ok := wf.NamedAuthentication("warehouse")
	require.True(t, ok)
	require.NotNil(t, auth.Bearer)
}

func TestRetryRefResolve(t *testing.T) {
	wf, err := Parse([]byte(orderDoc))
	require.NoError(t, err)

	ref := wf.Do[2].Task.Catch.Retry
	require.NotNil(t, ref)
	policy, err := ref.Resolve(wf)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, policy.Delay.ToTimeDuration())
	require.NotNil(t, policy.Backoff.Exponential)
	assert.Equal(t, 3, policy.Limit.Attempt.Count)

	missing := &RetryRef{Ref: "nope"}
	_, err = missing.Resolve(wf)
	require.Error(t, err)
	derr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrTypeConfiguration, derr.Type)
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	_, err := Parse([]byte("document:\n  dsl: \"1.0.0\"\n  name: x\ndo: []\n"))
	assert.Error(t, err, "missing version and empty do")

	_, err = Parse([]byte(`
document:
  dsl: "1.0.0"
  namespace: acme
  name: x
  version: "1"
evaluate:
  language: lua
do:
  - a:
      set:
        x: 1
`))
	assert.ErrorContains(t, err, "unsupported expression language")
}

func TestLanguageSelection(t *testing.T) {
	wf, err := Parse([]byte(`
document:
  dsl: "1.0.0"
  namespace: acme
  name: x
  version: "1"
evaluate:
  language: cel
do:
  - a:
      set:
        x: 1
`))
	require.NoError(t, err)
	assert.Equal(t, "cel", wf.Language())
}
