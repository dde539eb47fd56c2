package consumer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemline/lemline/cmd/runner/activity"
	"github.com/lemline/lemline/cmd/runner/definitions"
	"github.com/lemline/lemline/cmd/runner/message"
	"github.com/lemline/lemline/common/broker"
	"github.com/lemline/lemline/common/config"
	"github.com/lemline/lemline/common/logger"
	"github.com/lemline/lemline/common/models"
	"github.com/lemline/lemline/common/repository"
	"github.com/lemline/lemline/common/secrets"
)

type fixture struct {
	consumer *Consumer
	bus      *broker.MemoryBroker
	defs     *repository.MemoryDefinitionRepository
	retries  *repository.MemoryOutboxRepository
	waits    *repository.MemoryOutboxRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.New("error", "json")
	bus := broker.NewMemoryBroker(log)
	defs := repository.NewMemoryDefinitionRepository()
	retries := repository.NewMemoryOutboxRepository()
	waits := repository.NewMemoryOutboxRepository()

	cfg := &config.Config{Consumer: config.ConsumerConfig{Workers: 2}}
	c := New(cfg, bus, definitions.NewCache(defs, log), retries, waits,
		secrets.NewStaticStore(nil), activity.DefaultRegistry(bus, log), log)

	return &fixture{consumer: c, bus: bus, defs: defs, retries: retries, waits: waits}
}

func (f *fixture) define(t *testing.T, name, version, body string) {
	t.Helper()
	source := fmt.Sprintf(`
document:
  dsl: "1.0.0"
  namespace: test
  name: %s
  version: "%s"
%s`, name, version, body)
	require.NoError(t, f.defs.Insert(context.Background(), &models.Definition{
		ID:      uuid.New(),
		Name:    name,
		Version: version,
		Source:  source,
	}))
}

func startEnvelope(t *testing.T, name, version string, input any) string {
	t.Helper()
	env := message.New(name, version)
	root := message.NewNodeState()
	root.RawInput = input
	env.States[""] = root
	body, err := env.Encode()
	require.NoError(t, err)
	return body
}

func TestHandleRejectsUndecodableMessage(t *testing.T) {
	f := newFixture(t)

	err := f.consumer.Handle(context.Background(), "not-json")
	require.Error(t, err)

	rows := f.retries.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, models.OutboxFailed, rows[0].Status)
	assert.Equal(t, "not-json", rows[0].Message)
}

func TestHandleRejectsUnknownWorkflow(t *testing.T) {
	f := newFixture(t)

	err := f.consumer.Handle(context.Background(), startEnvelope(t, "ghost", "1.0.0", nil))
	require.Error(t, err)

	rows := f.retries.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, models.OutboxFailed, rows[0].Status)
}

func TestHandleRepublishesRunningInstance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	f := newFixture(t)
	f.define(t, "order", "1.0.0", fmt.Sprintf(`
do:
  - fetch:
      call: http
      with:
        method: GET
        endpoint: %s/data
  - done:
      set:
        finished: true
`, srv.URL))

	require.NoError(t, f.consumer.Handle(context.Background(), startEnvelope(t, "order", "1.0.0", map[string]any{})))

	published := f.bus.Published()
	require.Len(t, published, 1)
	env, err := message.Decode(published[0])
	require.NoError(t, err)
	assert.Equal(t, "/do/0/fetch", env.Position)

	// the republished envelope finishes the workflow; nothing else goes out
	require.NoError(t, f.consumer.Handle(context.Background(), published[0]))
	assert.Len(t, f.bus.Published(), 1)
	assert.Empty(t, f.retries.Rows())
	assert.Empty(t, f.waits.Rows())
}

func TestHandlePersistsWait(t *testing.T) {
	f := newFixture(t)
	f.define(t, "timed", "1.0.0", `
do:
  - pause:
      wait: PT10S
  - done:
      set:
        finished: true
`)

	before := time.Now()
	require.NoError(t, f.consumer.Handle(context.Background(), startEnvelope(t, "timed", "1.0.0", nil)))

	rows := f.waits.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, models.OutboxPending, rows[0].Status)
	assert.True(t, rows[0].DelayedUntil.After(before.Add(9*time.Second)))

	env, err := message.Decode(rows[0].Message)
	require.NoError(t, err)
	assert.Equal(t, "/do/0/pause", env.Position)

	// the wait outbox redelivers the stored message when due
	require.NoError(t, f.consumer.Handle(context.Background(), rows[0].Message))
	assert.Empty(t, f.bus.Published())
	assert.Empty(t, f.retries.Rows())
}

func TestHandleSchedulesRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := newFixture(t)
	f.define(t, "flaky", "1.0.0", fmt.Sprintf(`
use:
  retries:
    transient:
      delay: PT30S
      limit:
        attempt:
          count: 2
do:
  - guarded:
      try:
        - call:
            call: http
            with:
              method: GET
              endpoint: %s/unstable
      catch:
        retry: transient
`, srv.URL))

	before := time.Now()
	require.NoError(t, f.consumer.Handle(context.Background(), startEnvelope(t, "flaky", "1.0.0", nil)))

	rows := f.retries.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, models.OutboxPending, rows[0].Status)
	assert.True(t, rows[0].DelayedUntil.After(before.Add(29*time.Second)))

	env, err := message.Decode(rows[0].Message)
	require.NoError(t, err)
	assert.Equal(t, "/do/0/guarded", env.Position)
	assert.Equal(t, 1, env.States["/do/0/guarded"].AttemptIndex)
}

func TestHandleParksFaultedInstance(t *testing.T) {
	f := newFixture(t)
	f.define(t, "doomed", "1.0.0", `
do:
  - boom:
      raise:
        error:
          type: https://serverlessworkflow.io/spec/1.0.0/errors/runtime
          status: 500
          title: Boom
`)

	// a faulted instance is terminal: handled, parked, not dead-lettered
	require.NoError(t, f.consumer.Handle(context.Background(), startEnvelope(t, "doomed", "1.0.0", nil)))

	rows := f.retries.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, models.OutboxFailed, rows[0].Status)
	require.NotNil(t, rows[0].LastError)
	assert.Contains(t, *rows[0].LastError, "Boom")
	assert.Empty(t, f.bus.Published())
}

func TestHandleCancelledProcessingLeavesNoRow(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	f := newFixture(t)
	f.define(t, "slow", "1.0.0", fmt.Sprintf(`
do:
  - fetch:
      call: http
      with:
        method: GET
        endpoint: %s/slow
`, srv.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// a cancelled delivery is neither parked nor republished; the broker
	// redelivers the unacknowledged message
	err := f.consumer.Handle(ctx, startEnvelope(t, "slow", "1.0.0", nil))
	require.Error(t, err)
	assert.Empty(t, f.retries.Rows())
	assert.Empty(t, f.waits.Rows())
	assert.Empty(t, f.bus.Published())
}
