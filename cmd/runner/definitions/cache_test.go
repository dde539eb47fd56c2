package definitions

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemline/lemline/common/logger"
	"github.com/lemline/lemline/common/models"
	"github.com/lemline/lemline/common/repository"
)

const validSource = `
document:
  dsl: "1.0.0"
  namespace: test
  name: greet
  version: "1.0.0"
do:
  - hello:
      set:
        greeting: hi
`

// countingStore wraps the memory store to count lookups
type countingStore struct {
	inner *repository.MemoryDefinitionRepository
	gets  atomic.Int32
}

func (s *countingStore) Insert(ctx context.Context, def *models.Definition) error {
	return s.inner.Insert(ctx, def)
}

func (s *countingStore) GetByNameVersion(ctx context.Context, name, version string) (*models.Definition, error) {
	s.gets.Add(1)
	return s.inner.GetByNameVersion(ctx, name, version)
}

func TestCacheCompilesOnce(t *testing.T) {
	store := &countingStore{inner: repository.NewMemoryDefinitionRepository()}
	require.NoError(t, store.Insert(context.Background(), &models.Definition{
		ID:      uuid.New(),
		Name:    "greet",
		Version: "1.0.0",
		Source:  validSource,
	}))

	cache := NewCache(store, logger.New("error", "json"))

	first, err := cache.Get(context.Background(), "greet", "1.0.0")
	require.NoError(t, err)
	require.NotNil(t, first.Workflow)
	require.NotNil(t, first.Tree)
	assert.Equal(t, "greet", first.Workflow.Document.Name)

	second, err := cache.Get(context.Background(), "greet", "1.0.0")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), store.gets.Load())
}

func TestCacheDoesNotCacheFailures(t *testing.T) {
	store := &countingStore{inner: repository.NewMemoryDefinitionRepository()}
	cache := NewCache(store, logger.New("error", "json"))

	_, err := cache.Get(context.Background(), "greet", "1.0.0")
	require.Error(t, err)

	// the definition shows up later; the failed load must not stick
	require.NoError(t, store.Insert(context.Background(), &models.Definition{
		ID:      uuid.New(),
		Name:    "greet",
		Version: "1.0.0",
		Source:  validSource,
	}))

	entry, err := cache.Get(context.Background(), "greet", "1.0.0")
	require.NoError(t, err)
	assert.NotNil(t, entry.Tree)
	assert.Equal(t, int32(2), store.gets.Load())
}

func TestCompileRejectsBrokenSources(t *testing.T) {
	cases := []string{
		"{not yaml",
		// structurally valid but missing the document block
		"do:\n  - a:\n      set:\n        x: 1\n",
	}
	for i, source := range cases {
		_, err := Compile([]byte(source))
		assert.Error(t, err, fmt.Sprintf("case %d", i))
	}
}
