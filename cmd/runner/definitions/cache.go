package definitions

import (
	"context"
	"fmt"
	"sync"

	"github.com/lemline/lemline/cmd/runner/dsl"
	"github.com/lemline/lemline/cmd/runner/graph"
	"github.com/lemline/lemline/common/logger"
	"github.com/lemline/lemline/common/repository"
)

// Entry is a parsed and compiled workflow definition
type Entry struct {
	Workflow *dsl.Workflow
	Tree     *graph.Tree
}

// Cache memoizes compiled definitions by (name, version). Definitions
// are immutable once stored, so entries never expire; concurrent
// requests for the same key share one load.
type Cache struct {
	store repository.DefinitionStore
	log   *logger.Logger

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	once  sync.Once
	entry *Entry
	err   error
}

func NewCache(store repository.DefinitionStore, log *logger.Logger) *Cache {
	return &Cache{
		store: store,
		log:   log,
		slots: make(map[string]*slot),
	}
}

// Get returns the compiled definition, loading and compiling it on the
// first request. Failed loads are not cached.
func (c *Cache) Get(ctx context.Context, name, version string) (*Entry, error) {
	key := name + "@" + version

	c.mu.Lock()
	s, ok := c.slots[key]
	if !ok {
		s = &slot{}
		c.slots[key] = s
	}
	c.mu.Unlock()

	s.once.Do(func() {
		s.entry, s.err = c.load(ctx, name, version)
	})

	if s.err != nil {
		c.mu.Lock()
		if c.slots[key] == s {
			delete(c.slots, key)
		}
		c.mu.Unlock()
		return nil, s.err
	}
	return s.entry, nil
}

// Compile parses and compiles a workflow source without touching the
// store, used to validate uploads
func Compile(source []byte) (*Entry, error) {
	wf, err := dsl.Parse(source)
	if err != nil {
		return nil, err
	}
	tree, err := graph.Build(wf)
	if err != nil {
		return nil, err
	}
	return &Entry{Workflow: wf, Tree: tree}, nil
}

func (c *Cache) load(ctx context.Context, name, version string) (*Entry, error) {
	def, err := c.store.GetByNameVersion(ctx, name, version)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow definition %s %s: %w", name, version, err)
	}

	entry, err := Compile([]byte(def.Source))
	if err != nil {
		return nil, fmt.Errorf("failed to compile workflow definition %s %s: %w", name, version, err)
	}

	c.log.Debug("compiled workflow definition", "workflow", name, "version", version)
	return entry, nil
}
