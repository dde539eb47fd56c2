package secrets

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Store resolves a secret name to its JSON value (primitive or object).
// The execution path treats the store as read-only.
type Store interface {
	Get(name string) (any, error)
}

// StaticStore is a fixed name→value map, used in tests and development
type StaticStore struct {
	values map[string]any
}

// NewStaticStore creates a store over the given map
func NewStaticStore(values map[string]any) *StaticStore {
	if values == nil {
		values = make(map[string]any)
	}
	return &StaticStore{values: values}
}

// Get returns the named secret
func (s *StaticStore) Get(name string) (any, error) {
	value, exists := s.values[name]
	if !exists {
		return nil, fmt.Errorf("secret %q not found", name)
	}
	return value, nil
}

// EnvStore resolves secrets from environment variables with a fixed prefix.
// A value that parses as JSON is returned decoded; anything else is a string.
type EnvStore struct {
	prefix string
	mu     sync.RWMutex
	cache  map[string]any
}

// NewEnvStore creates a store reading LEMLINE_SECRET_<NAME> variables
func NewEnvStore() *EnvStore {
	return &EnvStore{
		prefix: "LEMLINE_SECRET_",
		cache:  make(map[string]any),
	}
}

// Get returns the named secret, caching after first resolution
func (s *EnvStore) Get(name string) (any, error) {
	s.mu.RLock()
	if value, exists := s.cache[name]; exists {
		s.mu.RUnlock()
		return value, nil
	}
	s.mu.RUnlock()

	key := s.prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	raw, exists := os.LookupEnv(key)
	if !exists {
		return nil, fmt.Errorf("secret %q not found (env %s)", name, key)
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		value = raw
	}

	s.mu.Lock()
	s.cache[name] = value
	s.mu.Unlock()

	return value, nil
}
