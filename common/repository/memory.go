package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lemline/lemline/common/models"
)

// MemoryDefinitionRepository is an in-memory DefinitionStore for the
// in-memory database type and for tests.
type MemoryDefinitionRepository struct {
	mu   sync.RWMutex
	defs map[string]*models.Definition // key: name + "/" + version
}

// NewMemoryDefinitionRepository creates an empty in-memory definition store
func NewMemoryDefinitionRepository() *MemoryDefinitionRepository {
	return &MemoryDefinitionRepository{
		defs: make(map[string]*models.Definition),
	}
}

// Insert stores a new workflow definition
func (r *MemoryDefinitionRepository) Insert(ctx context.Context, def *models.Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := def.Name + "/" + def.Version
	if _, exists := r.defs[key]; exists {
		return fmt.Errorf("definition %s already exists", key)
	}

	copied := *def
	r.defs[key] = &copied
	return nil
}

// GetByNameVersion retrieves a definition by its (name, version) pair
func (r *MemoryDefinitionRepository) GetByNameVersion(ctx context.Context, name, version string) (*models.Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, exists := r.defs[name+"/"+version]
	if !exists {
		return nil, fmt.Errorf("definition %s/%s: %w", name, version, ErrNotFound)
	}

	copied := *def
	return &copied, nil
}

// MemoryOutboxRepository is an in-memory OutboxStore. Batch processing holds
// the table lock for the whole batch, which gives the same "no two workers
// observe one PENDING row" property as SKIP LOCKED.
type MemoryOutboxRepository struct {
	mu   sync.Mutex
	rows map[string]*models.OutboxRow
}

// NewMemoryOutboxRepository creates an empty in-memory outbox
func NewMemoryOutboxRepository() *MemoryOutboxRepository {
	return &MemoryOutboxRepository{
		rows: make(map[string]*models.OutboxRow),
	}
}

// Insert stores a new outbox row
func (r *MemoryOutboxRepository) Insert(ctx context.Context, row *models.OutboxRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *row
	r.rows[row.ID.String()] = &copied
	return nil
}

// ProcessLockedBatch selects due PENDING rows ordered by delayed_until and
// applies handle to each
func (r *MemoryOutboxRepository) ProcessLockedBatch(ctx context.Context, limit, maxAttempts int, handle func(row *models.OutboxRow)) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	ready := make([]*models.OutboxRow, 0, limit)
	for _, row := range r.rows {
		if row.Status == models.OutboxPending && !row.DelayedUntil.After(now) && row.AttemptCount < maxAttempts {
			ready = append(ready, row)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		return ready[i].DelayedUntil.Before(ready[j].DelayedUntil)
	})
	if len(ready) > limit {
		ready = ready[:limit]
	}

	for _, row := range ready {
		handle(row)
		row.Version++
	}

	return len(ready), nil
}

// DeleteSentBefore removes at most batchSize SENT rows due before cutoff
func (r *MemoryOutboxRepository) DeleteSentBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for id, row := range r.rows {
		if deleted >= int64(batchSize) {
			break
		}
		if row.Status == models.OutboxSent && row.DelayedUntil.Before(cutoff) {
			delete(r.rows, id)
			deleted++
		}
	}

	return deleted, nil
}

// Rows returns a snapshot of all rows, for tests and inspection
func (r *MemoryOutboxRepository) Rows() []*models.OutboxRow {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.OutboxRow, 0, len(r.rows))
	for _, row := range r.rows {
		copied := *row
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DelayedUntil.Before(out[j].DelayedUntil)
	})
	return out
}
