package outbox

import (
	"context"
	"time"

	"github.com/lemline/lemline/common/config"
	"github.com/lemline/lemline/common/logger"
	"github.com/lemline/lemline/common/repository"
)

// Cleaner deletes old SENT rows from one outbox table so the ready
// index stays small
type Cleaner struct {
	name  string
	store repository.OutboxStore
	cfg   config.OutboxConfig
	log   *logger.Logger
}

func NewCleaner(name string, store repository.OutboxStore, cfg config.OutboxConfig, log *logger.Logger) *Cleaner {
	return &Cleaner{
		name:  name,
		store: store,
		cfg:   cfg,
		log:   log.WithFields(map[string]any{"outbox": name}),
	}
}

// Start runs the cleaner on its schedule until the context is cancelled
func (c *Cleaner) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.cfg.CleanupSchedule)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.RunOnce(ctx); err != nil {
					c.log.Error("outbox cleanup failed", "error", err)
				}
			}
		}
	}()
}

// RunOnce deletes one batch of SENT rows older than the retention
// window and returns how many were removed
func (c *Cleaner) RunOnce(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-c.cfg.CleanupAfter)
	deleted, err := c.store.DeleteSentBefore(ctx, cutoff, c.cfg.CleanupBatch)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		c.log.Info("cleaned outbox rows", "deleted", deleted)
	}
	return deleted, nil
}
