package outbox

import (
	"context"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/lemline/lemline/common/config"
	"github.com/lemline/lemline/common/logger"
	"github.com/lemline/lemline/common/models"
	"github.com/lemline/lemline/common/repository"
)

// Emitter publishes a due message back onto the broker stream
type Emitter func(ctx context.Context, body string) error

// Processor drains one outbox table on a schedule: due rows are locked,
// emitted, and marked SENT; emission failures back off and eventually
// park the row as FAILED.
type Processor struct {
	name  string
	store repository.OutboxStore
	cfg   config.OutboxConfig
	emit  Emitter
	log   *logger.Logger

	running atomic.Bool
}

func NewProcessor(name string, store repository.OutboxStore, cfg config.OutboxConfig, emit Emitter, log *logger.Logger) *Processor {
	return &Processor{
		name:  name,
		store: store,
		cfg:   cfg,
		emit:  emit,
		log:   log.WithFields(map[string]any{"outbox": name}),
	}
}

// Start runs the processor on its schedule until the context is
// cancelled. A tick that fires while the previous run is still draining
// is skipped.
func (p *Processor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.cfg.Schedule)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !p.running.CompareAndSwap(false, true) {
					continue
				}
				go func() {
					defer p.running.Store(false)
					if _, err := p.RunOnce(ctx); err != nil {
						p.log.Error("outbox pass failed", "error", err)
					}
				}()
			}
		}
	}()
}

// RunOnce drains every due row, batch by batch, and returns how many
// rows were processed
func (p *Processor) RunOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := p.store.ProcessLockedBatch(ctx, p.cfg.BatchSize, p.cfg.MaxAttempts, func(row *models.OutboxRow) {
			p.handle(ctx, row)
		})
		total += n
		if err != nil {
			return total, err
		}
		if n < p.cfg.BatchSize {
			return total, nil
		}
	}
}

func (p *Processor) handle(ctx context.Context, row *models.OutboxRow) {
	if err := p.emit(ctx, row.Message); err != nil {
		row.AttemptCount++
		detail := err.Error()
		row.LastError = &detail
		if row.AttemptCount >= p.cfg.MaxAttempts {
			row.Status = models.OutboxFailed
			p.log.Error("outbox row exhausted its attempts", "id", row.ID, "error", err)
			return
		}
		row.DelayedUntil = time.Now().Add(Backoff(row.AttemptCount, p.cfg.InitialDelay))
		p.log.Warn("outbox emission failed", "id", row.ID, "attempt", row.AttemptCount, "error", err)
		return
	}
	row.Status = models.OutboxSent
}

// Backoff returns the delay before the next emission attempt: the
// initial delay doubled per attempt, with a uniform 20% jitter and a
// 100ms floor
func Backoff(attempt int, initial time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if initial <= 0 {
		initial = time.Second
	}
	d := float64(initial) * math.Pow(2, float64(attempt-1))
	d *= 1 + (rand.Float64()*0.4 - 0.2)
	if floor := float64(100 * time.Millisecond); d < floor {
		d = floor
	}
	return time.Duration(d)
}
