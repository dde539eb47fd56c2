package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lemline/lemline/common/db"
	"github.com/lemline/lemline/common/models"
)

// Outbox table names. The retry and wait tables share one shape.
const (
	TableRetries = "retries"
	TableWaits   = "waits"
)

// OutboxStore is the persistence contract for one outbox table
type OutboxStore interface {
	// Insert stores a new row.
	Insert(ctx context.Context, row *models.OutboxRow) error
	// ProcessLockedBatch selects due PENDING rows under row-level locks with
	// skip-locked semantics, invokes handle for each, and writes the mutated
	// row back within the same transaction. The lock is released on commit.
	ProcessLockedBatch(ctx context.Context, limit, maxAttempts int, handle func(row *models.OutboxRow)) (int, error)
	// DeleteSentBefore removes at most batchSize SENT rows due before cutoff.
	DeleteSentBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// OutboxRepository handles database operations for one outbox table
type OutboxRepository struct {
	db    *db.DB
	table string
}

// NewOutboxRepository creates a repository bound to the given outbox table
func NewOutboxRepository(database *db.DB, table string) *OutboxRepository {
	return &OutboxRepository{db: database, table: table}
}

// EnsureSchema creates the outbox table and its composite index
func (r *OutboxRepository) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id UUID PRIMARY KEY,
			message TEXT NOT NULL,
			status TEXT NOT NULL,
			delayed_until TIMESTAMPTZ NOT NULL,
			attempt_count INT NOT NULL DEFAULT 0,
			last_error TEXT,
			version INT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_ready
			ON %[1]s (status, delayed_until, attempt_count)
	`, r.table)

	if _, err := r.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create %s table: %w", r.table, err)
	}

	return nil
}

// Insert stores a new outbox row
func (r *OutboxRepository) Insert(ctx context.Context, row *models.OutboxRow) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, message, status, delayed_until, attempt_count, last_error, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.table)

	_, err := r.db.Exec(
		ctx,
		query,
		row.ID,
		row.Message,
		row.Status,
		row.DelayedUntil,
		row.AttemptCount,
		row.LastError,
		row.Version,
	)

	if err != nil {
		return fmt.Errorf("failed to insert %s row: %w", r.table, err)
	}

	return nil
}

// ProcessLockedBatch locks due rows and writes back whatever handle decides.
// The emit performed by handle and the status update commit together; two
// workers never observe the same PENDING row because of SKIP LOCKED.
func (r *OutboxRepository) ProcessLockedBatch(ctx context.Context, limit, maxAttempts int, handle func(row *models.OutboxRow)) (int, error) {
	processed := 0

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		query := fmt.Sprintf(`
			SELECT id, message, status, delayed_until, attempt_count, last_error, version
			FROM %s
			WHERE status = $1 AND delayed_until <= now() AND attempt_count < $2
			ORDER BY delayed_until ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		`, r.table)

		rows, err := tx.Query(ctx, query, models.OutboxPending, maxAttempts, limit)
		if err != nil {
			return fmt.Errorf("failed to lock %s batch: %w", r.table, err)
		}

		batch := make([]*models.OutboxRow, 0, limit)
		for rows.Next() {
			row := &models.OutboxRow{}
			if err := rows.Scan(
				&row.ID,
				&row.Message,
				&row.Status,
				&row.DelayedUntil,
				&row.AttemptCount,
				&row.LastError,
				&row.Version,
			); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan %s row: %w", r.table, err)
			}
			batch = append(batch, row)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to read %s batch: %w", r.table, err)
		}

		update := fmt.Sprintf(`
			UPDATE %s
			SET status = $2, delayed_until = $3, attempt_count = $4, last_error = $5, version = version + 1
			WHERE id = $1
		`, r.table)

		for _, row := range batch {
			handle(row)

			if _, err := tx.Exec(ctx, update,
				row.ID,
				row.Status,
				row.DelayedUntil,
				row.AttemptCount,
				row.LastError,
			); err != nil {
				return fmt.Errorf("failed to update %s row %s: %w", r.table, row.ID, err)
			}
			processed++
		}

		return nil
	})

	if err != nil {
		return 0, err
	}

	return processed, nil
}

// DeleteSentBefore removes old SENT rows in one bounded batch
func (r *OutboxRepository) DeleteSentBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	query := fmt.Sprintf(`
		DELETE FROM %[1]s
		WHERE id IN (
			SELECT id FROM %[1]s
			WHERE status = $1 AND delayed_until < $2
			ORDER BY delayed_until ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
	`, r.table)

	tag, err := r.db.Exec(ctx, query, models.OutboxSent, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up %s: %w", r.table, err)
	}

	return tag.RowsAffected(), nil
}
