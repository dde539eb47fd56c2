package models

import (
	"time"

	"github.com/google/uuid"
)

// OutboxStatus is the lifecycle state of an outbox row
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "PENDING"
	OutboxSent    OutboxStatus = "SENT"
	OutboxFailed  OutboxStatus = "FAILED"
)

// OutboxRow is a delayed or to-retry message. The same shape backs both the
// retry and wait tables.
type OutboxRow struct {
	ID           uuid.UUID
	Message      string
	Status       OutboxStatus
	DelayedUntil time.Time
	AttemptCount int
	LastError    *string
	Version      int // optimistic version, bumped on every update
}

// NewOutboxRow creates a PENDING row due at delayedUntil
func NewOutboxRow(message string, delayedUntil time.Time) *OutboxRow {
	return &OutboxRow{
		ID:           uuid.New(),
		Message:      message,
		Status:       OutboxPending,
		DelayedUntil: delayedUntil,
		AttemptCount: 0,
	}
}

// NewFailedRow creates a row already in FAILED state, kept for observation
// (undecodable messages, faulted instances).
func NewFailedRow(message string, lastError string) *OutboxRow {
	return &OutboxRow{
		ID:           uuid.New(),
		Message:      message,
		Status:       OutboxFailed,
		DelayedUntil: time.Now(),
		AttemptCount: 0,
		LastError:    &lastError,
	}
}
