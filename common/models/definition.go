package models

import (
	"time"

	"github.com/google/uuid"
)

// Definition is a persisted workflow definition. The source text is the
// authoritative copy; parsed trees are cached in memory only.
type Definition struct {
	ID        uuid.UUID
	Name      string
	Version   string
	Source    string // verbatim YAML or JSON document
	CreatedAt time.Time
}

// WorkflowStatus is the transient, in-process status of a workflow instance
type WorkflowStatus string

const (
	StatusPending   WorkflowStatus = "PENDING"
	StatusRunning   WorkflowStatus = "RUNNING"
	StatusWaiting   WorkflowStatus = "WAITING"
	StatusCompleted WorkflowStatus = "COMPLETED"
	StatusFaulted   WorkflowStatus = "FAULTED"
	StatusCancelled WorkflowStatus = "CANCELLED"
)
