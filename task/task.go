// Package task defines the task model and persistence for role-scoped work items.
//
// Producers create tasks in PENDING. Consumers poll for the oldest pending
// task of their role, either peeking with FetchNext or claiming atomically
// with ClaimNext, and settle it with UpdateStatus.
package task

import (
	"context"
	"errors"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is COMPLETED or FAILED.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is a unit of work for a class of consumers.
type Task struct {
	ID          int64     `json:"id"`
	Description string    `json:"description"`
	AgentRole   string    `json:"agent_role"`
	Status      Status    `json:"status"`
	Result      string    `json:"result"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

var (
	// ErrValidation is returned for empty required fields and unknown statuses.
	ErrValidation = errors.New("validation error")
	// ErrNotFound is returned when a lookup or update target does not exist.
	ErrNotFound = errors.New("task not found")
	// ErrStore wraps failures of the underlying database.
	ErrStore = errors.New("store error")
)

// Store persists and retrieves tasks.
type Store interface {
	// Create persists a new PENDING task and returns its assigned ID.
	Create(ctx context.Context, description, agentRole string) (int64, error)

	// FetchNext returns the oldest pending task for agentRole without
	// claiming it, or nil if there is none.
	FetchNext(ctx context.Context, agentRole string) (*Task, error)

	// ClaimNext atomically moves the oldest pending task for agentRole to
	// PROCESSING and returns it, or nil if there is none.
	ClaimNext(ctx context.Context, agentRole string) (*Task, error)

	// UpdateStatus sets the status and result of a task.
	UpdateStatus(ctx context.Context, id int64, status Status, result string) error

	// Get retrieves a task by ID.
	Get(ctx context.Context, id int64) (*Task, error)

	// ListCompleted returns every COMPLETED task in insertion order.
	ListCompleted(ctx context.Context) ([]*Task, error)

	// List returns tasks matching the given filter.
	List(ctx context.Context, filter Filter) ([]*Task, error)

	// Close releases the underlying database.
	Close() error
}

// Filter controls which tasks are returned by List.
type Filter struct {
	Status    *Status `json:"status,omitempty"`
	AgentRole string  `json:"agent_role,omitempty"`
	Limit     int     `json:"limit,omitempty"`
	Offset    int     `json:"offset,omitempty"`
}
