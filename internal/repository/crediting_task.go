package repository

import (
	"context"

	"savings/internal/domain"
)

// CreditingTaskRepository defines the persistence operations for the
// compensation queue of failed post-settlement steps.
type CreditingTaskRepository interface {
	// Enqueue records a failed step. An existing task for the same reference
	// and step is reopened with the new error.
	Enqueue(ctx context.Context, task *domain.CreditingTask) error

	// ListPending retrieves the oldest pending tasks.
	ListPending(ctx context.Context, limit int) ([]*domain.CreditingTask, error)

	// HasPending reports whether any step of the reference is still pending.
	HasPending(ctx context.Context, reference string) (bool, error)

	// MarkResolved closes a task.
	MarkResolved(ctx context.Context, id string) error

	// RecordFailure increments the attempt counter of a task and stores the error.
	RecordFailure(ctx context.Context, id string, lastError string) error
}
