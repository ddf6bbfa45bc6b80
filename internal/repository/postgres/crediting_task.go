package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"savings/internal/domain"
	"savings/internal/repository"
)

// CreditingTaskRepository is a PostgreSQL implementation of repository.CreditingTaskRepository.
type CreditingTaskRepository struct {
	q Querier
}

// NewCreditingTaskRepository creates a new PostgreSQL crediting task repository.
func NewCreditingTaskRepository(db *sql.DB) *CreditingTaskRepository {
	return &CreditingTaskRepository{q: db}
}

// Enqueue records a failed step, reopening an existing task for the same
// reference and step.
func (r *CreditingTaskRepository) Enqueue(ctx context.Context, task *domain.CreditingTask) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}

	query := `
		INSERT INTO crediting_tasks (id, payment_ref, step, status, attempts, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, NOW(), NOW())
		ON CONFLICT (payment_ref, step) DO UPDATE
		SET status = EXCLUDED.status, last_error = EXCLUDED.last_error, updated_at = NOW()
	`

	_, err := r.q.ExecContext(ctx, query,
		task.ID,
		task.PaymentRef,
		task.Step,
		domain.CreditingTaskPending,
		task.LastError,
	)
	return err
}

// ListPending retrieves the oldest pending tasks.
func (r *CreditingTaskRepository) ListPending(ctx context.Context, limit int) ([]*domain.CreditingTask, error) {
	query := `
		SELECT id, payment_ref, step, status, attempts, last_error, created_at, updated_at
		FROM crediting_tasks WHERE status = $1
		ORDER BY created_at ASC LIMIT $2
	`

	rows, err := r.q.QueryContext(ctx, query, domain.CreditingTaskPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*domain.CreditingTask
	for rows.Next() {
		var task domain.CreditingTask
		if err := rows.Scan(
			&task.ID,
			&task.PaymentRef,
			&task.Step,
			&task.Status,
			&task.Attempts,
			&task.LastError,
			&task.CreatedAt,
			&task.UpdatedAt,
		); err != nil {
			return nil, err
		}
		tasks = append(tasks, &task)
	}

	return tasks, rows.Err()
}

// HasPending reports whether any step of the reference is still pending.
func (r *CreditingTaskRepository) HasPending(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM crediting_tasks WHERE payment_ref = $1 AND status = $2)`,
		reference, domain.CreditingTaskPending,
	).Scan(&exists)
	return exists, err
}

// MarkResolved closes a task.
func (r *CreditingTaskRepository) MarkResolved(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE crediting_tasks SET status = $1, updated_at = NOW() WHERE id = $2`,
		domain.CreditingTaskResolved, id,
	)
	if err != nil {
		return err
	}
	return expectOneRow(result)
}

// RecordFailure increments the attempt counter of a task and stores the error.
func (r *CreditingTaskRepository) RecordFailure(ctx context.Context, id string, lastError string) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE crediting_tasks SET attempts = attempts + 1, last_error = $1, updated_at = NOW() WHERE id = $2`,
		lastError, id,
	)
	if err != nil {
		return err
	}
	return expectOneRow(result)
}

// Ensure CreditingTaskRepository implements repository.CreditingTaskRepository.
var _ repository.CreditingTaskRepository = (*CreditingTaskRepository)(nil)
