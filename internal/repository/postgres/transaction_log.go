package postgres

import (
	"context"
	"database/sql"

	"savings/internal/domain"
	"savings/internal/repository"
)

// TransactionLogRepository is a PostgreSQL implementation of repository.TransactionLogRepository.
type TransactionLogRepository struct {
	q Querier
}

// NewTransactionLogRepository creates a new PostgreSQL transaction log repository.
func NewTransactionLogRepository(db *sql.DB) *TransactionLogRepository {
	return &TransactionLogRepository{q: db}
}

const transactionLogColumns = `transaction_id, type, status, amount, fee, net_amount, user_id,
	target_type, target_id, payment_ref, initiated_at, processed_at, completed_at`

// Create writes a log entry once per payment reference.
func (r *TransactionLogRepository) Create(ctx context.Context, entry *domain.TransactionLog) (bool, error) {
	if err := entry.Validate(); err != nil {
		return false, err
	}

	query := `
		INSERT INTO transaction_logs (` + transactionLogColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (payment_ref) DO NOTHING
	`

	result, err := r.q.ExecContext(ctx, query,
		entry.TransactionID,
		entry.Type,
		entry.Status,
		entry.Amount,
		entry.Fee,
		entry.NetAmount,
		entry.UserID,
		entry.TargetType,
		entry.TargetID,
		entry.PaymentRef,
		entry.InitiatedAt,
		entry.ProcessedAt,
		toNullTime(entry.CompletedAt),
	)
	if err != nil {
		return false, mapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected == 1, nil
}

// GetByPaymentRef retrieves the entry for a payment reference.
func (r *TransactionLogRepository) GetByPaymentRef(ctx context.Context, reference string) (*domain.TransactionLog, error) {
	query := `SELECT ` + transactionLogColumns + ` FROM transaction_logs WHERE payment_ref = $1`

	entry, err := scanTransactionLog(r.q.QueryRowContext(ctx, query, reference))
	if err != nil {
		return nil, mapError(err)
	}
	return entry, nil
}

// ListByUser retrieves a page of a user's entries, newest first.
func (r *TransactionLogRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.TransactionLog, error) {
	query := `SELECT ` + transactionLogColumns + `
		FROM transaction_logs WHERE user_id = $1
		ORDER BY processed_at DESC LIMIT $2 OFFSET $3`

	rows, err := r.q.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.TransactionLog
	for rows.Next() {
		entry, err := scanTransactionLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func scanTransactionLog(row rowScanner) (*domain.TransactionLog, error) {
	var entry domain.TransactionLog
	var completedAt sql.NullTime

	err := row.Scan(
		&entry.TransactionID,
		&entry.Type,
		&entry.Status,
		&entry.Amount,
		&entry.Fee,
		&entry.NetAmount,
		&entry.UserID,
		&entry.TargetType,
		&entry.TargetID,
		&entry.PaymentRef,
		&entry.InitiatedAt,
		&entry.ProcessedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		entry.CompletedAt = completedAt.Time
	}
	return &entry, nil
}

// Ensure TransactionLogRepository implements repository.TransactionLogRepository.
var _ repository.TransactionLogRepository = (*TransactionLogRepository)(nil)
