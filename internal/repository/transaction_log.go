package repository

import (
	"context"

	"savings/internal/domain"
)

// TransactionLogRepository defines the persistence operations for transaction logs.
type TransactionLogRepository interface {
	// Create writes a log entry. Entries are write-once per payment reference;
	// a second write for the same reference is ignored and created is false.
	Create(ctx context.Context, entry *domain.TransactionLog) (created bool, err error)

	// GetByPaymentRef retrieves the entry for a payment reference.
	GetByPaymentRef(ctx context.Context, reference string) (*domain.TransactionLog, error)

	// ListByUser retrieves a page of a user's entries, newest first.
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.TransactionLog, error)
}
