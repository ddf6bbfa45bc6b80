package repository

import (
	"context"
	"time"

	"savings/internal/domain"
)

// PaymentRepository defines the persistence operations for payments.
// It is the single source of truth for whether a payment has been settled.
type PaymentRepository interface {
	// Create persists a new payment. Returns ErrDuplicate if the reference exists.
	Create(ctx context.Context, payment *domain.Payment) error

	// GetByReference retrieves a payment by its reference.
	GetByReference(ctx context.Context, reference string) (*domain.Payment, error)

	// ListByUser retrieves the most recent payments of a user.
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.Payment, error)

	// ListStalePending retrieves pending payments created before the cutoff.
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Payment, error)

	// SetAuthorization stores the gateway redirect handle on a payment.
	SetAuthorization(ctx context.Context, reference, authorizationURL, accessCode string) error

	// TransitionStatus moves a payment from one status to another only if its
	// stored status still equals from. Returns false when another writer won.
	TransitionStatus(ctx context.Context, reference string, from, to domain.PaymentStatus, gatewayData *domain.GatewayData) (bool, error)

	// LinkTarget records the id of the target created for a creation payment.
	LinkTarget(ctx context.Context, reference, targetID string) error
}
