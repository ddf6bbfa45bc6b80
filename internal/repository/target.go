package repository

import (
	"context"

	"savings/internal/domain"
)

// TargetRepository defines the persistence operations for target aggregates.
type TargetRepository interface {
	// Create persists a new target with a zero balance.
	Create(ctx context.Context, target *domain.Target) error

	// GetByID retrieves a target and its contributions.
	GetByID(ctx context.Context, id string) (*domain.Target, error)

	// FindByNameAndOwner retrieves a target by kind, name and owner.
	// Returns nil if none exists.
	FindByNameAndOwner(ctx context.Context, kind domain.TargetKind, name, ownerID string) (*domain.Target, error)

	// EnsureWallet creates the wallet target of a user if it does not exist.
	EnsureWallet(ctx context.Context, userID string) (*domain.Target, error)

	// Credit appends the contribution and increases the target balance by its
	// amount in one atomic step. A contribution whose payment reference was
	// already applied is ignored and applied is false.
	Credit(ctx context.Context, contribution *domain.Contribution) (applied bool, target *domain.Target, err error)
}
