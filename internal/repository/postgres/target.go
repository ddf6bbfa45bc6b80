package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"savings/internal/domain"
	"savings/internal/repository"
)

// TargetRepository is a PostgreSQL implementation of repository.TargetRepository.
type TargetRepository struct {
	db *sql.DB
}

// NewTargetRepository creates a new PostgreSQL target repository.
func NewTargetRepository(db *sql.DB) *TargetRepository {
	return &TargetRepository{db: db}
}

const targetColumns = `id, kind, name, owner_id, target_amount, duration_months, current_amount, created_at`

// Create persists a new target with a zero balance.
func (r *TargetRepository) Create(ctx context.Context, target *domain.Target) error {
	query := `
		INSERT INTO targets (id, kind, name, owner_id, target_amount, duration_months, current_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		target.ID,
		target.Kind,
		target.Name,
		target.OwnerID,
		target.TargetAmount,
		target.DurationMonths,
		target.CreatedAt,
	)

	return mapError(err)
}

// GetByID retrieves a target and its contributions.
func (r *TargetRepository) GetByID(ctx context.Context, id string) (*domain.Target, error) {
	target, err := scanTarget(r.db.QueryRowContext(ctx, `SELECT `+targetColumns+` FROM targets WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, target_id, user_id, amount, description, payment_ref, paid_at, status
		FROM contributions WHERE target_id = $1 ORDER BY paid_at ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var c domain.Contribution
		if err := rows.Scan(
			&c.ID,
			&c.TargetID,
			&c.UserID,
			&c.Amount,
			&c.Description,
			&c.PaymentRef,
			&c.PaidAt,
			&c.Status,
		); err != nil {
			return nil, err
		}
		target.Contributions = append(target.Contributions, c)
	}

	return target, rows.Err()
}

// FindByNameAndOwner retrieves a target by kind, name and owner.
// Returns nil if none exists.
func (r *TargetRepository) FindByNameAndOwner(ctx context.Context, kind domain.TargetKind, name, ownerID string) (*domain.Target, error) {
	query := `SELECT ` + targetColumns + `
		FROM targets WHERE kind = $1 AND name = $2 AND owner_id = $3
		ORDER BY created_at ASC LIMIT 1`

	target, err := scanTarget(r.db.QueryRowContext(ctx, query, kind, name, ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return target, nil
}

// EnsureWallet creates the wallet target of a user if it does not exist.
func (r *TargetRepository) EnsureWallet(ctx context.Context, userID string) (*domain.Target, error) {
	id := domain.WalletTargetID(userID)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO targets (id, kind, name, owner_id, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO NOTHING
	`, id, domain.TargetKindWallet, "Wallet", userID)
	if err != nil {
		return nil, err
	}

	target, err := scanTarget(r.db.QueryRowContext(ctx, `SELECT `+targetColumns+` FROM targets WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return target, nil
}

// Credit appends the contribution and increases the target balance in one
// database transaction. The unique payment_ref index makes a repeated credit
// for the same payment a no-op.
func (r *TargetRepository) Credit(ctx context.Context, contribution *domain.Contribution) (applied bool, target *domain.Target, err error) {
	if contribution.Amount <= 0 {
		return false, nil, fmt.Errorf("contribution amount must be positive, got %d", contribution.Amount)
	}
	if contribution.ID == "" {
		contribution.ID = uuid.New().String()
	}
	if contribution.PaidAt.IsZero() {
		contribution.PaidAt = time.Now()
	}
	if contribution.Status == "" {
		contribution.Status = domain.ContributionStatusCompleted
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, err
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO contributions (id, target_id, user_id, amount, description, payment_ref, paid_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (payment_ref) DO NOTHING
	`,
		contribution.ID,
		contribution.TargetID,
		contribution.UserID,
		contribution.Amount,
		contribution.Description,
		contribution.PaymentRef,
		contribution.PaidAt,
		contribution.Status,
	)
	if err != nil {
		return false, nil, mapError(err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return false, nil, err
	}

	if inserted == 1 {
		// Increment in SQL so concurrent contributors never lose an update.
		target, err = scanTarget(tx.QueryRowContext(ctx, `
			UPDATE targets SET current_amount = current_amount + $1
			WHERE id = $2
			RETURNING `+targetColumns,
			contribution.Amount, contribution.TargetID,
		))
	} else {
		target, err = scanTarget(tx.QueryRowContext(ctx, `SELECT `+targetColumns+` FROM targets WHERE id = $1`, contribution.TargetID))
	}
	if err != nil {
		err = mapError(err)
		return false, nil, err
	}

	if err = tx.Commit(); err != nil {
		return false, nil, err
	}

	return inserted == 1, target, nil
}

func scanTarget(row rowScanner) (*domain.Target, error) {
	var target domain.Target
	err := row.Scan(
		&target.ID,
		&target.Kind,
		&target.Name,
		&target.OwnerID,
		&target.TargetAmount,
		&target.DurationMonths,
		&target.CurrentAmount,
		&target.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &target, nil
}

// Ensure TargetRepository implements repository.TargetRepository.
var _ repository.TargetRepository = (*TargetRepository)(nil)
