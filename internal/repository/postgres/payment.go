package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"savings/internal/domain"
	"savings/internal/repository"
)

// PaymentRepository is a PostgreSQL implementation of repository.PaymentRepository.
type PaymentRepository struct {
	q Querier
}

// NewPaymentRepository creates a new PostgreSQL payment repository.
func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{q: db}
}

const paymentColumns = `id, reference, user_id, email, amount, currency, status, type,
	metadata, gateway_data, authorization_url, access_code, created_at, updated_at, settled_at`

// Create persists a new payment.
func (r *PaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (id, reference, user_id, email, amount, currency, status, type,
			metadata, authorization_url, access_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	metadata, err := json.Marshal(payment.Metadata)
	if err != nil {
		return fmt.Errorf("marshal payment metadata: %w", err)
	}

	_, err = r.q.ExecContext(ctx, query,
		payment.ID,
		payment.Reference,
		payment.UserID,
		payment.Email,
		payment.Amount,
		payment.Currency,
		payment.Status,
		payment.Type,
		string(metadata),
		payment.AuthorizationURL,
		payment.AccessCode,
		payment.CreatedAt,
		payment.UpdatedAt,
	)

	return mapError(err)
}

// GetByReference retrieves a payment by its reference.
func (r *PaymentRepository) GetByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE reference = $1`

	payment, err := scanPayment(r.q.QueryRowContext(ctx, query, reference))
	if err != nil {
		return nil, mapError(err)
	}
	return payment, nil
}

// ListByUser retrieves the most recent payments of a user.
func (r *PaymentRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	return r.list(ctx, query, userID, limit)
}

// ListStalePending retrieves pending payments created before the cutoff.
func (r *PaymentRepository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC LIMIT $3`
	return r.list(ctx, query, domain.PaymentStatusPending, createdBefore, limit)
}

func (r *PaymentRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Payment, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*domain.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}

	return payments, rows.Err()
}

// SetAuthorization stores the gateway redirect handle on a payment.
func (r *PaymentRepository) SetAuthorization(ctx context.Context, reference, authorizationURL, accessCode string) error {
	query := `
		UPDATE payments SET authorization_url = $1, access_code = $2, updated_at = NOW()
		WHERE reference = $3
	`

	result, err := r.q.ExecContext(ctx, query, authorizationURL, accessCode, reference)
	if err != nil {
		return err
	}
	return expectOneRow(result)
}

// TransitionStatus moves a payment from one status to another only if its
// stored status still equals from.
func (r *PaymentRepository) TransitionStatus(ctx context.Context, reference string, from, to domain.PaymentStatus, gatewayData *domain.GatewayData) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("illegal payment transition %s -> %s", from, to)
	}

	var raw any
	if gatewayData != nil {
		data, err := json.Marshal(gatewayData)
		if err != nil {
			return false, fmt.Errorf("marshal gateway data: %w", err)
		}
		raw = string(data)
	}

	query := `
		UPDATE payments
		SET status = $1,
			gateway_data = COALESCE($2::jsonb, gateway_data),
			settled_at = CASE WHEN $1 = 'successful' THEN NOW() ELSE settled_at END,
			updated_at = NOW()
		WHERE reference = $3 AND status = $4
	`

	result, err := r.q.ExecContext(ctx, query, to, raw, reference, from)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rowsAffected == 1 {
		return true, nil
	}

	// Either the reference is unknown or another writer already moved it.
	var exists bool
	if err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE reference = $1)`, reference).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, repository.ErrNotFound
	}
	return false, nil
}

// LinkTarget records the id of the target created for a creation payment.
func (r *PaymentRepository) LinkTarget(ctx context.Context, reference, targetID string) error {
	query := `
		UPDATE payments
		SET metadata = jsonb_set(metadata, '{target_id}', to_jsonb($1::text)), updated_at = NOW()
		WHERE reference = $2
	`

	result, err := r.q.ExecContext(ctx, query, targetID, reference)
	if err != nil {
		return err
	}
	return expectOneRow(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var payment domain.Payment
	var metadata []byte
	var gatewayData []byte
	var settledAt sql.NullTime

	err := row.Scan(
		&payment.ID,
		&payment.Reference,
		&payment.UserID,
		&payment.Email,
		&payment.Amount,
		&payment.Currency,
		&payment.Status,
		&payment.Type,
		&metadata,
		&gatewayData,
		&payment.AuthorizationURL,
		&payment.AccessCode,
		&payment.CreatedAt,
		&payment.UpdatedAt,
		&settledAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &payment.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", payment.Reference, err)
		}
	}
	if len(gatewayData) > 0 {
		payment.GatewayData = &domain.GatewayData{}
		if err := json.Unmarshal(gatewayData, payment.GatewayData); err != nil {
			return nil, fmt.Errorf("decode gateway data of %s: %w", payment.Reference, err)
		}
	}
	if settledAt.Valid {
		payment.SettledAt = settledAt.Time
	}

	return &payment, nil
}

func expectOneRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Ensure PaymentRepository implements repository.PaymentRepository.
var _ repository.PaymentRepository = (*PaymentRepository)(nil)
