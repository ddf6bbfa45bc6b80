package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNetAmountMismatch is returned when a transaction log would violate net = amount - fee.
var ErrNetAmountMismatch = errors.New("net amount must equal amount minus fee")

// TransactionLog is the canonical record of a completed money movement.
type TransactionLog struct {
	TransactionID string
	Type          PaymentType
	Status        PaymentStatus
	Amount        int64
	Fee           int64
	NetAmount     int64
	UserID        string
	TargetType    TargetKind
	TargetID      string
	PaymentRef    string
	InitiatedAt   time.Time
	ProcessedAt   time.Time
	CompletedAt   time.Time
}

// NewTransactionLog builds the log entry for a payment that reached a terminal state.
func NewTransactionLog(p *Payment, processedAt time.Time) (*TransactionLog, error) {
	fee := p.Metadata.Fee
	if fee > p.Amount {
		fee = p.Amount
	}

	entry := &TransactionLog{
		TransactionID: uuid.New().String(),
		Type:          p.Type,
		Status:        p.Status,
		Amount:        p.Amount,
		Fee:           fee,
		NetAmount:     p.Amount - fee,
		UserID:        p.UserID,
		TargetType:    p.Metadata.TargetType,
		TargetID:      p.Metadata.TargetID,
		PaymentRef:    p.Reference,
		InitiatedAt:   p.CreatedAt,
		ProcessedAt:   processedAt,
	}
	if p.Status == PaymentStatusSuccessful {
		entry.CompletedAt = p.SettledAt
		if entry.CompletedAt.IsZero() {
			entry.CompletedAt = processedAt
		}
	}

	if err := entry.Validate(); err != nil {
		return nil, err
	}
	return entry, nil
}

// Validate checks the write-time invariants of the entry.
func (t *TransactionLog) Validate() error {
	if t.NetAmount != t.Amount-t.Fee {
		return ErrNetAmountMismatch
	}
	if t.PaymentRef == "" {
		return errors.New("transaction log requires a payment reference")
	}
	if !t.Status.IsTerminal() {
		return errors.New("transaction log requires a terminal payment")
	}
	return nil
}
