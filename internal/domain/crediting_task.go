package domain

import "time"

// CreditingStep names a post-settlement step that can be replayed.
type CreditingStep string

const (
	CreditingStepCreditTarget        CreditingStep = "credit_target"
	CreditingStepWriteTransactionLog CreditingStep = "write_transaction_log"
	CreditingStepNotify              CreditingStep = "notify"
)

// CreditingTaskStatus represents the state of a compensation task.
type CreditingTaskStatus string

const (
	CreditingTaskPending  CreditingTaskStatus = "pending"
	CreditingTaskResolved CreditingTaskStatus = "resolved"
)

// CreditingTask records a post-settlement step that failed after the payment
// was already marked successful. Tasks are unique per (PaymentRef, Step).
type CreditingTask struct {
	ID         string
	PaymentRef string
	Step       CreditingStep
	Status     CreditingTaskStatus
	Attempts   int
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
