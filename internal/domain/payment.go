package domain

import "time"

// PaymentStatus represents the current status of a payment.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusSuccessful PaymentStatus = "successful"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusSuccessful || s == PaymentStatusFailed || s == PaymentStatusCancelled
}

// CanTransitionTo reports whether s -> next is a legal lifecycle move.
// Only pending payments may move, and only into a terminal state.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return s == PaymentStatusPending && next.IsTerminal()
}

// PaymentType represents the intent behind a payment.
type PaymentType string

const (
	PaymentTypeGroupCreation     PaymentType = "group_creation"
	PaymentTypeGroupContribution PaymentType = "group_contribution"
	PaymentTypeGoalCreation      PaymentType = "goal_creation"
	PaymentTypeGoalContribution  PaymentType = "goal_contribution"
	PaymentTypeWalletDeposit     PaymentType = "wallet_deposit"
)

// Valid reports whether t is a known payment type.
func (t PaymentType) Valid() bool {
	switch t {
	case PaymentTypeGroupCreation, PaymentTypeGroupContribution,
		PaymentTypeGoalCreation, PaymentTypeGoalContribution,
		PaymentTypeWalletDeposit:
		return true
	}
	return false
}

// IsCreation reports whether the first successful payment creates the target.
func (t PaymentType) IsCreation() bool {
	return t == PaymentTypeGroupCreation || t == PaymentTypeGoalCreation
}

// TargetKind returns the kind of target aggregate the payment credits.
func (t PaymentType) TargetKind() TargetKind {
	switch t {
	case PaymentTypeGroupCreation, PaymentTypeGroupContribution:
		return TargetKindGroup
	case PaymentTypeGoalCreation, PaymentTypeGoalContribution:
		return TargetKindGoal
	default:
		return TargetKindWallet
	}
}

// ReferencePrefix returns the intent tag encoded at the start of a reference.
func (t PaymentType) ReferencePrefix() string {
	switch t {
	case PaymentTypeGroupCreation:
		return "GROUP_CREATE"
	case PaymentTypeGroupContribution:
		return "GROUP_CONTRIB"
	case PaymentTypeGoalCreation:
		return "GOAL_CREATE"
	case PaymentTypeGoalContribution:
		return "GOAL_CONTRIB"
	default:
		return "WALLET_DEPOSIT"
	}
}

// PaymentMetadata is the intent-specific payload stored with a payment.
type PaymentMetadata struct {
	TargetType     TargetKind `json:"target_type"`
	TargetID       string     `json:"target_id,omitempty"`
	TargetName     string     `json:"target_name,omitempty"`
	TargetAmount   int64      `json:"target_amount,omitempty"`
	DurationMonths int        `json:"duration_months,omitempty"`
	Principal      int64      `json:"principal"`
	Fee            int64      `json:"fee"`
	Description    string     `json:"description,omitempty"`
}

// GatewayData holds the fields reported by the gateway on settlement.
type GatewayData struct {
	GatewayStatus string    `json:"gateway_status"`
	PaidAt        time.Time `json:"paid_at,omitempty"`
	Channel       string    `json:"channel,omitempty"`
	IPAddress     string    `json:"ip_address,omitempty"`
	Fees          int64     `json:"fees,omitempty"`
	Message       string    `json:"message,omitempty"`
}

// Payment represents one attempt to charge a user through the gateway.
type Payment struct {
	ID               string
	Reference        string
	UserID           string
	Email            string
	Amount           int64 // minor units actually charged
	Currency         string
	Status           PaymentStatus
	Type             PaymentType
	Metadata         PaymentMetadata
	GatewayData      *GatewayData
	AuthorizationURL string
	AccessCode       string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	SettledAt        time.Time
}

// ContributionAmount returns the amount that should reach the target.
// Records written before principal was persisted fall back to amount - fee.
func (p *Payment) ContributionAmount() int64 {
	if p.Metadata.Principal > 0 {
		return p.Metadata.Principal
	}
	if p.Metadata.Fee > 0 && p.Amount > p.Metadata.Fee {
		return p.Amount - p.Metadata.Fee
	}
	return p.Amount
}
