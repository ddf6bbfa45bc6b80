package domain

import "time"

// TargetKind identifies which aggregate a payment credits.
type TargetKind string

const (
	TargetKindGroup  TargetKind = "group"
	TargetKindGoal   TargetKind = "goal"
	TargetKindWallet TargetKind = "wallet"
)

// ContributionStatus represents the state of a contribution entry.
type ContributionStatus string

const (
	ContributionStatusCompleted ContributionStatus = "completed"
)

// Target is a group fund, personal goal or wallet whose balance is credited
// by successful payments.
type Target struct {
	ID             string
	Kind           TargetKind
	Name           string
	OwnerID        string
	TargetAmount   int64
	DurationMonths int
	CurrentAmount  int64
	CreatedAt      time.Time
	Contributions  []Contribution
}

// Progress returns the funded fraction in percent, 0 when no target amount is set.
func (t *Target) Progress() int {
	if t.TargetAmount <= 0 {
		return 0
	}
	return int(t.CurrentAmount * 100 / t.TargetAmount)
}

// Contribution is an immutable record of money added to a target.
type Contribution struct {
	ID          string
	TargetID    string
	UserID      string
	Amount      int64
	Description string
	PaymentRef  string
	PaidAt      time.Time
	Status      ContributionStatus
}

// WalletTargetID returns the id of the wallet target owned by userID.
func WalletTargetID(userID string) string {
	return "wallet_" + userID
}
