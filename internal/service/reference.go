package service

import (
	"strconv"
	"strings"
	"time"

	"savings/internal/domain"
)

// NewReference builds the payment reference
// {INTENT}_{unixSeconds}_{userID}[_{targetID}].
func NewReference(paymentType domain.PaymentType, now time.Time, userID, targetID string) string {
	parts := []string{
		paymentType.ReferencePrefix(),
		strconv.FormatInt(now.Unix(), 10),
		userID,
	}
	if targetID != "" {
		parts = append(parts, targetID)
	}
	return strings.Join(parts, "_")
}
