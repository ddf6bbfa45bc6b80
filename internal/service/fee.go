package service

import (
	"github.com/shopspring/decimal"

	"savings/internal/config"
	"savings/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// FeeBreakdown is the platform fee charged on top of a principal.
type FeeBreakdown struct {
	BaseFee     int64           `json:"base_fee"`
	DurationFee int64           `json:"duration_fee"`
	TotalFee    int64           `json:"total_fee"`
	Percentage  decimal.Decimal `json:"percentage"`
}

// FeeCalculator computes fees from a fixed schedule. It is safe for concurrent use.
type FeeCalculator struct {
	schedule config.FeeSchedule
}

// NewFeeCalculator creates a FeeCalculator.
func NewFeeCalculator(schedule config.FeeSchedule) *FeeCalculator {
	return &FeeCalculator{schedule: schedule}
}

// Schedule returns the schedule the calculator was built with.
func (c *FeeCalculator) Schedule() config.FeeSchedule {
	return c.schedule
}

// Calculate returns the fee for a principal in minor units. Creation fees
// depend on the duration; contributions and deposits ignore it.
func (c *FeeCalculator) Calculate(principal int64, paymentType domain.PaymentType, durationMonths int) (FeeBreakdown, error) {
	if !paymentType.Valid() {
		return FeeBreakdown{}, invalid("type", "unknown payment type %q", paymentType)
	}
	if principal < c.schedule.MinAmount || principal > c.schedule.MaxAmount {
		return FeeBreakdown{}, invalid("amount", "must be between %d and %d", c.schedule.MinAmount, c.schedule.MaxAmount)
	}

	p := decimal.NewFromInt(principal)

	var base, duration, total int64
	if paymentType.IsCreation() {
		if durationMonths < 1 {
			return FeeBreakdown{}, invalid("duration_months", "must be at least 1")
		}
		base = percentOf(p, c.schedule.CreationBasePercent)
		duration = percentOf(p, c.durationPercent(durationMonths))
		total = clamp(base+duration, c.schedule.CreationMinFee, c.schedule.CreationMaxFee)
	} else {
		base = percentOf(p, c.schedule.ContributionPercent)
		total = clamp(base, c.schedule.ContributionMinFee, c.schedule.ContributionMaxFee)
	}

	return FeeBreakdown{
		BaseFee:     base,
		DurationFee: duration,
		TotalFee:    total,
		Percentage:  decimal.NewFromInt(total).Mul(hundred).Div(p).Round(2),
	}, nil
}

// ChargeAmount returns what the gateway is asked to collect. Creation
// payments only carry the fee; everything else carries principal and fee.
func ChargeAmount(paymentType domain.PaymentType, principal int64, fee FeeBreakdown) int64 {
	if paymentType.IsCreation() {
		return fee.TotalFee
	}
	return principal + fee.TotalFee
}

func (c *FeeCalculator) durationPercent(months int) decimal.Decimal {
	tiers := c.schedule.DurationTiers
	for _, tier := range tiers {
		if tier.MaxMonths == 0 || months <= tier.MaxMonths {
			return tier.Percent
		}
	}
	return tiers[len(tiers)-1].Percent
}

// percentOf rounds half away from zero to whole minor units.
func percentOf(amount, percent decimal.Decimal) int64 {
	return amount.Mul(percent).Div(hundred).Round(0).IntPart()
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
