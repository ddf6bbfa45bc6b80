package service

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"savings/internal/config"
	"savings/internal/domain"
)

func newDefaultCalculator() *FeeCalculator {
	return NewFeeCalculator(config.DefaultFeeSchedule())
}

func TestFee_GoalCreationOneMonth(t *testing.T) {
	t.Parallel()

	// ₦25,000 for one month: 2% base + 0.2% duration.
	fee, err := newDefaultCalculator().Calculate(2_500_000, domain.PaymentTypeGoalCreation, 1)
	require.NoError(t, err)

	assert.Equal(t, int64(50_000), fee.BaseFee)
	assert.Equal(t, int64(5_000), fee.DurationFee)
	assert.Equal(t, int64(55_000), fee.TotalFee)
	assert.True(t, fee.Percentage.Equal(decimal.RequireFromString("2.2")), "percentage %s", fee.Percentage)
}

func TestFee_DurationTiers(t *testing.T) {
	t.Parallel()

	calc := newDefaultCalculator()
	cases := []struct {
		months      int
		durationFee int64
	}{
		{1, 20_000},
		{2, 50_000},
		{3, 50_000},
		{6, 100_000},
		{12, 150_000},
		{13, 200_000},
		{60, 200_000},
	}

	for _, tc := range cases {
		// 10,000,000 kobo keeps base + duration inside the clamp window.
		fee, err := calc.Calculate(10_000_000, domain.PaymentTypeGroupCreation, tc.months)
		require.NoError(t, err)
		assert.Equal(t, tc.durationFee, fee.DurationFee, "months=%d", tc.months)
		assert.Equal(t, int64(200_000), fee.BaseFee)
	}
}

func TestFee_CreationClampedToMinimum(t *testing.T) {
	t.Parallel()

	fee, err := newDefaultCalculator().Calculate(100_000, domain.PaymentTypeGroupCreation, 1)
	require.NoError(t, err)

	assert.Equal(t, int64(2_000), fee.BaseFee)
	assert.Equal(t, int64(200), fee.DurationFee)
	assert.Equal(t, int64(50_000), fee.TotalFee)
}

func TestFee_CreationClampedToMaximum(t *testing.T) {
	t.Parallel()

	fee, err := newDefaultCalculator().Calculate(1_000_000_000, domain.PaymentTypeGoalCreation, 24)
	require.NoError(t, err)

	assert.Equal(t, int64(500_000), fee.TotalFee)
}

func TestFee_ContributionIgnoresDuration(t *testing.T) {
	t.Parallel()

	calc := newDefaultCalculator()
	fee, err := calc.Calculate(5_000_000, domain.PaymentTypeGroupContribution, 12)
	require.NoError(t, err)

	assert.Equal(t, int64(75_000), fee.BaseFee)
	assert.Zero(t, fee.DurationFee)
	assert.Equal(t, int64(75_000), fee.TotalFee)

	low, err := calc.Calculate(100_000, domain.PaymentTypeWalletDeposit, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), low.TotalFee)

	high, err := calc.Calculate(500_000_000, domain.PaymentTypeGoalContribution, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(200_000), high.TotalFee)
}

func TestFee_RoundsHalfAwayFromZero(t *testing.T) {
	t.Parallel()

	// 1.5% of 1,000,033 = 15,000.495 -> 15,000; of 1,000,100 = 15,001.5 -> 15,002.
	calc := newDefaultCalculator()

	fee, err := calc.Calculate(1_000_033, domain.PaymentTypeGoalContribution, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(15_000), fee.BaseFee)

	fee, err = calc.Calculate(1_000_100, domain.PaymentTypeGoalContribution, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(15_002), fee.BaseFee)
}

func TestFee_AlwaysWithinBoundsAndDeterministic(t *testing.T) {
	t.Parallel()

	calc := newDefaultCalculator()
	schedule := calc.Schedule()
	types := []domain.PaymentType{
		domain.PaymentTypeGroupCreation,
		domain.PaymentTypeGoalCreation,
		domain.PaymentTypeGroupContribution,
		domain.PaymentTypeGoalContribution,
		domain.PaymentTypeWalletDeposit,
	}

	for principal := schedule.MinAmount; principal <= schedule.MaxAmount; principal = principal*3 + 7 {
		for _, pt := range types {
			for _, months := range []int{1, 3, 6, 12, 36} {
				first, err := calc.Calculate(principal, pt, months)
				require.NoError(t, err)
				second, err := calc.Calculate(principal, pt, months)
				require.NoError(t, err)
				assert.Equal(t, first, second)

				lo, hi := schedule.ContributionMinFee, schedule.ContributionMaxFee
				if pt.IsCreation() {
					lo, hi = schedule.CreationMinFee, schedule.CreationMaxFee
				}
				assert.GreaterOrEqual(t, first.TotalFee, lo)
				assert.LessOrEqual(t, first.TotalFee, hi)
			}
		}
	}
}

func TestFee_RejectsOutOfRangePrincipal(t *testing.T) {
	t.Parallel()

	calc := newDefaultCalculator()

	for _, principal := range []int64{0, 99_999, 1_000_000_001} {
		_, err := calc.Calculate(principal, domain.PaymentTypeGoalContribution, 0)
		var vErr *ValidationError
		require.True(t, errors.As(err, &vErr), "principal %d: %v", principal, err)
		assert.Equal(t, "amount", vErr.Field)
	}
}

func TestFee_RejectsCreationWithoutDuration(t *testing.T) {
	t.Parallel()

	_, err := newDefaultCalculator().Calculate(2_500_000, domain.PaymentTypeGoalCreation, 0)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "duration_months", vErr.Field)
}

func TestChargeAmount(t *testing.T) {
	t.Parallel()

	fee := FeeBreakdown{TotalFee: 55_000}
	assert.Equal(t, int64(55_000), ChargeAmount(domain.PaymentTypeGoalCreation, 2_500_000, fee))
	assert.Equal(t, int64(2_555_000), ChargeAmount(domain.PaymentTypeGoalContribution, 2_500_000, fee))
}

func TestNewReference(t *testing.T) {
	t.Parallel()

	at := time.Unix(1_700_000_000, 0)
	assert.Equal(t, "GROUP_CONTRIB_1700000000_u1_g1", NewReference(domain.PaymentTypeGroupContribution, at, "u1", "g1"))
	assert.Equal(t, "GOAL_CREATE_1700000000_u1", NewReference(domain.PaymentTypeGoalCreation, at, "u1", ""))
	assert.Equal(t, "WALLET_DEPOSIT_1700000000_u1_wallet_u1", NewReference(domain.PaymentTypeWalletDeposit, at, "u1", "wallet_u1"))
}

func TestCrossedMilestones(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []int{25}, crossedMilestones(1_000, 0, 250))
	assert.Equal(t, []int{25, 50, 75}, crossedMilestones(1_000, 100, 800))
	assert.Equal(t, []int{100}, crossedMilestones(1_000, 990, 1_200))
	assert.Empty(t, crossedMilestones(1_000, 260, 400))
	assert.Empty(t, crossedMilestones(0, 0, 400))
}
