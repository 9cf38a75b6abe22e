package generic

import "github.com/shopspring/decimal"

// =============================================================================
// ALLOCATION - How many whole months an advance pays for
// =============================================================================

// MaxMonthsCovered bounds a coverage window: one hundred years of rent.
const MaxMonthsCovered = 1200

// Allocation is the split of an advance into fully covered months and a
// remainder that does not cover a whole month.
type Allocation struct {
	MonthsCovered int
	Remainder     decimal.Decimal
}

// CalculateAllocation divides amount by monthlyRent.
//
//	MonthsCovered = floor(amount / monthlyRent)
//	Remainder     = amount - MonthsCovered * monthlyRent
//
// monthlyRent must be positive; amount must not be negative and must not
// cover more than MaxMonthsCovered months.
func CalculateAllocation(amount, monthlyRent decimal.Decimal) (Allocation, error) {
	if !monthlyRent.IsPositive() {
		return Allocation{}, &InvalidRentError{Rent: monthlyRent}
	}
	if amount.IsNegative() {
		return Allocation{}, &InvalidAmountError{Raw: amount.String(), Err: ErrNegativeAmount}
	}

	months := amount.Div(monthlyRent).Floor()
	if months.GreaterThan(decimal.NewFromInt(MaxMonthsCovered)) {
		return Allocation{}, &InvalidAmountError{Raw: amount.String(), Err: ErrTooManyMonths}
	}
	remainder := amount.Sub(months.Mul(monthlyRent))

	return Allocation{
		MonthsCovered: int(months.IntPart()),
		Remainder:     remainder,
	}, nil
}

// Covered returns the portion of the amount spent on whole months.
func (a Allocation) Covered(monthlyRent decimal.Decimal) decimal.Decimal {
	return monthlyRent.Mul(decimal.NewFromInt(int64(a.MonthsCovered)))
}
