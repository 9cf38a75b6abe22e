/*
Package generic provides the core types of the rent advance engine.

PURPOSE:
  This package holds the storage-independent building blocks shared by the
  engine, the stores and the HTTP layer: money normalization, calendar month
  keys, coverage windows, the allocation calculator, the persisted entities
  and the store ports.

KEY CONCEPTS IN THIS FILE (types.go):
  - Contract: a lease with a monthly rent and monthly charges
  - Payment: a money-in event tied to a contract
  - Advance: an up-front payment that pre-pays N calendar months of rent
  - Consumption: one covered month paid out of an advance (unique per month)

DESIGN PRINCIPLES:
  1. Precision: money is always decimal.Decimal, normalized to 2 fraction digits
  2. Auditability: advances and consumptions are never deleted
  3. Type Safety: distinct ID types prevent mixing contract/advance/payment IDs
  4. Uniqueness lives in the store, not in read-then-write checks

SEE ALSO:
  - money.go: parsing free-form monetary values
  - time.go: Month keys and calendar arithmetic
  - period.go: coverage windows
  - store.go: persistence ports
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ContractID string
type AdvanceID string
type PaymentID string
type ConsumptionID string

// =============================================================================
// CONTRACT
// =============================================================================

// Contract identifies a lease. Contracts are soft-deleted only.
type Contract struct {
	ID             ContractID
	Number         string
	MonthlyRent    decimal.Decimal
	MonthlyCharges decimal.Decimal
	StartDate      time.Time
	Active         bool
	Terminated     bool
	Deleted        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// StartMonth returns the first-of-month key of the contract start date.
func (c Contract) StartMonth() Month {
	return MonthOf(c.StartDate)
}

// MonthlyTotal is rent plus charges.
func (c Contract) MonthlyTotal() decimal.Decimal {
	return c.MonthlyRent.Add(c.MonthlyCharges)
}

// =============================================================================
// PAYMENT
// =============================================================================

type PaymentType string

const (
	PaymentRent    PaymentType = "rent"
	PaymentAdvance PaymentType = "advance"
	PaymentDeposit PaymentType = "deposit"
	PaymentCharges PaymentType = "charges"
	PaymentOther   PaymentType = "other"
)

func (t PaymentType) Valid() bool {
	switch t {
	case PaymentRent, PaymentAdvance, PaymentDeposit, PaymentCharges, PaymentOther:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentValidated PaymentStatus = "validated"
	PaymentRefused   PaymentStatus = "refused"
)

// paymentTransitions lists the allowed status changes. Everything moves
// forward from pending; refusal and re-validation are explicit actions.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:   {PaymentValidated, PaymentRefused},
	PaymentValidated: {PaymentRefused},
	PaymentRefused:   {PaymentValidated},
}

// CanTransition reports whether a payment may move from one status to another.
func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Payment is a generic money-in event tied to a contract.
type Payment struct {
	ID         PaymentID
	ContractID ContractID
	Amount     decimal.Decimal
	Date       time.Time
	Month      Month // period settled by the payment; defaults to MonthOf(Date)
	Type       PaymentType
	Status     PaymentStatus
	Reference  string
	CreatedAt  time.Time
}

// PaidMonth returns the month the payment settles.
func (p Payment) PaidMonth() Month {
	if p.Month.IsZero() {
		return MonthOf(p.Date)
	}
	return p.Month
}

// PaymentFilter narrows a payment history query. Zero values mean "any".
type PaymentFilter struct {
	Type   PaymentType
	Status PaymentStatus
	From   Month // inclusive, on PaidMonth
}

// =============================================================================
// ADVANCE
// =============================================================================

type AdvanceStatus string

const (
	AdvanceActive    AdvanceStatus = "active"
	AdvanceExhausted AdvanceStatus = "exhausted"
	AdvanceCancelled AdvanceStatus = "cancelled"
)

// Advance is a single up-front payment intended to pre-pay future months.
//
// INVARIANTS:
//   - RemainingBalance = Amount - sum(consumed amounts), never negative
//   - MonthsCovered = floor(Amount / MonthlyRent) at creation
//   - consumable months are [FirstMonth, FirstMonth+MonthsCovered-1]
type Advance struct {
	ID               AdvanceID
	ContractID       ContractID
	PaymentID        PaymentID // optional funding payment, unique when set
	Amount           decimal.Decimal
	MonthlyRent      decimal.Decimal // rent captured at creation
	AdvanceDate      time.Time
	Status           AdvanceStatus
	RemainingBalance decimal.Decimal
	FirstMonth       Month
	MonthsCovered    int
	Remainder        decimal.Decimal
	ExhaustedAt      *time.Time
	Notes            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Window returns the months the advance may legally consume.
func (a Advance) Window() CoverageWindow {
	return CoverageWindow{First: a.FirstMonth, Count: a.MonthsCovered}
}

// LastMonth is the final covered month. For an advance that covers no full
// month it equals FirstMonth.
func (a Advance) LastMonth() Month {
	if a.MonthsCovered <= 0 {
		return a.FirstMonth
	}
	return a.Window().Last()
}

// Consumed returns how much of the advance has been used.
func (a Advance) Consumed() decimal.Decimal {
	return a.Amount.Sub(a.RemainingBalance)
}

// IsActive reports whether the advance can still be consumed.
func (a Advance) IsActive() bool { return a.Status == AdvanceActive }

// =============================================================================
// CONSUMPTION
// =============================================================================

type ConsumptionSource string

const (
	SourceManual  ConsumptionSource = "manual"
	SourceSweep   ConsumptionSource = "sweep"
	SourcePayment ConsumptionSource = "payment"
)

// Consumption marks one covered month as paid by an advance.
// Created once per (AdvanceID, Month); immutable afterwards.
type Consumption struct {
	ID             ConsumptionID
	AdvanceID      AdvanceID
	ContractID     ContractID
	Month          Month
	Amount         decimal.Decimal
	RemainingAfter decimal.Decimal
	PaymentID      PaymentID
	Source         ConsumptionSource
	CreatedAt      time.Time
}
