package advance_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rent-advance/advance"
	"github.com/warp/rent-advance/generic"
)

// =============================================================================
// CONTRACTS
// =============================================================================

func TestSaveContract_RejectsNegativeRent(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 1))

	_, err := f.svc.SaveContract(f.ctx, generic.Contract{ID: "c-1", MonthlyRent: money(-1)})

	var rentErr *generic.InvalidRentError
	require.ErrorAs(t, err, &rentErr)
	assert.Equal(t, generic.ContractID("c-1"), rentErr.ContractID)
}

func TestSaveContract_KeepsCreatedAt(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 1))
	first := f.contract(t, "c-001", 150000, date(2025, time.January, 1))

	f.clock.Set(date(2025, time.February, 1))
	second := f.contract(t, "c-001", 160000, date(2025, time.January, 1))

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, date(2025, time.February, 1), second.UpdatedAt)
}

// =============================================================================
// ADVANCE CREATION
// =============================================================================

func TestCreateAdvance_ZeroRentContract(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 1))
	f.contract(t, "c-001", 0, date(2025, time.January, 1))

	_, err := f.svc.CreateAdvance(f.ctx, advance.CreateAdvanceInput{ContractID: "c-001", Amount: money(450000)})

	var rentErr *generic.InvalidRentError
	require.ErrorAs(t, err, &rentErr)
	assert.Equal(t, generic.ContractID("c-001"), rentErr.ContractID)
	assert.True(t, generic.IsClientError(err))
}

func TestCreateAdvance_InactiveContract(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 1))
	_, err := f.svc.SaveContract(f.ctx, generic.Contract{ID: "c-001", MonthlyRent: money(150000), Terminated: true})
	require.NoError(t, err)

	_, err = f.svc.CreateAdvance(f.ctx, advance.CreateAdvanceInput{ContractID: "c-001", Amount: money(450000)})
	assert.ErrorIs(t, err, generic.ErrContractInactive)

	_, err = f.svc.CreateAdvance(f.ctx, advance.CreateAdvanceInput{ContractID: "nope", Amount: money(450000)})
	assert.ErrorIs(t, err, generic.ErrContractNotFound)
}

func TestCreateAdvance_NonPositiveAmount(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 1))
	f.contract(t, "c-001", 150000, date(2025, time.January, 1))

	_, err := f.svc.CreateAdvance(f.ctx, advance.CreateAdvanceInput{ContractID: "c-001", Amount: money(0)})
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)
}

func TestCreateAdvance_LessThanOneMonth(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 1))
	f.contract(t, "c-001", 150000, date(2025, time.January, 1))

	adv := f.advance(t, "c-001", 100000, date(2025, time.January, 1))

	assert.Equal(t, 0, adv.MonthsCovered)
	assertMoney(t, 100000, adv.Remainder)
	assert.True(t, adv.Window().IsEmpty())
	_, err := f.svc.Tracker().Consume(f.ctx, adv.ID, month(2025, time.January))
	assert.ErrorIs(t, err, generic.ErrOutOfWindow)
}

func TestCreateAdvance_FirstMonth(t *testing.T) {
	t.Run("month of the advance date", func(t *testing.T) {
		f := newFixture(t, date(2025, time.January, 1))
		f.contract(t, "c-001", 150000, date(2025, time.January, 1))
		adv := f.advance(t, "c-001", 450000, date(2025, time.January, 20))
		assert.Equal(t, month(2025, time.January), adv.FirstMonth)
	})

	t.Run("effective cutoff pushes to next month", func(t *testing.T) {
		f := newFixture(t, date(2025, time.January, 1), func(o *advance.Options) { o.EffectiveCutoffDay = 15 })
		f.contract(t, "c-001", 150000, date(2025, time.January, 1))

		late := f.advance(t, "c-001", 450000, date(2024, time.December, 20))
		assert.Equal(t, month(2025, time.January), late.FirstMonth)
		assert.Equal(t, month(2025, time.March), late.LastMonth())

		onTime := f.advance(t, "c-001", 150000, date(2025, time.January, 15))
		assert.Equal(t, month(2025, time.January), onTime.FirstMonth)
	})

	t.Run("explicit first month", func(t *testing.T) {
		f := newFixture(t, date(2025, time.January, 1))
		f.contract(t, "c-001", 150000, date(2025, time.January, 1))
		adv, err := f.svc.CreateAdvance(f.ctx, advance.CreateAdvanceInput{
			ContractID:  "c-001",
			Amount:      money(300000),
			AdvanceDate: date(2025, time.June, 1),
			FirstMonth:  month(2025, time.July),
		})
		require.NoError(t, err)
		assert.Equal(t, month(2025, time.July), adv.FirstMonth)
	})
}

func TestCreateAdvance_CapturesRentAtCreation(t *testing.T) {
	// GIVEN: an advance created at rent 150 000
	// WHEN: the rent is raised
	// THEN: the advance still draws 150 000 per month
	f := newFixture(t, date(2025, time.January, 1))
	f.contract(t, "c-001", 150000, date(2025, time.January, 1))
	adv := f.advance(t, "c-001", 450000, date(2025, time.January, 1))

	f.contract(t, "c-001", 200000, date(2025, time.January, 1))
	r := f.consume(t, adv.ID, month(2025, time.January))

	assertMoney(t, 150000, r.Consumption.Amount)
	assertMoney(t, 300000, r.Advance.RemainingBalance)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestRecordPayment_ValidatedAdvancePaymentCreatesAdvance(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 1))
	f.contract(t, "c-001", 150000, date(2025, time.January, 1))

	out, err := f.svc.RecordPayment(f.ctx, advance.RecordPaymentInput{
		ContractID: "c-001",
		Amount:     money(450000),
		Date:       date(2025, time.January, 1),
		Type:       generic.PaymentAdvance,
		Status:     generic.PaymentValidated,
		Reference:  "VIR-001",
	})
	require.NoError(t, err)
	require.NotNil(t, out.Advance)

	assert.Equal(t, out.Payment.ID, out.Advance.PaymentID)
	assert.Equal(t, 3, out.Advance.MonthsCovered)
	assert.Equal(t, month(2025, time.January), out.Payment.Month)

	again, err := f.svc.CreateFromPayment(f.ctx, out.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, out.Advance.ID, again.ID)
}

func TestRecordPayment_Validation(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 1))
	f.contract(t, "c-001", 150000, date(2025, time.January, 1))

	_, err := f.svc.RecordPayment(f.ctx, advance.RecordPaymentInput{ContractID: "c-001", Amount: money(0)})
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)

	_, err = f.svc.RecordPayment(f.ctx, advance.RecordPaymentInput{ContractID: "c-001", Amount: money(1), Type: "gift"})
	assert.ErrorIs(t, err, generic.ErrInvalidPaymentType)

	out, err := f.svc.RecordPayment(f.ctx, advance.RecordPaymentInput{ContractID: "c-001", Amount: money(150000)})
	require.NoError(t, err)
	assert.Equal(t, generic.PaymentRent, out.Payment.Type)
	assert.Equal(t, generic.PaymentPending, out.Payment.Status)
	assert.Equal(t, date(2025, time.January, 1), out.Payment.Date)
	assert.Nil(t, out.Advance)
}

func TestUpdatePaymentStatus(t *testing.T) {
	f := newFixture(t, date(2025, time.February, 1))
	f.contract(t, "c-005", 200000, date(2025, time.February, 1))

	out, err := f.svc.RecordPayment(f.ctx, advance.RecordPaymentInput{
		ContractID: "c-005",
		Amount:     money(600000),
		Date:       date(2025, time.February, 1),
		Type:       generic.PaymentAdvance,
	})
	require.NoError(t, err)
	require.Nil(t, out.Advance, "pending payments fund nothing")

	validated, err := f.svc.UpdatePaymentStatus(f.ctx, out.Payment.ID, generic.PaymentValidated)
	require.NoError(t, err)
	require.NotNil(t, validated.Advance)
	assert.Equal(t, 3, validated.Advance.MonthsCovered)

	_, err = f.svc.UpdatePaymentStatus(f.ctx, out.Payment.ID, generic.PaymentPending)
	assert.ErrorIs(t, err, generic.ErrInvalidStatusTransition)

	_, err = f.svc.UpdatePaymentStatus(f.ctx, "nope", generic.PaymentValidated)
	assert.ErrorIs(t, err, generic.ErrPaymentNotFound)
}

func TestCreateFromPayment_RejectsRentPayment(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 1))
	f.contract(t, "c-001", 150000, date(2025, time.January, 1))
	p := f.rentPayment(t, "c-001", month(2025, time.January), generic.PaymentValidated)

	_, err := f.svc.CreateFromPayment(f.ctx, p.ID)
	assert.ErrorIs(t, err, generic.ErrNotAdvancePayment)
}

func TestCreateFromPayment_Concurrent_OneAdvance(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 1))
	f.contract(t, "c-001", 150000, date(2025, time.January, 1))
	out, err := f.svc.RecordPayment(f.ctx, advance.RecordPaymentInput{
		ContractID: "c-001",
		Amount:     money(450000),
		Date:       date(2025, time.January, 1),
		Type:       generic.PaymentAdvance,
	})
	require.NoError(t, err)
	_, err = f.svc.UpdatePaymentStatus(f.ctx, out.Payment.ID, generic.PaymentValidated)
	require.NoError(t, err)

	var wg sync.WaitGroup
	ids := make(chan generic.AdvanceID, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			adv, err := f.svc.CreateFromPayment(f.ctx, out.Payment.ID)
			if assert.NoError(t, err) {
				ids <- adv.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	distinct := make(map[generic.AdvanceID]bool)
	for id := range ids {
		distinct[id] = true
	}
	assert.Len(t, distinct, 1)

	advances, err := f.store.ListAdvances(f.ctx, "c-001")
	require.NoError(t, err)
	assert.Len(t, advances, 1)
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestCancelAdvance(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 1))
	f.contract(t, "c-001", 150000, date(2025, time.January, 1))
	adv := f.advance(t, "c-001", 450000, date(2025, time.January, 1))

	cancelled, err := f.svc.CancelAdvance(f.ctx, adv.ID, "lease broken")
	require.NoError(t, err)
	assert.Equal(t, generic.AdvanceCancelled, cancelled.Status)
	assert.Equal(t, "lease broken", cancelled.Notes)

	_, err = f.svc.CancelAdvance(f.ctx, adv.ID, "")
	assert.ErrorIs(t, err, generic.ErrAdvanceNotActive)

	_, err = f.svc.CancelAdvance(f.ctx, "nope", "")
	assert.ErrorIs(t, err, generic.ErrAdvanceNotFound)
}

// =============================================================================
// AMOUNT DUE, CHECKS, PROGRESS
// =============================================================================

func TestAmountDueForMonth(t *testing.T) {
	// GIVEN: rent 150 000 + charges 10 000, advance covering Jan-Mar
	f := newFixture(t, date(2025, time.January, 5))
	f.contract(t, "c-001", 150000, date(2025, time.January, 1))
	adv := f.advance(t, "c-001", 450000, date(2025, time.January, 1))

	// WHEN: asking twice for January
	// THEN: only charges are due and a single consumption is recorded
	for i := 0; i < 2; i++ {
		due, err := f.svc.AmountDueForMonth(f.ctx, "c-001", month(2025, time.January))
		require.NoError(t, err)
		assertMoney(t, 160000, due.Total)
		assertMoney(t, 150000, due.AdvanceApplied)
		assertMoney(t, 10000, due.Due)
		assert.Equal(t, adv.ID, due.AdvanceID)
	}
	list := f.consumptions(t, adv.ID)
	require.Len(t, list, 1)
	assert.Equal(t, generic.SourcePayment, list[0].Source)

	// outside the window the full amount is due
	due, err := f.svc.AmountDueForMonth(f.ctx, "c-001", month(2025, time.April))
	require.NoError(t, err)
	assertMoney(t, 160000, due.Due)
	assert.Empty(t, due.AdvanceID)
}

func TestAmountDueForMonth_ExhaustedAdvanceKeepsCredit(t *testing.T) {
	f := newFixture(t, date(2025, time.April, 1))
	f.contract(t, "c-001", 150000, date(2025, time.January, 1))
	adv := f.advance(t, "c-001", 450000, date(2025, time.January, 1))
	_, err := f.svc.Tracker().Sweep(f.ctx, "c-001")
	require.NoError(t, err)
	require.Equal(t, generic.AdvanceExhausted, f.getAdvance(t, adv.ID).Status)

	due, err := f.svc.AmountDueForMonth(f.ctx, "c-001", month(2025, time.February))
	require.NoError(t, err)
	assertMoney(t, 10000, due.Due)
}

func TestCheckRentPayment(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 5))
	f.contract(t, "c-001", 150000, date(2025, time.January, 1))
	adv := f.advance(t, "c-001", 450000, date(2025, time.January, 1))

	check, err := f.svc.CheckRentPayment(f.ctx, "c-001", month(2025, time.February))
	require.NoError(t, err)
	assert.False(t, check.OK())
	assert.Equal(t, adv.ID, check.CoveredBy)
	assert.Equal(t, month(2025, time.January), check.ExpectedNext)
	assert.Len(t, check.Warnings, 2)

	check, err = f.svc.CheckRentPayment(f.ctx, "c-001", month(2025, time.April))
	require.NoError(t, err)
	assert.Empty(t, check.CoveredBy)

	// once the advance is spent, April is exactly what is expected
	for _, m := range adv.Window().Months() {
		f.consume(t, adv.ID, m)
	}
	check, err = f.svc.CheckRentPayment(f.ctx, "c-001", month(2025, time.April))
	require.NoError(t, err)
	assert.True(t, check.OK(), check.Warnings)
}

func TestProgress(t *testing.T) {
	f := newFixture(t, date(2025, time.February, 2))
	f.contract(t, "c-001", 150000, date(2025, time.January, 1))
	adv := f.advance(t, "c-001", 450000, date(2025, time.January, 1))
	cancelled := f.advance(t, "c-001", 150000, date(2025, time.January, 1))
	_, err := f.svc.CancelAdvance(f.ctx, cancelled.ID, "")
	require.NoError(t, err)
	f.consume(t, adv.ID, month(2025, time.January))

	p, err := f.svc.Progress(f.ctx, "c-001")
	require.NoError(t, err)

	require.Len(t, p.Advances, 2)
	assert.Equal(t, 1, p.ActiveCount)
	assertMoney(t, 450000, p.TotalAdvanced)
	assertMoney(t, 150000, p.TotalConsumed)
	assertMoney(t, 300000, p.TotalRemaining)

	var ap advance.AdvanceProgress
	for _, a := range p.Advances {
		if a.Advance.ID == adv.ID {
			ap = a
		}
	}
	assert.Equal(t, 1, ap.MonthsConsumed)
	assert.Equal(t, 2, ap.MonthsRemaining)
	assert.Equal(t, "33.33", ap.PercentConsumed.StringFixed(2))
	assert.Equal(t, month(2025, time.February), ap.NextMonth)
	assert.Len(t, ap.Consumptions, 1)
}
