package advance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/rent-advance/generic"
)

// Service is the entry point used by the HTTP layer and the importer:
// contract and payment bookkeeping, advance creation, and the reports
// built on the tracker and the resolver.
type Service struct {
	store    generic.TxStore
	clock    generic.Clock
	opts     Options
	log      zerolog.Logger
	tracker  *Tracker
	resolver *Resolver
}

func NewService(store generic.TxStore, clock generic.Clock, opts Options, log zerolog.Logger) *Service {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	opts = opts.withDefaults()
	return &Service{
		store:    store,
		clock:    clock,
		opts:     opts,
		log:      log,
		tracker:  NewTracker(store, clock, opts, log),
		resolver: NewResolver(store, clock, opts, log),
	}
}

func (s *Service) Tracker() *Tracker   { return s.tracker }
func (s *Service) Resolver() *Resolver { return s.resolver }

// =============================================================================
// CONTRACTS & PAYMENTS
// =============================================================================

// SaveContract creates or updates a contract. An empty ID gets a new one.
func (s *Service) SaveContract(ctx context.Context, c generic.Contract) (*generic.Contract, error) {
	if c.MonthlyRent.IsNegative() {
		return nil, &generic.InvalidRentError{ContractID: c.ID, Rent: c.MonthlyRent}
	}
	if c.MonthlyCharges.IsNegative() {
		return nil, &generic.InvalidAmountError{Raw: c.MonthlyCharges.String(), Err: generic.ErrNegativeAmount}
	}

	now := s.clock.Now().UTC()
	if c.ID == "" {
		c.ID = generic.ContractID(uuid.NewString())
	}
	if existing, err := s.store.GetContract(ctx, c.ID); err == nil {
		c.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, generic.ErrContractNotFound) {
		return nil, err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.MonthlyRent = generic.NormalizeMoney(c.MonthlyRent)
	c.MonthlyCharges = generic.NormalizeMoney(c.MonthlyCharges)

	if err := s.store.SaveContract(ctx, c); err != nil {
		return nil, fmt.Errorf("save contract %s: %w", c.ID, err)
	}
	return &c, nil
}

// RecordPaymentInput describes a new payment.
type RecordPaymentInput struct {
	ContractID generic.ContractID
	Amount     decimal.Decimal
	Date       time.Time
	Month      generic.Month // defaults to the month of Date
	Type       generic.PaymentType
	Status     generic.PaymentStatus // defaults to pending
	Reference  string
}

// PaymentOutcome is a recorded payment plus the advance it funded, if any.
type PaymentOutcome struct {
	Payment generic.Payment
	Advance *generic.Advance
}

// RecordPayment stores a payment. A validated advance payment creates its
// advance right away.
func (s *Service) RecordPayment(ctx context.Context, in RecordPaymentInput) (PaymentOutcome, error) {
	contract, err := s.activeContract(ctx, in.ContractID)
	if err != nil {
		return PaymentOutcome{}, err
	}
	if !in.Amount.IsPositive() {
		return PaymentOutcome{}, fmt.Errorf("payment amount %s: %w", in.Amount, generic.ErrInvalidAmount)
	}
	if in.Type == "" {
		in.Type = generic.PaymentRent
	}
	if !in.Type.Valid() {
		return PaymentOutcome{}, fmt.Errorf("%q: %w", in.Type, generic.ErrInvalidPaymentType)
	}
	if in.Status == "" {
		in.Status = generic.PaymentPending
	}
	now := s.clock.Now().UTC()
	if in.Date.IsZero() {
		in.Date = generic.Today(s.clock)
	}

	p := generic.Payment{
		ID:         generic.PaymentID(uuid.NewString()),
		ContractID: contract.ID,
		Amount:     generic.NormalizeMoney(in.Amount),
		Date:       in.Date,
		Month:      in.Month,
		Type:       in.Type,
		Status:     in.Status,
		Reference:  in.Reference,
		CreatedAt:  now,
	}
	if p.Month.IsZero() {
		p.Month = generic.MonthOf(p.Date)
	}
	if err := s.store.SavePayment(ctx, p); err != nil {
		return PaymentOutcome{}, fmt.Errorf("save payment: %w", err)
	}

	out := PaymentOutcome{Payment: p}
	if p.Type == generic.PaymentAdvance && p.Status == generic.PaymentValidated {
		adv, err := s.CreateFromPayment(ctx, p.ID)
		if err != nil {
			return out, err
		}
		out.Advance = adv
	}
	return out, nil
}

// UpdatePaymentStatus moves a payment to a new status. Validating an
// advance payment creates its advance (idempotently).
func (s *Service) UpdatePaymentStatus(ctx context.Context, id generic.PaymentID, to generic.PaymentStatus) (PaymentOutcome, error) {
	p, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return PaymentOutcome{}, err
	}
	if !p.Status.CanTransition(to) {
		return PaymentOutcome{}, fmt.Errorf("%s -> %s: %w", p.Status, to, generic.ErrInvalidStatusTransition)
	}
	p.Status = to
	if err := s.store.SavePayment(ctx, *p); err != nil {
		return PaymentOutcome{}, fmt.Errorf("save payment %s: %w", id, err)
	}

	out := PaymentOutcome{Payment: *p}
	if p.Type == generic.PaymentAdvance && to == generic.PaymentValidated {
		adv, err := s.CreateFromPayment(ctx, p.ID)
		if err != nil {
			return out, err
		}
		out.Advance = adv
	}
	return out, nil
}

func (s *Service) activeContract(ctx context.Context, id generic.ContractID) (*generic.Contract, error) {
	c, err := s.store.GetContract(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Deleted || c.Terminated {
		return nil, fmt.Errorf("contract %s: %w", id, generic.ErrContractInactive)
	}
	return c, nil
}

// =============================================================================
// ADVANCE CREATION
// =============================================================================

// CreateAdvanceInput describes a new advance.
type CreateAdvanceInput struct {
	ContractID  generic.ContractID
	Amount      decimal.Decimal
	AdvanceDate time.Time     // defaults to today
	FirstMonth  generic.Month // overrides the computed first covered month
	PaymentID   generic.PaymentID
	Notes       string
}

// CreateAdvance allocates the amount against the contract's current rent
// and persists an active advance whose balance is the full amount.
//
// The first covered month is FirstMonth when given, else the month of
// AdvanceDate, pushed to the following month when the advance is paid
// after EffectiveCutoffDay.
func (s *Service) CreateAdvance(ctx context.Context, in CreateAdvanceInput) (*generic.Advance, error) {
	contract, err := s.activeContract(ctx, in.ContractID)
	if err != nil {
		return nil, err
	}
	amount := generic.NormalizeMoney(in.Amount)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("advance amount %s: %w", amount, generic.ErrInvalidAmount)
	}

	alloc, err := generic.CalculateAllocation(amount, contract.MonthlyRent)
	if err != nil {
		var rentErr *generic.InvalidRentError
		if errors.As(err, &rentErr) {
			rentErr.ContractID = contract.ID
		}
		return nil, err
	}

	if in.PaymentID != "" {
		p, err := s.store.GetPayment(ctx, in.PaymentID)
		if err != nil {
			return nil, err
		}
		if p.ContractID != contract.ID {
			return nil, fmt.Errorf("payment %s belongs to contract %s: %w", p.ID, p.ContractID, generic.ErrNotAdvancePayment)
		}
	}

	now := s.clock.Now().UTC()
	date := in.AdvanceDate
	if date.IsZero() {
		date = generic.Today(s.clock)
	}

	adv := generic.Advance{
		ID:               generic.AdvanceID(uuid.NewString()),
		ContractID:       contract.ID,
		PaymentID:        in.PaymentID,
		Amount:           amount,
		MonthlyRent:      contract.MonthlyRent,
		AdvanceDate:      date,
		Status:           generic.AdvanceActive,
		RemainingBalance: amount,
		FirstMonth:       s.firstMonth(in.FirstMonth, date),
		MonthsCovered:    alloc.MonthsCovered,
		Remainder:        alloc.Remainder,
		Notes:            in.Notes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateAdvance(ctx, adv); err != nil {
		return nil, fmt.Errorf("create advance for contract %s: %w", contract.ID, err)
	}

	level := zerolog.InfoLevel
	if adv.MonthsCovered == 0 {
		level = zerolog.WarnLevel
	}
	s.log.WithLevel(level).
		Str("contract_id", string(adv.ContractID)).
		Str("advance_id", string(adv.ID)).
		Str("amount", adv.Amount.StringFixed(generic.MoneyPlaces)).
		Int("months_covered", adv.MonthsCovered).
		Str("window", adv.Window().String()).
		Msg("advance created")
	return &adv, nil
}

func (s *Service) firstMonth(override generic.Month, date time.Time) generic.Month {
	if !override.IsZero() {
		return override
	}
	m := generic.MonthOf(date)
	if s.opts.EffectiveCutoffDay > 0 && date.Day() > s.opts.EffectiveCutoffDay {
		m = m.Next()
	}
	return m
}

// CreateFromPayment returns the advance funded by a validated advance
// payment, creating it on first call. Concurrent callers converge on the
// same advance through the store's unique payment link.
func (s *Service) CreateFromPayment(ctx context.Context, paymentID generic.PaymentID) (*generic.Advance, error) {
	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Type != generic.PaymentAdvance || p.Status != generic.PaymentValidated {
		return nil, fmt.Errorf("payment %s (%s, %s): %w", p.ID, p.Type, p.Status, generic.ErrNotAdvancePayment)
	}

	if existing, err := s.store.GetAdvanceByPayment(ctx, paymentID); err == nil {
		return existing, nil
	} else if !errors.Is(err, generic.ErrAdvanceNotFound) {
		return nil, err
	}

	adv, err := s.CreateAdvance(ctx, CreateAdvanceInput{
		ContractID:  p.ContractID,
		Amount:      p.Amount,
		AdvanceDate: p.Date,
		PaymentID:   p.ID,
		Notes:       p.Reference,
	})
	if errors.Is(err, generic.ErrDuplicateAdvanceForPayment) {
		return s.store.GetAdvanceByPayment(ctx, paymentID)
	}
	return adv, err
}

// CancelAdvance cancels an active advance. Consumed months stay recorded.
func (s *Service) CancelAdvance(ctx context.Context, id generic.AdvanceID, reason string) (*generic.Advance, error) {
	var out generic.Advance
	err := s.store.WithTx(ctx, func(tx generic.Store) error {
		adv, err := tx.GetAdvance(ctx, id)
		if err != nil {
			return err
		}
		if !adv.IsActive() {
			return fmt.Errorf("advance %s is %s: %w", id, adv.Status, generic.ErrAdvanceNotActive)
		}
		adv.Status = generic.AdvanceCancelled
		adv.UpdatedAt = s.clock.Now().UTC()
		if reason != "" {
			adv.Notes = reason
		}
		out = *adv
		return tx.UpdateAdvance(ctx, *adv)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// MONTHLY AMOUNT DUE
// =============================================================================

// MonthlyDue is what a tenant owes for one month after advance credit.
type MonthlyDue struct {
	ContractID     generic.ContractID
	Month          generic.Month
	Rent           decimal.Decimal
	Charges        decimal.Decimal
	Total          decimal.Decimal
	AdvanceApplied decimal.Decimal
	Due            decimal.Decimal
	AdvanceID      generic.AdvanceID
}

// AmountDueForMonth returns rent plus charges minus the advance credit for
// month. The covering advance's month is consumed if it was not yet, so
// calling this twice yields the same answer and a single consumption.
func (s *Service) AmountDueForMonth(ctx context.Context, contractID generic.ContractID, month generic.Month) (MonthlyDue, error) {
	contract, err := s.store.GetContract(ctx, contractID)
	if err != nil {
		return MonthlyDue{}, err
	}
	due := MonthlyDue{
		ContractID:     contractID,
		Month:          month,
		Rent:           contract.MonthlyRent,
		Charges:        contract.MonthlyCharges,
		Total:          contract.MonthlyTotal(),
		AdvanceApplied: decimal.Zero,
	}

	advances, err := s.store.ListAdvances(ctx, contractID, generic.AdvanceActive, generic.AdvanceExhausted)
	if err != nil {
		return MonthlyDue{}, fmt.Errorf("list advances of %s: %w", contractID, err)
	}
	for _, adv := range advances {
		if !adv.Window().Contains(month) {
			continue
		}
		applied, ok, err := s.applyAdvance(ctx, adv, month)
		if err != nil {
			return MonthlyDue{}, err
		}
		if ok {
			due.AdvanceApplied = applied
			due.AdvanceID = adv.ID
			break
		}
	}

	due.Due = due.Total.Sub(due.AdvanceApplied)
	if due.Due.IsNegative() {
		due.Due = decimal.Zero
	}
	return due, nil
}

// applyAdvance returns the credit adv gives month: the recorded consumption
// if any, else a fresh consumption when adv is still active.
func (s *Service) applyAdvance(ctx context.Context, adv generic.Advance, month generic.Month) (decimal.Decimal, bool, error) {
	if amount, ok, err := s.recordedCredit(ctx, adv.ID, month); err != nil || ok {
		return amount, ok, err
	}
	if !adv.IsActive() {
		return decimal.Zero, false, nil
	}

	result, err := s.tracker.Consume(ctx, adv.ID, month, WithSource(generic.SourcePayment))
	if err != nil {
		if errors.Is(err, generic.ErrAdvanceNotActive) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}
	if result.Consumption != nil {
		return result.Consumption.Amount, true, nil
	}
	// Lost a race with another consumer; read back its record.
	return s.recordedCredit(ctx, adv.ID, month)
}

func (s *Service) recordedCredit(ctx context.Context, id generic.AdvanceID, month generic.Month) (decimal.Decimal, bool, error) {
	list, err := s.store.ListConsumptions(ctx, id)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("list consumptions of %s: %w", id, err)
	}
	for _, c := range list {
		if c.Month == month {
			return c.Amount, true, nil
		}
	}
	return decimal.Zero, false, nil
}

// =============================================================================
// RENT PAYMENT CHECK
// =============================================================================

// PaymentCheck flags a rent payment that would double-pay a month.
type PaymentCheck struct {
	ContractID   generic.ContractID
	Month        generic.Month
	CoveredBy    generic.AdvanceID // advance whose window holds Month
	ExpectedNext generic.Month
	Warnings     []string
}

// OK reports whether the payment raised no warning.
func (c PaymentCheck) OK() bool { return len(c.Warnings) == 0 }

// CheckRentPayment warns when month is already covered by an advance, or
// is not the next payable month.
func (s *Service) CheckRentPayment(ctx context.Context, contractID generic.ContractID, month generic.Month) (PaymentCheck, error) {
	if _, err := s.store.GetContract(ctx, contractID); err != nil {
		return PaymentCheck{}, err
	}
	check := PaymentCheck{ContractID: contractID, Month: month, Warnings: []string{}}

	advances, err := s.store.ListAdvances(ctx, contractID, generic.AdvanceActive, generic.AdvanceExhausted)
	if err != nil {
		return PaymentCheck{}, fmt.Errorf("list advances of %s: %w", contractID, err)
	}
	for _, adv := range advances {
		if adv.Window().Contains(month) {
			check.CoveredBy = adv.ID
			check.Warnings = append(check.Warnings, fmt.Sprintf(
				"month %s is covered by advance %s (%s paid, window %s)",
				month, adv.ID, formatMoney(adv.Amount), adv.Window()))
			break
		}
	}

	res := s.resolver.Resolve(ctx, contractID)
	check.ExpectedNext = res.Month
	if res.Fallback {
		check.Warnings = append(check.Warnings, "next payable month unavailable: "+res.Reason)
	} else if res.Month != month {
		check.Warnings = append(check.Warnings, fmt.Sprintf(
			"next payable month is %s, payment is for %s", res.Month, month))
	}
	return check, nil
}

// =============================================================================
// PROGRESS
// =============================================================================

// AdvanceProgress is the consumption state of one advance.
type AdvanceProgress struct {
	Advance         generic.Advance
	MonthsConsumed  int
	MonthsRemaining int
	PercentConsumed decimal.Decimal
	AmountConsumed  decimal.Decimal
	NextMonth       generic.Month // zero when the window is fully consumed
	Consumptions    []generic.Consumption
}

// ContractProgress aggregates every advance of a contract.
type ContractProgress struct {
	ContractID     generic.ContractID
	Advances       []AdvanceProgress
	ActiveCount    int
	TotalAdvanced  decimal.Decimal
	TotalConsumed  decimal.Decimal
	TotalRemaining decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Progress reports how far each advance of the contract has been consumed.
func (s *Service) Progress(ctx context.Context, contractID generic.ContractID) (ContractProgress, error) {
	if _, err := s.store.GetContract(ctx, contractID); err != nil {
		return ContractProgress{}, err
	}
	advances, err := s.store.ListAdvances(ctx, contractID)
	if err != nil {
		return ContractProgress{}, fmt.Errorf("list advances of %s: %w", contractID, err)
	}

	out := ContractProgress{
		ContractID:     contractID,
		Advances:       make([]AdvanceProgress, 0, len(advances)),
		TotalAdvanced:  decimal.Zero,
		TotalConsumed:  decimal.Zero,
		TotalRemaining: decimal.Zero,
	}
	for _, adv := range advances {
		consumptions, err := s.store.ListConsumptions(ctx, adv.ID)
		if err != nil {
			return ContractProgress{}, fmt.Errorf("list consumptions of %s: %w", adv.ID, err)
		}
		p := AdvanceProgress{
			Advance:         adv,
			MonthsConsumed:  len(consumptions),
			MonthsRemaining: adv.MonthsCovered - len(consumptions),
			AmountConsumed:  adv.Consumed(),
			PercentConsumed: decimal.Zero,
			Consumptions:    consumptions,
		}
		if p.MonthsRemaining < 0 {
			p.MonthsRemaining = 0
		}
		if adv.Amount.IsPositive() {
			p.PercentConsumed = adv.Consumed().Div(adv.Amount).Mul(hundred).Round(2)
		}
		consumed := make(map[generic.Month]bool, len(consumptions))
		for _, c := range consumptions {
			consumed[c.Month] = true
		}
		for _, m := range adv.Window().Months() {
			if !consumed[m] {
				p.NextMonth = m
				break
			}
		}

		out.Advances = append(out.Advances, p)
		if adv.IsActive() {
			out.ActiveCount++
		}
		if adv.Status != generic.AdvanceCancelled {
			out.TotalAdvanced = out.TotalAdvanced.Add(adv.Amount)
			out.TotalConsumed = out.TotalConsumed.Add(adv.Consumed())
			out.TotalRemaining = out.TotalRemaining.Add(adv.RemainingBalance)
		}
	}
	return out, nil
}
