/*
tracker.go - Consumption Tracker: marks covered months as paid, exactly once

PURPOSE:
  An advance pre-pays a window of months. Each month is "consumed" against
  the advance once: a Consumption record is written and the advance's
  remaining balance drops by the rent captured when the advance was created.

EXACTLY-ONCE:
  The store's unique (advance_id, month) index is the only guard. Consume
  never reads "is it consumed?" and then writes; it inserts inside a
  transaction and maps the uniqueness violation to a soft AlreadyConsumed
  result. Retried batch jobs and concurrent sweeps are therefore safe.

    Consume(adv, 2025-01)  -> Consumed        balance 450000 -> 300000
    Consume(adv, 2025-01)  -> AlreadyConsumed balance unchanged
    Consume(adv, 2025-06)  -> *OutOfWindowError

SWEEP:
  Month rollover does not consume anything by itself. DetectMissingConsumptions
  lists due months that have no consumption yet, Sweep consumes them, and
  SweepAll does it for every contract holding advances.

SEE ALSO:
  - resolver.go: next payable month, uses consumptions to find the first gap
  - api/scheduler.go: periodic SweepAll
*/
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
	"github.com/warp/rent-advance/metrics"
)

// =============================================================================
// RESULTS
// =============================================================================

type ConsumeStatus string

const (
	StatusConsumed        ConsumeStatus = "consumed"
	StatusAlreadyConsumed ConsumeStatus = "already_consumed"
)

// ConsumptionResult describes the outcome of a Consume call.
type ConsumptionResult struct {
	Status      ConsumeStatus
	AdvanceID   generic.AdvanceID
	Month       generic.Month
	Consumption *generic.Consumption // nil when AlreadyConsumed
	Advance     generic.Advance      // state after the call
}

// Err returns ErrAlreadyConsumed for a soft no-op, nil otherwise.
func (r ConsumptionResult) Err() error {
	if r.Status == StatusAlreadyConsumed {
		return generic.ErrAlreadyConsumed
	}
	return nil
}

// MissingConsumption is a due month with no consumption record yet.
type MissingConsumption struct {
	ContractID generic.ContractID
	AdvanceID  generic.AdvanceID
	Month      generic.Month
}

// SweepFailure records one item a sweep could not process.
type SweepFailure struct {
	ContractID generic.ContractID
	AdvanceID  generic.AdvanceID
	Month      generic.Month
	Err        error
}

// SweepReport summarizes a Sweep or SweepAll run.
type SweepReport struct {
	Contracts       int
	Detected        int
	Consumed        []generic.Consumption
	AlreadyConsumed int
	Failures        []SweepFailure
}

func (r *SweepReport) merge(other SweepReport) {
	r.Contracts += other.Contracts
	r.Detected += other.Detected
	r.Consumed = append(r.Consumed, other.Consumed...)
	r.AlreadyConsumed += other.AlreadyConsumed
	r.Failures = append(r.Failures, other.Failures...)
}

func (r SweepReport) outcome() string {
	switch {
	case len(r.Failures) == 0:
		return "ok"
	case len(r.Consumed) > 0 || r.AlreadyConsumed > 0:
		return "partial"
	default:
		return "error"
	}
}

// =============================================================================
// CONSUME OPTIONS
// =============================================================================

type consumeConfig struct {
	paymentID generic.PaymentID
	source    generic.ConsumptionSource
}

// ConsumeOption customizes the consumption record.
type ConsumeOption func(*consumeConfig)

// WithPayment links the consumption to the payment that triggered it.
func WithPayment(id generic.PaymentID) ConsumeOption {
	return func(c *consumeConfig) { c.paymentID = id }
}

// WithSource tags who triggered the consumption.
func WithSource(source generic.ConsumptionSource) ConsumeOption {
	return func(c *consumeConfig) { c.source = source }
}

// =============================================================================
// TRACKER
// =============================================================================

// Tracker consumes advance months and sweeps the ones that were missed.
type Tracker struct {
	store generic.TxStore
	clock generic.Clock
	opts  Options
	log   zerolog.Logger
}

func NewTracker(store generic.TxStore, clock generic.Clock, opts Options, log zerolog.Logger) *Tracker {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	return &Tracker{
		store: store,
		clock: clock,
		opts:  opts.withDefaults(),
		log:   log,
	}
}

// Consume marks month as paid by the advance.
//
// Errors:
//   - *generic.OutOfWindowError when month is outside the coverage window
//   - generic.ErrAdvanceNotActive when the advance is exhausted or cancelled
//     and month was never consumed
//   - generic.ErrAdvanceNotFound
//
// A month that is already consumed is NOT an error: the result has
// Status == StatusAlreadyConsumed and the balance is untouched.
func (t *Tracker) Consume(ctx context.Context, advanceID generic.AdvanceID, month generic.Month, opts ...ConsumeOption) (ConsumptionResult, error) {
	cfg := consumeConfig{source: generic.SourceManual}
	for _, opt := range opts {
		opt(&cfg)
	}

	var result ConsumptionResult
	err := t.store.WithTx(ctx, func(tx generic.Store) error {
		r, err := t.consumeTx(ctx, tx, advanceID, month, cfg)
		result = r
		return err
	})

	switch {
	case err == nil:
		metrics.Consumptions.WithLabelValues(metrics.ResultConsumed).Inc()
		t.log.Info().
			Str("contract_id", string(result.Advance.ContractID)).
			Str("advance_id", string(advanceID)).
			Str("month", month.String()).
			Str("remaining", result.Advance.RemainingBalance.StringFixed(generic.MoneyPlaces)).
			Str("status", string(result.Advance.Status)).
			Str("source", string(cfg.source)).
			Msg("advance month consumed")
		return result, nil

	case errors.Is(err, generic.ErrAlreadyConsumed):
		metrics.Consumptions.WithLabelValues(metrics.ResultAlreadyConsumed).Inc()
		adv, getErr := t.store.GetAdvance(ctx, advanceID)
		if getErr != nil {
			return ConsumptionResult{}, fmt.Errorf("reload advance %s: %w", advanceID, getErr)
		}
		t.log.Debug().
			Str("advance_id", string(advanceID)).
			Str("month", month.String()).
			Msg("advance month already consumed")
		return ConsumptionResult{
			Status:    StatusAlreadyConsumed,
			AdvanceID: advanceID,
			Month:     month,
			Advance:   *adv,
		}, nil

	case errors.Is(err, generic.ErrOutOfWindow):
		metrics.Consumptions.WithLabelValues(metrics.ResultOutOfWindow).Inc()
		return ConsumptionResult{}, err

	default:
		metrics.Consumptions.WithLabelValues(metrics.ResultError).Inc()
		return ConsumptionResult{}, err
	}
}

func (t *Tracker) consumeTx(ctx context.Context, tx generic.Store, advanceID generic.AdvanceID, month generic.Month, cfg consumeConfig) (ConsumptionResult, error) {
	adv, err := tx.GetAdvance(ctx, advanceID)
	if err != nil {
		return ConsumptionResult{}, err
	}

	window := adv.Window()
	if !window.Contains(month) {
		return ConsumptionResult{}, &generic.OutOfWindowError{AdvanceID: advanceID, Month: month, Window: window}
	}

	if !adv.IsActive() {
		consumed, err := consumedMonths(ctx, tx, advanceID)
		if err != nil {
			return ConsumptionResult{}, err
		}
		if consumed[month] {
			return ConsumptionResult{}, generic.ErrAlreadyConsumed
		}
		return ConsumptionResult{}, fmt.Errorf("advance %s is %s: %w", advanceID, adv.Status, generic.ErrAdvanceNotActive)
	}

	now := t.clock.Now().UTC()
	before := adv.RemainingBalance
	after := before.Sub(adv.MonthlyRent)
	if after.IsNegative() {
		after = decimal.Zero
	}

	c := generic.Consumption{
		ID:             generic.ConsumptionID(uuid.NewString()),
		AdvanceID:      adv.ID,
		ContractID:     adv.ContractID,
		Month:          month,
		Amount:         generic.NormalizeMoney(before.Sub(after)),
		RemainingAfter: generic.NormalizeMoney(after),
		PaymentID:      cfg.paymentID,
		Source:         cfg.source,
		CreatedAt:      now,
	}
	if err := tx.InsertConsumption(ctx, c); err != nil {
		return ConsumptionResult{}, err
	}

	adv.RemainingBalance = c.RemainingAfter
	adv.UpdatedAt = now
	if !adv.RemainingBalance.IsPositive() {
		adv.Status = generic.AdvanceExhausted
		adv.ExhaustedAt = &now
	}
	if err := tx.UpdateAdvance(ctx, *adv); err != nil {
		return ConsumptionResult{}, fmt.Errorf("update advance %s: %w", advanceID, err)
	}

	return ConsumptionResult{
		Status:      StatusConsumed,
		AdvanceID:   advanceID,
		Month:       month,
		Consumption: &c,
		Advance:     *adv,
	}, nil
}

func consumedMonths(ctx context.Context, s generic.ConsumptionStore, advanceID generic.AdvanceID) (map[generic.Month]bool, error) {
	list, err := s.ListConsumptions(ctx, advanceID)
	if err != nil {
		return nil, fmt.Errorf("list consumptions of %s: %w", advanceID, err)
	}
	consumed := make(map[generic.Month]bool, len(list))
	for _, c := range list {
		consumed[c.Month] = true
	}
	return consumed, nil
}

// =============================================================================
// DETECTION
// =============================================================================

// DetectMissingConsumptions lists the due, unconsumed months of every
// active or recently exhausted advance of the contract, ordered by advance
// date then month.
//
// A month is due when it is before the current month, or is the current
// month and today's day has reached CurrentMonthCutoffDay (when enabled).
func (t *Tracker) DetectMissingConsumptions(ctx context.Context, contractID generic.ContractID) ([]MissingConsumption, error) {
	advances, err := relevantAdvances(ctx, t.store, contractID, t.clock.Now(), t.opts.RecentExhaustionWindow)
	if err != nil {
		return nil, err
	}

	today := generic.Today(t.clock)
	var missing []MissingConsumption
	for _, adv := range advances {
		consumed, err := consumedMonths(ctx, t.store, adv.ID)
		if err != nil {
			return nil, err
		}
		for _, m := range adv.Window().Months() {
			if !t.isDue(m, today) {
				break
			}
			if !consumed[m] {
				missing = append(missing, MissingConsumption{
					ContractID: contractID,
					AdvanceID:  adv.ID,
					Month:      m,
				})
			}
		}
	}
	return missing, nil
}

// DetectMissingMonths returns only the months of DetectMissingConsumptions,
// without duplicates, in ascending order.
func (t *Tracker) DetectMissingMonths(ctx context.Context, contractID generic.ContractID) ([]generic.Month, error) {
	missing, err := t.DetectMissingConsumptions(ctx, contractID)
	if err != nil {
		return nil, err
	}
	seen := make(map[generic.Month]bool)
	months := []generic.Month{}
	for _, mc := range missing {
		if !seen[mc.Month] {
			seen[mc.Month] = true
			months = append(months, mc.Month)
		}
	}
	sortMonths(months)
	return months, nil
}

func (t *Tracker) isDue(m generic.Month, today time.Time) bool {
	current := generic.MonthOf(today)
	if m.Before(current) {
		return true
	}
	return m == current && t.opts.CurrentMonthCutoffDay > 0 && today.Day() >= t.opts.CurrentMonthCutoffDay
}

// relevantAdvances returns active advances plus those exhausted within
// window of now, ordered by advance date.
func relevantAdvances(ctx context.Context, s generic.AdvanceStore, contractID generic.ContractID, now time.Time, window time.Duration) ([]generic.Advance, error) {
	all, err := s.ListAdvances(ctx, contractID, generic.AdvanceActive, generic.AdvanceExhausted)
	if err != nil {
		return nil, fmt.Errorf("list advances of %s: %w", contractID, err)
	}
	result := make([]generic.Advance, 0, len(all))
	for _, a := range all {
		if a.IsActive() || generic.RecentlyExhausted(a, now, window) {
			result = append(result, a)
		}
	}
	return result, nil
}

// =============================================================================
// SWEEP
// =============================================================================

// Sweep consumes every missing month of the contract. Each item is its own
// transaction; a failing item is reported and the sweep moves on.
// Running Sweep concurrently with itself is safe.
func (t *Tracker) Sweep(ctx context.Context, contractID generic.ContractID) (SweepReport, error) {
	missing, err := t.DetectMissingConsumptions(ctx, contractID)
	if err != nil {
		return SweepReport{}, err
	}

	report := SweepReport{Contracts: 1, Detected: len(missing)}
	for _, mc := range missing {
		result, err := t.Consume(ctx, mc.AdvanceID, mc.Month, WithSource(generic.SourceSweep))
		if err != nil {
			t.log.Warn().Err(err).
				Str("contract_id", string(contractID)).
				Str("advance_id", string(mc.AdvanceID)).
				Str("month", mc.Month.String()).
				Msg("sweep could not consume month")
			report.Failures = append(report.Failures, SweepFailure{
				ContractID: contractID,
				AdvanceID:  mc.AdvanceID,
				Month:      mc.Month,
				Err:        err,
			})
			continue
		}
		if result.Status == StatusAlreadyConsumed {
			report.AlreadyConsumed++
			continue
		}
		report.Consumed = append(report.Consumed, *result.Consumption)
	}
	return report, nil
}

// SweepAll sweeps every contract that owns an active or exhausted advance.
// Per-contract failures are collected in the report; only failing to list
// contracts is returned as an error.
func (t *Tracker) SweepAll(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	contracts, err := t.store.ListContractsWithAdvances(ctx, generic.AdvanceActive, generic.AdvanceExhausted)
	if err != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
		return SweepReport{}, fmt.Errorf("list contracts with advances: %w", err)
	}

	var report SweepReport
	for _, contractID := range contracts {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		r, err := t.Sweep(ctx, contractID)
		if err != nil {
			report.Contracts++
			report.Failures = append(report.Failures, SweepFailure{ContractID: contractID, Err: err})
			continue
		}
		report.merge(r)
	}

	metrics.SweepRuns.WithLabelValues(report.outcome()).Inc()
	t.log.Info().
		Int("contracts", report.Contracts).
		Int("detected", report.Detected).
		Int("consumed", len(report.Consumed)).
		Int("already_consumed", report.AlreadyConsumed).
		Int("failures", len(report.Failures)).
		Dur("elapsed", time.Since(start)).
		Msg("sweep finished")
	return report, nil
}
