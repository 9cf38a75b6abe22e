/*
resolver.go - Next-Payable-Month Resolver

PURPOSE:
  Answers "which month should this contract pay next, and how much?" from
  the contract's advances and rent payment history.

STATES:
  The answer depends on which of four states the contract is in. The state
  is derived, never persisted, by one function (classify) so it can be
  tested with a fixed "now":

    StateAdvanceActive             an active advance still has an unconsumed
                                   covered month -> that month
    StateAdvanceRecentlyExhausted  advances ran out recently (or spent their
                                   whole window) -> month after the later of
                                   the window end and the last paid month;
                                   an advance below one rent points at its
                                   own first month
    StateNoAdvance                 validated rent payments in the lookback
                                   -> last paid month + 1 (calendar math)
    StateDefault                   nothing to go on -> contract start month
                                   when it is not in the past, else the
                                   current month

FAILURE SEMANTICS:
  Resolve never returns an error. A failed lookup degrades to the current
  month with Fallback=true, the cause in Err, a warning log and a metric,
  so callers can still show an answer while tests and dashboards can see
  the degradation.
*/
package advance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/rent-advance/generic"
	"github.com/warp/rent-advance/metrics"
)

// State is the resolver's view of a contract.
type State string

const (
	StateAdvanceActive            State = "advance_active"
	StateAdvanceRecentlyExhausted State = "advance_recently_exhausted"
	StateNoAdvance                State = "no_advance"
	StateDefault                  State = "default"
)

// Resolution is the next payable month and the amount due for it.
type Resolution struct {
	ContractID generic.ContractID
	Month      generic.Month
	AmountDue  decimal.Decimal
	Reason     string
	State      State
	AdvanceID  generic.AdvanceID // covering advance in StateAdvanceActive

	// Fallback is true when a lookup failed and Month is the current month
	// by default. Err holds the cause.
	Fallback bool
	Err      error
}

// coverage is an advance with its first unconsumed window month.
// Next is zero when every window month is consumed.
type coverage struct {
	Advance generic.Advance
	Next    generic.Month
}

// resolverInputs is everything classify and the per-state rules look at.
type resolverInputs struct {
	Now      time.Time
	Contract generic.Contract
	Active   []coverage        // active advances, oldest first
	Spent    []generic.Advance // recently exhausted, or active with the window fully consumed
	LastPaid generic.Month     // latest validated rent month in the lookback; zero if none
}

// classify is the single transition function of the resolver.
func classify(in resolverInputs) State {
	for _, c := range in.Active {
		if !c.Next.IsZero() {
			return StateAdvanceActive
		}
	}
	if len(in.Spent) > 0 {
		return StateAdvanceRecentlyExhausted
	}
	if !in.LastPaid.IsZero() {
		return StateNoAdvance
	}
	return StateDefault
}

// Resolver computes next payable months.
type Resolver struct {
	store generic.Store
	clock generic.Clock
	opts  Options
	log   zerolog.Logger
}

func NewResolver(store generic.Store, clock generic.Clock, opts Options, log zerolog.Logger) *Resolver {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	return &Resolver{
		store: store,
		clock: clock,
		opts:  opts.withDefaults(),
		log:   log,
	}
}

// Resolve returns the next payable month of the contract. See the file
// header for the state rules and failure semantics.
func (r *Resolver) Resolve(ctx context.Context, contractID generic.ContractID) Resolution {
	in, err := r.gather(ctx, contractID)
	if err != nil {
		return r.fallback(contractID, in, err)
	}

	res := decide(in)
	res.ContractID = contractID
	metrics.Resolutions.WithLabelValues(string(res.State)).Inc()
	r.log.Debug().
		Str("contract_id", string(contractID)).
		Str("state", string(res.State)).
		Str("month", res.Month.String()).
		Msg("next payable month resolved")
	return res
}

func (r *Resolver) fallback(contractID generic.ContractID, in resolverInputs, err error) Resolution {
	current := generic.MonthOf(generic.Today(r.clock))
	metrics.ResolverFallbacks.Inc()
	metrics.Resolutions.WithLabelValues(string(StateDefault)).Inc()
	r.log.Warn().Err(err).
		Str("contract_id", string(contractID)).
		Str("month", current.String()).
		Msg("next payable month lookup failed, falling back to current month")

	return Resolution{
		ContractID: contractID,
		Month:      current,
		AmountDue:  in.Contract.MonthlyRent,
		Reason:     fmt.Sprintf("fallback to current month %s: %v", current, err),
		State:      StateDefault,
		Fallback:   true,
		Err:        err,
	}
}

// gather loads the inputs. On error the partially filled inputs are
// returned so the fallback can still use the contract when it was found.
func (r *Resolver) gather(ctx context.Context, contractID generic.ContractID) (resolverInputs, error) {
	in := resolverInputs{Now: r.clock.Now().UTC()}

	contract, err := r.store.GetContract(ctx, contractID)
	if err != nil {
		return in, &generic.LookupError{What: "contract", ID: string(contractID), Err: err}
	}
	in.Contract = *contract

	advances, err := relevantAdvances(ctx, r.store, contractID, in.Now, r.opts.RecentExhaustionWindow)
	if err != nil {
		return in, &generic.LookupError{What: "advances", ID: string(contractID), Err: err}
	}
	for _, adv := range advances {
		if !adv.IsActive() {
			in.Spent = append(in.Spent, adv)
			continue
		}
		next, err := r.firstUnconsumed(ctx, adv)
		if err != nil {
			return in, &generic.LookupError{What: "consumptions", ID: string(adv.ID), Err: err}
		}
		if next.IsZero() {
			in.Spent = append(in.Spent, adv)
		}
		in.Active = append(in.Active, coverage{Advance: adv, Next: next})
	}

	current := generic.MonthOf(in.Now)
	payments, err := r.store.ListPayments(ctx, contractID, generic.PaymentFilter{
		Type:   generic.PaymentRent,
		Status: generic.PaymentValidated,
		From:   current.AddMonths(-r.opts.PaymentLookbackMonths),
	})
	if err != nil {
		return in, &generic.LookupError{What: "payments", ID: string(contractID), Err: err}
	}
	for _, p := range payments {
		in.LastPaid = generic.MaxMonth(in.LastPaid, p.PaidMonth())
	}
	return in, nil
}

func (r *Resolver) firstUnconsumed(ctx context.Context, adv generic.Advance) (generic.Month, error) {
	consumed, err := consumedMonths(ctx, r.store, adv.ID)
	if err != nil {
		return generic.Month{}, err
	}
	for _, m := range adv.Window().Months() {
		if !consumed[m] {
			return m, nil
		}
	}
	return generic.Month{}, nil
}

// decide applies the rule of the classified state.
func decide(in resolverInputs) Resolution {
	state := classify(in)
	rent := in.Contract.MonthlyRent
	current := generic.MonthOf(in.Now)

	switch state {
	case StateAdvanceActive:
		var c coverage
		for _, candidate := range in.Active {
			if !candidate.Next.IsZero() {
				c = candidate
				break
			}
		}
		// Consumption charges the rent captured on the advance.
		advRent := c.Advance.MonthlyRent
		if advRent.IsZero() {
			advRent = rent
		}
		due := decimal.Zero
		if c.Advance.RemainingBalance.LessThan(advRent) {
			due = advRent.Sub(c.Advance.RemainingBalance)
		}
		return Resolution{
			Month:     c.Next,
			AmountDue: due,
			State:     state,
			AdvanceID: c.Advance.ID,
			Reason: fmt.Sprintf("covered by advance %s (balance %s, window %s)",
				c.Advance.ID, formatMoney(c.Advance.RemainingBalance), c.Advance.Window()),
		}

	case StateAdvanceRecentlyExhausted:
		// An advance below one month of rent has an empty window: its first
		// month is still unpaid, the leftover only reduces what is due.
		var lastCovered, next generic.Month
		leftover := decimal.Zero
		for _, a := range in.Spent {
			if a.Window().IsEmpty() {
				next = generic.MaxMonth(next, a.FirstMonth)
			} else {
				lastCovered = generic.MaxMonth(lastCovered, a.LastMonth())
				next = generic.MaxMonth(next, a.LastMonth().Next())
			}
			if a.IsActive() {
				leftover = leftover.Add(a.RemainingBalance)
			}
		}
		month := next
		if !in.LastPaid.IsZero() {
			month = generic.MaxMonth(month, in.LastPaid.Next())
		}
		due := rent.Sub(leftover)
		if due.IsNegative() {
			due = decimal.Zero
		}
		var reason string
		if lastCovered.IsZero() {
			reason = "advance covers no full month"
		} else {
			reason = fmt.Sprintf("advance coverage ended %s", lastCovered)
		}
		if in.LastPaid.After(lastCovered) {
			reason += fmt.Sprintf(", rent paid through %s", in.LastPaid)
		}
		if leftover.IsPositive() {
			reason += fmt.Sprintf(", %s advance leftover applied", formatMoney(leftover))
		}
		return Resolution{Month: month, AmountDue: due, State: state, Reason: reason}

	case StateNoAdvance:
		return Resolution{
			Month:     in.LastPaid.Next(),
			AmountDue: rent,
			State:     state,
			Reason:    fmt.Sprintf("last paid month %s", in.LastPaid),
		}

	default:
		start := in.Contract.StartMonth()
		if !start.IsZero() && !start.Before(current) {
			return Resolution{
				Month:     start,
				AmountDue: rent,
				State:     state,
				Reason:    fmt.Sprintf("no payment yet, contract starts %s", start),
			}
		}
		return Resolution{
			Month:     current,
			AmountDue: rent,
			State:     state,
			Reason:    "no payment or advance on record, current month",
		}
	}
}

// formatMoney renders an amount with thousands separators: 150,000 or 1,234.5.
func formatMoney(d decimal.Decimal) string {
	if d.Equal(d.Truncate(0)) {
		return humanize.Comma(d.IntPart())
	}
	f, _ := d.Float64()
	return humanize.Commaf(f)
}

func sortMonths(months []generic.Month) {
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })
}
