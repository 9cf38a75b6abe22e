package advance_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rent-advance/advance"
	"github.com/warp/rent-advance/generic"
	"github.com/warp/rent-advance/generic/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// testClock is a settable clock shared by every engine component of a test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	svc   *advance.Service
	store *store.TxMemory
	clock *testClock
	ctx   context.Context
}

func newFixture(t *testing.T, now time.Time, opts ...func(*advance.Options)) *fixture {
	t.Helper()
	o := advance.DefaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	clock := &testClock{now: now}
	s := store.NewTxMemory()
	return &fixture{
		svc:   advance.NewService(s, clock, o, zerolog.Nop()),
		store: s,
		clock: clock,
		ctx:   context.Background(),
	}
}

func date(year int, m time.Month, day int) time.Time {
	return time.Date(year, m, day, 0, 0, 0, 0, time.UTC)
}

func month(year int, m time.Month) generic.Month {
	return generic.NewMonth(year, m)
}

func money(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func assertMoney(t *testing.T, want int64, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, money(want).Equal(got), append([]any{"want %d, got %s", want, got.String()}, msgAndArgs...)...)
}

// contract saves an active contract with the given rent starting on start.
func (f *fixture) contract(t *testing.T, id string, rent int64, start time.Time) generic.Contract {
	t.Helper()
	c, err := f.svc.SaveContract(f.ctx, generic.Contract{
		ID:             generic.ContractID(id),
		Number:         "BAIL-" + id,
		MonthlyRent:    money(rent),
		MonthlyCharges: money(10000),
		StartDate:      start,
		Active:         true,
	})
	require.NoError(t, err)
	return *c
}

func (f *fixture) advance(t *testing.T, contractID string, amount int64, on time.Time) generic.Advance {
	t.Helper()
	adv, err := f.svc.CreateAdvance(f.ctx, advance.CreateAdvanceInput{
		ContractID:  generic.ContractID(contractID),
		Amount:      money(amount),
		AdvanceDate: on,
	})
	require.NoError(t, err)
	return *adv
}

func (f *fixture) rentPayment(t *testing.T, contractID string, m generic.Month, status generic.PaymentStatus) generic.Payment {
	t.Helper()
	out, err := f.svc.RecordPayment(f.ctx, advance.RecordPaymentInput{
		ContractID: generic.ContractID(contractID),
		Amount:     money(150000),
		Date:       m.Time().AddDate(0, 0, 4),
		Month:      m,
		Type:       generic.PaymentRent,
		Status:     status,
	})
	require.NoError(t, err)
	return out.Payment
}

func (f *fixture) consume(t *testing.T, id generic.AdvanceID, m generic.Month) advance.ConsumptionResult {
	t.Helper()
	r, err := f.svc.Tracker().Consume(f.ctx, id, m)
	require.NoError(t, err)
	return r
}

func (f *fixture) getAdvance(t *testing.T, id generic.AdvanceID) generic.Advance {
	t.Helper()
	adv, err := f.store.GetAdvance(f.ctx, id)
	require.NoError(t, err)
	return *adv
}

func (f *fixture) consumptions(t *testing.T, id generic.AdvanceID) []generic.Consumption {
	t.Helper()
	list, err := f.store.ListConsumptions(f.ctx, id)
	require.NoError(t, err)
	return list
}
