package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rent-advance/generic"
)

func month(year int, m time.Month) generic.Month {
	return generic.NewMonth(year, m)
}

// =============================================================================
// MONTH ARITHMETIC
// =============================================================================

func TestMonth_AddMonths_RollsOverYears(t *testing.T) {
	assert.Equal(t, month(2025, time.January), month(2024, time.December).Next())
	assert.Equal(t, month(2024, time.December), month(2025, time.January).AddMonths(-1))
	assert.Equal(t, month(2026, time.March), month(2025, time.January).AddMonths(14))
	assert.Equal(t, 14, generic.MonthsBetween(month(2025, time.January), month(2026, time.March)))
	assert.Equal(t, -1, generic.MonthsBetween(month(2025, time.January), month(2024, time.December)))
}

func TestMonth_Comparison(t *testing.T) {
	dec24, jan25 := month(2024, time.December), month(2025, time.January)

	assert.True(t, dec24.Before(jan25))
	assert.True(t, jan25.After(dec24))
	assert.True(t, jan25.AfterOrEqual(jan25))
	assert.True(t, dec24.BeforeOrEqual(jan25))
	assert.Equal(t, jan25, generic.MaxMonth(dec24, jan25))
	assert.True(t, generic.Month{}.IsZero())
	assert.Equal(t, "", generic.Month{}.String())
}

func TestParseMonth(t *testing.T) {
	m, err := generic.ParseMonth("2025-03")
	require.NoError(t, err)
	assert.Equal(t, month(2025, time.March), m)

	m, err = generic.ParseMonth("2025-03-17")
	require.NoError(t, err)
	assert.Equal(t, month(2025, time.March), m)
	assert.Equal(t, "2025-03", m.String())
	assert.Equal(t, "2025-03-01", m.DateString())

	_, err = generic.ParseMonth("March 2025")
	assert.Error(t, err)
}

func TestToday_UsesClock(t *testing.T) {
	clock := generic.FixedClock{At: time.Date(2025, 2, 14, 17, 30, 0, 0, time.UTC)}
	assert.Equal(t, time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC), generic.Today(clock))
	assert.Equal(t, month(2025, time.February), generic.MonthOf(clock.Now()))
}

// =============================================================================
// COVERAGE WINDOW
// =============================================================================

func TestBuildCoverageWindow(t *testing.T) {
	tests := []struct {
		name  string
		first generic.Month
		count int
		want  []generic.Month
	}{
		{
			name:  "within a year",
			first: month(2025, time.January),
			count: 3,
			want:  []generic.Month{month(2025, time.January), month(2025, time.February), month(2025, time.March)},
		},
		{
			name:  "year rollover",
			first: month(2024, time.December),
			count: 3,
			want:  []generic.Month{month(2024, time.December), month(2025, time.January), month(2025, time.February)},
		},
		{
			name:  "single month",
			first: month(2025, time.June),
			count: 1,
			want:  []generic.Month{month(2025, time.June)},
		},
		{name: "zero months", first: month(2025, time.June), count: 0, want: []generic.Month{}},
		{name: "negative count", first: month(2025, time.June), count: -2, want: []generic.Month{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := generic.BuildCoverageWindow(tt.first, tt.count)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildCoverageWindow_ConsecutiveAndDistinct(t *testing.T) {
	months := generic.BuildCoverageWindow(month(2023, time.November), 30)
	require.Len(t, months, 30)

	seen := make(map[generic.Month]bool)
	for i, m := range months {
		assert.False(t, seen[m], "duplicate month %s", m)
		seen[m] = true
		if i > 0 {
			assert.Equal(t, months[i-1].Next(), m)
		}
	}
}

func TestCoverageWindow(t *testing.T) {
	w := generic.CoverageWindow{First: month(2024, time.December), Count: 3}

	assert.Equal(t, month(2025, time.February), w.Last())
	assert.True(t, w.Contains(month(2024, time.December)))
	assert.True(t, w.Contains(month(2025, time.February)))
	assert.False(t, w.Contains(month(2025, time.March)))
	assert.False(t, w.Contains(month(2024, time.November)))
	assert.Equal(t, 1, w.IndexOf(month(2025, time.January)))
	assert.Equal(t, -1, w.IndexOf(month(2025, time.March)))
	assert.Equal(t, "[2024-12, 2025-02]", w.String())

	empty := generic.CoverageWindow{First: month(2025, time.January)}
	assert.True(t, empty.IsEmpty())
	assert.False(t, empty.Contains(month(2025, time.January)))
	assert.Equal(t, "[]", empty.String())
}

// =============================================================================
// PAYMENT STATUS
// =============================================================================

func TestPaymentStatus_CanTransition(t *testing.T) {
	assert.True(t, generic.PaymentPending.CanTransition(generic.PaymentValidated))
	assert.True(t, generic.PaymentPending.CanTransition(generic.PaymentRefused))
	assert.True(t, generic.PaymentValidated.CanTransition(generic.PaymentRefused))
	assert.True(t, generic.PaymentRefused.CanTransition(generic.PaymentValidated))
	assert.False(t, generic.PaymentValidated.CanTransition(generic.PaymentPending))
	assert.False(t, generic.PaymentValidated.CanTransition(generic.PaymentValidated))
}
