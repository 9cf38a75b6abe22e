package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// MONTH - First-of-month key (this IS a monthly billing system)
// =============================================================================

// Month is a calendar month. It is comparable and safe to use as a map key.
// The zero value means "no month".
type Month struct {
	Year  int
	Month time.Month
}

const (
	monthLayout = "2006-01"
	dateLayout  = "2006-01-02"
)

// Constructors
func NewMonth(year int, month time.Month) Month {
	return MonthOf(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC))
}

func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// FirstOfMonth truncates a date to the first day of its month, in UTC.
func FirstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// ParseMonth accepts "2006-01" or a full "2006-01-02" date.
func ParseMonth(s string) (Month, error) {
	if t, err := time.Parse(monthLayout, s); err == nil {
		return MonthOf(t), nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Month{}, fmt.Errorf("invalid month %q (use YYYY-MM)", s)
	}
	return MonthOf(t), nil
}

// Comparison
func (m Month) index() int { return m.Year*12 + int(m.Month) - 1 }
func (m Month) Before(other Month) bool { return m.index() < other.index() }
func (m Month) After(other Month) bool { return m.index() > other.index() }
func (m Month) BeforeOrEqual(o Month) bool { return !m.After(o) }
func (m Month) AfterOrEqual(o Month) bool { return !m.Before(o) }
func (m Month) IsZero() bool { return m.Year == 0 && m.Month == 0 }

// Arithmetic
func (m Month) AddMonths(n int) Month {
	i := m.index() + n
	return Month{Year: i / 12, Month: time.Month(i%12 + 1)}
}

func (m Month) Next() Month { return m.AddMonths(1) }

// MonthsBetween returns to - from in whole months (negative when to is earlier).
func MonthsBetween(from, to Month) int { return to.index() - from.index() }

// Time returns the first day of the month at midnight UTC.
func (m Month) Time() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

func (m Month) String() string {
	if m.IsZero() {
		return ""
	}
	return m.Time().Format(monthLayout)
}

// DateString renders the month as its first-of-month date, the storage format.
func (m Month) DateString() string {
	return m.Time().Format(dateLayout)
}

// MaxMonth returns the later of two months.
func MaxMonth(a, b Month) Month {
	if a.After(b) {
		return a
	}
	return b
}

// =============================================================================
// CLOCK - Injectable "now"
// =============================================================================

// Clock supplies the current time so date-dependent logic is testable.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }

// Today returns the current date at midnight UTC according to clock.
func Today(clock Clock) time.Time {
	now := clock.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
