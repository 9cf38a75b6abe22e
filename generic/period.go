package generic

// =============================================================================
// COVERAGE WINDOW - The months an advance pays for
// =============================================================================

// CoverageWindow is a contiguous run of Count months starting at First.
//
// Examples:
//   - {2025-01, 3}: January, February, March 2025
//   - {2024-12, 3}: December 2024, January 2025, February 2025
type CoverageWindow struct {
	First Month
	Count int
}

// BuildCoverageWindow returns count consecutive months starting at first,
// rolling December over into January of the next year. A non-positive count
// yields an empty slice; a count above MaxMonthsCovered is capped.
func BuildCoverageWindow(first Month, count int) []Month {
	if count <= 0 {
		return []Month{}
	}
	count = min(count, MaxMonthsCovered)
	months := make([]Month, count)
	for i := range months {
		months[i] = first.AddMonths(i)
	}
	return months
}

// Months lists every month of the window in order.
func (w CoverageWindow) Months() []Month {
	return BuildCoverageWindow(w.First, w.Count)
}

// Last returns the final month. Undefined for an empty window; callers
// check IsEmpty first.
func (w CoverageWindow) Last() Month {
	return w.First.AddMonths(w.Count - 1)
}

func (w CoverageWindow) IsEmpty() bool { return w.Count <= 0 }

// Contains returns true if m is within [First, Last].
func (w CoverageWindow) Contains(m Month) bool {
	if w.IsEmpty() {
		return false
	}
	return m.AfterOrEqual(w.First) && m.BeforeOrEqual(w.Last())
}

// IndexOf returns the zero-based position of m in the window, or -1.
func (w CoverageWindow) IndexOf(m Month) int {
	if !w.Contains(m) {
		return -1
	}
	return MonthsBetween(w.First, m)
}

// String returns a string representation of the window.
func (w CoverageWindow) String() string {
	if w.IsEmpty() {
		return "[]"
	}
	return "[" + w.First.String() + ", " + w.Last().String() + "]"
}
