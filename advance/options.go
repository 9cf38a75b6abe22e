package advance

import (
	"fmt"
	"time"
)

// Options tunes date-dependent engine behavior. Zero values are replaced
// by DefaultOptions() in the constructors.
type Options struct {
	// RecentExhaustionWindow keeps an exhausted advance relevant to the
	// resolver and the sweep for this long after it ran out.
	RecentExhaustionWindow time.Duration

	// PaymentLookbackMonths bounds how far back the resolver looks for
	// validated rent payments.
	PaymentLookbackMonths int

	// CurrentMonthCutoffDay makes the current month due for sweeping once
	// today's day-of-month reaches it. 0 disables: only past months are due.
	CurrentMonthCutoffDay int

	// EffectiveCutoffDay pushes a new advance's first month to the next
	// month when it is paid after this day. 0 disables.
	EffectiveCutoffDay int
}

func DefaultOptions() Options {
	return Options{
		RecentExhaustionWindow: 30 * 24 * time.Hour,
		PaymentLookbackMonths:  5,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.RecentExhaustionWindow <= 0 {
		o.RecentExhaustionWindow = d.RecentExhaustionWindow
	}
	if o.PaymentLookbackMonths <= 0 {
		o.PaymentLookbackMonths = d.PaymentLookbackMonths
	}
	return o
}

// Validate rejects cutoff days that do not exist in every month.
func (o Options) Validate() error {
	if o.CurrentMonthCutoffDay < 0 || o.CurrentMonthCutoffDay > 28 {
		return fmt.Errorf("current month cutoff day must be in [0, 28], got %d", o.CurrentMonthCutoffDay)
	}
	if o.EffectiveCutoffDay < 0 || o.EffectiveCutoffDay > 28 {
		return fmt.Errorf("effective cutoff day must be in [0, 28], got %d", o.EffectiveCutoffDay)
	}
	return nil
}
