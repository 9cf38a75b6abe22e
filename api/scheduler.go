/*
scheduler.go - Automated missing-consumption sweep

PURPOSE:
  Advance months are not consumed by month rollover on their own. The
  scheduler periodically runs Tracker.SweepAll so every due covered month
  ends up with its consumption record.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Takes a lease before sweeping so replicas do not repeat the work;
    the store's unique (advance, month) index keeps a double run harmless
  - Keeps the last run in memory for the admin endpoint

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewSweepScheduler(svc.Tracker(), locker, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: SweepAll endpoint (manual sweep)
  - advance/tracker.go: SweepAll
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/rent-advance/advance"
	"github.com/warp/rent-advance/lease"
	"github.com/warp/rent-advance/metrics"
)

const sweepLeaseName = "sweep-all"

// SweepRun records one scheduler pass.
type SweepRun struct {
	ID          string
	Trigger     string // "schedule" or "manual"
	Status      string // "completed", "failed", "skipped"
	StartedAt   time.Time
	CompletedAt time.Time
	Report      advance.SweepReport
	Error       string
}

// SweepScheduler handles automated missing-consumption sweeps.
type SweepScheduler struct {
	Tracker       *advance.Tracker
	Locker        lease.Locker
	CheckInterval time.Duration
	Enabled       bool

	log     zerolog.Logger
	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastMu  sync.RWMutex
	lastRun *SweepRun
	nextRun time.Time
}

// NewSweepScheduler creates a new scheduler.
func NewSweepScheduler(tracker *advance.Tracker, locker lease.Locker, log zerolog.Logger) *SweepScheduler {
	if locker == nil {
		locker = lease.Local{}
	}
	return &SweepScheduler{
		Tracker:       tracker,
		Locker:        locker,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		log:           log,
	}
}

// Start begins the scheduler. Starting a running scheduler is a no-op; a
// stopped one can be started again.
func (ss *SweepScheduler) Start() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if !ss.Enabled {
		ss.log.Info().Msg("sweep scheduler disabled, not starting")
		return
	}
	if ss.ticker != nil {
		return
	}

	ss.ticker = time.NewTicker(ss.CheckInterval)
	ss.stop = make(chan struct{})
	ss.wg.Add(1)

	go ss.run(ss.ticker, ss.stop)

	ss.log.Info().Dur("interval", ss.CheckInterval).Msg("sweep scheduler started")
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (ss *SweepScheduler) Stop() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.ticker != nil {
		ss.ticker.Stop()
		close(ss.stop)
		ss.wg.Wait()
		ss.ticker = nil
		ss.setNextRun(time.Time{})
		ss.log.Info().Msg("sweep scheduler stopped")
	}
}

func (ss *SweepScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer ss.wg.Done()

	// Run immediately on start
	ss.setNextRun(time.Now().Add(ss.CheckInterval))
	ss.sweep(context.Background(), "schedule")

	for {
		select {
		case tick := <-ticker.C:
			ss.setNextRun(tick.Add(ss.CheckInterval))
			ss.sweep(context.Background(), "schedule")
		case <-stop:
			return
		}
	}
}

func (ss *SweepScheduler) setNextRun(t time.Time) {
	ss.lastMu.Lock()
	defer ss.lastMu.Unlock()
	ss.nextRun = t
}

func (ss *SweepScheduler) sweep(ctx context.Context, trigger string) SweepRun {
	run := SweepRun{
		ID:        fmt.Sprintf("sweep-%d", time.Now().UnixNano()),
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
	}

	release, ok, err := ss.Locker.Acquire(ctx, sweepLeaseName, ss.leaseTTL())
	switch {
	case err != nil:
		// lease backend down: sweeping anyway is safe
		ss.log.Warn().Err(err).Msg("sweep lease unavailable, sweeping without it")
		release = func() {}
	case !ok:
		run.Status = "skipped"
		run.CompletedAt = time.Now().UTC()
		metrics.SweepRuns.WithLabelValues("skipped").Inc()
		ss.log.Debug().Msg("sweep lease held elsewhere, skipping")
		ss.record(run)
		return run
	}
	defer release()

	report, err := ss.Tracker.SweepAll(ctx)
	run.CompletedAt = time.Now().UTC()
	run.Report = report
	if err != nil {
		run.Status = "failed"
		run.Error = err.Error()
		ss.log.Error().Err(err).Str("run_id", run.ID).Msg("sweep failed")
	} else {
		run.Status = "completed"
	}
	ss.record(run)
	return run
}

func (ss *SweepScheduler) leaseTTL() time.Duration {
	if ss.CheckInterval > 0 && ss.CheckInterval < 10*time.Minute {
		return ss.CheckInterval
	}
	return 10 * time.Minute
}

func (ss *SweepScheduler) record(run SweepRun) {
	ss.lastMu.Lock()
	defer ss.lastMu.Unlock()
	ss.lastRun = &run
}

// RunNow triggers an immediate sweep (for testing/admin).
func (ss *SweepScheduler) RunNow(ctx context.Context) SweepRun {
	return ss.sweep(ctx, "manual")
}

// LastRun returns the most recent pass, or nil before the first one.
func (ss *SweepScheduler) LastRun() *SweepRun {
	ss.lastMu.RLock()
	defer ss.lastMu.RUnlock()
	if ss.lastRun == nil {
		return nil
	}
	run := *ss.lastRun
	return &run
}

// GetNextRunTime returns when the next scheduled check will occur: one
// interval after the last tick. Zero while the scheduler is not running.
func (ss *SweepScheduler) GetNextRunTime() time.Time {
	ss.lastMu.RLock()
	defer ss.lastMu.RUnlock()
	return ss.nextRun
}
