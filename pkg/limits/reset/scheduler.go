package reset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"brandpeek/gatehouse/pkg/keys"
	"brandpeek/gatehouse/pkg/limits/addons"
	"brandpeek/gatehouse/pkg/limits/quota"
	"brandpeek/gatehouse/pkg/limits/storage"
)

// Scheduler drives the monthly rollover on a cron schedule.
// It rolls quota counters forward and sweeps due add-on instances
// at each firing, and exposes RunNow for manual triggering.
type Scheduler struct {
	registry *keys.Registry
	counters storage.CounterStore
	ledger   *addons.Ledger
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *slog.Logger
	running  bool
	entryID  cron.EntryID
	now      func() time.Time
}

// NewScheduler creates a rollover scheduler. An empty schedule falls
// back to DefaultSchedule.
func NewScheduler(registry *keys.Registry, counters storage.CounterStore, ledger *addons.Ledger, schedule string) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Scheduler{
		registry: registry,
		counters: counters,
		ledger:   ledger,
		schedule: schedule,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "reset.scheduler"),
		now:      time.Now,
	}
}

// WithClock replaces the scheduler's time source. Intended for tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Start begins scheduled rollovers.
//
// Common cron expressions:
//   - "0 3 * * *"   - Daily at 3 AM
//   - "0 * * * *"   - Every hour
//   - "0 0 1 * *"   - First of each month at midnight
//
// A daily schedule is safe because each run is idempotent; it simply
// bounds how long a rollover can be late.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	id, err := s.cron.AddFunc(s.schedule, func() {
		s.runScheduled(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule rollover: %w", err)
	}
	s.entryID = id

	s.cron.Start()
	s.running = true

	s.logger.Info("rollover scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// runScheduled executes one rollover cycle from the cron firing.
func (s *Scheduler) runScheduled(ctx context.Context) {
	s.logger.Info("starting scheduled rollover")

	result, err := s.RunNow(ctx)
	if err != nil {
		s.logger.Error("scheduled rollover failed", "error", err)
		return
	}

	if result.Processed > 0 || result.AddOnsProcessed > 0 {
		s.logger.Info("scheduled rollover completed",
			"counters_processed", result.Processed,
			"counters_succeeded", result.Succeeded,
			"counters_failed", result.Failed,
			"addons_processed", result.AddOnsProcessed,
			"addons_failed", result.AddOnsFailed,
		)
	} else {
		s.logger.Debug("scheduled rollover completed, nothing to do")
	}
}

// RunNow performs one rollover immediately. Safe to call at any time;
// counters already in the current period are not touched, so a manual
// run between scheduled firings never double-resets.
//
// Failures on individual counters or add-ons are counted in the Result
// and retried on the next run rather than aborting the sweep.
func (s *Scheduler) RunNow(ctx context.Context) (*Result, error) {
	now := s.now()
	period := quota.Period(now)
	periodStart := quota.PeriodStart(now)

	result := &Result{}

	stale, err := s.counters.ListCountersBefore(ctx, period)
	if err != nil {
		return nil, fmt.Errorf("listing stale counters: %w", err)
	}

	for _, c := range stale {
		result.Processed++
		if err := s.rollCounter(ctx, c, period, periodStart); err != nil {
			s.logger.Error("counter rollover failed",
				"key_id", c.KeyID,
				"period", c.Period,
				"error", err)
			result.Failed++
			continue
		}
		result.Succeeded++
	}

	result.AddOnsProcessed, result.AddOnsFailed = s.ledger.ExpireDue(ctx, now)

	return result, nil
}

// rollCounter opens the current-period counter for the key and archives
// the stale one. Keys no longer in the registry just get their stale
// counter archived.
func (s *Scheduler) rollCounter(ctx context.Context, c *storage.QuotaCounter, period string, periodStart time.Time) error {
	rec, err := s.registry.Get(c.KeyID)
	switch {
	case errors.Is(err, keys.ErrKeyNotFound):
		// Key was removed; nothing to roll forward.
	case err != nil:
		return fmt.Errorf("looking up key: %w", err)
	default:
		tier, err := s.registry.TierFor(rec)
		if err != nil {
			return fmt.Errorf("resolving tier: %w", err)
		}
		if err := s.counters.EnsureCounter(ctx, c.KeyID, period, tier.MonthlyQuota, periodStart); err != nil {
			return fmt.Errorf("opening counter for period %s: %w", period, err)
		}
	}

	if err := s.counters.ArchiveCounter(ctx, c.KeyID, c.Period); err != nil {
		return fmt.Errorf("archiving counter for period %s: %w", c.Period, err)
	}
	return nil
}

// NextRun returns the time of the next scheduled rollover, or the zero
// time when the scheduler is not running.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// Stop stops the scheduler and waits for any running job to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil && s.running {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.running = false
		s.logger.Info("rollover scheduler stopped")
	}
}

// IsRunning reports whether the scheduler is currently started.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
