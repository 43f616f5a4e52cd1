// Package scheduler implements the Orchestrator (C11): a
// single-process cooperative scheduler with cron and interval triggers,
// a grace period, firing coalescence, a max_instances guard per job,
// and cooperative cancellation on shutdown.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/krxtrader/engine/internal/market"
)

// TriggerKind distinguishes the two trigger styles.
type TriggerKind string

const (
	TriggerCron     TriggerKind = "cron"
	TriggerInterval TriggerKind = "interval"
)

// Trigger describes when a job fires.
type Trigger struct {
	Kind TriggerKind

	// Cron fields.
	Spec string // standard 5-field cron expression, evaluated on the KST wall clock

	// Interval fields.
	Every      time.Duration
	WindowOnly bool // if true, only fires while GatedByCalendar reports the market open
}

// Job is one scheduled unit of work.
type Job struct {
	Name         string
	Trigger      Trigger
	Run          func(ctx context.Context) error
	GracePeriod  time.Duration // default 5 min; a missed firing older than this is dropped
	Coalesce     bool          // if true, multiple piled-up firings collapse into one run
	MaxInstances int           // default 1; a job in flight suppresses new firings of itself
}

// job wraps a registered Job with the scheduler's bookkeeping.
type job struct {
	Job
	running  int32 // atomic: count of in-flight instances
	pending  int32 // atomic: 1 if a coalesced firing is queued behind a running instance
	entryID  cron.EntryID
	stopTick chan struct{}
}

// Scheduler runs registered Jobs against their Triggers. Control is
// single-threaded: only the scheduler goroutine decides when to start a
// job; the job's own body may use as much worker concurrency as it
// needs, bounded by its own callers.
type Scheduler struct {
	calendar *market.Calendar
	log      zerolog.Logger
	cron     *cron.Cron

	mu   sync.Mutex
	jobs []*job

	wg     sync.WaitGroup
	cancel context.CancelFunc
	ctx    context.Context
}

// New creates a Scheduler. calendar gates interval triggers whose
// WindowOnly is set.
func New(calendar *market.Calendar, log zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		calendar: calendar,
		log:      log.With().Str("component", "scheduler").Logger(),
		cron:     cron.New(cron.WithLocation(market.KST)),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Register adds a Job. Cron jobs are wired into the underlying cron
// scheduler immediately; interval jobs get their own ticker goroutine
// started by Start.
func (s *Scheduler) Register(j Job) error {
	if j.GracePeriod == 0 {
		j.GracePeriod = 5 * time.Minute
	}
	if j.MaxInstances == 0 {
		j.MaxInstances = 1
	}

	wrapped := &job{Job: j}

	switch j.Trigger.Kind {
	case TriggerCron:
		entryID, err := s.cron.AddFunc(j.Trigger.Spec, func() {
			s.fire(wrapped, time.Now().In(market.KST))
		})
		if err != nil {
			return fmt.Errorf("scheduler: registering cron job %s: %w", j.Name, err)
		}
		wrapped.entryID = entryID
	case TriggerInterval:
		wrapped.stopTick = make(chan struct{})
	default:
		return fmt.Errorf("scheduler: job %s has unknown trigger kind %q", j.Name, j.Trigger.Kind)
	}

	s.mu.Lock()
	s.jobs = append(s.jobs, wrapped)
	s.mu.Unlock()

	s.log.Info().Str("job", j.Name).Str("trigger", string(j.Trigger.Kind)).Msg("registered job")
	return nil
}

// Start begins firing cron jobs and starts a ticker goroutine per
// interval job.
func (s *Scheduler) Start() {
	s.cron.Start()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.Trigger.Kind != TriggerInterval {
			continue
		}
		s.wg.Add(1)
		go s.runIntervalLoop(j)
	}
}

func (s *Scheduler) runIntervalLoop(j *job) {
	defer s.wg.Done()

	ticker := time.NewTicker(j.Trigger.Every)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-j.stopTick:
			return
		case tick := <-ticker.C:
			now := tick.In(market.KST)
			if j.Trigger.WindowOnly && s.calendar != nil && !s.calendar.IsOpen(now) {
				continue
			}
			s.fire(j, now)
		}
	}
}

// fire starts j unless it is already at max_instances. A firing older
// than GracePeriod relative to scheduledAt is dropped rather than run
// late. Coalesce=true means a firing that arrives while one is already
// running (or already pending) is absorbed rather than queued again.
func (s *Scheduler) fire(j *job, scheduledAt time.Time) {
	if time.Since(scheduledAt) > j.GracePeriod {
		s.log.Warn().Str("job", j.Name).Dur("late_by", time.Since(scheduledAt)).
			Msg("firing missed grace period, dropping")
		return
	}

	if int(atomic.LoadInt32(&j.running)) >= j.MaxInstances {
		if j.Coalesce {
			atomic.StoreInt32(&j.pending, 1)
			s.log.Debug().Str("job", j.Name).Msg("job in flight, coalescing this firing")
			return
		}
		s.log.Debug().Str("job", j.Name).Msg("job in flight, max_instances reached, dropping firing")
		return
	}

	s.runOnce(j)
}

func (s *Scheduler) runOnce(j *job) {
	atomic.AddInt32(&j.running, 1)
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer atomic.AddInt32(&j.running, -1)

		start := time.Now()
		s.log.Info().Str("job", j.Name).Msg("job starting")

		if err := j.Run(s.ctx); err != nil {
			s.log.Error().Err(err).Str("job", j.Name).Msg("job failed; other jobs unaffected")
		} else {
			s.log.Info().Str("job", j.Name).Dur("elapsed", time.Since(start)).Msg("job completed")
		}

		// A coalesced firing that arrived mid-run gets exactly one follow-up run.
		if atomic.CompareAndSwapInt32(&j.pending, 1, 0) {
			s.runOnce(j)
		}
	}()
}

// Stop requests shutdown: new firings stop immediately, and in-flight
// jobs are given until deadline to reach a checkpoint before the
// cooperative cancellation token (ctx) is cancelled for good. The
// default deadline is 60s.
func (s *Scheduler) Stop(deadline time.Duration) {
	s.log.Info().Dur("deadline", deadline).Msg("shutdown requested, stopping new firings")

	cronCtx := s.cron.Stop()
	s.mu.Lock()
	for _, j := range s.jobs {
		if j.stopTick != nil {
			close(j.stopTick)
		}
	}
	s.mu.Unlock()

	<-cronCtx.Done()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Msg("all in-flight jobs reached completion")
	case <-time.After(deadline):
		s.log.Warn().Msg("deadline exceeded, force-cancelling remaining jobs")
		s.cancel()
		<-done
	}
}

// Context returns the cooperative cancellation token job bodies should
// check at their natural safepoints (per-ticker, per-position).
func (s *Scheduler) Context() context.Context {
	return s.ctx
}
