// Package cron schedules recurring jobs. Each enabled job gets its own
// timer goroutine that fires on an interval (clock-aligned for sub-daily
// intervals that divide a day evenly), gated by active hours in the
// configured timezone, with single-flight execution, a consecutive-failure
// circuit breaker, and persisted enable state.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	spacebot "github.com/nevindra/spacebot"
	"github.com/nevindra/spacebot/internal/config"
	"github.com/nevindra/spacebot/messaging"
	"github.com/nevindra/spacebot/store/sqlite"
)

// Runner is the agent surface the scheduler drives: synthetic channel
// turns and forced warmups. *agent.Agent satisfies it.
type Runner interface {
	RunSyntheticTurn(ctx context.Context, conversationID, prompt string, timeout time.Duration) (string, error)
	TriggerWarmup(reason string)
}

// MaxConsecutiveFailures trips the circuit breaker: the job is persisted
// disabled after this many failures in a row.
const MaxConsecutiveFailures = 3

// defaultTimeout bounds one job execution when the job sets none.
const defaultTimeout = 120 * time.Second

// systemTimezoneLabel marks active-hour evaluation against host local time.
const systemTimezoneLabel = "system"

// Job is the scheduler's in-memory view of a cron job.
type Job struct {
	ID                  string
	Prompt              string
	Interval            time.Duration
	DeliveryTarget      messaging.DeliveryTarget
	ActiveHours         *[2]int // [start, end) wall-clock hours; nil = always
	Enabled             bool
	RunOnce             bool
	ConsecutiveFailures int
	Timeout             time.Duration
}

// jobFromStored converts a store row, validating the delivery target and
// normalizing degenerate active hours (start == end means always active).
func jobFromStored(row sqlite.CronJob) (Job, error) {
	target, ok := messaging.ParseDeliveryTarget(row.DeliveryTarget)
	if !ok {
		return Job{}, fmt.Errorf("invalid delivery target %q: expected format 'adapter:target'", row.DeliveryTarget)
	}
	j := Job{
		ID:             row.ID,
		Prompt:         row.Prompt,
		Interval:       time.Duration(row.IntervalSecs) * time.Second,
		DeliveryTarget: target,
		Enabled:        row.Enabled,
		RunOnce:        row.RunOnce,
		Timeout:        defaultTimeout,
	}
	if row.TimeoutSecs > 0 {
		j.Timeout = time.Duration(row.TimeoutSecs) * time.Second
	}
	if row.ActiveStart != nil && row.ActiveEnd != nil && *row.ActiveStart != *row.ActiveEnd {
		j.ActiveHours = &[2]int{*row.ActiveStart, *row.ActiveEnd}
	}
	return j, nil
}

// Scheduler manages cron job timers and execution for one agent.
type Scheduler struct {
	agent     Runner
	store     *sqlite.Store
	messaging *messaging.Manager
	runtime   *config.RuntimeConfig
	logger    *slog.Logger

	mu     sync.Mutex
	jobs   map[string]*Job
	timers map[string]context.CancelFunc
	wg     sync.WaitGroup

	baseCtx context.Context
}

// NewScheduler creates a scheduler bound to one agent's resources.
func NewScheduler(a Runner, store *sqlite.Store, msg *messaging.Manager, runtime *config.RuntimeConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = spacebot.NopLogger()
	}
	s := &Scheduler{
		agent:     a,
		store:     store,
		messaging: msg,
		runtime:   runtime,
		logger:    logger,
		jobs:      make(map[string]*Job),
		timers:    make(map[string]context.CancelFunc),
	}
	if s.timezoneLabel() == systemTimezoneLabel {
		logger.Warn("no cron_timezone configured; active_hours will use the host system's local time, which is often UTC in containers — set cron_timezone to an IANA name like \"America/New_York\" if jobs skip their window")
	}
	return s
}

// Start loads enabled jobs from the store and starts their timers. ctx
// bounds every timer; cancelling it shuts the scheduler down.
func (s *Scheduler) Start(ctx context.Context) error {
	s.baseCtx = ctx
	rows, err := s.store.LoadCronJobs(ctx, true)
	if err != nil {
		return fmt.Errorf("cron: load jobs: %w", err)
	}
	for _, row := range rows {
		job, err := jobFromStored(row)
		if err != nil {
			s.logger.Warn("skipping cron job with bad config", "cron_id", row.ID, "error", err)
			continue
		}
		s.registerLocked(job)
	}
	return nil
}

// Register adds (or replaces) a job, persists it, and starts its timer if
// enabled.
func (s *Scheduler) Register(ctx context.Context, row sqlite.CronJob) error {
	job, err := jobFromStored(row)
	if err != nil {
		return err
	}
	if err := s.store.UpsertCronJob(ctx, row); err != nil {
		return err
	}
	s.registerLocked(job)
	s.logger.Info("cron job registered",
		"cron_id", job.ID, "interval", job.Interval, "run_once", job.RunOnce)
	return nil
}

func (s *Scheduler) registerLocked(job Job) {
	s.mu.Lock()
	j := job
	s.jobs[job.ID] = &j
	s.mu.Unlock()
	if job.Enabled {
		s.startTimer(job.ID)
	}
}

// Unregister stops a job's timer immediately and forgets the job.
func (s *Scheduler) Unregister(jobID string) {
	s.mu.Lock()
	cancel := s.timers[jobID]
	delete(s.timers, jobID)
	delete(s.jobs, jobID)
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		s.logger.Info("cron job unregistered", "cron_id", jobID)
	}
}

// IsRegistered reports whether the job is in the in-memory map.
func (s *Scheduler) IsRegistered(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[jobID]
	return ok
}

// Shutdown aborts every timer and waits for in-flight executions.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	for id, cancel := range s.timers {
		cancel()
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// TriggerNow fires a job immediately, outside its timer.
func (s *Scheduler) TriggerNow(ctx context.Context, jobID string) error {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	var snapshot Job
	if ok {
		snapshot = *job
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("cron job %s not found", jobID)
	}
	if !snapshot.Enabled {
		return fmt.Errorf("cron job %s is disabled", jobID)
	}
	s.logger.Info("cron job triggered manually", "cron_id", jobID)
	return s.runJob(ctx, snapshot)
}

// SetEnabled updates a job's enabled state and manages its timer:
// enabling a known job starts the timer; enabling an unknown job performs
// a cold re-enable (reload from the store, insert, start); disabling
// aborts the timer immediately instead of waiting for the next tick.
func (s *Scheduler) SetEnabled(ctx context.Context, jobID string, enabled bool) error {
	s.mu.Lock()
	job, inMemory := s.jobs[jobID]
	s.mu.Unlock()

	if !inMemory {
		if !enabled {
			s.logger.Debug("disable of unregistered cron job, nothing to do", "cron_id", jobID)
			return nil
		}
		// Cold re-enable: the job was disabled at startup and never loaded.
		s.logger.Info("cold re-enable: reloading cron config from store", "cron_id", jobID)
		rows, err := s.store.LoadCronJobs(ctx, false)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if row.ID != jobID {
				continue
			}
			fresh, err := jobFromStored(row)
			if err != nil {
				return err
			}
			fresh.Enabled = true
			fresh.ConsecutiveFailures = 0
			if err := s.store.UpdateCronEnabled(ctx, jobID, true); err != nil {
				return err
			}
			s.registerLocked(fresh)
			s.logger.Info("cron job cold-re-enabled and timer started", "cron_id", jobID)
			return nil
		}
		return fmt.Errorf("cron job %s not found in store", jobID)
	}

	s.mu.Lock()
	wasEnabled := job.Enabled
	job.Enabled = enabled
	var cancel context.CancelFunc
	if !enabled && wasEnabled {
		cancel = s.timers[jobID]
		delete(s.timers, jobID)
	}
	s.mu.Unlock()

	if err := s.store.UpdateCronEnabled(ctx, jobID, enabled); err != nil {
		return err
	}
	if enabled && !wasEnabled {
		s.startTimer(jobID)
		s.logger.Info("cron job enabled and timer started", "cron_id", jobID)
	}
	if cancel != nil {
		cancel()
		s.logger.Info("cron job disabled, timer aborted immediately", "cron_id", jobID)
	}
	return nil
}

// startTimer launches the per-job timer loop. Idempotent: an existing
// timer for the job is aborted before the new one starts, so
// re-registration never leaks timers.
func (s *Scheduler) startTimer(jobID string) {
	s.mu.Lock()
	if old, ok := s.timers[jobID]; ok {
		old()
		s.logger.Debug("aborted existing timer before re-registering", "cron_id", jobID)
	}
	base := s.baseCtx
	if base == nil {
		base = context.Background()
	}
	timerCtx, cancel := context.WithCancel(base)
	s.timers[jobID] = cancel
	interval := time.Hour
	if j, ok := s.jobs[jobID]; ok && j.Interval > 0 {
		interval = j.Interval
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.timerLoop(timerCtx, jobID, interval)
}

// timerLoop drives one job: aligned first tick, fixed cadence, skipped
// catch-up, active-hour gating, and single-flight execution.
func (s *Scheduler) timerLoop(ctx context.Context, jobID string, interval time.Duration) {
	defer s.wg.Done()

	// Sub-daily intervals that divide a day evenly are aligned to the next
	// UTC clock boundary so jobs fire on clean marks like :00 and :30
	// instead of an arbitrary offset from service start. Daily-and-longer
	// jobs stay on relative timing.
	first := interval
	secs := int64(interval / time.Second)
	if secs > 0 && secs < 86400 && 86400%secs == 0 {
		now := time.Now().Unix()
		remainder := now % secs
		until := secs - remainder
		if remainder == 0 {
			until = secs
		}
		first = time.Duration(until) * time.Second
		s.logger.Info("clock-aligned timer", "cron_id", jobID,
			"interval", interval, "first_tick_in", first)
	}

	// inFlight is the single-flight latch; released by the execution
	// goroutine when it finishes.
	var inFlight atomic.Bool

	timer := time.NewTimer(first)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		// Fixed cadence, catch-up never allowed: the next tick is an
		// interval from now, so a slow execution skips ticks rather than
		// bunching them.
		timer.Reset(interval)

		s.mu.Lock()
		job, ok := s.jobs[jobID]
		var snapshot Job
		if ok {
			snapshot = *job
		}
		s.mu.Unlock()

		if !ok {
			s.logger.Debug("cron job removed, stopping timer", "cron_id", jobID)
			return
		}
		if !snapshot.Enabled {
			s.logger.Debug("cron job disabled, stopping timer", "cron_id", jobID)
			return
		}

		if snapshot.ActiveHours != nil {
			hour, tz := s.currentHour(jobID)
			if !hourInActiveWindow(hour, snapshot.ActiveHours[0], snapshot.ActiveHours[1]) {
				s.logger.Debug("outside active hours, skipping",
					"cron_id", jobID, "cron_timezone", tz, "current_hour", hour,
					"start", snapshot.ActiveHours[0], "end", snapshot.ActiveHours[1])
				continue
			}
		}

		if !inFlight.CompareAndSwap(false, true) {
			s.logger.Debug("previous execution still running, skipping tick", "cron_id", jobID)
			continue
		}

		s.logger.Info("cron job firing", "cron_id", jobID)
		s.wg.Add(1)
		go func(job Job) {
			defer s.wg.Done()
			defer inFlight.Store(false)
			s.execute(ctx, job)
		}(snapshot)
	}
}

// execute runs one firing and updates failure counters, run-once state,
// and the circuit breaker.
func (s *Scheduler) execute(ctx context.Context, job Job) {
	err := s.runJob(ctx, job)

	if err == nil {
		s.mu.Lock()
		if j, ok := s.jobs[job.ID]; ok {
			j.ConsecutiveFailures = 0
		}
		s.mu.Unlock()
		if perr := s.store.UpdateCronFailures(ctx, job.ID, 0); perr != nil {
			s.logger.Warn("failed to persist cron failure reset", "cron_id", job.ID, "error", perr)
		}
	} else {
		s.logger.Error("cron job execution failed", "cron_id", job.ID, "error", err)

		var failures int
		s.mu.Lock()
		if j, ok := s.jobs[job.ID]; ok {
			j.ConsecutiveFailures++
			failures = j.ConsecutiveFailures
		}
		s.mu.Unlock()
		if perr := s.store.UpdateCronFailures(ctx, job.ID, failures); perr != nil {
			s.logger.Warn("failed to persist cron failures", "cron_id", job.ID, "error", perr)
		}

		if failures >= MaxConsecutiveFailures {
			s.logger.Warn("circuit breaker tripped, disabling cron job",
				"cron_id", job.ID, "failures", failures)
			s.disableAfterRun(job.ID)
		}
	}

	if job.RunOnce {
		s.logger.Info("run-once cron completed, disabling", "cron_id", job.ID)
		s.disableAfterRun(job.ID)
	}
}

// disableAfterRun flips the in-memory flag and persists enabled=false. The
// timer loop notices on its next tick (or is aborted by SetEnabled).
func (s *Scheduler) disableAfterRun(jobID string) {
	s.mu.Lock()
	if j, ok := s.jobs[jobID]; ok {
		j.Enabled = false
	}
	s.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.UpdateCronEnabled(ctx, jobID, false); err != nil {
		s.logger.Error("failed to persist cron disabled state", "cron_id", jobID, "error", err)
	}
}

// runJob executes one firing: readiness gate, synthetic channel, response
// collection, delivery, execution log.
func (s *Scheduler) runJob(ctx context.Context, job Job) error {
	s.checkReadiness(job.ID)

	channelID := "cron:" + job.ID
	result, err := s.agent.RunSyntheticTurn(ctx, channelID, job.Prompt, job.Timeout)
	if err != nil {
		if lerr := s.store.LogCronExecution(ctx, job.ID, false, err.Error()); lerr != nil {
			s.logger.Warn("failed to log cron execution", "cron_id", job.ID, "error", lerr)
		}
		return err
	}

	if result == "" {
		s.logger.Debug("cron job produced no output, skipping delivery", "cron_id", job.ID)
	} else {
		err := s.messaging.Broadcast(ctx, job.DeliveryTarget.Adapter, job.DeliveryTarget.Target,
			spacebot.TextResponse(result))
		if err != nil {
			s.logger.Error("failed to deliver cron result",
				"cron_id", job.ID, "target", job.DeliveryTarget, "error", err)
			if lerr := s.store.LogCronExecution(ctx, job.ID, false, err.Error()); lerr != nil {
				s.logger.Warn("failed to log cron execution", "cron_id", job.ID, "error", lerr)
			}
			return err
		}
		s.logger.Info("cron result delivered", "cron_id", job.ID, "target", job.DeliveryTarget)
	}

	if lerr := s.store.LogCronExecution(ctx, job.ID, true, result); lerr != nil {
		s.logger.Warn("failed to log cron execution", "cron_id", job.ID, "error", lerr)
	}
	return nil
}

// checkReadiness enforces the dispatch readiness contract as best effort:
// an early-running job warns, triggers a forced warmup, and proceeds.
func (s *Scheduler) checkReadiness(jobID string) {
	r := s.runtime.Readiness()
	if r.Ready {
		return
	}
	s.logger.Warn("cron dispatch requested before readiness contract was satisfied",
		"cron_id", jobID, "dispatch_type", "cron", "reason", r.Reason,
		"warmup_state", r.State.String(), "embedding_ready", r.EmbeddingReady,
		"bulletin_age", r.BulletinAge, "stale_after", r.StaleAfter)

	warmup := s.runtime.Warmup()
	if r.State != config.WarmupWarming &&
		(r.Reason != "embedding_not_ready" || warmup.EagerEmbeddingLoad) {
		s.agent.TriggerWarmup("cron")
	}
}

// currentHour evaluates the wall-clock hour in the configured timezone,
// falling back to host local time when the name is unset or invalid.
func (s *Scheduler) currentHour(jobID string) (int, string) {
	name := s.runtime.CronTimezone()
	if name == "" {
		return time.Now().Hour(), systemTimezoneLabel
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		s.logger.Warn("invalid cron timezone, falling back to system timezone",
			"cron_id", jobID, "cron_timezone", name, "error", err)
		return time.Now().Hour(), systemTimezoneLabel
	}
	return time.Now().In(loc).Hour(), name
}

func (s *Scheduler) timezoneLabel() string {
	name := s.runtime.CronTimezone()
	if name == "" {
		return systemTimezoneLabel
	}
	if _, err := time.LoadLocation(name); err != nil {
		return systemTimezoneLabel
	}
	return name
}

// hourInActiveWindow reports whether hour falls in [start, end), wrapping
// across midnight when start > end. start == end means always active.
func hourInActiveWindow(hour, start, end int) bool {
	if start == end {
		return true
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
