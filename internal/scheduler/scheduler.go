// Package scheduler runs named background jobs on cron schedules and
// exposes the manual trigger/cancel/status control surface.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/crateseek/crateseek/internal/events"
	"github.com/crateseek/crateseek/internal/logger"
)

// tickInterval bounds how late a scheduled run can start. Cron
// expressions have minute granularity, so one second is plenty.
const tickInterval = time.Second

// Trigger and cancel outcomes, passed through verbatim by the HTTP
// layer.
const (
	TriggerTriggered      = "triggered"
	TriggerAlreadyRunning = "already_running"
	TriggerUnknown        = "unknown"

	CancelCancelled  = "cancelled"
	CancelNotRunning = "not_running"
	CancelUnknown    = "unknown"
)

// Run lets a handler report progress and observe cooperative
// cancellation between iterations.
type Run interface {
	// Progress publishes a mid-run progress event. Total may be zero
	// when the amount of work is unknown.
	Progress(current, total int)
	// Aborted reports whether a cancel has been requested for this
	// run. Handlers check it at every loop iteration and return early.
	Aborted() bool
}

// JobFunc is an async job handler. A nil error after an observed
// abort still reports the run as cancelled.
type JobFunc func(ctx context.Context, run Run) error

// JobEvent is the payload for every jobs-channel event.
type JobEvent struct {
	Job        string `json:"job"`
	Trigger    string `json:"trigger,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
	Current    int    `json:"current,omitempty"`
	Total      int    `json:"total,omitempty"`
}

// JobStatus is one row of the control surface listing.
type JobStatus struct {
	Name    string     `json:"name"`
	Cron    string     `json:"cron,omitempty"`
	Running bool       `json:"running"`
	LastRun *time.Time `json:"last_run,omitempty"`
	NextRun *time.Time `json:"next_run,omitempty"`
}

type job struct {
	name     string
	spec     string
	schedule cron.Schedule // nil means manual-only
	fn       JobFunc

	running bool
	lastRun *time.Time
	nextRun time.Time
	current *jobRun
}

type jobRun struct {
	job     string
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	aborted atomic.Bool
	bus     *events.Bus
}

func (r *jobRun) Progress(current, total int) {
	r.bus.Publish(events.ChannelJobs, events.JobProgress,
		&JobEvent{Job: r.job, Current: current, Total: total})
}

func (r *jobRun) Aborted() bool {
	return r.aborted.Load() || r.ctx.Err() != nil
}

// Scheduler owns a fixed table of named jobs. At most one run per job
// is active at any time; overlapping scheduled ticks are dropped.
type Scheduler struct {
	bus *events.Bus
	log *logger.Logger

	mu    sync.Mutex
	jobs  map[string]*job
	order []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(bus *events.Bus, log *logger.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		bus:    bus,
		log:    log.WithComponent("scheduler"),
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds a named job. An empty or unparseable cron expression
// leaves the job manual-only.
func (s *Scheduler) Register(name, spec string, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := &job{name: name, fn: fn}
	if spec != "" {
		schedule, err := cron.ParseStandard(spec)
		if err != nil {
			s.log.Warn("invalid cron expression, job is manual-only",
				"job", name, "cron", spec, "error", err)
		} else {
			j.spec = spec
			j.schedule = schedule
		}
	}

	if _, exists := s.jobs[name]; !exists {
		s.order = append(s.order, name)
	}
	s.jobs[name] = j
}

// Start computes initial fire times and begins the tick loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	now := time.Now()
	scheduled := 0
	for _, j := range s.jobs {
		if j.schedule != nil {
			j.nextRun = j.schedule.Next(now)
			scheduled++
		}
	}
	total := len(s.jobs)
	s.mu.Unlock()

	s.log.Info("scheduler started", "jobs", total, "scheduled", scheduled)
	s.wg.Add(1)
	go s.loop()
}

// Stop cancels every active run and waits for all of them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.fireDue(now)
		}
	}
}

func (s *Scheduler) fireDue(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range s.order {
		j := s.jobs[name]
		if j.schedule == nil || j.nextRun.IsZero() || now.Before(j.nextRun) {
			continue
		}
		j.nextRun = j.schedule.Next(now)
		if j.running {
			s.log.Warn("skipping scheduled run, previous run still active", "job", j.name)
			continue
		}
		s.launch(j, "schedule")
	}
}

// launch starts a run for j. Callers hold s.mu.
func (s *Scheduler) launch(j *job, trigger string) {
	runCtx, cancel := context.WithCancel(s.ctx)
	r := &jobRun{
		job:    j.name,
		ctx:    runCtx,
		cancel: cancel,
		done:   make(chan struct{}),
		bus:    s.bus,
	}
	j.running = true
	j.current = r

	s.wg.Add(1)
	go s.execute(j, r, runCtx, trigger)
}

// Trigger schedules a manual run of the named job.
func (s *Scheduler) Trigger(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		return TriggerUnknown
	}
	if j.running {
		return TriggerAlreadyRunning
	}
	s.launch(j, "manual")
	return TriggerTriggered
}

// Cancel requests cooperative cancellation of the named job's active
// run and waits up to wait for it to exit. Cancellation is never
// forced; a run that has not exited in time keeps winding down in the
// background.
func (s *Scheduler) Cancel(name string, wait time.Duration) string {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return CancelUnknown
	}
	if !j.running || j.current == nil {
		s.mu.Unlock()
		return CancelNotRunning
	}
	r := j.current
	s.mu.Unlock()

	r.aborted.Store(true)
	r.cancel()

	select {
	case <-r.done:
	case <-time.After(wait):
		s.log.Warn("cancel requested, not yet observed", "job", name)
	}
	return CancelCancelled
}

// Status lists every registered job in registration order.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	out := make([]JobStatus, 0, len(s.order))
	for _, name := range s.order {
		j := s.jobs[name]
		st := JobStatus{
			Name:    j.name,
			Cron:    j.spec,
			Running: j.running,
			LastRun: j.lastRun,
		}
		if j.schedule != nil {
			next := j.nextRun
			if next.IsZero() {
				next = j.schedule.Next(now)
			}
			st.NextRun = &next
		}
		out = append(out, st)
	}
	return out
}

func (s *Scheduler) execute(j *job, r *jobRun, ctx context.Context, trigger string) {
	defer s.wg.Done()
	defer r.cancel()

	log := s.log.WithJob(j.name)
	log.Info("job started", "trigger", trigger)
	s.bus.Publish(events.ChannelJobs, events.JobStarted,
		&JobEvent{Job: j.name, Trigger: trigger})

	started := time.Now()
	err := s.runGuarded(ctx, j, r)
	duration := time.Since(started)

	finished := time.Now().UTC()
	s.mu.Lock()
	j.running = false
	j.current = nil
	j.lastRun = &finished
	s.mu.Unlock()
	close(r.done)

	ev := &JobEvent{Job: j.name, DurationMS: duration.Milliseconds()}
	switch {
	case r.aborted.Load() || ctx.Err() != nil:
		log.Info("job cancelled", "duration", duration.Round(time.Millisecond).String())
		s.bus.Publish(events.ChannelJobs, events.JobCancelled, ev)
	case err != nil:
		ev.Error = err.Error()
		log.Error("job failed", "duration", duration.Round(time.Millisecond).String(), "error", err)
		s.bus.Publish(events.ChannelJobs, events.JobFailed, ev)
	default:
		log.Info("job completed", "duration", duration.Round(time.Millisecond).String())
		s.bus.Publish(events.ChannelJobs, events.JobCompleted, ev)
	}
}

// runGuarded converts a handler panic into a failed run instead of
// taking the process down.
func (s *Scheduler) runGuarded(ctx context.Context, j *job, r *jobRun) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return j.fn(ctx, r)
}
