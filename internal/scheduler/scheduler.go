package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/randevly/randevly/pkg/logger"
	"github.com/randevly/randevly/pkg/metrics"
)

// Job is a unit of scheduled work. Run must be safe to call repeatedly;
// the scheduler guarantees it is never called concurrently with itself.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobState is the last observed execution state of one job.
type JobState struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	Running   bool       `json:"running"`
	LastRunAt *time.Time `json:"last_run_at"`
	LastError string     `json:"last_error,omitempty"`
	RunCount  int64      `json:"run_count"`
}

type entry struct {
	job      Job
	schedule string

	running   atomic.Bool
	mu        sync.Mutex
	lastRunAt *time.Time
	lastError string
	runCount  int64
}

// Scheduler runs registered jobs on cron schedules. A tick that fires
// while the previous run of the same job is still in flight is skipped,
// never queued.
type Scheduler struct {
	cron    *cron.Cron
	log     *zap.Logger
	baseCtx context.Context

	mu      sync.Mutex
	entries map[string]*entry
	started bool
}

// New constructs a Scheduler. ctx bounds every job run; cancelling it
// makes in-flight jobs wind down.
func New(ctx context.Context) *Scheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Scheduler{
		cron:    cron.New(),
		log:     logger.WithModule("scheduler"),
		baseCtx: ctx,
		entries: make(map[string]*entry),
	}
}

// Register adds a job on the given cron spec. Registering after Start or
// reusing a job name is an error.
func (s *Scheduler) Register(spec string, job Job) error {
	if job == nil {
		return errors.New("scheduler: job is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler: cannot register after start")
	}
	if _, exists := s.entries[job.Name()]; exists {
		return errors.New("scheduler: duplicate job " + job.Name())
	}

	e := &entry{job: job, schedule: spec}
	if _, err := s.cron.AddFunc(spec, func() { s.execute(e) }); err != nil {
		return err
	}
	s.entries[job.Name()] = e
	return nil
}

// Start begins ticking. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.log.Info("scheduler started", zap.Int("jobs", len(s.entries)))
}

// Stop halts ticking and waits for in-flight jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// RunNow triggers one job by name outside its schedule, honouring the
// same re-entrancy guard. Used by operational tooling and tests.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return errors.New("scheduler: unknown job " + name)
	}
	s.execute(e)
	return nil
}

// JobStates snapshots every registered job for health reporting.
func (s *Scheduler) JobStates() []JobState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobState, 0, len(s.entries))
	for _, e := range s.entries {
		e.mu.Lock()
		state := JobState{
			Name:      e.job.Name(),
			Schedule:  e.schedule,
			Running:   e.running.Load(),
			LastRunAt: e.lastRunAt,
			LastError: e.lastError,
			RunCount:  e.runCount,
		}
		e.mu.Unlock()
		out = append(out, state)
	}
	return out
}

func (s *Scheduler) execute(e *entry) {
	if !e.running.CompareAndSwap(false, true) {
		s.log.Warn("job still running, tick skipped", zap.String("job", e.job.Name()))
		metrics.SchedulerRuns.WithLabelValues(e.job.Name(), "skipped").Inc()
		return
	}
	defer e.running.Store(false)

	started := time.Now()
	err := e.job.Run(s.baseCtx)

	e.mu.Lock()
	e.lastRunAt = &started
	e.runCount++
	if err != nil {
		e.lastError = err.Error()
	} else {
		e.lastError = ""
	}
	e.mu.Unlock()

	if err != nil {
		metrics.SchedulerRuns.WithLabelValues(e.job.Name(), "error").Inc()
		s.log.Error("job failed",
			zap.String("job", e.job.Name()),
			zap.Duration("duration", time.Since(started)),
			zap.Error(err))
		return
	}
	metrics.SchedulerRuns.WithLabelValues(e.job.Name(), "ok").Inc()
	s.log.Debug("job finished",
		zap.String("job", e.job.Name()),
		zap.Duration("duration", time.Since(started)))
}
