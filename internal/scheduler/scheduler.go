// Package scheduler runs the engine's recurring maintenance jobs on
// fixed intervals. Each job runs on its own ticker, never overlaps with
// itself, and survives panics in the job body.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/logging"
)

// JobResult summarizes one run of a job.
type JobResult struct {
	// Processed is how many items the run looked at.
	Processed int

	// Succeeded and Failed partition the processed items.
	Succeeded int
	Failed    int

	// Duration is the wall-clock time of the run.
	Duration time.Duration

	// Errors holds per-item failure messages.
	Errors []string
}

// JobFunc is one job body.
type JobFunc func(ctx context.Context) (JobResult, error)

// Job is a named recurring task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      JobFunc
}

// JobStatus is the observable state of one registered job.
type JobStatus struct {
	Name       string
	Interval   time.Duration
	Running    bool
	LastRun    time.Time
	NextRun    time.Time // zero until the job has run at least once
	LastResult *JobResult
	LastError  string
	TotalRuns  int64
}

// jobState tracks one job's run bookkeeping.
type jobState struct {
	job        Job
	running    bool
	lastRun    time.Time
	lastResult *JobResult
	lastError  string
	totalRuns  int64
}

// Scheduler owns the registered jobs and their tickers.
type Scheduler struct {
	mu     sync.Mutex
	jobs   map[string]*jobState
	order  []string
	logger *logging.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates an empty scheduler.
func New(logger *logging.Logger) *Scheduler {
	return &Scheduler{
		jobs:   make(map[string]*jobState),
		logger: logger,
	}
}

// Register adds a job. Registering after Start has no effect on the
// running loops; register everything first.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" {
		return errors.ValidationError{Field: "name", Message: "job must have a name"}
	}
	if job.Interval <= 0 {
		return errors.ValidationError{Field: "interval", Value: job.Interval.String(), Message: "job interval must be positive"}
	}
	if job.Run == nil {
		return errors.ValidationError{Field: "run", Message: "job must have a body"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return errors.ValidationError{Field: "name", Value: job.Name, Message: "job already registered"}
	}
	s.jobs[job.Name] = &jobState{job: job}
	s.order = append(s.order, job.Name)
	return nil
}

// Start launches one loop per registered job. Each job runs immediately,
// then on its interval.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	names := make([]string, len(s.order))
	copy(names, s.order)
	s.mu.Unlock()

	for _, name := range names {
		s.wg.Add(1)
		go s.loop(name)
	}
}

// Stop cancels all job loops and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// TriggerJob runs a job immediately, outside its schedule. It still
// respects the no-overlap rule: a trigger while the job is running fails
// with a state conflict.
func (s *Scheduler) TriggerJob(ctx context.Context, name string) (*JobResult, error) {
	s.mu.Lock()
	st, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return nil, errors.NotFoundError{Kind: "job", ID: name}
	}
	return s.run(ctx, st)
}

// Status reports every job in registration order.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]JobStatus, 0, len(s.jobs))
	for _, name := range s.order {
		st := s.jobs[name]
		status := JobStatus{
			Name:      st.job.Name,
			Interval:  st.job.Interval,
			Running:   st.running,
			LastRun:   st.lastRun,
			LastError: st.lastError,
			TotalRuns: st.totalRuns,
		}
		if !st.lastRun.IsZero() {
			status.NextRun = st.lastRun.Add(st.job.Interval)
		}
		if st.lastResult != nil {
			resultCopy := *st.lastResult
			status.LastResult = &resultCopy
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// JobNames returns the registered job names, sorted.
func (s *Scheduler) JobNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.order))
	copy(names, s.order)
	sort.Strings(names)
	return names
}

// loop is the per-job ticker goroutine.
func (s *Scheduler) loop(name string) {
	defer s.wg.Done()

	s.mu.Lock()
	st := s.jobs[name]
	s.mu.Unlock()

	ticker := time.NewTicker(st.job.Interval)
	defer ticker.Stop()

	if _, err := s.run(s.ctx, st); err != nil && !errors.IsStateConflict(err) {
		s.logger.Warn("job %s: %v", name, err)
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.run(s.ctx, st); err != nil && !errors.IsStateConflict(err) {
				s.logger.Warn("job %s: %v", name, err)
			}
		}
	}
}

// run executes one job body with overlap protection and panic recovery.
func (s *Scheduler) run(ctx context.Context, st *jobState) (*JobResult, error) {
	s.mu.Lock()
	if st.running {
		s.mu.Unlock()
		return nil, errors.StateConflictError{
			Operation: fmt.Sprintf("run job %s", st.job.Name),
			Current:   "running",
			Expected:  "idle",
		}
	}
	st.running = true
	s.mu.Unlock()

	start := time.Now()
	result, err := s.invoke(ctx, st.job)
	result.Duration = time.Since(start)

	s.mu.Lock()
	st.running = false
	st.lastRun = start
	st.totalRuns++
	resultCopy := result
	st.lastResult = &resultCopy
	if err != nil {
		st.lastError = err.Error()
	} else {
		st.lastError = ""
	}
	s.mu.Unlock()

	recordJobRun(st.job.Name, err == nil, result.Duration.Seconds())
	if err != nil {
		return &result, err
	}
	s.logger.Debug("job %s: processed=%d succeeded=%d failed=%d in %v",
		st.job.Name, result.Processed, result.Succeeded, result.Failed, result.Duration)
	return &result, nil
}

// invoke calls the job body, converting a panic into an error so one bad
// run never kills the scheduler.
func (s *Scheduler) invoke(ctx context.Context, job Job) (result JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
		}
	}()
	return job.Run(ctx)
}
