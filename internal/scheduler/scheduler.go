// Package scheduler bounds how many task pipelines run concurrently and
// exposes cancellation for an in-flight run. It holds no pipeline logic
// of its own — internal/executor drives the actual stages — only the
// registry of what is currently running and the semaphore that gates
// how many of those runs may execute at once.
//
// The shape is the teacher's SessionManager
// (internal/app/session_manager.go): a mutex-guarded map tracking active
// work plus a context.CancelFunc per entry for teardown, generalized
// here from "at most one active session" to "at most N concurrent task
// runs, each independently cancellable."
package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/dubforge/internal/dubterr"
	"github.com/MrWong99/dubforge/internal/observe"
	"github.com/MrWong99/dubforge/internal/taskstore"
)

// DefaultMaxConcurrentTasks is used when configuration leaves
// max_concurrent_tasks unset or non-positive.
const DefaultMaxConcurrentTasks = 1

// Runner drives a single task's pipeline. *executor.Executor satisfies
// this; Scheduler depends only on the interface so it can be tested
// without a full Engines bundle.
type Runner interface {
	Run(ctx context.Context, taskID string) error
	Continue(ctx context.Context, taskID string) error
	ResynthesizeSegment(ctx context.Context, taskID string, segID int) error
	RegenerateFinal(ctx context.Context, taskID string) error
}

// Scheduler serializes and bounds concurrent pipeline runs. One
// Scheduler is shared by the whole process; every exported method is
// safe for concurrent use.
type Scheduler struct {
	store *taskstore.Store
	run   Runner

	sem chan struct{}

	mu      sync.Mutex
	running map[string]context.CancelFunc

	// metrics is nil unless SetMetrics is called.
	metrics *observe.Metrics
}

// SetMetrics attaches m so every launch/finish is recorded to it. Optional:
// a Scheduler with no metrics attached behaves identically.
func (s *Scheduler) SetMetrics(m *observe.Metrics) {
	s.metrics = m
}

// New constructs a Scheduler. maxConcurrentTasks bounds how many task
// runs may be in flight at once; non-positive falls back to
// DefaultMaxConcurrentTasks.
func New(store *taskstore.Store, run Runner, maxConcurrentTasks int) *Scheduler {
	if maxConcurrentTasks <= 0 {
		maxConcurrentTasks = DefaultMaxConcurrentTasks
	}
	return &Scheduler{
		store:   store,
		run:     run,
		sem:     make(chan struct{}, maxConcurrentTasks),
		running: make(map[string]context.CancelFunc),
	}
}

// Start launches taskID's pipeline run in the background and returns
// immediately once it is registered as running — it does not wait for
// the run to acquire a concurrency slot or to finish. Returns
// dubterr.ErrStageRunning if taskID already has a run in flight.
func (s *Scheduler) Start(taskID string) error {
	return s.launch(taskID, s.run.Run)
}

// Continue resumes a paused taskID in the background with the same
// concurrency and cancellation semantics as Start.
func (s *Scheduler) Continue(taskID string) error {
	return s.launch(taskID, s.run.Continue)
}

// ResynthesizeSegment re-runs reference extraction and cloning for one
// segment of taskID in the background, serialized against any other
// operation on the same task by the same per-task mutex Start/Continue use.
func (s *Scheduler) ResynthesizeSegment(taskID string, segID int) error {
	return s.launch(taskID, func(ctx context.Context, id string) error {
		return s.run.ResynthesizeSegment(ctx, id, segID)
	})
}

// RegenerateFinal re-runs merge_voice and mux for taskID in the background,
// under the same serialization as Start/Continue/ResynthesizeSegment.
func (s *Scheduler) RegenerateFinal(taskID string) error {
	return s.launch(taskID, s.run.RegenerateFinal)
}

func (s *Scheduler) launch(taskID string, run func(ctx context.Context, taskID string) error) error {
	s.mu.Lock()
	if _, ok := s.running[taskID]; ok {
		s.mu.Unlock()
		return dubterr.ErrStageRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.running[taskID] = cancel
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.TasksStarted.Add(ctx, 1)
		s.metrics.ActiveTasks.Add(ctx, 1)
	}

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.running, taskID)
			s.mu.Unlock()
			cancel()
			if s.metrics != nil {
				s.metrics.ActiveTasks.Add(context.Background(), -1)
			}
		}()

		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-ctx.Done():
			return
		}

		err := s.store.WithLock(taskID, func() error {
			return run(ctx, taskID)
		})
		if err != nil {
			slog.Error("scheduler: task run ended with error", "task_id", taskID, "err", err)
		}
	}()
	return nil
}

// Cancel requests taskID's in-flight run stop as soon as the executor
// next checks its context. Returns false if taskID has no run in flight
// (already finished, never started, or raced against this same call
// from another goroutine).
func (s *Scheduler) Cancel(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.running[taskID]
	if !ok {
		return false
	}
	cancel()
	return true
}

// IsRunning reports whether taskID currently has an in-flight pipeline run.
func (s *Scheduler) IsRunning(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[taskID]
	return ok
}

// RunningCount returns the number of tasks currently registered as
// running. This can exceed the concurrency cap momentarily: a task
// counts as running as soon as it is registered, even while still
// waiting on the semaphore for a slot.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}
