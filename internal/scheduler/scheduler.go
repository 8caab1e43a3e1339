package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"print-backend/internal/core/utils"
	"print-backend/internal/database"
)

// Executor is what firing a trigger invokes; implemented by core.Executor.
type Executor interface {
	Execute(ctx context.Context, taskId uint)
}

type triggerEntry struct {
	taskId uint
	dueAt  time.Time
}

type triggerHeap []triggerEntry

func (h triggerHeap) Len() int           { return len(h) }
func (h triggerHeap) Less(i, j int) bool { return h[i].dueAt.Before(h[j].dueAt) }
func (h triggerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *triggerHeap) Push(x any) {
	*h = append(*h, x.(triggerEntry))
}

func (h *triggerHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}

// Scheduler fires task executions at their due instants. The durable
// print_triggers table is the source of truth; the in-process min-heap is
// just the timer over it. Start runs a recovery scan, so triggers scheduled
// before a restart still fire, immediately if their due time has passed.
type Scheduler struct {
	store    *database.TaskStore
	executor Executor
	workers  int

	mu      sync.Mutex
	pending triggerHeap
	stopped bool

	wake   chan struct{}
	taskCh chan uint

	inflight *utils.MutexMap
	wg       sync.WaitGroup
}

func NewScheduler(store *database.TaskStore, executor Executor, workers int) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	return &Scheduler{
		store:    store,
		executor: executor,
		workers:  workers,
		wake:     make(chan struct{}, 1),
		taskCh:   make(chan uint),
		inflight: utils.NewMutexMap(),
	}
}

// Schedule registers a durable trigger for the task. A due time already in
// the past is accepted and fires immediately.
func (s *Scheduler) Schedule(ctx context.Context, taskId uint, dueAt time.Time) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is shutting down")
	}
	s.mu.Unlock()

	if err := s.store.CreateTrigger(ctx, taskId, dueAt); err != nil {
		return err
	}

	s.push(triggerEntry{taskId: taskId, dueAt: dueAt.UTC()})
	slog.Info("trigger scheduled", "task_id", taskId, "due_at", dueAt.UTC())
	return nil
}

// Start loads unfired triggers from the store and runs the timer loop and
// worker pool until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	triggers, err := s.store.PendingTriggers(ctx)
	if err != nil {
		return fmt.Errorf("scheduler recovery scan failed: %w", err)
	}

	s.mu.Lock()
	for _, trigger := range triggers {
		heap.Push(&s.pending, triggerEntry{taskId: trigger.TaskId, dueAt: trigger.DueAt})
	}
	s.mu.Unlock()

	if len(triggers) > 0 {
		slog.Info("recovered pending triggers", "count", len(triggers))
	}

	s.wg.Add(s.workers)
	for i := 0; i < s.workers; i++ {
		go s.runWorker(ctx, i)
	}

	s.wg.Add(1)
	go s.runTimer(ctx)

	return nil
}

// Stop rejects further triggers and waits for the timer loop and all
// in-flight executions to finish. The context passed to Start must already
// be cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) push(entry triggerEntry) {
	s.mu.Lock()
	heap.Push(&s.pending, entry)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) runTimer(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.taskCh)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		due, wait := s.nextDue()

		if due != nil {
			select {
			case s.taskCh <- due.taskId:
				continue
			case <-ctx.Done():
				return
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// nextDue pops the next trigger if it is due now, otherwise reports how long
// to sleep until something could become due.
func (s *Scheduler) nextDue() (*triggerEntry, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil, time.Hour
	}

	now := time.Now().UTC()
	next := s.pending[0]
	if next.dueAt.After(now) {
		return nil, next.dueAt.Sub(now)
	}

	heap.Pop(&s.pending)
	return &next, 0
}

func (s *Scheduler) runWorker(ctx context.Context, id int) {
	defer s.wg.Done()

	// The trigger row is consumed before Execute starts, so an execution
	// interrupted by the shutdown cancellation would strand its task in a
	// non-terminal state with nothing left to retry it after restart.
	// Executions already handed to a worker run on an uncancellable context
	// and Stop waits for them through the WaitGroup.
	execCtx := context.WithoutCancel(ctx)
	for taskId := range s.taskCh {
		s.fire(execCtx, taskId)
	}

	slog.Debug("scheduler worker stopped", "worker", id)
}

// fire consumes the durable trigger and runs the execution. The trigger row
// is flipped first so a crash mid-execution cannot cause a duplicate firing
// after restart; the keyed lock additionally drops a second firing that
// races an in-flight execution of the same task.
func (s *Scheduler) fire(ctx context.Context, taskId uint) {
	won, err := s.store.MarkTriggerFired(ctx, taskId)
	if err != nil {
		slog.Error("could not mark trigger fired", "task_id", taskId, "error", err)
		return
	}
	if !won {
		slog.Warn("trigger already consumed, dropping firing", "task_id", taskId)
		return
	}

	key := fmt.Sprintf("task-%d", taskId)
	if !s.inflight.TryLock(key) {
		slog.Warn("execution already in flight, dropping firing", "task_id", taskId)
		return
	}
	defer s.inflight.Unlock(key)

	slog.Info("firing print task", "task_id", taskId)
	s.executor.Execute(ctx, taskId)
}
