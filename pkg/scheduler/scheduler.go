// Package scheduler runs periodic and delayed callbacks behind cancellable tasks.
package scheduler

import (
	"context"
	"sync"
	"time"
)

// Task is a handle on a scheduled callback. Stop is idempotent and waits for an
// in-flight run to return, so nothing fires after Stop returns. A callback that
// wants to end its own task must use Cancel, since Stop would wait on itself.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (t *Task) Stop() {
	if t == nil {
		return
	}
	t.Cancel()
	<-t.done
}

// Cancel requests the task to end without waiting.
func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.once.Do(t.cancel)
}

// Done is closed once the task has finished for good.
func (t *Task) Done() <-chan struct{} { return t.done }

// Scheduler owns the tasks it started so they can all be stopped at shutdown.
type Scheduler struct {
	mu    sync.Mutex
	tasks map[*Task]struct{}
	ctx   context.Context
	stop  context.CancelFunc
}

func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{tasks: make(map[*Task]struct{}), ctx: ctx, stop: cancel}
}

// Every runs fn immediately and then every interval until the task is stopped.
func (s *Scheduler) Every(interval time.Duration, fn func(ctx context.Context)) *Task {
	return s.spawn(func(ctx context.Context) {
		fn(ctx)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				fn(ctx)
			}
		}
	})
}

// After runs fn once after d unless the task is stopped first.
func (s *Scheduler) After(d time.Duration, fn func(ctx context.Context)) *Task {
	return s.spawn(func(ctx context.Context) {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			fn(ctx)
		}
	})
}

// Go runs fn once in the background, bound to the task's context.
func (s *Scheduler) Go(fn func(ctx context.Context)) *Task {
	return s.spawn(fn)
}

func (s *Scheduler) spawn(run func(ctx context.Context)) *Task {
	ctx, cancel := context.WithCancel(s.ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.tasks[t] = struct{}{}
	s.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.tasks, t)
			s.mu.Unlock()
			close(t.done)
		}()
		run(ctx)
	}()
	return t
}

// Len returns the number of live tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Shutdown cancels every task and waits for them to finish.
func (s *Scheduler) Shutdown() {
	s.stop()
	s.mu.Lock()
	tasks := make([]*Task, 0, len(s.tasks))
	for t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()
	for _, t := range tasks {
		<-t.done
	}
}
