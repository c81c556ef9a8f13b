package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// TaskFunc is the body of a dispatched action. Cancellation is cooperative:
// the function should check ctx between side-effecting steps.
type TaskFunc func(ctx context.Context, actionName, userID string, payload map[string]any) error

// LocalPool is a bounded in-process worker pool implementing both
// Dispatcher and WorkerPool. Single-node deployments run on it directly;
// tests use it to observe active tasks. It never preempts a running task.
type LocalPool struct {
	handler TaskFunc
	logger  *slog.Logger
	sem     chan struct{}

	mu     sync.Mutex
	active map[string]ActiveTask
	wg     sync.WaitGroup
	closed bool
}

// NewLocalPool creates a pool running at most size tasks concurrently.
func NewLocalPool(size int, handler TaskFunc) *LocalPool {
	if size < 1 {
		size = 1
	}
	return &LocalPool{
		handler: handler,
		logger:  slog.Default().With("component", "dispatch"),
		sem:     make(chan struct{}, size),
		active:  make(map[string]ActiveTask),
	}
}

// Dispatch schedules the action asynchronously. It returns once a worker
// slot is reserved; the task itself runs in the background.
func (p *LocalPool) Dispatch(ctx context.Context, actionName, userID string, payload map[string]any) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("dispatch %s for %s: pool closed", actionName, userID)
	}
	p.wg.Add(1)
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		p.wg.Done()
		return fmt.Errorf("dispatch %s for %s: %w", actionName, userID, ctx.Err())
	}

	task := ActiveTask{
		WorkerID: "local",
		TaskID:   uuid.New().String(),
		Args:     []string{userID, actionName},
	}
	p.mu.Lock()
	p.active[task.TaskID] = task
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.active, task.TaskID)
			p.mu.Unlock()
			<-p.sem
			p.wg.Done()
		}()
		if err := p.handler(context.WithoutCancel(ctx), actionName, userID, payload); err != nil {
			p.logger.Error("task failed",
				"task_id", task.TaskID, "action", actionName, "user_id", userID, "error", err)
		}
	}()
	return nil
}

// ListActiveTasks returns a snapshot of currently-executing tasks.
func (p *LocalPool) ListActiveTasks(ctx context.Context) ([]ActiveTask, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tasks := make([]ActiveTask, 0, len(p.active))
	for _, t := range p.active {
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Close waits for in-flight tasks to finish and rejects new dispatches.
func (p *LocalPool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
