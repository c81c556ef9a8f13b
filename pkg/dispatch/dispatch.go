// Package dispatch defines the execution-side collaborator interfaces the
// autonomy core consumes: the dispatcher that schedules approved actions
// onto the worker pool, and the pool introspection used by brake
// verification. The core never executes business actions itself; it only
// gates and forwards them.
package dispatch

import "context"

// Dispatcher hands an approved action to the worker pool. Implementations
// may return an error; callers in the approval path log it and do not roll
// back the approval.
type Dispatcher interface {
	Dispatch(ctx context.Context, actionName, userID string, payload map[string]any) error
}

// ActiveTask is one currently-executing task as reported by the pool.
// Args[0] is by convention the user the task acts for.
type ActiveTask struct {
	WorkerID string   `json:"worker_id"`
	TaskID   string   `json:"task_id"`
	Args     []string `json:"args"`
}

// ForUser reports whether the task belongs to userID.
func (t ActiveTask) ForUser(userID string) bool {
	return len(t.Args) > 0 && t.Args[0] == userID
}

// WorkerPool exposes the active-task listing brake verification inspects.
// Crash recovery and re-delivery are the pool's problem, not the core's.
type WorkerPool interface {
	ListActiveTasks(ctx context.Context) ([]ActiveTask, error)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, actionName, userID string, payload map[string]any) error

func (f DispatcherFunc) Dispatch(ctx context.Context, actionName, userID string, payload map[string]any) error {
	return f(ctx, actionName, userID, payload)
}
