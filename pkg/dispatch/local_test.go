package dispatch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestLocalPoolRunsHandler(t *testing.T) {
	var calls atomic.Int32
	done := make(chan struct{})
	pool := NewLocalPool(2, func(ctx context.Context, actionName, userID string, payload map[string]any) error {
		if actionName != "apply" || userID != "u1" || payload["job_id"] != "j1" {
			t.Errorf("handler got (%s, %s, %v)", actionName, userID, payload)
		}
		calls.Add(1)
		close(done)
		return nil
	})
	defer pool.Close()

	if err := pool.Dispatch(context.Background(), "apply", "u1", map[string]any{"job_id": "j1"}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times", calls.Load())
	}
}

func TestLocalPoolListsActiveTasks(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	pool := NewLocalPool(2, func(ctx context.Context, actionName, userID string, payload map[string]any) error {
		close(started)
		<-release
		return nil
	})
	defer pool.Close()

	if err := pool.Dispatch(context.Background(), "apply", "u3", nil); err != nil {
		t.Fatal(err)
	}
	<-started

	tasks, err := pool.ListActiveTasks(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("active tasks = %d, want 1", len(tasks))
	}
	if !tasks[0].ForUser("u3") {
		t.Errorf("task args = %v, want first arg u3", tasks[0].Args)
	}
	if tasks[0].ForUser("u4") {
		t.Error("task must not match a different user")
	}

	close(release)
	pool.Close()

	tasks, err = pool.ListActiveTasks(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 0 {
		t.Errorf("active tasks after close = %d, want 0", len(tasks))
	}
}

func TestLocalPoolRejectsAfterClose(t *testing.T) {
	pool := NewLocalPool(1, func(ctx context.Context, actionName, userID string, payload map[string]any) error {
		return nil
	})
	pool.Close()
	if err := pool.Dispatch(context.Background(), "apply", "u1", nil); err == nil {
		t.Error("expected error dispatching to a closed pool")
	}
}

func TestForUserEmptyArgs(t *testing.T) {
	if (ActiveTask{}).ForUser("u1") {
		t.Error("task with no args belongs to no user")
	}
}
