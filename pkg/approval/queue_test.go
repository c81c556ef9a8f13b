package approval

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adithya0597/reins/pkg/contracts"
	"github.com/adithya0597/reins/pkg/dispatch"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type dispatchCall struct {
	Action  string
	UserID  string
	Payload map[string]any
}

// recordingDispatcher captures forwarded actions; err makes Dispatch fail.
type recordingDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
	err   error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, actionName, userID string, payload map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.calls = append(d.calls, dispatchCall{Action: actionName, UserID: userID, Payload: payload})
	return nil
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// A second connection to :memory: would open a different database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	return store
}

func newTestQueue(t *testing.T, dispatcher dispatch.Dispatcher, opts ...Option) *Queue {
	t.Helper()
	base := []Option{WithClock(fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)})}
	return NewQueue(newTestStore(t), dispatcher, append(base, opts...)...)
}

func applyRequest(userID string) contracts.ActionRequest {
	return contracts.ActionRequest{
		UserID:         userID,
		AgentType:      "application",
		ActionName:     "apply",
		Classification: contracts.ClassificationWrite,
		Payload:        map[string]any{"job_id": "j1"},
		Rationale:      "strong match on required skills",
		Confidence:     0.87,
	}
}

func TestEnqueueAndCount(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, nil)

	itemID, err := q.Enqueue(ctx, applyRequest("u1"))
	require.NoError(t, err)
	require.NotEmpty(t, itemID)

	n, err := q.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = q.Count(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 0, n, "counts are per-user")
}

func TestApproveDispatchesAction(t *testing.T) {
	ctx := context.Background()
	dispatcher := &recordingDispatcher{}
	q := newTestQueue(t, dispatcher)

	itemID, err := q.Enqueue(ctx, applyRequest("u1"))
	require.NoError(t, err)

	item, err := q.Approve(ctx, itemID, "u1")
	require.NoError(t, err)
	assert.Equal(t, contracts.ApprovalApproved, item.Status)
	require.NotNil(t, item.DecidedAt)

	require.Len(t, dispatcher.calls, 1)
	call := dispatcher.calls[0]
	assert.Equal(t, "apply", call.Action)
	assert.Equal(t, "u1", call.UserID)
	assert.Equal(t, "j1", call.Payload["job_id"])
}

func TestApproveSurvivesDispatchFailure(t *testing.T) {
	ctx := context.Background()
	dispatcher := &recordingDispatcher{err: errors.New("pool unreachable")}
	q := newTestQueue(t, dispatcher)

	itemID, err := q.Enqueue(ctx, applyRequest("u1"))
	require.NoError(t, err)

	item, err := q.Approve(ctx, itemID, "u1")
	require.NoError(t, err, "dispatch failure must not fail the approval")
	assert.Equal(t, contracts.ApprovalApproved, item.Status)
}

func TestApproveWithoutDispatcher(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, nil)

	itemID, err := q.Enqueue(ctx, applyRequest("u1"))
	require.NoError(t, err)

	item, err := q.Approve(ctx, itemID, "u1")
	require.NoError(t, err, "approval must succeed with no dispatcher wired")
	assert.Equal(t, contracts.ApprovalApproved, item.Status)
}

func TestSecondDecisionConflicts(t *testing.T) {
	ctx := context.Background()
	dispatcher := &recordingDispatcher{}
	q := newTestQueue(t, dispatcher)

	itemID, err := q.Enqueue(ctx, applyRequest("u1"))
	require.NoError(t, err)

	_, err = q.Approve(ctx, itemID, "u1")
	require.NoError(t, err)

	_, err = q.Approve(ctx, itemID, "u1")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = q.Reject(ctx, itemID, "u1", "changed my mind")
	assert.ErrorIs(t, err, ErrConflict)

	assert.Len(t, dispatcher.calls, 1, "only the winning decision dispatches")
}

func TestConcurrentApproveExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, &recordingDispatcher{})

	itemID, err := q.Enqueue(ctx, applyRequest("u1"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = q.Approve(ctx, itemID, "u1")
		}(i)
	}
	wg.Wait()

	var ok, conflict int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrConflict):
			conflict++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok, "exactly one approval must succeed")
	assert.Equal(t, 1, conflict, "the loser must see a conflict")
}

func TestRejectRecordsReason(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, nil)

	itemID, err := q.Enqueue(ctx, applyRequest("u1"))
	require.NoError(t, err)

	item, err := q.Reject(ctx, itemID, "u1", "not this company")
	require.NoError(t, err)
	assert.Equal(t, contracts.ApprovalRejected, item.Status)
	assert.Equal(t, "not this company", item.DecisionReason)
	require.NotNil(t, item.DecidedAt)
}

func TestDecideUnknownOrForeignItemIsNotFound(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, nil)

	_, err := q.Approve(ctx, "no-such-id", "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	itemID, err := q.Enqueue(ctx, applyRequest("u1"))
	require.NoError(t, err)

	// Another user cannot decide u1's item.
	_, err = q.Approve(ctx, itemID, "intruder")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := q.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "foreign decision attempts must not consume the item")
}

func TestBatchApproveIndependentOutcomes(t *testing.T) {
	ctx := context.Background()
	dispatcher := &recordingDispatcher{}
	q := newTestQueue(t, dispatcher)

	id1, err := q.Enqueue(ctx, applyRequest("u1"))
	require.NoError(t, err)
	id2, err := q.Enqueue(ctx, applyRequest("u1"))
	require.NoError(t, err)

	// id2 is already rejected; the batch must still approve id1 and id3.
	_, err = q.Reject(ctx, id2, "u1", "no")
	require.NoError(t, err)

	id3, err := q.Enqueue(ctx, applyRequest("u1"))
	require.NoError(t, err)

	result := q.BatchApprove(ctx, []string{id1, id2, "missing", id3}, "u1")
	assert.Equal(t, 2, result.ApprovedCount)
	assert.Equal(t, 2, result.FailedCount)
	require.Len(t, result.Details, 4)
	assert.True(t, result.Details[0].OK)
	assert.False(t, result.Details[1].OK)
	assert.False(t, result.Details[2].OK)
	assert.True(t, result.Details[3].OK)
	assert.Len(t, dispatcher.calls, 2)
}

func TestListMostRecentFirstPaginated(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ids := []string{"a", "b", "c"}
	for i, id := range ids {
		item := contracts.ApprovalItem{
			ID:         id,
			UserID:     "u1",
			ActionName: "apply",
			Status:     contracts.ApprovalPending,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
			ExpiresAt:  base.Add(48 * time.Hour),
		}
		require.NoError(t, store.Insert(ctx, item))
	}

	q := NewQueue(store, nil)
	items, total, err := q.List(ctx, "u1", true, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 2)
	assert.Equal(t, "c", items[0].ID, "most recent first")
	assert.Equal(t, "b", items[1].ID)

	items, total, err = q.List(ctx, "u1", true, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].ID)
}

func TestExpireSweep(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	overdue := contracts.ApprovalItem{
		ID: "old", UserID: "u1", ActionName: "apply",
		Status:    contracts.ApprovalPending,
		CreatedAt: now.Add(-72 * time.Hour),
		ExpiresAt: now.Add(-24 * time.Hour),
	}
	fresh := contracts.ApprovalItem{
		ID: "new", UserID: "u1", ActionName: "apply",
		Status:    contracts.ApprovalPending,
		CreatedAt: now.Add(-time.Hour),
		ExpiresAt: now.Add(47 * time.Hour),
	}
	require.NoError(t, store.Insert(ctx, overdue))
	require.NoError(t, store.Insert(ctx, fresh))

	q := NewQueue(store, nil, WithClock(fixedClock{t: now}))
	n, err := q.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, contracts.ApprovalExpired, got.Status)

	got, err = store.Get(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, contracts.ApprovalPending, got.Status)
}

func TestPauseResumeRoundTripPreservesItem(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, nil)

	itemID, err := q.Enqueue(ctx, applyRequest("u1"))
	require.NoError(t, err)

	n, err := q.PauseAll(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := q.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, count, "paused items are not pending")

	n, err = q.ResumeAll(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	item, err := q.store.Get(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, contracts.ApprovalPending, item.Status)
	assert.Equal(t, "strong match on required skills", item.Rationale)
	assert.Equal(t, 0.87, item.Confidence)
	assert.Equal(t, "j1", item.Payload["job_id"])
}

func TestPausedItemCannotBeDecided(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, nil)

	itemID, err := q.Enqueue(ctx, applyRequest("u1"))
	require.NoError(t, err)

	_, err = q.PauseAll(ctx, "u1")
	require.NoError(t, err)

	_, err = q.Approve(ctx, itemID, "u1")
	assert.ErrorIs(t, err, ErrConflict, "a paused item is not decidable until resumed")
}
