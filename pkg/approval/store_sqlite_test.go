package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adithya0597/reins/pkg/contracts"
)

func TestSQLiteGetNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteInsertGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	decided := created.Add(time.Hour)
	item := contracts.ApprovalItem{
		ID:             "item-1",
		UserID:         "u1",
		AgentType:      "outreach",
		ActionName:     "send_message",
		Payload:        map[string]any{"to": "recruiter@example.com", "attempt": float64(2)},
		Rationale:      "follow-up after interview",
		Confidence:     0.75,
		Status:         contracts.ApprovalRejected,
		CreatedAt:      created,
		ExpiresAt:      created.Add(48 * time.Hour),
		DecidedAt:      &decided,
		DecisionReason: "tone too aggressive",
	}
	require.NoError(t, store.Insert(ctx, item))

	got, err := store.Get(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, item.UserID, got.UserID)
	assert.Equal(t, item.AgentType, got.AgentType)
	assert.Equal(t, item.Status, got.Status)
	assert.Equal(t, item.Payload, got.Payload)
	assert.Equal(t, item.Rationale, got.Rationale)
	assert.Equal(t, item.Confidence, got.Confidence)
	assert.Equal(t, item.DecisionReason, got.DecisionReason)
	assert.True(t, got.CreatedAt.Equal(created))
	require.NotNil(t, got.DecidedAt)
	assert.True(t, got.DecidedAt.Equal(decided))
}

func TestSQLiteExpireLeavesDecidedItemsAlone(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	approvedLongAgo := contracts.ApprovalItem{
		ID: "done", UserID: "u1", ActionName: "apply",
		Status:    contracts.ApprovalApproved,
		CreatedAt: now.Add(-100 * time.Hour),
		ExpiresAt: now.Add(-50 * time.Hour),
	}
	require.NoError(t, store.Insert(ctx, approvedLongAgo))

	n, err := store.ExpirePending(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := store.Get(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, contracts.ApprovalApproved, got.Status, "expiry only touches pending items")
}
