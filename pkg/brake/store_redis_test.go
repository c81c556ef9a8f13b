package brake

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adithya0597/reins/pkg/contracts"
)

// TestRedisFlagStore_Integration requires a running Redis; it skips when
// no server answers on the default port.
func TestRedisFlagStore_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("skipping Redis integration test: redis not available")
	}
	t.Cleanup(func() {
		client.Del(ctx, flagKeyPrefix+"it-user", recordKeyPrefix+"it-user")
		_ = client.Close()
	})

	store := NewRedisFlagStore(client)

	exists, err := store.FlagExists(ctx, "it-user")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("flag should not exist before set")
	}

	if err := store.SetFlag(ctx, "it-user"); err != nil {
		t.Fatal(err)
	}
	exists, err = store.FlagExists(ctx, "it-user")
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Error("flag should exist after set")
	}

	activated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := contracts.BrakeRecord{
		UserID:           "it-user",
		State:            contracts.BrakePartial,
		ActivatedAt:      &activated,
		PausedTasksCount: 2,
	}
	if err := store.PutRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetRecord(ctx, "it-user")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected record")
	}
	if got.State != contracts.BrakePartial || got.PausedTasksCount != 2 {
		t.Errorf("record round trip: %+v", got)
	}
	if got.ActivatedAt == nil || !got.ActivatedAt.Equal(activated) {
		t.Errorf("activated_at round trip: %v", got.ActivatedAt)
	}

	if err := store.ClearFlag(ctx, "it-user"); err != nil {
		t.Fatal(err)
	}
	exists, err = store.FlagExists(ctx, "it-user")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("flag should be gone after clear")
	}
}

func TestMemoryFlagStoreMissingRecord(t *testing.T) {
	store := NewMemoryFlagStore()
	rec, err := store.GetRecord(context.Background(), "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Error("missing record should read back as nil")
	}
}
