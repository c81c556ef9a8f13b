package brake

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adithya0597/reins/pkg/contracts"
)

const (
	flagKeyPrefix   = "brake:flag:"
	recordKeyPrefix = "brake:state:"
)

// RedisFlagStore implements FlagStore on Redis. The flag is a plain string
// key so the hot-path check is a single EXISTS; the record is a hash keyed
// per user. Neither carries a TTL: a raised brake stays raised until an
// explicit resume, and stale records harmlessly read back as their last
// state (RUNNING after a completed resume).
type RedisFlagStore struct {
	client *redis.Client
}

// NewRedisFlagStore wraps an existing Redis client.
func NewRedisFlagStore(client *redis.Client) *RedisFlagStore {
	return &RedisFlagStore{client: client}
}

func (s *RedisFlagStore) SetFlag(ctx context.Context, userID string) error {
	if err := s.client.Set(ctx, flagKeyPrefix+userID, "1", 0).Err(); err != nil {
		return fmt.Errorf("setting brake flag for %s: %w", userID, err)
	}
	return nil
}

func (s *RedisFlagStore) ClearFlag(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, flagKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("clearing brake flag for %s: %w", userID, err)
	}
	return nil
}

func (s *RedisFlagStore) FlagExists(ctx context.Context, userID string) (bool, error) {
	n, err := s.client.Exists(ctx, flagKeyPrefix+userID).Result()
	if err != nil {
		return false, fmt.Errorf("checking brake flag for %s: %w", userID, err)
	}
	return n > 0, nil
}

func (s *RedisFlagStore) GetRecord(ctx context.Context, userID string) (*contracts.BrakeRecord, error) {
	fields, err := s.client.HGetAll(ctx, recordKeyPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("reading brake record for %s: %w", userID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	rec := contracts.BrakeRecord{
		UserID: userID,
		State:  contracts.BrakeState(fields["state"]),
	}
	if v := fields["activated_at"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("corrupt activated_at for %s: %w", userID, err)
		}
		rec.ActivatedAt = &t
	}
	if v := fields["paused_tasks_count"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("corrupt paused_tasks_count for %s: %w", userID, err)
		}
		rec.PausedTasksCount = n
	}
	return &rec, nil
}

func (s *RedisFlagStore) PutRecord(ctx context.Context, rec contracts.BrakeRecord) error {
	activatedAt := ""
	if rec.ActivatedAt != nil {
		activatedAt = rec.ActivatedAt.UTC().Format(time.RFC3339Nano)
	}
	err := s.client.HSet(ctx, recordKeyPrefix+rec.UserID,
		"state", string(rec.State),
		"activated_at", activatedAt,
		"paused_tasks_count", strconv.Itoa(rec.PausedTasksCount),
	).Err()
	if err != nil {
		return fmt.Errorf("writing brake record for %s: %w", rec.UserID, err)
	}
	return nil
}
