// Package brake implements the per-user emergency brake: a distributed
// flag checked on every agent step, plus a five-state machine
// (RUNNING, PAUSING, PAUSED, PARTIAL, RESUMING) that tracks whether the
// halt has actually taken effect. The brake is cooperative: it prevents
// new side-effecting steps from starting; it never kills a running task.
package brake

import (
	"context"

	"github.com/adithya0597/reins/pkg/contracts"
)

// FlagStore is the shared low-latency store behind the brake. FlagExists
// sits on the hot path of every agent step and must be O(1); the record
// operations are only touched by state transitions.
//
// Transitions are single-writer per user (activate/verify/resume are the
// only writers), so the store needs no compare-and-set semantics.
type FlagStore interface {
	// SetFlag raises the brake flag for a user. Idempotent.
	SetFlag(ctx context.Context, userID string) error
	// ClearFlag lowers the flag. Idempotent.
	ClearFlag(ctx context.Context, userID string) error
	// FlagExists is the hot-path existence check.
	FlagExists(ctx context.Context, userID string) (bool, error)

	// GetRecord returns the user's brake record, or nil when none exists.
	GetRecord(ctx context.Context, userID string) (*contracts.BrakeRecord, error)
	// PutRecord upserts the user's brake record.
	PutRecord(ctx context.Context, rec contracts.BrakeRecord) error
}
