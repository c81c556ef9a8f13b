// Package approval persists gated WRITE actions while they await a human
// decision, and forwards approved actions to the execution dispatcher.
// The queue is the only writer of an item's status, and exactly one
// decision (approve, reject, or expiry) can ever apply to an item.
package approval

import (
	"context"
	"errors"
	"time"

	"github.com/adithya0597/reins/pkg/contracts"
)

var (
	// ErrNotFound means the item id is unknown or owned by another user.
	ErrNotFound = errors.New("approval item not found")
	// ErrConflict means the item already left PENDING; the caller should
	// refresh its view rather than retry.
	ErrConflict = errors.New("approval item already decided")
)

// Store is the persistence contract for approval items. Decide and the
// bulk status moves must be atomic conditional updates (check status, then
// set) so concurrent decisions cannot both succeed.
type Store interface {
	Insert(ctx context.Context, item contracts.ApprovalItem) error
	Get(ctx context.Context, id string) (*contracts.ApprovalItem, error)

	// List returns a user's items most-recent-first plus the total count
	// matching the filter (for pagination).
	List(ctx context.Context, userID string, pendingOnly bool, offset, limit int) ([]contracts.ApprovalItem, int, error)
	CountPending(ctx context.Context, userID string) (int, error)

	// Decide moves a PENDING item owned by userID to the given terminal
	// status. Returns ErrConflict when the item is no longer PENDING and
	// ErrNotFound for an unknown id or wrong owner.
	Decide(ctx context.Context, id, userID string, to contracts.ApprovalStatus, decidedAt time.Time, reason string) (*contracts.ApprovalItem, error)

	// ExpirePending moves PENDING items past their deadline to EXPIRED.
	ExpirePending(ctx context.Context, now time.Time) (int, error)

	// MoveUserStatus shifts all of a user's items from one status to
	// another (brake sweep: pending→paused, resume: paused→pending).
	MoveUserStatus(ctx context.Context, userID string, from, to contracts.ApprovalStatus) (int, error)
}
