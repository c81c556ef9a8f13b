package contracts

import "time"

// ApprovalStatus is the lifecycle of a queued action. An item leaves
// PENDING exactly once, by a human decision or the expiry sweep, except
// for the brake sweep, which may park it in PAUSED and later restore it.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
	ApprovalPaused   ApprovalStatus = "paused"
)

// ApprovalItem is a gated WRITE action persisted for human review. The
// queue is the only writer of Status; everything else is immutable after
// enqueue.
type ApprovalItem struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	AgentType  string         `json:"agent_type"`
	ActionName string         `json:"action_name"`
	Payload    map[string]any `json:"payload,omitempty"`
	Rationale  string         `json:"rationale,omitempty"`
	Confidence float64        `json:"confidence"` // 0..1

	Status         ApprovalStatus `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
	DecidedAt      *time.Time     `json:"decided_at,omitempty"`
	DecisionReason string         `json:"decision_reason,omitempty"`
}

// Decided reports whether a terminal decision has been applied.
func (i *ApprovalItem) Decided() bool {
	return i.Status == ApprovalApproved || i.Status == ApprovalRejected || i.Status == ApprovalExpired
}
