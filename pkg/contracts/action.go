// Package contracts defines the shared domain types for the autonomy core:
// the action request being gated, the per-user brake record, the persisted
// approval item, and the status events published on brake transitions.
package contracts

import "time"

// Classification says whether an action only reads on the user's behalf or
// produces an externally visible side effect. It is supplied explicitly by
// the caller (via the action registry) and never inferred from action names.
type Classification string

const (
	ClassificationRead  Classification = "read"
	ClassificationWrite Classification = "write"
)

// Valid reports whether c is one of the two known classifications.
func (c Classification) Valid() bool {
	return c == ClassificationRead || c == ClassificationWrite
}

// ActionRequest is the unit of work being gated: one agent action requested
// on behalf of one user. It is immutable once created; the gate consumes it
// exactly once and never mutates it.
type ActionRequest struct {
	UserID         string         `json:"user_id"`
	AgentType      string         `json:"agent_type"`
	ActionName     string         `json:"action_name"`
	Classification Classification `json:"classification"`
	Payload        map[string]any `json:"payload,omitempty"`

	// Rationale and Confidence travel with the request so that a queued
	// action carries the agent's own justification to the human reviewer.
	Rationale  string  `json:"rationale,omitempty"`
	Confidence float64 `json:"confidence,omitempty"` // 0..1
}

// StatusEvent is the payload published on the per-user status topic when
// the brake transitions. Consumers (UI, notification fan-out) treat it as
// informational; delivery is best-effort.
type StatusEvent struct {
	Type      string     `json:"type"` // "brake.activated" | "brake.resumed"
	State     BrakeState `json:"state"`
	UserID    string     `json:"user_id"`
	Timestamp time.Time  `json:"timestamp"`
}

// Event type values for StatusEvent.Type.
const (
	EventBrakeActivated = "brake.activated"
	EventBrakeResumed   = "brake.resumed"
)

// StatusTopic returns the per-user notification topic for brake events.
func StatusTopic(userID string) string {
	return "agent:status:" + userID
}
