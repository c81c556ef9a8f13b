package contracts

import "time"

// BrakeState is the five-state brake machine. RUNNING is both the initial
// state and the state reported when no record exists for a user.
type BrakeState string

const (
	BrakeRunning  BrakeState = "running"
	BrakePausing  BrakeState = "pausing"
	BrakePaused   BrakeState = "paused"
	BrakePartial  BrakeState = "partial"
	BrakeResuming BrakeState = "resuming"
)

// BrakeRecord is the per-user brake state persisted in the shared flag
// store. Records are created implicitly on first activation and never
// deleted; an absent record reads back as the zero RUNNING record.
type BrakeRecord struct {
	UserID           string     `json:"user_id"`
	State            BrakeState `json:"state"`
	ActivatedAt      *time.Time `json:"activated_at,omitempty"`
	PausedTasksCount int        `json:"paused_tasks_count"`
}

// DefaultBrakeRecord is what GetState reports for a user with no record.
func DefaultBrakeRecord(userID string) BrakeRecord {
	return BrakeRecord{UserID: userID, State: BrakeRunning}
}
