package brake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/adithya0597/reins/pkg/contracts"
	"github.com/adithya0597/reins/pkg/dispatch"
	"github.com/adithya0597/reins/pkg/events"
)

// ErrBrakeActive is the hard stop every gated action fails with while a
// user's brake is raised. It is a safety signal and must never be
// swallowed or retried automatically.
var ErrBrakeActive = errors.New("brake active")

// DefaultGracePeriod is how long activation waits before verifying that
// in-flight work has drained. End-to-end the brake must take effect within
// 30 seconds.
const DefaultGracePeriod = 30 * time.Second

// Clock provides time to the controller. Tests inject a fixed clock.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// ApprovalPauser parks and restores a user's pending approval items around
// a brake pause. Implemented by the approval queue.
type ApprovalPauser interface {
	// PauseAll moves the user's PENDING items to PAUSED, returning how many.
	PauseAll(ctx context.Context, userID string) (int, error)
	// ResumeAll moves PAUSED items back to PENDING, returning how many.
	ResumeAll(ctx context.Context, userID string) (int, error)
}

// Controller is the brake state machine over a shared flag store.
//
// Transition writers are activate, verifyCompletion, and resume only; the
// hot path (IsActive) is read-only. The machine is cyclic:
//
//	RUNNING → PAUSING → PAUSED|PARTIAL → RESUMING → RUNNING
type Controller struct {
	store     FlagStore
	pool      dispatch.WorkerPool
	approvals ApprovalPauser
	publisher events.Publisher
	logger    *slog.Logger
	clock     Clock

	gracePeriod time.Duration
	autoVerify  bool

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool

	transitions metric.Int64Counter // optional
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the clock for deterministic testing.
func WithClock(c Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithGracePeriod sets how long Activate waits before scheduling
// VerifyCompletion. Zero disables auto-verification; the operator (or a
// daemon timer) must call VerifyCompletion itself.
func WithGracePeriod(d time.Duration) Option {
	return func(ctl *Controller) {
		ctl.gracePeriod = d
		ctl.autoVerify = d > 0
	}
}

// WithMeter wires a transition counter onto the given meter. Metric errors
// are logged, never fatal.
func WithMeter(m metric.Meter) Option {
	return func(ctl *Controller) {
		counter, err := m.Int64Counter("reins.brake.transitions",
			metric.WithDescription("Brake state transitions by resulting state"),
			metric.WithUnit("{transition}"),
		)
		if err != nil {
			ctl.logger.Warn("brake transition counter unavailable", "error", err)
			return
		}
		ctl.transitions = counter
	}
}

// NewController creates a brake controller. pool may be nil only when
// VerifyCompletion is never used (pure gating deployments); approvals and
// publisher may be nil and default to no-ops.
func NewController(store FlagStore, pool dispatch.WorkerPool, approvals ApprovalPauser, publisher events.Publisher, opts ...Option) *Controller {
	ctl := &Controller{
		store:       store,
		pool:        pool,
		approvals:   approvals,
		publisher:   publisher,
		logger:      slog.Default().With("component", "brake"),
		clock:       wallClock{},
		gracePeriod: 0,
		timers:      make(map[*time.Timer]struct{}),
	}
	if ctl.publisher == nil {
		ctl.publisher = events.NoopPublisher{}
	}
	for _, opt := range opts {
		opt(ctl)
	}
	return ctl
}

// Activate raises the brake for a user and moves the machine to PAUSING.
// Idempotent: activating an already-raised brake refreshes the flag and
// leaves the existing record alone.
func (ctl *Controller) Activate(ctx context.Context, userID string) error {
	if err := ctl.store.SetFlag(ctx, userID); err != nil {
		return fmt.Errorf("brake activate: %w", err)
	}

	rec, err := ctl.store.GetRecord(ctx, userID)
	if err != nil {
		return fmt.Errorf("brake activate: %w", err)
	}
	if rec != nil && rec.State != contracts.BrakeRunning {
		// Already mid-pause (or paused); the flag refresh above is all
		// a repeated activation does.
		ctl.logger.InfoContext(ctx, "brake already active", "user_id", userID, "state", rec.State)
		return nil
	}

	now := ctl.clock.Now()
	next := contracts.BrakeRecord{
		UserID:      userID,
		State:       contracts.BrakePausing,
		ActivatedAt: &now,
	}
	if err := ctl.store.PutRecord(ctx, next); err != nil {
		return fmt.Errorf("brake activate: %w", err)
	}
	ctl.recordTransition(ctx, contracts.BrakePausing)
	ctl.logger.InfoContext(ctx, "brake activated", "user_id", userID)
	ctl.publish(ctx, userID, contracts.EventBrakeActivated, contracts.BrakePausing)

	if ctl.autoVerify {
		ctl.scheduleVerify(userID)
	}
	return nil
}

// scheduleVerify arms a one-shot verification after the grace period. The
// timer is tracked so Close can stop verifications that have not fired.
func (ctl *Controller) scheduleVerify(userID string) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.closed {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(ctl.gracePeriod, func() {
		ctl.mu.Lock()
		delete(ctl.timers, timer)
		closed := ctl.closed
		ctl.mu.Unlock()
		if closed {
			return
		}
		if err := ctl.VerifyCompletion(context.Background(), userID); err != nil {
			ctl.logger.Error("brake verification failed", "user_id", userID, "error", err)
		}
	})
	ctl.timers[timer] = struct{}{}
}

// Close stops scheduled verifications. Raised flags and persisted records
// are untouched; a restarted process sees them and can verify again.
func (ctl *Controller) Close() {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	ctl.closed = true
	for timer := range ctl.timers {
		timer.Stop()
	}
	ctl.timers = make(map[*time.Timer]struct{})
}

// IsActive is the hot-path check placed before every side-effecting agent
// step. It does one existence lookup and nothing else.
func (ctl *Controller) IsActive(ctx context.Context, userID string) (bool, error) {
	return ctl.store.FlagExists(ctx, userID)
}

// VerifyCompletion inspects the worker pool after the grace period and
// settles PAUSING into PAUSED (nothing of the user's still running) or
// PARTIAL (stragglers observed; cancellation is cooperative so they are
// left to finish). A brake resumed before verification runs makes this a
// no-op.
func (ctl *Controller) VerifyCompletion(ctx context.Context, userID string) error {
	active, err := ctl.store.FlagExists(ctx, userID)
	if err != nil {
		return fmt.Errorf("brake verify: %w", err)
	}
	if !active {
		ctl.logger.InfoContext(ctx, "brake cleared before verification", "user_id", userID)
		return nil
	}

	rec, err := ctl.store.GetRecord(ctx, userID)
	if err != nil {
		return fmt.Errorf("brake verify: %w", err)
	}
	if rec == nil {
		rec = &contracts.BrakeRecord{UserID: userID, State: contracts.BrakePausing}
	}

	stragglers := 0
	if ctl.pool != nil {
		tasks, err := ctl.pool.ListActiveTasks(ctx)
		if err != nil {
			// Introspection failure: classify conservatively as PARTIAL
			// rather than claim a clean pause we could not verify.
			ctl.logger.WarnContext(ctx, "worker pool introspection failed; classifying as partial",
				"user_id", userID, "error", err)
			stragglers = -1
		} else {
			for _, t := range tasks {
				if t.ForUser(userID) {
					stragglers++
				}
			}
		}
	}

	if stragglers == 0 {
		rec.State = contracts.BrakePaused
		rec.PausedTasksCount = 0
		if err := ctl.store.PutRecord(ctx, *rec); err != nil {
			return fmt.Errorf("brake verify: %w", err)
		}
		ctl.recordTransition(ctx, contracts.BrakePaused)
		if ctl.approvals != nil {
			n, err := ctl.approvals.PauseAll(ctx, userID)
			if err != nil {
				ctl.logger.ErrorContext(ctx, "pausing approval items failed", "user_id", userID, "error", err)
			} else if n > 0 {
				ctl.logger.InfoContext(ctx, "approval items paused", "user_id", userID, "count", n)
			}
		}
		ctl.logger.InfoContext(ctx, "brake pause verified", "user_id", userID)
		return nil
	}

	count := stragglers
	if count < 0 {
		count = 0
	}
	rec.State = contracts.BrakePartial
	rec.PausedTasksCount = count
	if err := ctl.store.PutRecord(ctx, *rec); err != nil {
		return fmt.Errorf("brake verify: %w", err)
	}
	ctl.recordTransition(ctx, contracts.BrakePartial)
	ctl.logger.WarnContext(ctx, "brake pause partial; tasks still running",
		"user_id", userID, "count", count)
	return nil
}

// Resume lowers the brake, restores paused approval items, and returns the
// machine to RUNNING via RESUMING.
func (ctl *Controller) Resume(ctx context.Context, userID string) error {
	if err := ctl.store.ClearFlag(ctx, userID); err != nil {
		return fmt.Errorf("brake resume: %w", err)
	}

	rec, err := ctl.store.GetRecord(ctx, userID)
	if err != nil {
		return fmt.Errorf("brake resume: %w", err)
	}
	if rec == nil {
		rec = &contracts.BrakeRecord{UserID: userID}
	}

	rec.State = contracts.BrakeResuming
	if err := ctl.store.PutRecord(ctx, *rec); err != nil {
		return fmt.Errorf("brake resume: %w", err)
	}
	ctl.recordTransition(ctx, contracts.BrakeResuming)

	if ctl.approvals != nil {
		n, err := ctl.approvals.ResumeAll(ctx, userID)
		if err != nil {
			ctl.logger.ErrorContext(ctx, "restoring approval items failed", "user_id", userID, "error", err)
		} else if n > 0 {
			ctl.logger.InfoContext(ctx, "approval items restored", "user_id", userID, "count", n)
		}
	}

	rec.State = contracts.BrakeRunning
	rec.ActivatedAt = nil
	rec.PausedTasksCount = 0
	if err := ctl.store.PutRecord(ctx, *rec); err != nil {
		return fmt.Errorf("brake resume: %w", err)
	}
	ctl.recordTransition(ctx, contracts.BrakeRunning)
	ctl.logger.InfoContext(ctx, "brake resumed", "user_id", userID)
	ctl.publish(ctx, userID, contracts.EventBrakeResumed, contracts.BrakeRunning)
	return nil
}

// GetState returns the user's brake record, defaulting to RUNNING when no
// record exists.
func (ctl *Controller) GetState(ctx context.Context, userID string) (contracts.BrakeRecord, error) {
	rec, err := ctl.store.GetRecord(ctx, userID)
	if err != nil {
		return contracts.BrakeRecord{}, fmt.Errorf("brake state: %w", err)
	}
	if rec == nil {
		return contracts.DefaultBrakeRecord(userID), nil
	}
	return *rec, nil
}

func (ctl *Controller) publish(ctx context.Context, userID, eventType string, state contracts.BrakeState) {
	event := contracts.StatusEvent{
		Type:      eventType,
		State:     state,
		UserID:    userID,
		Timestamp: ctl.clock.Now(),
	}
	if err := ctl.publisher.Publish(ctx, contracts.StatusTopic(userID), event); err != nil {
		// Notifications are best-effort; the transition has already landed.
		ctl.logger.WarnContext(ctx, "status publish failed",
			"user_id", userID, "event", eventType, "error", err)
	}
}

func (ctl *Controller) recordTransition(ctx context.Context, state contracts.BrakeState) {
	if ctl.transitions != nil {
		ctl.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", string(state))))
	}
}
