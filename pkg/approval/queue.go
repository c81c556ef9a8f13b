package approval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/adithya0597/reins/pkg/contracts"
	"github.com/adithya0597/reins/pkg/dispatch"
)

// DefaultTTL is the default approval window before an undecided item
// expires.
const DefaultTTL = 48 * time.Hour

// DefaultPageSize bounds List results when the caller passes no size.
const DefaultPageSize = 20

// Clock provides time to the queue. Tests inject a fixed clock.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Queue is the approval queue over a Store. Approve forwards the action to
// the dispatcher best-effort: once the decision has landed it is never
// rolled back, even if dispatch fails.
type Queue struct {
	store      Store
	dispatcher dispatch.Dispatcher
	logger     *slog.Logger
	clock      Clock
	ttl        time.Duration

	decisions metric.Int64Counter // optional
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the clock for deterministic testing.
func WithClock(c Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithTTL overrides the approval expiry window.
func WithTTL(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.ttl = d
		}
	}
}

// WithMeter wires a decision counter onto the given meter.
func WithMeter(m metric.Meter) Option {
	return func(q *Queue) {
		counter, err := m.Int64Counter("reins.approvals.decided",
			metric.WithDescription("Approval items decided, by outcome"),
			metric.WithUnit("{item}"),
		)
		if err != nil {
			q.logger.Warn("approval decision counter unavailable", "error", err)
			return
		}
		q.decisions = counter
	}
}

// NewQueue creates an approval queue. dispatcher may be nil when approved
// actions are forwarded out-of-band.
func NewQueue(store Store, dispatcher dispatch.Dispatcher, opts ...Option) *Queue {
	q := &Queue{
		store:      store,
		dispatcher: dispatcher,
		logger:     slog.Default().With("component", "approval"),
		clock:      wallClock{},
		ttl:        DefaultTTL,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue persists a PENDING item for the requested action and returns its
// id. The request's rationale and confidence are preserved verbatim for
// the reviewer.
func (q *Queue) Enqueue(ctx context.Context, req contracts.ActionRequest) (string, error) {
	now := q.clock.Now()
	item := contracts.ApprovalItem{
		ID:         uuid.New().String(),
		UserID:     req.UserID,
		AgentType:  req.AgentType,
		ActionName: req.ActionName,
		Payload:    req.Payload,
		Rationale:  req.Rationale,
		Confidence: req.Confidence,
		Status:     contracts.ApprovalPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(q.ttl),
	}
	if err := q.store.Insert(ctx, item); err != nil {
		return "", fmt.Errorf("enqueue %s for %s: %w", req.ActionName, req.UserID, err)
	}
	q.logger.InfoContext(ctx, "action queued for approval",
		"item_id", item.ID, "user_id", req.UserID, "action", req.ActionName)
	return item.ID, nil
}

// List returns a page of a user's items, most-recent-first, plus the total
// matching count. Pages are 1-based; pageSize <= 0 uses DefaultPageSize.
func (q *Queue) List(ctx context.Context, userID string, pendingOnly bool, page, pageSize int) ([]contracts.ApprovalItem, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return q.store.List(ctx, userID, pendingOnly, (page-1)*pageSize, pageSize)
}

// Count returns the user's PENDING item count (UI badges).
func (q *Queue) Count(ctx context.Context, userID string) (int, error) {
	return q.store.CountPending(ctx, userID)
}

// Approve applies the single allowed decision to a PENDING item and then
// forwards the action to the dispatcher. Dispatch failure is logged and
// not surfaced: the approval has already succeeded.
func (q *Queue) Approve(ctx context.Context, itemID, userID string) (*contracts.ApprovalItem, error) {
	item, err := q.store.Decide(ctx, itemID, userID, contracts.ApprovalApproved, q.clock.Now(), "")
	if err != nil {
		return nil, err
	}
	q.recordDecision(ctx, contracts.ApprovalApproved)
	q.logger.InfoContext(ctx, "approval granted",
		"item_id", itemID, "user_id", userID, "action", item.ActionName)

	if q.dispatcher != nil {
		if err := q.dispatcher.Dispatch(ctx, item.ActionName, item.UserID, item.Payload); err != nil {
			// The decision stands; the dispatch can be retried separately.
			q.logger.ErrorContext(ctx, "dispatch of approved action failed",
				"item_id", itemID, "user_id", userID, "action", item.ActionName, "error", err)
		}
	}
	return item, nil
}

// Reject applies the single allowed decision with a reason.
func (q *Queue) Reject(ctx context.Context, itemID, userID, reason string) (*contracts.ApprovalItem, error) {
	item, err := q.store.Decide(ctx, itemID, userID, contracts.ApprovalRejected, q.clock.Now(), reason)
	if err != nil {
		return nil, err
	}
	q.recordDecision(ctx, contracts.ApprovalRejected)
	q.logger.InfoContext(ctx, "approval rejected",
		"item_id", itemID, "user_id", userID, "action", item.ActionName, "reason", reason)
	return item, nil
}

// BatchOutcome is the per-item result of a batch approval.
type BatchOutcome struct {
	ItemID string `json:"item_id"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// BatchResult summarizes a BatchApprove call.
type BatchResult struct {
	ApprovedCount int            `json:"approved_count"`
	FailedCount   int            `json:"failed_count"`
	Details       []BatchOutcome `json:"details"`
}

// BatchApprove applies Approve to each id independently; one failure never
// aborts the rest.
func (q *Queue) BatchApprove(ctx context.Context, itemIDs []string, userID string) BatchResult {
	result := BatchResult{Details: make([]BatchOutcome, 0, len(itemIDs))}
	for _, id := range itemIDs {
		if _, err := q.Approve(ctx, id, userID); err != nil {
			result.FailedCount++
			result.Details = append(result.Details, BatchOutcome{ItemID: id, Error: err.Error()})
			continue
		}
		result.ApprovedCount++
		result.Details = append(result.Details, BatchOutcome{ItemID: id, OK: true})
	}
	return result
}

// ExpireSweep moves overdue PENDING items to EXPIRED and returns how many.
func (q *Queue) ExpireSweep(ctx context.Context) (int, error) {
	n, err := q.store.ExpirePending(ctx, q.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.recordDecisionN(ctx, contracts.ApprovalExpired, n)
		q.logger.InfoContext(ctx, "approval items expired", "count", n)
	}
	return n, nil
}

// RunSweeper runs ExpireSweep on the given interval until ctx is done.
func (q *Queue) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.ExpireSweep(ctx); err != nil {
				q.logger.ErrorContext(ctx, "expiry sweep failed", "error", err)
			}
		}
	}
}

// PauseAll implements the brake sweep: PENDING → PAUSED, reversible.
func (q *Queue) PauseAll(ctx context.Context, userID string) (int, error) {
	return q.store.MoveUserStatus(ctx, userID, contracts.ApprovalPending, contracts.ApprovalPaused)
}

// ResumeAll restores PAUSED items to PENDING after a brake resume.
func (q *Queue) ResumeAll(ctx context.Context, userID string) (int, error) {
	return q.store.MoveUserStatus(ctx, userID, contracts.ApprovalPaused, contracts.ApprovalPending)
}

func (q *Queue) recordDecision(ctx context.Context, outcome contracts.ApprovalStatus) {
	q.recordDecisionN(ctx, outcome, 1)
}

func (q *Queue) recordDecisionN(ctx context.Context, outcome contracts.ApprovalStatus, n int) {
	if q.decisions != nil {
		q.decisions.Add(ctx, int64(n), metric.WithAttributes(attribute.String("outcome", string(outcome))))
	}
}
