// Package gate decides whether a requested agent action runs immediately,
// runs as a labeled suggestion, queues for human approval, or is refused,
// based on the user's granted autonomy tier. The brake check always comes
// first: a braked user can never execute regardless of tier.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/adithya0597/reins/pkg/brake"
	"github.com/adithya0597/reins/pkg/contracts"
	"github.com/adithya0597/reins/pkg/tiers"
)

// ErrTierViolation marks a refusal caused by insufficient autonomy tier.
// Terminal: the caller must inform the user, never retry.
var ErrTierViolation = errors.New("autonomy tier too low")

// DecisionKind tags the gate's verdict. Callers must handle every kind.
type DecisionKind int

const (
	// Execute: run the action now.
	Execute DecisionKind = iota
	// ExecuteAsSuggestion: run the READ, but the caller must label the
	// result as a suggestion and never act on it automatically.
	ExecuteAsSuggestion
	// Queued: a PENDING approval item was created; ItemID identifies it.
	Queued
	// Refused: the action may not run; Reason says why and RequiredTier
	// names the tier that would have allowed it.
	Refused
)

// String implements fmt.Stringer for DecisionKind.
func (k DecisionKind) String() string {
	switch k {
	case Execute:
		return "execute"
	case ExecuteAsSuggestion:
		return "execute_as_suggestion"
	case Queued:
		return "queued"
	case Refused:
		return "refused"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Decision is the gate's verdict on one ActionRequest.
type Decision struct {
	Kind         DecisionKind
	ItemID       string     // set when Kind == Queued
	Reason       string     // set when Kind == Refused
	RequiredTier tiers.Tier // set when Kind == Refused for a tier violation
}

// Refusal converts a Refused decision into its terminal error, for callers
// that propagate errors rather than switch on kinds. Nil for any other
// kind.
func (d Decision) Refusal() error {
	if d.Kind != Refused {
		return nil
	}
	return fmt.Errorf("%w: %s (requires %s)", ErrTierViolation, d.Reason, d.RequiredTier)
}

// BrakeChecker is the hot-path brake lookup the gate consults first.
// Satisfied by *brake.Controller.
type BrakeChecker interface {
	IsActive(ctx context.Context, userID string) (bool, error)
}

// TierResolver looks up the user's granted autonomy tier (external
// user-preference service).
type TierResolver interface {
	ResolveTier(ctx context.Context, userID string) (tiers.Tier, error)
}

// TierResolverFunc adapts a function to TierResolver.
type TierResolverFunc func(ctx context.Context, userID string) (tiers.Tier, error)

func (f TierResolverFunc) ResolveTier(ctx context.Context, userID string) (tiers.Tier, error) {
	return f(ctx, userID)
}

// Enqueuer persists a gated WRITE for human approval. Satisfied by
// *approval.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, req contracts.ActionRequest) (string, error)
}

// Gate is the tiered-autonomy gate.
type Gate struct {
	brakes   BrakeChecker
	resolver TierResolver
	queue    Enqueuer
	logger   *slog.Logger

	decisions metric.Int64Counter // optional
}

// Option configures a Gate.
type Option func(*Gate)

// WithMeter wires a decision counter onto the given meter.
func WithMeter(m metric.Meter) Option {
	return func(g *Gate) {
		counter, err := m.Int64Counter("reins.gate.decisions",
			metric.WithDescription("Gate decisions by kind"),
			metric.WithUnit("{decision}"),
		)
		if err != nil {
			g.logger.Warn("gate decision counter unavailable", "error", err)
			return
		}
		g.decisions = counter
	}
}

// New creates a gate. All three collaborators are required.
func New(brakes BrakeChecker, resolver TierResolver, queue Enqueuer, opts ...Option) *Gate {
	g := &Gate{
		brakes:   brakes,
		resolver: resolver,
		queue:    queue,
		logger:   slog.Default().With("component", "gate"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Evaluate runs the fixed-order decision procedure. The order is a safety
// invariant: brake check, then tier lookup, then the decision table. The
// only side effect is the approval enqueue for a Queued verdict.
//
// Errors: brake.ErrBrakeActive when the user's brake is raised (hard stop,
// precedes tier lookup); lookup and enqueue failures are surfaced, never
// swallowed.
func (g *Gate) Evaluate(ctx context.Context, req contracts.ActionRequest) (Decision, error) {
	active, err := g.brakes.IsActive(ctx, req.UserID)
	if err != nil {
		return Decision{}, fmt.Errorf("gate: brake check for %s: %w", req.UserID, err)
	}
	if active {
		g.logger.InfoContext(ctx, "action blocked by brake",
			"user_id", req.UserID, "action", req.ActionName)
		return Decision{}, fmt.Errorf("gate: user %s: %w", req.UserID, brake.ErrBrakeActive)
	}

	tier, err := g.resolver.ResolveTier(ctx, req.UserID)
	if err != nil {
		return Decision{}, fmt.Errorf("gate: tier lookup for %s: %w", req.UserID, err)
	}
	if !tier.Valid() {
		return Decision{}, fmt.Errorf("gate: invalid tier %s for %s", tier, req.UserID)
	}
	if !req.Classification.Valid() {
		return Decision{}, fmt.Errorf("gate: unknown classification %q for action %s",
			req.Classification, req.ActionName)
	}

	decision, err := g.decide(ctx, tier, req)
	if err != nil {
		return Decision{}, err
	}
	g.recordDecision(ctx, decision.Kind)
	return decision, nil
}

func (g *Gate) decide(ctx context.Context, tier tiers.Tier, req contracts.ActionRequest) (Decision, error) {
	write := req.Classification == contracts.ClassificationWrite

	if write && !tier.AtLeast(tiers.L1) {
		return Decision{
			Kind:         Refused,
			Reason:       "tier too low for write",
			RequiredTier: tiers.L2,
		}, nil
	}

	switch tier {
	case tiers.L0:
		// READ only, and even then the caller must present the result as
		// a suggestion rather than act on it.
		return Decision{Kind: ExecuteAsSuggestion}, nil

	case tiers.L1:
		if write {
			return Decision{
				Kind:         Refused,
				Reason:       "write actions require supervised autonomy",
				RequiredTier: tiers.L2,
			}, nil
		}
		return Decision{Kind: Execute}, nil

	case tiers.L2:
		if write {
			itemID, err := g.queue.Enqueue(ctx, req)
			if err != nil {
				return Decision{}, fmt.Errorf("gate: queueing %s for %s: %w",
					req.ActionName, req.UserID, err)
			}
			return Decision{Kind: Queued, ItemID: itemID}, nil
		}
		return Decision{Kind: Execute}, nil

	default: // tiers.L3
		return Decision{Kind: Execute}, nil
	}
}

func (g *Gate) recordDecision(ctx context.Context, kind DecisionKind) {
	if g.decisions != nil {
		g.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind.String())))
	}
}
