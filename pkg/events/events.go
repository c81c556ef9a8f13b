// Package events publishes brake lifecycle notifications to interested
// consumers (UI badges, notification fan-out). Delivery is best-effort:
// the brake state machine never fails a transition because a publish
// failed.
package events

import "context"

// Publisher is the interface for emitting events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
