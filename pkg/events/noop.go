package events

import "context"

// NoopPublisher is a Publisher that does nothing. It is the default when
// no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, topic string, event any) error { return nil }

func (NoopPublisher) Close() error { return nil }
