package interfaces

import "context"

// EventPublisher pushes domain events to the message bus after commit.
// Publishing is best-effort: a failed publish never rolls back a posting.
type EventPublisher interface {
	Publish(ctx context.Context, name string, event any) error
}
