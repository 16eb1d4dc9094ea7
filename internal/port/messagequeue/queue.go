// Package messagequeue defines the message bus port that carries lifecycle
// events to other services of the platform.
package messagequeue

import "context"

// SubjectAllEvents matches every lifecycle event subject.
const SubjectAllEvents = "iotbridge.events.>"

// Handler consumes one message. The context carries the publisher's
// request ID. A returned error leads to redelivery.
type Handler func(ctx context.Context, subject string, data []byte) error

// Publisher sends messages.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Queue is a durable publish/subscribe bus.
type Queue interface {
	Publisher

	// Subscribe consumes subject with handler until the returned cancel is called.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)
	// Drain finishes in-flight messages and closes the connection.
	Drain() error
	// Close drops the connection immediately.
	Close() error
	IsConnected() bool
}
