package queue

import "context"

const (
	// MessageEventsQueue carries chat message events awaiting notification
	// fan-out. Broker redelivery gives at-least-once processing; replays
	// are suppressed by the duplicate guard downstream.
	MessageEventsQueue = "message-events"

	// MessageEventsDLQ receives events rejected as unparseable or invalid.
	MessageEventsDLQ = "dlq.message-events"
)

// Publisher publishes message events to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg MessageEvent) error
	Close() error
}

// EventHandler handles a consumed message event.
type EventHandler func(ctx context.Context, msg MessageEvent) error

// Consumer consumes message events from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler EventHandler) error
	Close() error
}
