package queue

import (
	"context"
)

// Publisher publishes batch messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg BatchMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg BatchMessage) error

// Consumer consumes batch messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// BatchQueue carries batch dispatch tasks.
	BatchQueue = "broadcast.batches"
	// BatchDLQ receives rejected batch tasks.
	BatchDLQ = "dlq.broadcast.batches"

	// queueMaxPriority is the RabbitMQ x-max-priority value for the batch queue.
	queueMaxPriority int32 = 3
)

// PriorityValue maps a batch generation to a message priority. Retry generations
// are served ahead of first dispatches so running broadcasts finish first.
func PriorityValue(generation int) uint8 {
	switch {
	case generation <= 0:
		return 1
	case generation == 1:
		return 2
	default:
		return 3
	}
}
