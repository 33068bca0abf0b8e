package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrDiscard tells the consumer to dead-letter a message instead of requeueing it.
var ErrDiscard = errors.New("discard message")

// RabbitMQConsumer delivers batch tasks to a handler, one at a time per call to Consume.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	wait := minRedialWait
	for {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			wait = minRedialWait
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		wait = nextRedialWait(wait)
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %q closed", queue)
			}

			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

type settlement int

const (
	settleAck settlement = iota
	settleRequeue
	settleDeadLetter
)

func (s settlement) String() string {
	switch s {
	case settleAck:
		return "ack"
	case settleRequeue:
		return "requeue"
	default:
		return "dead_letter"
	}
}

// settleFor decides what happens to a delivery after the handler ran. A handler failure
// is requeued once; a second failure on redelivery dead-letters the task and leaves
// recovery of the batch row to the sweeper.
func settleFor(handlerErr error, redelivered bool) settlement {
	switch {
	case handlerErr == nil:
		return settleAck
	case errors.Is(handlerErr, ErrDiscard):
		return settleDeadLetter
	case redelivered:
		return settleDeadLetter
	default:
		return settleRequeue
	}
}

func decodeDelivery(d amqp.Delivery) (BatchMessage, error) {
	var msg BatchMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return BatchMessage{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = d.CorrelationId
	}
	if err := msg.Validate(); err != nil {
		return msg, fmt.Errorf("validation failed: %w", err)
	}
	return msg, nil
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	msg, err := decodeDelivery(d)
	if err != nil {
		c.logger.Warn("rejecting malformed batch task",
			zap.Error(err),
			zap.String("messageId", d.MessageId),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject malformed message: %w", rejectErr)
		}
		return nil
	}

	handlerErr := handler(ctx, msg)
	decision := settleFor(handlerErr, d.Redelivered)
	if decision != settleAck {
		c.logger.Warn("batch task not acknowledged",
			zap.Error(handlerErr),
			zap.String("batchId", msg.BatchID),
			zap.String("broadcastId", msg.BroadcastID),
			zap.Int("generation", msg.Generation),
			zap.Bool("redelivered", d.Redelivered),
			zap.Stringer("settlement", decision),
		)
	}

	switch decision {
	case settleAck:
		err = d.Ack(false)
	case settleRequeue:
		err = d.Nack(false, true)
	default:
		err = d.Reject(false)
	}
	if err != nil {
		return fmt.Errorf("failed to %s batch %s: %w", decision, msg.BatchID, err)
	}
	return nil
}

// Close is a no-op; the connection belongs to the RabbitMQ client and Consume stops on
// context cancellation.
func (c *RabbitMQConsumer) Close() error {
	return nil
}
