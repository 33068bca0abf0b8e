package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	headerBroadcastID = "x-broadcast-id"
	headerGeneration  = "x-generation"
)

// RabbitMQPublisher publishes batch tasks in confirm mode. Publish returns only after the
// broker has taken responsibility for the message.
type RabbitMQPublisher struct {
	client *RabbitMQ
	now    func() time.Time
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client, now: time.Now}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, queue string, msg BatchMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	publishing, err := p.publishing(msg)
	if err != nil {
		return err
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, publishing)
	if err != nil {
		return fmt.Errorf("failed to publish batch %s to queue %q: %w", msg.BatchID, queue, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed waiting for confirm of batch %s: %w", msg.BatchID, err)
	}
	if !acked {
		return fmt.Errorf("broker nacked batch %s on queue %q", msg.BatchID, queue)
	}

	return nil
}

func (p *RabbitMQPublisher) publishing(msg BatchMessage) (amqp.Publishing, error) {
	if err := msg.Validate(); err != nil {
		return amqp.Publishing{}, fmt.Errorf("invalid batch message: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal batch message: %w", err)
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     p.now().UTC(),
		MessageId:     fmt.Sprintf("%s/%d", msg.BatchID, msg.Generation),
		CorrelationId: msg.CorrelationID,
		Priority:      PriorityValue(msg.Generation),
		Headers: amqp.Table{
			headerBroadcastID: msg.BroadcastID,
			headerGeneration:  int32(msg.Generation),
		},
		Body: payload,
	}, nil
}

// Close is a no-op; the connection belongs to the RabbitMQ client.
func (p *RabbitMQPublisher) Close() error {
	return nil
}
