package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	connectTimeout = 15 * time.Second
	minRedialWait  = time.Second
	maxRedialWait  = 30 * time.Second
)

// Topology is the broker layout behind the batch queue: a priority work queue that
// dead-letters through a direct exchange into its DLQ.
type Topology struct {
	Queue              string
	DeadLetterQueue    string
	DeadLetterExchange string
	MaxPriority        int32
}

// BatchTopology is the layout declared on every new connection.
var BatchTopology = Topology{
	Queue:              BatchQueue,
	DeadLetterQueue:    BatchDLQ,
	DeadLetterExchange: "broadcast.dlx",
	MaxPriority:        queueMaxPriority,
}

type declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// Declare creates the exchange and both queues. It is idempotent against a broker that
// already holds the same layout.
func (t Topology) Declare(ch declarer) error {
	if err := ch.ExchangeDeclare(t.DeadLetterExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", t.DeadLetterExchange, err)
	}
	if _, err := ch.QueueDeclare(t.DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", t.DeadLetterQueue, err)
	}
	if err := ch.QueueBind(t.DeadLetterQueue, t.Queue, t.DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %q: %w", t.DeadLetterQueue, err)
	}
	if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, t.queueArgs()); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", t.Queue, err)
	}
	return nil
}

func (t Topology) queueArgs() amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    t.DeadLetterExchange,
		"x-dead-letter-routing-key": t.Queue,
		"x-max-priority":            t.MaxPriority,
	}
}

// RabbitMQ owns one broker connection shared by publishers and consumers. A closed
// connection is redialed lazily on the next channel request.
type RabbitMQ struct {
	url      string
	topology Topology
	dial     func(url string) (*amqp.Connection, error)

	dialMu sync.Mutex
	conn   atomic.Pointer[amqp.Connection]
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url, topology: BatchTopology, dial: amqp.Dial}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if _, err := r.connection(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQ) Close() error {
	conn := r.conn.Swap(nil)
	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// IsConnected reports whether the broker connection is currently open.
func (r *RabbitMQ) IsConnected() bool {
	conn := r.conn.Load()
	return conn != nil && !conn.IsClosed()
}

// channel opens a channel, redialing once if the connection broke underneath it.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	conn, err := r.connection(ctx)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err == nil {
		return ch, nil
	}

	r.conn.CompareAndSwap(conn, nil)
	conn, err = r.connection(ctx)
	if err != nil {
		return nil, err
	}
	ch, err = conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open rabbitmq channel after redial: %w", err)
	}
	return ch, nil
}

func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	if conn := r.conn.Load(); conn != nil && !conn.IsClosed() {
		return conn, nil
	}

	r.dialMu.Lock()
	defer r.dialMu.Unlock()

	// Another caller may have redialed while we waited.
	if conn := r.conn.Load(); conn != nil && !conn.IsClosed() {
		return conn, nil
	}

	conn, err := r.redial(ctx)
	if err != nil {
		return nil, err
	}
	if old := r.conn.Swap(conn); old != nil && !old.IsClosed() {
		_ = old.Close()
	}
	return conn, nil
}

func (r *RabbitMQ) redial(ctx context.Context) (*amqp.Connection, error) {
	wait := minRedialWait
	for attempt := 1; ; attempt++ {
		conn, err := r.dial(r.url)
		if err == nil {
			if err := r.declare(conn); err != nil {
				_ = conn.Close()
				return nil, err
			}
			return conn, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rabbitmq dial abandoned after %d attempts: %w", attempt, errors.Join(ctx.Err(), err))
		case <-time.After(wait):
		}
		wait = nextRedialWait(wait)
	}
}

func (r *RabbitMQ) declare(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open topology channel: %w", err)
	}
	defer ch.Close()
	return r.topology.Declare(ch)
}

func nextRedialWait(wait time.Duration) time.Duration {
	return min(wait*2, maxRedialWait)
}
