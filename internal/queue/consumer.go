package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Disposition tells the consumer how to settle a delivery.
type Disposition int

const (
	// Ack removes the message from the queue.
	Ack Disposition = iota
	// Drop nacks without requeue; the broker dead-letters or discards it.
	Drop
	// Requeue nacks with requeue so the broker redelivers it.
	Requeue
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Drop:
		return "drop"
	case Requeue:
		return "requeue"
	default:
		return fmt.Sprintf("disposition(%d)", int(d))
	}
}

// HandlerFunc processes one message body.
type HandlerFunc func(ctx context.Context, body []byte) Disposition

// ErrDeliveriesClosed is returned when the broker closes the delivery stream.
var ErrDeliveriesClosed = errors.New("amqp delivery channel closed")

// ConsumerChannel is the subset of *amqp.Channel the consumer needs.
type ConsumerChannel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// Consumer drains one durable queue, handling each delivery in its own
// goroutine. Concurrency is bounded by the prefetch count.
type Consumer struct {
	ch       ConsumerChannel
	queue    string
	prefetch int
	handler  HandlerFunc
	logger   *slog.Logger
}

// NewConsumer builds a consumer for queue.
func NewConsumer(ch ConsumerChannel, queue string, prefetch int, handler HandlerFunc, logger *slog.Logger) *Consumer {
	if prefetch <= 0 {
		prefetch = 1
	}
	return &Consumer{ch: ch, queue: queue, prefetch: prefetch, handler: handler, logger: logger.With(slog.String("queue", queue))}
}

// Run consumes until ctx is cancelled or the delivery stream closes. It waits
// for in-flight handlers before returning.
func (c *Consumer) Run(ctx context.Context) error {
	if _, err := c.ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", c.queue, err)
	}
	if err := c.ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos on %s: %w", c.queue, err)
	}
	deliveries, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	c.logger.Info("consumer started", slog.Int("prefetch", c.prefetch))

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				c.handle(ctx, d)
			}(d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	// in-flight work completes even after shutdown starts
	disposition := c.handler(context.WithoutCancel(ctx), d.Body)

	var err error
	switch disposition {
	case Ack:
		err = d.Ack(false)
	case Requeue:
		err = d.Nack(false, true)
	default:
		err = d.Nack(false, false)
	}
	if err != nil {
		c.logger.Error("failed to settle delivery",
			slog.Uint64("delivery_tag", d.DeliveryTag),
			slog.String("disposition", disposition.String()),
			slog.Any("error", err))
	}
}
