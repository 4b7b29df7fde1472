package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// PublisherChannel is the subset of *amqp.Channel the publisher needs.
type PublisherChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher enqueues balance recomputation requests.
type Publisher struct {
	mu       sync.Mutex
	ch       PublisherChannel
	queue    string
	declared bool
}

// NewPublisher builds a publisher targeting queue. An amqp channel is not safe
// for concurrent publishing, so calls are serialized.
func NewPublisher(ch PublisherChannel, queue string) *Publisher {
	return &Publisher{ch: ch, queue: queue}
}

// PublishBalanceRequest asks the processor to recompute and cache accountID's balance.
func (p *Publisher) PublishBalanceRequest(ctx context.Context, accountID uuid.UUID) error {
	body, err := json.Marshal(BalanceRequest{AccountID: accountID})
	if err != nil {
		return fmt.Errorf("encode balance request: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.declared {
		if _, err := p.ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", p.queue, err)
		}
		p.declared = true
	}

	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish balance request: %w", err)
	}
	return nil
}
