package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"product-sync/internal/products"

	amqp "github.com/rabbitmq/amqp091-go"
)

const contentTypeJSON = "application/json"

// ErrNacked is returned when the broker refuses to take responsibility for a
// published message.
var ErrNacked = errors.New("message nacked by broker")

type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

type publishChannel interface {
	publish(ctx context.Context, queue string, msg amqp.Publishing) (confirmation, error)
	Close() error
}

type amqpChannel struct {
	*amqp.Channel
}

func (c amqpChannel) publish(ctx context.Context, queue string, msg amqp.Publishing) (confirmation, error) {
	dc, err := c.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, msg)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, nil
	}
	return dc, nil
}

// RabbitPublisher publishes persistent messages on a channel in confirm mode
// and waits for the broker to ack each one.
type RabbitPublisher struct {
	channel publishChannel
	queue   string
}

func NewRabbitPublisher(conn *amqp.Connection, queue string) (*RabbitPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := DeclareQueue(ch, queue); err != nil {
		_ = ch.Close()
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	return &RabbitPublisher{
		channel: amqpChannel{ch},
		queue:   queue,
	}, nil
}

// DeclareQueue declares the durable queue every component of the pipeline
// agrees on.
func DeclareQueue(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue %q: %w", queue, err)
	}
	return nil
}

// Publish relays an outbox record to the publisher's queue.
func (p *RabbitPublisher) Publish(ctx context.Context, rec products.OutboxRecord) error {
	return p.PublishMessage(ctx, p.queue, amqp.Publishing{
		ContentType: contentTypeJSON,
		MessageId:   rec.EventID,
		Type:        string(rec.Operation),
		Timestamp:   time.Now().UTC(),
		Body:        rec.Payload,
	})
}

// PublishMessage publishes msg as persistent to queue through the default
// exchange and blocks until the broker confirms it.
func (p *RabbitPublisher) PublishMessage(ctx context.Context, queue string, msg amqp.Publishing) error {
	msg.DeliveryMode = amqp.Persistent

	conf, err := p.channel.publish(ctx, queue, msg)
	if err != nil {
		return fmt.Errorf("publish to %q: %w", queue, err)
	}
	if conf == nil {
		return nil
	}

	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait for confirm from %q: %w", queue, err)
	}
	if !acked {
		return fmt.Errorf("publish to %q: %w", queue, ErrNacked)
	}
	return nil
}

func (p *RabbitPublisher) Close() error {
	return p.channel.Close()
}
