package mirror

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	HeaderError         = "x-error"
	HeaderAttempts      = "x-attempts"
	HeaderOriginalQueue = "x-original-queue"
	HeaderFailedAt      = "x-failed-at"
	HeaderReplayedAt    = "x-replayed-at"
)

// MessagePublisher publishes to a named queue and returns once the broker has
// confirmed the message.
type MessagePublisher interface {
	PublishMessage(ctx context.Context, queue string, msg amqp.Publishing) error
}

// DeadLetterer parks deliveries that could not be synced on the dead-letter
// queue together with the reason they failed.
type DeadLetterer struct {
	publisher   MessagePublisher
	queue       string
	sourceQueue string
	now         func() time.Time
}

func NewDeadLetterer(publisher MessagePublisher, queue, sourceQueue string) *DeadLetterer {
	return &DeadLetterer{
		publisher:   publisher,
		queue:       queue,
		sourceQueue: sourceQueue,
		now:         time.Now,
	}
}

func (d *DeadLetterer) DeadLetter(ctx context.Context, msg *amqp.Delivery, cause error, attempts int) error {
	headers := copyHeaders(msg.Headers)
	headers[HeaderError] = cause.Error()
	headers[HeaderAttempts] = int32(attempts)
	headers[HeaderOriginalQueue] = d.sourceQueue
	headers[HeaderFailedAt] = d.now().UTC().Format(time.RFC3339Nano)

	if err := d.publisher.PublishMessage(ctx, d.queue, republish(msg, headers)); err != nil {
		return fmt.Errorf("dead-letter message %q: %w", msg.MessageId, err)
	}
	return nil
}

type deadLetterChannel interface {
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
}

// DeadLetterQueue inspects and drains the dead-letter queue for operators.
type DeadLetterQueue struct {
	channel   deadLetterChannel
	publisher MessagePublisher
	name      string
	target    string
	now       func() time.Time
}

func NewDeadLetterQueue(ch deadLetterChannel, publisher MessagePublisher, name, target string) *DeadLetterQueue {
	return &DeadLetterQueue{
		channel:   ch,
		publisher: publisher,
		name:      name,
		target:    target,
		now:       time.Now,
	}
}

func (q *DeadLetterQueue) Name() string {
	return q.name
}

func (q *DeadLetterQueue) Depth(_ context.Context) (int, error) {
	info, err := q.channel.QueueDeclarePassive(q.name, true, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("inspect queue %q: %w", q.name, err)
	}
	return info.Messages, nil
}

// Replay moves up to limit dead letters back to the main queue. A message is
// removed from the dead-letter queue only after its republish was confirmed.
func (q *DeadLetterQueue) Replay(ctx context.Context, limit int) (int, error) {
	moved := 0
	for moved < limit {
		if err := ctx.Err(); err != nil {
			return moved, err
		}

		msg, ok, err := q.channel.Get(q.name, false)
		if err != nil {
			return moved, fmt.Errorf("get from %q: %w", q.name, err)
		}
		if !ok {
			return moved, nil
		}

		headers := copyHeaders(msg.Headers)
		headers[HeaderReplayedAt] = q.now().UTC().Format(time.RFC3339Nano)

		if err := q.publisher.PublishMessage(ctx, q.target, republish(&msg, headers)); err != nil {
			_ = msg.Nack(false, true)
			return moved, fmt.Errorf("replay message %q: %w", msg.MessageId, err)
		}
		if err := msg.Ack(false); err != nil {
			return moved, fmt.Errorf("ack dead letter %q: %w", msg.MessageId, err)
		}
		moved++
	}
	return moved, nil
}

func copyHeaders(in amqp.Table) amqp.Table {
	out := make(amqp.Table, len(in)+4)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func republish(msg *amqp.Delivery, headers amqp.Table) amqp.Publishing {
	return amqp.Publishing{
		Headers:     headers,
		ContentType: msg.ContentType,
		MessageId:   msg.MessageId,
		Type:        msg.Type,
		Timestamp:   msg.Timestamp,
		Body:        msg.Body,
	}
}
