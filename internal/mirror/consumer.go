package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"product-sync/internal/products"
	"product-sync/internal/products/messaging"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	consumerTag   = "product-mirror"
	prefetchCount = 1
)

var errDeliveriesClosed = errors.New("delivery channel closed")

type EventSyncer interface {
	SyncProduct(ctx context.Context, event products.ProductChangeEvent) (Outcome, error)
}

type DeadLetterPublisher interface {
	DeadLetter(ctx context.Context, msg *amqp.Delivery, cause error, attempts int) error
}

type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type deliveryChannel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Consumer mirrors change events one delivery at a time. Every delivery ends
// acked (synced, stale or dead-lettered) unless dead-lettering itself fails
// or the consumer stops mid-retry, in which case it is requeued.
type Consumer struct {
	channel     deliveryChannel
	queue       string
	syncer      EventSyncer
	deadLetters DeadLetterPublisher
	retry       RetryPolicy
	metrics     *Metrics
	logger      *slog.Logger
}

func NewConsumer(
	conn *amqp.Connection,
	queue, deadLetterQueue string,
	syncer EventSyncer,
	deadLetters DeadLetterPublisher,
	retry RetryPolicy,
	metrics *Metrics,
	logger *slog.Logger,
) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	for _, name := range []string{queue, deadLetterQueue} {
		if err := messaging.DeclareQueue(ch, name); err != nil {
			_ = ch.Close()
			return nil, err
		}
	}

	return &Consumer{
		channel:     ch,
		queue:       queue,
		syncer:      syncer,
		deadLetters: deadLetters,
		retry:       retry,
		metrics:     metrics,
		logger:      logger,
	}, nil
}

func (c *Consumer) Listen(ctx context.Context) error {
	if err := c.channel.Qos(prefetchCount, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	msgs, err := c.channel.Consume(
		c.queue,
		consumerTag,
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume queue %q: %w", c.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("consume queue %q: %w", c.queue, errDeliveriesClosed)
			}
			c.handleMessage(ctx, &msg)
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg *amqp.Delivery) {
	start := time.Now()
	defer func() { c.metrics.duration.Observe(time.Since(start).Seconds()) }()

	event, err := products.DecodeChangeEvent(msg.Body)
	if err != nil {
		c.logger.Error("malformed change event", "message_id", msg.MessageId, "error", err)
		c.deadLetter(ctx, msg, err, 1)
		return
	}

	logger := c.logger.With(
		"event_id", event.EventID,
		"product_id", event.ID,
		"operation", event.Operation,
	)

	outcome, attempts, err := c.syncWithRetry(ctx, event, logger)
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn("sync interrupted by shutdown, requeueing", "attempt", attempts)
			c.metrics.observe(OutcomeRequeued)
			_ = msg.Nack(false, true)
			return
		}
		logger.Error("sync failed, dead-lettering", "attempt", attempts, "error", err)
		c.deadLetter(ctx, msg, err, attempts)
		return
	}

	logger.Info("product mirrored", "outcome", outcome, "attempt", attempts)
	c.metrics.observe(outcome)
	_ = msg.Ack(false)
}

func (c *Consumer) syncWithRetry(ctx context.Context, event products.ProductChangeEvent, logger *slog.Logger) (Outcome, int, error) {
	var (
		outcome  Outcome
		attempts int
	)

	operation := func() error {
		attempts++
		var err error
		outcome, err = c.syncer.SyncProduct(ctx, event)
		if errors.Is(err, products.ErrMalformedEvent) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		c.metrics.retries.Inc()
		logger.Warn("sync attempt failed", "attempt", attempts, "retry_in", wait.String(), "error", err)
	}

	err := backoff.RetryNotify(operation, c.backoff(ctx), notify)
	return outcome, attempts, err
}

func (c *Consumer) backoff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.retry.InitialBackoff
	exp.MaxInterval = c.retry.MaxBackoff
	exp.MaxElapsedTime = 0
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.retry.MaxRetries)), ctx)
}

func (c *Consumer) deadLetter(ctx context.Context, msg *amqp.Delivery, cause error, attempts int) {
	if err := c.deadLetters.DeadLetter(ctx, msg, cause, attempts); err != nil {
		c.logger.Error("dead-letter failed, requeueing", "message_id", msg.MessageId, "error", err)
		c.metrics.observe(OutcomeRequeued)
		_ = msg.Nack(false, true)
		return
	}

	c.metrics.observe(OutcomeDeadLettered)
	_ = msg.Ack(false)
}

func (c *Consumer) Close() error {
	return c.channel.Close()
}
