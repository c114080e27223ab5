package cli

import (
	"context"
	"fmt"
	"time"

	"product-sync/internal/config"
	"product-sync/internal/database"
	"product-sync/internal/mirror"
	"product-sync/internal/mirror/store"
	"product-sync/internal/products/messaging"
	"product-sync/internal/products/repository"

	amqp "github.com/rabbitmq/amqp091-go"
)

const connectTimeout = 10 * time.Second

// NewBackends connects to the real stores lazily, so a command only needs the
// settings of the systems it touches.
func NewBackends(cfg config.Control) Backends {
	return Backends{
		Migrate: func(context.Context) error {
			if err := cfg.RequireDatabase(); err != nil {
				return err
			}
			return database.Migrate(cfg.DatabaseURL, cfg.MigrationsPath)
		},
		Outbox: func(ctx context.Context) (OutboxInspector, func(), error) {
			if err := cfg.RequireDatabase(); err != nil {
				return nil, nil, err
			}
			db, err := database.Open(ctx, cfg.DatabaseURL, database.PoolOptions{MaxOpenConns: 1, PingTimeout: connectTimeout})
			if err != nil {
				return nil, nil, err
			}
			return repository.NewOutbox(db), func() { _ = db.Close() }, nil
		},
		DeadLetters: func(context.Context) (DeadLetters, func(), error) {
			if err := cfg.RequireRabbitMQ(); err != nil {
				return nil, nil, err
			}
			conn, err := amqp.Dial(cfg.RabbitMQURL)
			if err != nil {
				return nil, nil, fmt.Errorf("connect rabbitmq: %w", err)
			}
			ch, err := conn.Channel()
			if err != nil {
				_ = conn.Close()
				return nil, nil, fmt.Errorf("open channel: %w", err)
			}
			publisher, err := messaging.NewRabbitPublisher(conn, cfg.QueueName)
			if err != nil {
				_ = conn.Close()
				return nil, nil, err
			}
			release := func() {
				_ = publisher.Close()
				_ = ch.Close()
				_ = conn.Close()
			}
			return mirror.NewDeadLetterQueue(ch, publisher, cfg.DeadLetterQueue, cfg.QueueName), release, nil
		},
		Mirror: func(ctx context.Context) (DocumentReader, func(), error) {
			if err := cfg.RequireMongo(); err != nil {
				return nil, nil, err
			}
			client, err := store.Connect(ctx, cfg.MongoURI, connectTimeout)
			if err != nil {
				return nil, nil, err
			}
			release := func() { _ = client.Disconnect(context.Background()) }
			return store.NewMongo(client, cfg.MongoDatabase, cfg.MongoCollection), release, nil
		},
	}
}
