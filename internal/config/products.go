package config

import (
	"fmt"
	"time"
)

const (
	defaultHTTPAddr        = ":8080"
	defaultMigrationsPath  = "migrations/products"
	defaultShutdownTimeout = 10 * time.Second

	defaultDBMaxOpenConns    = 25
	defaultDBMaxIdleConns    = 5
	defaultDBConnMaxLifetime = 5 * time.Minute
	defaultDBPingTimeout     = 5 * time.Second
	defaultReadHeaderTimeout = 5 * time.Second

	defaultOutboxPollInterval = time.Second
	defaultOutboxBatchSize    = 100
	defaultOutboxPublishRate  = 500.0
)

type Products struct {
	DatabaseURL       string
	RabbitMQURL       string
	QueueName         string
	HTTPAddr          string
	MigrationsPath    string
	ShutdownTimeout   time.Duration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBPingTimeout     time.Duration
	ReadHeaderTimeout time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxPublishRate  float64
}

func LoadProducts() (Products, error) {
	cfg := Products{
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		RabbitMQURL:       getEnv("RABBITMQ_URL", ""),
		QueueName:         getEnv("QUEUE_NAME", defaultQueueName),
		HTTPAddr:          getEnv("HTTP_ADDR", defaultHTTPAddr),
		MigrationsPath:    getEnv("MIGRATIONS_PATH", defaultMigrationsPath),
		ShutdownTimeout:   defaultShutdownTimeout,
		DBMaxOpenConns:    defaultDBMaxOpenConns,
		DBMaxIdleConns:    defaultDBMaxIdleConns,
		DBConnMaxLifetime: defaultDBConnMaxLifetime,
		DBPingTimeout:     defaultDBPingTimeout,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}

	if cfg.DatabaseURL == "" {
		return Products{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RabbitMQURL == "" {
		return Products{}, fmt.Errorf("RABBITMQ_URL is required")
	}

	var err error
	if cfg.OutboxPollInterval, err = getEnvDuration("OUTBOX_POLL_INTERVAL", defaultOutboxPollInterval); err != nil {
		return Products{}, err
	}
	if cfg.OutboxBatchSize, err = getEnvInt("OUTBOX_BATCH_SIZE", defaultOutboxBatchSize); err != nil {
		return Products{}, err
	}
	if cfg.OutboxBatchSize == 0 {
		return Products{}, fmt.Errorf("OUTBOX_BATCH_SIZE must be greater than zero")
	}
	if cfg.OutboxPublishRate, err = getEnvFloat("OUTBOX_PUBLISH_RATE", defaultOutboxPublishRate); err != nil {
		return Products{}, err
	}

	return cfg, nil
}
