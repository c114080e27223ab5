package config

import (
	"fmt"
	"time"
)

const (
	defaultMongoDatabase       = "products_mirror"
	defaultMongoCollection     = "products"
	defaultMetricsAddr         = ":9091"
	defaultSyncMaxRetries      = 5
	defaultSyncInitialBackoff  = 200 * time.Millisecond
	defaultSyncMaxBackoff      = 10 * time.Second
	defaultMongoConnectTimeout = 10 * time.Second
)

type Worker struct {
	RabbitMQURL     string
	QueueName       string
	DeadLetterQueue string
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	MetricsAddr     string
	ShutdownTimeout time.Duration

	MongoConnectTimeout time.Duration
	ReadHeaderTimeout   time.Duration

	SyncMaxRetries     int
	SyncInitialBackoff time.Duration
	SyncMaxBackoff     time.Duration
}

func LoadWorker() (Worker, error) {
	queue := getEnv("QUEUE_NAME", defaultQueueName)
	cfg := Worker{
		RabbitMQURL:         getEnv("RABBITMQ_URL", ""),
		QueueName:           queue,
		DeadLetterQueue:     deadLetterQueue(queue),
		MongoURI:            getEnv("MONGODB_URI", ""),
		MongoDatabase:       getEnv("MONGODB_DATABASE", defaultMongoDatabase),
		MongoCollection:     getEnv("MONGODB_COLLECTION", defaultMongoCollection),
		MetricsAddr:         getEnv("METRICS_ADDR", defaultMetricsAddr),
		ShutdownTimeout:     defaultShutdownTimeout,
		MongoConnectTimeout: defaultMongoConnectTimeout,
		ReadHeaderTimeout:   defaultReadHeaderTimeout,
	}

	if cfg.RabbitMQURL == "" {
		return Worker{}, fmt.Errorf("RABBITMQ_URL is required")
	}
	if cfg.MongoURI == "" {
		return Worker{}, fmt.Errorf("MONGODB_URI is required")
	}
	if cfg.DeadLetterQueue == cfg.QueueName {
		return Worker{}, fmt.Errorf("DEAD_LETTER_QUEUE must differ from QUEUE_NAME")
	}

	var err error
	if cfg.SyncMaxRetries, err = getEnvInt("SYNC_MAX_RETRIES", defaultSyncMaxRetries); err != nil {
		return Worker{}, err
	}
	if cfg.SyncInitialBackoff, err = getEnvDuration("SYNC_INITIAL_BACKOFF", defaultSyncInitialBackoff); err != nil {
		return Worker{}, err
	}
	if cfg.SyncMaxBackoff, err = getEnvDuration("SYNC_MAX_BACKOFF", defaultSyncMaxBackoff); err != nil {
		return Worker{}, err
	}
	if cfg.SyncMaxBackoff < cfg.SyncInitialBackoff {
		return Worker{}, fmt.Errorf("SYNC_MAX_BACKOFF must not be lower than SYNC_INITIAL_BACKOFF")
	}

	return cfg, nil
}
