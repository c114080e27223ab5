package config

import "fmt"

// Control configures the operator CLI. Nothing is required up front: each
// command checks the connections it actually opens.
type Control struct {
	DatabaseURL     string
	RabbitMQURL     string
	QueueName       string
	DeadLetterQueue string
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	MigrationsPath  string
}

func LoadControl() Control {
	queue := getEnv("QUEUE_NAME", defaultQueueName)
	return Control{
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		RabbitMQURL:     getEnv("RABBITMQ_URL", ""),
		QueueName:       queue,
		DeadLetterQueue: deadLetterQueue(queue),
		MongoURI:        getEnv("MONGODB_URI", ""),
		MongoDatabase:   getEnv("MONGODB_DATABASE", defaultMongoDatabase),
		MongoCollection: getEnv("MONGODB_COLLECTION", defaultMongoCollection),
		MigrationsPath:  getEnv("MIGRATIONS_PATH", defaultMigrationsPath),
	}
}

func (c Control) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

func (c Control) RequireRabbitMQ() error {
	if c.RabbitMQURL == "" {
		return fmt.Errorf("RABBITMQ_URL is required")
	}
	return nil
}

func (c Control) RequireMongo() error {
	if c.MongoURI == "" {
		return fmt.Errorf("MONGODB_URI is required")
	}
	return nil
}
