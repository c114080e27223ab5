package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"product-sync/internal/config"
	"product-sync/internal/mirror"
	"product-sync/internal/mirror/store"
	producthttp "product-sync/internal/products/http"
	"product-sync/internal/products/messaging"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	os.Exit(run(logger))
}

func run(logger *slog.Logger) int {
	cfg, err := config.LoadWorker()
	if err != nil {
		logger.Error("load config", "error", err)
		return 1
	}

	mongoClient, err := store.Connect(context.Background(), cfg.MongoURI, cfg.MongoConnectTimeout)
	if err != nil {
		logger.Error("connect mongodb", "error", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = mongoClient.Disconnect(ctx)
	}()

	documents := store.NewMongo(mongoClient, cfg.MongoDatabase, cfg.MongoCollection)
	indexCtx, cancelIndex := context.WithTimeout(context.Background(), cfg.MongoConnectTimeout)
	err = documents.EnsureIndexes(indexCtx)
	cancelIndex()
	if err != nil {
		logger.Error("ensure mongodb indexes", "error", err)
		return 1
	}

	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		logger.Error("connect rabbitmq", "error", err)
		return 1
	}
	defer conn.Close()

	dlqPublisher, err := messaging.NewRabbitPublisher(conn, cfg.DeadLetterQueue)
	if err != nil {
		logger.Error("init dead-letter publisher", "error", err)
		return 1
	}
	defer dlqPublisher.Close()

	consumer, err := mirror.NewConsumer(
		conn,
		cfg.QueueName,
		cfg.DeadLetterQueue,
		mirror.NewSyncer(documents),
		mirror.NewDeadLetterer(dlqPublisher, cfg.DeadLetterQueue, cfg.QueueName),
		mirror.RetryPolicy{
			MaxRetries:     cfg.SyncMaxRetries,
			InitialBackoff: cfg.SyncInitialBackoff,
			MaxBackoff:     cfg.SyncMaxBackoff,
		},
		mirror.NewMetrics(prometheus.DefaultRegisterer),
		logger,
	)
	if err != nil {
		logger.Error("init consumer", "error", err)
		return 1
	}
	defer consumer.Close()

	router := gin.New()
	router.Use(gin.Recovery())
	producthttp.RegisterOps(router, documents)

	opsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	go func() {
		logger.Info("ops server started", "addr", cfg.MetricsAddr)
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server failed", "error", err)
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = opsServer.Shutdown(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("mirror worker started", "queue", cfg.QueueName, "dead_letter_queue", cfg.DeadLetterQueue)
		errCh <- consumer.Listen(ctx)
	}()

	waitForDrain := false
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		waitForDrain = true
	case err := <-errCh:
		if err != nil {
			logger.Error("consumer failed", "error", err)
			return 1
		}
	}

	if waitForDrain {
		shutdownDeadline := time.NewTimer(cfg.ShutdownTimeout)
		defer shutdownDeadline.Stop()
		select {
		case err := <-errCh:
			if err != nil {
				logger.Error("consumer stop failed", "error", err)
				return 1
			}
		case <-shutdownDeadline.C:
			logger.Warn("consumer shutdown timeout reached")
		}
	}

	logger.Info("mirror worker stopped")
	return 0
}
