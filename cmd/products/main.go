package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"product-sync/internal/config"
	"product-sync/internal/database"
	"product-sync/internal/outbox"
	producthttp "product-sync/internal/products/http"
	"product-sync/internal/products/messaging"
	"product-sync/internal/products/repository"
	"product-sync/internal/products/service"

	_ "product-sync/docs"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
)

const metricWritesTotal = "products_writes_total"

// @title        Products API
// @version      1.0
// @description  Product catalog whose changes are mirrored to a document store.
// @host         localhost:8080
// @BasePath     /
func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	os.Exit(run(logger))
}

func run(logger *slog.Logger) int {
	cfg, err := config.LoadProducts()
	if err != nil {
		logger.Error("load config", "error", err)
		return 1
	}

	if err := database.Migrate(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		logger.Error("run migrations", "error", err)
		return 1
	}

	db, err := database.Open(context.Background(), cfg.DatabaseURL, database.PoolOptions{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		PingTimeout:     cfg.DBPingTimeout,
	})
	if err != nil {
		logger.Error("open database", "error", err)
		return 1
	}
	defer db.Close()

	rabbitConn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		logger.Error("connect rabbitmq", "error", err)
		return 1
	}
	defer rabbitConn.Close()

	publisher, err := messaging.NewRabbitPublisher(rabbitConn, cfg.QueueName)
	if err != nil {
		logger.Error("init publisher", "error", err)
		return 1
	}
	defer publisher.Close()

	writes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricWritesTotal,
		Help: "Total number of committed product writes by operation",
	}, []string{"operation"})
	prometheus.MustRegister(writes)

	relay := outbox.NewRelay(
		repository.NewOutbox(db),
		publisher,
		logger,
		outbox.NewMetrics(prometheus.DefaultRegisterer),
		outbox.Config{
			PollInterval: cfg.OutboxPollInterval,
			BatchSize:    cfg.OutboxBatchSize,
			PublishRate:  cfg.OutboxPublishRate,
		},
	)

	repo := repository.NewPostgres(db)
	svc := service.New(repo, relay, logger, writes)
	handler := producthttp.NewHandler(svc)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(producthttp.RequestIDMiddleware())
	router.Use(producthttp.AccessLogMiddleware(logger))
	producthttp.RegisterRoutes(router, handler, repo)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relayCtx, stopRelay := context.WithCancel(context.Background())
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		logger.Info("outbox relay started", "queue", cfg.QueueName)
		if err := relay.Run(relayCtx); err != nil {
			logger.Error("outbox relay failed", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("products service started", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server failed", "error", err)
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		exitCode = 1
	}

	// Stopping after the server lets the relay pick up writes from the last
	// requests. Anything left stays in the outbox for the next start.
	relay.Notify()
	stopRelay()
	select {
	case <-relayDone:
	case <-shutdownCtx.Done():
		logger.Warn("outbox relay shutdown timeout reached")
	}

	logger.Info("products service stopped")
	return exitCode
}
