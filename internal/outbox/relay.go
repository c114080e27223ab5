package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"product-sync/internal/products"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

const (
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
	publishTimeout        = 5 * time.Second
)

// Store hands pending records to publish in commit order and marks the ones
// that went through. It returns how many were published.
type Store interface {
	ProcessPending(ctx context.Context, limit int, publish func(context.Context, products.OutboxRecord) error) (int, error)
}

type Publisher interface {
	Publish(ctx context.Context, rec products.OutboxRecord) error
}

type Config struct {
	PollInterval   time.Duration
	BatchSize      int
	PublishRate    float64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Metrics struct {
	published prometheus.Counter
	failures  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Total number of outbox events confirmed by the broker",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_publish_failures_total",
			Help: "Total number of failed outbox relay passes",
		}),
	}
	reg.MustRegister(m.published, m.failures)
	return m
}

// Relay forwards committed outbox records to the broker. It drains the outbox
// on every poll tick and whenever Notify is called, and backs off while
// publishing keeps failing.
type Relay struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	metrics   *Metrics
	limiter   *rate.Limiter
	cfg       Config
	notify    chan struct{}
}

func NewRelay(store Store, publisher Publisher, logger *slog.Logger, metrics *Metrics, cfg Config) *Relay {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = max(defaultMaxBackoff, cfg.InitialBackoff)
	}

	limit := rate.Inf
	if cfg.PublishRate > 0 {
		limit = rate.Limit(cfg.PublishRate)
	}

	return &Relay{
		store:     store,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
		limiter:   rate.NewLimiter(limit, 1),
		cfg:       cfg,
		notify:    make(chan struct{}, 1),
	}
}

// Notify wakes the relay without blocking. Calls made while a wake-up is
// already pending are coalesced.
func (r *Relay) Notify() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Run drains the outbox until ctx is canceled.
func (r *Relay) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.InitialBackoff
	bo.MaxInterval = r.cfg.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := r.drain(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait := bo.NextBackOff()
			r.logger.Warn("outbox relay pass failed", "error", err, "retry_in", wait.String())

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
			continue
		}
		bo.Reset()

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-r.notify:
		}
	}
}

func (r *Relay) drain(ctx context.Context) error {
	for {
		n, err := r.store.ProcessPending(ctx, r.cfg.BatchSize, r.publish)
		if n > 0 {
			r.metrics.published.Add(float64(n))
			r.logger.Debug("outbox events relayed", "count", n)
		}
		if err != nil {
			r.metrics.failures.Inc()
			return err
		}
		if n < r.cfg.BatchSize {
			return nil
		}
	}
}

func (r *Relay) publish(ctx context.Context, rec products.OutboxRecord) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for publish slot: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return r.publisher.Publish(ctx, rec)
}
