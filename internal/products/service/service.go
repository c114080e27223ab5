package service

import (
	"context"
	"fmt"
	"log/slog"

	"product-sync/internal/products"

	"github.com/prometheus/client_golang/prometheus"
)

// Repository persists products. Every write also records the matching change
// event in the same transaction.
type Repository interface {
	GetByID(ctx context.Context, id int64) (products.Product, error)
	List(ctx context.Context) ([]products.Product, error)
	ListByCategory(ctx context.Context, category string) ([]products.Product, error)
	Search(ctx context.Context, term string) ([]products.Product, error)
	Create(ctx context.Context, in products.ProductInput) (products.Product, error)
	Update(ctx context.Context, id int64, in products.ProductInput) (products.Product, error)
	Delete(ctx context.Context, id int64) error
}

// Notifier is told that new change events are waiting to be relayed.
type Notifier interface {
	Notify()
}

type Service struct {
	repo     Repository
	notifier Notifier
	logger   *slog.Logger
	writes   *prometheus.CounterVec
}

// New wires the service. writes must have a single "operation" label.
func New(repo Repository, notifier Notifier, logger *slog.Logger, writes *prometheus.CounterVec) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		logger:   logger,
		writes:   writes,
	}
}

func (s *Service) CreateProduct(ctx context.Context, in products.ProductInput) (products.Product, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return products.Product{}, err
	}

	product, err := s.repo.Create(ctx, in)
	if err != nil {
		return products.Product{}, fmt.Errorf("repo create: %w", err)
	}

	s.written(products.OperationCreated, product.ID)
	return product, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, in products.ProductInput) (products.Product, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return products.Product{}, err
	}

	product, err := s.repo.Update(ctx, id, in)
	if err != nil {
		return products.Product{}, fmt.Errorf("repo update: %w", err)
	}

	s.written(products.OperationUpdated, product.ID)
	return product, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("repo delete: %w", err)
	}

	s.written(products.OperationDeleted, id)
	return nil
}

func (s *Service) GetProductByID(ctx context.Context, id int64) (products.Product, error) {
	product, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return products.Product{}, fmt.Errorf("repo get: %w", err)
	}
	return product, nil
}

func (s *Service) GetAllProducts(ctx context.Context) ([]products.Product, error) {
	items, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("repo list: %w", err)
	}
	return items, nil
}

func (s *Service) GetProductsByCategory(ctx context.Context, category string) ([]products.Product, error) {
	items, err := s.repo.ListByCategory(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("repo list by category: %w", err)
	}
	return items, nil
}

func (s *Service) SearchProducts(ctx context.Context, name string) ([]products.Product, error) {
	items, err := s.repo.Search(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("repo search: %w", err)
	}
	return items, nil
}

func (s *Service) written(op products.Operation, id int64) {
	s.writes.WithLabelValues(string(op)).Inc()
	s.notifier.Notify()
	s.logger.Debug("product written", "operation", op, "product_id", id)
}
