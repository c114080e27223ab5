package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"product-sync/internal/products"
)

const healthCheckTimeout = 2 * time.Second

const productColumns = `id, name, description, price, stock, category, created_at, updated_at`

// nextUpdatedAt keeps updated_at strictly increasing for a row even when the
// clock does not move between two writes.
const nextUpdatedAt = `GREATEST(NOW(), updated_at + INTERVAL '1 microsecond')`

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (products.Product, error) {
	var p products.Product
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Price,
		&p.Stock,
		&p.Category,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (products.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	p, err := scanProduct(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return products.Product{}, products.ErrNotFound
	}
	if err != nil {
		return products.Product{}, fmt.Errorf("select product %d: %w", id, err)
	}
	return p, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]products.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products ORDER BY id`
	return r.queryProducts(ctx, query)
}

func (r *PostgresRepository) ListByCategory(ctx context.Context, category string) ([]products.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE category = $1 ORDER BY id`
	return r.queryProducts(ctx, query, category)
}

// Search matches name case-insensitively. The term is matched literally, so
// LIKE wildcards typed by the caller are escaped.
func (r *PostgresRepository) Search(ctx context.Context, term string) ([]products.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE name ILIKE $1 ORDER BY id`
	return r.queryProducts(ctx, query, "%"+likeEscaper.Replace(term)+"%")
}

func (r *PostgresRepository) queryProducts(ctx context.Context, query string, args ...any) ([]products.Product, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	list := make([]products.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		list = append(list, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	return list, nil
}

// Create inserts the product and its created event in one transaction.
func (r *PostgresRepository) Create(ctx context.Context, in products.ProductInput) (products.Product, error) {
	query := `
		INSERT INTO products (name, description, price, stock, category)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + productColumns

	var p products.Product
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		p, err = scanProduct(tx.QueryRowContext(ctx, query, in.Name, in.Description, in.Price, in.Stock, in.Category))
		if err != nil {
			return fmt.Errorf("insert product: %w", err)
		}
		return insertOutbox(ctx, tx, products.NewChangeEvent(products.OperationCreated, p))
	})
	if err != nil {
		return products.Product{}, err
	}
	return p, nil
}

// Update overwrites every mutable field. Nothing is written when the product
// does not exist.
func (r *PostgresRepository) Update(ctx context.Context, id int64, in products.ProductInput) (products.Product, error) {
	query := `
		UPDATE products
		SET name = $2, description = $3, price = $4, stock = $5, category = $6,
			updated_at = ` + nextUpdatedAt + `
		WHERE id = $1
		RETURNING ` + productColumns

	var p products.Product
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		p, err = scanProduct(tx.QueryRowContext(ctx, query, id, in.Name, in.Description, in.Price, in.Stock, in.Category))
		if errors.Is(err, sql.ErrNoRows) {
			return products.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("update product %d: %w", id, err)
		}
		return insertOutbox(ctx, tx, products.NewChangeEvent(products.OperationUpdated, p))
	})
	if err != nil {
		return products.Product{}, err
	}
	return p, nil
}

// Delete removes the product and records a deleted event carrying its last
// state, stamped with the deletion time.
func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	query := `
		DELETE FROM products
		WHERE id = $1
		RETURNING id, name, description, price, stock, category, created_at, ` + nextUpdatedAt

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		p, err := scanProduct(tx.QueryRowContext(ctx, query, id))
		if errors.Is(err, sql.ErrNoRows) {
			return products.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("delete product %d: %w", id, err)
		}
		return insertOutbox(ctx, tx, products.NewChangeEvent(products.OperationDeleted, p))
	})
}

func (r *PostgresRepository) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()
	return r.db.PingContext(ctx)
}
