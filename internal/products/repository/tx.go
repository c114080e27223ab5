package repository

import (
	"context"
	"database/sql"
	"fmt"

	"product-sync/internal/products"
)

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func insertOutbox(ctx context.Context, tx *sql.Tx, event products.ProductChangeEvent) error {
	rec, err := products.NewOutboxRecord(event)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO product_outbox (event_id, aggregate_id, operation, payload)
		VALUES ($1, $2, $3, $4)
	`
	// payload goes as text: lib/pq would send []byte as bytea.
	if _, err := tx.ExecContext(ctx, query, rec.EventID, rec.AggregateID, string(rec.Operation), string(rec.Payload)); err != nil {
		return fmt.Errorf("insert outbox event %s: %w", rec.EventID, err)
	}
	return nil
}
