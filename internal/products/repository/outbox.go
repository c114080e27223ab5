package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"product-sync/internal/products"
)

// relayLockKey identifies the advisory lock held by the relay pass that is
// currently draining the outbox.
const relayLockKey int64 = 7_301_001

type OutboxStore struct {
	db *sql.DB
}

func NewOutbox(db *sql.DB) *OutboxStore {
	return &OutboxStore{db: db}
}

type OutboxStats struct {
	Pending       int64
	Published     int64
	OldestPending *time.Time
	MaxAttempts   int
}

// ProcessPending hands up to limit unpublished records to publish in commit
// order and marks each one published after publish returns. The first failure
// is recorded on its row and ends the pass, so later records never overtake
// it. Only one pass runs at a time across all processes; a pass that cannot
// take the lock returns immediately with zero records.
func (s *OutboxStore) ProcessPending(ctx context.Context, limit int, publish func(context.Context, products.OutboxRecord) error) (int, error) {
	published := 0
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var locked bool
		if err := tx.QueryRowContext(ctx, `SELECT pg_try_advisory_xact_lock($1)`, relayLockKey).Scan(&locked); err != nil {
			return fmt.Errorf("acquire relay lock: %w", err)
		}
		if !locked {
			return nil
		}

		pending, err := selectPending(ctx, tx, limit)
		if err != nil {
			return err
		}

		for _, rec := range pending {
			if pubErr := publish(ctx, rec); pubErr != nil {
				if err := markFailed(ctx, tx, rec.ID, pubErr); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return fmt.Errorf("commit tx: %w", err)
				}
				return fmt.Errorf("publish outbox event %s: %w", rec.EventID, pubErr)
			}

			if _, err := tx.ExecContext(ctx, `UPDATE product_outbox SET published_at = NOW() WHERE id = $1`, rec.ID); err != nil {
				return fmt.Errorf("mark outbox event %s published: %w", rec.EventID, err)
			}
			published++
		}
		return nil
	})
	return published, err
}

func selectPending(ctx context.Context, tx *sql.Tx, limit int) ([]products.OutboxRecord, error) {
	query := `
		SELECT id, event_id, aggregate_id, operation, payload, created_at, attempts
		FROM product_outbox
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
	`

	rows, err := tx.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	records := make([]products.OutboxRecord, 0, limit)
	for rows.Next() {
		var (
			rec products.OutboxRecord
			op  string
		)
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.AggregateID, &op, &rec.Payload, &rec.CreatedAt, &rec.Attempts); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		rec.Operation = products.Operation(op)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}

	return records, nil
}

func markFailed(ctx context.Context, tx *sql.Tx, id int64, cause error) error {
	query := `UPDATE product_outbox SET attempts = attempts + 1, last_error = $2 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, cause.Error()); err != nil {
		return fmt.Errorf("record outbox failure %d: %w", id, err)
	}
	return nil
}

func (s *OutboxStore) Stats(ctx context.Context) (OutboxStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE published_at IS NULL),
			COUNT(*) FILTER (WHERE published_at IS NOT NULL),
			MIN(created_at) FILTER (WHERE published_at IS NULL),
			COALESCE(MAX(attempts) FILTER (WHERE published_at IS NULL), 0)
		FROM product_outbox
	`

	var (
		stats  OutboxStats
		oldest sql.NullTime
	)
	if err := s.db.QueryRowContext(ctx, query).Scan(&stats.Pending, &stats.Published, &oldest, &stats.MaxAttempts); err != nil {
		return OutboxStats{}, fmt.Errorf("query outbox stats: %w", err)
	}
	if oldest.Valid {
		t := oldest.Time
		stats.OldestPending = &t
	}
	return stats, nil
}
