//go:build integration

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"product-sync/internal/database"
	"product-sync/internal/products"

	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testDBName = "test_products"
	testDBUser = "test"
	testDBPass = "test"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:17-alpine"),
		postgres.WithDatabase(testDBName),
		postgres.WithUsername(testDBUser),
		postgres.WithPassword(testDBPass),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	if err := database.Migrate(connStr, migrationsDir(t)); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	db, err := database.Open(ctx, connStr, database.PoolOptions{MaxOpenConns: 5, MaxIdleConns: 2, PingTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func migrationsDir(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot determine test file path")
	}
	return filepath.Join(filepath.Dir(filename), "..", "..", "..", "migrations", "products")
}

func input(name, category, price string) products.ProductInput {
	return products.ProductInput{
		Name:        name,
		Description: name + " description",
		Price:       decimal.RequireFromString(price),
		Stock:       10,
		Category:    category,
	}
}

type outboxRow struct {
	eventID     string
	aggregateID int64
	operation   string
	payload     []byte
}

func outboxRows(t *testing.T, db *sql.DB) []outboxRow {
	t.Helper()
	rows, err := db.Query(`SELECT event_id, aggregate_id, operation, payload FROM product_outbox ORDER BY id`)
	if err != nil {
		t.Fatalf("query outbox: %v", err)
	}
	defer rows.Close()

	var out []outboxRow
	for rows.Next() {
		var r outboxRow
		if err := rows.Scan(&r.eventID, &r.aggregateID, &r.operation, &r.payload); err != nil {
			t.Fatalf("scan outbox: %v", err)
		}
		out = append(out, r)
	}
	return out
}

func TestPostgresRepository_Create(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgres(db)
	ctx := context.Background()

	t.Run("creates product and returns it", func(t *testing.T) {
		p, err := repo.Create(ctx, input("Laptop", "electronics", "999.99"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.ID == 0 {
			t.Fatal("expected non-zero ID")
		}
		if p.Name != "Laptop" {
			t.Fatalf("want name Laptop, got %q", p.Name)
		}
		if !p.Price.Equal(decimal.RequireFromString("999.99")) {
			t.Fatalf("want price 999.99, got %s", p.Price)
		}
		if p.CreatedAt.IsZero() || !p.UpdatedAt.Equal(p.CreatedAt) {
			t.Fatalf("want equal non-zero timestamps, got %v / %v", p.CreatedAt, p.UpdatedAt)
		}
	})

	t.Run("auto-increments IDs", func(t *testing.T) {
		p1, _ := repo.Create(ctx, input("A", "misc", "1"))
		p2, _ := repo.Create(ctx, input("B", "misc", "1"))
		if p2.ID <= p1.ID {
			t.Fatalf("expected p2.ID > p1.ID, got %d <= %d", p2.ID, p1.ID)
		}
	})

	t.Run("writes one created event per product", func(t *testing.T) {
		rows := outboxRows(t, db)
		if len(rows) != 3 {
			t.Fatalf("want 3 outbox rows, got %d", len(rows))
		}
		event, err := products.DecodeChangeEvent(rows[0].payload)
		if err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if event.Operation != products.OperationCreated || event.Name != "Laptop" || event.EventID != rows[0].eventID {
			t.Fatalf("unexpected event: %+v", event)
		}
	})

	t.Run("rejected row leaves no event behind", func(t *testing.T) {
		before := len(outboxRows(t, db))
		_, err := repo.Create(ctx, input("Broken", "misc", "-5"))
		if err == nil {
			t.Fatal("expected check constraint violation")
		}
		if after := len(outboxRows(t, db)); after != before {
			t.Fatalf("want %d outbox rows, got %d", before, after)
		}
	})
}

func TestPostgresRepository_Update(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgres(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, input("Desk", "furniture", "120.00"))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	t.Run("overwrites fields and moves updated_at forward", func(t *testing.T) {
		in := input("Standing desk", "office", "150.50")
		in.Stock = 3

		updated, err := repo.Update(ctx, created.ID, in)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if updated.Name != "Standing desk" || updated.Category != "office" || updated.Stock != 3 {
			t.Fatalf("fields not overwritten: %+v", updated)
		}
		if !updated.CreatedAt.Equal(created.CreatedAt) {
			t.Fatalf("created_at changed: %v -> %v", created.CreatedAt, updated.CreatedAt)
		}
		if !updated.UpdatedAt.After(created.UpdatedAt) {
			t.Fatalf("want updated_at after %v, got %v", created.UpdatedAt, updated.UpdatedAt)
		}

		again, err := repo.Update(ctx, created.ID, in)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !again.UpdatedAt.After(updated.UpdatedAt) {
			t.Fatalf("want strictly increasing updated_at, got %v then %v", updated.UpdatedAt, again.UpdatedAt)
		}
	})

	t.Run("missing product returns ErrNotFound without an event", func(t *testing.T) {
		before := len(outboxRows(t, db))
		_, err := repo.Update(ctx, 999999, input("Ghost", "none", "1"))
		if !errors.Is(err, products.ErrNotFound) {
			t.Fatalf("want ErrNotFound, got %v", err)
		}
		if after := len(outboxRows(t, db)); after != before {
			t.Fatalf("want %d outbox rows, got %d", before, after)
		}
	})

	t.Run("update events follow the create event", func(t *testing.T) {
		rows := outboxRows(t, db)
		want := []string{"created", "updated", "updated"}
		if len(rows) != len(want) {
			t.Fatalf("want %d rows, got %d", len(want), len(rows))
		}
		for i, op := range want {
			if rows[i].operation != op || rows[i].aggregateID != created.ID {
				t.Fatalf("row %d: want %s for %d, got %s for %d", i, op, created.ID, rows[i].operation, rows[i].aggregateID)
			}
		}
	})
}

func TestPostgresRepository_Delete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgres(db)
	ctx := context.Background()

	t.Run("deletes existing product and records its last state", func(t *testing.T) {
		p, _ := repo.Create(ctx, input("ToDelete", "misc", "4.20"))
		if err := repo.Delete(ctx, p.ID); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if _, err := repo.GetByID(ctx, p.ID); !errors.Is(err, products.ErrNotFound) {
			t.Fatalf("want ErrNotFound after delete, got %v", err)
		}

		rows := outboxRows(t, db)
		last := rows[len(rows)-1]
		event, err := products.DecodeChangeEvent(last.payload)
		if err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if event.Operation != products.OperationDeleted || event.ID != p.ID || event.Name != "ToDelete" {
			t.Fatalf("unexpected deleted event: %+v", event)
		}
		if !event.UpdatedAt.After(p.UpdatedAt) {
			t.Fatalf("want deletion time after %v, got %v", p.UpdatedAt, event.UpdatedAt)
		}
	})

	t.Run("returns ErrNotFound for non-existent ID", func(t *testing.T) {
		err := repo.Delete(ctx, 999999)
		if !errors.Is(err, products.ErrNotFound) {
			t.Fatalf("want ErrNotFound, got %v", err)
		}
	})

	t.Run("second delete returns ErrNotFound", func(t *testing.T) {
		p, _ := repo.Create(ctx, input("DeleteTwice", "misc", "1"))
		_ = repo.Delete(ctx, p.ID)
		err := repo.Delete(ctx, p.ID)
		if !errors.Is(err, products.ErrNotFound) {
			t.Fatalf("want ErrNotFound on second delete, got %v", err)
		}
	})
}

func TestPostgresRepository_Queries(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgres(db)
	ctx := context.Background()

	seed := []products.ProductInput{
		input("Red Apple", "fruit", "0.50"),
		input("Green apple", "fruit", "0.45"),
		input("Pineapple", "fruit", "3.00"),
		input("100% Juice", "drinks", "2.10"),
		input("Apple_Pie", "bakery", "6.00"),
	}
	for _, in := range seed {
		if _, err := repo.Create(ctx, in); err != nil {
			t.Fatalf("seed %q: %v", in.Name, err)
		}
	}

	t.Run("list returns all ordered by id", func(t *testing.T) {
		list, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(list) != len(seed) {
			t.Fatalf("want %d items, got %d", len(seed), len(list))
		}
		for i := 1; i < len(list); i++ {
			if list[i].ID <= list[i-1].ID {
				t.Fatalf("expected ascending order, got id %d after %d", list[i].ID, list[i-1].ID)
			}
		}
	})

	t.Run("get by id", func(t *testing.T) {
		list, _ := repo.List(ctx)
		p, err := repo.GetByID(ctx, list[0].ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Name != "Red Apple" {
			t.Fatalf("want Red Apple, got %q", p.Name)
		}
		if _, err := repo.GetByID(ctx, 999999); !errors.Is(err, products.ErrNotFound) {
			t.Fatalf("want ErrNotFound, got %v", err)
		}
	})

	t.Run("category is an exact match", func(t *testing.T) {
		list, err := repo.ListByCategory(ctx, "fruit")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(list) != 3 {
			t.Fatalf("want 3 fruit, got %d", len(list))
		}
		if list, _ := repo.ListByCategory(ctx, "Fruit"); len(list) != 0 {
			t.Fatalf("want no match for Fruit, got %d", len(list))
		}
	})

	tests := []struct {
		term string
		want int
	}{
		{term: "apple", want: 4},
		{term: "APPLE", want: 4},
		{term: "%", want: 1},
		{term: "_", want: 1},
		{term: "pear", want: 0},
	}
	for _, tt := range tests {
		t.Run("search "+tt.term, func(t *testing.T) {
			list, err := repo.Search(ctx, tt.term)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if list == nil {
				t.Fatal("expected non-nil slice")
			}
			if len(list) != tt.want {
				t.Fatalf("want %d matches, got %d", tt.want, len(list))
			}
		})
	}
}

func TestPostgresRepository_Health(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgres(db)

	if err := repo.Health(); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
}

func TestOutboxStore_ProcessPending(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgres(db)
	store := NewOutbox(db)
	ctx := context.Background()

	for _, name := range []string{"One", "Two", "Three"} {
		if _, err := repo.Create(ctx, input(name, "misc", "1")); err != nil {
			t.Fatalf("seed %q: %v", name, err)
		}
	}

	t.Run("failure stops the batch and is recorded", func(t *testing.T) {
		var seen []string
		n, err := store.ProcessPending(ctx, 10, func(_ context.Context, rec products.OutboxRecord) error {
			seen = append(seen, rec.EventID)
			if len(seen) == 2 {
				return errors.New("broker down")
			}
			return nil
		})
		if err == nil {
			t.Fatal("expected publish error")
		}
		if n != 1 || len(seen) != 2 {
			t.Fatalf("want 1 published of 2 attempted, got %d of %d", n, len(seen))
		}

		stats, err := store.Stats(ctx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats.Pending != 2 || stats.Published != 1 || stats.MaxAttempts != 1 || stats.OldestPending == nil {
			t.Fatalf("unexpected stats: %+v", stats)
		}
	})

	t.Run("next pass resumes in order", func(t *testing.T) {
		var names []string
		n, err := store.ProcessPending(ctx, 10, func(_ context.Context, rec products.OutboxRecord) error {
			var event products.ProductChangeEvent
			if err := json.Unmarshal(rec.Payload, &event); err != nil {
				return err
			}
			names = append(names, event.Name)
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != 2 || len(names) != 2 || names[0] != "Two" || names[1] != "Three" {
			t.Fatalf("want Two, Three; got %v", names)
		}

		stats, _ := store.Stats(ctx)
		if stats.Pending != 0 || stats.OldestPending != nil {
			t.Fatalf("want empty outbox, got %+v", stats)
		}
	})

	t.Run("only one pass holds the lock", func(t *testing.T) {
		if _, err := repo.Create(ctx, input("Four", "misc", "1")); err != nil {
			t.Fatalf("seed: %v", err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, relayLockKey); err != nil {
			t.Fatalf("take lock: %v", err)
		}

		n, err := store.ProcessPending(ctx, 10, func(context.Context, products.OutboxRecord) error {
			t.Fatal("publish must not run while another relay holds the lock")
			return nil
		})
		if err != nil || n != 0 {
			t.Fatalf("want 0, nil; got %d, %v", n, err)
		}
	})
}
