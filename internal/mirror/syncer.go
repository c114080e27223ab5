package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"product-sync/internal/products"
)

type Outcome string

const (
	OutcomeSynced       Outcome = "synced"
	OutcomeDeleted      Outcome = "deleted"
	OutcomeStale        Outcome = "stale"
	OutcomeDeadLettered Outcome = "dead_lettered"
	OutcomeRequeued     Outcome = "requeued"
)

// DocumentStore writes mirrored documents keyed by product id. Both writes
// return ErrStale instead of replacing a document built from a newer version.
type DocumentStore interface {
	Upsert(ctx context.Context, doc ProductDocument) error
	MarkDeleted(ctx context.Context, doc ProductDocument) error
}

type Syncer struct {
	store DocumentStore
	now   func() time.Time
}

func NewSyncer(store DocumentStore) *Syncer {
	return &Syncer{store: store, now: time.Now}
}

// SyncProduct applies one change event to the mirror. Applying the same event
// again converges on the same document with a fresher SyncedAt.
func (s *Syncer) SyncProduct(ctx context.Context, event products.ProductChangeEvent) (Outcome, error) {
	doc := NewDocument(event, s.now().UTC())

	outcome := OutcomeSynced
	var err error
	if event.Operation.IsUpsert() {
		err = s.store.Upsert(ctx, doc)
	} else {
		outcome = OutcomeDeleted
		err = s.store.MarkDeleted(ctx, doc)
	}

	if errors.Is(err, ErrStale) {
		return OutcomeStale, nil
	}
	if err != nil {
		return "", fmt.Errorf("sync product %d: %w", event.ID, err)
	}
	return outcome, nil
}
