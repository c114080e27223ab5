package products

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SchemaVersion is the version stamped on every event this module produces.
// Events without a version predate the field and are read as version 0.
const SchemaVersion = 1

type Operation string

const (
	OperationCreated Operation = "created"
	OperationUpdated Operation = "updated"
	OperationDeleted Operation = "deleted"
)

func (o Operation) IsValid() bool {
	switch o {
	case OperationCreated, OperationUpdated, OperationDeleted:
		return true
	}
	return false
}

// IsUpsert reports whether the operation should create or refresh the mirrored
// document. An empty operation comes from producers that never sent one.
func (o Operation) IsUpsert() bool {
	return o == "" || o == OperationCreated || o == OperationUpdated
}

func ParseOperation(s string) (Operation, error) {
	op := Operation(s)
	if !op.IsValid() {
		return "", fmt.Errorf("unknown operation %q", s)
	}
	return op, nil
}

// ProductChangeEvent is a snapshot of a product at the moment it was written.
// Field names are part of the wire contract shared with consumers in other
// languages and must not change.
type ProductChangeEvent struct {
	EventID       string          `json:"eventId,omitempty"`
	SchemaVersion int             `json:"schemaVersion,omitempty"`
	Operation     Operation       `json:"operation,omitempty"`
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	Stock         int             `json:"stock"`
	Category      string          `json:"category"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

func NewChangeEvent(op Operation, p Product) ProductChangeEvent {
	return ProductChangeEvent{
		EventID:       uuid.NewString(),
		SchemaVersion: SchemaVersion,
		Operation:     op,
		ID:            p.ID,
		Name:          p.Name,
		Description:   p.Description,
		Price:         p.Price,
		Stock:         p.Stock,
		Category:      p.Category,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func DecodeChangeEvent(body []byte) (ProductChangeEvent, error) {
	var event ProductChangeEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return ProductChangeEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := event.validate(); err != nil {
		return ProductChangeEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return event, nil
}

func (e ProductChangeEvent) validate() error {
	if e.ID <= 0 {
		return fmt.Errorf("id must be positive, got %d", e.ID)
	}
	if e.Operation != "" && !e.Operation.IsValid() {
		return fmt.Errorf("unknown operation %q", e.Operation)
	}
	if e.SchemaVersion > SchemaVersion {
		return fmt.Errorf("unsupported schema version %d", e.SchemaVersion)
	}
	return nil
}

// OutboxRecord is a change event persisted in the same transaction as the
// write it describes, waiting to be relayed to the broker.
type OutboxRecord struct {
	ID          int64
	EventID     string
	AggregateID int64
	Operation   Operation
	Payload     []byte
	CreatedAt   time.Time
	Attempts    int
}

func NewOutboxRecord(event ProductChangeEvent) (OutboxRecord, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return OutboxRecord{}, fmt.Errorf("marshal event: %w", err)
	}
	return OutboxRecord{
		EventID:     event.EventID,
		AggregateID: event.ID,
		Operation:   event.Operation,
		Payload:     payload,
	}, nil
}
