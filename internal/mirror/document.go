package mirror

import (
	"errors"
	"time"

	"product-sync/internal/products"

	"github.com/shopspring/decimal"
)

var (
	// ErrStale is returned by a DocumentStore when the stored document was
	// built from a newer product version than the one being written.
	ErrStale = errors.New("stale product version")

	ErrDocumentNotFound = errors.New("product document not found")
)

// ProductDocument is the mirrored copy of a product. There is at most one per
// ProductID; a deleted product keeps its document with DeletedAt set.
type ProductDocument struct {
	DocumentID  string          `json:"documentId,omitempty"`
	ProductID   int64           `json:"productId"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Category    string          `json:"category"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	SyncedAt    time.Time       `json:"syncedAt"`
	DeletedAt   *time.Time      `json:"deletedAt,omitempty"`
	EventID     string          `json:"eventId,omitempty"`
}

func NewDocument(event products.ProductChangeEvent, syncedAt time.Time) ProductDocument {
	doc := ProductDocument{
		ProductID:   event.ID,
		Name:        event.Name,
		Description: event.Description,
		Price:       event.Price,
		Stock:       event.Stock,
		Category:    event.Category,
		CreatedAt:   event.CreatedAt,
		UpdatedAt:   event.UpdatedAt,
		SyncedAt:    syncedAt,
		EventID:     event.EventID,
	}
	if event.Operation == products.OperationDeleted {
		deletedAt := event.UpdatedAt
		doc.DeletedAt = &deletedAt
	}
	return doc
}

// SourceVersion orders writes of the same product. It has microsecond
// resolution to match the relational timestamps.
func (d ProductDocument) SourceVersion() int64 {
	return d.UpdatedAt.UnixMicro()
}

func (d ProductDocument) Deleted() bool {
	return d.DeletedAt != nil
}
