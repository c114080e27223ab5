package mirror

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"product-sync/internal/products"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
)

// memoryStore keeps one document per product and rejects older versions the
// way the Mongo store does.
type memoryStore struct {
	mu   sync.Mutex
	docs map[int64]ProductDocument
	err  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{docs: make(map[int64]ProductDocument)}
}

func (s *memoryStore) Upsert(_ context.Context, doc ProductDocument) error {
	return s.write(doc)
}

func (s *memoryStore) MarkDeleted(_ context.Context, doc ProductDocument) error {
	return s.write(doc)
}

func (s *memoryStore) write(doc ProductDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if cur, ok := s.docs[doc.ProductID]; ok {
		if cur.SourceVersion() > doc.SourceVersion() {
			return ErrStale
		}
		doc.DocumentID = cur.DocumentID
	} else {
		doc.DocumentID = "doc-" + doc.Name
	}
	s.docs[doc.ProductID] = doc
	return nil
}

func (s *memoryStore) get(id int64) (ProductDocument, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	return doc, ok
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	requeue bool
}

func (f *fakeAcknowledger) Ack(uint64, bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks++
	return nil
}

func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacks++
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	return f.Nack(0, false, requeue)
}

func (f *fakeAcknowledger) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acks, f.nacks
}

type publishedMessage struct {
	queue string
	msg   amqp.Publishing
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
	err      error
}

func (f *fakePublisher) PublishMessage(_ context.Context, queue string, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, publishedMessage{queue: queue, msg: msg})
	return nil
}

func (f *fakePublisher) published() []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedMessage(nil), f.messages...)
}

var errStoreDown = errors.New("document store unreachable")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

func testEvent(op products.Operation, id int64, updatedAt time.Time) products.ProductChangeEvent {
	return products.ProductChangeEvent{
		EventID:       "evt-" + string(op),
		SchemaVersion: products.SchemaVersion,
		Operation:     op,
		ID:            id,
		Name:          "Widget",
		Description:   "steel",
		Price:         decimal.RequireFromString("9.99"),
		Stock:         10,
		Category:      "tools",
		CreatedAt:     updatedAt.Add(-time.Hour),
		UpdatedAt:     updatedAt,
	}
}
