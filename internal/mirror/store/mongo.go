package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"product-sync/internal/mirror"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const healthCheckTimeout = 2 * time.Second

// record is the stored shape of a mirror.ProductDocument. sourceVersion is
// kept next to updatedAt because BSON dates only hold milliseconds.
type record struct {
	ID            primitive.ObjectID   `bson:"_id,omitempty"`
	ProductID     int64                `bson:"productId"`
	Name          string               `bson:"name"`
	Description   string               `bson:"description"`
	Price         primitive.Decimal128 `bson:"price"`
	Stock         int                  `bson:"stock"`
	Category      string               `bson:"category"`
	CreatedAt     time.Time            `bson:"createdAt"`
	UpdatedAt     time.Time            `bson:"updatedAt"`
	SourceVersion int64                `bson:"sourceVersion"`
	SyncedAt      time.Time            `bson:"syncedAt"`
	DeletedAt     *time.Time           `bson:"deletedAt,omitempty"`
	EventID       string               `bson:"eventId,omitempty"`
}

func (r record) document() (mirror.ProductDocument, error) {
	price, err := decimal.NewFromString(r.Price.String())
	if err != nil {
		return mirror.ProductDocument{}, fmt.Errorf("parse stored price: %w", err)
	}
	return mirror.ProductDocument{
		DocumentID:  r.ID.Hex(),
		ProductID:   r.ProductID,
		Name:        r.Name,
		Description: r.Description,
		Price:       price,
		Stock:       r.Stock,
		Category:    r.Category,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		SyncedAt:    r.SyncedAt,
		DeletedAt:   r.DeletedAt,
		EventID:     r.EventID,
	}, nil
}

type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// Connect dials MongoDB and waits for the primary to answer a ping.
func Connect(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return client, nil
}

func NewMongo(client *mongo.Client, database, collection string) *MongoStore {
	return &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(collection),
	}
}

// EnsureIndexes creates the unique productId index that keeps one document
// per product.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "productId", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("productId_unique"),
	})
	if err != nil {
		return fmt.Errorf("create productId index: %w", err)
	}
	return nil
}

func (s *MongoStore) Upsert(ctx context.Context, doc mirror.ProductDocument) error {
	return s.write(ctx, doc, bson.M{"$unset": bson.M{"deletedAt": ""}})
}

func (s *MongoStore) MarkDeleted(ctx context.Context, doc mirror.ProductDocument) error {
	if doc.DeletedAt == nil {
		deletedAt := doc.UpdatedAt
		doc.DeletedAt = &deletedAt
	}
	return s.write(ctx, doc, bson.M{})
}

// write replaces the product's document when the stored version is not
// newer. Otherwise the upsert collides with the unique index and the write is
// reported as stale.
func (s *MongoStore) write(ctx context.Context, doc mirror.ProductDocument, update bson.M) error {
	price, err := primitive.ParseDecimal128(doc.Price.String())
	if err != nil {
		return fmt.Errorf("convert price %s: %w", doc.Price, err)
	}

	version := doc.SourceVersion()
	set := bson.M{
		"productId":     doc.ProductID,
		"name":          doc.Name,
		"description":   doc.Description,
		"price":         price,
		"stock":         doc.Stock,
		"category":      doc.Category,
		"createdAt":     doc.CreatedAt,
		"updatedAt":     doc.UpdatedAt,
		"sourceVersion": version,
		"syncedAt":      doc.SyncedAt,
		"eventId":       doc.EventID,
	}
	if doc.DeletedAt != nil {
		set["deletedAt"] = *doc.DeletedAt
	}
	update["$set"] = set

	filter := bson.M{
		"productId":     doc.ProductID,
		"sourceVersion": bson.M{"$lte": version},
	}

	_, err = s.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return mirror.ErrStale
	}
	if err != nil {
		return fmt.Errorf("upsert product %d: %w", doc.ProductID, err)
	}
	return nil
}

// FindByProductID returns the mirrored document, tombstones included.
func (s *MongoStore) FindByProductID(ctx context.Context, productID int64) (mirror.ProductDocument, error) {
	var rec record
	err := s.coll.FindOne(ctx, bson.M{"productId": productID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return mirror.ProductDocument{}, mirror.ErrDocumentNotFound
	}
	if err != nil {
		return mirror.ProductDocument{}, fmt.Errorf("find product %d: %w", productID, err)
	}
	return rec.document()
}

func (s *MongoStore) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()
	return s.client.Ping(ctx, readpref.Primary())
}
