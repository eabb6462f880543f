package archive

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"abuseflow/internal/config"
	"abuseflow/pkg/metrics"
)

// Document is one archived raw message. The archive is written before the
// mailbox message is marked seen, so a crash between the two redelivers the
// message instead of losing it.
type Document struct {
	UID        uint32    `bson:"uid"`
	MessageID  string    `bson:"message_id"`
	Raw        []byte    `bson:"raw"`
	FetchedAt  time.Time `bson:"fetched_at"`
	ArchivedAt time.Time `bson:"archived_at"`
}

type Repository interface {
	Store(ctx context.Context, doc Document) error
	ListRecent(ctx context.Context, limit int) ([]Document, error)
}

type MongoRepository struct {
	collection *mongo.Collection
}

func NewRepository(client *mongo.Client, cfg config.MongoDBConfig) *MongoRepository {
	return &MongoRepository{
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
	}
}

func (r *MongoRepository) Store(ctx context.Context, doc Document) error {
	doc.ArchivedAt = time.Now().UTC()
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("archive message: %w", err)
	}
	metrics.ArchivedMessagesTotal.Inc()
	return nil
}

func (r *MongoRepository) ListRecent(ctx context.Context, limit int) ([]Document, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "archived_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list archived messages: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode archived messages: %w", err)
	}
	return docs, nil
}

// NopRepository is used when no archive backend is configured.
type NopRepository struct{}

func (NopRepository) Store(ctx context.Context, doc Document) error { return nil }

func (NopRepository) ListRecent(ctx context.Context, limit int) ([]Document, error) {
	return nil, nil
}
