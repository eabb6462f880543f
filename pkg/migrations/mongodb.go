package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureArchiveIndexes creates the indexes the raw message archive queries
// rely on. The collection itself is created lazily on first insert.
func EnsureArchiveIndexes(ctx context.Context, db *mongo.Database, collection string) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "message_id", Value: 1}},
			Options: options.Index().SetName("idx_archive_message_id"),
		},
		{
			Keys:    bson.D{{Key: "archived_at", Value: -1}},
			Options: options.Index().SetName("idx_archive_archived_at"),
		},
	}

	_, err := db.Collection(collection).Indexes().CreateMany(ctx, indexes)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create archive indexes: %w", err)
	}
	return nil
}
