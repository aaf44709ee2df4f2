package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureDecisionRecordsCollection creates the indexes the audit queries
// rely on. The collection itself is created on first insert.
func EnsureDecisionRecordsCollection(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection("decision_records")

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("idx_decision_records_timestamp"),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("idx_decision_records_user_timestamp"),
		},
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().SetName("idx_decision_records_event_id"),
		},
	}

	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create decision_records indexes: %w", err)
		}
	}

	return nil
}
