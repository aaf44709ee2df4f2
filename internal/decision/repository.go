package decision

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const decisionRecordsCollection = "decision_records"

// AuditRepository is the append-only sink for decision records.
type AuditRepository interface {
	Insert(ctx context.Context, record Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
}

type MongoAuditRepository struct {
	collection *mongo.Collection
}

func NewAuditRepository(db *mongo.Database) AuditRepository {
	return &MongoAuditRepository{
		collection: db.Collection(decisionRecordsCollection),
	}
}

func (r *MongoAuditRepository) Insert(ctx context.Context, record Record) error {
	if _, err := r.collection.InsertOne(ctx, record); err != nil {
		return fmt.Errorf("failed to insert decision record: %w", err)
	}
	return nil
}

// Recent returns the newest records first.
func (r *MongoAuditRepository) Recent(ctx context.Context, limit int) ([]Record, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query decision records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []Record
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode decision records: %w", err)
	}

	return records, nil
}
