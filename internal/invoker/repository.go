package invoker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	pkgerrors "relay/pkg/errors"
)

// Repository is the durable invocation ledger. Insert relies on the
// unique index on correlation_id; the resulting ConflictError is how a
// concurrent worker learns another dispatch already started this run.
type Repository interface {
	FindByCorrelationID(ctx context.Context, correlationID string) (*Invocation, error)
	Insert(ctx context.Context, inv *Invocation) error
	Supersede(ctx context.Context, inv *Invocation) error
	UpdateStatus(ctx context.Context, correlationID string, status Status, completedAt *time.Time) error
}

type MongoDBRepository struct {
	collection *mongo.Collection
}

func NewRepository(db *mongo.Database) Repository {
	return &MongoDBRepository{
		collection: db.Collection("pipeline_invocations"),
	}
}

func (r *MongoDBRepository) FindByCorrelationID(ctx context.Context, correlationID string) (*Invocation, error) {
	filter := bson.M{"correlation_id": correlationID}

	var inv Invocation
	err := r.collection.FindOne(ctx, filter).Decode(&inv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("no invocation for correlation id %s", correlationID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find invocation: %w", err)
	}

	return &inv, nil
}

func (r *MongoDBRepository) Insert(ctx context.Context, inv *Invocation) error {
	_, err := r.collection.InsertOne(ctx, inv)
	if mongo.IsDuplicateKeyError(err) {
		return pkgerrors.ErrConflict.WithCause(err).WithDetail("message", fmt.Sprintf("invocation %s already recorded", inv.CorrelationID))
	}
	if err != nil {
		return fmt.Errorf("failed to insert invocation: %w", err)
	}

	return nil
}

// Supersede replaces a Failed invocation with a fresh run record. The
// status filter makes the replacement conditional: if the Failed
// document is gone or a live run took its place, nothing matches and
// the caller gets a ConflictError instead of clobbering that run.
func (r *MongoDBRepository) Supersede(ctx context.Context, inv *Invocation) error {
	filter := bson.M{
		"correlation_id": inv.CorrelationID,
		"status":         StatusFailed,
	}

	result, err := r.collection.ReplaceOne(ctx, filter, inv)
	if err != nil {
		return fmt.Errorf("failed to supersede invocation: %w", err)
	}
	if result.MatchedCount == 0 {
		return pkgerrors.ErrConflict.WithDetail("message", fmt.Sprintf("invocation %s changed concurrently", inv.CorrelationID))
	}

	return nil
}

func (r *MongoDBRepository) UpdateStatus(ctx context.Context, correlationID string, status Status, completedAt *time.Time) error {
	filter := bson.M{"correlation_id": correlationID}
	update := bson.M{"$set": bson.M{
		"status":       status,
		"completed_at": completedAt,
	}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update invocation status: %w", err)
	}
	if result.MatchedCount == 0 {
		return pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("no invocation for correlation id %s", correlationID))
	}

	return nil
}
