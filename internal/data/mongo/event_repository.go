package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/onchain-casino-settlement/internal/domain/outbox"
)

const (
	// EventCollectionName is the audit collection holding every published settlement event
	EventCollectionName = "settlement_events"
)

// EventRepository implements outbox.EventStore for MongoDB
type EventRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewEventRepository creates a new MongoDB settlement event store
func NewEventRepository(logger *slog.Logger, db *mongo.Database) outbox.EventStore {
	return &EventRepository{
		db:     db,
		logger: logger,
	}
}

// Record upserts the event keyed by event_id. Replaying an already
// recorded event leaves the stored document untouched.
func (r *EventRepository) Record(ctx context.Context, event *outbox.Event) error {
	collection := r.db.Collection(EventCollectionName)

	filter := bson.M{"event_id": event.EventID}
	update := bson.M{"$setOnInsert": event}
	opts := options.Update().SetUpsert(true)

	result, err := collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		r.logger.Error("Failed to record settlement event",
			"event_id", event.EventID.String(),
			"event_type", string(event.EventType),
			"error", err)
		return fmt.Errorf("failed to record settlement event: %w", err)
	}

	if result.MatchedCount > 0 {
		r.logger.Debug("Settlement event already recorded", "event_id", event.EventID.String())
	}
	return nil
}

// GetByEventID retrieves a recorded event
func (r *EventRepository) GetByEventID(ctx context.Context, eventID uuid.UUID) (*outbox.Event, error) {
	collection := r.db.Collection(EventCollectionName)

	var event outbox.Event
	err := collection.FindOne(ctx, bson.M{"event_id": eventID}).Decode(&event)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, outbox.ErrEventNotFound{EventID: eventID}
		}
		r.logger.Error("Failed to get settlement event",
			"event_id", eventID.String(),
			"error", err)
		return nil, fmt.Errorf("failed to get settlement event: %w", err)
	}
	return &event, nil
}

// ListByAggregate returns the events of one aggregate (deposit signature,
// withdrawal id, play id), newest first.
func (r *EventRepository) ListByAggregate(ctx context.Context, aggregateID string, limit, offset int) ([]*outbox.Event, error) {
	collection := r.db.Collection(EventCollectionName)

	opts := options.Find().
		SetSort(bson.M{"occurred_at": -1}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, bson.M{"aggregate_id": aggregateID}, opts)
	if err != nil {
		r.logger.Error("Failed to list settlement events",
			"aggregate_id", aggregateID,
			"error", err)
		return nil, fmt.Errorf("failed to list settlement events: %w", err)
	}
	defer cursor.Close(ctx)

	var events []*outbox.Event
	if err := cursor.All(ctx, &events); err != nil {
		r.logger.Error("Failed to decode settlement events",
			"aggregate_id", aggregateID,
			"error", err)
		return nil, fmt.Errorf("failed to decode settlement events: %w", err)
	}
	return events, nil
}

// EnsureEventIndexes creates the unique event_id index that makes Record
// idempotent under concurrent relays, plus the per-aggregate listing index
func EnsureEventIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(EventCollectionName).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_event_id"),
		},
		{
			Keys:    bson.D{{Key: "aggregate_id", Value: 1}, {Key: "occurred_at", Value: -1}},
			Options: options.Index().SetName("aggregate_occurred_at"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create settlement event indexes: %w", err)
	}
	return nil
}
