package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/featurelab/pkg/experiment"
)

var _ experiment.EventLog = (*EventLog)(nil)

type eventDocument struct {
	ID              string            `bson:"_id"`
	ExperimentID    string            `bson:"experiment_id"`
	UserID          string            `bson:"user_id"`
	Variant         string            `bson:"variant"`
	EventType       string            `bson:"event_type"`
	Value           float64           `bson:"value"`
	SessionID       string            `bson:"session_id,omitempty"`
	Metadata        map[string]string `bson:"metadata,omitempty"`
	OccurredAt      time.Time         `bson:"occurred_at"`
	FirstOccurrence bool              `bson:"first_occurrence"`
}

func newEventDocument(ev *experiment.Event, firstOccurrence bool) eventDocument {
	return eventDocument{
		ID:              ev.ID,
		ExperimentID:    ev.ExperimentID,
		UserID:          ev.UserID,
		Variant:         ev.Variant,
		EventType:       ev.EventType,
		Value:           ev.Value,
		SessionID:       ev.SessionID,
		Metadata:        ev.Metadata,
		OccurredAt:      ev.OccurredAt.UTC(),
		FirstOccurrence: firstOccurrence,
	}
}

// EventLog stores conversion events in a MongoDB collection.
//
// First-occurrence events are deduplicated by a unique partial index on
// (experiment_id, user_id, event_type), so EnsureIndexes must run before
// the log is used.
type EventLog struct {
	coll *mongo.Collection
}

// NewEventLog creates an event log on coll.
// Panics if coll is nil to fail fast during initialization.
func NewEventLog(coll *mongo.Collection) *EventLog {
	if coll == nil {
		panic("mongo: collection is required")
	}
	return &EventLog{coll: coll}
}

// EnsureIndexes creates the deduplication and aggregation indexes.
// It is idempotent.
func (l *EventLog) EnsureIndexes(ctx context.Context) error {
	_, err := l.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "experiment_id", Value: 1}, {Key: "user_id", Value: 1}, {Key: "event_type", Value: 1}},
			Options: options.Index().
				SetName("first_occurrence_unique").
				SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: "first_occurrence", Value: true}}),
		},
		{
			Keys:    bson.D{{Key: "experiment_id", Value: 1}, {Key: "event_type", Value: 1}, {Key: "variant", Value: 1}},
			Options: options.Index().SetName("experiment_event_variant"),
		},
	})
	if err != nil {
		return fmt.Errorf("create event indexes: %w", err)
	}
	return nil
}

func (l *EventLog) Append(ctx context.Context, ev *experiment.Event) error {
	if _, err := l.coll.InsertOne(ctx, newEventDocument(ev, false)); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (l *EventLog) AppendUnique(ctx context.Context, ev *experiment.Event) (bool, error) {
	_, err := l.coll.InsertOne(ctx, newEventDocument(ev, true))
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("append unique event: %w", err)
	}
	return true, nil
}

type tallyRow struct {
	Variant string  `bson:"_id"`
	Users   int64   `bson:"users"`
	Events  int64   `bson:"events"`
	Sum     float64 `bson:"sum"`
}

func (l *EventLog) Aggregate(ctx context.Context, experimentID, eventType string) (map[string]experiment.Tally, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "experiment_id", Value: experimentID},
			{Key: "event_type", Value: eventType},
		}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{{Key: "variant", Value: "$variant"}, {Key: "user", Value: "$user_id"}}},
			{Key: "events", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "sum", Value: bson.D{{Key: "$sum", Value: "$value"}}},
		}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$_id.variant"},
			{Key: "users", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "events", Value: bson.D{{Key: "$sum", Value: "$events"}}},
			{Key: "sum", Value: bson.D{{Key: "$sum", Value: "$sum"}}},
		}}},
	}

	cursor, err := l.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate events: %w", err)
	}
	var rows []tallyRow
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("aggregate events: %w", err)
	}

	tallies := make(map[string]experiment.Tally, len(rows))
	for _, r := range rows {
		tallies[r.Variant] = experiment.Tally{Users: r.Users, Events: r.Events, Sum: r.Sum}
	}
	return tallies, nil
}
