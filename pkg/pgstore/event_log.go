package pgstore

import (
	"context"
	"fmt"

	"github.com/dmitrymomot/featurelab/pkg/experiment"
)

var _ experiment.EventLog = (*EventLog)(nil)

// EventLog stores conversion events in PostgreSQL. It is the fallback when
// no MongoDB event log is configured.
type EventLog struct {
	db DB
}

// NewEventLog creates an event log.
// Panics if db is nil to fail fast during initialization.
func NewEventLog(db DB) *EventLog {
	if db == nil {
		panic("pgstore: DB is required")
	}
	return &EventLog{db: db}
}

const insertEvent = `
	INSERT INTO conversion_events (id, experiment_id, user_id, variant, event_type, value,
		session_id, metadata, occurred_at, first_occurrence)
	VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10)`

func eventArgs(ev *experiment.Event, first bool) []any {
	var metadata map[string]string
	if len(ev.Metadata) > 0 {
		metadata = ev.Metadata
	}
	return []any{ev.ID, ev.ExperimentID, ev.UserID, ev.Variant, ev.EventType, ev.Value,
		ev.SessionID, metadata, ev.OccurredAt, first}
}

func (l *EventLog) Append(ctx context.Context, ev *experiment.Event) error {
	if _, err := l.db.Exec(ctx, insertEvent, eventArgs(ev, false)...); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// AppendUnique relies on the partial unique index over first-occurrence rows.
func (l *EventLog) AppendUnique(ctx context.Context, ev *experiment.Event) (bool, error) {
	tag, err := l.db.Exec(ctx,
		insertEvent+` ON CONFLICT (experiment_id, user_id, event_type) WHERE first_occurrence DO NOTHING`,
		eventArgs(ev, true)...)
	if err != nil {
		return false, fmt.Errorf("append unique event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (l *EventLog) Aggregate(ctx context.Context, experimentID, eventType string) (map[string]experiment.Tally, error) {
	rows, err := l.db.Query(ctx, `
		SELECT variant, count(DISTINCT user_id), count(*), COALESCE(sum(value), 0)
		FROM conversion_events
		WHERE experiment_id = $1 AND event_type = $2
		GROUP BY variant`, experimentID, eventType)
	if err != nil {
		return nil, fmt.Errorf("aggregate events of %q: %w", experimentID, err)
	}
	defer rows.Close()

	tallies := make(map[string]experiment.Tally)
	for rows.Next() {
		var (
			variant string
			t       experiment.Tally
		)
		if err := rows.Scan(&variant, &t.Users, &t.Events, &t.Sum); err != nil {
			return nil, fmt.Errorf("aggregate events of %q: %w", experimentID, err)
		}
		tallies[variant] = t
	}
	return tallies, rows.Err()
}
