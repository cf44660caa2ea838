package experiment

import (
	"maps"
	"time"
)

// DefaultConversionEvent is the event type statistics are computed over
// unless configured otherwise.
const DefaultConversionEvent = "conversion"

// Counting is how repeated events of one type are treated.
type Counting int

const (
	// FirstOccurrence counts a user once per experiment; repeats are no-ops.
	FirstOccurrence Counting = iota
	// Accumulating appends every event and sums values at aggregation time.
	Accumulating
)

func (c Counting) String() string {
	switch c {
	case FirstOccurrence:
		return "first_occurrence"
	case Accumulating:
		return "accumulating"
	}
	return "unknown"
}

// EventTypes declares the counting semantics of each known event type.
type EventTypes map[string]Counting

// DefaultEventTypes returns the built-in registry.
func DefaultEventTypes() EventTypes {
	return EventTypes{
		DefaultConversionEvent: FirstOccurrence,
		"signup":               FirstOccurrence,
		"purchase":             Accumulating,
		"session_completed":    Accumulating,
	}
}

// Event is a recorded user action attributed to an experiment variant.
type Event struct {
	ID           string            `json:"id"`
	ExperimentID string            `json:"experiment_id"`
	UserID       string            `json:"user_id"`
	Variant      string            `json:"variant"`
	EventType    string            `json:"event_type"`
	Value        float64           `json:"value"`
	SessionID    string            `json:"session_id,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

// Clone returns a deep copy of ev.
func (ev *Event) Clone() *Event {
	if ev == nil {
		return nil
	}
	c := *ev
	c.Metadata = maps.Clone(ev.Metadata)
	return &c
}
