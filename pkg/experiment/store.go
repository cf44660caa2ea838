package experiment

import "context"

// Store persists experiment definitions.
type Store interface {
	// CreateExperiment stores a new experiment or returns ErrExperimentExists.
	CreateExperiment(ctx context.Context, exp *Experiment) error
	// GetExperiment returns ErrExperimentNotFound for unknown ids.
	GetExperiment(ctx context.Context, id string) (*Experiment, error)
	// ListExperiments returns experiments in any of statuses, or all of them
	// when none are given.
	ListExperiments(ctx context.Context, statuses ...Status) ([]*Experiment, error)
	// UpdateExperiment replaces a stored experiment when the stored version
	// still equals exp.Version, then increments exp.Version. A stale version
	// yields ErrConcurrentUpdate.
	UpdateExperiment(ctx context.Context, exp *Experiment) error
}

// AssignmentStore persists variant assignments. Assignments are unique per
// (experiment, user) and never rewritten.
type AssignmentStore interface {
	// GetAssignment returns ErrAssignmentNotFound when the user is unassigned.
	GetAssignment(ctx context.Context, experimentID, userID string) (*Assignment, error)
	// InsertAssignmentIfAbsent atomically stores a unless an assignment for
	// the same (experiment, user) exists, and returns whichever is stored.
	InsertAssignmentIfAbsent(ctx context.Context, a *Assignment) (*Assignment, error)
	// CountAssignments returns the number of assigned users per variant.
	CountAssignments(ctx context.Context, experimentID string) (map[string]int64, error)
}

// EventLog is the append-only store of conversion events.
type EventLog interface {
	// Append stores ev unconditionally.
	Append(ctx context.Context, ev *Event) error
	// AppendUnique stores ev unless an event with the same experiment, user
	// and type exists. It reports whether ev was stored.
	AppendUnique(ctx context.Context, ev *Event) (bool, error)
	// Aggregate tallies events of eventType per variant.
	Aggregate(ctx context.Context, experimentID, eventType string) (map[string]Tally, error)
}

// Tally aggregates one variant's events of one type.
type Tally struct {
	// Users is the number of distinct users with at least one event.
	Users int64
	// Events is the number of stored events.
	Events int64
	// Sum is the total of event values.
	Sum float64
}
