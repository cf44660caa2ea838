package experiment

import (
	"maps"
	"slices"
	"time"
)

// ControlVariant is the baseline every experiment must declare. Users outside
// a running experiment are always served control.
const ControlVariant = "control"

// UnknownVariant tags events from users that were never assigned.
const UnknownVariant = "unknown"

// Status is the lifecycle state of an experiment.
type Status string

const (
	StatusDraft   Status = "draft"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusStopped Status = "stopped"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusRunning, StatusPaused, StatusStopped:
		return true
	}
	return false
}

// Experiment is a randomized comparison of named variants.
type Experiment struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	FeatureName string `json:"feature_name,omitempty"`
	Status      Status `json:"status"`
	// Variants are kept in declaration order; bucket slices follow it.
	Variants []string `json:"variants"`
	// Allocation maps each variant to its integer share of traffic. Shares
	// sum to 100 while the experiment runs.
	Allocation     map[string]int `json:"allocation"`
	WinningVariant string         `json:"winning_variant,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	StoppedAt      *time.Time     `json:"stopped_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	// Version increases with every stored update.
	Version int64 `json:"version"`
}

// Clone returns a deep copy of e.
func (e *Experiment) Clone() *Experiment {
	if e == nil {
		return nil
	}
	c := *e
	c.Variants = slices.Clone(e.Variants)
	c.Allocation = maps.Clone(e.Allocation)
	if e.StartedAt != nil {
		t := *e.StartedAt
		c.StartedAt = &t
	}
	if e.StoppedAt != nil {
		t := *e.StoppedAt
		c.StoppedAt = &t
	}
	return &c
}

// Spec describes a new experiment.
type Spec struct {
	// ID is generated when empty.
	ID          string         `json:"id,omitempty"`
	Name        string         `json:"name,omitempty"`
	FeatureName string         `json:"feature_name,omitempty"`
	Variants    []string       `json:"variants"`
	Allocation  map[string]int `json:"allocation"`
}

// Assignment binds a user to a variant for the lifetime of an experiment.
type Assignment struct {
	ExperimentID string    `json:"experiment_id"`
	UserID       string    `json:"user_id"`
	Variant      string    `json:"variant"`
	AssignedAt   time.Time `json:"assigned_at"`
}
