package experiment

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
)

var (
	_ Store           = (*MemoryStore)(nil)
	_ AssignmentStore = (*MemoryStore)(nil)
	_ EventLog        = (*MemoryEventLog)(nil)
)

type assignmentKey struct {
	experimentID string
	userID       string
}

// MemoryStore keeps experiments and assignments in process memory.
// Suitable for tests and single-node deployments.
type MemoryStore struct {
	mu          sync.RWMutex
	experiments map[string]*Experiment
	assignments map[assignmentKey]*Assignment
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		experiments: make(map[string]*Experiment),
		assignments: make(map[assignmentKey]*Assignment),
	}
}

func (m *MemoryStore) CreateExperiment(ctx context.Context, exp *Experiment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.experiments[exp.ID]; exists {
		return errors.Join(ErrExperimentExists, errors.New(exp.ID))
	}
	m.experiments[exp.ID] = exp.Clone()
	return nil
}

func (m *MemoryStore) GetExperiment(ctx context.Context, id string) (*Experiment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exp, ok := m.experiments[id]
	if !ok {
		return nil, ErrExperimentNotFound
	}
	return exp.Clone(), nil
}

func (m *MemoryStore) ListExperiments(ctx context.Context, statuses ...Status) ([]*Experiment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Experiment, 0, len(m.experiments))
	for _, exp := range m.experiments {
		if len(statuses) > 0 && !slices.Contains(statuses, exp.Status) {
			continue
		}
		result = append(result, exp.Clone())
	}
	slices.SortFunc(result, func(a, b *Experiment) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return result, nil
}

func (m *MemoryStore) UpdateExperiment(ctx context.Context, exp *Experiment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.experiments[exp.ID]
	if !ok {
		return ErrExperimentNotFound
	}
	if stored.Version != exp.Version {
		return ErrConcurrentUpdate
	}
	exp.Version++
	m.experiments[exp.ID] = exp.Clone()
	return nil
}

func (m *MemoryStore) GetAssignment(ctx context.Context, experimentID, userID string) (*Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.assignments[assignmentKey{experimentID, userID}]
	if !ok {
		return nil, ErrAssignmentNotFound
	}
	c := *a
	return &c, nil
}

func (m *MemoryStore) InsertAssignmentIfAbsent(ctx context.Context, a *Assignment) (*Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := assignmentKey{a.ExperimentID, a.UserID}
	if existing, ok := m.assignments[key]; ok {
		c := *existing
		return &c, nil
	}
	stored := *a
	m.assignments[key] = &stored
	c := stored
	return &c, nil
}

func (m *MemoryStore) CountAssignments(ctx context.Context, experimentID string) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int64)
	for key, a := range m.assignments {
		if key.experimentID == experimentID {
			counts[a.Variant]++
		}
	}
	return counts, nil
}

type uniqueKey struct {
	experimentID string
	userID       string
	eventType    string
}

// MemoryEventLog is an in-process EventLog.
type MemoryEventLog struct {
	mu     sync.RWMutex
	events []*Event
	seen   map[uniqueKey]struct{}
}

// NewMemoryEventLog creates an empty event log.
func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{seen: make(map[uniqueKey]struct{})}
}

func (l *MemoryEventLog) Append(ctx context.Context, ev *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, ev.Clone())
	return nil
}

func (l *MemoryEventLog) AppendUnique(ctx context.Context, ev *Event) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := uniqueKey{ev.ExperimentID, ev.UserID, ev.EventType}
	if _, dup := l.seen[key]; dup {
		return false, nil
	}
	l.seen[key] = struct{}{}
	l.events = append(l.events, ev.Clone())
	return true, nil
}

func (l *MemoryEventLog) Aggregate(ctx context.Context, experimentID, eventType string) (map[string]Tally, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	tallies := make(map[string]Tally)
	users := make(map[string]map[string]struct{})
	for _, ev := range l.events {
		if ev.ExperimentID != experimentID || ev.EventType != eventType {
			continue
		}
		t := tallies[ev.Variant]
		t.Events++
		t.Sum += ev.Value
		if users[ev.Variant] == nil {
			users[ev.Variant] = make(map[string]struct{})
		}
		if _, ok := users[ev.Variant][ev.UserID]; !ok {
			users[ev.Variant][ev.UserID] = struct{}{}
			t.Users++
		}
		tallies[ev.Variant] = t
	}
	return tallies, nil
}

// Events returns a copy of every stored event in append order.
func (l *MemoryEventLog) Events() []*Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Event, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Clone()
	}
	return out
}
