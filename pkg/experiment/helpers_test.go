package experiment_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/featurelab/pkg/experiment"
)

var errStoreDown = errors.New("store unavailable")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock() func() time.Time {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func newEngine(t *testing.T, opts ...experiment.Option) (*experiment.Engine, *experiment.MemoryStore) {
	t.Helper()
	store := experiment.NewMemoryStore()
	opts = append([]experiment.Option{
		experiment.WithLogger(discardLogger()),
		experiment.WithClock(fixedClock()),
	}, opts...)
	return experiment.NewEngine(store, store, opts...), store
}

func halfSplit(id string) experiment.Spec {
	return experiment.Spec{
		ID:         id,
		Variants:   []string{"control", "treatment"},
		Allocation: map[string]int{"control": 50, "treatment": 50},
	}
}

func startExperiment(t *testing.T, engine *experiment.Engine, spec experiment.Spec) *experiment.Experiment {
	t.Helper()
	ctx := context.Background()
	exp, err := engine.Create(ctx, spec)
	require.NoError(t, err)
	exp, err = engine.Start(ctx, exp.ID)
	require.NoError(t, err)
	return exp
}

// unreadableAssignments fails every assignment read.
type unreadableAssignments struct {
	experiment.AssignmentStore
	inserts int
}

func (s *unreadableAssignments) GetAssignment(ctx context.Context, experimentID, userID string) (*experiment.Assignment, error) {
	return nil, errStoreDown
}

func (s *unreadableAssignments) InsertAssignmentIfAbsent(ctx context.Context, a *experiment.Assignment) (*experiment.Assignment, error) {
	s.inserts++
	return s.AssignmentStore.InsertAssignmentIfAbsent(ctx, a)
}

// racingAssignments simulates a concurrent writer that stores a competing
// assignment between this caller's read and its insert.
type racingAssignments struct {
	experiment.AssignmentStore
	competitor string
	once       sync.Once
}

func (s *racingAssignments) GetAssignment(ctx context.Context, experimentID, userID string) (*experiment.Assignment, error) {
	return nil, experiment.ErrAssignmentNotFound
}

func (s *racingAssignments) InsertAssignmentIfAbsent(ctx context.Context, a *experiment.Assignment) (*experiment.Assignment, error) {
	s.once.Do(func() {
		rival := *a
		rival.Variant = s.competitor
		_, _ = s.AssignmentStore.InsertAssignmentIfAbsent(ctx, &rival)
	})
	return s.AssignmentStore.InsertAssignmentIfAbsent(ctx, a)
}

// failingEvents fails every write.
type failingEvents struct {
	experiment.EventLog
}

func (failingEvents) Append(context.Context, *experiment.Event) error {
	return errStoreDown
}

func (failingEvents) AppendUnique(context.Context, *experiment.Event) (bool, error) {
	return false, errStoreDown
}

// interleavedStop stops the experiment right before the first update it
// sees once armed, as if an operator's stop committed between another
// writer's read and write.
type interleavedStop struct {
	experiment.Store
	engine *experiment.Engine
	armed  bool
}

func (s *interleavedStop) UpdateExperiment(ctx context.Context, exp *experiment.Experiment) error {
	if s.armed {
		s.armed = false
		if _, err := s.engine.Stop(ctx, exp.ID); err != nil {
			return err
		}
	}
	return s.Store.UpdateExperiment(ctx, exp)
}

func newInterleavedEngine(t *testing.T) (*experiment.Engine, *experiment.MemoryStore, *interleavedStop) {
	t.Helper()
	store := experiment.NewMemoryStore()
	racing := &interleavedStop{Store: store}
	racing.engine = experiment.NewEngine(racing, store,
		experiment.WithLogger(discardLogger()),
		experiment.WithClock(fixedClock()),
	)
	return racing.engine, store, racing
}
