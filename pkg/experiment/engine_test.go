package experiment_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/featurelab/pkg/experiment"
)

func TestEngine_Create(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("generates id", func(t *testing.T) {
		t.Parallel()
		engine, _ := newEngine(t, experiment.WithIDGenerator(func() string { return "generated" }))

		spec := halfSplit("")
		exp, err := engine.Create(ctx, spec)
		require.NoError(t, err)
		assert.Equal(t, "generated", exp.ID)
		assert.Equal(t, experiment.StatusDraft, exp.Status)
		assert.Equal(t, []string{"control", "treatment"}, exp.Variants)

		spec.Allocation["control"] = 10
		stored, err := engine.Get(ctx, "generated")
		require.NoError(t, err)
		assert.Equal(t, 50, stored.Allocation["control"], "spec is copied")
	})

	t.Run("duplicate id", func(t *testing.T) {
		t.Parallel()
		engine, _ := newEngine(t)
		_, err := engine.Create(ctx, halfSplit("dup"))
		require.NoError(t, err)
		_, err = engine.Create(ctx, halfSplit("dup"))
		assert.ErrorIs(t, err, experiment.ErrExperimentExists)
	})

	invalid := []struct {
		name string
		spec experiment.Spec
	}{
		{"no variants", experiment.Spec{ID: "x"}},
		{"missing control", experiment.Spec{
			ID: "x", Variants: []string{"a", "b"}, Allocation: map[string]int{"a": 50, "b": 50},
		}},
		{"duplicate variant", experiment.Spec{
			ID: "x", Variants: []string{"control", "b", "b"}, Allocation: map[string]int{"control": 50, "b": 50},
		}},
		{"empty variant", experiment.Spec{
			ID: "x", Variants: []string{"control", ""}, Allocation: map[string]int{"control": 100},
		}},
		{"reserved variant", experiment.Spec{
			ID: "x", Variants: []string{"control", "unknown"}, Allocation: map[string]int{"control": 50, "unknown": 50},
		}},
		{"sum below 100", experiment.Spec{
			ID: "x", Variants: []string{"control", "b"}, Allocation: map[string]int{"control": 50, "b": 47},
		}},
		{"sum above 100", experiment.Spec{
			ID: "x", Variants: []string{"control", "b"}, Allocation: map[string]int{"control": 60, "b": 50},
		}},
		{"negative share", experiment.Spec{
			ID: "x", Variants: []string{"control", "b"}, Allocation: map[string]int{"control": 110, "b": -10},
		}},
		{"undeclared variant", experiment.Spec{
			ID: "x", Variants: []string{"control"}, Allocation: map[string]int{"control": 50, "ghost": 50},
		}},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			engine, _ := newEngine(t)
			_, err := engine.Create(ctx, tc.spec)
			assert.ErrorIs(t, err, experiment.ErrInvalidExperiment)
			assert.True(t, experiment.IsValidationError(err))

			_, err = engine.Get(ctx, "x")
			assert.ErrorIs(t, err, experiment.ErrExperimentNotFound, "nothing stored")
		})
	}

	t.Run("feature validator", func(t *testing.T) {
		t.Parallel()
		engine, _ := newEngine(t, experiment.WithFeatureValidator(func(ctx context.Context, name string) error {
			if name != "checkout_v2" {
				return errors.New("unknown feature")
			}
			return nil
		}))

		spec := halfSplit("ok")
		spec.FeatureName = "checkout_v2"
		_, err := engine.Create(ctx, spec)
		require.NoError(t, err)

		spec = halfSplit("bad")
		spec.FeatureName = "nope"
		_, err = engine.Create(ctx, spec)
		assert.ErrorIs(t, err, experiment.ErrInvalidExperiment)
	})
}

func TestEngine_AssignVariant(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("assignment is stable", func(t *testing.T) {
		t.Parallel()
		engine, store := newEngine(t, experiment.WithAssignmentCacheSize(0))
		startExperiment(t, engine, halfSplit("exp_1"))

		first, err := engine.AssignVariant(ctx, "exp_1", "u42")
		require.NoError(t, err)
		assert.Contains(t, []string{"control", "treatment"}, first)

		for range 1000 {
			v, err := engine.AssignVariant(ctx, "exp_1", "u42")
			require.NoError(t, err)
			require.Equal(t, first, v)
		}

		counts, err := store.CountAssignments(ctx, "exp_1")
		require.NoError(t, err)
		assert.Equal(t, map[string]int64{first: 1}, counts)
	})

	t.Run("allocation is respected", func(t *testing.T) {
		t.Parallel()
		engine, _ := newEngine(t)
		startExperiment(t, engine, experiment.Spec{
			ID:         "split",
			Variants:   []string{"control", "a", "b"},
			Allocation: map[string]int{"control": 50, "a": 30, "b": 20},
		})

		counts := map[string]int{}
		const users = 20000
		for i := range users {
			v, err := engine.AssignVariant(ctx, "split", fmt.Sprintf("user-%d", i))
			require.NoError(t, err)
			counts[v]++
		}
		assert.InDelta(t, 0.50, float64(counts["control"])/users, 0.03)
		assert.InDelta(t, 0.30, float64(counts["a"])/users, 0.03)
		assert.InDelta(t, 0.20, float64(counts["b"])/users, 0.03)
	})

	t.Run("zero share never assigned", func(t *testing.T) {
		t.Parallel()
		engine, _ := newEngine(t)
		startExperiment(t, engine, experiment.Spec{
			ID:         "holdout",
			Variants:   []string{"control", "off"},
			Allocation: map[string]int{"control": 100, "off": 0},
		})
		for i := range 500 {
			v, err := engine.AssignVariant(ctx, "holdout", fmt.Sprintf("user-%d", i))
			require.NoError(t, err)
			require.Equal(t, "control", v)
		}
	})

	t.Run("draft serves control and stores nothing", func(t *testing.T) {
		t.Parallel()
		engine, store := newEngine(t)
		_, err := engine.Create(ctx, experiment.Spec{
			ID:         "draft",
			Variants:   []string{"control", "treatment"},
			Allocation: map[string]int{"control": 0, "treatment": 100},
		})
		require.NoError(t, err)

		v, err := engine.AssignVariant(ctx, "draft", "u1")
		require.NoError(t, err)
		assert.Equal(t, experiment.ControlVariant, v)

		_, err = store.GetAssignment(ctx, "draft", "u1")
		assert.ErrorIs(t, err, experiment.ErrAssignmentNotFound)
	})

	t.Run("paused keeps existing and serves control to new users", func(t *testing.T) {
		t.Parallel()
		engine, store := newEngine(t, experiment.WithAssignmentCacheSize(0))
		startExperiment(t, engine, experiment.Spec{
			ID:         "paused",
			Variants:   []string{"control", "treatment"},
			Allocation: map[string]int{"control": 0, "treatment": 100},
		})

		v, err := engine.AssignVariant(ctx, "paused", "early")
		require.NoError(t, err)
		assert.Equal(t, "treatment", v)

		_, err = engine.Pause(ctx, "paused")
		require.NoError(t, err)

		v, err = engine.AssignVariant(ctx, "paused", "early")
		require.NoError(t, err)
		assert.Equal(t, "treatment", v)

		v, err = engine.AssignVariant(ctx, "paused", "late")
		require.NoError(t, err)
		assert.Equal(t, experiment.ControlVariant, v)
		_, err = store.GetAssignment(ctx, "paused", "late")
		assert.ErrorIs(t, err, experiment.ErrAssignmentNotFound)
	})

	t.Run("stopped serves control but keeps history", func(t *testing.T) {
		t.Parallel()
		engine, store := newEngine(t)
		startExperiment(t, engine, experiment.Spec{
			ID:         "stopped",
			Variants:   []string{"control", "treatment"},
			Allocation: map[string]int{"control": 0, "treatment": 100},
		})
		_, err := engine.AssignVariant(ctx, "stopped", "u1")
		require.NoError(t, err)
		_, err = engine.Stop(ctx, "stopped")
		require.NoError(t, err)

		v, err := engine.AssignVariant(ctx, "stopped", "u1")
		require.NoError(t, err)
		assert.Equal(t, experiment.ControlVariant, v)

		a, err := store.GetAssignment(ctx, "stopped", "u1")
		require.NoError(t, err)
		assert.Equal(t, "treatment", a.Variant)
	})

	t.Run("unknown experiment degrades to control", func(t *testing.T) {
		t.Parallel()
		engine, _ := newEngine(t)
		v, err := engine.AssignVariant(ctx, "missing", "u1")
		assert.ErrorIs(t, err, experiment.ErrExperimentNotFound)
		assert.Equal(t, experiment.ControlVariant, v)
	})

	t.Run("user id required", func(t *testing.T) {
		t.Parallel()
		engine, _ := newEngine(t)
		startExperiment(t, engine, halfSplit("exp"))
		v, err := engine.AssignVariant(ctx, "exp", "")
		assert.ErrorIs(t, err, experiment.ErrUserIDRequired)
		assert.Equal(t, experiment.ControlVariant, v)
	})

	t.Run("lost insert race returns stored variant", func(t *testing.T) {
		t.Parallel()
		store := experiment.NewMemoryStore()
		racing := &racingAssignments{AssignmentStore: store}
		engine := experiment.NewEngine(store, racing,
			experiment.WithLogger(discardLogger()),
			experiment.WithAssignmentCacheSize(0),
		)
		startExperiment(t, engine, experiment.Spec{
			ID:         "race",
			Variants:   []string{"control", "treatment"},
			Allocation: map[string]int{"control": 0, "treatment": 100},
		})
		racing.competitor = "control"

		v, err := engine.AssignVariant(ctx, "race", "u1")
		require.NoError(t, err)
		assert.Equal(t, "control", v, "the stored winner is returned, not the computed variant")
	})

	t.Run("concurrent first contact converges", func(t *testing.T) {
		t.Parallel()
		engine, store := newEngine(t, experiment.WithAssignmentCacheSize(0))
		startExperiment(t, engine, halfSplit("concurrent"))

		const workers = 32
		results := make([]string, workers)
		var wg sync.WaitGroup
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, err := engine.AssignVariant(ctx, "concurrent", "same-user")
				assert.NoError(t, err)
				results[i] = v
			}()
		}
		wg.Wait()

		for _, v := range results {
			assert.Equal(t, results[0], v)
		}
		counts, err := store.CountAssignments(ctx, "concurrent")
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts[results[0]])
	})

	t.Run("unreadable assignment is never re-randomized", func(t *testing.T) {
		t.Parallel()
		store := experiment.NewMemoryStore()
		unreadable := &unreadableAssignments{AssignmentStore: store}
		engine := experiment.NewEngine(store, unreadable, experiment.WithLogger(discardLogger()))
		startExperiment(t, engine, halfSplit("exp"))

		v, err := engine.AssignVariant(ctx, "exp", "u1")
		assert.ErrorIs(t, err, errStoreDown)
		assert.Equal(t, experiment.ControlVariant, v)
		assert.Zero(t, unreadable.inserts)
	})
}

func TestEngine_UpdateAllocation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	engine, _ := newEngine(t)
	startExperiment(t, engine, experiment.Spec{
		ID:         "realloc",
		Variants:   []string{"control", "treatment"},
		Allocation: map[string]int{"control": 0, "treatment": 100},
	})

	before, err := engine.AssignVariant(ctx, "realloc", "existing")
	require.NoError(t, err)
	require.Equal(t, "treatment", before)

	_, err = engine.UpdateAllocation(ctx, "realloc", map[string]int{"control": 100, "treatment": 0})
	require.NoError(t, err)

	after, err := engine.AssignVariant(ctx, "realloc", "existing")
	require.NoError(t, err)
	assert.Equal(t, "treatment", after, "existing assignments survive reallocation")

	fresh, err := engine.AssignVariant(ctx, "realloc", "newcomer")
	require.NoError(t, err)
	assert.Equal(t, "control", fresh)

	_, err = engine.UpdateAllocation(ctx, "realloc", map[string]int{"control": 30})
	assert.ErrorIs(t, err, experiment.ErrInvalidExperiment)

	_, err = engine.Stop(ctx, "realloc")
	require.NoError(t, err)
	_, err = engine.UpdateAllocation(ctx, "realloc", map[string]int{"control": 50, "treatment": 50})
	assert.ErrorIs(t, err, experiment.ErrInvalidTransition)
}

func TestEngine_ConcurrentUpdates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("pause after a committed stop is refused", func(t *testing.T) {
		t.Parallel()
		engine, _, racing := newInterleavedEngine(t)
		startExperiment(t, engine, halfSplit("exp"))

		racing.armed = true
		_, err := engine.Pause(ctx, "exp")
		assert.ErrorIs(t, err, experiment.ErrInvalidTransition)

		exp, err := engine.Get(ctx, "exp")
		require.NoError(t, err)
		assert.Equal(t, experiment.StatusStopped, exp.Status)
	})

	t.Run("allocation after a committed stop is refused", func(t *testing.T) {
		t.Parallel()
		engine, _, racing := newInterleavedEngine(t)
		startExperiment(t, engine, halfSplit("exp"))

		racing.armed = true
		_, err := engine.UpdateAllocation(ctx, "exp", map[string]int{"control": 90, "treatment": 10})
		assert.ErrorIs(t, err, experiment.ErrInvalidTransition)

		exp, err := engine.Get(ctx, "exp")
		require.NoError(t, err)
		assert.Equal(t, experiment.StatusStopped, exp.Status)
		assert.Equal(t, 50, exp.Allocation["control"])
	})

	t.Run("memory store rejects stale versions", func(t *testing.T) {
		t.Parallel()
		engine, store := newEngine(t)
		startExperiment(t, engine, halfSplit("exp"))

		stale, err := store.GetExperiment(ctx, "exp")
		require.NoError(t, err)
		_, err = engine.Stop(ctx, "exp")
		require.NoError(t, err)

		stale.Status = experiment.StatusRunning
		assert.ErrorIs(t, store.UpdateExperiment(ctx, stale), experiment.ErrConcurrentUpdate)

		exp, err := engine.Get(ctx, "exp")
		require.NoError(t, err)
		assert.Equal(t, experiment.StatusStopped, exp.Status)
		assert.Equal(t, stale.Version+1, exp.Version)
	})
}

func TestEngine_List(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	engine, _ := newEngine(t)
	startExperiment(t, engine, halfSplit("a"))
	_, err := engine.Create(ctx, halfSplit("b"))
	require.NoError(t, err)

	all, err := engine.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	running, err := engine.List(ctx, experiment.StatusRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "a", running[0].ID)
}
