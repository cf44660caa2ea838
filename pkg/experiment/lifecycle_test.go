package experiment_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/featurelab/pkg/experiment"
)

func TestEngine_Lifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("full lifecycle", func(t *testing.T) {
		t.Parallel()
		engine, _ := newEngine(t)

		exp, err := engine.Create(ctx, halfSplit("checkout"))
		require.NoError(t, err)
		assert.Equal(t, experiment.StatusDraft, exp.Status)
		assert.Nil(t, exp.StartedAt)

		exp, err = engine.Start(ctx, "checkout")
		require.NoError(t, err)
		assert.Equal(t, experiment.StatusRunning, exp.Status)
		require.NotNil(t, exp.StartedAt)
		started := *exp.StartedAt

		exp, err = engine.Pause(ctx, "checkout")
		require.NoError(t, err)
		assert.Equal(t, experiment.StatusPaused, exp.Status)

		exp, err = engine.Start(ctx, "checkout")
		require.NoError(t, err)
		assert.Equal(t, experiment.StatusRunning, exp.Status)
		assert.Equal(t, started, *exp.StartedAt, "resume keeps the original start time")

		exp, err = engine.Stop(ctx, "checkout")
		require.NoError(t, err)
		assert.Equal(t, experiment.StatusStopped, exp.Status)
		assert.NotNil(t, exp.StoppedAt)

		stored, err := engine.Get(ctx, "checkout")
		require.NoError(t, err)
		assert.Equal(t, experiment.StatusStopped, stored.Status)
	})

	t.Run("illegal transitions", func(t *testing.T) {
		t.Parallel()
		engine, _ := newEngine(t)
		_, err := engine.Create(ctx, halfSplit("exp"))
		require.NoError(t, err)

		_, err = engine.Pause(ctx, "exp")
		assert.ErrorIs(t, err, experiment.ErrInvalidTransition)

		_, err = engine.Stop(ctx, "exp")
		assert.ErrorIs(t, err, experiment.ErrInvalidTransition)

		_, err = engine.Start(ctx, "exp")
		require.NoError(t, err)
		_, err = engine.Start(ctx, "exp")
		assert.ErrorIs(t, err, experiment.ErrInvalidTransition)

		_, err = engine.Stop(ctx, "exp")
		require.NoError(t, err)

		for _, op := range []func(context.Context, string) (*experiment.Experiment, error){
			engine.Start, engine.Pause, engine.Stop,
		} {
			_, err := op(ctx, "exp")
			assert.ErrorIs(t, err, experiment.ErrInvalidTransition)
			assert.True(t, experiment.IsValidationError(err))
		}
	})

	t.Run("transition error carries context", func(t *testing.T) {
		t.Parallel()
		engine, _ := newEngine(t)
		_, err := engine.Create(ctx, halfSplit("exp"))
		require.NoError(t, err)

		_, err = engine.Pause(ctx, "exp")
		var te *experiment.TransitionError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, experiment.StatusDraft, te.From)
		assert.Equal(t, experiment.ActionPause, te.Action)
	})

	t.Run("unknown experiment", func(t *testing.T) {
		t.Parallel()
		engine, _ := newEngine(t)
		_, err := engine.Start(ctx, "missing")
		assert.ErrorIs(t, err, experiment.ErrExperimentNotFound)
	})
}

func TestCanApply(t *testing.T) {
	t.Parallel()

	ready := &experiment.Experiment{
		Status:     experiment.StatusDraft,
		Variants:   []string{"control", "b"},
		Allocation: map[string]int{"control": 50, "b": 50},
	}
	assert.True(t, experiment.CanApply(ready, experiment.ActionStart))
	assert.False(t, experiment.CanApply(ready, experiment.ActionPause))
	assert.False(t, experiment.CanApply(ready, experiment.ActionStop))

	broken := ready.Clone()
	broken.Allocation["b"] = 47
	assert.False(t, experiment.CanApply(broken, experiment.ActionStart))

	stopped := ready.Clone()
	stopped.Status = experiment.StatusStopped
	for _, a := range []experiment.Action{experiment.ActionStart, experiment.ActionPause, experiment.ActionStop} {
		assert.False(t, experiment.CanApply(stopped, a))
	}
}
