package feature_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/featurelab/pkg/feature"
)

func TestAdmin_UpsertFlag(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("defaults audience", func(t *testing.T) {
		t.Parallel()
		store, _ := feature.NewMemoryStore()
		admin := feature.NewAdmin(store, feature.WithLogger(discardLogger()))

		flag, err := admin.UpsertFlag(ctx, feature.Flag{Name: "timer", Enabled: true, RolloutPercentage: 40})
		require.NoError(t, err)
		assert.Equal(t, feature.AudienceAll, flag.Audience)
		assert.Equal(t, 40, flag.RolloutPercentage)
		assert.False(t, flag.CreatedAt.IsZero())
	})

	t.Run("validation", func(t *testing.T) {
		t.Parallel()
		store, _ := feature.NewMemoryStore(&feature.Flag{Name: "root"})
		admin := feature.NewAdmin(store, feature.WithLogger(discardLogger()))

		tests := []struct {
			name string
			flag feature.Flag
			want error
		}{
			{"empty name", feature.Flag{}, feature.ErrInvalidFlag},
			{"negative rollout", feature.Flag{Name: "a", RolloutPercentage: -1}, feature.ErrInvalidFlag},
			{"rollout above 100", feature.Flag{Name: "a", RolloutPercentage: 101}, feature.ErrInvalidFlag},
			{"unknown audience", feature.Flag{Name: "a", Audience: "vip"}, feature.ErrInvalidFlag},
			{"self parent", feature.Flag{Name: "a", Parent: "a"}, feature.ErrCyclicParent},
			{"missing parent", feature.Flag{Name: "a", Parent: "ghost"}, feature.ErrInvalidFlag},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := admin.UpsertFlag(ctx, tt.flag)
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.want)
				assert.True(t, feature.IsValidationError(err))
			})
		}

		_, err := store.GetFlag(ctx, "a")
		assert.ErrorIs(t, err, feature.ErrFlagNotFound, "rejected writes must not change state")
	})

	t.Run("rejects cycles", func(t *testing.T) {
		t.Parallel()
		store, _ := feature.NewMemoryStore()
		admin := feature.NewAdmin(store, feature.WithLogger(discardLogger()))

		_, err := admin.UpsertFlag(ctx, feature.Flag{Name: "a"})
		require.NoError(t, err)
		_, err = admin.UpsertFlag(ctx, feature.Flag{Name: "b", Parent: "a"})
		require.NoError(t, err)
		_, err = admin.UpsertFlag(ctx, feature.Flag{Name: "c", Parent: "b"})
		require.NoError(t, err)

		_, err = admin.UpsertFlag(ctx, feature.Flag{Name: "a", Parent: "c"})
		require.ErrorIs(t, err, feature.ErrCyclicParent)

		a, err := store.GetFlag(ctx, "a")
		require.NoError(t, err)
		assert.Empty(t, a.Parent)

		// Re-parenting without a cycle is fine.
		_, err = admin.UpsertFlag(ctx, feature.Flag{Name: "c", Parent: "a"})
		require.NoError(t, err)
	})

	t.Run("cycle closed between check and write", func(t *testing.T) {
		t.Parallel()
		mem, _ := feature.NewMemoryStore(&feature.Flag{Name: "a"}, &feature.Flag{Name: "b"})
		store := &writeOnRead{
			Store: mem,
			write: func(ctx context.Context) error {
				return mem.UpsertFlag(ctx, &feature.Flag{Name: "b", Parent: "a", Audience: feature.AudienceAll})
			},
		}
		admin := feature.NewAdmin(store, feature.WithLogger(discardLogger()))

		_, err := admin.UpsertFlag(ctx, feature.Flag{Name: "a", Parent: "b"})
		require.ErrorIs(t, err, feature.ErrCyclicParent)

		a, err := mem.GetFlag(ctx, "a")
		require.NoError(t, err)
		assert.Empty(t, a.Parent)
	})
}

func TestAdmin_SetEnabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := feature.NewMemoryStore(&feature.Flag{Name: "x"})
	admin := feature.NewAdmin(store, feature.WithLogger(discardLogger()))

	require.NoError(t, admin.SetEnabled(ctx, "x", true))
	flag, _ := admin.Flag(ctx, "x")
	assert.True(t, flag.Enabled)

	assert.ErrorIs(t, admin.SetEnabled(ctx, "missing", true), feature.ErrFlagNotFound)
	assert.ErrorIs(t, admin.SetRollout(ctx, "x", 120), feature.ErrInvalidFlag)
	assert.ErrorIs(t, admin.SetRollout(ctx, "missing", 20), feature.ErrFlagNotFound)
}

func TestAdmin_SetRollout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("keeps a concurrent disable", func(t *testing.T) {
		t.Parallel()
		mem, _ := feature.NewMemoryStore(&feature.Flag{Name: "x", Enabled: true, RolloutPercentage: 10})
		store := &writeBeforeRollout{writeOnRead{
			Store: mem,
			write: func(ctx context.Context) error { return mem.SetEnabled(ctx, "x", false) },
		}}
		cache := newMapCache()
		admin := feature.NewAdmin(store, feature.WithLogger(discardLogger()), feature.WithCache(cache))

		require.NoError(t, admin.SetRollout(ctx, "x", 50))

		flag, err := mem.GetFlag(ctx, "x")
		require.NoError(t, err)
		assert.False(t, flag.Enabled)
		assert.Equal(t, 50, flag.RolloutPercentage)
		assert.Equal(t, 1, cache.invalidatedAll)
	})

	t.Run("boundaries", func(t *testing.T) {
		t.Parallel()
		store, _ := feature.NewMemoryStore(&feature.Flag{Name: "x"})
		admin := feature.NewAdmin(store, feature.WithLogger(discardLogger()))

		require.NoError(t, admin.SetRollout(ctx, "x", 0))
		require.NoError(t, admin.SetRollout(ctx, "x", 100))
		assert.ErrorIs(t, admin.SetRollout(ctx, "x", -1), feature.ErrInvalidFlag)

		flag, _ := store.GetFlag(ctx, "x")
		assert.Equal(t, 100, flag.RolloutPercentage)
	})
}

func TestAdmin_ToggleWithChildren(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	seed := func(t *testing.T) *feature.MemoryStore {
		t.Helper()
		store, err := feature.NewMemoryStore(
			&feature.Flag{Name: "social", Enabled: true},
			&feature.Flag{Name: "social.feed", Enabled: true, Parent: "social"},
			&feature.Flag{Name: "social.comments", Enabled: true, Parent: "social"},
			&feature.Flag{Name: "social.feed.likes", Enabled: true, Parent: "social.feed"},
			&feature.Flag{Name: "timer", Enabled: true},
		)
		require.NoError(t, err)
		return store
	}

	t.Run("transactional store", func(t *testing.T) {
		t.Parallel()
		store := seed(t)
		admin := feature.NewAdmin(store, feature.WithLogger(discardLogger()))

		report, err := admin.ToggleWithChildren(ctx, "social", false)
		require.NoError(t, err)
		assert.Equal(t, []string{"social", "social.comments", "social.feed"}, report.Updated)
		assert.Empty(t, report.Failed)

		for _, name := range report.Updated {
			flag, _ := store.GetFlag(ctx, name)
			assert.Falsef(t, flag.Enabled, "%s should be disabled", name)
		}
		// Only direct children are toggled.
		likes, _ := store.GetFlag(ctx, "social.feed.likes")
		assert.True(t, likes.Enabled)
		timer, _ := store.GetFlag(ctx, "timer")
		assert.True(t, timer.Enabled)
	})

	t.Run("partial failure keeps successful updates", func(t *testing.T) {
		t.Parallel()
		store := seed(t)
		seq := &sequentialStore{Store: store, failSet: map[string]bool{"social.comments": true}}
		admin := feature.NewAdmin(seq, feature.WithLogger(discardLogger()))

		report, err := admin.ToggleWithChildren(ctx, "social", false)
		require.Error(t, err)
		assert.ErrorIs(t, err, feature.ErrPartialFailure)

		var pf *feature.PartialFailureError
		require.True(t, errors.As(err, &pf))
		assert.Equal(t, []string{"social.comments"}, pf.Failed)
		assert.ErrorIs(t, pf.Errs["social.comments"], errStoreDown)

		require.NotNil(t, report)
		assert.Equal(t, []string{"social", "social.feed"}, report.Updated)
		assert.Equal(t, []string{"social.comments"}, report.Failed)

		feed, _ := store.GetFlag(ctx, "social.feed")
		assert.False(t, feed.Enabled)
		comments, _ := store.GetFlag(ctx, "social.comments")
		assert.True(t, comments.Enabled)
	})

	t.Run("parent failure applies nothing", func(t *testing.T) {
		t.Parallel()
		store := seed(t)
		seq := &sequentialStore{Store: store, failSet: map[string]bool{"social": true}}
		admin := feature.NewAdmin(seq, feature.WithLogger(discardLogger()))

		report, err := admin.ToggleWithChildren(ctx, "social", false)
		require.ErrorIs(t, err, errStoreDown)
		assert.Nil(t, report)

		feed, _ := store.GetFlag(ctx, "social.feed")
		assert.True(t, feed.Enabled)
	})

	t.Run("unknown flag", func(t *testing.T) {
		t.Parallel()
		admin := feature.NewAdmin(seed(t), feature.WithLogger(discardLogger()))
		_, err := admin.ToggleWithChildren(ctx, "nope", true)
		assert.ErrorIs(t, err, feature.ErrFlagNotFound)
	})
}

func TestAdmin_DeleteFlag(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := feature.NewMemoryStore(
		&feature.Flag{Name: "p"},
		&feature.Flag{Name: "c", Parent: "p"},
	)
	admin := feature.NewAdmin(store, feature.WithLogger(discardLogger()))

	err := admin.DeleteFlag(ctx, "p")
	require.ErrorIs(t, err, feature.ErrHasChildren)
	assert.True(t, feature.IsValidationError(err))

	require.NoError(t, admin.DeleteFlag(ctx, "c"))
	require.NoError(t, admin.DeleteFlag(ctx, "p"))
	assert.ErrorIs(t, admin.DeleteFlag(ctx, "p"), feature.ErrFlagNotFound)
}

func TestAdmin_Overrides(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := feature.NewMemoryStore(&feature.Flag{Name: "coach"})
	admin := feature.NewAdmin(store, feature.WithLogger(discardLogger()))

	assert.ErrorIs(t, admin.SetOverride(ctx, feature.Override{UserID: "u", FeatureName: "nope"}), feature.ErrFlagNotFound)
	assert.ErrorIs(t, admin.SetOverride(ctx, feature.Override{FeatureName: "coach"}), feature.ErrInvalidFlag)

	require.NoError(t, admin.SetOverride(ctx, feature.Override{UserID: "u", FeatureName: "coach", Enabled: true}))
	require.NoError(t, admin.RemoveOverride(ctx, "u", "coach"))
	assert.ErrorIs(t, admin.RemoveOverride(ctx, "u", "coach"), feature.ErrOverrideNotFound)
}
