package catalog_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/featurelab/pkg/catalog"
	"github.com/dmitrymomot/featurelab/pkg/feature"
)

func TestLoadFile(t *testing.T) {
	t.Parallel()

	c, err := catalog.LoadFile("testdata/catalog.yaml")
	require.NoError(t, err)
	assert.Equal(t, 6, c.Len())

	feed, ok := c.Lookup("social.feed")
	require.True(t, ok)
	assert.Equal(t, catalog.CategorySocial, feed.Category)
	assert.Equal(t, feature.AudienceBeta, feed.DefaultAudience)
	assert.Equal(t, 25, feed.DefaultRolloutPercentage)
	assert.Equal(t, "social", feed.Parent)
	assert.Equal(t, []string{"profiles"}, feed.Dependencies)

	profiles, ok := c.Lookup("profiles")
	require.True(t, ok)
	assert.Equal(t, feature.AudienceAll, profiles.DefaultAudience, "audience defaults to all")

	_, ok = c.Lookup("missing")
	assert.False(t, ok)

	names := make([]string, 0, c.Len())
	for _, d := range c.All() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"leaderboards", "profiles", "social", "social.feed", "workouts", "workouts.timer"}, names)

	assert.Len(t, c.ByCategory(catalog.CategoryWorkout), 2)
	assert.Empty(t, c.ByCategory(catalog.CategoryAdmin))

	assert.Equal(t, []string{"profiles", "social.feed"}, c.DependenciesOf("leaderboards"))
	assert.Empty(t, c.DependenciesOf("workouts"))
}

func TestLoadFile_Missing(t *testing.T) {
	t.Parallel()
	_, err := catalog.LoadFile("testdata/nope.yaml")
	assert.ErrorIs(t, err, catalog.ErrDecodeCatalog)
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	t.Run("empty document", func(t *testing.T) {
		t.Parallel()
		c, err := catalog.LoadYAML(strings.NewReader(""))
		require.NoError(t, err)
		assert.Zero(t, c.Len())
	})

	t.Run("unknown keys rejected", func(t *testing.T) {
		t.Parallel()
		_, err := catalog.LoadYAML(strings.NewReader("features:\n  - name: a\n    colour: red\n"))
		assert.ErrorIs(t, err, catalog.ErrDecodeCatalog)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		t.Parallel()
		_, err := catalog.LoadYAML(strings.NewReader("features: [\n"))
		assert.ErrorIs(t, err, catalog.ErrDecodeCatalog)
	})
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		defs []catalog.Definition
	}{
		{"empty name", []catalog.Definition{{Name: ""}}},
		{"duplicate", []catalog.Definition{{Name: "a"}, {Name: "a"}}},
		{"bad category", []catalog.Definition{{Name: "a", Category: "music"}}},
		{"bad audience", []catalog.Definition{{Name: "a", DefaultAudience: "vip"}}},
		{"rollout too high", []catalog.Definition{{Name: "a", DefaultRolloutPercentage: 101}}},
		{"rollout negative", []catalog.Definition{{Name: "a", DefaultRolloutPercentage: -1}}},
		{"self parent", []catalog.Definition{{Name: "a", Parent: "a"}}},
		{"unknown parent", []catalog.Definition{{Name: "a", Parent: "ghost"}}},
		{"parent cycle", []catalog.Definition{{Name: "a", Parent: "b"}, {Name: "b", Parent: "a"}}},
		{"self dependency", []catalog.Definition{{Name: "a", Dependencies: []string{"a"}}}},
		{"unknown dependency", []catalog.Definition{{Name: "a", Dependencies: []string{"ghost"}}}},
		{"dependency cycle", []catalog.Definition{
			{Name: "a", Dependencies: []string{"b"}},
			{Name: "b", Dependencies: []string{"c"}},
			{Name: "c", Dependencies: []string{"a"}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := catalog.New(tc.defs...)
			assert.ErrorIs(t, err, catalog.ErrInvalidDefinition)
		})
	}
}

func TestCatalog_Immutable(t *testing.T) {
	t.Parallel()

	deps := []string{"b"}
	c, err := catalog.New(catalog.Definition{Name: "a", Dependencies: deps}, catalog.Definition{Name: "b"})
	require.NoError(t, err)

	deps[0] = "mutated"
	d, _ := c.Lookup("a")
	assert.Equal(t, []string{"b"}, d.Dependencies)

	d.Dependencies[0] = "mutated"
	again, _ := c.Lookup("a")
	assert.Equal(t, []string{"b"}, again.Dependencies)
	assert.Equal(t, catalog.CategoryGeneral, again.Category)
}

type failingAdmin struct {
	catalog.FlagAdmin
	err error
}

func (f failingAdmin) Flag(ctx context.Context, name string) (*feature.Flag, error) {
	return nil, f.err
}

func TestSeed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c, err := catalog.LoadFile("testdata/catalog.yaml")
	require.NoError(t, err)

	t.Run("creates missing flags parents first", func(t *testing.T) {
		t.Parallel()
		store, err := feature.NewMemoryStore(&feature.Flag{Name: "social", Enabled: false, RolloutPercentage: 10})
		require.NoError(t, err)
		admin := feature.NewAdmin(store)

		report, err := catalog.Seed(ctx, c, admin)
		require.NoError(t, err)
		assert.Equal(t, []string{"social"}, report.Existing)
		assert.Len(t, report.Created, 5)

		social, err := admin.Flag(ctx, "social")
		require.NoError(t, err)
		assert.False(t, social.Enabled, "existing runtime state is kept")
		assert.Equal(t, 10, social.RolloutPercentage)

		feed, err := admin.Flag(ctx, "social.feed")
		require.NoError(t, err)
		assert.True(t, feed.Enabled)
		assert.Equal(t, 25, feed.RolloutPercentage)
		assert.Equal(t, feature.AudienceBeta, feed.Audience)
		assert.Equal(t, "social", feed.Parent)

		again, err := catalog.Seed(ctx, c, admin)
		require.NoError(t, err)
		assert.Empty(t, again.Created)
		assert.Len(t, again.Existing, 6)
	})

	t.Run("store failure stops seeding", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("boom")
		report, err := catalog.Seed(ctx, c, failingAdmin{err: boom})
		assert.ErrorIs(t, err, boom)
		assert.Empty(t, report.Created)
	})
}
