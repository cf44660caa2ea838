package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/featurelab/internal/testhelpers"
	"github.com/dmitrymomot/featurelab/pkg/redis"
)

func TestConnect(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("empty url", func(t *testing.T) {
		t.Parallel()
		_, err := redis.Connect(ctx, redis.Config{})
		assert.ErrorIs(t, err, redis.ErrEmptyConnectionURL)
	})

	t.Run("malformed url", func(t *testing.T) {
		t.Parallel()
		_, err := redis.Connect(ctx, redis.Config{ConnectionURL: "http://localhost"})
		assert.ErrorIs(t, err, redis.ErrFailedToParseRedisConnString)
	})

	t.Run("unreachable server", func(t *testing.T) {
		t.Parallel()
		m := miniredis.RunT(t)
		addr := m.Addr()
		m.Close()

		_, err := redis.Connect(ctx, redis.Config{
			ConnectionURL: "redis://" + addr,
			RetryAttempts: 2,
			RetryInterval: 10 * time.Millisecond,
		})
		assert.ErrorIs(t, err, redis.ErrRedisNotReady)
	})

	t.Run("connects and reports healthy", func(t *testing.T) {
		t.Parallel()
		m := miniredis.RunT(t)

		client, err := redis.Connect(ctx, redis.Config{
			ConnectionURL: "redis://" + m.Addr(),
			RetryAttempts: 1,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })

		check := redis.Healthcheck(client)
		assert.NoError(t, check(ctx))

		m.Close()
		assert.ErrorIs(t, check(ctx), redis.ErrHealthcheckFailed)
	})
}

func TestConnect_Integration(t *testing.T) {
	addr := testhelpers.RedisAddr(t)
	ctx := context.Background()

	client, err := redis.Connect(ctx, redis.Config{
		ConnectionURL:  "redis://" + addr + "/0",
		RetryAttempts:  5,
		RetryInterval:  200 * time.Millisecond,
		ConnectTimeout: 10 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store := redis.NewAssignmentStore(client, "it-"+t.Name())
	counts, err := store.CountAssignments(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, counts)
}
