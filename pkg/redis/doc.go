// Package redis connects to Redis and provides Redis-backed implementations
// of the evaluation cache and the experiment assignment store.
//
// Connect parses a redis:// URL, pings the server and retries according to
// Config. Healthcheck wraps a client into a probe function.
//
// EvaluationCache implements feature.Cache. Entries are JSON encoded, expire
// after a configurable TTL and are keyed by global and per-user generation
// counters. Admin writes bump a counter, which invalidates across replicas:
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	cache := redis.NewEvaluationCache(client,
//		redis.WithCachePrefix(cfg.KeyPrefix),
//		redis.WithCacheTTL(cfg.EvalCacheTTL),
//	)
//	eval := feature.NewEvaluator(store, feature.WithCache(cache))
//
// AssignmentStore implements experiment.AssignmentStore. Insert-if-absent
// runs as a Lua script so that the first writer wins and the per-variant
// counter read by CountAssignments is bumped exactly once per user.
package redis
