package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/featurelab/pkg/feature"
	"github.com/dmitrymomot/featurelab/pkg/logger"
)

var _ feature.Cache = (*EvaluationCache)(nil)

// DefaultEvalCacheTTL is used when no positive TTL is configured.
const DefaultEvalCacheTTL = 30 * time.Second

// EvaluationCache stores evaluation results in Redis so that several
// evaluator replicas share hits and invalidations.
//
// Entries are keyed by two generation counters, one global and one per
// user. Invalidation increments a counter, which moves every later lookup
// to fresh keys; the orphaned entries expire on their own TTL. A write that
// carries a stamp from before the increment lands on an orphaned key and is
// never read.
type EvaluationCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// CacheOption configures an EvaluationCache.
type CacheOption func(*EvaluationCache)

// WithCacheTTL sets the entry lifetime. Non-positive values are ignored.
func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(c *EvaluationCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCachePrefix sets the key namespace.
func WithCachePrefix(prefix string) CacheOption {
	return func(c *EvaluationCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithCacheLogger sets the logger used to report read failures.
func WithCacheLogger(l *slog.Logger) CacheOption {
	return func(c *EvaluationCache) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewEvaluationCache creates a Redis-backed evaluation cache.
// Panics if client is nil to fail fast during initialization.
func NewEvaluationCache(client redis.UniversalClient, opts ...CacheOption) *EvaluationCache {
	if client == nil {
		panic("redis: client is required")
	}
	c := &EvaluationCache{
		client: client,
		prefix: "featurelab",
		ttl:    DefaultEvalCacheTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a cached result. Any Redis failure is reported as a miss with
// an empty stamp.
func (c *EvaluationCache) Get(ctx context.Context, userID, featureName string) (feature.Result, feature.Stamp, bool) {
	stamp, err := c.stamp(ctx, userID)
	if err != nil {
		c.logger.WarnContext(ctx, "evaluation cache generation read failed",
			logger.Component("redis"),
			logger.UserID(userID),
			logger.Error(err))
		return feature.Result{}, "", false
	}

	raw, err := c.client.Get(ctx, c.dataKey(stamp, userID, featureName)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return feature.Result{}, stamp, false
		}
		c.logger.WarnContext(ctx, "evaluation cache read failed",
			logger.Component("redis"),
			logger.UserID(userID),
			logger.Feature(featureName),
			logger.Error(err))
		return feature.Result{}, "", false
	}

	var res feature.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		c.logger.WarnContext(ctx, "evaluation cache entry is corrupt",
			logger.Component("redis"),
			logger.Feature(featureName),
			logger.Error(err))
		return feature.Result{}, stamp, false
	}
	return res, stamp, true
}

// Set stores result under the generations recorded in stamp.
func (c *EvaluationCache) Set(ctx context.Context, userID, featureName string, stamp feature.Stamp, result feature.Result) error {
	if stamp == "" {
		return nil
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.dataKey(stamp, userID, featureName), payload, c.ttl).Err()
}

// InvalidateUser retires every cached result of one user.
func (c *EvaluationCache) InvalidateUser(ctx context.Context, userID string) error {
	key := c.userGenKey(userID)
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, c.generationTTL())
	_, err := pipe.Exec(ctx)
	return err
}

// InvalidateAll retires every cached result.
func (c *EvaluationCache) InvalidateAll(ctx context.Context) error {
	return c.client.Incr(ctx, c.globalGenKey()).Err()
}

// stamp reads both generations. Missing counters read as zero.
func (c *EvaluationCache) stamp(ctx context.Context, userID string) (feature.Stamp, error) {
	pipe := c.client.Pipeline()
	global := pipe.Get(ctx, c.globalGenKey())
	user := pipe.Get(ctx, c.userGenKey(userID))
	_, _ = pipe.Exec(ctx)

	g, err := generation(global)
	if err != nil {
		return "", err
	}
	u, err := generation(user)
	if err != nil {
		return "", err
	}
	return feature.Stamp(g + "." + u), nil
}

func generation(cmd *redis.StringCmd) (string, error) {
	v, err := cmd.Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "0", nil
	case err != nil:
		return "", err
	}
	return v, nil
}

// generationTTL outlives every entry written under an older user
// generation, so an expired counter restarting at zero cannot resurface
// one of them.
func (c *EvaluationCache) generationTTL() time.Duration {
	return max(24*time.Hour, 2*c.ttl)
}

func (c *EvaluationCache) dataKey(stamp feature.Stamp, userID, featureName string) string {
	return c.prefix + ":eval:data:" + string(stamp) + ":" + hashKey(userID+"\x00"+featureName)
}

func (c *EvaluationCache) userGenKey(userID string) string {
	return c.prefix + ":eval:gen:user:" + hashKey(userID)
}

func (c *EvaluationCache) globalGenKey() string {
	return c.prefix + ":eval:gen:all"
}

// hashKey keeps arbitrary identifiers from colliding with key separators.
func hashKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}
