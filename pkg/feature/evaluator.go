package feature

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dmitrymomot/featurelab/pkg/bucket"
	"github.com/dmitrymomot/featurelab/pkg/logger"
)

// Evaluator decides whether a feature is active for a user.
//
// Evaluation never returns an error. Store failures and corrupt hierarchies
// resolve to a disabled result so a flag outage degrades the product to its
// baseline instead of breaking it.
type Evaluator struct {
	store Store
	opts  *options
}

// NewEvaluator creates an evaluator on top of store.
// Panics if store is nil to fail fast during initialization.
func NewEvaluator(store Store, opts ...Option) *Evaluator {
	if store == nil {
		panic("feature: Store is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Evaluator{store: store, opts: o}
}

// Evaluate resolves featureName for userID.
//
// Precedence, first match wins:
//  1. unknown flag: disabled, not_found
//  2. any disabled ancestor: disabled, parent_disabled
//  3. user override: as stored, override
//  4. flag disabled: disabled, feature_flag
//  5. bucket(userID, featureName) < rollout percentage, feature_flag
//
// Ancestors are checked before overrides, so a disabled parent is a master
// switch that stale per-user exceptions cannot bypass.
func (e *Evaluator) Evaluate(ctx context.Context, userID, featureName string) Result {
	cached, stamp, ok := e.opts.cache.Get(ctx, userID, featureName)
	if ok {
		return cached
	}

	result, cacheable := e.evaluate(ctx, userID, featureName)
	if cacheable {
		if err := e.opts.cache.Set(ctx, userID, featureName, stamp, result); err != nil {
			e.opts.logger.WarnContext(ctx, "failed to cache feature evaluation",
				logger.Feature(featureName),
				logger.Error(err),
			)
		}
	}
	return result
}

// EvaluateEligible evaluates featureName for a user whose audience
// eligibility the caller has already resolved. Ineligible users are disabled
// without touching the store.
func (e *Evaluator) EvaluateEligible(ctx context.Context, userID, featureName string, eligible bool) Result {
	if !eligible {
		return Result{Enabled: false, Source: SourceFeatureFlag}
	}
	return e.Evaluate(ctx, userID, featureName)
}

// EvaluateAll evaluates several features for the same user.
func (e *Evaluator) EvaluateAll(ctx context.Context, userID string, featureNames ...string) map[string]Result {
	results := make(map[string]Result, len(featureNames))
	for _, name := range featureNames {
		if _, done := results[name]; done {
			continue
		}
		results[name] = e.Evaluate(ctx, userID, name)
	}
	return results
}

// IsEnabled is shorthand for Evaluate(...).Enabled.
func (e *Evaluator) IsEnabled(ctx context.Context, userID, featureName string) bool {
	return e.Evaluate(ctx, userID, featureName).Enabled
}

// evaluate returns the result and whether it reflects real store state
// (failure fallbacks are not cached).
func (e *Evaluator) evaluate(ctx context.Context, userID, featureName string) (Result, bool) {
	flag, err := e.store.GetFlag(ctx, featureName)
	if err != nil {
		if errors.Is(err, ErrFlagNotFound) {
			return Result{Enabled: false, Source: SourceNotFound}, true
		}
		e.logFailure(ctx, "failed to load feature flag", featureName, err)
		return Result{Enabled: false, Source: SourceNotFound}, false
	}

	if disabled, ok := e.ancestorDisabled(ctx, flag); disabled {
		return Result{Enabled: false, Source: SourceParentDisabled}, ok
	}

	override, err := e.store.GetOverride(ctx, userID, featureName)
	switch {
	case err == nil:
		return Result{Enabled: override.Enabled, Variant: override.Variant, Source: SourceOverride}, true
	case !errors.Is(err, ErrOverrideNotFound):
		e.logFailure(ctx, "failed to load feature override", featureName, err)
		return Result{Enabled: false, Source: SourceFeatureFlag}, false
	}

	if !flag.Enabled {
		return Result{Enabled: false, Source: SourceFeatureFlag}, true
	}

	return Result{
		Enabled: bucket.InRollout(userID, featureName, flag.RolloutPercentage),
		Source:  SourceFeatureFlag,
	}, true
}

// ancestorDisabled walks the parent chain. The second return value is false
// when the answer was forced by a failure rather than by stored state.
func (e *Evaluator) ancestorDisabled(ctx context.Context, flag *Flag) (bool, bool) {
	parent := flag.Parent
	for hops := 0; parent != ""; hops++ {
		if hops >= e.opts.maxDepth {
			e.opts.logger.ErrorContext(ctx, "feature flag hierarchy exceeds hop limit",
				logger.Feature(flag.Name),
				slog.Int("max_depth", e.opts.maxDepth),
			)
			return true, false
		}

		ancestor, err := e.store.GetFlag(ctx, parent)
		if err != nil {
			// A dangling parent reference counts as disabled.
			if !errors.Is(err, ErrFlagNotFound) {
				e.logFailure(ctx, "failed to load parent feature flag", parent, err)
				return true, false
			}
			return true, true
		}
		if !ancestor.Enabled {
			return true, true
		}
		parent = ancestor.Parent
	}
	return false, true
}

func (e *Evaluator) logFailure(ctx context.Context, msg, featureName string, err error) {
	e.opts.logger.ErrorContext(ctx, msg,
		logger.Component("feature.evaluator"),
		logger.Feature(featureName),
		logger.Error(err),
	)
}
