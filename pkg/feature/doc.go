// Package feature provides hierarchical feature flags with percentage
// rollouts and per-user overrides.
//
// # Architecture
//
// The package is built around three pieces:
//
//  1. Store - persistence for flags and overrides (MemoryStore here,
//     Postgres in pkg/pgstore)
//  2. Evaluator - the read path, called on every feature-gated render
//  3. Admin - the write path: upserts, toggles, overrides
//
// Flags form a forest through their Parent field. A child can only be active
// while every ancestor is enabled; Admin rejects writes that would create a
// cycle, and the Evaluator stops after a bounded number of hops and fails
// closed if the stored data is corrupt anyway.
//
// # Evaluation
//
// Evaluate applies the following precedence, first match wins:
//
//	not_found        the flag does not exist
//	parent_disabled  some ancestor is disabled
//	override         the user has an explicit override
//	feature_flag     the flag is disabled, or bucket(user, flag) >= rollout
//	feature_flag     bucket(user, flag) < rollout
//
// Evaluation never returns errors. Store failures are logged and the feature
// resolves to disabled.
//
// Audience targeting stays outside the evaluator. Callers that already know
// whether a user qualifies for a flag's audience use EvaluateEligible.
//
// # Usage
//
//	store, _ := feature.NewMemoryStore()
//	admin := feature.NewAdmin(store)
//	eval := feature.NewEvaluator(store)
//
//	_, err := admin.UpsertFlag(ctx, feature.Flag{
//		Name:              "workout-timer-v2",
//		Enabled:           true,
//		RolloutPercentage: 25,
//	})
//
//	if eval.Evaluate(ctx, userID, "workout-timer-v2").Enabled {
//		// render the new timer
//	}
//
// # Bulk toggles
//
// ToggleWithChildren flips a flag and its direct children. With a BatchStore
// the change is transactional; otherwise children that fail are reported in a
// *PartialFailureError while the successful updates are kept:
//
//	report, err := admin.ToggleWithChildren(ctx, "social", false)
//	if errors.Is(err, feature.ErrPartialFailure) {
//		retry(report.Failed)
//	}
//
// # Caching
//
// A Cache shared between Evaluator and Admin memoizes results; every admin
// write invalidates it. See pkg/redis for a Redis-backed implementation.
package feature
