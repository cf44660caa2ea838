// Package bucket implements deterministic percentile bucketing.
//
// A subject identifier (usually a user ID) is hashed together with a salt
// using 64-bit FNV-1a, passed through an avalanche finalizer and reduced
// modulo 100. The same inputs always produce
// the same bucket, independent of wall-clock time, process, or call order,
// which is what makes percentage rollouts monotonic: raising a rollout from
// 20% to 30% only ever adds users, because every user keeps their bucket.
//
// # Usage
//
//	b := bucket.Bucket("user-42", "new-workout-timer") // 0..99
//	if bucket.InRollout("user-42", "new-workout-timer", 25) {
//		// user is in the first quarter of the population
//	}
package bucket
