package bucket

import "hash/fnv"

// Buckets is the number of distinct bucket values. Percentages map onto it
// one-to-one, so a rollout of N percent enables buckets [0, N).
const Buckets = 100

const separator = "::"

// Bucket maps a subject identifier and a salt onto a stable integer in [0, 100).
//
// The result depends only on its inputs. Callers salt with the feature name for
// flag rollouts and with the experiment ID for variant assignment, so the same
// user lands in uncorrelated buckets for different flags and experiments.
func Bucket(subjectID, salt string) int {
	h := fnv.New64a()
	// hash.Hash never returns an error from Write.
	_, _ = h.Write([]byte(subjectID))
	_, _ = h.Write([]byte(separator))
	_, _ = h.Write([]byte(salt))
	return int(mix64(h.Sum64()) % Buckets)
}

// mix64 is the murmur3 fmix64 finalizer. FNV-1a alone leaves the low bits
// weakly mixed, and the modulo reduction depends on them.
func mix64(x uint64) uint64 {
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}

// InRollout reports whether the subject falls inside a percentage rollout.
// Percentages outside [0, 100] are clamped.
func InRollout(subjectID, salt string, percentage int) bool {
	switch {
	case percentage <= 0:
		return false
	case percentage >= Buckets:
		return true
	}
	return Bucket(subjectID, salt) < percentage
}
