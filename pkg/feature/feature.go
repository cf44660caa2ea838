package feature

import (
	"context"
	"time"
)

// Audience is the eligibility segment a flag is meant for.
// The evaluator never resolves audiences itself; callers pre-filter users.
type Audience string

const (
	AudienceAll     Audience = "all"
	AudienceBeta    Audience = "beta"
	AudiencePremium Audience = "premium"
	AudiencePro     Audience = "pro"
	AudienceAdmin   Audience = "admin"
)

// Valid reports whether a is one of the known audiences.
func (a Audience) Valid() bool {
	switch a {
	case AudienceAll, AudienceBeta, AudiencePremium, AudiencePro, AudienceAdmin:
		return true
	}
	return false
}

// Flag is the runtime state of a feature.
type Flag struct {
	Name              string    `json:"name"`
	Enabled           bool      `json:"enabled"`
	RolloutPercentage int       `json:"rollout_percentage"`
	Audience          Audience  `json:"audience"`
	Parent            string    `json:"parent,omitempty"`
	CreatedAt         time.Time `json:"created_at,omitzero"`
	UpdatedAt         time.Time `json:"updated_at,omitzero"`
}

// Override is an explicit per-user exception for a single feature.
type Override struct {
	UserID      string `json:"user_id"`
	FeatureName string `json:"feature_name"`
	Enabled     bool   `json:"enabled"`
	Variant     string `json:"variant,omitempty"`
}

// Source explains which rule decided an evaluation.
type Source string

const (
	SourceOverride       Source = "override"
	SourceFeatureFlag    Source = "feature_flag"
	SourceParentDisabled Source = "parent_disabled"
	SourceNotFound       Source = "not_found"
)

// Result is the outcome of evaluating a feature for a user.
// Variant is only set by overrides that carry one.
type Result struct {
	Enabled bool   `json:"enabled"`
	Variant string `json:"variant,omitempty"`
	Source  Source `json:"source"`
}

// Store persists flags and per-user overrides.
type Store interface {
	// GetFlag returns ErrFlagNotFound if the flag does not exist.
	GetFlag(ctx context.Context, name string) (*Flag, error)

	// ListFlags returns every flag ordered by name.
	ListFlags(ctx context.Context) ([]*Flag, error)

	// ListChildren returns flags whose Parent equals parent.
	ListChildren(ctx context.Context, parent string) ([]*Flag, error)

	// UpsertFlag creates or replaces a flag, preserving CreatedAt on update.
	// It returns ErrCyclicParent if flag would become its own ancestor; the
	// check and the write are atomic. Other hierarchy rules are the caller's job.
	UpsertFlag(ctx context.Context, flag *Flag) error

	// DeleteFlag returns ErrFlagNotFound if the flag does not exist.
	DeleteFlag(ctx context.Context, name string) error

	// SetEnabled flips the enabled bit. Returns ErrFlagNotFound for unknown flags.
	SetEnabled(ctx context.Context, name string, enabled bool) error

	// SetRollout changes only the rollout percentage. Returns ErrFlagNotFound
	// for unknown flags.
	SetRollout(ctx context.Context, name string, percentage int) error

	// GetOverride returns ErrOverrideNotFound if no override exists.
	GetOverride(ctx context.Context, userID, featureName string) (*Override, error)

	SetOverride(ctx context.Context, override *Override) error

	// DeleteOverride returns ErrOverrideNotFound if no override exists.
	DeleteOverride(ctx context.Context, userID, featureName string) error
}

// BatchStore is implemented by stores able to flip several flags in one
// transaction. Either every name is updated or none is.
type BatchStore interface {
	SetEnabledMany(ctx context.Context, names []string, enabled bool) error
}

// Stamp identifies the invalidation state a cache lookup observed. The
// evaluator treats it as opaque and hands it back to Set unchanged.
type Stamp string

// Cache memoizes evaluation results.
//
// Get reports a hit, or a miss together with the current stamp. The
// evaluator reads the store only after Get, so a Set carrying that stamp
// must not become visible if an invalidation ran in between; otherwise a
// result computed from pre-write state would outlive the write. An empty
// stamp means the state is unknown and Set stores nothing.
type Cache interface {
	Get(ctx context.Context, userID, featureName string) (Result, Stamp, bool)
	Set(ctx context.Context, userID, featureName string, stamp Stamp, result Result) error
	InvalidateUser(ctx context.Context, userID string) error
	InvalidateAll(ctx context.Context) error
}

// NoopCache disables caching.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string, string) (Result, Stamp, bool) {
	return Result{}, "", false
}
func (NoopCache) Set(context.Context, string, string, Stamp, Result) error { return nil }
func (NoopCache) InvalidateUser(context.Context, string) error { return nil }
func (NoopCache) InvalidateAll(context.Context) error { return nil }
