package feature

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/featurelab/pkg/logger"
)

// Admin applies administrative changes to flags and overrides.
// Unlike evaluation, every failure is returned to the caller.
type Admin struct {
	store Store
	opts  *options
}

// ToggleReport describes the outcome of ToggleWithChildren.
type ToggleReport struct {
	Feature string   `json:"feature"`
	Enabled bool     `json:"enabled"`
	Updated []string `json:"updated"`
	Failed  []string `json:"failed,omitempty"`
}

// NewAdmin creates an admin service on top of store.
// Panics if store is nil to fail fast during initialization.
func NewAdmin(store Store, opts ...Option) *Admin {
	if store == nil {
		panic("feature: Store is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Admin{store: store, opts: o}
}

// Flag returns a single flag.
func (a *Admin) Flag(ctx context.Context, name string) (*Flag, error) {
	return a.store.GetFlag(ctx, name)
}

// Flags returns all flags.
func (a *Admin) Flags(ctx context.Context) ([]*Flag, error) {
	return a.store.ListFlags(ctx)
}

// UpsertFlag validates and stores a flag definition. A parent must already
// exist and must not have flag among its ancestors.
func (a *Admin) UpsertFlag(ctx context.Context, flag Flag) (*Flag, error) {
	if flag.Audience == "" {
		flag.Audience = AudienceAll
	}
	if err := validateFlag(flag); err != nil {
		return nil, err
	}
	if flag.Parent != "" {
		if err := a.checkParent(ctx, flag.Name, flag.Parent); err != nil {
			return nil, err
		}
	}

	if err := a.store.UpsertFlag(ctx, &flag); err != nil {
		return nil, err
	}
	a.invalidateAll(ctx)

	a.opts.logger.InfoContext(ctx, "feature flag upserted",
		logger.Feature(flag.Name),
		slog.Bool("enabled", flag.Enabled),
		slog.Int("rollout_percentage", flag.RolloutPercentage),
		slog.String("parent", flag.Parent),
	)
	return a.store.GetFlag(ctx, flag.Name)
}

// SetEnabled flips the enabled bit of a single flag.
func (a *Admin) SetEnabled(ctx context.Context, name string, enabled bool) error {
	if err := a.store.SetEnabled(ctx, name, enabled); err != nil {
		return err
	}
	a.invalidateAll(ctx)
	a.opts.logger.InfoContext(ctx, "feature flag toggled",
		logger.Feature(name),
		slog.Bool("enabled", enabled),
	)
	return nil
}

// SetRollout changes the rollout percentage of a flag. Because buckets are
// stable, raising the percentage only adds users.
func (a *Admin) SetRollout(ctx context.Context, name string, percentage int) error {
	if percentage < 0 || percentage > 100 {
		return errors.Join(ErrInvalidFlag,
			fmt.Errorf("rollout percentage %d out of range [0,100]", percentage))
	}
	if err := a.store.SetRollout(ctx, name, percentage); err != nil {
		return err
	}
	a.invalidateAll(ctx)
	a.opts.logger.InfoContext(ctx, "feature flag rollout changed",
		logger.Feature(name),
		slog.Int("rollout_percentage", percentage),
	)
	return nil
}

// ToggleWithChildren sets enabled on a flag and all of its direct children.
//
// Stores implementing BatchStore apply the change in a single transaction.
// Otherwise the parent is updated first, then each child; children that fail
// are listed in the report and in a *PartialFailureError, and the updates
// that succeeded are kept.
func (a *Admin) ToggleWithChildren(ctx context.Context, name string, enabled bool) (*ToggleReport, error) {
	if _, err := a.store.GetFlag(ctx, name); err != nil {
		return nil, err
	}
	children, err := a.store.ListChildren(ctx, name)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(children)+1)
	names = append(names, name)
	for _, child := range children {
		names = append(names, child.Name)
	}

	report := &ToggleReport{Feature: name, Enabled: enabled}
	defer a.invalidateAll(ctx)

	if batch, ok := a.store.(BatchStore); ok {
		if err := batch.SetEnabledMany(ctx, names, enabled); err != nil {
			return nil, err
		}
		report.Updated = names
		a.logToggle(ctx, report)
		return report, nil
	}

	if err := a.store.SetEnabled(ctx, name, enabled); err != nil {
		return nil, err
	}
	report.Updated = append(report.Updated, name)

	var failure *PartialFailureError
	for _, child := range names[1:] {
		if err := a.store.SetEnabled(ctx, child, enabled); err != nil {
			if failure == nil {
				failure = &PartialFailureError{Errs: make(map[string]error)}
			}
			failure.Failed = append(failure.Failed, child)
			failure.Errs[child] = err
			continue
		}
		report.Updated = append(report.Updated, child)
	}

	a.logToggle(ctx, report)
	if failure != nil {
		report.Failed = failure.Failed
		a.opts.logger.WarnContext(ctx, "feature flag tree toggle partially failed",
			logger.Feature(name),
			slog.Any("failed", failure.Failed),
		)
		return report, failure
	}
	return report, nil
}

// DeleteFlag hard-deletes a flag. Flags that are still a parent of other
// flags cannot be deleted; disable them instead.
func (a *Admin) DeleteFlag(ctx context.Context, name string) error {
	children, err := a.store.ListChildren(ctx, name)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return errors.Join(ErrHasChildren,
			fmt.Errorf("%q is the parent of %d flag(s)", name, len(children)))
	}
	if err := a.store.DeleteFlag(ctx, name); err != nil {
		return err
	}
	a.invalidateAll(ctx)
	return nil
}

// SetOverride stores a per-user override. The feature must exist.
func (a *Admin) SetOverride(ctx context.Context, override Override) error {
	if override.UserID == "" {
		return errors.Join(ErrInvalidFlag, errors.New("override user id cannot be empty"))
	}
	if _, err := a.store.GetFlag(ctx, override.FeatureName); err != nil {
		return err
	}
	if err := a.store.SetOverride(ctx, &override); err != nil {
		return err
	}
	a.invalidateUser(ctx, override.UserID)
	return nil
}

// RemoveOverride deletes a per-user override.
func (a *Admin) RemoveOverride(ctx context.Context, userID, featureName string) error {
	if err := a.store.DeleteOverride(ctx, userID, featureName); err != nil {
		return err
	}
	a.invalidateUser(ctx, userID)
	return nil
}

// checkParent rejects missing parents and parent chains that lead back to name.
func (a *Admin) checkParent(ctx context.Context, name, parent string) error {
	current := parent
	for hops := 0; current != ""; hops++ {
		if current == name {
			return errors.Join(ErrCyclicParent,
				fmt.Errorf("%q cannot be a descendant of itself", name))
		}
		if hops >= a.opts.maxDepth {
			return errors.Join(ErrCyclicParent,
				fmt.Errorf("parent chain of %q exceeds %d levels", name, a.opts.maxDepth))
		}
		flag, err := a.store.GetFlag(ctx, current)
		if err != nil {
			if errors.Is(err, ErrFlagNotFound) {
				return errors.Join(ErrInvalidFlag, fmt.Errorf("parent flag %q does not exist", current))
			}
			return err
		}
		current = flag.Parent
	}
	return nil
}

func (a *Admin) invalidateAll(ctx context.Context) {
	if err := a.opts.cache.InvalidateAll(ctx); err != nil {
		a.opts.logger.WarnContext(ctx, "failed to invalidate feature cache", logger.Error(err))
	}
}

func (a *Admin) invalidateUser(ctx context.Context, userID string) {
	if err := a.opts.cache.InvalidateUser(ctx, userID); err != nil {
		a.opts.logger.WarnContext(ctx, "failed to invalidate feature cache",
			logger.UserID(userID),
			logger.Error(err),
		)
	}
}

func (a *Admin) logToggle(ctx context.Context, report *ToggleReport) {
	a.opts.logger.InfoContext(ctx, "feature flag tree toggled",
		logger.Feature(report.Feature),
		slog.Bool("enabled", report.Enabled),
		slog.Int("updated", len(report.Updated)),
	)
}

func validateFlag(flag Flag) error {
	if flag.Name == "" {
		return errors.Join(ErrInvalidFlag, errors.New("flag name cannot be empty"))
	}
	if flag.RolloutPercentage < 0 || flag.RolloutPercentage > 100 {
		return errors.Join(ErrInvalidFlag,
			fmt.Errorf("rollout percentage %d out of range [0,100]", flag.RolloutPercentage))
	}
	if !flag.Audience.Valid() {
		return errors.Join(ErrInvalidFlag, fmt.Errorf("unknown audience %q", flag.Audience))
	}
	if flag.Parent == flag.Name {
		return errors.Join(ErrCyclicParent, fmt.Errorf("%q cannot be its own parent", flag.Name))
	}
	return nil
}
