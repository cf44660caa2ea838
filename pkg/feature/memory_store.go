package feature

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store and BatchStore.
// It's useful for testing and single-process deployments.
type MemoryStore struct {
	flags     map[string]*Flag
	overrides map[overrideKey]*Override
	mu        sync.RWMutex
	now       func() time.Time
}

type overrideKey struct {
	userID  string
	feature string
}

var (
	_ Store      = (*MemoryStore)(nil)
	_ BatchStore = (*MemoryStore)(nil)
)

// NewMemoryStore creates a new in-memory store seeded with the given flags.
func NewMemoryStore(initialFlags ...*Flag) (*MemoryStore, error) {
	store := &MemoryStore{
		flags:     make(map[string]*Flag),
		overrides: make(map[overrideKey]*Override),
		now:       time.Now,
	}

	for _, flag := range initialFlags {
		if flag == nil {
			continue
		}
		if flag.Name == "" {
			return nil, errors.Join(ErrInvalidFlag, errors.New("flag name cannot be empty"))
		}
		flagCopy := *flag
		if flagCopy.CreatedAt.IsZero() {
			flagCopy.CreatedAt = store.now()
		}
		if flagCopy.UpdatedAt.IsZero() {
			flagCopy.UpdatedAt = flagCopy.CreatedAt
		}
		store.flags[flag.Name] = &flagCopy
	}

	return store, nil
}

// GetFlag retrieves a flag by name.
func (m *MemoryStore) GetFlag(ctx context.Context, name string) (*Flag, error) {
	m.mu.RLock()
	flag, exists := m.flags[name]
	m.mu.RUnlock()

	if !exists {
		return nil, ErrFlagNotFound
	}

	// Return a copy to prevent external modification
	flagCopy := *flag
	return &flagCopy, nil
}

// ListFlags returns all flags ordered by name.
func (m *MemoryStore) ListFlags(ctx context.Context) ([]*Flag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Flag, 0, len(m.flags))
	for _, flag := range m.flags {
		flagCopy := *flag
		result = append(result, &flagCopy)
	}
	sortByName(result)
	return result, nil
}

// ListChildren returns the direct children of parent ordered by name.
func (m *MemoryStore) ListChildren(ctx context.Context, parent string) ([]*Flag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Flag
	for _, flag := range m.flags {
		if flag.Parent == parent {
			flagCopy := *flag
			result = append(result, &flagCopy)
		}
	}
	sortByName(result)
	return result, nil
}

// UpsertFlag creates a flag or replaces an existing one.
func (m *MemoryStore) UpsertFlag(ctx context.Context, flag *Flag) error {
	if flag == nil {
		return errors.Join(ErrInvalidFlag, errors.New("flag cannot be nil"))
	}
	if flag.Name == "" {
		return errors.Join(ErrInvalidFlag, errors.New("flag name cannot be empty"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isAncestor(flag.Name, flag.Parent) {
		return errors.Join(ErrCyclicParent,
			fmt.Errorf("%q cannot be a descendant of itself", flag.Name))
	}

	now := m.now()
	flag.UpdatedAt = now
	if existing, exists := m.flags[flag.Name]; exists {
		// Preserve original creation time
		flag.CreatedAt = existing.CreatedAt
	} else {
		flag.CreatedAt = now
	}

	flagCopy := *flag
	m.flags[flag.Name] = &flagCopy
	return nil
}

// isAncestor reports whether name appears on the parent chain starting at
// parent. The caller must hold the lock.
func (m *MemoryStore) isAncestor(name, parent string) bool {
	seen := make(map[string]bool)
	for current := parent; current != "" && !seen[current]; {
		if current == name {
			return true
		}
		seen[current] = true
		next, exists := m.flags[current]
		if !exists {
			return false
		}
		current = next.Parent
	}
	return false
}

// DeleteFlag removes a flag and every override that references it.
func (m *MemoryStore) DeleteFlag(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.flags[name]; !exists {
		return ErrFlagNotFound
	}
	delete(m.flags, name)

	for key := range m.overrides {
		if key.feature == name {
			delete(m.overrides, key)
		}
	}
	return nil
}

// SetEnabled flips the enabled bit of a single flag.
func (m *MemoryStore) SetEnabled(ctx context.Context, name string, enabled bool) error {
	return m.SetEnabledMany(ctx, []string{name}, enabled)
}

// SetRollout changes the rollout percentage of a single flag.
func (m *MemoryStore) SetRollout(ctx context.Context, name string, percentage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	flag, exists := m.flags[name]
	if !exists {
		return ErrFlagNotFound
	}
	flag.RolloutPercentage = percentage
	flag.UpdatedAt = m.now()
	return nil
}

// SetEnabledMany flips the enabled bit of every named flag, or of none of
// them if any name is unknown.
func (m *MemoryStore) SetEnabledMany(ctx context.Context, names []string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range names {
		if _, exists := m.flags[name]; !exists {
			return errors.Join(ErrFlagNotFound, errors.New(name))
		}
	}

	now := m.now()
	for _, name := range names {
		flag := m.flags[name]
		flag.Enabled = enabled
		flag.UpdatedAt = now
	}
	return nil
}

// GetOverride returns the user's override for a feature.
func (m *MemoryStore) GetOverride(ctx context.Context, userID, featureName string) (*Override, error) {
	m.mu.RLock()
	override, exists := m.overrides[overrideKey{userID: userID, feature: featureName}]
	m.mu.RUnlock()

	if !exists {
		return nil, ErrOverrideNotFound
	}
	overrideCopy := *override
	return &overrideCopy, nil
}

// SetOverride stores or replaces a user override.
func (m *MemoryStore) SetOverride(ctx context.Context, override *Override) error {
	if override == nil || override.UserID == "" || override.FeatureName == "" {
		return errors.Join(ErrInvalidFlag, errors.New("override requires user id and feature name"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	overrideCopy := *override
	m.overrides[overrideKey{userID: override.UserID, feature: override.FeatureName}] = &overrideCopy
	return nil
}

// DeleteOverride removes a user override.
func (m *MemoryStore) DeleteOverride(ctx context.Context, userID, featureName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := overrideKey{userID: userID, feature: featureName}
	if _, exists := m.overrides[key]; !exists {
		return ErrOverrideNotFound
	}
	delete(m.overrides, key)
	return nil
}

func sortByName(flags []*Flag) {
	slices.SortFunc(flags, func(a, b *Flag) int {
		return cmp.Compare(a.Name, b.Name)
	})
}
