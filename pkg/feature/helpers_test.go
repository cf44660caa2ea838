package feature_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/dmitrymomot/featurelab/pkg/feature"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var errStoreDown = errors.New("store unavailable")

// sequentialStore hides BatchStore and fails SetEnabled for selected names.
type sequentialStore struct {
	feature.Store
	failSet map[string]bool
}

func (s *sequentialStore) SetEnabled(ctx context.Context, name string, enabled bool) error {
	if s.failSet[name] {
		return errStoreDown
	}
	return s.Store.SetEnabled(ctx, name, enabled)
}

// brokenStore fails every read of the named flag or of any override.
type brokenStore struct {
	feature.Store
	failFlag      string
	failOverrides bool
}

func (s *brokenStore) GetFlag(ctx context.Context, name string) (*feature.Flag, error) {
	if name == s.failFlag {
		return nil, errStoreDown
	}
	return s.Store.GetFlag(ctx, name)
}

func (s *brokenStore) GetOverride(ctx context.Context, userID, name string) (*feature.Override, error) {
	if s.failOverrides {
		return nil, errStoreDown
	}
	return s.Store.GetOverride(ctx, userID, name)
}

// mapCache is a Cache that records invalidations. Its stamp is a counter
// of invalidations, and writes stamped before the latest one are dropped.
type mapCache struct {
	mu              sync.Mutex
	entries         map[string]feature.Result
	generation      int
	invalidatedAll  int
	invalidatedUser []string
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string]feature.Result)}
}

func (c *mapCache) stamp() feature.Stamp {
	return feature.Stamp(strconv.Itoa(c.generation))
}

func (c *mapCache) Get(_ context.Context, userID, name string) (feature.Result, feature.Stamp, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[userID+"|"+name]
	return r, c.stamp(), ok
}

func (c *mapCache) Set(_ context.Context, userID, name string, stamp feature.Stamp, r feature.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stamp != c.stamp() {
		return nil
	}
	c.entries[userID+"|"+name] = r
	return nil
}

func (c *mapCache) InvalidateUser(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.invalidatedUser = append(c.invalidatedUser, userID)
	for k := range c.entries {
		if strings.HasPrefix(k, userID+"|") {
			delete(c.entries, k)
		}
	}
	return nil
}

func (c *mapCache) InvalidateAll(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.invalidatedAll++
	c.entries = make(map[string]feature.Result)
	return nil
}

// writeOnRead runs write right after the evaluator has read a flag, once.
type writeOnRead struct {
	feature.Store
	write func(ctx context.Context) error
}

func (s *writeOnRead) GetFlag(ctx context.Context, name string) (*feature.Flag, error) {
	flag, err := s.Store.GetFlag(ctx, name)
	if err == nil && s.write != nil {
		write := s.write
		s.write = nil
		if err := write(ctx); err != nil {
			return nil, err
		}
	}
	return flag, err
}

// writeBeforeRollout runs write once, after the first flag read or before
// the first rollout change, whichever comes first.
type writeBeforeRollout struct {
	writeOnRead
}

func (s *writeBeforeRollout) SetRollout(ctx context.Context, name string, percentage int) error {
	if s.write != nil {
		write := s.write
		s.write = nil
		if err := write(ctx); err != nil {
			return err
		}
	}
	return s.Store.SetRollout(ctx, name, percentage)
}

func (c *mapCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
