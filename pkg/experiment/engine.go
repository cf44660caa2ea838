package experiment

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/featurelab/pkg/bucket"
	"github.com/dmitrymomot/featurelab/pkg/logger"
)

// Engine manages experiment lifecycles and hands out variants.
type Engine struct {
	store       Store
	assignments AssignmentStore
	cache       *assignmentCache
	opts        *options
}

// NewEngine creates an engine over the given stores.
// Panics if either store is nil to fail fast during initialization.
func NewEngine(store Store, assignments AssignmentStore, opts ...Option) *Engine {
	if store == nil {
		panic("experiment: Store is required")
	}
	if assignments == nil {
		panic("experiment: AssignmentStore is required")
	}

	o := &options{
		logger:    slog.Default(),
		now:       time.Now,
		cacheSize: DefaultAssignmentCacheSize,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}

	return &Engine{
		store:       store,
		assignments: assignments,
		cache:       newAssignmentCache(o.cacheSize),
		opts:        o,
	}
}

// Create stores a new draft experiment.
func (e *Engine) Create(ctx context.Context, spec Spec) (*Experiment, error) {
	spec.ID = strings.TrimSpace(spec.ID)
	if spec.ID == "" {
		spec.ID = e.opts.newID()
	}
	if err := validateDefinition(spec.Variants, spec.Allocation); err != nil {
		return nil, err
	}
	if spec.FeatureName != "" && e.opts.validateFeature != nil {
		if err := e.opts.validateFeature(ctx, spec.FeatureName); err != nil {
			return nil, errors.Join(ErrInvalidExperiment, err)
		}
	}

	now := e.opts.now()
	exp := &Experiment{
		ID:          spec.ID,
		Name:        spec.Name,
		FeatureName: spec.FeatureName,
		Status:      StatusDraft,
		Variants:    slices.Clone(spec.Variants),
		Allocation:  maps.Clone(spec.Allocation),
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	if err := e.store.CreateExperiment(ctx, exp); err != nil {
		return nil, err
	}

	e.opts.logger.InfoContext(ctx, "experiment created",
		logger.ExperimentID(exp.ID),
		logger.Feature(exp.FeatureName),
	)
	return exp, nil
}

// Get returns the experiment with the given id.
func (e *Engine) Get(ctx context.Context, id string) (*Experiment, error) {
	return e.store.GetExperiment(ctx, id)
}

// List returns experiments in any of statuses, or all when none are given.
func (e *Engine) List(ctx context.Context, statuses ...Status) ([]*Experiment, error) {
	return e.store.ListExperiments(ctx, statuses...)
}

// Start moves a draft or paused experiment to running. The allocation must
// sum to 100 over declared variants that include control.
func (e *Engine) Start(ctx context.Context, id string) (*Experiment, error) {
	return e.transition(ctx, id, ActionStart)
}

// Pause freezes new assignments. Users assigned earlier keep their variant
// and their events are still recorded.
func (e *Engine) Pause(ctx context.Context, id string) (*Experiment, error) {
	return e.transition(ctx, id, ActionPause)
}

// Stop ends the experiment permanently. Everyone is served control from now
// on; stored assignments and events stay queryable.
func (e *Engine) Stop(ctx context.Context, id string) (*Experiment, error) {
	return e.transition(ctx, id, ActionStop)
}

func (e *Engine) transition(ctx context.Context, id string, action Action) (*Experiment, error) {
	var from Status
	exp, err := e.update(ctx, id, func(exp *Experiment) (bool, error) {
		from = exp.Status
		return true, apply(exp, action, e.opts.now())
	})
	if err != nil {
		return nil, err
	}

	e.opts.logger.InfoContext(ctx, "experiment status changed",
		logger.ExperimentID(exp.ID),
		slog.String("from", string(from)),
		logger.Status(string(exp.Status)),
	)
	return exp, nil
}

// UpdateAllocation replaces the traffic split. Existing assignments are
// kept; only users assigned afterwards follow the new split.
func (e *Engine) UpdateAllocation(ctx context.Context, id string, allocation map[string]int) (*Experiment, error) {
	exp, err := e.update(ctx, id, func(exp *Experiment) (bool, error) {
		if exp.Status == StatusStopped {
			return false, &TransitionError{From: exp.Status, Action: "update allocation"}
		}
		if err := validateDefinition(exp.Variants, allocation); err != nil {
			return false, err
		}
		exp.Allocation = maps.Clone(allocation)
		exp.UpdatedAt = e.opts.now()
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	e.opts.logger.InfoContext(ctx, "experiment allocation updated",
		logger.ExperimentID(exp.ID),
		slog.Any("allocation", exp.Allocation),
	)
	return exp, nil
}

// maxUpdateAttempts bounds how often update re-reads after losing a race.
const maxUpdateAttempts = 5

// update reads the experiment, lets mutate change it and writes it back
// under the version read. When another writer got in between, the
// experiment is read again and mutate re-applied to the fresh copy.
// mutate returning false skips the write.
func (e *Engine) update(ctx context.Context, id string, mutate func(*Experiment) (bool, error)) (*Experiment, error) {
	var err error
	for range maxUpdateAttempts {
		var (
			exp     *Experiment
			changed bool
		)
		if exp, err = e.store.GetExperiment(ctx, id); err != nil {
			return nil, err
		}
		if changed, err = mutate(exp); err != nil {
			return nil, err
		}
		if !changed {
			return exp, nil
		}
		err = e.store.UpdateExperiment(ctx, exp)
		if err == nil {
			return exp, nil
		}
		if !errors.Is(err, ErrConcurrentUpdate) {
			return nil, err
		}
		e.opts.logger.DebugContext(ctx, "experiment changed concurrently, retrying",
			logger.ExperimentID(id),
		)
	}
	return nil, err
}

// AssignVariant returns the user's variant.
//
// Running experiments return the stored assignment, creating one on first
// contact. Paused experiments return existing assignments and control for
// everyone else. Draft and stopped experiments always return control.
// Nothing is stored unless the experiment is running.
//
// The returned variant is always usable: on error it is control.
func (e *Engine) AssignVariant(ctx context.Context, experimentID, userID string) (string, error) {
	if userID == "" {
		return ControlVariant, ErrUserIDRequired
	}

	exp, err := e.store.GetExperiment(ctx, experimentID)
	if err != nil {
		if !errors.Is(err, ErrExperimentNotFound) {
			e.opts.logger.ErrorContext(ctx, "failed to load experiment",
				logger.ExperimentID(experimentID),
				logger.Error(err),
			)
		}
		return ControlVariant, err
	}

	switch exp.Status {
	case StatusRunning:
	case StatusPaused:
		variant, err := e.Variant(ctx, experimentID, userID)
		if err != nil {
			if errors.Is(err, ErrAssignmentNotFound) {
				return ControlVariant, nil
			}
			return ControlVariant, err
		}
		return variant, nil
	default:
		return ControlVariant, nil
	}

	variant, err := e.Variant(ctx, experimentID, userID)
	if err == nil {
		return variant, nil
	}
	if !errors.Is(err, ErrAssignmentNotFound) {
		// Never re-randomize when the existing assignment could not be read.
		return ControlVariant, err
	}

	stored, err := e.assignments.InsertAssignmentIfAbsent(ctx, &Assignment{
		ExperimentID: experimentID,
		UserID:       userID,
		Variant:      pickVariant(exp, userID),
		AssignedAt:   e.opts.now(),
	})
	if err != nil {
		e.opts.logger.ErrorContext(ctx, "failed to store assignment",
			logger.ExperimentID(experimentID),
			logger.UserID(userID),
			logger.Error(err),
		)
		return ControlVariant, err
	}

	e.cache.put(assignmentKey{experimentID, userID}, stored.Variant)
	e.opts.logger.DebugContext(ctx, "user assigned to variant",
		logger.ExperimentID(experimentID),
		logger.UserID(userID),
		logger.Variant(stored.Variant),
	)
	return stored.Variant, nil
}

// Variant returns the stored variant without assigning.
// It returns ErrAssignmentNotFound when the user was never assigned.
func (e *Engine) Variant(ctx context.Context, experimentID, userID string) (string, error) {
	key := assignmentKey{experimentID, userID}
	if v, ok := e.cache.get(key); ok {
		return v, nil
	}

	a, err := e.assignments.GetAssignment(ctx, experimentID, userID)
	if err != nil {
		if !errors.Is(err, ErrAssignmentNotFound) {
			e.opts.logger.ErrorContext(ctx, "failed to load assignment",
				logger.ExperimentID(experimentID),
				logger.UserID(userID),
				logger.Error(err),
			)
		}
		return "", err
	}
	e.cache.put(key, a.Variant)
	return a.Variant, nil
}

// Participants returns the number of assigned users per declared variant.
func (e *Engine) Participants(ctx context.Context, experimentID string) (map[string]int64, error) {
	return e.assignments.CountAssignments(ctx, experimentID)
}

// setWinner records variant as the winner without touching the status.
func (e *Engine) setWinner(ctx context.Context, id, variant string) (*Experiment, error) {
	return e.update(ctx, id, func(exp *Experiment) (bool, error) {
		if exp.WinningVariant == variant {
			return false, nil
		}
		exp.WinningVariant = variant
		exp.UpdatedAt = e.opts.now()
		return true, nil
	})
}

// pickVariant walks the declared variants, accumulating their shares, and
// returns the first whose cumulative range contains the user's bucket.
func pickVariant(exp *Experiment, userID string) string {
	b := bucket.Bucket(userID, exp.ID)
	cumulative := 0
	for _, v := range exp.Variants {
		cumulative += exp.Allocation[v]
		if b < cumulative {
			return v
		}
	}
	return ControlVariant
}
