package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/featurelab/pkg/logger"
)

// Recorder attributes conversion events to variants and appends them to the
// event log.
type Recorder struct {
	engine *Engine
	events EventLog
	opts   *recorderOptions
}

// NewRecorder creates a recorder.
// Panics if engine or events is nil to fail fast during initialization.
func NewRecorder(engine *Engine, events EventLog, opts ...RecorderOption) *Recorder {
	if engine == nil {
		panic("experiment: Engine is required")
	}
	if events == nil {
		panic("experiment: EventLog is required")
	}

	o := &recorderOptions{
		logger: slog.Default(),
		now:    time.Now,
		types:  DefaultEventTypes(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Recorder{engine: engine, events: events, opts: o}
}

// EventTypes returns a copy of the registry.
func (r *Recorder) EventTypes() EventTypes {
	return maps.Clone(r.opts.types)
}

// Record stores a conversion event.
//
// The variant is taken from the user's assignment; users never assigned are
// recorded under UnknownVariant, which statistics ignore. A zero Value is
// stored as 1. First-occurrence types keep only the first event per
// (experiment, user, type); repeats succeed without storing anything, so
// retries are safe.
func (r *Recorder) Record(ctx context.Context, ev Event) error {
	if ev.ExperimentID == "" {
		return errors.Join(ErrInvalidEvent, errors.New("experiment id is required"))
	}
	if ev.UserID == "" {
		return ErrUserIDRequired
	}
	counting, ok := r.opts.types[ev.EventType]
	if !ok {
		return errors.Join(ErrInvalidEvent, fmt.Errorf("unknown event type %q", ev.EventType))
	}

	if _, err := r.engine.Get(ctx, ev.ExperimentID); err != nil {
		return err
	}

	variant, err := r.engine.Variant(ctx, ev.ExperimentID, ev.UserID)
	switch {
	case err == nil:
	case errors.Is(err, ErrAssignmentNotFound):
		variant = UnknownVariant
	default:
		return err
	}

	ev.Variant = variant
	if ev.ID == "" {
		ev.ID = r.opts.newID()
	}
	if ev.Value == 0 {
		ev.Value = 1
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = r.opts.now()
	}

	attrs := []any{
		logger.ExperimentID(ev.ExperimentID),
		logger.UserID(ev.UserID),
		logger.Variant(ev.Variant),
		logger.EventType(ev.EventType),
	}

	if counting == Accumulating {
		if err := r.events.Append(ctx, &ev); err != nil {
			r.opts.logger.ErrorContext(ctx, "failed to append event", append(attrs, logger.Error(err))...)
			return err
		}
		r.opts.logger.DebugContext(ctx, "event recorded", attrs...)
		return nil
	}

	stored, err := r.events.AppendUnique(ctx, &ev)
	if err != nil {
		r.opts.logger.ErrorContext(ctx, "failed to append event", append(attrs, logger.Error(err))...)
		return err
	}
	if !stored {
		r.opts.logger.DebugContext(ctx, "duplicate event ignored", attrs...)
		return nil
	}
	r.opts.logger.DebugContext(ctx, "event recorded", attrs...)
	return nil
}
