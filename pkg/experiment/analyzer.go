package experiment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/featurelab/pkg/logger"
	"github.com/dmitrymomot/featurelab/pkg/stats"
)

// Analyzer derives per-variant statistics from assignments and events.
type Analyzer struct {
	engine *Engine
	events EventLog
	types  EventTypes
	opts   *analyzerOptions
}

// NewAnalyzer creates an analyzer. types declares how the conversion event
// is counted; pass Recorder.EventTypes() to share the recorder's registry.
// Panics if engine or events is nil, or if the conversion event is not in
// types, to fail fast during initialization.
func NewAnalyzer(engine *Engine, events EventLog, types EventTypes, opts ...AnalyzerOption) *Analyzer {
	if engine == nil {
		panic("experiment: Engine is required")
	}
	if events == nil {
		panic("experiment: EventLog is required")
	}
	if types == nil {
		types = DefaultEventTypes()
	}

	o := &analyzerOptions{
		logger:          slog.Default(),
		config:          stats.DefaultConfig(),
		conversionEvent: DefaultConversionEvent,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.config.ControlVariant = ControlVariant
	if _, ok := types[o.conversionEvent]; !ok {
		panic(fmt.Sprintf("experiment: conversion event %q is not a registered event type", o.conversionEvent))
	}

	return &Analyzer{engine: engine, events: events, types: types, opts: o}
}

// ComputeStatistics returns statistics for every declared variant, in
// declaration order. Events from unassigned users are excluded.
func (a *Analyzer) ComputeStatistics(ctx context.Context, experimentID string) ([]stats.VariantStats, error) {
	exp, err := a.engine.Get(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	return a.compute(ctx, exp)
}

func (a *Analyzer) compute(ctx context.Context, exp *Experiment) ([]stats.VariantStats, error) {
	participants, err := a.engine.Participants(ctx, exp.ID)
	if err != nil {
		return nil, err
	}
	tallies, err := a.events.Aggregate(ctx, exp.ID, a.opts.conversionEvent)
	if err != nil {
		return nil, err
	}

	accumulate := a.types[a.opts.conversionEvent] == Accumulating
	counts := make([]stats.Counts, 0, len(exp.Variants))
	for _, v := range exp.Variants {
		t := tallies[v]
		conversions := float64(t.Users)
		if accumulate {
			conversions = t.Sum
		}
		counts = append(counts, stats.Counts{
			Variant:      v,
			Participants: participants[v],
			Conversions:  conversions,
		})
	}
	return stats.Compute(counts, a.opts.config), nil
}

// DetectWinner computes statistics and, when a challenger beats control,
// records it as the experiment's winning variant. The status is never
// changed; stopping remains an explicit decision.
func (a *Analyzer) DetectWinner(ctx context.Context, experimentID string) (string, bool, error) {
	results, err := a.ComputeStatistics(ctx, experimentID)
	if err != nil {
		return "", false, err
	}

	winner, ok := stats.DetectWinner(results, a.opts.config)
	if !ok {
		return "", false, nil
	}
	if _, err := a.engine.setWinner(ctx, experimentID, winner); err != nil {
		return "", false, err
	}

	a.opts.logger.InfoContext(ctx, "experiment winner detected",
		logger.ExperimentID(experimentID),
		logger.Variant(winner),
	)
	return winner, true, nil
}
