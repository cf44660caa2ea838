package experiment

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/featurelab/pkg/stats"
)

// DefaultAssignmentCacheSize is the number of assignments kept in memory.
const DefaultAssignmentCacheSize = 10000

// FeatureValidator reports an error when name is not a usable feature flag.
type FeatureValidator func(ctx context.Context, name string) error

// Option configures an Engine.
type Option func(*options)

type options struct {
	logger          *slog.Logger
	now             func() time.Time
	cacheSize       int
	validateFeature FeatureValidator
	newID           func() string
}

// WithLogger sets the logger. Nil loggers are ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithAssignmentCacheSize bounds the in-process assignment cache.
// Zero or negative disables it.
func WithAssignmentCacheSize(size int) Option {
	return func(o *options) {
		o.cacheSize = size
	}
}

// WithFeatureValidator makes Create reject experiments whose feature name
// the validator refuses.
func WithFeatureValidator(fn FeatureValidator) Option {
	return func(o *options) {
		o.validateFeature = fn
	}
}

// WithIDGenerator overrides how ids are generated for experiments created
// without one.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// RecorderOption configures a Recorder.
type RecorderOption func(*recorderOptions)

type recorderOptions struct {
	logger *slog.Logger
	now    func() time.Time
	types  EventTypes
	newID  func() string
}

// WithRecorderLogger sets the recorder's logger. Nil loggers are ignored.
func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(o *recorderOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRecorderClock overrides time.Now for events recorded without a timestamp.
func WithRecorderClock(now func() time.Time) RecorderOption {
	return func(o *recorderOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithEventType registers or redefines an event type.
func WithEventType(name string, counting Counting) RecorderOption {
	return func(o *recorderOptions) {
		o.types[name] = counting
	}
}

// WithEventTypes replaces the registry entirely.
func WithEventTypes(types EventTypes) RecorderOption {
	return func(o *recorderOptions) {
		o.types = make(EventTypes, len(types))
		for name, counting := range types {
			o.types[name] = counting
		}
	}
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*analyzerOptions)

type analyzerOptions struct {
	logger          *slog.Logger
	config          stats.Config
	conversionEvent string
}

// WithAnalyzerLogger sets the analyzer's logger. Nil loggers are ignored.
func WithAnalyzerLogger(logger *slog.Logger) AnalyzerOption {
	return func(o *analyzerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithStatsConfig sets interval width and the winner threshold.
func WithStatsConfig(cfg stats.Config) AnalyzerOption {
	return func(o *analyzerOptions) {
		o.config = cfg
	}
}

// WithConversionEvent sets the event type statistics are computed over.
func WithConversionEvent(eventType string) AnalyzerOption {
	return func(o *analyzerOptions) {
		if eventType != "" {
			o.conversionEvent = eventType
		}
	}
}
