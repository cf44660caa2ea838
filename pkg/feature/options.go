package feature

import "log/slog"

// DefaultMaxDepth bounds how many parent hops evaluation follows before
// failing closed. Writes reject cycles, so this only trips on corrupt data.
const DefaultMaxDepth = 32

// Option configures an Evaluator or an Admin.
type Option func(*options)

type options struct {
	cache    Cache
	logger   *slog.Logger
	maxDepth int
}

func defaultOptions() *options {
	return &options{
		cache:    NoopCache{},
		logger:   slog.Default(),
		maxDepth: DefaultMaxDepth,
	}
}

// WithCache sets the evaluation cache. Evaluator and Admin must share the
// same cache so that admin writes invalidate cached results.
func WithCache(cache Cache) Option {
	return func(o *options) {
		if cache != nil {
			o.cache = cache
		}
	}
}

// WithLogger sets the logger. Nil loggers are ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMaxDepth sets the parent hop limit. Non-positive values are ignored.
func WithMaxDepth(depth int) Option {
	return func(o *options) {
		if depth > 0 {
			o.maxDepth = depth
		}
	}
}
