package experiment

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/featurelab/pkg/logger"
	"github.com/dmitrymomot/featurelab/pkg/stats"
)

// DefaultRefreshInterval is how often the Refresher recomputes statistics.
const DefaultRefreshInterval = time.Minute

// Snapshot is the last computed statistics of one experiment.
type Snapshot struct {
	ExperimentID   string               `json:"experiment_id"`
	Status         Status               `json:"status"`
	Variants       []stats.VariantStats `json:"variants"`
	WinningVariant string               `json:"winning_variant,omitempty"`
	ComputedAt     time.Time            `json:"computed_at"`
}

// Refresher recomputes statistics of active experiments on a fixed cadence
// so that readers get cached snapshots instead of scanning the event log.
type Refresher struct {
	analyzer  *Analyzer
	interval  time.Duration
	detect    bool
	logger    *slog.Logger
	now       func() time.Time
	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithRefreshInterval sets the recompute cadence. Non-positive values are ignored.
func WithRefreshInterval(d time.Duration) RefresherOption {
	return func(r *Refresher) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithWinnerDetection makes every pass record winners of running experiments.
func WithWinnerDetection(enabled bool) RefresherOption {
	return func(r *Refresher) {
		r.detect = enabled
	}
}

// WithRefresherLogger sets the logger. Nil loggers are ignored.
func WithRefresherLogger(l *slog.Logger) RefresherOption {
	return func(r *Refresher) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRefresher creates a refresher over analyzer.
// Panics if analyzer is nil to fail fast during initialization.
func NewRefresher(analyzer *Analyzer, opts ...RefresherOption) *Refresher {
	if analyzer == nil {
		panic("experiment: Analyzer is required")
	}
	r := &Refresher{
		analyzer:  analyzer,
		interval:  DefaultRefreshInterval,
		logger:    slog.Default(),
		now:       time.Now,
		snapshots: make(map[string]Snapshot),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run refreshes immediately, then on every tick until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.refreshAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("statistics refresher shutting down")
			return ctx.Err()
		case <-ticker.C:
			r.refreshAndLog(ctx)
		}
	}
}

func (r *Refresher) refreshAndLog(ctx context.Context) {
	start := r.now()
	if err := r.Refresh(ctx); err != nil {
		r.logger.ErrorContext(ctx, "statistics refresh failed",
			logger.Component("refresher"),
			logger.Error(err),
		)
		return
	}
	r.logger.DebugContext(ctx, "statistics refreshed",
		logger.Component("refresher"),
		logger.Duration(r.now().Sub(start)),
	)
}

// Refresh recomputes every running or paused experiment once. A failing
// experiment keeps its previous snapshot; all failures are returned joined.
func (r *Refresher) Refresh(ctx context.Context) error {
	active, err := r.analyzer.engine.List(ctx, StatusRunning, StatusPaused)
	if err != nil {
		return err
	}

	var errs []error
	for _, exp := range active {
		if err := ctx.Err(); err != nil {
			return err
		}
		snap, err := r.refreshOne(ctx, exp)
		if err != nil {
			errs = append(errs, errors.Join(errors.New(exp.ID), err))
			continue
		}
		r.mu.Lock()
		r.snapshots[exp.ID] = snap
		r.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (r *Refresher) refreshOne(ctx context.Context, exp *Experiment) (Snapshot, error) {
	results, err := r.analyzer.compute(ctx, exp)
	if err != nil {
		return Snapshot{}, err
	}

	winner := exp.WinningVariant
	if r.detect && exp.Status == StatusRunning {
		if w, ok := stats.DetectWinner(results, r.analyzer.opts.config); ok && w != winner {
			if _, err := r.analyzer.engine.setWinner(ctx, exp.ID, w); err != nil {
				return Snapshot{}, err
			}
			winner = w
			r.logger.InfoContext(ctx, "experiment winner detected",
				logger.ExperimentID(exp.ID),
				logger.Variant(w),
			)
		}
	}

	return Snapshot{
		ExperimentID:   exp.ID,
		Status:         exp.Status,
		Variants:       results,
		WinningVariant: winner,
		ComputedAt:     r.now(),
	}, nil
}

// Snapshot returns the last statistics computed for experimentID.
func (r *Refresher) Snapshot(experimentID string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.snapshots[experimentID]
	return snap, ok
}
