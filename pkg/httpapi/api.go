package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/featurelab/pkg/catalog"
	"github.com/dmitrymomot/featurelab/pkg/experiment"
	"github.com/dmitrymomot/featurelab/pkg/feature"
	"github.com/dmitrymomot/featurelab/pkg/httpserver"
	"github.com/dmitrymomot/featurelab/pkg/logger"
	"github.com/dmitrymomot/featurelab/pkg/requestid"
)

// API exposes evaluation, experimentation and administration over HTTP.
type API struct {
	evaluator *feature.Evaluator
	admin     *feature.Admin
	engine    *experiment.Engine
	recorder  *experiment.Recorder
	analyzer  *experiment.Analyzer

	refresher    *experiment.Refresher
	catalog      *catalog.Catalog
	checks       []httpserver.Check
	checkTimeout time.Duration
	logger       *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger. Nil loggers are ignored.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithRefresher exposes cached statistics snapshots.
func WithRefresher(r *experiment.Refresher) Option {
	return func(a *API) { a.refresher = r }
}

// WithCatalog exposes the feature catalog.
func WithCatalog(c *catalog.Catalog) Option {
	return func(a *API) { a.catalog = c }
}

// WithHealthChecks sets the readiness probes served on /readyz.
func WithHealthChecks(timeout time.Duration, checks ...httpserver.Check) Option {
	return func(a *API) {
		a.checkTimeout = timeout
		a.checks = append(a.checks, checks...)
	}
}

// New creates the API.
// Panics if any service is nil to fail fast during initialization.
func New(
	evaluator *feature.Evaluator,
	admin *feature.Admin,
	engine *experiment.Engine,
	recorder *experiment.Recorder,
	analyzer *experiment.Analyzer,
	opts ...Option,
) *API {
	if evaluator == nil || admin == nil || engine == nil || recorder == nil || analyzer == nil {
		panic("httpapi: evaluator, admin, engine, recorder and analyzer are required")
	}
	a := &API{
		evaluator:    evaluator,
		admin:        admin,
		engine:       engine,
		recorder:     recorder,
		analyzer:     analyzer,
		checkTimeout: 2 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Router builds the HTTP handler.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(a.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/livez", httpserver.HealthCheckHandler(a.logger, 0))
	r.Get("/readyz", httpserver.HealthCheckHandler(a.logger, a.checkTimeout, a.checks...))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/users/{userID}/features", wrap(a, a.evaluateAll, bindPath, bindQuery))
		r.Get("/users/{userID}/features/{name}", wrap(a, a.evaluate, bindPath, bindQuery))

		r.Post("/experiments/{id}/assignments", wrap(a, a.assign, bindJSON, bindPath))
		r.Post("/experiments/{id}/events", wrap(a, a.recordEvent, bindJSON, bindPath))

		r.Route("/admin", func(r chi.Router) {
			r.Get("/flags", wrap(a, a.listFlags))
			r.Get("/flags/{name}", wrap(a, a.getFlag, bindPath))
			r.Put("/flags/{name}", wrap(a, a.upsertFlag, bindJSON, bindPath))
			r.Delete("/flags/{name}", wrap(a, a.deleteFlag, bindPath))
			r.Post("/flags/{name}/enabled", wrap(a, a.setEnabled, bindJSON, bindPath))
			r.Post("/flags/{name}/rollout", wrap(a, a.setRollout, bindJSON, bindPath))
			r.Post("/flags/{name}/toggle-tree", wrap(a, a.toggleTree, bindJSON, bindPath))
			r.Put("/flags/{name}/overrides/{userID}", wrap(a, a.setOverride, bindJSON, bindPath))
			r.Delete("/flags/{name}/overrides/{userID}", wrap(a, a.removeOverride, bindPath))

			r.Get("/experiments", wrap(a, a.listExperiments, bindQuery))
			r.Post("/experiments", wrap(a, a.createExperiment, bindJSON))
			r.Get("/experiments/{id}", wrap(a, a.getExperiment, bindPath))
			r.Put("/experiments/{id}/allocation", wrap(a, a.updateAllocation, bindJSON, bindPath))
			r.Post("/experiments/{id}/start", wrap(a, a.transition(experiment.ActionStart), bindPath))
			r.Post("/experiments/{id}/pause", wrap(a, a.transition(experiment.ActionPause), bindPath))
			r.Post("/experiments/{id}/stop", wrap(a, a.transition(experiment.ActionStop), bindPath))
			r.Get("/experiments/{id}/statistics", wrap(a, a.statistics, bindPath))
			r.Post("/experiments/{id}/winner", wrap(a, a.detectWinner, bindPath))
			if a.refresher != nil {
				r.Get("/experiments/{id}/snapshot", wrap(a, a.snapshot, bindPath))
			}

			if a.catalog != nil {
				r.Get("/catalog", wrap(a, a.listCatalog, bindQuery))
				r.Get("/catalog/{name}", wrap(a, a.getDefinition, bindPath))
			}
		})
	})
	return r
}

// handlerFunc is a typed endpoint. R is filled by the route's binders.
type handlerFunc[R any] func(ctx context.Context, req R) (response, error)

// wrap adapts a typed endpoint to net/http: it runs the binders in order,
// calls h and renders either its response or its error.
func wrap[R any](a *API, h handlerFunc[R], binders ...binder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req R
		for _, bind := range binders {
			if err := bind(r, &req); err != nil {
				a.fail(w, r, err)
				return
			}
		}

		res, err := h(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		if err := res.render(w); err != nil {
			a.logger.ErrorContext(r.Context(), "failed to write response", logger.Component("httpapi"), logger.Error(err))
		}
	}
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	message := err.Error()
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		message = http.StatusText(status)
		level = slog.LevelError
	}

	a.logger.LogAttrs(r.Context(), level, "request failed",
		logger.Component("httpapi"),
		logger.Error(err),
		slog.Int("status", status),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)
	_ = writeJSON(w, status, envelope{Error: &errorDetail{Code: code, Message: message}})
}

func (a *API) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		a.logger.DebugContext(r.Context(), "http request",
			logger.Component("httpapi"),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			logger.Duration(time.Since(start)),
		)
	})
}
