package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/featurelab/pkg/catalog"
	"github.com/dmitrymomot/featurelab/pkg/config"
	"github.com/dmitrymomot/featurelab/pkg/experiment"
	"github.com/dmitrymomot/featurelab/pkg/feature"
	"github.com/dmitrymomot/featurelab/pkg/httpapi"
	"github.com/dmitrymomot/featurelab/pkg/httpserver"
	"github.com/dmitrymomot/featurelab/pkg/logger"
	"github.com/dmitrymomot/featurelab/pkg/mongo"
	"github.com/dmitrymomot/featurelab/pkg/pg"
	"github.com/dmitrymomot/featurelab/pkg/pgstore"
	"github.com/dmitrymomot/featurelab/pkg/redis"
	"github.com/dmitrymomot/featurelab/pkg/requestid"
	"github.com/dmitrymomot/featurelab/pkg/stats"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("featurelabd stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	if files := existingFiles(".env", ".env.local"); len(files) > 0 {
		if err := config.LoadEnv(files...); err != nil {
			return err
		}
	}

	var (
		app    appConfig
		pgCfg  pg.Config
		rdCfg  redis.Config
		mgCfg  mongo.Config
		srvCfg httpserver.Config
	)
	for _, load := range []func() error{
		func() error { return config.Load(&app) },
		func() error { return config.Load(&pgCfg) },
		func() error { return config.Load(&rdCfg) },
		func() error { return config.Load(&mgCfg) },
		func() error { return config.Load(&srvCfg) },
	} {
		if err := load(); err != nil {
			return err
		}
	}
	if err := app.validate(); err != nil {
		return err
	}

	logOpts := []logger.Option{
		logger.WithEnvironment(app.Env, app.Service),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	}
	if app.LogLevel != "" {
		logOpts = append(logOpts, logger.WithLevelName(app.LogLevel))
	}
	log := logger.New(logOpts...)
	logger.SetAsDefault(log)

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
		return err
	}
	checks := []httpserver.Check{{Name: "postgres", Probe: pg.Healthcheck(pool)}}

	featureStore := pgstore.NewFeatureStore(pool)
	experimentStore := pgstore.NewExperimentStore(pool)
	var (
		cache       feature.Cache              = feature.NoopCache{}
		assignments experiment.AssignmentStore = experimentStore
		events      experiment.EventLog        = pgstore.NewEventLog(pool)
	)

	if app.RedisEnabled {
		client, err := redis.Connect(ctx, rdCfg)
		if err != nil {
			return err
		}
		defer client.Close()
		checks = append(checks, httpserver.Check{Name: "redis", Probe: redis.Healthcheck(client)})
		cache = redis.NewEvaluationCache(client,
			redis.WithCachePrefix(rdCfg.KeyPrefix),
			redis.WithCacheTTL(rdCfg.EvalCacheTTL),
			redis.WithCacheLogger(log),
		)
		if app.AssignmentBackend == "redis" {
			assignments = redis.NewAssignmentStore(client, rdCfg.KeyPrefix)
		}
	}

	if app.EventBackend == "mongo" {
		db, err := mongo.NewWithDatabase(ctx, mgCfg)
		if err != nil {
			return err
		}
		defer func() { _ = db.Client().Disconnect(context.WithoutCancel(ctx)) }()
		mongoEvents := mongo.NewEventLog(db.Collection(mgCfg.EventsColl))
		if err := mongoEvents.EnsureIndexes(ctx); err != nil {
			return err
		}
		events = mongoEvents
		checks = append(checks, httpserver.Check{Name: "mongo", Probe: mongo.Healthcheck(db.Client())})
	}

	evaluator := feature.NewEvaluator(featureStore, feature.WithCache(cache), feature.WithLogger(log))
	admin := feature.NewAdmin(featureStore, feature.WithCache(cache), feature.WithLogger(log))

	var cat *catalog.Catalog
	if app.CatalogPath != "" {
		if cat, err = catalog.LoadFile(app.CatalogPath); err != nil {
			return err
		}
		report, err := catalog.Seed(ctx, cat, admin)
		if err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
		log.InfoContext(ctx, "feature catalog seeded",
			logger.Component("catalog"),
			slog.Int("created", len(report.Created)),
			slog.Int("existing", len(report.Existing)),
		)
	}

	engine := experiment.NewEngine(experimentStore, assignments,
		experiment.WithLogger(log),
		experiment.WithAssignmentCacheSize(app.AssignmentCacheSize),
		experiment.WithFeatureValidator(func(ctx context.Context, name string) error {
			_, err := admin.Flag(ctx, name)
			return err
		}),
	)
	recorder := experiment.NewRecorder(engine, events, experiment.WithRecorderLogger(log))
	if _, ok := recorder.EventTypes()[app.ConversionEvent]; !ok {
		return fmt.Errorf("STATS_CONVERSION_EVENT=%q is not a registered event type", app.ConversionEvent)
	}
	statsCfg := stats.DefaultConfig()
	statsCfg.MinParticipants = app.MinParticipants
	analyzer := experiment.NewAnalyzer(engine, events, recorder.EventTypes(),
		experiment.WithAnalyzerLogger(log),
		experiment.WithStatsConfig(statsCfg),
		experiment.WithConversionEvent(app.ConversionEvent),
	)
	refresher := experiment.NewRefresher(analyzer,
		experiment.WithRefreshInterval(app.RefreshInterval),
		experiment.WithWinnerDetection(app.DetectWinners),
		experiment.WithRefresherLogger(log),
	)

	apiOpts := []httpapi.Option{
		httpapi.WithLogger(log),
		httpapi.WithRefresher(refresher),
		httpapi.WithHealthChecks(app.ReadinessTimeout, checks...),
	}
	if cat != nil {
		apiOpts = append(apiOpts, httpapi.WithCatalog(cat))
	}
	api := httpapi.New(evaluator, admin, engine, recorder, analyzer, apiOpts...)
	server := httpserver.NewFromConfig(srvCfg, httpserver.WithLogger(log))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return refresher.Run(ctx) })
	g.Go(func() error {
		err := server.Run(ctx, api.Router())
		if err == nil {
			// The server stopped on a signal of its own; bring the rest down.
			return context.Canceled
		}
		return err
	})
	return g.Wait()
}

func existingFiles(paths ...string) []string {
	var found []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			found = append(found, p)
		}
	}
	return found
}
