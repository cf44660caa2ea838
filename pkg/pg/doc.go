// Package pg bootstraps the PostgreSQL connection used by the flag and
// experiment stores.
//
// Config is populated from PG_* environment variables. Connect opens a
// pgx/v5 pool with retries, Migrate applies the schema embedded in this
// package with goose, and Healthcheck returns a probe for readiness
// endpoints.
//
//	var cfg pg.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//	if err := pg.Migrate(ctx, pool, cfg, slog.Default()); err != nil {
//		return err
//	}
//
// The error helpers classify driver errors (no rows, unique and foreign key
// violations) so that stores can translate them into domain errors.
package pg
