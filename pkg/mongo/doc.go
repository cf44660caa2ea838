// Package mongo connects to MongoDB and provides a MongoDB-backed
// conversion event log.
//
// Configuration is environment driven through Config. New retries the
// initial connection and ping according to RetryAttempts and RetryInterval,
// and Healthcheck wraps a client into a probe function.
//
// # Event log
//
// EventLog implements experiment.EventLog on a single collection. Each
// event becomes one document. First-occurrence events carry
// first_occurrence=true and are deduplicated by a unique partial index, so
// concurrent duplicates resolve to a single stored document:
//
//	db, err := mongo.NewWithDatabase(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	events := mongo.NewEventLog(db.Collection(cfg.EventsColl))
//	if err := events.EnsureIndexes(ctx); err != nil {
//		return err
//	}
//	recorder := experiment.NewRecorder(engine, events)
//
// Aggregate groups by (variant, user) and then by variant, returning the
// distinct user count, event count and value sum per variant.
package mongo
