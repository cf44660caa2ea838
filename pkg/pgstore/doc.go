// Package pgstore implements the flag, experiment, assignment and event
// stores on PostgreSQL through pgx/v5.
//
// The schema is created by pg.Migrate. Uniqueness guarantees the domain
// relies on are enforced by the database: assignments by the
// (experiment_id, user_id) primary key, first-occurrence events by a partial
// unique index, and flag hierarchy references by a foreign key.
//
// All stores accept any DB, which *pgxpool.Pool satisfies.
package pgstore
