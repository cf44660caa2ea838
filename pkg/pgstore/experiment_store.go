package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/featurelab/pkg/experiment"
	"github.com/dmitrymomot/featurelab/pkg/pg"
)

var (
	_ experiment.Store           = (*ExperimentStore)(nil)
	_ experiment.AssignmentStore = (*ExperimentStore)(nil)
)

const experimentColumns = `id, name, COALESCE(feature_name, ''), status, variants, allocation,
	COALESCE(winning_variant, ''), started_at, stopped_at, created_at, updated_at, version`

// ExperimentStore keeps experiments and their assignments in PostgreSQL.
type ExperimentStore struct {
	db DB
}

// NewExperimentStore creates an experiment store.
// Panics if db is nil to fail fast during initialization.
func NewExperimentStore(db DB) *ExperimentStore {
	if db == nil {
		panic("pgstore: DB is required")
	}
	return &ExperimentStore{db: db}
}

func scanExperiment(row pgx.Row) (*experiment.Experiment, error) {
	var (
		e      experiment.Experiment
		status string
	)
	err := row.Scan(&e.ID, &e.Name, &e.FeatureName, &status, &e.Variants, &e.Allocation,
		&e.WinningVariant, &e.StartedAt, &e.StoppedAt, &e.CreatedAt, &e.UpdatedAt, &e.Version)
	if err != nil {
		return nil, err
	}
	e.Status = experiment.Status(status)
	return &e, nil
}

func (s *ExperimentStore) CreateExperiment(ctx context.Context, exp *experiment.Experiment) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO experiments (id, name, feature_name, status, variants, allocation,
			winning_variant, started_at, stopped_at, created_at, updated_at, version)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11, GREATEST($12, 1))`,
		exp.ID, exp.Name, exp.FeatureName, string(exp.Status), exp.Variants, exp.Allocation,
		exp.WinningVariant, exp.StartedAt, exp.StoppedAt, exp.CreatedAt, exp.UpdatedAt, exp.Version)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return errors.Join(experiment.ErrExperimentExists, errors.New(exp.ID))
		}
		return fmt.Errorf("create experiment %q: %w", exp.ID, err)
	}
	return nil
}

func (s *ExperimentStore) GetExperiment(ctx context.Context, id string) (*experiment.Experiment, error) {
	exp, err := scanExperiment(s.db.QueryRow(ctx,
		`SELECT `+experimentColumns+` FROM experiments WHERE id = $1`, id))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, experiment.ErrExperimentNotFound
		}
		return nil, fmt.Errorf("get experiment %q: %w", id, err)
	}
	return exp, nil
}

func (s *ExperimentStore) ListExperiments(ctx context.Context, statuses ...experiment.Status) ([]*experiment.Experiment, error) {
	filter := make([]string, 0, len(statuses))
	for _, st := range statuses {
		filter = append(filter, string(st))
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+experimentColumns+`
		FROM experiments
		WHERE cardinality($1::text[]) = 0 OR status = ANY($1)
		ORDER BY created_at, id`, filter)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*experiment.Experiment, error) {
		return scanExperiment(row)
	})
}

// UpdateExperiment writes exp only while the stored version matches the one
// exp was read with.
func (s *ExperimentStore) UpdateExperiment(ctx context.Context, exp *experiment.Experiment) error {
	var version int64
	err := s.db.QueryRow(ctx, `
		UPDATE experiments SET
			name = $2, feature_name = NULLIF($3, ''), status = $4, variants = $5, allocation = $6,
			winning_variant = NULLIF($7, ''), started_at = $8, stopped_at = $9, updated_at = $10,
			version = version + 1
		WHERE id = $1 AND version = $11
		RETURNING version`,
		exp.ID, exp.Name, exp.FeatureName, string(exp.Status), exp.Variants, exp.Allocation,
		exp.WinningVariant, exp.StartedAt, exp.StoppedAt, exp.UpdatedAt, exp.Version,
	).Scan(&version)
	switch {
	case err == nil:
		exp.Version = version
		return nil
	case !pg.IsNotFoundError(err):
		return fmt.Errorf("update experiment %q: %w", exp.ID, err)
	}

	var exists bool
	if err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM experiments WHERE id = $1)`, exp.ID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("update experiment %q: %w", exp.ID, err)
	}
	if exists {
		return experiment.ErrConcurrentUpdate
	}
	return experiment.ErrExperimentNotFound
}

func (s *ExperimentStore) GetAssignment(ctx context.Context, experimentID, userID string) (*experiment.Assignment, error) {
	a := experiment.Assignment{ExperimentID: experimentID, UserID: userID}
	err := s.db.QueryRow(ctx, `
		SELECT variant, assigned_at FROM experiment_assignments
		WHERE experiment_id = $1 AND user_id = $2`, experimentID, userID,
	).Scan(&a.Variant, &a.AssignedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, experiment.ErrAssignmentNotFound
		}
		return nil, fmt.Errorf("get assignment %q/%q: %w", experimentID, userID, err)
	}
	return &a, nil
}

// InsertAssignmentIfAbsent relies on the (experiment_id, user_id) primary
// key. When the insert loses to a concurrent writer the row is re-read in a
// new statement so that the committed winner is visible.
func (s *ExperimentStore) InsertAssignmentIfAbsent(ctx context.Context, a *experiment.Assignment) (*experiment.Assignment, error) {
	stored := *a
	err := s.db.QueryRow(ctx, `
		INSERT INTO experiment_assignments (experiment_id, user_id, variant, assigned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (experiment_id, user_id) DO NOTHING
		RETURNING variant, assigned_at`,
		a.ExperimentID, a.UserID, a.Variant, a.AssignedAt,
	).Scan(&stored.Variant, &stored.AssignedAt)
	switch {
	case err == nil:
		return &stored, nil
	case pg.IsNotFoundError(err):
		return s.GetAssignment(ctx, a.ExperimentID, a.UserID)
	case pg.IsForeignKeyViolationError(err):
		return nil, experiment.ErrExperimentNotFound
	default:
		return nil, fmt.Errorf("insert assignment %q/%q: %w", a.ExperimentID, a.UserID, err)
	}
}

func (s *ExperimentStore) CountAssignments(ctx context.Context, experimentID string) (map[string]int64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT variant, count(*) FROM experiment_assignments
		WHERE experiment_id = $1
		GROUP BY variant`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("count assignments of %q: %w", experimentID, err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			variant string
			n       int64
		)
		if err := rows.Scan(&variant, &n); err != nil {
			return nil, fmt.Errorf("count assignments of %q: %w", experimentID, err)
		}
		counts[variant] = n
	}
	return counts, rows.Err()
}
