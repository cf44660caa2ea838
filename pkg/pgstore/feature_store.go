package pgstore

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/featurelab/pkg/feature"
	"github.com/dmitrymomot/featurelab/pkg/pg"
)

var (
	_ feature.Store      = (*FeatureStore)(nil)
	_ feature.BatchStore = (*FeatureStore)(nil)
)

const flagColumns = `name, enabled, rollout_percentage, audience, COALESCE(parent, ''), created_at, updated_at`

// FeatureStore keeps flags and overrides in PostgreSQL.
type FeatureStore struct {
	db DB
}

// NewFeatureStore creates a flag store.
// Panics if db is nil to fail fast during initialization.
func NewFeatureStore(db DB) *FeatureStore {
	if db == nil {
		panic("pgstore: DB is required")
	}
	return &FeatureStore{db: db}
}

func scanFlag(row pgx.Row) (*feature.Flag, error) {
	var f feature.Flag
	err := row.Scan(&f.Name, &f.Enabled, &f.RolloutPercentage, &f.Audience, &f.Parent, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func collectFlags(rows pgx.Rows) ([]*feature.Flag, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*feature.Flag, error) {
		return scanFlag(row)
	})
}

func (s *FeatureStore) GetFlag(ctx context.Context, name string) (*feature.Flag, error) {
	f, err := scanFlag(s.db.QueryRow(ctx,
		`SELECT `+flagColumns+` FROM feature_flags WHERE name = $1`, name))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, feature.ErrFlagNotFound
		}
		return nil, fmt.Errorf("get flag %q: %w", name, err)
	}
	return f, nil
}

func (s *FeatureStore) ListFlags(ctx context.Context) ([]*feature.Flag, error) {
	rows, err := s.db.Query(ctx, `SELECT `+flagColumns+` FROM feature_flags ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}
	return collectFlags(rows)
}

func (s *FeatureStore) ListChildren(ctx context.Context, parent string) ([]*feature.Flag, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+flagColumns+` FROM feature_flags WHERE parent = $1 ORDER BY name`, parent)
	if err != nil {
		return nil, fmt.Errorf("list children of %q: %w", parent, err)
	}
	return collectFlags(rows)
}

func (s *FeatureStore) UpsertFlag(ctx context.Context, flag *feature.Flag) error {
	if flag == nil || flag.Name == "" {
		return errors.Join(feature.ErrInvalidFlag, errors.New("flag name cannot be empty"))
	}
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if flag.Parent != "" {
			if err := checkAncestry(ctx, tx, flag.Name, flag.Parent); err != nil {
				return err
			}
		}
		return upsertFlag(ctx, tx, flag)
	})
	if err != nil {
		if pg.IsForeignKeyViolationError(err) {
			return errors.Join(feature.ErrInvalidFlag, fmt.Errorf("parent %q does not exist", flag.Parent))
		}
		if errors.Is(err, feature.ErrCyclicParent) {
			return err
		}
		return fmt.Errorf("upsert flag %q: %w", flag.Name, err)
	}
	return nil
}

// hierarchyLock serializes writes that set a parent for the rest of the
// transaction.
const hierarchyLock = `SELECT pg_advisory_xact_lock(hashtext('feature_flags.parent'))`

// maxAncestry bounds the parent walk.
const maxAncestry = 64

func checkAncestry(ctx context.Context, tx pgx.Tx, name, parent string) error {
	if _, err := tx.Exec(ctx, hierarchyLock); err != nil {
		return err
	}
	var cyclic bool
	err := tx.QueryRow(ctx, `
		WITH RECURSIVE chain (name, parent, depth) AS (
			SELECT name, parent, 1 FROM feature_flags WHERE name = $1
			UNION ALL
			SELECT f.name, f.parent, c.depth + 1
			FROM feature_flags f
			JOIN chain c ON f.name = c.parent
			WHERE c.depth < $3
		)
		SELECT EXISTS (SELECT 1 FROM chain WHERE name = $2)`,
		parent, name, maxAncestry,
	).Scan(&cyclic)
	if err != nil {
		return err
	}
	if cyclic || parent == name {
		return errors.Join(feature.ErrCyclicParent,
			fmt.Errorf("%q cannot be a descendant of itself", name))
	}
	return nil
}

func upsertFlag(ctx context.Context, tx pgx.Tx, flag *feature.Flag) error {
	return tx.QueryRow(ctx, `
		INSERT INTO feature_flags (name, enabled, rollout_percentage, audience, parent)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		ON CONFLICT (name) DO UPDATE SET
			enabled            = EXCLUDED.enabled,
			rollout_percentage = EXCLUDED.rollout_percentage,
			audience           = EXCLUDED.audience,
			parent             = EXCLUDED.parent,
			updated_at         = now()
		RETURNING created_at, updated_at`,
		flag.Name, flag.Enabled, flag.RolloutPercentage, string(flag.Audience), flag.Parent,
	).Scan(&flag.CreatedAt, &flag.UpdatedAt)
}

func (s *FeatureStore) DeleteFlag(ctx context.Context, name string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM feature_flags WHERE name = $1`, name)
	if err != nil {
		if pg.IsForeignKeyViolationError(err) {
			return errors.Join(feature.ErrHasChildren, errors.New(name))
		}
		return fmt.Errorf("delete flag %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return feature.ErrFlagNotFound
	}
	return nil
}

func (s *FeatureStore) SetEnabled(ctx context.Context, name string, enabled bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE feature_flags SET enabled = $2, updated_at = now() WHERE name = $1`, name, enabled)
	if err != nil {
		return fmt.Errorf("set enabled on %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return feature.ErrFlagNotFound
	}
	return nil
}

func (s *FeatureStore) SetRollout(ctx context.Context, name string, percentage int) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE feature_flags SET rollout_percentage = $2, updated_at = now() WHERE name = $1`, name, percentage)
	if err != nil {
		return fmt.Errorf("set rollout on %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return feature.ErrFlagNotFound
	}
	return nil
}

// SetEnabledMany updates every named flag in one transaction and rolls back
// if any name is unknown.
func (s *FeatureStore) SetEnabledMany(ctx context.Context, names []string, enabled bool) error {
	unique := slices.Clone(names)
	slices.Sort(unique)
	unique = slices.Compact(unique)

	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE feature_flags SET enabled = $2, updated_at = now()
			WHERE name = ANY($1)
			RETURNING name`, unique, enabled)
		if err != nil {
			return fmt.Errorf("set enabled on %d flags: %w", len(unique), err)
		}
		updated, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("set enabled on %d flags: %w", len(unique), err)
		}
		if len(updated) == len(unique) {
			return nil
		}
		for _, name := range unique {
			if !slices.Contains(updated, name) {
				return errors.Join(feature.ErrFlagNotFound, errors.New(name))
			}
		}
		return nil
	})
}

func (s *FeatureStore) GetOverride(ctx context.Context, userID, featureName string) (*feature.Override, error) {
	o := feature.Override{UserID: userID, FeatureName: featureName}
	err := s.db.QueryRow(ctx, `
		SELECT enabled, COALESCE(variant, '')
		FROM feature_overrides
		WHERE user_id = $1 AND feature_name = $2`, userID, featureName,
	).Scan(&o.Enabled, &o.Variant)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, feature.ErrOverrideNotFound
		}
		return nil, fmt.Errorf("get override %q/%q: %w", userID, featureName, err)
	}
	return &o, nil
}

func (s *FeatureStore) SetOverride(ctx context.Context, override *feature.Override) error {
	if override == nil || override.UserID == "" || override.FeatureName == "" {
		return errors.Join(feature.ErrInvalidFlag, errors.New("override requires user id and feature name"))
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO feature_overrides (user_id, feature_name, enabled, variant)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		ON CONFLICT (user_id, feature_name) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			variant = EXCLUDED.variant`,
		override.UserID, override.FeatureName, override.Enabled, override.Variant)
	if err != nil {
		if pg.IsForeignKeyViolationError(err) {
			return feature.ErrFlagNotFound
		}
		return fmt.Errorf("set override %q/%q: %w", override.UserID, override.FeatureName, err)
	}
	return nil
}

func (s *FeatureStore) DeleteOverride(ctx context.Context, userID, featureName string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM feature_overrides WHERE user_id = $1 AND feature_name = $2`, userID, featureName)
	if err != nil {
		return fmt.Errorf("delete override %q/%q: %w", userID, featureName, err)
	}
	if tag.RowsAffected() == 0 {
		return feature.ErrOverrideNotFound
	}
	return nil
}
