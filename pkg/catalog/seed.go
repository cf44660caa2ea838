package catalog

import (
	"context"
	"errors"

	"github.com/dmitrymomot/featurelab/pkg/feature"
)

// FlagAdmin is the subset of feature.Admin seeding needs.
type FlagAdmin interface {
	Flag(ctx context.Context, name string) (*feature.Flag, error)
	UpsertFlag(ctx context.Context, flag feature.Flag) (*feature.Flag, error)
}

// SeedReport lists what Seed did per feature.
type SeedReport struct {
	Created []string
	// Existing flags are left as they are; runtime state wins over defaults.
	Existing []string
}

// Seed creates a runtime flag for every definition that has none, parents
// first. Existing flags are never modified.
func Seed(ctx context.Context, c *Catalog, admin FlagAdmin) (*SeedReport, error) {
	report := &SeedReport{}
	for _, d := range c.ordered {
		_, err := admin.Flag(ctx, d.Name)
		if err == nil {
			report.Existing = append(report.Existing, d.Name)
			continue
		}
		if !errors.Is(err, feature.ErrFlagNotFound) {
			return report, err
		}
		if _, err := admin.UpsertFlag(ctx, d.Flag()); err != nil {
			return report, errors.Join(errors.New(d.Name), err)
		}
		report.Created = append(report.Created, d.Name)
	}
	return report, nil
}
