// Package catalog holds the curated registry of known features.
//
// A Catalog is pure data: definitions with a category, default audience,
// default rollout, optional parent and dependencies. It is validated once at
// construction (unique names, known parents and dependencies, no cycles)
// and never changes afterwards.
//
// Catalogs are usually kept in YAML next to the deployment and loaded with
// LoadFile. Seed bootstraps runtime flags from the defaults without touching
// flags an operator has already configured.
package catalog
