package catalog

import (
	"errors"
	"fmt"
	"slices"

	"github.com/dmitrymomot/featurelab/pkg/feature"
)

// Category groups related features for administration.
type Category string

const (
	CategoryWorkout      Category = "workout"
	CategorySocial       Category = "social"
	CategoryGamification Category = "gamification"
	CategorySubscription Category = "subscription"
	CategoryAnalytics    Category = "analytics"
	CategoryAdmin        Category = "admin"
	CategoryGeneral      Category = "general"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryWorkout, CategorySocial, CategoryGamification, CategorySubscription,
		CategoryAnalytics, CategoryAdmin, CategoryGeneral:
		return true
	}
	return false
}

// Definition is the curated description of a feature.
type Definition struct {
	Name        string   `yaml:"name" json:"name"`
	Category    Category `yaml:"category" json:"category"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	// DefaultAudience and DefaultRolloutPercentage seed the runtime flag.
	DefaultAudience          feature.Audience `yaml:"audience" json:"audience"`
	DefaultRolloutPercentage int              `yaml:"rollout" json:"rollout"`
	DefaultEnabled           bool             `yaml:"enabled" json:"enabled"`
	Parent                   string           `yaml:"parent,omitempty" json:"parent,omitempty"`
	// Dependencies are features that must also be enabled for this one to
	// make sense.
	Dependencies []string `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
}

// Flag returns the runtime flag seeded from d.
func (d Definition) Flag() feature.Flag {
	return feature.Flag{
		Name:              d.Name,
		Enabled:           d.DefaultEnabled,
		RolloutPercentage: d.DefaultRolloutPercentage,
		Audience:          d.DefaultAudience,
		Parent:            d.Parent,
	}
}

// Catalog is an immutable, validated set of definitions.
type Catalog struct {
	// ordered lists definitions parents first, then by name.
	ordered []Definition
	byName  map[string]int
}

// New validates defs and builds a catalog. Missing categories default to
// general and missing audiences to all.
func New(defs ...Definition) (*Catalog, error) {
	byName := make(map[string]Definition, len(defs))
	for _, d := range defs {
		if d.Category == "" {
			d.Category = CategoryGeneral
		}
		if d.DefaultAudience == "" {
			d.DefaultAudience = feature.AudienceAll
		}
		if err := validateDefinition(d); err != nil {
			return nil, err
		}
		if _, dup := byName[d.Name]; dup {
			return nil, errors.Join(ErrInvalidDefinition, fmt.Errorf("duplicate feature %q", d.Name))
		}
		d.Dependencies = slices.Clone(d.Dependencies)
		byName[d.Name] = d
	}

	for _, d := range byName {
		if d.Parent != "" {
			if _, ok := byName[d.Parent]; !ok {
				return nil, errors.Join(ErrInvalidDefinition, fmt.Errorf("feature %q: unknown parent %q", d.Name, d.Parent))
			}
		}
		for _, dep := range d.Dependencies {
			if _, ok := byName[dep]; !ok {
				return nil, errors.Join(ErrInvalidDefinition, fmt.Errorf("feature %q: unknown dependency %q", d.Name, dep))
			}
		}
	}

	ordered, err := parentFirst(byName)
	if err != nil {
		return nil, err
	}
	if err := checkDependencyCycles(byName); err != nil {
		return nil, err
	}

	c := &Catalog{ordered: ordered, byName: make(map[string]int, len(ordered))}
	for i, d := range ordered {
		c.byName[d.Name] = i
	}
	return c, nil
}

// Lookup returns the definition named name.
func (c *Catalog) Lookup(name string) (Definition, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Definition{}, false
	}
	return clone(c.ordered[i]), true
}

// All returns every definition, parents before their children.
func (c *Catalog) All() []Definition {
	out := make([]Definition, len(c.ordered))
	for i, d := range c.ordered {
		out[i] = clone(d)
	}
	return out
}

// ByCategory returns the definitions of one category in catalog order.
func (c *Catalog) ByCategory(category Category) []Definition {
	var out []Definition
	for _, d := range c.ordered {
		if d.Category == category {
			out = append(out, clone(d))
		}
	}
	return out
}

// Len returns the number of definitions.
func (c *Catalog) Len() int {
	return len(c.ordered)
}

// DependenciesOf returns the transitive dependencies of name, sorted.
func (c *Catalog) DependenciesOf(name string) []string {
	seen := make(map[string]struct{})
	var walk func(string)
	walk = func(n string) {
		i, ok := c.byName[n]
		if !ok {
			return
		}
		for _, dep := range c.ordered[i].Dependencies {
			if _, done := seen[dep]; done {
				continue
			}
			seen[dep] = struct{}{}
			walk(dep)
		}
	}
	walk(name)

	out := make([]string, 0, len(seen))
	for dep := range seen {
		out = append(out, dep)
	}
	slices.Sort(out)
	return out
}

func clone(d Definition) Definition {
	d.Dependencies = slices.Clone(d.Dependencies)
	return d
}

func validateDefinition(d Definition) error {
	if d.Name == "" {
		return errors.Join(ErrInvalidDefinition, errors.New("feature name is required"))
	}
	if !d.Category.Valid() {
		return errors.Join(ErrInvalidDefinition, fmt.Errorf("feature %q: unknown category %q", d.Name, d.Category))
	}
	if !d.DefaultAudience.Valid() {
		return errors.Join(ErrInvalidDefinition, fmt.Errorf("feature %q: unknown audience %q", d.Name, d.DefaultAudience))
	}
	if d.DefaultRolloutPercentage < 0 || d.DefaultRolloutPercentage > 100 {
		return errors.Join(ErrInvalidDefinition, fmt.Errorf("feature %q: rollout %d out of range", d.Name, d.DefaultRolloutPercentage))
	}
	if d.Parent == d.Name {
		return errors.Join(ErrInvalidDefinition, fmt.Errorf("feature %q is its own parent", d.Name))
	}
	if slices.Contains(d.Dependencies, d.Name) {
		return errors.Join(ErrInvalidDefinition, fmt.Errorf("feature %q depends on itself", d.Name))
	}
	return nil
}

// parentFirst orders definitions so every parent precedes its children,
// breaking ties by name. It fails on parent cycles.
func parentFirst(byName map[string]Definition) ([]Definition, error) {
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	slices.Sort(names)

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(byName))
	ordered := make([]Definition, 0, len(byName))

	var visit func(string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return errors.Join(ErrInvalidDefinition, fmt.Errorf("parent cycle through %q", name))
		}
		state[name] = visiting
		if parent := byName[name].Parent; parent != "" {
			if err := visit(parent); err != nil {
				return err
			}
		}
		state[name] = done
		ordered = append(ordered, byName[name])
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

func checkDependencyCycles(byName map[string]Definition) error {
	state := make(map[string]int, len(byName))
	var visit func(string) error
	visit = func(name string) error {
		switch state[name] {
		case 2:
			return nil
		case 1:
			return errors.Join(ErrInvalidDefinition, fmt.Errorf("dependency cycle through %q", name))
		}
		state[name] = 1
		for _, dep := range byName[name].Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[name] = 2
		return nil
	}
	for name := range byName {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}
